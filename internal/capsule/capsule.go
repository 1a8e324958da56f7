// Package capsule 时间胶囊：锁定一段文字和可选图片，到期后才能查看。
package capsule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dayMillis = float64(24 * time.Hour / time.Millisecond)

// Capsule 持久化在 capsule:{id}，图片以 base64 内联存储
type Capsule struct {
	ID               string     `json:"id"`
	FID              int64      `json:"fid"`
	Message          string     `json:"message"`
	Image            string     `json:"image,omitempty"`
	ImageType        string     `json:"imageType,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UnlockDate       time.Time  `json:"unlockDate"`
	Revealed         bool       `json:"revealed"`
	RevealedAt       *time.Time `json:"revealedAt,omitempty"`
	UnlockNotifiedAt *time.Time `json:"unlockNotifiedAt,omitempty"`
}

// IsUnlocked 到期时间已过
func (c *Capsule) IsUnlocked(now time.Time) bool {
	return !c.UnlockDate.After(now)
}

// IsRevealed 展示状态：手动揭晓过或已到期
func (c *Capsule) IsRevealed(now time.Time) bool {
	return c.Revealed || c.IsUnlocked(now)
}

func (c *Capsule) HasImage() bool {
	return c.Image != ""
}

// LockDays 锁定时长（天）
func (c *Capsule) LockDays() float64 {
	return float64(c.UnlockDate.Sub(c.CreatedAt).Milliseconds()) / dayMillis
}

// View 返回给客户端的胶囊，不带图片原文
type View struct {
	ID         string    `json:"id"`
	FID        int64     `json:"fid"`
	Message    string    `json:"message,omitempty"`
	HasImage   bool      `json:"hasImage"`
	ImageType  string    `json:"imageType,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UnlockDate time.Time `json:"unlockDate"`
	Revealed   bool      `json:"revealed"`
	Locked     bool      `json:"locked"`
}

// ToView withhold 为 true 时锁定中的胶囊不返回内容
func (c *Capsule) ToView(now time.Time, withhold bool) View {
	revealed := c.IsRevealed(now)
	v := View{
		ID:         c.ID,
		FID:        c.FID,
		Message:    c.Message,
		HasImage:   c.HasImage(),
		ImageType:  c.ImageType,
		CreatedAt:  c.CreatedAt,
		UnlockDate: c.UnlockDate,
		Revealed:   revealed,
		Locked:     !revealed,
	}
	if withhold && !revealed {
		v.Message = ""
	}
	return v
}

func Views(capsules []*Capsule, now time.Time, withhold bool) []View {
	out := make([]View, 0, len(capsules))
	for _, c := range capsules {
		out = append(out, c.ToView(now, withhold))
	}
	return out
}

type Stats struct {
	TotalCapsules      int `json:"totalCapsules"`
	LockedCapsules     int `json:"lockedCapsules"`
	RevealedCapsules   int `json:"revealedCapsules"`
	CapsulesWithImages int `json:"capsulesWithImages"`
	UniqueUsers        int `json:"uniqueUsers"`
}

// ComputeStats 揭晓状态与列表接口同一口径
func ComputeStats(capsules []*Capsule, now time.Time) Stats {
	users := make(map[int64]struct{})
	st := Stats{TotalCapsules: len(capsules)}
	for _, c := range capsules {
		if c.IsRevealed(now) {
			st.RevealedCapsules++
		} else {
			st.LockedCapsules++
		}
		if c.HasImage() {
			st.CapsulesWithImages++
		}
		users[c.FID] = struct{}{}
	}
	st.UniqueUsers = len(users)
	return st
}

func FormatID(fid int64, createdMillis int64) string {
	return fmt.Sprintf("%d-%d", fid, createdMillis)
}

// ParseID 拆分 {fid}-{毫秒}
func ParseID(id string) (int64, int64, bool) {
	parts := strings.Split(id, "-")
	if len(parts) != 2 {
		return 0, 0, false
	}
	fid, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || fid <= 0 {
		return 0, 0, false
	}
	millis, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || millis <= 0 {
		return 0, 0, false
	}
	return fid, millis, true
}
