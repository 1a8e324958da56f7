package farcaster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"basebox-backend/internal/common"
	"basebox-backend/internal/kv"
)

// 客户端对标题和正文的长度限制
const (
	maxTitleChars = 32
	maxBodyChars  = 128
)

var (
	ErrNotificationsDisabled = errors.New("notifications are not enabled")
	ErrInvalidToken          = errors.New("notification token is invalid")
	ErrRateLimited           = errors.New("notification rate limited")
)

// Notification 发给用户的一条通知，ID 相同的通知客户端会去重
type Notification struct {
	ID        string
	Title     string
	Body      string
	TargetURL string
}

type sendRequest struct {
	NotificationID string   `json:"notificationId"`
	Title          string   `json:"title"`
	Body           string   `json:"body"`
	TargetURL      string   `json:"targetUrl"`
	Tokens         []string `json:"tokens"`
}

type sendResponse struct {
	Result struct {
		SuccessfulTokens  []string `json:"successfulTokens"`
		InvalidTokens     []string `json:"invalidTokens"`
		RateLimitedTokens []string `json:"rateLimitedTokens"`
	} `json:"result"`
}

// Notifier 保存通知地址并发送通知
type Notifier struct {
	store      kv.Store
	appURL     string
	httpClient *http.Client
}

func NewNotifier(store kv.Store, appURL string, httpClient *http.Client) *Notifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Notifier{store: store, appURL: appURL, httpClient: httpClient}
}

func (n *Notifier) SaveDetails(ctx context.Context, fid int64, d NotificationDetails) error {
	if err := kv.SetJSON(ctx, n.store, kv.UserNotificationsKey(fid), d, 0); err != nil {
		return err
	}
	_, err := n.store.SAdd(ctx, kv.NotificationsEnabledKey, kv.FIDMember(fid))
	return err
}

func (n *Notifier) DropDetails(ctx context.Context, fid int64) error {
	if _, err := n.store.Del(ctx, kv.UserNotificationsKey(fid)); err != nil {
		return err
	}
	_, err := n.store.SRem(ctx, kv.NotificationsEnabledKey, kv.FIDMember(fid))
	return err
}

func (n *Notifier) Details(ctx context.Context, fid int64) (*NotificationDetails, error) {
	var d NotificationDetails
	ok, err := kv.GetJSON(ctx, n.store, kv.UserNotificationsKey(fid), &d)
	if err != nil || !ok {
		return nil, err
	}
	return &d, nil
}

// Enabled 开启了通知的用户
func (n *Notifier) Enabled(ctx context.Context) ([]int64, error) {
	members, err := n.store.SMembers(ctx, kv.NotificationsEnabledKey)
	if err != nil {
		return nil, err
	}
	fids := make([]int64, 0, len(members))
	for _, m := range members {
		fid, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		fids = append(fids, fid)
	}
	return fids, nil
}

func (n *Notifier) IsEnabled(ctx context.Context, fid int64) (bool, error) {
	return n.store.SIsMember(ctx, kv.NotificationsEnabledKey, kv.FIDMember(fid))
}

// Send 发送通知，token 失效时删除保存的地址
func (n *Notifier) Send(ctx context.Context, fid int64, msg Notification) error {
	d, err := n.Details(ctx, fid)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrNotificationsDisabled
	}

	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.TargetURL == "" {
		msg.TargetURL = n.appURL
	}
	reqBody := sendRequest{
		NotificationID: msg.ID,
		Title:          clip(msg.Title, maxTitleChars),
		Body:           clip(msg.Body, maxBodyChars),
		TargetURL:      msg.TargetURL,
		Tokens:         []string{d.Token},
	}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read notification response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notification endpoint returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed sendResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("decode notification response: %w", err)
	}
	log := common.WithFields(logrus.Fields{"fid": fid, "notification_id": msg.ID})
	if len(parsed.Result.InvalidTokens) > 0 {
		if err := n.DropDetails(ctx, fid); err != nil {
			log.WithField("error", err).Warn("drop invalid notification token failed")
		}
		return ErrInvalidToken
	}
	if len(parsed.Result.RateLimitedTokens) > 0 {
		return ErrRateLimited
	}
	log.Debug("notification sent")
	return nil
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
