package capsule

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"basebox-backend/internal/common"
)

const maxIDAttempts = 16

// Events 胶囊生命周期回调，返回新解锁的成就 id
type Events interface {
	OnCapsuleCreated(ctx context.Context, c *Capsule) ([]string, error)
	OnCapsuleRevealed(ctx context.Context, c *Capsule) ([]string, error)
}

type Service struct {
	repo   *Repo
	cfg    common.CapsuleConfig
	events Events
	now    func() time.Time
}

func NewService(repo *Repo, cfg common.CapsuleConfig) *Service {
	return &Service{repo: repo, cfg: cfg, now: time.Now}
}

func (s *Service) SetEvents(events Events) {
	s.events = events
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Now 毫秒精度 UTC
func (s *Service) Now() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// Result 写操作结果，附带新解锁的成就
type Result struct {
	Capsule      *Capsule
	Achievements []string
}

// Create 校验后写入胶囊和用户索引；索引写失败时尽量删除已写入的胶囊
func (s *Service) Create(ctx context.Context, in CreateInput) (*Result, error) {
	v, err := validateCreate(in, s.cfg)
	if err != nil {
		return nil, err
	}

	created := s.Now()
	lockMillis := int64(v.duration * dayMillis)
	c := &Capsule{
		FID:       v.fid,
		Message:   v.message,
		Image:     v.image,
		ImageType: v.imageType,
	}

	reserved := false
	millis := created.UnixMilli()
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		c.ID = FormatID(c.FID, millis)
		c.CreatedAt = time.UnixMilli(millis).UTC()
		c.UnlockDate = time.UnixMilli(millis + lockMillis).UTC()
		ok, err := s.repo.Reserve(ctx, c)
		if err != nil {
			return nil, common.NewInternal("Failed to create capsule", err)
		}
		if ok {
			reserved = true
			break
		}
		millis++
	}
	if !reserved {
		return nil, common.NewConflict("Too many capsules created at once, please retry")
	}

	if err := s.repo.Index(ctx, c); err != nil {
		if rmErr := s.repo.Remove(ctx, c); rmErr != nil {
			common.WithFields(logrus.Fields{"capsule_id": c.ID, "error": rmErr}).Error("rollback capsule failed")
		}
		return nil, common.NewInternal("Failed to create capsule", err)
	}

	common.WithFields(logrus.Fields{
		"capsule_id": c.ID,
		"fid":        c.FID,
		"has_image":  c.HasImage(),
		"unlock":     c.UnlockDate.Format(time.RFC3339),
	}).Info("capsule created")

	res := &Result{Capsule: c}
	if s.events != nil {
		res.Achievements = s.notify(ctx, c, s.events.OnCapsuleCreated)
	}
	return res, nil
}

func (s *Service) List(ctx context.Context, fid int64) ([]*Capsule, error) {
	if fid <= 0 {
		return nil, common.NewInvalid("fid is required")
	}
	capsules, err := s.repo.ByOwner(ctx, fid)
	if err != nil {
		return nil, common.NewInternal("Failed to fetch capsules", err)
	}
	return capsules, nil
}

// Get 只有本人能查看
func (s *Service) Get(ctx context.Context, fid int64, id string) (*Capsule, error) {
	if fid <= 0 {
		return nil, common.NewInvalid("fid is required")
	}
	c, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.FID != fid {
		return nil, common.NewNotFound("Capsule not found")
	}
	return c, nil
}

// Find 按 id 读取，不做权限检查
func (s *Service) Find(ctx context.Context, id string) (*Capsule, error) {
	if id == "" {
		return nil, common.NewInvalid("Capsule ID is required")
	}
	c, ok, err := s.repo.Load(ctx, id)
	if err != nil {
		return nil, common.NewInternal("Failed to fetch capsule", err)
	}
	if !ok {
		return nil, common.NewNotFound("Capsule not found")
	}
	return c, nil
}

// Image 到期后才能取图片
func (s *Service) Image(ctx context.Context, id string) ([]byte, string, error) {
	c, err := s.Find(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !c.IsRevealed(s.Now()) {
		return nil, "", common.NewForbidden("Capsule is still locked")
	}
	if !c.HasImage() {
		return nil, "", common.NewNotFound("Capsule has no image")
	}
	data, err := DecodeImage(c)
	if err != nil {
		return nil, "", common.NewInternal("Failed to decode image", err)
	}
	return data, c.ImageType, nil
}

// Reveal 用户揭晓，需已到期
func (s *Service) Reveal(ctx context.Context, fid int64, id string) (*Result, error) {
	c, err := s.Get(ctx, fid, id)
	if err != nil {
		return nil, err
	}
	if c.Revealed {
		return nil, common.NewInvalid("Capsule already revealed")
	}
	if !c.IsUnlocked(s.Now()) {
		return nil, common.NewInvalid("Capsule is still locked")
	}
	return s.flip(ctx, c)
}

// ForceReveal 后台强制揭晓，不看到期时间
func (s *Service) ForceReveal(ctx context.Context, id string) (*Result, error) {
	c, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Revealed {
		return nil, common.NewInvalid("Capsule already revealed")
	}
	return s.flip(ctx, c)
}

func (s *Service) flip(ctx context.Context, c *Capsule) (*Result, error) {
	ok, err := s.repo.claimReveal(ctx, c.ID)
	if err != nil {
		return nil, common.NewInternal("Failed to reveal capsule", err)
	}
	if !ok {
		return nil, common.NewInvalid("Capsule already revealed")
	}

	now := s.Now()
	c.Revealed = true
	c.RevealedAt = &now
	if err := s.repo.Save(ctx, c); err != nil {
		if relErr := s.repo.releaseReveal(ctx, c.ID); relErr != nil {
			common.WithFields(logrus.Fields{"capsule_id": c.ID, "error": relErr}).Error("release reveal guard failed")
		}
		return nil, common.NewInternal("Failed to reveal capsule", err)
	}
	common.WithFields(logrus.Fields{"capsule_id": c.ID, "fid": c.FID}).Info("capsule revealed")

	res := &Result{Capsule: c}
	if s.events != nil {
		res.Achievements = s.notify(ctx, c, s.events.OnCapsuleRevealed)
	}
	return res, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	c, err := s.Find(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Remove(ctx, c); err != nil {
		return common.NewInternal("Failed to delete capsule", err)
	}
	common.WithFields(logrus.Fields{"capsule_id": c.ID, "fid": c.FID}).Info("capsule deleted")
	return nil
}

func (s *Service) ListAll(ctx context.Context) ([]*Capsule, error) {
	capsules, err := s.repo.All(ctx)
	if err != nil {
		return nil, common.NewInternal("Failed to fetch capsules", err)
	}
	return capsules, nil
}

// Stats fid 为 0 时统计全部
func (s *Service) Stats(ctx context.Context, fid int64) (Stats, error) {
	var (
		capsules []*Capsule
		err      error
	)
	if fid > 0 {
		capsules, err = s.List(ctx, fid)
	} else {
		capsules, err = s.ListAll(ctx)
	}
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(capsules, s.Now()), nil
}

// DueForNotification 已到期但还没发过通知的胶囊
func (s *Service) DueForNotification(ctx context.Context) ([]*Capsule, error) {
	capsules, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	now := s.Now()
	due := make([]*Capsule, 0)
	for _, c := range capsules {
		if c.UnlockNotifiedAt == nil && c.IsUnlocked(now) {
			due = append(due, c)
		}
	}
	return due, nil
}

// MarkNotified 标记已发过解锁通知，重复标记保留第一次的时间
func (s *Service) MarkNotified(ctx context.Context, id string) error {
	_, err := s.repo.markNotified(ctx, id, s.Now())
	return err
}

// notify 成就回调失败不影响主流程
func (s *Service) notify(ctx context.Context, c *Capsule, fn func(context.Context, *Capsule) ([]string, error)) []string {
	unlocked, err := fn(ctx, c)
	if err != nil {
		common.WithFields(logrus.Fields{"capsule_id": c.ID, "error": err}).Warn("capsule event hook failed")
		return nil
	}
	return unlocked
}
