package db

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"basebox-backend/internal/kv"
)

const notExpired = "(expires_at IS NULL OR expires_at > ?)"

// SQLStore 用关系库模拟键值存储，MySQL 与 SQLite 共用
type SQLStore struct {
	db  *gorm.DB
	now func() time.Time
}

var _ kv.Store = (*SQLStore)(nil)

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// WithClock 测试里替换时钟以验证过期
func (s *SQLStore) WithClock(now func() time.Time) *SQLStore {
	s.now = now
	return s
}

func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var rows []KVString
	err := s.db.WithContext(ctx).
		Where("kv_key = ? AND "+notExpired, key, s.clock()).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return "", false, err
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return rows[0].Value, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	row := s.stringRow(key, value, ttl)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kv_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(&row).Error
}

func (s *SQLStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	stored := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 先清掉已过期的旧值，否则会挡住新写入
		if err := tx.Where("kv_key = ? AND expires_at IS NOT NULL AND expires_at <= ?", key, s.clock()).
			Delete(&KVString{}).Error; err != nil {
			return err
		}
		row := s.stringRow(key, value, ttl)
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		stored = res.RowsAffected == 1
		return nil
	})
	return stored, err
}

func (s *SQLStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, key := range keys {
			existed := false

			res := tx.Where("kv_key = ? AND "+notExpired, key, s.clock()).Delete(&KVString{})
			if res.Error != nil {
				return res.Error
			}
			existed = existed || res.RowsAffected > 0
			if err := tx.Where("kv_key = ?", key).Delete(&KVString{}).Error; err != nil {
				return err
			}

			res = tx.Where("kv_key = ?", key).Delete(&KVSetMember{})
			if res.Error != nil {
				return res.Error
			}
			existed = existed || res.RowsAffected > 0

			res = tx.Where("kv_key = ?", key).Delete(&KVZSetMember{})
			if res.Error != nil {
				return res.Error
			}
			existed = existed || res.RowsAffected > 0

			if existed {
				deleted++
			}
		}
		return nil
	})
	return deleted, err
}

func (s *SQLStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeLike(prefix) + "%"
	seen := make(map[string]bool)
	var keys []string
	collect := func(found []string) {
		for _, k := range found {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}

	var found []string
	if err := s.db.WithContext(ctx).Model(&KVString{}).
		Where("kv_key LIKE ? ESCAPE '!' AND "+notExpired, pattern, s.clock()).
		Pluck("kv_key", &found).Error; err != nil {
		return nil, err
	}
	collect(found)

	for _, model := range []interface{}{&KVSetMember{}, &KVZSetMember{}} {
		found = nil
		if err := s.db.WithContext(ctx).Model(model).
			Where("kv_key LIKE ? ESCAPE '!'", pattern).
			Distinct().
			Pluck("kv_key", &found).Error; err != nil {
			return nil, err
		}
		collect(found)
	}
	return keys, nil
}

func (s *SQLStore) SAdd(ctx context.Context, key string, members ...string) (int64, error) {
	members = uniqueStrings(members)
	if len(members) == 0 {
		return 0, nil
	}
	rows := make([]KVSetMember, 0, len(members))
	for _, m := range members {
		rows = append(rows, KVSetMember{Key: key, Member: m})
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	return res.RowsAffected, res.Error
}

func (s *SQLStore) SRem(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("kv_key = ? AND member IN ?", key, members).Delete(&KVSetMember{})
	return res.RowsAffected, res.Error
}

func (s *SQLStore) SMembers(ctx context.Context, key string) ([]string, error) {
	members := []string{}
	err := s.db.WithContext(ctx).Model(&KVSetMember{}).
		Where("kv_key = ?", key).
		Order("member asc").
		Pluck("member", &members).Error
	return members, err
}

func (s *SQLStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&KVSetMember{}).
		Where("kv_key = ? AND member = ?", key, member).
		Count(&count).Error
	return count > 0, err
}

func (s *SQLStore) ZAdd(ctx context.Context, key, member string, score float64) error {
	row := KVZSetMember{Key: key, Member: member, Score: score}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kv_key"}, {Name: "member"}},
		DoUpdates: clause.AssignmentColumns([]string{"score"}),
	}).Create(&row).Error
}

func (s *SQLStore) ZRevRange(ctx context.Context, key string, start, stop int64) ([]kv.ZMember, error) {
	if start < 0 {
		start = 0
	}
	q := s.db.WithContext(ctx).
		Where("kv_key = ?", key).
		Order("score desc, member desc").
		Offset(int(start))
	if stop >= 0 {
		if stop < start {
			return []kv.ZMember{}, nil
		}
		q = q.Limit(int(stop - start + 1))
	}

	var rows []KVZSetMember
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	members := make([]kv.ZMember, 0, len(rows))
	for _, r := range rows {
		members = append(members, kv.ZMember{Member: r.Member, Score: r.Score})
	}
	return members, nil
}

func (s *SQLStore) ZRevRank(ctx context.Context, key, member string) (int64, bool, error) {
	score, ok, err := s.ZScore(ctx, key, member)
	if err != nil || !ok {
		return 0, false, err
	}
	var ahead int64
	err = s.db.WithContext(ctx).Model(&KVZSetMember{}).
		Where("kv_key = ? AND (score > ? OR (score = ? AND member > ?))", key, score, score, member).
		Count(&ahead).Error
	if err != nil {
		return 0, false, err
	}
	return ahead, true, nil
}

func (s *SQLStore) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	var rows []KVZSetMember
	err := s.db.WithContext(ctx).
		Where("kv_key = ? AND member = ?", key, member).
		Limit(1).
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return 0, false, err
	}
	return rows[0].Score, true, nil
}

func (s *SQLStore) ZCard(ctx context.Context, key string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&KVZSetMember{}).Where("kv_key = ?", key).Count(&count).Error
	return count, err
}

// ZIncrBy 单条 upsert 完成累加，并发写不会丢失
func (s *SQLStore) ZIncrBy(ctx context.Context, key, member string, delta float64) (float64, error) {
	row := KVZSetMember{Key: key, Member: member, Score: delta}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kv_key"}, {Name: "member"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"score": gorm.Expr("score + ?", delta)}),
	}).Create(&row).Error
	if err != nil {
		return 0, err
	}
	score, _, err := s.ZScore(ctx, key, member)
	return score, err
}

// ZAddMax 先尝试插入，已存在时用带条件的 UPDATE 只增不减
func (s *SQLStore) ZAddMax(ctx context.Context, key, member string, score float64) error {
	row := KVZSetMember{Key: key, Member: member, Score: score}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil || res.RowsAffected > 0 {
		return res.Error
	}
	return s.db.WithContext(ctx).Model(&KVZSetMember{}).
		Where("kv_key = ? AND member = ? AND score < ?", key, member, score).
		Update("score", score).Error
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStore) stringRow(key, value string, ttl time.Duration) KVString {
	now := s.clock()
	row := KVString{Key: key, Value: value, UpdatedAt: now}
	if ttl > 0 {
		expires := now.Add(ttl)
		row.ExpiresAt = &expires
	}
	return row
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// 统一用 UTC，sqlite 里时间按字符串比较
func (s *SQLStore) clock() time.Time {
	return s.now().UTC()
}
