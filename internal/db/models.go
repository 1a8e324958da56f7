package db

import (
	"time"
)

// KVString 字符串值，ExpiresAt 为空表示不过期
type KVString struct {
	Key       string     `gorm:"column:kv_key;primaryKey;size:191" json:"key"`
	Value     string     `gorm:"type:longtext" json:"value"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (KVString) TableName() string {
	return "kv_strings"
}

// KVSetMember 集合成员
type KVSetMember struct {
	Key    string `gorm:"column:kv_key;primaryKey;size:191" json:"key"`
	Member string `gorm:"primaryKey;size:191" json:"member"`
}

func (KVSetMember) TableName() string {
	return "kv_set_members"
}

// KVZSetMember 有序集合成员，排行榜使用
type KVZSetMember struct {
	Key    string  `gorm:"column:kv_key;primaryKey;size:191;index:idx_zset_score,priority:1" json:"key"`
	Member string  `gorm:"primaryKey;size:191" json:"member"`
	Score  float64 `gorm:"index:idx_zset_score,priority:2" json:"score"`
}

func (KVZSetMember) TableName() string {
	return "kv_zset_members"
}
