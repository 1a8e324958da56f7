package common

import (
	"fmt"
	"os"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreRedis  = "redis"
	StoreMySQL  = "mysql"
	StoreSQLite = "sqlite"
)

type Config struct {
	Env       string          `mapstructure:"env"`
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Season    SeasonConfig    `mapstructure:"season"`
	Streak    StreakConfig    `mapstructure:"streak"`
	Capsule   CapsuleConfig   `mapstructure:"capsule"`
	Farcaster FarcasterConfig `mapstructure:"farcaster"`
	App       AppConfig       `mapstructure:"app"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Legacy    LegacyConfig    `mapstructure:"legacy"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type StoreConfig struct {
	Engine     string `mapstructure:"engine"`
	RedisURL   string `mapstructure:"redis_url"`
	MySQLDSN   string `mapstructure:"mysql_dsn"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type AdminConfig struct {
	Password   string        `mapstructure:"password"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

type SeasonConfig struct {
	DefaultID string       `mapstructure:"default_id"`
	Start     string       `mapstructure:"start"`
	Seasons   []SeasonSpec `mapstructure:"seasons"`
}

// SeasonSpec 单个赛季，Days 为 0 表示不设结束
type SeasonSpec struct {
	ID    string `mapstructure:"id"`
	Start string `mapstructure:"start"`
	Days  int    `mapstructure:"days"`
}

type StreakConfig struct {
	XPPerClaim    int           `mapstructure:"xp_per_claim"`
	ClaimGuardTTL time.Duration `mapstructure:"claim_guard_ttl"`
}

type CapsuleConfig struct {
	MaxMessageChars int `mapstructure:"max_message_chars"`
	MaxImageBytes   int `mapstructure:"max_image_bytes"`
	MaxDurationDays int `mapstructure:"max_duration_days"`
}

type FarcasterConfig struct {
	NeynarAPIKey  string `mapstructure:"neynar_api_key"`
	NeynarBaseURL string `mapstructure:"neynar_base_url"`
	CastKeyword   string `mapstructure:"cast_keyword"`
	RequireCast   bool   `mapstructure:"require_cast"`
}

type AppConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Name    string `mapstructure:"name"`
}

type ChainConfig struct {
	RPCURL          string `mapstructure:"rpc_url"`
	ChainID         uint64 `mapstructure:"chain_id"`
	ContractAddress string `mapstructure:"contract_address"`
	FeeRecipient    string `mapstructure:"fee_recipient"`
}

type SchedulerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	UnlockCron   string `mapstructure:"unlock_cron"`
	ReminderCron string `mapstructure:"reminder_cron"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type LegacyConfig struct {
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// envAliases 兼容旧的环境变量名
var envAliases = map[string][]string{
	"admin.password":           {"ADMIN_PASSWORD"},
	"store.mysql_dsn":          {"MYSQL_DSN"},
	"store.redis_url":          {"REDIS_URL", "KV_URL"},
	"farcaster.neynar_api_key": {"NEYNAR_API_KEY"},
	"app.base_url":             {"NEXT_PUBLIC_URL"},
	"chain.rpc_url":            {"RPC_URL"},
	"chain.contract_address":   {"CONTRACT_ADDRESS", "NEXT_PUBLIC_CONTRACT_ADDRESS"},
	"legacy.postgres_dsn":      {"DATABASE_URL"},
	"server.port":              {"PORT"},
	"env":                      {"APP_ENV"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", EnvDevelopment)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("store.engine", StoreRedis)
	v.SetDefault("store.redis_url", "redis://127.0.0.1:6379/0")
	v.SetDefault("store.mysql_dsn", "")
	v.SetDefault("store.sqlite_path", "data/basebox.db")
	v.SetDefault("admin.password", "")
	v.SetDefault("admin.session_ttl", DefaultAdminSessionTTL)
	v.SetDefault("season.default_id", DefaultSeasonID)
	v.SetDefault("season.start", DefaultSeasonStart)
	v.SetDefault("streak.xp_per_claim", DefaultXPPerClaim)
	v.SetDefault("streak.claim_guard_ttl", DefaultClaimGuardTTL)
	v.SetDefault("capsule.max_message_chars", DefaultMaxMessageChars)
	v.SetDefault("capsule.max_image_bytes", DefaultMaxImageBytes)
	v.SetDefault("capsule.max_duration_days", DefaultMaxDurationDays)
	v.SetDefault("farcaster.neynar_api_key", "")
	v.SetDefault("farcaster.neynar_base_url", DefaultNeynarBaseURL)
	v.SetDefault("farcaster.cast_keyword", DefaultCastKeyword)
	v.SetDefault("farcaster.require_cast", true)
	v.SetDefault("app.base_url", "http://localhost:3000")
	v.SetDefault("app.name", AppName)
	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.chain_id", 8453)
	v.SetDefault("chain.contract_address", "")
	v.SetDefault("chain.fee_recipient", "")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.unlock_cron", DefaultUnlockCron)
	v.SetDefault("scheduler.reminder_cron", DefaultReminderCron)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("legacy.postgres_dsn", "")
}

// LoadConfig 读取配置：.env -> 默认值 -> 配置文件 -> 环境变量
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("BASEBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, aliases := range envAliases {
		names := append([]string{"BASEBOX_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, aliases...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.Store.Engine = strings.ToLower(strings.TrimSpace(c.Store.Engine))
	c.App.BaseURL = strings.TrimRight(strings.TrimSpace(c.App.BaseURL), "/")
	if len(c.Season.Seasons) == 0 {
		c.Season.Seasons = []SeasonSpec{{ID: c.Season.DefaultID, Start: c.Season.Start}}
	}
}

// Validate 只做存在性与格式检查
func (c *Config) Validate() error {
	switch c.Store.Engine {
	case StoreRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required for engine %s", c.Store.Engine)
		}
	case StoreMySQL:
		if c.Store.MySQLDSN == "" {
			return fmt.Errorf("store.mysql_dsn is required for engine %s", c.Store.Engine)
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for engine %s", c.Store.Engine)
		}
	default:
		return fmt.Errorf("unsupported store engine: %q", c.Store.Engine)
	}

	if c.Chain.ContractAddress != "" && !ethcommon.IsHexAddress(c.Chain.ContractAddress) {
		return fmt.Errorf("chain.contract_address is not a valid address: %s", c.Chain.ContractAddress)
	}
	if c.Chain.FeeRecipient != "" && !ethcommon.IsHexAddress(c.Chain.FeeRecipient) {
		return fmt.Errorf("chain.fee_recipient is not a valid address: %s", c.Chain.FeeRecipient)
	}

	seen := make(map[string]bool, len(c.Season.Seasons))
	for _, s := range c.Season.Seasons {
		if s.ID == "" {
			return fmt.Errorf("season id is required")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate season id: %s", s.ID)
		}
		seen[s.ID] = true
		if _, err := time.Parse(time.RFC3339, s.Start); err != nil {
			return fmt.Errorf("season %s start must be RFC3339: %w", s.ID, err)
		}
		if s.Days < 0 {
			return fmt.Errorf("season %s days must not be negative", s.ID)
		}
	}
	if !seen[c.Season.DefaultID] {
		return fmt.Errorf("default season %q is not configured", c.Season.DefaultID)
	}
	return nil
}

// IsProduction 生产环境不向客户端暴露错误细节
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Print 打印关键配置，敏感字段只显示是否存在
func (c *Config) Print() {
	WithFields(map[string]interface{}{
		"env":            c.Env,
		"port":           c.Server.Port,
		"store_engine":   c.Store.Engine,
		"default_season": c.Season.DefaultID,
		"seasons":        len(c.Season.Seasons),
		"admin_password": c.Admin.Password != "",
		"neynar_api_key": c.Farcaster.NeynarAPIKey != "",
		"require_cast":   c.Farcaster.RequireCast,
		"scheduler":      c.Scheduler.Enabled,
	}).Info("config loaded")
}
