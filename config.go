package main

import (
	"context"
	"fmt"
	"os"

	"basebox-backend/internal/common"
	"basebox-backend/internal/db"
	"basebox-backend/internal/kv"
)

// loadConfig --config 优先，其次 BASEBOX_CONFIG
func loadConfig(path string) (*common.Config, error) {
	if path == "" {
		path = os.Getenv("BASEBOX_CONFIG")
	}
	cfg, err := common.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := common.InitLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	cfg.Print()
	return cfg, nil
}

// openStore 按配置选择存储引擎
func openStore(ctx context.Context, cfg *common.Config) (kv.Store, error) {
	switch cfg.Store.Engine {
	case common.StoreRedis:
		return kv.OpenRedis(ctx, cfg.Store.RedisURL)
	case common.StoreMySQL:
		gdb, err := db.Open(common.StoreMySQL, cfg.Store.MySQLDSN)
		if err != nil {
			return nil, err
		}
		return db.NewSQLStore(gdb), nil
	case common.StoreSQLite:
		gdb, err := db.Open(common.StoreSQLite, cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		return db.NewSQLStore(gdb), nil
	default:
		return nil, fmt.Errorf("unsupported store engine: %q", cfg.Store.Engine)
	}
}
