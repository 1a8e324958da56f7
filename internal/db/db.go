package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"basebox-backend/internal/common"
)

// Open 按引擎打开数据库并自动迁移 KV 表
func Open(engine, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch engine {
	case common.StoreMySQL:
		dialector = mysql.Open(dsn)
	case common.StoreSQLite:
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}
		dialector = sqlite.Open(dsn + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	default:
		return nil, fmt.Errorf("unsupported sql engine: %s", engine)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if engine == common.StoreSQLite {
		// sqlite 单写者
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := gdb.AutoMigrate(&KVString{}, &KVSetMember{}, &KVZSetMember{}); err != nil {
		return nil, fmt.Errorf("failed to migrate kv tables: %w", err)
	}
	common.WithFields(map[string]interface{}{"engine": engine}).Info("connected to sql store")
	return gdb, nil
}
