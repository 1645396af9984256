package infra

import (
	"fmt"
	"time"

	"legalai/internal/config"
	"legalai/internal/logger"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var globalDB *gorm.DB

// InitDatabase 连接 PostgreSQL；debug 为 true 时记录全部 SQL，否则只记录慢查询与错误
func InitDatabase(cfg *config.DatabaseConfig, debug bool) (*gorm.DB, error) {
	db, err := openDatabase(postgres.Open(cfg.GetDSN()), cfg, debug)
	if err != nil {
		return nil, err
	}
	logger.Info("数据库连接成功",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.DBName),
	)
	globalDB = db
	return db, nil
}

// openDatabase 按连接池参数打开任意方言的连接并探活
func openDatabase(dialector gorm.Dialector, cfg *config.DatabaseConfig, debug bool) (*gorm.DB, error) {
	level := gormLogger.Warn
	if debug {
		level = gormLogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  NewGormLogger(logger.OrNop().Named("gorm"), level, 200*time.Millisecond),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("打开数据库连接失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取 SQL DB 失败: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}
	return db, nil
}

// AutoMigrate 迁移给定模型
func AutoMigrate(db *gorm.DB, models ...any) error {
	start := time.Now()
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	logger.OrNop().Info("数据库迁移完成",
		zap.Int("models", len(models)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// EnsureVectorExtension 启用 pgvector 扩展，非 PostgreSQL 方言直接跳过
func EnsureVectorExtension(db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("启用 pgvector 扩展失败: %w", err)
	}
	return nil
}

// CloseDatabase 关闭 InitDatabase 打开的连接
func CloseDatabase() error {
	if globalDB == nil {
		return nil
	}
	sqlDB, err := globalDB.DB()
	if err != nil {
		return err
	}
	globalDB = nil
	return sqlDB.Close()
}
