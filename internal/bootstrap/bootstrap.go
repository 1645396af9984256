// Package bootstrap 负责进程启动阶段的环境变量、配置、日志与存储初始化，
// HTTP 服务与命令行工具共用。
package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"legalai/api"
	"legalai/internal/chat"
	"legalai/internal/config"
	"legalai/internal/evaluation"
	"legalai/internal/infra"
	"legalai/internal/logger"
	"legalai/internal/rag"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Runtime 已初始化的基础设施与应用容器
type Runtime struct {
	Env       string
	Config    *config.Config
	DB        *gorm.DB
	Redis     redis.UniversalClient
	Container *api.AppContainer
}

// Start 加载 .env 和配置，初始化日志、数据库、Redis 并组装容器；
// Redis 不可用时以进程内队列运行。override 在配置加载后、组装前调整配置
func Start(override func(*config.Config)) (*Runtime, error) {
	LoadEnvFile()

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "dev"
	}

	cfg, err := config.Load(env, os.Getenv("APP_CONFIG"))
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if override != nil {
		override(cfg)
	}

	if err := logger.Init(logger.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.OutputPath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	db, err := infra.InitDatabase(&cfg.Database, cfg.Server.Mode == "debug")
	if err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := RunMigrations(db, cfg); err != nil {
			return nil, err
		}
	} else {
		logger.Info("跳过自动迁移（配置已禁用）")
	}

	cfg.Redis = cfg.Redis.Normalize()
	rdb, err := infra.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Warn("Redis 不可用，入库与评估将在进程内同步执行", zap.Error(err))
		rdb = nil
	}

	container, err := api.InitContainer(db, rdb, cfg, logger.Get())
	if err != nil {
		return nil, fmt.Errorf("初始化应用容器失败: %w", err)
	}

	return &Runtime{Env: env, Config: cfg, DB: db, Redis: rdb, Container: container}, nil
}

// Close 释放容器、Redis 与数据库连接
func (r *Runtime) Close() {
	if r.Container != nil {
		r.Container.Close()
	}
	if r.Redis != nil {
		if err := infra.CloseRedis(); err != nil {
			logger.Error("Redis 关闭异常", zap.Error(err))
		}
	}
	if err := infra.CloseDatabase(); err != nil {
		logger.Error("数据库关闭异常", zap.Error(err))
	}
	_ = logger.Sync()
}

// RunMigrations 迁移知识库、会话与评估表；pgvector 存储需先启用扩展
func RunMigrations(db *gorm.DB, cfg *config.Config) error {
	if !strings.EqualFold(cfg.RAG.VectorStore.Type, "qdrant") {
		if err := infra.EnsureVectorExtension(db); err != nil {
			return err
		}
	}

	models := append([]any{}, rag.AllModels()...)
	models = append(models, chat.AllModels()...)
	models = append(models, evaluation.AllModels()...)
	return infra.AutoMigrate(db, models...)
}

// LoadEnvFile 依次尝试加载当前目录及上级目录的 .env 文件
func LoadEnvFile() {
	if path := resolveEnvPath(); path != "" {
		if err := godotenv.Load(path); err != nil {
			fmt.Fprintf(os.Stderr, "加载环境变量文件 %s 失败: %v\n", path, err)
		}
	}
}

// resolveEnvPath 从工作目录与可执行文件目录向上查找 .env
func resolveEnvPath() string {
	for _, path := range envCandidates() {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func envCandidates() []string {
	seen := make(map[string]struct{})
	var candidates []string

	traverse := func(start string) {
		dir := filepath.Clean(start)
		for i := 0; i < 8; i++ {
			if dir == "" || dir == string(filepath.Separator) || dir == "." {
				break
			}
			path := filepath.Join(dir, ".env")
			if _, ok := seen[path]; !ok {
				seen[path] = struct{}{}
				candidates = append(candidates, path)
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if wd, err := os.Getwd(); err == nil {
		traverse(wd)
	}
	if exe, err := os.Executable(); err == nil {
		traverse(filepath.Dir(exe))
	}
	return candidates
}
