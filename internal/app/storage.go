package app

import (
	"fmt"
	"strings"

	"github.com/cvlens-pay/internal/config"
	"github.com/cvlens-pay/internal/logger"
	"github.com/cvlens-pay/internal/models"
)

// InitStorage 初始化数据库并迁移表结构，memory 驱动不连接数据库
func InitStorage(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	driver := models.NormalizeDriver(cfg.Database.Driver)
	if driver == models.DriverMemory {
		logger.Infow("app_storage_memory")
		return nil
	}
	debug := strings.EqualFold(strings.TrimSpace(cfg.Server.Mode), "debug")
	if err := models.InitDB(driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}, debug); err != nil {
		return fmt.Errorf("数据库初始化失败: %w", err)
	}
	if err := models.AutoMigrate(models.DB); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	logger.Infow("app_storage_ready", "driver", driver)
	return nil
}
