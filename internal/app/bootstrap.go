package app

import (
	"errors"
	"time"

	"github.com/cvlens-pay/internal/config"
	"github.com/cvlens-pay/internal/logger"
	"github.com/cvlens-pay/internal/provider"
	"github.com/cvlens-pay/internal/router"
	"github.com/cvlens-pay/internal/worker"
)

// BuildRunner 构建服务运行器
func BuildRunner(cfg *config.Config, mode string) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	return buildRunnerWithContainer(cfg, mode, provider.NewContainer(cfg))
}

func buildRunnerWithContainer(cfg *config.Config, mode string, container *provider.Container) (*Runner, error) {
	switch mode {
	case ModeAll, ModeAPI, ModeWorker:
	default:
		return nil, errors.New("unknown run mode: " + mode)
	}

	var services []Service

	// 初始化 HTTP 服务
	if mode == ModeAll || mode == ModeAPI {
		engine := router.SetupRouter(cfg, container)
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		services = append(services, NewHTTPService(addr, engine))
	}

	// 初始化 Worker 服务；all 模式下队列未启用时只运行 API
	if mode == ModeAll || mode == ModeWorker {
		if !cfg.Queue.Enabled && mode == ModeAll {
			logger.Infow("app_worker_skipped", "reason", "queue_disabled")
		} else {
			consumer := worker.NewConsumer(container)
			sweep := time.Duration(cfg.Delivery.SweepIntervalSeconds) * time.Second
			workerService, err := worker.NewService(&cfg.Queue, consumer, sweep)
			if err != nil {
				return nil, err
			}
			services = append(services, workerService)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("no services initialized (check mode and config)")
	}

	return NewRunner(services...), nil
}

// Run 应用启动入口
func Run(opts Options) error {
	opts = normalizeOptions(opts)
	if opts.Config == nil {
		return errors.New("config is nil")
	}

	runner, err := BuildRunner(opts.Config, opts.Mode)
	if err != nil {
		return err
	}

	addr := opts.Config.Server.Host + ":" + opts.Config.Server.Port
	opts.Logger.Infow("app_start", "addr", addr, "mode", opts.Mode)
	return RunWithOptions(runner, opts)
}
