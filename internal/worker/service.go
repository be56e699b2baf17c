package worker

import (
	"context"
	"errors"
	"time"

	"github.com/cvlens-pay/internal/config"
	"github.com/cvlens-pay/internal/constants"
	"github.com/cvlens-pay/internal/logger"
	"github.com/cvlens-pay/internal/queue"
	"github.com/cvlens-pay/internal/service"

	"github.com/hibiken/asynq"
)

const redeliverSweepBatch = 50

// Service 异步队列服务
type Service struct {
	name          string
	server        *asynq.Server
	mux           *asynq.ServeMux
	consumer      *Consumer
	sweepInterval time.Duration
}

// NewService 创建异步队列服务
func NewService(cfg *config.QueueConfig, consumer *Consumer, sweepInterval time.Duration) (*Service, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	opt, serverCfg := queue.BuildServerConfig(cfg)
	server := asynq.NewServer(opt, serverCfg)
	mux := asynq.NewServeMux()
	consumer.Register(mux)
	return &Service{
		name:          "worker",
		server:        server,
		mux:           mux,
		consumer:      consumer,
		sweepInterval: sweepInterval,
	}, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动服务
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.server == nil || s.mux == nil {
		return errors.New("worker not initialized")
	}
	if s.sweepInterval > 0 && s.consumer != nil && s.consumer.DeliveryService != nil {
		go s.runRedeliverLoop(ctx)
	}
	return s.server.Run(s.mux)
}

// Stop 停止服务
func (s *Service) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	_ = ctx
	s.server.Shutdown()
	return nil
}

// runRedeliverLoop 定期补发已支付未交付的订单，兜底丢失的重试任务
func (s *Service) runRedeliverLoop(ctx context.Context) {
	runOnce := func() {
		summary, err := s.consumer.DeliveryService.RedeliverPending(ctx, service.RedeliverOptions{
			Limit:  redeliverSweepBatch,
			Source: constants.ReconcileSourceRetry,
		})
		if err != nil {
			logger.Warnw("worker_redeliver_sweep_failed", "error", err)
			return
		}
		if summary.Scanned > 0 {
			logger.Infow("worker_redeliver_sweep_done",
				"scanned", summary.Scanned,
				"delivered", summary.Delivered,
				"skipped", summary.Skipped,
				"failed", summary.Failed,
				"exhausted", summary.Exhausted,
			)
		}
	}
	runOnce()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
