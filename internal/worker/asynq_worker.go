package worker

import (
	"context"
	"errors"

	"github.com/cvlens-pay/internal/constants"
	"github.com/cvlens-pay/internal/logger"
	"github.com/cvlens-pay/internal/provider"
	"github.com/cvlens-pay/internal/queue"
	"github.com/cvlens-pay/internal/service"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskDeliveryRetry, c.handleDeliveryRetry)
}

// handleDeliveryRetry 重新执行报告交付；失败时交付服务自行安排下一次重试
func (c *Consumer) handleDeliveryRetry(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_delivery_retry_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	payload, err := queue.ParseDeliveryRetryPayload(task.Payload())
	if err != nil {
		logger.Warnw("worker_delivery_retry_unmarshal_failed", "error", err)
		return err
	}
	if c.DeliveryService == nil {
		logger.Warnw("worker_delivery_retry_skip_service_nil", "order_id", payload.OrderID)
		return nil
	}
	log := logger.SW("order_id", payload.OrderID, "attempt", payload.Attempt, "source", constants.ReconcileSourceRetry)
	result, err := c.DeliveryService.Deliver(ctx, payload.OrderID)
	if err != nil {
		switch {
		case service.IsDeliveryPreconditionError(err):
			log.Debugw("worker_delivery_retry_skip_precondition", "error", err)
			return nil
		case errors.Is(err, context.Canceled):
			return err
		default:
			log.Warnw("worker_delivery_retry_failed", "error", err)
			return err
		}
	}
	switch {
	case result.AlreadyDelivered:
		log.Debugw("worker_delivery_retry_skip_delivered")
	case result.InProgress:
		log.Debugw("worker_delivery_retry_skip_in_progress")
	default:
		log.Infow("worker_delivery_retry_delivered")
	}
	return nil
}
