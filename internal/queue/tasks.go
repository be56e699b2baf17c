package queue

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/cvlens-pay/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskDeliveryRetry 报告交付重试任务
	TaskDeliveryRetry = constants.TaskDeliveryRetry
)

// DeliveryRetryPayload 报告交付重试任务载荷
type DeliveryRetryPayload struct {
	OrderID string `json:"order_id"`
	Attempt int    `json:"attempt"`
}

// NewDeliveryRetryTask 创建报告交付重试任务
func NewDeliveryRetryTask(payload DeliveryRetryPayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.OrderID) == "" {
		return nil, errors.New("delivery retry payload order id is empty")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDeliveryRetry, body), nil
}

// ParseDeliveryRetryPayload 解析报告交付重试任务载荷
func ParseDeliveryRetryPayload(body []byte) (DeliveryRetryPayload, error) {
	var payload DeliveryRetryPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return payload, err
	}
	payload.OrderID = strings.TrimSpace(payload.OrderID)
	if payload.OrderID == "" {
		return payload, errors.New("delivery retry payload order id is empty")
	}
	return payload, nil
}
