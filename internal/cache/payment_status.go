package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const defaultPaymentStatusTTL = 5 * time.Second

// PaymentStatusSnapshot 网关状态查询结果快照
// 仅缓存网关返回值，支付记录本身始终以数据库为准
type PaymentStatusSnapshot struct {
	RequestID      string `json:"request_id"`
	Status         string `json:"status"`
	ProviderStatus string `json:"provider_status"`
	Message        string `json:"message"`
	CachedAt       int64  `json:"cached_at"`
}

func paymentStatusKey(method, requestID string) string {
	return fmt.Sprintf("payment:status:%s:%s", strings.ToLower(strings.TrimSpace(method)), strings.TrimSpace(requestID))
}

// GetPaymentStatus 读取网关状态缓存
func GetPaymentStatus(ctx context.Context, method, requestID string) (*PaymentStatusSnapshot, error) {
	if strings.TrimSpace(requestID) == "" {
		return nil, nil
	}
	var snapshot PaymentStatusSnapshot
	hit, err := GetJSON(ctx, paymentStatusKey(method, requestID), &snapshot)
	if err != nil || !hit {
		return nil, err
	}
	return &snapshot, nil
}

// SetPaymentStatus 写入网关状态缓存，ttl<=0 时使用默认值
func SetPaymentStatus(ctx context.Context, method string, snapshot *PaymentStatusSnapshot, ttl time.Duration) error {
	if snapshot == nil || strings.TrimSpace(snapshot.RequestID) == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultPaymentStatusTTL
	}
	if snapshot.CachedAt == 0 {
		snapshot.CachedAt = time.Now().Unix()
	}
	return SetJSON(ctx, paymentStatusKey(method, snapshot.RequestID), snapshot, ttl)
}

// DeletePaymentStatus 删除网关状态缓存
func DeletePaymentStatus(ctx context.Context, method, requestID string) error {
	if strings.TrimSpace(requestID) == "" {
		return nil
	}
	return Del(ctx, paymentStatusKey(method, requestID))
}
