package service

import (
	"context"
	"time"

	"github.com/cvlens-pay/internal/cache"
	"github.com/cvlens-pay/internal/payment"
)

// StatusCache 网关状态查询缓存
type StatusCache interface {
	Get(ctx context.Context, method, requestID string) (*payment.StatusResult, bool)
	Set(ctx context.Context, method, requestID string, result *payment.StatusResult, ttl time.Duration)
}

type noopStatusCache struct{}

func (noopStatusCache) Get(ctx context.Context, method, requestID string) (*payment.StatusResult, bool) {
	return nil, false
}

func (noopStatusCache) Set(ctx context.Context, method, requestID string, result *payment.StatusResult, ttl time.Duration) {
}

// RedisStatusCache 基于 Redis 的网关状态缓存，Redis 未启用时不生效
type RedisStatusCache struct{}

// NewRedisStatusCache 创建 Redis 状态缓存
func NewRedisStatusCache() *RedisStatusCache {
	return &RedisStatusCache{}
}

// Get 读取缓存，出错视为未命中
func (c *RedisStatusCache) Get(ctx context.Context, method, requestID string) (*payment.StatusResult, bool) {
	snapshot, err := cache.GetPaymentStatus(ctx, method, requestID)
	if err != nil {
		paymentLogger("method", method, "request_id", requestID).Warnw("payment_status_cache_get_failed", "error", err)
		return nil, false
	}
	if snapshot == nil {
		return nil, false
	}
	return &payment.StatusResult{
		Status:         snapshot.Status,
		ProviderStatus: snapshot.ProviderStatus,
		Message:        snapshot.Message,
	}, true
}

// Set 写入缓存
func (c *RedisStatusCache) Set(ctx context.Context, method, requestID string, result *payment.StatusResult, ttl time.Duration) {
	if result == nil {
		return
	}
	err := cache.SetPaymentStatus(ctx, method, &cache.PaymentStatusSnapshot{
		RequestID:      requestID,
		Status:         result.Status,
		ProviderStatus: result.ProviderStatus,
		Message:        result.Message,
	}, ttl)
	if err != nil {
		paymentLogger("method", method, "request_id", requestID).Warnw("payment_status_cache_set_failed", "error", err)
	}
}
