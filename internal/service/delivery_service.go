package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cvlens-pay/internal/constants"
	"github.com/cvlens-pay/internal/models"
	"github.com/cvlens-pay/internal/queue"
	"github.com/cvlens-pay/internal/report"
	"github.com/cvlens-pay/internal/repository"
)

const (
	defaultDeliveryLease      = 5 * time.Minute
	defaultDeliveryRetryDelay = time.Minute
	defaultDeliveryMaxRetries = 5
	// deliveryLeaseMargin 生成与发送超时之外预留给落库的时间
	deliveryLeaseMargin = 30 * time.Second
)

// timeoutBound 带固定超时的外部调用
type timeoutBound interface {
	Timeout() time.Duration
}

// DeliveryRetryScheduler 交付失败后的延迟重试
type DeliveryRetryScheduler interface {
	EnqueueDeliveryRetry(payload queue.DeliveryRetryPayload, delay time.Duration) error
}

// DeliveryOptions 交付配置
type DeliveryOptions struct {
	LeaseDuration  time.Duration
	RetryDelay     time.Duration
	MaxRetries     int
	Subject        string
	AttachmentName string
	Now            func() time.Time
}

// DeliveryResult 交付结果
type DeliveryResult struct {
	OrderID          string `json:"order_id"`
	Delivered        bool   `json:"delivered"`
	AlreadyDelivered bool   `json:"already_delivered"`
	InProgress       bool   `json:"in_progress"`
	Attempt          int    `json:"attempt"`
}

// DeliveryService 报告交付服务，保证同一订单最多成功交付一次
type DeliveryService struct {
	repo      repository.PaymentRecordRepository
	generator report.Generator
	mailer    Mailer
	scheduler DeliveryRetryScheduler
	opts      DeliveryOptions
}

// NewDeliveryService 创建交付服务
func NewDeliveryService(repo repository.PaymentRecordRepository, generator report.Generator, mailer Mailer, scheduler DeliveryRetryScheduler, opts DeliveryOptions) *DeliveryService {
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = defaultDeliveryLease
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultDeliveryRetryDelay
	}
	switch {
	case opts.MaxRetries == 0:
		opts.MaxRetries = defaultDeliveryMaxRetries
	case opts.MaxRetries < 0:
		opts.MaxRetries = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if required := requiredDeliveryLease(generator, mailer); opts.LeaseDuration < required {
		paymentLogger("lease", opts.LeaseDuration, "required", required).Warnw("delivery_lease_raised_to_cover_timeouts")
		opts.LeaseDuration = required
	}
	return &DeliveryService{
		repo:      repo,
		generator: generator,
		mailer:    mailer,
		scheduler: scheduler,
		opts:      opts,
	}
}

// Deliver 生成并发送报告
// 前置条件不满足时返回对应错误；租约被其他请求持有时返回 InProgress
func (s *DeliveryService) Deliver(ctx context.Context, orderID string) (*DeliveryResult, error) {
	orderID = strings.TrimSpace(orderID)
	log := paymentLogger("order_id", orderID)

	record, err := s.repo.GetByOrderID(orderID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrPaymentRecordNotFound
	}
	result := &DeliveryResult{OrderID: orderID}
	if record.Delivered {
		result.AlreadyDelivered = true
		return result, nil
	}
	if record.Status != constants.PaymentStatusPaid {
		return nil, ErrPaymentNotPaid
	}
	if !record.HasAnalysisData() {
		return nil, ErrAnalysisDataMissing
	}
	if strings.TrimSpace(record.CustomerEmail) == "" {
		return nil, ErrDeliveryRecipientMissing
	}

	now := s.opts.Now().UTC()
	claimed, err := s.repo.ClaimDelivery(orderID, now.Add(s.opts.LeaseDuration), now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		latest, err := s.repo.GetByOrderID(orderID)
		if err != nil {
			return nil, err
		}
		if latest != nil && latest.Delivered {
			result.AlreadyDelivered = true
			return result, nil
		}
		log.Infow("delivery_lease_held_by_other")
		result.InProgress = true
		return result, nil
	}
	result.Attempt = record.DeliveryAttempts + 1
	log = log.With("attempt", result.Attempt)

	document, err := s.generateAndSend(ctx, record)
	if err != nil {
		s.fail(orderID, result.Attempt, err)
		return nil, err
	}

	marked, err := s.repo.MarkDelivered(orderID, s.opts.Now().UTC())
	if err != nil {
		// 邮件已发出，不再释放租约，避免重复发送
		log.Errorw("delivery_mark_failed", "error", err)
		return nil, err
	}
	if !marked {
		log.Warnw("delivery_mark_conflict")
		result.AlreadyDelivered = true
		return result, nil
	}
	log.Infow("delivery_completed", "bytes", len(document))
	result.Delivered = true
	return result, nil
}

// requiredDeliveryLease 租约至少覆盖报告生成与邮件发送的超时之和
func requiredDeliveryLease(generator report.Generator, mailer Mailer) time.Duration {
	var total time.Duration
	if bound, ok := generator.(timeoutBound); ok {
		total += bound.Timeout()
	}
	if bound, ok := mailer.(timeoutBound); ok {
		total += bound.Timeout()
	}
	if total == 0 {
		return 0
	}
	return total + deliveryLeaseMargin
}

// LeaseDuration 生效的交付租约时长
func (s *DeliveryService) LeaseDuration() time.Duration {
	return s.opts.LeaseDuration
}

// generateAndSend 在租约内生成并发送报告
// 单次尝试以租约时长为上限，尝试结束前持续续约
func (s *DeliveryService) generateAndSend(ctx context.Context, record *models.PaymentRecord) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.opts.LeaseDuration)
	defer cancel()
	stopRenew := s.keepLease(record.OrderID)
	defer stopRenew()

	document, err := s.generate(attemptCtx, record)
	if err != nil {
		return nil, err
	}
	if err := s.send(attemptCtx, record, document); err != nil {
		return nil, err
	}
	return document, nil
}

// keepLease 按租约时长的三分之一周期续约，返回的函数停止续约并等待退出
func (s *DeliveryService) keepLease(orderID string) func() {
	interval := s.opts.LeaseDuration / 3
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				now := s.opts.Now().UTC()
				renewed, err := s.repo.RenewDelivery(orderID, now.Add(s.opts.LeaseDuration), now)
				if err != nil {
					paymentLogger("order_id", orderID).Warnw("delivery_lease_renew_failed", "error", err)
					continue
				}
				if !renewed {
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

func (s *DeliveryService) generate(ctx context.Context, record *models.PaymentRecord) ([]byte, error) {
	if s.generator == nil {
		return nil, ErrReportGeneratorUnavailable
	}
	document, err := s.generator.Generate(ctx, record.AnalysisData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReportGenerateFailed, err)
	}
	if len(document) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrReportGenerateFailed)
	}
	return document, nil
}

func (s *DeliveryService) send(ctx context.Context, record *models.PaymentRecord, document []byte) error {
	if s.mailer == nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, ErrEmailServiceDisabled)
	}
	err := s.mailer.SendReport(ctx, ReportEmailInput{
		To:             record.CustomerEmail,
		CustomerName:   record.CustomerName,
		OrderID:        record.OrderID,
		Subject:        s.opts.Subject,
		Attachment:     document,
		AttachmentName: s.opts.AttachmentName,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

// fail 释放租约并按需安排重试
func (s *DeliveryService) fail(orderID string, attempt int, cause error) {
	log := paymentLogger("order_id", orderID, "attempt", attempt)
	log.Warnw("delivery_failed", "error", cause)
	if err := s.repo.ReleaseDelivery(orderID, cause.Error()); err != nil {
		log.Errorw("delivery_release_failed", "error", err)
	}
	if s.scheduler == nil || attempt >= s.opts.MaxRetries {
		return
	}
	delay := s.opts.RetryDelay * time.Duration(attempt)
	payload := queue.DeliveryRetryPayload{OrderID: orderID, Attempt: attempt}
	if err := s.scheduler.EnqueueDeliveryRetry(payload, delay); err != nil {
		log.Errorw("delivery_retry_enqueue_failed", "error", err)
		return
	}
	log.Infow("delivery_retry_scheduled", "delay", delay)
}

// RedeliverSummary 批量补发结果
type RedeliverSummary struct {
	Scanned   int
	Delivered int
	Skipped   int
	Failed    int
	// Exhausted 已用完重试次数而未处理的记录数
	Exhausted int
}

// RedeliverOptions 批量补发参数
type RedeliverOptions struct {
	Limit int
	// IncludeExhausted 为 true 时也处理重试次数已用完的记录（人工补发）
	IncludeExhausted bool
	Source           string
}

// RedeliverPending 补发已支付但未交付的订单
func (s *DeliveryService) RedeliverPending(ctx context.Context, opts RedeliverOptions) (*RedeliverSummary, error) {
	records, err := s.repo.ListUndelivered(opts.Limit)
	if err != nil {
		return nil, err
	}
	source := opts.Source
	if source == "" {
		source = constants.ReconcileSourceCLI
	}
	summary := &RedeliverSummary{Scanned: len(records)}
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if !opts.IncludeExhausted && s.retriesExhausted(&record) {
			summary.Exhausted++
			paymentLogger("order_id", record.OrderID, "source", source).Errorw("redeliver_retries_exhausted",
				"attempts", record.DeliveryAttempts,
				"max_retries", s.opts.MaxRetries,
				"last_error", record.LastDeliveryError,
			)
			continue
		}
		result, err := s.Deliver(ctx, record.OrderID)
		switch {
		case err != nil:
			summary.Failed++
			paymentLogger("order_id", record.OrderID, "source", source).Warnw("redeliver_failed", "error", err)
		case result.Delivered:
			summary.Delivered++
		default:
			summary.Skipped++
		}
	}
	return summary, nil
}

// retriesExhausted 交付尝试次数已达到最大重试次数
func (s *DeliveryService) retriesExhausted(record *models.PaymentRecord) bool {
	return record.DeliveryAttempts > 0 && record.DeliveryAttempts >= s.opts.MaxRetries
}

// IsDeliveryPreconditionError 交付前置条件错误（重试无意义）
func IsDeliveryPreconditionError(err error) bool {
	return errors.Is(err, ErrPaymentRecordNotFound) ||
		errors.Is(err, ErrPaymentNotPaid) ||
		errors.Is(err, ErrAnalysisDataMissing) ||
		errors.Is(err, ErrDeliveryRecipientMissing)
}
