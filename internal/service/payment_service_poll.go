package service

import (
	"context"
	"errors"

	"github.com/cvlens-pay/internal/constants"
	"github.com/cvlens-pay/internal/payment"
)

// 状态查询提示
const (
	StatusMessagePaid            = "paid"
	StatusMessagePaidDelivered   = "paid, report delivered"
	StatusMessageAwaitingWebhook = "pending, awaiting webhook"
	StatusMessagePending         = "pending"
	StatusMessageFailed          = "payment failed"
	StatusMessageExpired         = "payment expired"
)

// PaymentStatusResult 客户端轮询结果
type PaymentStatusResult struct {
	OrderID        string
	Status         string
	Paid           bool
	Pending        bool
	Delivered      bool
	Message        string
	ProviderStatus string
}

// PollStatus 客户端轮询支付状态，必要时向网关查询并推进状态
func (s *PaymentService) PollStatus(ctx context.Context, orderID string) (*PaymentStatusResult, error) {
	orderID = normalizeOrderID(orderID)
	record, err := s.repo.GetByOrderID(orderID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrPaymentRecordNotFound
	}
	log := paymentLogger("order_id", orderID, "method", record.Method, "source", constants.ReconcileSourcePoll)
	result := &PaymentStatusResult{OrderID: orderID, Status: record.Status, Delivered: record.Delivered}

	switch record.Status {
	case constants.PaymentStatusPaid:
		result.Paid = true
		result.Message = StatusMessagePaid
		if !record.Delivered {
			s.retryDelivery(ctx, orderID, result)
		}
		if result.Delivered {
			result.Message = StatusMessagePaidDelivered
		}
		return result, nil
	case constants.PaymentStatusFailed:
		result.Message = StatusMessageFailed
		return result, nil
	case constants.PaymentStatusExpired:
		result.Message = StatusMessageExpired
		return result, nil
	}

	result.Pending = true
	result.Message = StatusMessageAwaitingWebhook
	if record.ProviderRequestID == "" {
		return result, nil
	}
	gw, ok := s.gateways.Get(record.Method)
	if !ok {
		return result, nil
	}

	status, cached := s.statusCache.Get(ctx, record.Method, record.ProviderRequestID)
	if !cached {
		status, err = gw.QueryStatus(ctx, record.ProviderRequestID)
		if errors.Is(err, payment.ErrStatusQueryUnsupported) {
			return result, nil
		}
		if err != nil {
			log.Warnw("payment_status_query_failed", "request_id", record.ProviderRequestID, "error", err)
			return nil, mapGatewayError(err)
		}
		s.statusCache.Set(ctx, record.Method, record.ProviderRequestID, status, s.opts.StatusCacheTTL)
	}
	result.ProviderStatus = status.ProviderStatus

	switch status.Status {
	case payment.StatusPaid:
		outcome, delivery, err := s.confirmPaid(ctx, record, constants.ReconcileSourcePoll)
		if err != nil && outcome == "" {
			return nil, err
		}
		if outcome == constants.WebhookOutcomeStatusConflict {
			return s.reloadStatus(orderID, status.ProviderStatus)
		}
		result.Status = constants.PaymentStatusPaid
		result.Paid = true
		result.Pending = false
		result.Message = StatusMessagePaid
		if delivery != nil && (delivery.Delivered || delivery.AlreadyDelivered) {
			result.Delivered = true
			result.Message = StatusMessagePaidDelivered
		}
		return result, nil
	case payment.StatusFailed, payment.StatusExpired:
		if _, err := s.repo.TransitionStatus(orderID, constants.PaymentStatusPending, status.Status, s.opts.Now().UTC()); err != nil {
			return nil, err
		}
		log.Infow("payment_status_terminal", "status", status.Status, "provider_status", status.ProviderStatus)
		return s.reloadStatus(orderID, status.ProviderStatus)
	default:
		result.Message = StatusMessagePending
		return result, nil
	}
}

// retryDelivery 已支付未交付时补发，失败只记录日志
func (s *PaymentService) retryDelivery(ctx context.Context, orderID string, result *PaymentStatusResult) {
	if s.delivery == nil {
		return
	}
	delivery, err := s.delivery.Deliver(ctx, orderID)
	if err != nil {
		paymentLogger("order_id", orderID, "source", constants.ReconcileSourcePoll).Warnw("payment_delivery_retry_failed", "error", err)
		return
	}
	result.Delivered = delivery.Delivered || delivery.AlreadyDelivered
}

// reloadStatus 状态被并发修改后按数据库最新值返回
func (s *PaymentService) reloadStatus(orderID, providerStatus string) (*PaymentStatusResult, error) {
	record, err := s.repo.GetByOrderID(orderID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrPaymentRecordNotFound
	}
	result := &PaymentStatusResult{
		OrderID:        orderID,
		Status:         record.Status,
		Delivered:      record.Delivered,
		ProviderStatus: providerStatus,
	}
	switch record.Status {
	case constants.PaymentStatusPaid:
		result.Paid = true
		result.Message = StatusMessagePaid
		if record.Delivered {
			result.Message = StatusMessagePaidDelivered
		}
	case constants.PaymentStatusFailed:
		result.Message = StatusMessageFailed
	case constants.PaymentStatusExpired:
		result.Message = StatusMessageExpired
	default:
		result.Pending = true
		result.Message = StatusMessagePending
	}
	return result, nil
}
