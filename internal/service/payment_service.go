package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/cvlens-pay/internal/constants"
	"github.com/cvlens-pay/internal/logger"
	"github.com/cvlens-pay/internal/models"
	"github.com/cvlens-pay/internal/payment"
	"github.com/cvlens-pay/internal/repository"

	"go.uber.org/zap"
)

// PaymentServiceOptions 支付服务配置
type PaymentServiceOptions struct {
	AntiPhishingKey     string
	AllowFallbackAmount bool
	StatusCacheTTL      time.Duration
	Now                 func() time.Time
}

// PaymentService 支付服务：发起、回调对账、轮询对账
type PaymentService struct {
	repo        repository.PaymentRecordRepository
	gateways    *payment.Registry
	normalizer  *PaymentInputNormalizer
	mailer      Mailer
	delivery    *DeliveryService
	statusCache StatusCache
	opts        PaymentServiceOptions
}

// NewPaymentService 创建支付服务
func NewPaymentService(repo repository.PaymentRecordRepository, gateways *payment.Registry, normalizer *PaymentInputNormalizer, mailer Mailer, delivery *DeliveryService, statusCache StatusCache, opts PaymentServiceOptions) *PaymentService {
	if normalizer == nil {
		normalizer = NewPaymentInputNormalizer(DefaultFallbackAmount, "")
	}
	if gateways == nil {
		gateways = payment.NewRegistry()
	}
	if statusCache == nil {
		statusCache = noopStatusCache{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &PaymentService{
		repo:        repo,
		gateways:    gateways,
		normalizer:  normalizer,
		mailer:      mailer,
		delivery:    delivery,
		statusCache: statusCache,
		opts:        opts,
	}
}

func paymentLogger(kv ...interface{}) *zap.SugaredLogger {
	if len(kv) == 0 {
		return logger.S()
	}
	return logger.SW(kv...)
}

// InitiatePaymentResult 发起支付结果
type InitiatePaymentResult struct {
	Record         *models.PaymentRecord
	Method         string
	OrderID        string
	RequestID      string
	Entity         string
	Reference      string
	ExpiryDate     string
	Amount         models.Money
	AmountFallback bool
	EmailSent      bool
	Warnings       []string
}

// Initiate 归一化输入、调用网关并保存待支付记录；网关失败时不落库
func (s *PaymentService) Initiate(ctx context.Context, raw map[string]interface{}) (*InitiatePaymentResult, error) {
	input := s.normalizer.Normalize(raw)
	log := paymentLogger("order_id", input.OrderID, "method", input.PaymentMethod)

	if input.AmountFallback && !s.opts.AllowFallbackAmount {
		log.Warnw("payment_initiate_amount_rejected", "fallback_amount", input.Amount.String())
		return nil, ErrPaymentAmountInvalid
	}
	if input.CustomerEmail != "" {
		if _, err := mail.ParseAddress(input.CustomerEmail); err != nil {
			return nil, fmt.Errorf("%w: customer email invalid", ErrPaymentInvalid)
		}
	}
	if input.PaymentMethod == constants.PaymentMethodMBWay && input.CustomerPhone == "" {
		return nil, ErrPaymentPhoneRequired
	}
	gw, ok := s.gateways.Get(input.PaymentMethod)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPaymentMethodUnavailable, input.PaymentMethod)
	}

	existing, err := s.repo.GetByOrderID(input.OrderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrPaymentOrderExists
	}

	gwResult, err := gw.Initiate(ctx, payment.InitiateInput{
		OrderID:       input.OrderID,
		Amount:        input.Amount.String(),
		CustomerName:  input.CustomerName,
		CustomerEmail: input.CustomerEmail,
		CustomerPhone: input.CustomerPhone,
		Description:   input.Description,
	})
	if err != nil {
		log.Warnw("payment_gateway_initiate_failed", "error", err)
		return nil, mapGatewayError(err)
	}

	record := &models.PaymentRecord{
		OrderID:           input.OrderID,
		ProviderRequestID: gwResult.RequestID,
		Method:            input.PaymentMethod,
		Amount:            input.Amount,
		AmountFallback:    input.AmountFallback,
		CustomerName:      input.CustomerName,
		CustomerEmail:     input.CustomerEmail,
		CustomerPhone:     input.CustomerPhone,
		Description:       input.Description,
		Status:            constants.PaymentStatusPending,
		AnalysisData:      input.AnalysisData,
		ProviderFields:    models.JSON(gwResult.Fields()),
	}
	if err := s.repo.Create(record); err != nil {
		if errors.Is(err, repository.ErrDuplicateOrderID) {
			return nil, ErrPaymentOrderExists
		}
		log.Errorw("payment_record_create_failed", "request_id", gwResult.RequestID, "error", err)
		return nil, err
	}
	log.Infow("payment_initiated",
		"request_id", gwResult.RequestID,
		"amount", input.Amount.String(),
		"amount_fallback", input.AmountFallback,
		"has_analysis", record.HasAnalysisData(),
	)

	result := &InitiatePaymentResult{
		Record:         record,
		Method:         input.PaymentMethod,
		OrderID:        input.OrderID,
		RequestID:      gwResult.RequestID,
		Entity:         gwResult.Entity,
		Reference:      gwResult.Reference,
		ExpiryDate:     gwResult.ExpiryDate,
		Amount:         input.Amount,
		AmountFallback: input.AmountFallback,
		Warnings:       input.Warnings,
	}
	result.EmailSent = s.sendPaymentInstructions(ctx, record, gwResult)
	return result, nil
}

// sendPaymentInstructions 参考号类支付发送付款说明，MB WAY 由用户在 App 内确认
func (s *PaymentService) sendPaymentInstructions(ctx context.Context, record *models.PaymentRecord, gwResult *payment.InitiateResult) bool {
	if !IsReferenceMethod(record.Method) || record.CustomerEmail == "" || s.mailer == nil {
		return false
	}
	err := s.mailer.SendPaymentInstructions(ctx, PaymentInstructionsEmailInput{
		To:           record.CustomerEmail,
		CustomerName: record.CustomerName,
		OrderID:      record.OrderID,
		Method:       record.Method,
		Amount:       record.Amount,
		Entity:       gwResult.Entity,
		Reference:    gwResult.Reference,
		ExpiryDate:   gwResult.ExpiryDate,
	})
	if err != nil {
		paymentLogger("order_id", record.OrderID, "method", record.Method).Warnw("payment_instructions_email_failed", "error", err)
		return false
	}
	return true
}

// mapGatewayError 将网关包错误转换为服务层错误
func mapGatewayError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, payment.ErrStatusQueryUnsupported):
		return err
	case errors.Is(err, payment.ErrConfigInvalid):
		return fmt.Errorf("%w: %v", ErrPaymentInvalid, err)
	case errors.Is(err, payment.ErrResponseInvalid):
		return fmt.Errorf("%w: %v", ErrPaymentGatewayResponseInvalid, err)
	default:
		return fmt.Errorf("%w: %v", ErrPaymentGatewayRequestFailed, err)
	}
}

func normalizeOrderID(orderID string) string {
	return strings.TrimSpace(orderID)
}
