package service

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/cvlens-pay/internal/constants"
	"github.com/cvlens-pay/internal/models"
)

// 回调参数别名，按顺序取第一个非空值
var (
	webhookKeyAliases       = []string{"key", "chave", "anti_phishing_key", "antiphishingkey", "anti-phishing-key"}
	webhookOrderIDAliases   = []string{"orderid", "order_id", "id", "referencia_encomenda"}
	webhookAmountAliases    = []string{"amount", "valor"}
	webhookStatusAliases    = []string{"status", "estado"}
	webhookRequestIDAliases = []string{"requestid", "request_id"}
	webhookPaidAtAliases    = []string{"payment_datetime", "datahorapag", "timestamp"}
)

// 视为已支付的状态词
var webhookPaidTokens = map[string]struct{}{
	"paid": {}, "pago": {}, "success": {}, "sucesso": {}, "completed": {}, "concluido": {},
	"concluído": {}, "confirmed": {}, "confirmado": {}, "approved": {}, "aprovado": {},
	"1": {}, "true": {},
}

// WebhookInput 回调输入
type WebhookInput struct {
	Key           string
	OrderID       string
	Amount        string
	Status        string
	StatusPresent bool
	RequestID     string
	PaidAt        string
}

// WebhookResult 回调处理结果
type WebhookResult struct {
	OrderID  string
	Outcome  string
	Delivery *DeliveryResult
}

// BuildWebhookInput 从合并后的 query/form/JSON 参数中提取回调字段，键名不区分大小写
func BuildWebhookInput(params map[string]string) WebhookInput {
	lowered := make(map[string]string, len(params))
	for key, value := range params {
		normalized := strings.ToLower(strings.TrimSpace(key))
		if normalized == "" {
			continue
		}
		if _, exists := lowered[normalized]; exists && strings.TrimSpace(value) == "" {
			continue
		}
		lowered[normalized] = strings.TrimSpace(value)
	}
	status, statusPresent := firstValue(lowered, webhookStatusAliases)
	key, _ := firstValue(lowered, webhookKeyAliases)
	orderID, _ := firstValue(lowered, webhookOrderIDAliases)
	amount, _ := firstValue(lowered, webhookAmountAliases)
	requestID, _ := firstValue(lowered, webhookRequestIDAliases)
	paidAt, _ := firstValue(lowered, webhookPaidAtAliases)
	return WebhookInput{
		Key:           key,
		OrderID:       orderID,
		Amount:        amount,
		Status:        status,
		StatusPresent: statusPresent,
		RequestID:     requestID,
		PaidAt:        paidAt,
	}
}

func firstValue(values map[string]string, aliases []string) (string, bool) {
	for _, alias := range aliases {
		if value, ok := values[alias]; ok && value != "" {
			return value, true
		}
	}
	return "", false
}

// IsPaidStatusToken 回调状态是否表示已支付；缺省视为已支付
func IsPaidStatusToken(status string, present bool) bool {
	if !present {
		return true
	}
	_, ok := webhookPaidTokens[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

// VerifyWebhookKey 常量时间比较防钓鱼密钥，未配置密钥时一律拒绝
func (s *PaymentService) VerifyWebhookKey(key string) bool {
	expected := strings.TrimSpace(s.opts.AntiPhishingKey)
	provided := strings.TrimSpace(key)
	if expected == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

// HandleWebhook 处理网关支付回调
func (s *PaymentService) HandleWebhook(ctx context.Context, input WebhookInput) (*WebhookResult, error) {
	if !s.VerifyWebhookKey(input.Key) {
		paymentLogger("order_id", input.OrderID).Warnw("payment_webhook_key_invalid")
		return nil, ErrWebhookKeyInvalid
	}
	orderID := normalizeOrderID(input.OrderID)
	if orderID == "" {
		return nil, ErrWebhookOrderIDMissing
	}
	log := paymentLogger("order_id", orderID, "request_id", input.RequestID, "status", input.Status, "source", constants.ReconcileSourceWebhook)
	log.Infow("payment_webhook_received", "amount", input.Amount, "paid_at", input.PaidAt)

	result := &WebhookResult{OrderID: orderID}
	if !IsPaidStatusToken(input.Status, input.StatusPresent) {
		log.Infow("payment_webhook_not_paid")
		result.Outcome = constants.WebhookOutcomeAcknowledged
		return result, nil
	}

	record, err := s.repo.GetByOrderID(orderID)
	if err != nil {
		log.Errorw("payment_webhook_record_load_failed", "error", err)
		return nil, err
	}
	if record == nil {
		log.Warnw("payment_webhook_record_not_found")
		return nil, ErrPaymentRecordNotFound
	}
	if record.Delivered {
		result.Outcome = constants.WebhookOutcomeAlreadyDelivered
		return result, nil
	}
	if strings.TrimSpace(input.Amount) != "" && !amountMatches(input.Amount, record.Amount) {
		log.Warnw("payment_webhook_amount_mismatch", "expected", record.Amount.String(), "received", input.Amount)
		result.Outcome = constants.WebhookOutcomeAmountMismatch
		return result, nil
	}
	if record.ProviderRequestID == "" && strings.TrimSpace(input.RequestID) != "" {
		if _, err := s.repo.Update(orderID, map[string]interface{}{"provider_request_id": strings.TrimSpace(input.RequestID)}); err != nil {
			log.Warnw("payment_webhook_request_id_update_failed", "error", err)
		}
	}

	outcome, delivery, err := s.confirmPaid(ctx, record, constants.ReconcileSourceWebhook)
	result.Outcome = outcome
	result.Delivery = delivery
	if err != nil {
		return result, err
	}
	return result, nil
}

// confirmPaid 将待支付记录置为已支付并触发交付，回调与轮询共用
func (s *PaymentService) confirmPaid(ctx context.Context, record *models.PaymentRecord, source string) (string, *DeliveryResult, error) {
	log := paymentLogger("order_id", record.OrderID, "source", source)
	switch record.Status {
	case constants.PaymentStatusPending:
		transitioned, err := s.repo.TransitionStatus(record.OrderID, constants.PaymentStatusPending, constants.PaymentStatusPaid, s.opts.Now().UTC())
		if err != nil {
			log.Errorw("payment_status_transition_failed", "error", err)
			return "", nil, err
		}
		if transitioned {
			log.Infow("payment_confirmed")
			break
		}
		// 并发请求已修改状态，重新读取后判断
		latest, err := s.repo.GetByOrderID(record.OrderID)
		if err != nil {
			return "", nil, err
		}
		if latest == nil || latest.Status != constants.PaymentStatusPaid {
			log.Warnw("payment_status_conflict")
			return constants.WebhookOutcomeStatusConflict, nil, nil
		}
	case constants.PaymentStatusPaid:
	default:
		log.Warnw("payment_status_conflict", "current_status", record.Status)
		return constants.WebhookOutcomeStatusConflict, nil, nil
	}

	if s.delivery == nil {
		return constants.WebhookOutcomeDeliveryPending, nil, nil
	}
	delivery, err := s.delivery.Deliver(ctx, record.OrderID)
	if err != nil {
		log.Warnw("payment_delivery_failed", "error", err)
		return constants.WebhookOutcomeDeliveryFailed, nil, err
	}
	switch {
	case delivery.AlreadyDelivered:
		return constants.WebhookOutcomeAlreadyDelivered, delivery, nil
	case delivery.InProgress:
		return constants.WebhookOutcomeDeliveryPending, delivery, nil
	default:
		return constants.WebhookOutcomeDelivered, delivery, nil
	}
}

func amountMatches(raw string, expected models.Money) bool {
	amount, ok := ParseAmount(raw)
	if !ok {
		return false
	}
	return models.NewMoneyFromDecimal(amount).Equal(expected)
}
