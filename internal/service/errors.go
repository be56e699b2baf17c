package service

import "errors"

// 支付发起
var (
	ErrPaymentInvalid              = errors.New("payment request invalid")
	ErrPaymentAmountInvalid        = errors.New("payment amount invalid")
	ErrPaymentPhoneRequired        = errors.New("payment phone number required")
	ErrPaymentOrderExists          = errors.New("payment order id already exists")
	ErrPaymentMethodUnavailable    = errors.New("payment method unavailable")
	ErrPaymentGatewayRequestFailed = errors.New("payment gateway request failed")
	// ErrPaymentGatewayResponseInvalid 网关返回缺少必要字段或状态异常
	ErrPaymentGatewayResponseInvalid = errors.New("payment gateway response invalid")
)

// 回调与查询
var (
	ErrWebhookKeyInvalid     = errors.New("webhook anti-phishing key invalid")
	ErrWebhookOrderIDMissing = errors.New("webhook order id missing")
	ErrPaymentRecordNotFound = errors.New("payment record not found")
)

// 报告交付
var (
	ErrPaymentNotPaid             = errors.New("payment not paid")
	ErrAnalysisDataMissing        = errors.New("analysis data missing")
	ErrDeliveryRecipientMissing   = errors.New("delivery recipient missing")
	ErrReportGenerateFailed       = errors.New("report generate failed")
	ErrReportGeneratorUnavailable = errors.New("report generator unavailable")
	ErrDeliveryFailed             = errors.New("report delivery failed")
)

// 邮件
var (
	ErrEmailServiceDisabled      = errors.New("email service disabled")
	ErrEmailServiceNotConfigured = errors.New("email service not configured")
	ErrInvalidEmail              = errors.New("invalid email")
	ErrEmailRecipientRejected    = errors.New("email recipient rejected")
)
