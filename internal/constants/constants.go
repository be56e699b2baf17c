package constants

// 支付方式常量
const (
	PaymentMethodMBWay      = "mbway"      // 手机推送确认
	PaymentMethodMultibanco = "multibanco" // ATM 实体/参考号
	PaymentMethodPayshop    = "payshop"    // 零售终端参考号
)

// 支付状态常量
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
	PaymentStatusExpired = "expired"
)

// 对账来源
const (
	ReconcileSourceWebhook = "webhook"
	ReconcileSourcePoll    = "poll"
	ReconcileSourceRetry   = "retry"
	ReconcileSourceCLI     = "cli"
)

// Webhook 处理结果
const (
	WebhookOutcomeAcknowledged     = "acknowledged"
	WebhookOutcomeAlreadyDelivered = "already_delivered"
	WebhookOutcomeDelivered        = "delivered"
	WebhookOutcomeDeliveryFailed   = "delivery_failed"
	WebhookOutcomeDeliveryPending  = "delivery_in_progress"
	WebhookOutcomeAmountMismatch   = "amount_mismatch"
	WebhookOutcomeStatusConflict   = "status_conflict"
)

// Webhook 响应体
const (
	WebhookResponseOK = "OK"
)

// 默认币种
const (
	CurrencyEUR = "EUR"
)

// 电话号码常量
const (
	PhoneCountryCodePT = "351"
)

// 队列常量
const (
	QueueDefault = "default"
)

// 异步任务类型
const (
	TaskDeliveryRetry = "report:delivery_retry"
)

// Secret 名称
const (
	SecretAntiPhishingKey = "anti_phishing_key"
	SecretMBWayKey        = "mbway_key"
	SecretMultibancoKey   = "multibanco_key"
	SecretPayshopKey      = "payshop_key"
	SecretSMTPPassword    = "smtp_password"
	SecretReportToken     = "report_auth_token"
)
