package models

import (
	"time"
)

// PaymentRecord 支付记录，按订单号唯一；只追加不删除，作为审计轨迹
type PaymentRecord struct {
	ID                 uint       `gorm:"primarykey" json:"-"`
	OrderID            string     `gorm:"size:64;uniqueIndex;not null" json:"order_id"`   // 订单号（调用方传入或自动生成）
	ProviderRequestID  string     `gorm:"size:128;index" json:"provider_request_id"`      // 网关在发起时分配的请求号，状态查询只能使用它
	Method             string     `gorm:"size:32;not null" json:"method"`                 // 支付方式 mbway/multibanco/payshop
	Amount             Money      `gorm:"type:decimal(20,2);not null" json:"amount"`      // 金额（EUR）
	AmountFallback     bool       `gorm:"not null;default:false" json:"amount_fallback"`  // 金额是否来自兜底值
	CustomerName       string     `gorm:"size:255" json:"customer_name"`                  // 客户姓名
	CustomerEmail      string     `gorm:"size:255" json:"customer_email"`                 // 客户邮箱
	CustomerPhone      string     `gorm:"size:32" json:"customer_phone"`                  // 客户手机
	Description        string     `gorm:"size:255" json:"description"`                    // 支付描述
	Status             string     `gorm:"size:16;index;not null" json:"status"`           // pending/paid/failed/expired
	Delivered          bool       `gorm:"index;not null;default:false" json:"delivered"`  // 报告是否已交付，只会从 false 变为 true
	AnalysisData       JSON       `gorm:"type:json" json:"analysis_data,omitempty"`       // 上游分析结果，支付确认后用于生成报告
	ProviderFields     JSON       `gorm:"type:json" json:"provider_fields,omitempty"`     // 网关返回的实体/参考号等
	DeliveryLockUntil  *time.Time `gorm:"index" json:"-"`                                 // 交付租约到期时间
	DeliveryAttempts   int        `gorm:"not null;default:0" json:"delivery_attempts"`    // 交付尝试次数
	LastDeliveryError  string     `gorm:"type:text" json:"last_delivery_error,omitempty"` // 最近一次交付失败原因
	PaymentConfirmedAt *time.Time `gorm:"index" json:"payment_confirmed_at"`              // 支付确认时间
	DeliveredAt        *time.Time `json:"delivered_at"`                                   // 交付时间
	CreatedAt          time.Time  `gorm:"index" json:"created_at"`                        // 创建时间
	UpdatedAt          time.Time  `json:"updated_at"`                                     // 更新时间
}

// TableName 指定表名
func (PaymentRecord) TableName() string {
	return "payment_records"
}

// IsPaid 是否已支付
func (r *PaymentRecord) IsPaid() bool {
	return r != nil && r.Status == "paid"
}

// HasAnalysisData 是否携带可交付的分析数据
func (r *PaymentRecord) HasAnalysisData() bool {
	return r != nil && len(r.AnalysisData) > 0
}
