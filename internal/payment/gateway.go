package payment

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// 网关通用错误，具体网关包在此基础上包装自己的错误
var (
	ErrConfigInvalid          = errors.New("payment gateway config invalid")
	ErrRequestFailed          = errors.New("payment gateway request failed")
	ErrResponseInvalid        = errors.New("payment gateway response invalid")
	ErrStatusQueryUnsupported = errors.New("payment gateway status query unsupported")
	ErrGatewayNotConfigured   = errors.New("payment gateway not configured")
)

// 网关侧状态（与支付记录状态取值一致）
const (
	StatusPending = "pending"
	StatusPaid    = "paid"
	StatusFailed  = "failed"
	StatusExpired = "expired"
)

// Gateway 支付网关
type Gateway interface {
	Method() string
	Initiate(ctx context.Context, input InitiateInput) (*InitiateResult, error)
	QueryStatus(ctx context.Context, requestID string) (*StatusResult, error)
}

// InitiateInput 发起支付输入
type InitiateInput struct {
	OrderID       string
	Amount        string // 两位小数，EUR
	CustomerName  string
	CustomerEmail string
	CustomerPhone string // 仅数字，可能带 351 前缀
	Description   string
}

// InitiateResult 发起支付结果
type InitiateResult struct {
	RequestID  string                 // 网关请求号
	Entity     string                 // Multibanco 实体
	Reference  string                 // 参考号
	ExpiryDate string                 // 参考号到期日
	Message    string                 // 网关返回信息
	Raw        map[string]interface{} // 原始响应
}

// Fields 返回需要持久化与回显给客户的网关字段
func (r *InitiateResult) Fields() map[string]interface{} {
	fields := map[string]interface{}{}
	if r == nil {
		return fields
	}
	if r.Entity != "" {
		fields["entity"] = r.Entity
	}
	if r.Reference != "" {
		fields["reference"] = r.Reference
	}
	if r.ExpiryDate != "" {
		fields["expiry_date"] = r.ExpiryDate
	}
	return fields
}

// StatusResult 状态查询结果
type StatusResult struct {
	Status         string // pending/paid/failed/expired
	ProviderStatus string // 网关原始状态码
	Message        string
}

// Registry 按支付方式索引网关
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry 创建网关注册表，nil 网关会被忽略
func NewRegistry(gateways ...Gateway) *Registry {
	registry := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, gw := range gateways {
		registry.Register(gw)
	}
	return registry
}

// Register 注册网关，同一方式后注册的覆盖先注册的
func (r *Registry) Register(gw Gateway) {
	if r == nil || gw == nil {
		return
	}
	method := strings.ToLower(strings.TrimSpace(gw.Method()))
	if method == "" {
		return
	}
	r.gateways[method] = gw
}

// Get 获取网关
func (r *Registry) Get(method string) (Gateway, bool) {
	if r == nil {
		return nil, false
	}
	gw, ok := r.gateways[strings.ToLower(strings.TrimSpace(method))]
	return gw, ok
}

// Methods 已注册的支付方式
func (r *Registry) Methods() []string {
	if r == nil {
		return nil
	}
	methods := make([]string, 0, len(r.gateways))
	for method := range r.gateways {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}
