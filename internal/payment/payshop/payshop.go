package payshop

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cvlens-pay/internal/payment"
)

var (
	ErrConfigInvalid   = fmt.Errorf("payshop: %w", payment.ErrConfigInvalid)
	ErrRequestFailed   = fmt.Errorf("payshop: %w", payment.ErrRequestFailed)
	ErrResponseInvalid = fmt.Errorf("payshop: %w", payment.ErrResponseInvalid)
)

const (
	// Method 支付方式
	Method = "payshop"
	// DefaultBaseURL 默认接口地址
	DefaultBaseURL = "https://ifthenpay.com/api/payshop/reference/"
	// DefaultExpiryDays 参考号默认有效天数
	DefaultExpiryDays = 3
	// CodeSuccess 网关成功码
	CodeSuccess = "0"

	expiryLayout  = "20060102"
	displayLayout = "02-01-2006"
)

// Config Payshop 配置
type Config struct {
	Key        string
	BaseURL    string
	ExpiryDays int
	Timeout    time.Duration
	Now        func() time.Time // 测试用时钟，为空时使用 time.Now
}

// Gateway Payshop 参考号网关
type Gateway struct {
	cfg    Config
	client *http.Client
}

// ValidateConfig 校验配置
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.Key) == "" {
		return fmt.Errorf("%w: payshop key is required", ErrConfigInvalid)
	}
	if cfg.ExpiryDays < 0 {
		return fmt.Errorf("%w: expiry days must not be negative", ErrConfigInvalid)
	}
	return nil
}

// New 创建 Payshop 网关
func New(cfg Config) (*Gateway, error) {
	cfg.Key = strings.TrimSpace(cfg.Key)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	if cfg.ExpiryDays == 0 {
		cfg.ExpiryDays = DefaultExpiryDays
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Gateway{cfg: cfg, client: payment.NewHTTPClient(cfg.Timeout)}, nil
}

// Method 支付方式
func (g *Gateway) Method() string {
	return Method
}

type initiateResponse struct {
	Code      interface{} `json:"Code"`
	Message   string      `json:"Message"`
	Reference interface{} `json:"Reference"`
	RequestID string      `json:"RequestId"`
}

// Initiate 生成 Payshop 参考号
func (g *Gateway) Initiate(ctx context.Context, input payment.InitiateInput) (*payment.InitiateResult, error) {
	if strings.TrimSpace(input.OrderID) == "" || strings.TrimSpace(input.Amount) == "" {
		return nil, fmt.Errorf("%w: order id and amount are required", ErrConfigInvalid)
	}
	expiry := g.cfg.Now().AddDate(0, 0, g.cfg.ExpiryDays)
	params := map[string]interface{}{
		"payshopkey": g.cfg.Key,
		"id":         input.OrderID,
		"valor":      input.Amount,
		"validade":   expiry.Format(expiryLayout),
	}
	body, err := payment.PostJSON(ctx, g.client, g.cfg.BaseURL, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	var resp initiateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseInvalid, err)
	}
	code := payment.StringValue(resp.Code)
	reference := payment.StringValue(resp.Reference)
	if code != CodeSuccess || reference == "" {
		return nil, fmt.Errorf("%w: code=%s message=%s", ErrResponseInvalid, code, resp.Message)
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(body, &raw)
	return &payment.InitiateResult{
		RequestID:  strings.TrimSpace(resp.RequestID),
		Reference:  reference,
		ExpiryDate: expiry.Format(displayLayout),
		Message:    resp.Message,
		Raw:        raw,
	}, nil
}

// QueryStatus Payshop 不提供状态查询，只能等待回调
func (g *Gateway) QueryStatus(ctx context.Context, requestID string) (*payment.StatusResult, error) {
	return nil, payment.ErrStatusQueryUnsupported
}
