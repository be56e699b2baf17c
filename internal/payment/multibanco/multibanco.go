package multibanco

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
	ErrConfigInvalid   = fmt.Errorf("multibanco: %w", payment.ErrConfigInvalid)
	ErrRequestFailed   = fmt.Errorf("multibanco: %w", payment.ErrRequestFailed)
	ErrResponseInvalid = fmt.Errorf("multibanco: %w", payment.ErrResponseInvalid)
)

const (
	// Method 支付方式
	Method = "multibanco"
	// DefaultBaseURL 默认接口地址
	DefaultBaseURL = "https://api.ifthenpay.com/multibanco/reference/init"
	// DefaultExpiryDays 参考号默认有效天数
	DefaultExpiryDays = 3
)

// Config Multibanco 配置
type Config struct {
	Key        string
	BaseURL    string
	ExpiryDays int
	Timeout    time.Duration
}

// Gateway Multibanco 参考号网关
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
		return fmt.Errorf("%w: multibanco key is required", ErrConfigInvalid)
	}
	if cfg.ExpiryDays < 0 {
		return fmt.Errorf("%w: expiry days must not be negative", ErrConfigInvalid)
	}
	return nil
}

// New 创建 Multibanco 网关
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
	return &Gateway{cfg: cfg, client: payment.NewHTTPClient(cfg.Timeout)}, nil
}

// Method 支付方式
func (g *Gateway) Method() string {
	return Method
}

type initiateResponse struct {
	Amount     interface{} `json:"Amount"`
	Entity     interface{} `json:"Entity"`
	ExpiryDate string      `json:"ExpiryDate"`
	Message    string      `json:"Message"`
	OrderID    string      `json:"OrderId"`
	Reference  interface{} `json:"Reference"`
	RequestID  string      `json:"RequestId"`
	Status     string      `json:"Status"`
}

// Initiate 生成 ATM 实体与参考号
func (g *Gateway) Initiate(ctx context.Context, input payment.InitiateInput) (*payment.InitiateResult, error) {
	if strings.TrimSpace(input.OrderID) == "" || strings.TrimSpace(input.Amount) == "" {
		return nil, fmt.Errorf("%w: order id and amount are required", ErrConfigInvalid)
	}
	params := map[string]interface{}{
		"mbKey":       g.cfg.Key,
		"orderId":     input.OrderID,
		"amount":      input.Amount,
		"description": input.Description,
		"clientEmail": input.CustomerEmail,
		"clientName":  input.CustomerName,
		"expiryDays":  g.cfg.ExpiryDays,
	}
	body, err := payment.PostJSON(ctx, g.client, g.cfg.BaseURL, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	var resp initiateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseInvalid, err)
	}
	entity := payment.StringValue(resp.Entity)
	reference := payment.StringValue(resp.Reference)
	if entity == "" || reference == "" {
		return nil, fmt.Errorf("%w: missing entity or reference (message=%s)", ErrResponseInvalid, resp.Message)
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(body, &raw)
	return &payment.InitiateResult{
		RequestID:  strings.TrimSpace(resp.RequestID),
		Entity:     entity,
		Reference:  reference,
		ExpiryDate: strings.TrimSpace(resp.ExpiryDate),
		Message:    resp.Message,
		Raw:        raw,
	}, nil
}

// QueryStatus Multibanco 不提供状态查询，只能等待回调
func (g *Gateway) QueryStatus(ctx context.Context, requestID string) (*payment.StatusResult, error) {
	return nil, payment.ErrStatusQueryUnsupported
}
