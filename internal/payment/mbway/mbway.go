package mbway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cvlens-pay/internal/payment"
)

var (
	ErrConfigInvalid   = fmt.Errorf("mbway: %w", payment.ErrConfigInvalid)
	ErrRequestFailed   = fmt.Errorf("mbway: %w", payment.ErrRequestFailed)
	ErrResponseInvalid = fmt.Errorf("mbway: %w", payment.ErrResponseInvalid)
)

// 网关状态码
const (
	StatusCodePending = "000" // 请求已受理，等待用户在 App 内确认
	StatusCodeExpired = "101" // 用户未在有效期内确认
)

const (
	// Method 支付方式
	Method = "mbway"
	// DefaultBaseURL 默认接口地址
	DefaultBaseURL     = "https://api.ifthenpay.com/spg/payment/mbway"
	phoneCountryPrefix = "351"
)

// Config MB WAY 配置
type Config struct {
	Key     string
	BaseURL string
	Timeout time.Duration
}

// Gateway MB WAY 网关
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
		return fmt.Errorf("%w: mbway key is required", ErrConfigInvalid)
	}
	return nil
}

// New 创建 MB WAY 网关
func New(cfg Config) (*Gateway, error) {
	cfg.Key = strings.TrimSpace(cfg.Key)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &Gateway{cfg: cfg, client: payment.NewHTTPClient(cfg.Timeout)}, nil
}

// Method 支付方式
func (g *Gateway) Method() string {
	return Method
}

type initiateResponse struct {
	Amount    interface{} `json:"Amount"` // 可能是字符串或数字
	Message   string      `json:"Message"`
	OrderID   string      `json:"OrderId"`
	RequestID string      `json:"RequestId"`
	Status    string      `json:"Status"`
}

// Initiate 向用户手机推送支付请求
func (g *Gateway) Initiate(ctx context.Context, input payment.InitiateInput) (*payment.InitiateResult, error) {
	if strings.TrimSpace(input.OrderID) == "" || strings.TrimSpace(input.Amount) == "" {
		return nil, fmt.Errorf("%w: order id and amount are required", ErrConfigInvalid)
	}
	mobile := FormatMobileNumber(input.CustomerPhone)
	if mobile == "" {
		return nil, fmt.Errorf("%w: mobile number is required", ErrConfigInvalid)
	}
	params := map[string]interface{}{
		"mbWayKey":     g.cfg.Key,
		"orderId":      input.OrderID,
		"amount":       input.Amount,
		"mobileNumber": mobile,
		"email":        input.CustomerEmail,
		"description":  input.Description,
	}
	body, err := payment.PostJSON(ctx, g.client, g.cfg.BaseURL, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	var resp initiateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseInvalid, err)
	}
	if resp.Status != StatusCodePending || strings.TrimSpace(resp.RequestID) == "" {
		return nil, fmt.Errorf("%w: status=%s message=%s", ErrResponseInvalid, resp.Status, resp.Message)
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(body, &raw)
	return &payment.InitiateResult{
		RequestID: strings.TrimSpace(resp.RequestID),
		Message:   resp.Message,
		Raw:       raw,
	}, nil
}

type statusResponse struct {
	CreatedAt string `json:"CreatedAt"`
	Message   string `json:"Message"`
	RequestID string `json:"RequestId"`
	Status    string `json:"Status"`
	UpdateAt  string `json:"UpdateAt"`
}

// QueryStatus 按网关请求号查询状态
func (g *Gateway) QueryStatus(ctx context.Context, requestID string) (*payment.StatusResult, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, fmt.Errorf("%w: request id is required", ErrConfigInvalid)
	}
	query := url.Values{}
	query.Set("mbWayKey", g.cfg.Key)
	query.Set("requestId", requestID)
	endpoint := g.cfg.BaseURL + "/status?" + query.Encode()

	body, err := payment.GetJSON(ctx, g.client, endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseInvalid, err)
	}
	if strings.TrimSpace(resp.Status) == "" {
		return nil, fmt.Errorf("%w: missing status", ErrResponseInvalid)
	}
	return &payment.StatusResult{
		Status:         ToPaymentStatus(resp.Status, resp.Message),
		ProviderStatus: resp.Status,
		Message:        resp.Message,
	}, nil
}

// ToPaymentStatus 将网关状态码转换为支付状态
func ToPaymentStatus(code, message string) string {
	code = strings.TrimSpace(code)
	switch {
	case code == StatusCodePending:
		return payment.StatusPending
	case isSuccessMessage(message):
		return payment.StatusPaid
	case code == StatusCodeExpired:
		return payment.StatusExpired
	default:
		return payment.StatusFailed
	}
}

func isSuccessMessage(message string) bool {
	normalized := strings.ToLower(strings.TrimSpace(message))
	if normalized == "" {
		return false
	}
	for _, token := range []string{"success", "sucesso", "paid", "pago", "concluído", "concluido"} {
		if strings.Contains(normalized, token) {
			return true
		}
	}
	return false
}

// FormatMobileNumber 转换为 351#9XXXXXXXX 格式
func FormatMobileNumber(phone string) string {
	digits := onlyDigits(phone)
	switch {
	case digits == "":
		return ""
	case len(digits) == 12 && strings.HasPrefix(digits, phoneCountryPrefix):
		return phoneCountryPrefix + "#" + digits[len(phoneCountryPrefix):]
	case len(digits) == 9:
		return phoneCountryPrefix + "#" + digits
	default:
		return digits
	}
}

func onlyDigits(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
