package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	ErrGeneratorNotConfigured = errors.New("report generator not configured")
	ErrAnalysisDataEmpty      = errors.New("report analysis data empty")
	ErrGenerateFailed         = errors.New("report generate failed")
	ErrInvalidDocument        = errors.New("report document invalid")
)

const (
	defaultTimeout  = 120 * time.Second
	maxDocumentSize = 20 << 20
	pdfMagic        = "%PDF"
)

// Generator 根据分析数据生成 PDF 报告
type Generator interface {
	Generate(ctx context.Context, analysisData map[string]interface{}) ([]byte, error)
}

// HTTPGeneratorConfig 远程报告服务配置
type HTTPGeneratorConfig struct {
	URL       string
	AuthToken string
	Timeout   time.Duration
}

// HTTPGenerator 调用远程渲染服务生成报告
type HTTPGenerator struct {
	url       string
	authToken string
	client    *http.Client
}

// NewHTTPGenerator 创建远程报告生成器
func NewHTTPGenerator(cfg HTTPGeneratorConfig) (*HTTPGenerator, error) {
	endpoint := strings.TrimSpace(cfg.URL)
	if endpoint == "" {
		return nil, ErrGeneratorNotConfigured
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPGenerator{
		url:       endpoint,
		authToken: strings.TrimSpace(cfg.AuthToken),
		client:    &http.Client{Timeout: timeout},
	}, nil
}

// Timeout 单次生成请求的超时时间
func (g *HTTPGenerator) Timeout() time.Duration {
	if g == nil || g.client == nil {
		return defaultTimeout
	}
	return g.client.Timeout
}

// Generate 生成报告
func (g *HTTPGenerator) Generate(ctx context.Context, analysisData map[string]interface{}) ([]byte, error) {
	if g == nil {
		return nil, ErrGeneratorNotConfigured
	}
	if len(analysisData) == 0 {
		return nil, ErrAnalysisDataEmpty
	}
	body, err := json.Marshal(map[string]interface{}{"analysis": analysisData})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerateFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerateFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/pdf")
	if g.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+g.authToken)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerateFailed, err)
	}
	defer resp.Body.Close()

	document, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerateFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: http status %d", ErrGenerateFailed, resp.StatusCode)
	}
	if len(document) > maxDocumentSize {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", ErrInvalidDocument, maxDocumentSize)
	}
	if !IsPDF(document) {
		return nil, ErrInvalidDocument
	}
	return document, nil
}

// IsPDF 检查文件头
func IsPDF(document []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(document, " \t\r\n"), []byte(pdfMagic))
}
