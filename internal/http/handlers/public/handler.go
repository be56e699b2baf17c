package public

import "github.com/cvlens-pay/internal/provider"

// Handler 支付公开接口处理器入口
type Handler struct {
	*provider.Container
}

// New 创建公开接口处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
