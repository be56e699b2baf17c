package secrets

import (
	"errors"
	"os"
	"strings"
)

// ErrSecretNotFound 密钥不存在
var ErrSecretNotFound = errors.New("secret not found")

// Provider 密钥来源
type Provider interface {
	GetSecret(name string) (string, error)
}

// StaticProvider 基于配置文件 secrets 段的密钥来源
type StaticProvider struct {
	values map[string]string
}

// NewStaticProvider 创建静态密钥来源，键名不区分大小写
func NewStaticProvider(values map[string]string) *StaticProvider {
	normalized := make(map[string]string, len(values))
	for key, value := range values {
		name := normalizeName(key)
		if name == "" {
			continue
		}
		normalized[name] = value
	}
	return &StaticProvider{values: normalized}
}

// GetSecret 读取密钥
func (p *StaticProvider) GetSecret(name string) (string, error) {
	if p == nil {
		return "", ErrSecretNotFound
	}
	value, ok := p.values[normalizeName(name)]
	if !ok || strings.TrimSpace(value) == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// EnvProvider 从环境变量读取密钥，名称转为大写并加前缀
type EnvProvider struct {
	Prefix string
}

// GetSecret 读取密钥
func (p EnvProvider) GetSecret(name string) (string, error) {
	key := strings.ToUpper(p.Prefix + normalizeName(name))
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// ChainProvider 按顺序查找，返回第一个命中的密钥
type ChainProvider []Provider

// GetSecret 读取密钥
func (c ChainProvider) GetSecret(name string) (string, error) {
	for _, provider := range c {
		if provider == nil {
			continue
		}
		value, err := provider.GetSecret(name)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			return "", err
		}
	}
	return "", ErrSecretNotFound
}

// Resolve 读取密钥，未找到时使用 fallback
func Resolve(provider Provider, name, fallback string) string {
	if provider != nil {
		if value, err := provider.GetSecret(name); err == nil {
			return strings.TrimSpace(value)
		}
	}
	return strings.TrimSpace(fallback)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
