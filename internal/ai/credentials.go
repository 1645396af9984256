package ai

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// CredentialProvider 定义凭证提供者接口，允许后续接入加密存储或外部密钥服务
type CredentialProvider interface {
	Get(key string) (string, error)
}

// EnvCredentialProvider 默认实现：从环境变量读取凭证
type EnvCredentialProvider struct{}

// Get 按键名读取环境变量并返回修剪后的值
func (EnvCredentialProvider) Get(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("凭证键名不能为空")
	}
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("环境变量 %s 未设置", key)
	}
	return strings.TrimSpace(value), nil
}

// StaticCredentials 固定凭证表，测试与 CLI 使用
type StaticCredentials map[string]string

// Get 读取固定凭证
func (s StaticCredentials) Get(key string) (string, error) {
	if v, ok := s[key]; ok {
		return strings.TrimSpace(v), nil
	}
	return "", fmt.Errorf("凭证 %s 未配置", key)
}

// APIKeys 单次请求携带的提供商凭证，优先于全局凭证
type APIKeys map[Provider]string

var (
	credentialProvider CredentialProvider = EnvCredentialProvider{}
	credentialMu       sync.RWMutex
)

// RegisterCredentialProvider 允许外部注册自定义凭证提供者
// 传入 nil 时回退到默认的环境变量实现
func RegisterCredentialProvider(provider CredentialProvider) {
	credentialMu.Lock()
	defer credentialMu.Unlock()
	if provider == nil {
		credentialProvider = EnvCredentialProvider{}
		return
	}
	credentialProvider = provider
}

// lookupKey 取提供商 API Key：请求级覆盖 > 注册的凭证提供者
func lookupKey(creds CredentialProvider, p Provider, overrides APIKeys) string {
	if v := strings.TrimSpace(overrides[p]); v != "" {
		return v
	}

	if creds == nil {
		credentialMu.RLock()
		creds = credentialProvider
		credentialMu.RUnlock()
	}
	if creds == nil {
		creds = EnvCredentialProvider{}
	}

	if value, err := creds.Get(p.EnvKey()); err == nil {
		return strings.TrimSpace(value)
	}
	return ""
}
