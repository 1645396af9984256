package ai

import (
	"fmt"
	"net/http"

	"legalai/pkg/aiinterface"
)

// BuildChain 主提供商在前，随后是回退列表，去重且保持顺序
func BuildChain(primary Provider, fallbacks []Provider) []Provider {
	if len(fallbacks) == 0 {
		fallbacks = DefaultFallbacks
	}
	chain := make([]Provider, 0, len(fallbacks)+1)
	seen := make(map[Provider]bool, len(fallbacks)+1)
	for _, p := range append([]Provider{primary}, fallbacks...) {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		chain = append(chain, p)
	}
	return chain
}

// ParseFallbacks 解析配置中的回退列表，跳过未知名称
func ParseFallbacks(raw []string) []Provider {
	out := make([]Provider, 0, len(raw))
	for _, r := range raw {
		if p, ok := ParseProvider(r); ok {
			out = append(out, p)
		}
	}
	return out
}

// Attempt 单个候选提供商的调用结果
type Attempt struct {
	Provider Provider
	Model    string
	Text     string
	Usage    aiinterface.Usage
	Err      *aiinterface.ProviderError
	Skipped  bool // 未配置 Key，未发起请求
}

// Step 回退决策
type Step int

const (
	StepStop    Step = iota // 成功，返回结果
	StepAdvance             // 切换到下一个提供商
	StepFail                // 不可恢复，立即返回错误
)

// NextStep 根据单次尝试结果决定下一步
func NextStep(a Attempt) Step {
	switch {
	case a.Skipped:
		return StepAdvance
	case a.Err == nil:
		return StepStop
	case a.Err.Retryable():
		return StepAdvance
	default:
		return StepFail
	}
}

// chainError 整条链耗尽后的错误：全部缺 Key 时报主提供商缺 Key，否则返回最后一个错误
func chainError(primary Provider, attempts []Attempt) *aiinterface.ProviderError {
	var last *aiinterface.ProviderError
	for _, a := range attempts {
		if a.Err != nil {
			last = a.Err
		}
	}
	if last != nil {
		return last
	}
	return missingKeyError(primary)
}

func missingKeyError(p Provider) *aiinterface.ProviderError {
	return &aiinterface.ProviderError{
		Code:     aiinterface.CodeMissingAPIKey,
		Status:   http.StatusUnauthorized,
		Provider: p.String(),
		Purpose:  "chat",
		Message:  fmt.Sprintf("Missing %s API key.", p),
	}
}
