package ai

import (
	"regexp"
	"strings"

	"legalai/internal/textnorm"
)

var (
	sourcesHeading = regexp.MustCompile(`(?i)^\s*(?:#{1,6}\s*)?(?:\*\*)?\s*(?:verified\s+)?sources?\s*(?:\*\*)?\s*(?::.*)?$`)
	listLine       = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+`)
)

// DedupeAnswer 按段落去重，忽略大小写与空白差异
func DedupeAnswer(answer string) string {
	return textnorm.DedupeParagraphs(strings.TrimSpace(answer))
}

// NormalizeAnswer 清理孤立数字行与 $N 记号
func NormalizeAnswer(answer string) string {
	return textnorm.Normalize(answer)
}

// EnforceNoSourceContract 无可验证来源时去掉 Sources 段并确保包含提示语
func EnforceNoSourceContract(answer string) string {
	paragraphs := strings.Split(answer, "\n\n")
	kept := make([]string, 0, len(paragraphs))
	dropList := false
	for _, para := range paragraphs {
		if strings.TrimSpace(para) == "" {
			continue
		}
		lines := strings.Split(strings.TrimSpace(para), "\n")
		if sourcesHeading.MatchString(lines[0]) {
			// 仅有标题时，紧随其后的列表也属于 Sources 段
			dropList = len(lines) == 1
			continue
		}
		if dropList && listLine.MatchString(lines[0]) {
			dropList = false
			continue
		}
		dropList = false
		kept = append(kept, para)
	}

	out := strings.Join(kept, "\n\n")
	if !strings.Contains(strings.ToLower(out), strings.ToLower(NoSourceNotice)) {
		if out != "" {
			out += "\n\n"
		}
		out += NoSourceNotice
	}
	return out
}

// PostProcessAnswer 去重、排版清理，并在没有上下文时执行无来源约定
func PostProcessAnswer(answer string, hasSources bool) string {
	out := NormalizeAnswer(DedupeAnswer(answer))
	if !hasSources {
		out = EnforceNoSourceContract(out)
	}
	return out
}
