// Package textnorm 清理检索上下文与模型回答中的排版噪声。
package textnorm

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	headerLine      = regexp.MustCompile(`(?i)^(step|issue|category|section|clause|rule|article|part|item)\s*[:\-–]?\s*$`)
	numberLine      = regexp.MustCompile(`^\s*\$?(\d{1,2})\s*[.)\-]?\s*$`)
	lineDollar      = regexp.MustCompile(`(^|\n)\s*\$(\d+)\b`)
	inlineDollar    = regexp.MustCompile(`(?i)\b(?:section|sec\.?|s\.?)\s*\$(\d+)\b`)
	excessNewlines  = regexp.MustCompile(`\n{3,}`)
	paragraphBreaks = regexp.MustCompile(`\n\s*\n+`)
	whitespaceRun   = regexp.MustCompile(`\s+`)
)

// Normalize 合并“标签 + 单独数字行”，去掉孤立数字行，把 $N 改写为 Section N
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if m := headerLine.FindStringSubmatch(strings.TrimSpace(line)); m != nil && i+1 < len(lines) {
			if n := numberLine.FindStringSubmatch(lines[i+1]); n != nil {
				out = append(out, titleCase(m[1])+" "+n[1])
				i++
				continue
			}
		}
		if numberLine.MatchString(line) {
			continue
		}
		out = append(out, line)
	}

	text = strings.Join(out, "\n")
	text = lineDollar.ReplaceAllString(text, "${1}Section $2")
	text = inlineDollar.ReplaceAllString(text, "Section $1")
	text = excessNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// NormalizeAll 对每段文本执行 Normalize，丢弃清理后为空的段落
func NormalizeAll(texts []string) []string {
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		if n := Normalize(t); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// DedupeParagraphs 按段落去重，比较时忽略大小写与空白差异，保留首次出现的顺序
func DedupeParagraphs(text string) string {
	if text == "" {
		return ""
	}
	parts := paragraphBreaks.Split(text, -1)
	seen := make(map[string]struct{}, len(parts))
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(whitespaceRun.ReplaceAllString(trimmed, " "))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, "\n\n")
}

// CollapseWhitespace 把连续空白折叠为单个空格
func CollapseWhitespace(text string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}

func titleCase(word string) string {
	if word == "" {
		return word
	}
	runes := []rune(strings.ToLower(word))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
