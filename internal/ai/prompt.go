package ai

import (
	"fmt"
	"strconv"
	"strings"

	"legalai/pkg/aiinterface"
)

// NoSourceNotice 无可验证来源时回答必须包含的提示
const NoSourceNotice = "I could not find a verified law reference in my current database. Please submit feedback so we can update our legal sources."

const noSourcesBlock = "No verified legal sources provided."

const answerRules = "Do NOT repeat or duplicate any sentences or sections. " +
	"Avoid markdown tables. Use short headings and bullet lists instead. " +
	"Do not output standalone numeric lines; combine labels with numbers (e.g., 'Issue 1'). " +
	"Never use '$' to indicate section numbers. Use 'Section <number>' instead. " +
	"Provide a complete answer that covers the user's question clearly; do not cut off mid-sentence. " +
	"Always include: 'Laws may vary by province. This information is for awareness only.'"

const answerInstructions = "Write a helpful answer.\n" +
	"- If sources are present and sufficient, include a short 'Sources' section listing only the law names/acts/bodies mentioned in the sources (no URLs).\n" +
	"- If sources are missing or insufficient, do NOT include a Sources section and add this line near the end:\n" +
	"'" + NoSourceNotice + "'"

// languageName 回答语言，仅支持英语与乌尔都语
func languageName(language string) string {
	if language == "ur" {
		return "Urdu"
	}
	return "English"
}

func systemPrompt(language string, multimodal bool) string {
	scope := "When referencing a law/act/section or official body, you MUST only use what is present in the provided sources. "
	if multimodal {
		scope = "When referencing a law/act/section or official body, you MUST only use what is present in the provided sources (text or images). "
	}
	return "You are an AI legal-awareness assistant for Pakistan, focused on helping women. " +
		"You are NOT a lawyer; provide awareness only. " +
		"If the user is in imminent danger, prioritize immediate safety steps first, then legal steps. " +
		fmt.Sprintf("You MUST respond strictly in %s. ", languageName(language)) +
		scope +
		"If the sources do not contain verified law references, you MUST NOT invent any citations. " +
		answerRules
}

func provinceLine(province string) string {
	if province = strings.TrimSpace(province); province != "" {
		return "Province/Region: " + province
	}
	return "Province/Region: unknown"
}

func contextBlock(contexts []string) string {
	if len(contexts) == 0 {
		return noSourcesBlock
	}
	lines := make([]string, len(contexts))
	for i, c := range contexts {
		lines[i] = "- " + c
	}
	return strings.Join(lines, "\n\n")
}

func imageBlock(images []ImageInput) string {
	if len(images) == 0 {
		return ""
	}
	lines := make([]string, len(images))
	for i, img := range images {
		page := "?"
		if img.PageNumber > 0 {
			page = strconv.Itoa(img.PageNumber)
		}
		lines[i] = "- Page " + page
	}
	return "Image sources:\n" + strings.Join(lines, "\n")
}

func userPrompt(req *AnswerRequest, multimodal bool) string {
	var b strings.Builder
	b.WriteString(provinceLine(req.Province))
	b.WriteString("\n\n")
	if multimodal {
		b.WriteString("Verified text sources:\n")
		b.WriteString(contextBlock(req.Contexts))
		b.WriteString("\n\n")
		b.WriteString(imageBlock(req.Images))
		b.WriteString("\n\n")
	} else {
		b.WriteString("Verified sources:\n")
		b.WriteString(contextBlock(req.Contexts))
		b.WriteString("\n\n")
	}
	b.WriteString("User question:\n")
	b.WriteString(req.Question)
	b.WriteString("\n\n")
	b.WriteString(answerInstructions)
	return b.String()
}

// filterHistory 只保留内容非空的 user / assistant 轮次
func filterHistory(history []aiinterface.Message) []aiinterface.Message {
	out := make([]aiinterface.Message, 0, len(history))
	for _, m := range history {
		if m.Role != aiinterface.RoleUser && m.Role != aiinterface.RoleAssistant {
			continue
		}
		if m.Content == "" {
			continue
		}
		out = append(out, aiinterface.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// BuildAnswerMessages 组装 system + 历史 + 用户问题
func BuildAnswerMessages(req *AnswerRequest, multimodal bool) []aiinterface.Message {
	history := filterHistory(req.History)
	messages := make([]aiinterface.Message, 0, len(history)+2)
	messages = append(messages, aiinterface.Message{Role: aiinterface.RoleSystem, Content: systemPrompt(req.Language, multimodal)})
	messages = append(messages, history...)
	messages = append(messages, aiinterface.Message{Role: aiinterface.RoleUser, Content: userPrompt(req, multimodal)})
	return messages
}
