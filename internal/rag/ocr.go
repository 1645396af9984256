package rag

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// OCR 图像文字识别
type OCR interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// TesseractOCR 调用 tesseract 命令行
type TesseractOCR struct {
	binary    string
	languages string
}

// NewTesseractOCR 创建 OCR；languages 形如 "eng+urd"
func NewTesseractOCR(binary, languages string) *TesseractOCR {
	if binary == "" {
		binary = "tesseract"
	}
	if languages == "" {
		languages = "eng"
	}
	return &TesseractOCR{binary: binary, languages: languages}
}

// Recognize 识别单张图像，结果输出到 stdout
func (o *TesseractOCR) Recognize(ctx context.Context, imagePath string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, o.binary, imagePath, "stdout", "-l", o.languages)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract 识别失败: %w: %s", err, truncateRunes(stderr.String(), 300))
	}
	return strings.TrimSpace(stdout.String()), nil
}
