package rag

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"legalai/internal/textnorm"
)

// Chunker 固定窗口分块器，窗口之间保留重叠
type Chunker struct {
	ChunkSize     int // 分块大小(字符数)
	ChunkOverlap  int // 重叠大小(字符数)
	MinChunkChars int // 去除首尾空白后短于该值的分块被丢弃
}

// NewChunker 创建新的分块器
func NewChunker(chunkSize, chunkOverlap, minChunkChars int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 10 // 重叠不超过10%
	}
	if minChunkChars <= 0 {
		minChunkChars = 5
	}
	return &Chunker{
		ChunkSize:     chunkSize,
		ChunkOverlap:  chunkOverlap,
		MinChunkChars: minChunkChars,
	}
}

// Split 折叠空白后按字符窗口切分
func (c *Chunker) Split(text string) []string {
	runes := []rune(textnorm.CollapseWhitespace(text))
	if len(runes) == 0 {
		return nil
	}

	chunks := make([]string, 0, len(runes)/c.ChunkSize+1)
	for i := 0; i < len(runes); {
		end := min(len(runes), i+c.ChunkSize)
		chunk := strings.TrimSpace(string(runes[i:end]))
		if len([]rune(chunk)) >= c.MinChunkChars {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
		i = max(end-c.ChunkOverlap, 0)
	}
	return chunks
}

// hashContent 计算内容 SHA-256
func hashContent(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}
