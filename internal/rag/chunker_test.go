package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkerSplit(t *testing.T) {
	t.Run("窗口与重叠", func(t *testing.T) {
		c := NewChunker(10, 3, 1)
		chunks := c.Split("abcdefghijklmnopqrstuvwxyz")
		require.Len(t, chunks, 4)
		assert.Equal(t, "abcdefghij", chunks[0])
		assert.Equal(t, "hijklmnopq", chunks[1])
		assert.True(t, strings.HasSuffix(chunks[len(chunks)-1], "z"))
	})

	t.Run("折叠空白", func(t *testing.T) {
		c := NewChunker(900, 120, 5)
		chunks := c.Split("  Protection   of\n\nWomen\tAct  ")
		assert.Equal(t, []string{"Protection of Women Act"}, chunks)
	})

	t.Run("丢弃过短分块", func(t *testing.T) {
		c := NewChunker(900, 120, 5)
		assert.Empty(t, c.Split(" ab "))
		assert.Empty(t, c.Split(""))
	})

	t.Run("按字符而非字节切分", func(t *testing.T) {
		c := NewChunker(4, 0, 1)
		chunks := c.Split("قانونحق")
		require.Len(t, chunks, 2)
		assert.Equal(t, "قانو", chunks[0])
	})
}

func TestNewChunkerDefaults(t *testing.T) {
	c := NewChunker(0, -1, 0)
	assert.Equal(t, 900, c.ChunkSize)
	assert.Equal(t, 0, c.ChunkOverlap)
	assert.Equal(t, 5, c.MinChunkChars)

	c = NewChunker(100, 200, 5)
	assert.Equal(t, 10, c.ChunkOverlap)
}
