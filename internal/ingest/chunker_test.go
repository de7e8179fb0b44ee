package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChunker_Defaults(t *testing.T) {
	c := NewChunker(ChunkerConfig{})
	assert.Equal(t, 500, c.config.Window)
	assert.Equal(t, 50, c.config.Overlap)

	// Overlap must stay below the window.
	c = NewChunker(ChunkerConfig{Window: 100, Overlap: 100})
	assert.Equal(t, 50, c.config.Overlap)
}

func TestChunker_EmptyContent(t *testing.T) {
	c := NewChunker(ChunkerConfig{Window: 100, Overlap: 20})
	assert.Nil(t, c.Chunk(""))
	assert.Nil(t, c.Chunk("   \n\t  "))
}

func TestChunker_SingleWindow(t *testing.T) {
	c := NewChunker(ChunkerConfig{Window: 100, Overlap: 20})
	chunks := c.Chunk("short document")

	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "short document", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Start)
}

func TestChunker_WindowAndOverlap(t *testing.T) {
	c := NewChunker(ChunkerConfig{Window: 100, Overlap: 20})

	words := make([]string, 80)
	for i := range words {
		words[i] = "word"
	}
	content := strings.Join(words, " ") // 399 runes

	chunks := c.Chunk(content)
	require.Greater(t, len(chunks), 1)

	runes := []rune(content)
	step := 100 - 20
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index, "chunk ordinals must be contiguous")
		assert.Equal(t, i*step, chunk.Start, "windows advance by window-overlap")
		assert.LessOrEqual(t, chunk.End-chunk.Start, 100)
		assert.NotEmpty(t, chunk.Text)
		assert.Contains(t, content, chunk.Text)

		// The snapped edge never retreats past the next window start, so no
		// span of the document is dropped.
		if i+1 < len(chunks) {
			assert.GreaterOrEqual(t, chunk.End, chunks[i+1].Start)
		}
	}
	last := chunks[len(chunks)-1]
	assert.Equal(t, len(runes), last.End)
}

func TestChunker_SnapsToWordBoundary(t *testing.T) {
	c := NewChunker(ChunkerConfig{Window: 30, Overlap: 10})

	vocab := []string{"cat", "dog", "fox", "owl"}
	words := make([]string, 40)
	for i := range words {
		words[i] = vocab[i%len(vocab)]
	}
	content := strings.Join(words, " ")

	chunks := c.Chunk(content)
	require.NotEmpty(t, chunks)

	for _, chunk := range chunks {
		for _, w := range strings.Fields(chunk.Text) {
			assert.Contains(t, vocab, w, "chunking must not split words")
		}
	}
}

func TestChunker_MultibyteOffsetsAreRunes(t *testing.T) {
	c := NewChunker(ChunkerConfig{Window: 10, Overlap: 2})

	content := "héllo wörld héllo wörld"
	chunks := c.Chunk(content)
	require.NotEmpty(t, chunks)

	runes := []rune(content)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, chunk.End, len(runes))
		assert.Equal(t, strings.TrimSpace(string(runes[chunk.Start:chunk.End])), chunk.Text)
	}
}
