// Package ingest handles document indexing: chunking and the
// extract-clean-chunk-embed-upsert pipeline.
package ingest

import (
	"strings"
)

// Chunk is a contiguous span of the cleaned document. Start and End are
// character (rune) offsets into the cleaned text; Index is the 0-based
// ordinal within the document.
type Chunk struct {
	Index int
	Text  string
	Start int
	End   int
}

// ChunkerConfig holds sliding-window parameters.
type ChunkerConfig struct {
	Window  int // characters per chunk
	Overlap int // characters shared with the previous chunk
}

// Chunker splits cleaned text into overlapping character windows.
type Chunker struct {
	config ChunkerConfig
}

// NewChunker creates a Chunker, applying defaults for zero values.
func NewChunker(config ChunkerConfig) *Chunker {
	if config.Window <= 0 {
		config.Window = 500
	}
	if config.Overlap < 0 || config.Overlap >= config.Window {
		config.Overlap = 50
	}
	return &Chunker{config: config}
}

// Chunk splits content into windows of Window runes advancing by
// Window-Overlap. Window edges snap back to the nearest whitespace when one
// is close, so words are not split mid-token. Offsets index the rune
// positions of each chunk in content.
func (c *Chunker) Chunk(content string) []Chunk {
	content = strings.TrimRight(content, " \t\n")
	if strings.TrimSpace(content) == "" {
		return nil
	}

	runes := []rune(content)
	step := c.config.Window - c.config.Overlap

	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := start + c.config.Window
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = snapToBoundary(runes, start, end, c.config.Overlap)
		}

		text := strings.TrimSpace(string(runes[start:end]))
		if text != "" {
			chunks = append(chunks, Chunk{
				Index: len(chunks),
				Text:  text,
				Start: start,
				End:   end,
			})
		}

		if end >= len(runes) {
			break
		}
	}

	return chunks
}

// snapToBoundary moves end back to the last whitespace within a small slack
// so chunks do not cut words. The slack never exceeds the overlap, so the
// next window still starts at or before the snapped edge and no text is
// dropped. Falls back to the hard edge when no whitespace is near.
func snapToBoundary(runes []rune, start, end, overlap int) int {
	slack := (end - start) * 15 / 100
	if slack > overlap {
		slack = overlap
	}
	for i := end; i > end-slack && i > start; i-- {
		if isSpace(runes[i-1]) {
			return i
		}
	}
	return end
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}
