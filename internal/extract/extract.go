// Package extract turns uploaded document bytes into plain text, dispatching
// on the filename suffix.
package extract

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/corterra/askd/internal/apperr"
)

// Extractor extracts plain text from one document format.
type Extractor interface {
	// Extensions lists the filename suffixes this extractor handles,
	// lowercase with leading dot.
	Extensions() []string

	// Extract returns the plain text of the document.
	Extract(data []byte) (string, error)
}

// Registry dispatches extraction by filename suffix.
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry creates a registry with the default extractors registered.
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Extractor)}
	r.Register(PlainText{})
	r.Register(HTML{})
	r.Register(DOCX{})
	r.Register(PDF{})
	return r
}

// Register adds an extractor for its declared extensions.
func (r *Registry) Register(e Extractor) {
	for _, ext := range e.Extensions() {
		r.byExt[ext] = e
	}
}

// Extract extracts text from data, choosing the extractor by filename suffix.
func (r *Registry) Extract(filename string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	e, ok := r.byExt[ext]
	if !ok {
		return "", apperr.Newf(apperr.InvalidInput, "unsupported document format %q", ext)
	}
	text, err := e.Extract(data)
	if err != nil {
		return "", fmt.Errorf("extracting %s: %w", filename, err)
	}
	return text, nil
}

// PlainText handles .txt and markdown files.
type PlainText struct{}

// Extensions implements Extractor.
func (PlainText) Extensions() []string { return []string{".txt", ".md", ".markdown", ".text"} }

// Extract implements Extractor.
func (PlainText) Extract(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", apperr.New(apperr.InvalidInput, "document is not valid UTF-8")
	}
	return string(data), nil
}
