package extract

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// PDF extracts text from PDF content streams. It inflates FlateDecode
// streams and collects the string operands of Tj and TJ text-show operators.
// Layout, encoding tables beyond the standard one, and image-only pages are
// out of scope; scanned PDFs yield no text and surface as an error.
type PDF struct{}

// Extensions implements Extractor.
func (PDF) Extensions() []string { return []string{".pdf"} }

var (
	pdfStreamRe = regexp.MustCompile(`(?s)stream\r?\n(.*?)endstream`)
	pdfTextRe   = regexp.MustCompile(`\((?:\\.|[^\\()])*\)\s*Tj|\[(?:[^\[\]]*)\]\s*TJ`)
	pdfStringRe = regexp.MustCompile(`\((?:\\.|[^\\()])*\)`)
)

// Extract implements Extractor.
func (PDF) Extract(data []byte) (string, error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return "", fmt.Errorf("not a PDF file")
	}

	var sb strings.Builder
	for _, m := range pdfStreamRe.FindAllSubmatch(data, -1) {
		raw := m[1]

		content := raw
		if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			if inflated, err := io.ReadAll(zr); err == nil {
				content = inflated
			}
			zr.Close()
		}

		for _, op := range pdfTextRe.FindAll(content, -1) {
			for _, lit := range pdfStringRe.FindAll(op, -1) {
				sb.WriteString(decodePDFString(lit))
			}
			sb.WriteByte(' ')
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("no extractable text in PDF (image-only or unsupported encoding)")
	}
	return text, nil
}

// decodePDFString unescapes a PDF literal string "(...)".
func decodePDFString(lit []byte) string {
	s := lit[1 : len(lit)-1] // strip parentheses

	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '(', ')', '\\':
			sb.WriteByte(s[i])
		default:
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}
