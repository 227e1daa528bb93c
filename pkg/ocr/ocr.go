// Package ocr turns rendered page images into text lines.
package ocr

import (
	"context"
	"strings"
)

// Recognizer returns the text lines found in one encoded page image.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) ([]string, error)
}

// PageText lays out the lines of one page: every non-blank line ends with a
// newline and the page is closed by a blank line. A page without text is "".
func PageText(lines []string) string {
	var b strings.Builder
	for _, l := range lines {
		l = strings.TrimRight(l, " \t\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		b.WriteString(l)
		b.WriteByte('\n')
	}
	if b.Len() == 0 {
		return ""
	}
	b.WriteString("\n\n")
	return b.String()
}

// Lines splits raw recognizer output into lines.
func Lines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}
