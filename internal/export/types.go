// Package export renders service-request records as CSV, JSON and PDF.
package export

import (
	"errors"
	"strings"
)

var ErrPDFDependencyMissing = errors.New("pdf export dependency missing")

// Result is a rendered export artifact ready to stream to the client.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// sanitizeFilename keeps letters, digits, dashes and underscores; everything
// else becomes an underscore so the name is safe in Content-Disposition.
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "export"
	}
	return b.String()
}
