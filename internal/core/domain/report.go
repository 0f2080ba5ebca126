package domain

import (
	"strings"
	"time"
	"unicode"
)

const ReportContentType = "application/pdf"

// ReportArtifact is a rendered, downloadable report document.
type ReportArtifact struct {
	Name        string
	ContentType string
	Content     []byte
	GeneratedAt time.Time
}

// ReportArtifactName is "security-report-<first word of message>.pdf". Characters
// that are unsafe in file names are replaced by '-'.
func ReportArtifactName(message string) string {
	token := "finding"
	if fields := strings.Fields(message); len(fields) > 0 {
		token = sanitizeFileToken(fields[0])
	}
	return "security-report-" + token + ".pdf"
}

func sanitizeFileToken(s string) string {
	out := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.') {
			return r
		}
		return '-'
	}, s)
	out = strings.Trim(out, ".")
	if out == "" {
		return "finding"
	}
	return out
}
