package archive

import (
	"crypto/sha256"
	"fmt"
	"regexp"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`(?:\+?51[\s-]?)?9\d{2}[\s-]?\d{3}[\s-]?\d{3}`)
	dniRe   = regexp.MustCompile(`\b\d{8}\b`)
)

// Hash returns the hex-encoded SHA-256 of an identifier such as a phone
// number or document number.
func Hash(value string) string {
	h := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", h)
}

// ScrubPII replaces emails with [EMAIL], mobile numbers with [PHONE] and
// 8-digit document numbers with [DNI].
func ScrubPII(text string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = phoneRe.ReplaceAllString(text, "[PHONE]")
	text = dniRe.ReplaceAllString(text, "[DNI]")
	return text
}
