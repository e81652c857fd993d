package intent

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	authPattern        = regexp.MustCompile(`\b(\d{8})\s+(\d{4})\b`)
	creditLabelPattern = regexp.MustCompile(`(?:prestamo|préstamo|credito|crédito)[\s#:]*(\d+)`)
	bareNumberPattern  = regexp.MustCompile(`\b\d+\b`)
)

// AuthData is the document number and birth year a partner authenticates with.
type AuthData struct {
	DocumentNumber string
	BirthYear      string
}

// IsAuthMessage reports whether text carries an 8-digit document followed by a 4-digit year.
func IsAuthMessage(text string) bool {
	return authPattern.MatchString(text)
}

// ExtractAuth pulls the first document/birth-year pair out of text.
func ExtractAuth(text string) (AuthData, bool) {
	m := authPattern.FindStringSubmatch(text)
	if m == nil {
		return AuthData{}, false
	}
	return AuthData{DocumentNumber: m[1], BirthYear: m[2]}, true
}

// ExtractCreditID finds a credit id in text. A label-prefixed number
// ("credito 123", "préstamo #9") wins; otherwise a single bare number is
// accepted. Several bare numbers are ambiguous and yield no id.
func ExtractCreditID(text string) (int64, bool) {
	lower := strings.ToLower(text)
	if m := creditLabelPattern.FindStringSubmatch(lower); m != nil {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return id, true
		}
	}

	numbers := bareNumberPattern.FindAllString(text, -1)
	if len(numbers) != 1 {
		return 0, false
	}
	id, err := strconv.ParseInt(numbers[0], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
