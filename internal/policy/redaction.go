package policy

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
)

// RedactPII masks emails and phone numbers before text reaches the logs.
func RedactPII(input string) (redacted string, changed bool) {
	out := emailPattern.ReplaceAllString(input, "[REDACTED_EMAIL]")
	out = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	return out, out != input
}

// MaskContact keeps the last four digits of a contact number so log lines
// stay correlatable without exposing the number.
func MaskContact(contact string) string {
	digits := make([]rune, 0, len(contact))
	for _, r := range contact {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) <= 4 {
		return "****"
	}
	return "****" + string(digits[len(digits)-4:])
}
