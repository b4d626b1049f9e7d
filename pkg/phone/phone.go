package phone

import "regexp"

// E.164: leading +, no leading zero, 2-15 digits total.
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// IsValidE164 reports whether number is a well-formed E.164 phone number.
// No normalization is attempted; callers must pass an already-normalized
// number (no spaces, dashes or parentheses).
func IsValidE164(number string) bool {
	return e164Pattern.MatchString(number)
}
