package normalizer

import (
	"fmt"
	"regexp"
	"strings"
)

// NumberPolicy describes the dialable number plan.
type NumberPolicy struct {
	CountryCode    string
	NationalDigits int
}

func DefaultNumberPolicy() NumberPolicy {
	return NumberPolicy{CountryCode: "91", NationalDigits: 10}
}

// Format converts dial-pad input into E.164. Input it cannot interpret is
// returned trimmed so Validate can report it.
func (p NumberPolicy) Format(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case len(digits) == p.NationalDigits:
		return "+" + p.CountryCode + digits
	case len(digits) == len(p.CountryCode)+p.NationalDigits && strings.HasPrefix(digits, p.CountryCode):
		return "+" + digits
	}
	return raw
}

func (p NumberPolicy) pattern() *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`^\+%s\d{%d}$`, regexp.QuoteMeta(p.CountryCode), p.NationalDigits))
}

// Validate checks an already formatted number.
func (p NumberPolicy) Validate(number string) error {
	if number == "" {
		return invalid("to", "phone number is required")
	}
	if !p.pattern().MatchString(number) {
		return invalid("to", "phone number must be +%s followed by %d digits", p.CountryCode, p.NationalDigits)
	}
	return nil
}
