package validator

import "strings"

// NormalizePhone strips formatting characters and turns a leading 00 into +.
// The result is not validated; run it through the e164 tag afterwards.
func NormalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}

	out := b.String()
	if strings.HasPrefix(out, "00") {
		out = "+" + out[2:]
	}
	return out
}
