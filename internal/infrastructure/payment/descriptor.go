package payment

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxStatementDescriptor is the longest descriptor card networks print
const maxStatementDescriptor = 22

// SanitizeStatementDescriptor folds accents ("Tecidos São João" becomes
// "TECIDOS SAO JOAO"), drops characters card networks reject and truncates
// to the printable length.
func SanitizeStatementDescriptor(s string) string {
	if s == "" {
		return ""
	}

	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	lastSpace := false
	for _, r := range strings.ToUpper(folded) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '*', r == '.', r == '-':
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace && b.Len() > 0 {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
		if b.Len() >= maxStatementDescriptor {
			break
		}
	}
	return strings.TrimSpace(b.String())
}
