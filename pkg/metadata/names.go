package metadata

import (
	"go/token"
	"strings"
	"unicode"
)

// SanitizeName turns a wire field name into a valid identifier. Invalid
// runes become underscores, a leading digit gets an underscore prefix and
// keywords get an underscore suffix.
func SanitizeName(raw string) string {
	if token.IsIdentifier(raw) {
		return raw
	}

	if raw == "" {
		return "_"
	}

	var b strings.Builder

	for i, r := range raw {
		switch {
		case r == '_' || unicode.IsLetter(r):
			b.WriteRune(r)
		case unicode.IsDigit(r):
			if i == 0 {
				b.WriteByte('_')
			}

			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	name := b.String()
	if token.IsKeyword(name) {
		name += "_"
	}

	return name
}
