package core

import "strings"

// Normalize canonicalizes a column name, field key, label or alias for
// comparison: lowercase, trimmed, every run of characters outside [a-z0-9]
// collapsed to one underscore, no leading or trailing underscore.
//
//	Normalize("  Unit Price ($) ") == "unit_price"
//
// Normalize is idempotent.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))

	var b strings.Builder
	b.Grow(len(name))

	pendingSep := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'a' && c <= 'z' || c >= '0' && c <= '9' {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteByte(c)
			continue
		}
		pendingSep = true
	}

	return b.String()
}
