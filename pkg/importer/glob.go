package importer

import (
	"errors"
	"strings"
)

// ErrBadEscape indicates a glob-escaped path ending in a dangling backslash.
var ErrBadEscape = errors.New("malformed glob escape")

const _globMeta = `*?[]{}`

// EscapeGlob backslash-escapes glob metacharacters so catalogs that accept
// patterns treat the path literally.
func EscapeGlob(s string) string {
	if !strings.ContainsAny(s, _globMeta) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		if strings.ContainsRune(_globMeta, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// UnescapeGlob reverses EscapeGlob. Catalogs that look paths up literally
// call it on every key they receive.
func UnescapeGlob(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			b.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		default:
			b.WriteRune(r)
		}
	}
	if escaped {
		return "", ErrBadEscape
	}
	return b.String(), nil
}
