package indexstore

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"unicode"
)

const maxKeyRunes = 100

// Key maps a book title to a filesystem-safe file stem. A title is used
// as-is only when it is already safe and has no upper-case letters, so keys
// never collide on case-insensitive filesystems. Anything else is sanitised
// and suffixed with a short hash of the exact title.
func Key(title string) string {
	safe, ok := sanitize(title)
	if ok && strings.ToLower(safe) == safe {
		return safe
	}
	if safe == "" {
		safe = "book"
	}
	return safe + "-" + hashString(title)
}

// sanitize replaces unsafe runes and trims the result. ok reports whether
// the title came through unchanged.
func sanitize(title string) (safe string, ok bool) {
	var b strings.Builder
	for _, r := range title {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_', r == ' ', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	safe = strings.Trim(b.String(), " .")
	if runes := []rune(safe); len(runes) > maxKeyRunes {
		safe = string(runes[:maxKeyRunes])
	}
	return safe, safe == title && safe != ""
}

// legacyKeys lists the stems a legacy blob for title may have been saved
// under: the current key and, for safe titles, the title itself.
func legacyKeys(title string) []string {
	keys := []string{Key(title)}
	if safe, ok := sanitize(title); ok && safe != keys[0] {
		keys = append(keys, safe)
	}
	return keys
}

func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:4])
}
