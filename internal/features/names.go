package features

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// nameParts splits a normalized full name into its first and last token.
// A single-token name has no last token.
func nameParts(full string) (first, last string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], parts[len(parts)-1]
	}
}

// MatchVariant reports the first registered name, oldest first, that
// shares a first token, or failing that a last token, with holder.
// holder must not itself be registered.
func MatchVariant(holder string, known []string) string {
	first, last := nameParts(holder)
	if first == "" {
		return ""
	}

	for _, stored := range known {
		if stored == holder {
			continue
		}
		storedFirst, storedLast := nameParts(stored)
		if storedFirst == "" {
			continue
		}
		if first == storedFirst {
			return fmt.Sprintf("Name variation detected: Previously used '%s', now using '%s'", stored, holder)
		}
		if last != "" && storedLast != "" && last == storedLast {
			return fmt.Sprintf("Suspicious: Same last name '%s' with different first name. Previously: '%s'", last, stored)
		}
	}
	return ""
}

// SuspiciousName reports names that are too short, purely numeric, one
// repeated character, or free of letters.
func SuspiciousName(name string) bool {
	if utf8.RuneCountInString(name) < 3 {
		return true
	}
	return allDigits(name) || repeatedRune(name) || !hasLetter(name)
}

// SuspiciousAccount reports account numbers shorter than eight characters
// or made of one repeated character.
func SuspiciousAccount(account string) bool {
	return utf8.RuneCountInString(account) < 8 || repeatedRune(account)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// repeatedRune is true for strings of two or more copies of one rune.
func repeatedRune(s string) bool {
	first, size := utf8.DecodeRuneInString(s)
	if size == 0 || size == len(s) {
		return false
	}
	for _, r := range s[size:] {
		if r != first {
			return false
		}
	}
	return true
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
