// Package plate normalizes licence plate numbers typed or recognized with Cyrillic letters.
package plate

import (
	"strings"
	"unicode"
)

// lookalikes maps the Cyrillic letters used on plates to the Latin letter they look like.
var lookalikes = map[rune]rune{
	'А': 'A', 'В': 'B', 'Е': 'E', 'К': 'K', 'М': 'M', 'Н': 'H',
	'О': 'O', 'Р': 'P', 'С': 'C', 'Т': 'T', 'У': 'Y', 'Х': 'X',
	'а': 'a', 'в': 'b', 'е': 'e', 'к': 'k', 'м': 'm', 'н': 'h',
	'о': 'o', 'р': 'p', 'с': 'c', 'т': 't', 'у': 'y', 'х': 'x',
}

// Transliterate replaces the Cyrillic lookalike letters with Latin ones, case is kept.
func Transliterate(s string) string {
	return strings.Map(func(r rune) rune {
		if l, ok := lookalikes[r]; ok {
			return l
		}

		return r
	}, s)
}

// Normalize returns the plate in upper case Latin letters and digits only.
func Normalize(s string) string {
	var b strings.Builder

	for _, r := range s {
		if l, ok := lookalikes[r]; ok {
			r = unicode.ToUpper(l)
		} else {
			r = unicode.ToUpper(r)
		}

		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}

	return b.String()
}
