// Package parse implements text normalization and entity extraction for
// inbound chat messages. Every function here is a pure function of the text:
// no I/O, no shared state.
package parse

import (
	"strings"
	"unicode"
)

// decorative runes are stripped outright and replaced by a space so keyword
// matching is robust to list bullets and separator glyphs.
var decorativeRunes = map[rune]bool{
	':': true, '：': true,
	'・': true, '•': true, '●': true, '○': true,
	'■': true, '□': true, '◆': true, '▼': true, '▶': true, '★': true,
}

// emphasis runes are kept, but runs of the same mark collapse to one.
var emphasisRunes = map[rune]bool{
	'!': true, '！': true, '?': true, '？': true,
}

// Normalize strips decorative punctuation and collapses whitespace so that
// keyword matching downstream is insensitive to formatting variance.
// It is total: empty input yields empty output, and it never fails.
func Normalize(text string) string {
	var b strings.Builder
	var last rune

	writeSpace := func() {
		if b.Len() > 0 && last != ' ' {
			b.WriteRune(' ')
			last = ' '
		}
	}

	for _, r := range text {
		switch {
		case decorativeRunes[r]:
			writeSpace()
		case unicode.IsSpace(r): // covers full-width space as well
			writeSpace()
		case emphasisRunes[r]:
			if r == last {
				continue // collapse runs like "!!!" down to one mark
			}
			b.WriteRune(r)
			last = r
		default:
			b.WriteRune(r)
			last = r
		}
	}

	return strings.TrimSpace(b.String())
}
