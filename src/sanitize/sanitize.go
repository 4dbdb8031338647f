// Package sanitize turns raw log bytes into clean text before matching.
// Log captures contain arbitrary bytes and, when read through a remote shell,
// occasional terminal escape sequences; neither may abort a scan.
package sanitize

import (
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
)

// Line decodes one raw line. Invalid UTF-8 sequences are replaced with U+FFFD,
// escape sequences and a trailing carriage return are removed.
func Line(raw []byte) string {
	s := string(raw)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	s = strings.TrimSuffix(s, "\r")
	if strings.IndexByte(s, 0x1b) >= 0 {
		s = ansi.Strip(s)
	}
	return s
}

// Text removes terminal escape sequences and control characters other than
// newline and tab from operator-supplied text before it reaches a terminal.
func Text(s string) string {
	s = ansi.Strip(s)
	return strings.Map(func(r rune) rune {
		if (r < 0x20 && r != '\n' && r != '\t') || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
