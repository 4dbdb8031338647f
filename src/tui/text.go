package tui

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

const ellipsis = "..."

// Clip fits s into width display columns and marks a cut with "...".
func Clip(s string, width int) string {
	s = strings.TrimSpace(s)
	switch {
	case width <= 0:
		return ""
	case runewidth.StringWidth(s) <= width:
		return s
	case width <= len(ellipsis):
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width-len(ellipsis), "") + ellipsis
}

// Cell clips s and pads it to exactly width columns.
func Cell(s string, width int) string {
	return runewidth.FillRight(Clip(s, width), width)
}

// Wrap breaks text at spaces into lines of at most width columns. Tokens
// wider than a line (raw log fragments, long paths) are split.
func Wrap(text string, width int) string {
	words := strings.Fields(text)
	if width <= 0 || len(words) == 0 {
		return text
	}

	var (
		lines []string
		line  strings.Builder
		used  int
	)
	for _, word := range words {
		for _, part := range splitWidth(word, width) {
			w := runewidth.StringWidth(part)
			if line.Len() > 0 && used+1+w > width {
				lines = append(lines, line.String())
				line.Reset()
				used = 0
			}
			if line.Len() > 0 {
				line.WriteByte(' ')
				used++
			}
			line.WriteString(part)
			used += w
		}
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

// splitWidth cuts s into pieces no wider than width.
func splitWidth(s string, width int) []string {
	if runewidth.StringWidth(s) <= width {
		return []string{s}
	}
	var (
		parts []string
		cur   strings.Builder
		used  int
	)
	for _, r := range s {
		rw := runewidth.RuneWidth(r)
		if cur.Len() > 0 && used+rw > width {
			parts = append(parts, cur.String())
			cur.Reset()
			used = 0
		}
		cur.WriteRune(r)
		used += rw
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}
