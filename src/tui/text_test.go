package tui

import (
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
	}{
		{"short", "check brake harness", 40},
		{"exact width", "check brake", 11},
		{"multiple lines", "replace the rear brake sensor and re-run the calibration", 15},
		{"long token", "[2024-05-21T10:00:05.123456Z]SetFunc|fa_id:0x0165|fa_st:1|fu_st:0x3|fu_st_n:0x0", 20},
		{"long token after words", "see faultcode=0x00000165_rear_left_brake_sensor now", 12},
		{"wide runes", "制动传感器 fault 0x0165 检查线束 and connector", 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Wrap(tt.text, tt.width)
			for i, line := range strings.Split(result, "\n") {
				assert.LessOrEqual(t, runewidth.StringWidth(line), tt.width, "line %d %q", i, line)
			}
			assert.Equal(t,
				strings.Join(strings.Fields(tt.text), ""),
				strings.Join(strings.Fields(result), ""),
				"wrapping must not drop content")
		})
	}
}

func TestWrap_Lines(t *testing.T) {
	assert.Equal(t, "check brake\nharness", Wrap("check  brake harness", 12))
	assert.Equal(t, "abcde\nfghij\nk ok", Wrap("abcdefghijk ok", 5))
	assert.Equal(t, "", Wrap("", 20))
	assert.Equal(t, "fa_id 0x0165", Wrap("fa_id 0x0165", 0))
}

func TestClip(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  string
	}{
		{"fits", "0x0165", 10, "0x0165"},
		{"cut", "2024-05-21 10:00:05.123", 10, "2024-05..."},
		{"too narrow for ellipsis", "2024-05-21", 3, "202"},
		{"trims spaces", "  open  ", 10, "open"},
		{"zero width", "open", 0, ""},
		{"wide runes", "制动传感器故障", 9, "制动传..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clip(tt.text, tt.width))
		})
	}
}

func TestCell(t *testing.T) {
	assert.Equal(t, "single   ", Cell("single", 9))
	assert.Equal(t, 9, runewidth.StringWidth(Cell("制动传感器故障", 9)))
	assert.Equal(t, "recurr...", Cell("recurring-extra", 9))
}
