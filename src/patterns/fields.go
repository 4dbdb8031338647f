// Package patterns decodes the structured fields embedded in free-text fault log lines.
//
// Fault lines carry key/value tokens such as
//
//	[2024-05-21 10:00:05.123] SetFunc fa_id:0x0165 fa_st:1 fu_st:0x3 fu_st_n:0x0
//
// The patterns here are shared by the in-process scanner and, through their
// ERE spelling, by the remote grep pipeline, so both sides select the same lines.
package patterns

import (
	"regexp"
	"strconv"
	"strings"

	"faultscope/src/faultid"
)

// Tracked severity codes carried by fu_st / fu_st_n.
const (
	LevelOutOfService = 3
	LevelDamaged      = 4

	// MaxLevel is the largest value a level field may hold.
	MaxLevel = 15
)

// LevelFieldERE matches a level or level-clear field holding one of the tracked
// severity codes. The same text is valid for grep -E and Go's regexp.
const LevelFieldERE = `fu_st(_n)?[[:space:]]*[:=][[:space:]]*(0[xX])?0*[34]([^0-9a-fA-F]|$)`

var (
	levelFieldPattern = regexp.MustCompile(LevelFieldERE)

	// faultIDPattern matches fa_id:0x0165 / fa_id=165.
	faultIDPattern = regexp.MustCompile(`\bfa_id\s*[:=]\s*((?:0[xX])?[0-9a-fA-F]+)\b`)

	// looseIDPattern is used by strategies whose lines do not carry fa_id.
	// Matches: id:0x0165, fault=0x165
	looseIDPattern = regexp.MustCompile(`\b(?:id|fault|fault_id)\s*[:=]\s*(0[xX][0-9a-fA-F]+)\b`)

	reportStatePattern = regexp.MustCompile(`\bfa_st\s*[:=]\s*((?:0[xX])?[0-9a-fA-F]+)\b`)
	levelStatePattern  = regexp.MustCompile(`\bfu_st\s*[:=]\s*((?:0[xX])?[0-9a-fA-F]+)\b`)
	levelClearPattern  = regexp.MustCompile(`\bfu_st_n\s*[:=]\s*((?:0[xX])?[0-9a-fA-F]+)\b`)

	// timestampPattern matches the first bracketed token starting with a digit.
	// Matches: [2024-05-21 10:00:05.123], [  12.345678]
	timestampPattern = regexp.MustCompile(`\[\s*(\d[^\]]*)\]`)
)

// Fields is the decoded content of one line. Pointer fields are nil when the
// token is absent or unparseable.
type Fields struct {
	FaultID         string
	Timestamp       string
	ReportState     *int
	LevelState      *int
	LevelClearState *int
}

// HasTrackedLevel reports whether line carries fu_st or fu_st_n with a tracked
// severity code. This is stage 2 of the primary strategy.
func HasTrackedLevel(line string) bool {
	return levelFieldPattern.MatchString(line)
}

// Decode extracts every known field from line.
func Decode(line string) Fields {
	f := Fields{
		FaultID:   FaultID(line),
		Timestamp: Timestamp(line),
	}
	f.ReportState = intField(reportStatePattern, line, -1)
	f.LevelState = intField(levelStatePattern, line, MaxLevel)
	f.LevelClearState = intField(levelClearPattern, line, MaxLevel)
	return f
}

// DecodeIdentity extracts only the identifier and timestamp. Used by strategies
// that cannot decode state fields.
func DecodeIdentity(line string) Fields {
	id := FaultID(line)
	if id == "" {
		if m := looseIDPattern.FindStringSubmatch(line); m != nil {
			id, _ = faultid.Normalize(m[1])
		}
	}
	return Fields{FaultID: id, Timestamp: Timestamp(line)}
}

// FaultID returns the normalized fa_id of line, or "" if absent.
func FaultID(line string) string {
	m := faultIDPattern.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	id, err := faultid.Normalize(m[1])
	if err != nil {
		return ""
	}
	return id
}

// Timestamp returns the raw bracketed timestamp token without brackets,
// exactly as written in the log.
func Timestamp(line string) string {
	m := timestampPattern.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// IdentifierERE returns a pattern matching any spelling of id under the keys
// fa_id, fault_id, fault or id. Valid for grep -E -i as well as Go's regexp
// with (?i). It may over-match (valid:0x165); decoded identifiers are compared
// exactly afterwards.
func IdentifierERE(id faultid.ID) string {
	return `(id|fault)[[:space:]]*[:=][[:space:]]*(0x)?0*` + id.Digits() + `([^0-9a-f]|$)`
}

// LevelName is the human name of a severity code.
func LevelName(level int) string {
	switch level {
	case LevelOutOfService:
		return "out of service"
	case LevelDamaged:
		return "damaged"
	default:
		return "level " + strconv.Itoa(level)
	}
}

// FormatLevel renders a level the way the log spells it ("0x3").
func FormatLevel(level int) string {
	return "0x" + strconv.FormatInt(int64(level), 16)
}

// IsTrackedLevel reports whether level is out-of-service or damaged.
func IsTrackedLevel(level int) bool {
	return level == LevelOutOfService || level == LevelDamaged
}

func intField(re *regexp.Regexp, line string, max int) *int {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	v, ok := parseInt(m[1])
	if !ok || (max >= 0 && v > max) {
		return nil
	}
	return &v
}

// parseInt reads 0x-prefixed values as hex and everything else as decimal.
func parseInt(s string) (int, bool) {
	base := 10
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
		base = 16
	}
	v, err := strconv.ParseInt(s, base, 32)
	if err != nil || v < 0 {
		return 0, false
	}
	return int(v), true
}
