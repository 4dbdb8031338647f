package scan

import (
	"regexp"
	"strings"

	"faultscope/src/patterns"
	"faultscope/src/transport"
)

// Stage is one cheap line filter of a strategy. Exactly one of Fixed or
// Pattern is set; Pattern is written in the ERE subset Go's regexp shares with
// grep -E so the remote and in-process filters agree.
type Stage struct {
	Name    string
	Fixed   string
	Pattern string

	re *regexp.Regexp
}

func fixedStage(name, s string) Stage {
	return Stage{Name: name, Fixed: s}
}

func patternStage(name, ere string) Stage {
	return Stage{Name: name, Pattern: ere, re: regexp.MustCompile(ere)}
}

// Match applies the stage in-process.
func (st Stage) Match(line string) bool {
	if st.re != nil {
		return st.re.MatchString(line)
	}
	return strings.Contains(line, st.Fixed)
}

// Shell renders the stage as a grep invocation. The first stage of a remote
// pipeline numbers its output lines.
func (st Stage) Shell(number bool) string {
	cmd := transport.Grep
	if number {
		cmd += " -n"
	}
	if st.re != nil {
		return cmd + " -E -e " + transport.Quote(st.Pattern)
	}
	return cmd + " -F -e " + transport.Quote(st.Fixed)
}

// Strategy is a named, ordered filter cascade plus the decoder applied to
// its survivors.
type Strategy struct {
	Name   string
	Stages []Stage
	Decode func(line string) patterns.Fields
	// Countable is false when the decoded fields cannot reconstruct
	// report/clear transitions.
	Countable bool
}

// Strategy names.
const (
	PrimaryName  = "setfunc-level"
	FallbackName = "degtbl-drv"
	SearchName   = "keyword"
)

var (
	// Primary keeps SetFunc lines whose level field carries a tracked
	// severity, and decodes every state field.
	Primary = Strategy{
		Name: PrimaryName,
		Stages: []Stage{
			fixedStage("marker", "SetFunc"),
			patternStage("level", patterns.LevelFieldERE),
		},
		Decode:    patterns.Decode,
		Countable: true,
	}

	// Fallback serves log generations without the primary markers. Only the
	// identifier and timestamp are decoded.
	Fallback = Strategy{
		Name: FallbackName,
		Stages: []Stage{
			fixedStage("degtbl", "DegTbl"),
			fixedStage("drv", "Drv"),
		},
		Decode:    patterns.DecodeIdentity,
		Countable: false,
	}

	// Search has no stages; only the caller's predicate filters.
	Search = Strategy{
		Name:   SearchName,
		Decode: patterns.Decode,
	}
)

// FaultStrategies is the priority order used for fault queries.
func FaultStrategies() []Strategy {
	return []Strategy{Primary, Fallback}
}
