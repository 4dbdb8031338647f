// Package occurrence folds matched lines into one OccurrenceRecord per fault
// identifier.
package occurrence

import (
	"sort"

	"faultscope/src/contracts"
	"faultscope/src/patterns"
)

type signal int

const (
	signalNone signal = iota
	signalReport
	signalClear
)

// signalOf merges the two signal sources of a line. fa_st decides when
// present; otherwise the level fields do, and a tracked fu_st_n (clear) wins
// over a tracked fu_st on the same line.
func signalOf(m contracts.MatchedLine) signal {
	if m.ReportState != nil {
		switch *m.ReportState {
		case 1:
			return signalReport
		case 0:
			return signalClear
		default:
			return signalNone
		}
	}
	if m.LevelClearState != nil && patterns.IsTrackedLevel(*m.LevelClearState) {
		return signalClear
	}
	if m.LevelState != nil && patterns.IsTrackedLevel(*m.LevelState) {
		return signalReport
	}
	return signalNone
}

type state struct {
	firstReport string
	firstSeen   string
	lastSeen    string
	sawReport   bool
	last        signal
	count       int
	countable   bool
	level       int
	clearLevel  int
}

// Tracker is single-use and not safe for concurrent use; each query owns one.
type Tracker struct {
	states map[string]*state
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{states: make(map[string]*state)}
}

// Consume feeds one matched line. Lines must arrive in file order. Lines
// without an identifier are ignored.
func (t *Tracker) Consume(m contracts.MatchedLine) {
	if m.FaultID == "" {
		return
	}
	st, ok := t.states[m.FaultID]
	if !ok {
		st = &state{}
		t.states[m.FaultID] = st
	}

	if m.Timestamp != "" {
		if st.firstSeen == "" {
			st.firstSeen = m.Timestamp
		}
		st.lastSeen = m.Timestamp
	}
	if m.LevelState != nil && patterns.IsTrackedLevel(*m.LevelState) && *m.LevelState > st.level {
		st.level = *m.LevelState
	}
	if m.LevelClearState != nil && patterns.IsTrackedLevel(*m.LevelClearState) && *m.LevelClearState > st.clearLevel {
		st.clearLevel = *m.LevelClearState
	}
	if !m.Countable {
		return
	}
	st.countable = true

	switch signalOf(m) {
	case signalReport:
		if !st.sawReport || st.firstReport == "" {
			st.firstReport = m.Timestamp
		}
		st.sawReport = true
		st.last = signalReport
	case signalClear:
		if st.last == signalReport {
			st.count++
		}
		st.last = signalClear
	}
}

// Len returns the number of identifiers seen.
func (t *Tracker) Len() int {
	return len(t.states)
}

// Finalize builds the records. The tracker may keep consuming afterwards.
func (t *Tracker) Finalize() map[string]contracts.OccurrenceRecord {
	out := make(map[string]contracts.OccurrenceRecord, len(t.states))
	for id, st := range t.states {
		out[id] = st.record(id)
	}
	return out
}

// Records returns the finalized records ordered by identifier.
func (t *Tracker) Records() []contracts.OccurrenceRecord {
	return Sorted(t.Finalize())
}

// Sorted orders records by identifier.
func Sorted(m map[string]contracts.OccurrenceRecord) []contracts.OccurrenceRecord {
	out := make([]contracts.OccurrenceRecord, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FaultID < out[j].FaultID })
	return out
}

func (st *state) record(id string) contracts.OccurrenceRecord {
	rec := contracts.OccurrenceRecord{FaultID: id}

	first := st.firstReport
	if first == "" {
		first = st.firstSeen
	}
	rec.FirstOccurrence = optional(first)
	rec.LastOccurrence = optional(st.lastSeen)

	if st.countable {
		count := st.count
		// A fault raised and never cleared before the log ends still
		// happened once.
		if count == 0 && st.sawReport {
			count = 1
		}
		rec.OccurrenceCount = &count
		rec.Open = st.last == signalReport
	}

	level := st.level
	if level == 0 {
		level = st.clearLevel
	}
	if level != 0 {
		rec.Level = optional(patterns.FormatLevel(level))
	}
	return rec
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
