package session

import "strings"

// phase is one scan over a session's statements. A pass runs phaseRules
// (auto-match rules only) before phaseMatch (rules and fuzzy scoring), so
// rule-confirmed pairs claim their ledger entries before any suggestion.
type phase string

const (
	phaseRules phase = "rules"
	phaseMatch phase = "match"
)

// checkpoint encodes the last committed statement id of a phase.
func (p phase) checkpoint(cursor string) string {
	return string(p) + ":" + cursor
}

// parseCheckpoint splits a stored checkpoint. An empty checkpoint starts the
// pass from the beginning; an unprefixed one is a matching-phase cursor.
func parseCheckpoint(s string) (phase, string) {
	if s == "" {
		return phaseRules, ""
	}
	if p, cursor, ok := strings.Cut(s, ":"); ok {
		switch phase(p) {
		case phaseRules, phaseMatch:
			return phase(p), cursor
		}
	}
	return phaseMatch, s
}
