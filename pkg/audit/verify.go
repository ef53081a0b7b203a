package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

var genesisHash = strings.Repeat("0", 64)

// ReadEntries decodes a JSON-lines audit sink. Blank lines are ignored.
func ReadEntries(r io.Reader) ([]*LogEntry, error) {
	var out []*LogEntry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("failed to decode audit entry on line %d: %w", line, err)
		}
		out = append(out, &e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return out, nil
}

// Report is the outcome of verifying a sink file.
type Report struct {
	Entries  int  `json:"entries"`
	Segments int  `json:"segments"`
	Valid    bool `json:"valid"`
	// FirstInvalid is the index of the first entry that breaks its chain, or
	// -1.
	FirstInvalid int `json:"first_invalid"`
}

// VerifyLog checks entries read from a sink. Every process start begins a
// new chain from the genesis hash, so the file is verified as a sequence of
// segments.
func VerifyLog(entries []*LogEntry) Report {
	rep := Report{Entries: len(entries), Valid: true, FirstInvalid: -1}
	start := 0
	for i := 0; i <= len(entries); i++ {
		if i < len(entries) && (i == 0 || entries[i].PreviousHash != genesisHash) {
			continue
		}
		if i > start {
			rep.Segments++
			if !VerifyChain(entries[start:i]) {
				rep.Valid = false
				rep.FirstInvalid = start + firstBreak(entries[start:i])
				return rep
			}
		}
		start = i
	}
	return rep
}

func firstBreak(entries []*LogEntry) int {
	for i := range entries {
		if !VerifyChain(entries[:i+1]) {
			return i
		}
	}
	return 0
}
