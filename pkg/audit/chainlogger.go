package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// LogEntry represents a single audit log entry
type LogEntry struct {
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Payload      string `json:"payload"`
	Hash         string `json:"hash"`
}

// Event is a reconciliation decision worth keeping: a manual match
// resolution, a session cancellation, a rule change.
type Event struct {
	Action     string `json:"action"`
	Actor      string `json:"actor"`
	Resource   string `json:"resource"`
	ResourceID string `json:"resource_id"`
	SessionID  string `json:"session_id,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// ChainLogger provides a tamper-evident log using hash chaining. Entries are
// kept in memory and, when a sink is set, written to it as JSON lines.
type ChainLogger struct {
	mu           sync.Mutex
	previousHash string
	entries      []*LogEntry
	sink         io.Writer
	now          func() time.Time
}

// NewChainLogger creates a new ChainLogger initialized with a zero hash.
// sink may be nil.
func NewChainLogger(sink io.Writer) *ChainLogger {
	return &ChainLogger{
		previousHash: genesisHash,
		sink:         sink,
		now:          time.Now,
	}
}

// Append adds a new log entry to the chain.
func (c *ChainLogger) Append(payload string) *LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &LogEntry{
		Timestamp:    c.now().UTC().Format(time.RFC3339Nano),
		PreviousHash: c.previousHash,
		Payload:      payload,
	}
	entry.Hash = entryHash(entry.PreviousHash, entry.Timestamp, entry.Payload)

	c.previousHash = entry.Hash
	c.entries = append(c.entries, entry)
	if c.sink != nil {
		if b, err := json.Marshal(entry); err == nil {
			_, _ = c.sink.Write(append(b, '\n'))
		}
	}
	return entry
}

// Record appends e as a JSON payload.
func (c *ChainLogger) Record(_ context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	c.Append(string(b))
	return nil
}

// Entries returns a copy of the chain so far.
func (c *ChainLogger) Entries() []*LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*LogEntry, len(c.entries))
	for i, e := range c.entries {
		cp := *e
		out[i] = &cp
	}
	return out
}

// Events decodes the recorded events, skipping entries that are not events.
func (c *ChainLogger) Events() []Event {
	var out []Event
	for _, e := range c.Entries() {
		var ev Event
		if err := json.Unmarshal([]byte(e.Payload), &ev); err == nil && ev.Action != "" {
			out = append(out, ev)
		}
	}
	return out
}

func entryHash(prev, ts, payload string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", prev, ts, payload)))
	return hex.EncodeToString(hash[:])
}

// VerifyChain checks if a slice of entries forms a valid hash chain.
func VerifyChain(entries []*LogEntry) bool {
	for i, entry := range entries {
		prevHash := entry.PreviousHash
		if i > 0 {
			prevHash = entries[i-1].Hash
			if entry.PreviousHash != prevHash {
				return false
			}
		}
		if entryHash(prevHash, entry.Timestamp, entry.Payload) != entry.Hash {
			return false
		}
	}
	return true
}
