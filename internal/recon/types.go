// Package recon holds the reconciliation domain model shared by the matching
// engine, the session manager and the transports.
package recon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire and storage format of calendar dates.
const DateLayout = "2006-01-02"

// LedgerTransaction is an internal ledger entry. Read-only for this system.
type LedgerTransaction struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Date        time.Time       `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// StatementTransaction is a canonical bank statement line. Immutable once
// imported into a session.
type StatementTransaction struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Date        time.Time       `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	ExternalRef string          `json:"external_ref,omitempty"`
}

// DerivedID hashes the identifying fields of the line. It is used when the
// source does not assign ids.
func (s StatementTransaction) DerivedID() string {
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{
		s.AccountID,
		s.Date.UTC().Format(DateLayout),
		s.Amount.String(),
		s.Description,
		s.ExternalRef,
	}, "|")))
	return "st_" + hex.EncodeToString(h.Sum(nil))[:32]
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls on a day inside the range.
func (r DateRange) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(Day(r.Start)) && !d.After(Day(r.End))
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayNumber returns the number of days since the Unix epoch for t's UTC day.
func DayNumber(t time.Time) int64 {
	return Day(t).Unix() / 86400
}

// DaysApart is the absolute number of calendar days between a and b.
func DaysApart(a, b time.Time) int {
	d := DayNumber(a) - DayNumber(b)
	if d < 0 {
		d = -d
	}
	return int(d)
}

// ParseDate parses a YYYY-MM-DD date in UTC.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
}

// SessionStatus is the lifecycle state of a reconciliation session.
type SessionStatus string

const (
	StatusPending    SessionStatus = "pending"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusCancelled  SessionStatus = "cancelled"
	StatusFailed     SessionStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Session is one reconciliation of an account over a period.
type Session struct {
	ID            string        `json:"id"`
	AccountID     string        `json:"account_id"`
	PeriodStart   time.Time     `json:"period_start"`
	PeriodEnd     time.Time     `json:"period_end"`
	Status        SessionStatus `json:"status"`
	ErrorSummary  ErrorSummary  `json:"error_summary"`
	Checkpoint    string        `json:"checkpoint,omitempty"`
	PassCount     int           `json:"pass_count"`
	StopRequested bool          `json:"stop_requested"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Period returns the session period as a DateRange.
func (s Session) Period() DateRange {
	return DateRange{Start: s.PeriodStart, End: s.PeriodEnd}
}

// MatchStatus is the resolution state of a proposed pairing.
type MatchStatus string

const (
	MatchSuggested MatchStatus = "suggested"
	MatchConfirmed MatchStatus = "confirmed"
	MatchRejected  MatchStatus = "rejected"
)

// SourceKind distinguishes rule-produced from fuzzy-produced matches.
type SourceKind string

const (
	SourceRule  SourceKind = "rule"
	SourceFuzzy SourceKind = "fuzzy"
)

// MatchSource records what produced a match: a rule id or a fuzzy score.
type MatchSource struct {
	Kind   SourceKind `json:"kind"`
	RuleID string     `json:"rule_id,omitempty"`
	Score  float64    `json:"score,omitempty"`
}

// RuleSource builds the source of a rule match.
func RuleSource(ruleID string) MatchSource {
	return MatchSource{Kind: SourceRule, RuleID: ruleID}
}

// FuzzySource builds the source of a heuristic match.
func FuzzySource(score float64) MatchSource {
	return MatchSource{Kind: SourceFuzzy, Score: score}
}

// Match pairs one ledger transaction with one statement transaction.
type Match struct {
	ID             string      `json:"id"`
	SessionID      string      `json:"session_id"`
	LedgerTxnID    string      `json:"ledger_txn_id"`
	StatementTxnID string      `json:"statement_txn_id"`
	Confidence     float64     `json:"confidence"`
	Status         MatchStatus `json:"status"`
	Source         MatchSource `json:"source"`
	CreatedAt      time.Time   `json:"created_at"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty"`
	ResolvedBy     string      `json:"resolved_by,omitempty"`
}

// Page requests one page of a cursor-paginated listing.
type Page struct {
	Cursor string
	Limit  int
}

// LedgerPage is one page of ledger transactions ordered by id.
type LedgerPage struct {
	Transactions []LedgerTransaction
	NextCursor   string
}

// StatementPage is one page of statement transactions ordered by id. Records
// the source could not read are reported in Skipped.
type StatementPage struct {
	Transactions []StatementTransaction
	Skipped      []PartialFailure
	NextCursor   string
}

// StatementSource supplies the statement lines of a session.
type StatementSource interface {
	ListStatementTransactions(ctx context.Context, sessionID string, page Page) (StatementPage, error)
}

// Pagination is offset pagination for match listings.
type Pagination struct {
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
	Status MatchStatus `json:"status,omitempty"`
}

// Normalize applies defaults and bounds.
func (p Pagination) Normalize() Pagination {
	if p.Limit <= 0 || p.Limit > 500 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// SessionView is a session together with one page of its matches.
type SessionView struct {
	Session      Session    `json:"session"`
	Matches      []Match    `json:"matches"`
	TotalMatches int        `json:"total_matches"`
	Pagination   Pagination `json:"pagination"`
}

// PassResult summarizes one matching pass.
type PassResult struct {
	SessionID              string           `json:"session_id"`
	MatchesCreated         int              `json:"matches_created"`
	UnresolvedCount        int              `json:"unresolved_count"`
	UnresolvedStatementIDs []string         `json:"unresolved_statement_ids,omitempty"`
	UnresolvedLedgerIDs    []string         `json:"unresolved_ledger_ids,omitempty"`
	Errors                 []PartialFailure `json:"errors,omitempty"`
	BatchesProcessed       int              `json:"batches_processed"`
	Interrupted            bool             `json:"interrupted"`
	Status                 SessionStatus    `json:"status"`
}

// ImportResult reports the outcome of staging statement lines into a session.
type ImportResult struct {
	Imported   int              `json:"imported"`
	Duplicates int              `json:"duplicates"`
	Skipped    []PartialFailure `json:"skipped,omitempty"`
}
