// Package reconcile is the entry point used by the transports. It composes
// the rule service, the session manager and the store and performs no
// matching itself.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/recon-engine/internal/recon"
	"github.com/example/recon-engine/internal/rules"
	"github.com/example/recon-engine/internal/session"
	"github.com/example/recon-engine/pkg/audit"
)

// Store is the persistence the facade reads and writes directly.
type Store interface {
	CreateSession(ctx context.Context, sess *recon.Session) error
	GetSession(ctx context.Context, id string) (*recon.Session, error)
	ListSessions(ctx context.Context, accountID string, limit, offset int) ([]recon.Session, error)
	ListMatches(ctx context.Context, sessionID string, p recon.Pagination) ([]recon.Match, int, error)
	ImportStatements(ctx context.Context, sessionID string, txns []recon.StatementTransaction) (recon.ImportResult, error)
}

// Service implements every reconciliation operation.
type Service struct {
	store    Store
	rules    *rules.Service
	sessions *session.Manager
	auditor  session.Auditor
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates the facade. auditor may be nil.
func NewService(store Store, ruleService *rules.Service, manager *session.Manager, auditor session.Auditor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		rules:    ruleService,
		sessions: manager,
		auditor:  auditor,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession opens a pending session for accountID over the inclusive
// period [periodStart, periodEnd].
func (s *Service) CreateSession(ctx context.Context, accountID string, periodStart, periodEnd time.Time) (*recon.Session, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, recon.NewValidationError("account_id", "account_id is required")
	}
	if periodStart.IsZero() || periodEnd.IsZero() {
		return nil, recon.NewValidationError("period", "period_start and period_end are required")
	}
	start, end := recon.Day(periodStart), recon.Day(periodEnd)
	if end.Before(start) {
		return nil, recon.NewValidationError("period", "period_end is before period_start")
	}

	now := s.now()
	sess := &recon.Session{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		PeriodStart:  start,
		PeriodEnd:    end,
		Status:       recon.StatusPending,
		ErrorSummary: recon.ErrorSummary{Samples: []recon.PartialFailure{}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.logger.InfoContext(ctx, "session created", "session_id", sess.ID, "account_id", accountID,
		"period_start", start.Format(recon.DateLayout), "period_end", end.Format(recon.DateLayout))
	return sess, nil
}

// GetSession returns a session with one page of its matches.
func (s *Service) GetSession(ctx context.Context, sessionID string, p recon.Pagination) (*recon.SessionView, error) {
	if sessionID == "" {
		return nil, recon.NewValidationError("session_id", "session_id is required")
	}
	switch p.Status {
	case "", recon.MatchSuggested, recon.MatchConfirmed, recon.MatchRejected:
	default:
		return nil, recon.NewValidationError("status", "unknown match status "+string(p.Status))
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	p = p.Normalize()
	matches, total, err := s.store.ListMatches(ctx, sessionID, p)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	if matches == nil {
		matches = []recon.Match{}
	}
	return &recon.SessionView{Session: *sess, Matches: matches, TotalMatches: total, Pagination: p}, nil
}

// ListSessions returns an account's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, accountID string, p recon.Pagination) ([]recon.Session, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, recon.NewValidationError("account_id", "account_id is required")
	}
	p = p.Normalize()
	list, err := s.store.ListSessions(ctx, accountID, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if list == nil {
		list = []recon.Session{}
	}
	return list, nil
}

// ImportStatements stages statement lines into a session. Lines without an id
// get a hash-derived one; lines already staged are counted as duplicates;
// lines of another account or without a date are skipped.
func (s *Service) ImportStatements(ctx context.Context, sessionID string, txns []recon.StatementTransaction) (*recon.ImportResult, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := session.ValidateOperation(sess, session.OpImportStatements); err != nil {
		return nil, err
	}

	var skipped []recon.PartialFailure
	accepted := make([]recon.StatementTransaction, 0, len(txns))
	for _, t := range txns {
		t.ID = strings.TrimSpace(t.ID)
		if t.AccountID == "" {
			t.AccountID = sess.AccountID
		}
		if t.ID == "" {
			t.ID = t.DerivedID()
		}
		switch {
		case t.AccountID != sess.AccountID:
			skipped = append(skipped, s.skip(t.ID, "statement belongs to account "+t.AccountID))
			continue
		case t.Date.IsZero():
			skipped = append(skipped, s.skip(t.ID, "statement date is missing"))
			continue
		}
		t.Date = recon.Day(t.Date)
		accepted = append(accepted, t)
	}

	res, err := s.store.ImportStatements(ctx, sessionID, accepted)
	if err != nil {
		return nil, fmt.Errorf("failed to import statements: %w", err)
	}
	res.Skipped = append(skipped, res.Skipped...)

	s.logger.InfoContext(ctx, "statements imported", "session_id", sessionID,
		"imported", res.Imported, "duplicates", res.Duplicates, "skipped", len(res.Skipped))
	return &res, nil
}

func (s *Service) skip(id, msg string) recon.PartialFailure {
	return recon.PartialFailure{Kind: recon.FailureSkippedRecord, RecordID: id, Message: msg, At: s.now()}
}

// RunMatchingPass runs one matching pass over a session.
func (s *Service) RunMatchingPass(ctx context.Context, sessionID string) (*recon.PassResult, error) {
	if sessionID == "" {
		return nil, recon.NewValidationError("session_id", "session_id is required")
	}
	return s.sessions.RunPass(ctx, sessionID)
}

// StopPass asks the running pass of a session to stop at its next batch.
func (s *Service) StopPass(ctx context.Context, sessionID string) (*recon.Session, error) {
	return s.sessions.StopPass(ctx, sessionID)
}

// CancelSession moves a session to cancelled.
func (s *Service) CancelSession(ctx context.Context, sessionID string) (*recon.Session, error) {
	return s.sessions.Cancel(ctx, sessionID)
}

// ConfirmMatch accepts a suggested match.
func (s *Service) ConfirmMatch(ctx context.Context, matchID string) (*recon.Match, error) {
	if matchID == "" {
		return nil, recon.NewValidationError("match_id", "match_id is required")
	}
	return s.sessions.Confirm(ctx, matchID)
}

// RejectMatch discards a suggested match.
func (s *Service) RejectMatch(ctx context.Context, matchID string) (*recon.Match, error) {
	if matchID == "" {
		return nil, recon.NewValidationError("match_id", "match_id is required")
	}
	return s.sessions.Reject(ctx, matchID)
}

// ListRules returns an account's rules in evaluation order.
func (s *Service) ListRules(ctx context.Context, accountID string) ([]recon.MatchRule, error) {
	list, err := s.rules.List(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []recon.MatchRule{}
	}
	return list, nil
}

// GetRule returns one rule.
func (s *Service) GetRule(ctx context.Context, ruleID string) (*recon.MatchRule, error) {
	return s.rules.Get(ctx, ruleID)
}

// CreateRule validates and stores a rule.
func (s *Service) CreateRule(ctx context.Context, accountID string, in recon.RuleInput) (*recon.MatchRule, error) {
	rule, err := s.rules.Create(ctx, accountID, in)
	if err != nil {
		return nil, err
	}
	s.record(ctx, "rule.created", rule.ID, fmt.Sprintf("account=%s priority=%d", rule.AccountID, rule.Priority))
	return rule, nil
}

// UpdateRule applies patch when patch.Version is current.
func (s *Service) UpdateRule(ctx context.Context, ruleID string, patch recon.RulePatch) (*recon.MatchRule, error) {
	rule, err := s.rules.Update(ctx, ruleID, patch)
	if err != nil {
		return nil, err
	}
	s.record(ctx, "rule.updated", rule.ID, fmt.Sprintf("version=%d", rule.Version))
	return rule, nil
}

// DeleteRule removes a rule when version is current.
func (s *Service) DeleteRule(ctx context.Context, ruleID string, version int) error {
	if err := s.rules.Delete(ctx, ruleID, version); err != nil {
		return err
	}
	s.record(ctx, "rule.deleted", ruleID, fmt.Sprintf("version=%d", version))
	return nil
}

func (s *Service) record(ctx context.Context, action, ruleID, detail string) {
	if s.auditor == nil {
		return
	}
	err := s.auditor.Record(ctx, audit.Event{
		Action:     action,
		Actor:      recon.ActorFromContext(ctx),
		Resource:   "rule",
		ResourceID: ruleID,
		Detail:     detail,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record audit event", "action", action, "error", err)
	}
}
