// Package session runs matching passes over reconciliation sessions and owns
// every session and match state change.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/example/recon-engine/internal/ledger"
	"github.com/example/recon-engine/internal/matching"
	"github.com/example/recon-engine/internal/recon"
	"github.com/example/recon-engine/internal/rules"
	"github.com/example/recon-engine/internal/storage"
	"github.com/example/recon-engine/pkg/audit"
)

// Store is the persistence the manager needs.
type Store interface {
	GetSession(ctx context.Context, id string) (*recon.Session, error)
	StartPass(ctx context.Context, id string) (*recon.Session, error)
	RequestStop(ctx context.Context, id string) (*recon.Session, error)
	FinishPass(ctx context.Context, id string, status recon.SessionStatus) (*recon.Session, error)
	TransitionSession(ctx context.Context, id string, from []recon.SessionStatus, to recon.SessionStatus) (*recon.Session, error)
	CommitBatch(ctx context.Context, c storage.BatchCommit) error
	MatchRefs(ctx context.Context, sessionID string) ([]storage.MatchRef, error)
	GetMatch(ctx context.Context, id string) (*recon.Match, error)
	ResolveMatch(ctx context.Context, id string, to recon.MatchStatus, by string, at time.Time) (*recon.Match, error)
	UnmatchedStatementIDs(ctx context.Context, sessionID string) ([]string, error)
	UnconfirmedStatementCount(ctx context.Context, sessionID string) (int, error)
	CountStatements(ctx context.Context, sessionID string) (int, error)
}

// Leaser grants one pass at a time per session.
type Leaser interface {
	Acquire(ctx context.Context, sessionID, owner string, ttl time.Duration) error
	Renew(ctx context.Context, sessionID, owner string, ttl time.Duration) error
	Release(ctx context.Context, sessionID, owner string) error
}

// ProgramSource compiles an account's enabled rules.
type ProgramSource interface {
	Program(ctx context.Context, accountID string) (*rules.Program, error)
}

// Auditor records manual decisions.
type Auditor interface {
	Record(ctx context.Context, e audit.Event) error
}

// Config bounds a matching pass.
type Config struct {
	BatchSize            int           `mapstructure:"batch_size"`
	BatchTimeout         time.Duration `mapstructure:"batch_timeout"`
	LeaseTTL             time.Duration `mapstructure:"lease_ttl"`
	MaxErrorSamples      int           `mapstructure:"max_error_samples"`
	RetryAttempts        int           `mapstructure:"retry_attempts"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	LedgerPageSize       int           `mapstructure:"ledger_page_size"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:            200,
		BatchTimeout:         30 * time.Second,
		LeaseTTL:             30 * time.Second,
		MaxErrorSamples:      recon.DefaultMaxErrorSamples,
		RetryAttempts:        3,
		RetryInitialInterval: 50 * time.Millisecond,
		LedgerPageSize:       ledger.DefaultPageSize,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = d.BatchTimeout
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = d.LeaseTTL
	}
	if c.MaxErrorSamples <= 0 {
		c.MaxErrorSamples = d.MaxErrorSamples
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = d.RetryInitialInterval
	}
	if c.LedgerPageSize <= 0 {
		c.LedgerPageSize = d.LedgerPageSize
	}
	return c
}

// Deps are the collaborators of a Manager. Auditor may be nil.
type Deps struct {
	Store      Store
	Statements recon.StatementSource
	Ledger     ledger.Adapter
	Programs   ProgramSource
	Scorer     *matching.Scorer
	Leaser     Leaser
	Auditor    Auditor
}

// Manager drives session lifecycles.
type Manager struct {
	store      Store
	statements recon.StatementSource
	ledger     ledger.Adapter
	programs   ProgramSource
	scorer     *matching.Scorer
	leaser     Leaser
	auditor    Auditor
	cfg        Config
	logger     *slog.Logger
	owner      string
	now        func() time.Time
}

// NewManager wires a Manager.
func NewManager(deps Deps, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}
	return &Manager{
		store:      deps.Store,
		statements: deps.Statements,
		ledger:     deps.Ledger,
		programs:   deps.Programs,
		scorer:     deps.Scorer,
		leaser:     deps.Leaser,
		auditor:    deps.Auditor,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		owner:      host,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

var errLeaseLost = errors.New("session lease lost")

// RunPass executes one matching pass. A completed session yields an empty
// result; a cancelled one a *recon.ConflictError, as does a live lease held
// by another pass.
func (m *Manager) RunPass(ctx context.Context, sessionID string) (*recon.PassResult, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == recon.StatusCompleted {
		return &recon.PassResult{SessionID: sess.ID, Status: sess.Status}, nil
	}
	if err := ValidateOperation(sess, OpRunPass); err != nil {
		return nil, err
	}

	owner := m.owner + "/" + uuid.NewString()
	err = m.retry(ctx, func() error {
		return m.leaser.Acquire(ctx, sessionID, owner, m.cfg.LeaseTTL)
	})
	if err != nil {
		if errors.Is(err, recon.ErrConflict) || ctx.Err() != nil {
			return nil, err
		}
		return nil, m.fail(ctx, sessionID, "acquire lease", err)
	}
	defer m.releaseLease(ctx, sessionID, owner)

	err = m.retry(ctx, func() error {
		var err error
		sess, err = m.store.StartPass(ctx, sessionID)
		return err
	})
	if err != nil {
		if errors.Is(err, recon.ErrConflict) || errors.Is(err, recon.ErrNotFound) || ctx.Err() != nil {
			return nil, err
		}
		return nil, m.fail(ctx, sessionID, "start pass", err)
	}
	log := m.logger.With("session_id", sess.ID, "pass", sess.PassCount)
	log.Info("matching pass started", "checkpoint", sess.Checkpoint)

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	var result *recon.PassResult

	g.Go(func() error {
		return m.heartbeat(gctx, sessionID, owner, done)
	})
	g.Go(func() error {
		defer close(done)
		r, err := m.runBatches(gctx, sess, owner, log)
		result = r
		return err
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, errLeaseLost) {
			log.Warn("matching pass aborted, lease lost")
			return nil, recon.NewConflictError("session", sessionID, "session lease lost during pass")
		}
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// The checkpoint lets the next pass resume.
			log.Info("matching pass interrupted by caller")
		}
		return nil, err
	}

	log.Info("matching pass finished",
		"status", result.Status,
		"matches_created", result.MatchesCreated,
		"unresolved", result.UnresolvedCount,
		"partial_failures", len(result.Errors),
		"interrupted", result.Interrupted)
	return result, nil
}

func (m *Manager) releaseLease(ctx context.Context, sessionID, owner string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := m.leaser.Release(rctx, sessionID, owner); err != nil {
		m.logger.Warn("failed to release session lease", "session_id", sessionID, "error", err)
	}
}

func (m *Manager) heartbeat(ctx context.Context, sessionID, owner string, done <-chan struct{}) error {
	interval := m.cfg.LeaseTTL / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.leaser.Renew(ctx, sessionID, owner, m.cfg.LeaseTTL); err != nil {
				if errors.Is(err, recon.ErrConflict) {
					return errLeaseLost
				}
				m.logger.Warn("lease renewal failed", "session_id", sessionID, "error", err)
			}
		}
	}
}

func (m *Manager) runBatches(ctx context.Context, sess *recon.Session, owner string, log *slog.Logger) (*recon.PassResult, error) {
	res := &recon.PassResult{SessionID: sess.ID, Status: recon.StatusInProgress}

	var ledgerTxns []recon.LedgerTransaction
	err := m.retry(ctx, func() error {
		var err error
		ledgerTxns, err = ledger.FetchAll(ctx, m.ledger, sess.AccountID, sess.Period(), m.cfg.LedgerPageSize)
		return err
	})
	if err != nil {
		return m.abort(ctx, res, sess.ID, "load ledger", err)
	}
	idx := matching.NewIndex(ledgerTxns)

	claims, err := m.loadClaims(ctx, sess.ID)
	if err != nil {
		return m.abort(ctx, res, sess.ID, "load matches", err)
	}

	program, err := m.programs.Program(ctx, sess.AccountID)
	if err != nil {
		return m.abort(ctx, res, sess.ID, "compile rules", err)
	}
	engine := matching.NewEngine(program, m.scorer)
	log.Debug("pass inputs loaded", "ledger_txns", idx.Len(), "rules", program.Len())

	ph, cursor := parseCheckpoint(sess.Checkpoint)
	if ph == phaseRules && !program.HasAutoMatch() {
		ph, cursor = phaseMatch, ""
	}
	for {
		if err := ctx.Err(); err != nil {
			res.Interrupted = true
			return res, err
		}

		current, err := m.store.GetSession(ctx, sess.ID)
		if err != nil {
			return m.abort(ctx, res, sess.ID, "read session", err)
		}
		if current.Status != recon.StatusInProgress || current.StopRequested {
			res.Interrupted = true
			res.Status = current.Status
			log.Info("matching pass stopped at batch boundary", "status", current.Status, "stop_requested", current.StopRequested, "phase", ph, "checkpoint", cursor)
			return res, nil
		}
		if err := m.leaser.Renew(ctx, sess.ID, owner, m.cfg.LeaseTTL); err != nil {
			if errors.Is(err, recon.ErrConflict) {
				return res, errLeaseLost
			}
			log.Warn("lease renewal failed", "error", err)
		}

		var page recon.StatementPage
		err = m.retry(ctx, func() error {
			var err error
			page, err = m.statements.ListStatementTransactions(ctx, sess.ID, recon.Page{Cursor: cursor, Limit: m.cfg.BatchSize})
			return err
		})
		if err != nil {
			return m.abort(ctx, res, sess.ID, "read statements", err)
		}
		if len(page.Transactions) == 0 && len(page.Skipped) == 0 {
			if ph == phaseRules {
				ph, cursor = phaseMatch, ""
				continue
			}
			break
		}

		first, last := pageBounds(page)
		var failures []recon.PartialFailure
		// Both phases see the same skipped records; they are reported once.
		if ph == phaseMatch {
			failures = append(failures, page.Skipped...)
			for i := range failures {
				failures[i].BatchStart, failures[i].BatchEnd = first, last
			}
		}

		resolve := engine.Resolve
		if ph == phaseRules {
			resolve = engine.ResolveAuto
		}
		working := claims.Clone()
		bctx, cancel := context.WithTimeout(ctx, m.cfg.BatchTimeout)
		accepted, err := resolve(bctx, idx, page.Transactions, working)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				res.Interrupted = true
				return res, ctx.Err()
			}
			kind := recon.FailureBatchError
			if errors.Is(err, context.DeadlineExceeded) {
				kind = recon.FailureBatchTimeout
			}
			failures = append(failures, recon.PartialFailure{
				Kind: kind, BatchStart: first, BatchEnd: last, Message: string(ph) + " phase: " + err.Error(), At: m.now(),
			})
			log.Warn("batch aborted", "phase", ph, "kind", kind, "batch_start", first, "batch_end", last, "error", err)
			accepted = nil
			working = claims
		}

		matches := m.toMatches(sess.ID, accepted)
		err = m.retry(ctx, func() error {
			return m.store.CommitBatch(ctx, storage.BatchCommit{
				SessionID:  sess.ID,
				Matches:    matches,
				Checkpoint: ph.checkpoint(last),
				Failures:   failures,
				MaxSamples: m.cfg.MaxErrorSamples,
			})
		})
		if err != nil {
			if errors.Is(err, recon.ErrConflict) {
				// Cancelled between the status check and the commit.
				res.Interrupted = true
				if current, gerr := m.store.GetSession(ctx, sess.ID); gerr == nil {
					res.Status = current.Status
				}
				return res, nil
			}
			return m.abort(ctx, res, sess.ID, "commit batch", err)
		}

		claims = working
		res.MatchesCreated += len(matches)
		res.Errors = append(res.Errors, failures...)
		res.BatchesProcessed++
		cursor = last
		log.Debug("batch committed", "phase", ph, "batch_start", first, "batch_end", last, "matches", len(matches), "partial_failures", len(failures))

		if page.NextCursor == "" {
			if ph == phaseRules {
				ph, cursor = phaseMatch, ""
				continue
			}
			break
		}
	}

	return m.finish(ctx, res, sess.ID, idx, claims)
}

func (m *Manager) finish(ctx context.Context, res *recon.PassResult, sessionID string, idx *matching.Index, claims *matching.Claims) (*recon.PassResult, error) {
	unmatched, err := m.store.UnmatchedStatementIDs(ctx, sessionID)
	if err != nil {
		return m.abort(ctx, res, sessionID, "collect unresolved", err)
	}
	unconfirmed, err := m.store.UnconfirmedStatementCount(ctx, sessionID)
	if err != nil {
		return m.abort(ctx, res, sessionID, "collect unresolved", err)
	}
	total, err := m.store.CountStatements(ctx, sessionID)
	if err != nil {
		return m.abort(ctx, res, sessionID, "collect unresolved", err)
	}

	var ledgerOpen []string
	for _, id := range idx.IDs() {
		if !claims.LedgerClaimed(id) {
			ledgerOpen = append(ledgerOpen, id)
		}
	}
	res.UnresolvedStatementIDs = unmatched
	res.UnresolvedLedgerIDs = ledgerOpen
	res.UnresolvedCount = len(unmatched) + len(ledgerOpen)

	next := recon.StatusInProgress
	if total > 0 && unconfirmed == 0 {
		next = recon.StatusCompleted
	}
	final, err := m.store.FinishPass(ctx, sessionID, next)
	if err != nil {
		if errors.Is(err, recon.ErrConflict) {
			res.Interrupted = true
			if current, gerr := m.store.GetSession(ctx, sessionID); gerr == nil {
				res.Status = current.Status
			}
			return res, nil
		}
		return m.abort(ctx, res, sessionID, "finish pass", err)
	}
	res.Status = final.Status
	return res, nil
}

// abort ends a pass after an unrecoverable error.
func (m *Manager) abort(ctx context.Context, res *recon.PassResult, sessionID, op string, cause error) (*recon.PassResult, error) {
	if ctx.Err() != nil && errors.Is(cause, ctx.Err()) {
		res.Interrupted = true
		return res, cause
	}
	return nil, m.fail(ctx, sessionID, op, cause)
}

// fail marks the session failed. Domain errors are returned as they are;
// everything else is wrapped as internal.
func (m *Manager) fail(ctx context.Context, sessionID, op string, cause error) error {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := m.store.TransitionSession(fctx, sessionID, SourcesOf(recon.StatusFailed), recon.StatusFailed); err != nil {
		m.logger.Error("failed to mark session failed", "session_id", sessionID, "error", err)
	}
	m.logger.Error("matching pass failed", "session_id", sessionID, "op", op, "error", cause)

	var verr *recon.ValidationError
	var nerr *recon.NotFoundError
	if errors.As(cause, &verr) || errors.As(cause, &nerr) {
		return cause
	}
	return &recon.InternalError{Op: op, Err: cause}
}

func (m *Manager) loadClaims(ctx context.Context, sessionID string) (*matching.Claims, error) {
	var refs []storage.MatchRef
	err := m.retry(ctx, func() error {
		var err error
		refs, err = m.store.MatchRefs(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	claims := matching.NewClaims()
	for _, r := range refs {
		if r.Status == recon.MatchRejected {
			claims.Reject(r.LedgerTxnID, r.StatementTxnID)
			continue
		}
		claims.Claim(r.LedgerTxnID, r.StatementTxnID)
	}
	return claims, nil
}

func (m *Manager) toMatches(sessionID string, accepted []matching.Candidate) []recon.Match {
	now := m.now()
	out := make([]recon.Match, 0, len(accepted))
	for _, c := range accepted {
		match := recon.Match{
			ID:             uuid.NewString(),
			SessionID:      sessionID,
			LedgerTxnID:    c.LedgerID,
			StatementTxnID: c.StatementID,
			Confidence:     c.Confidence,
			Status:         c.Status,
			Source:         c.Source,
			CreatedAt:      now,
		}
		if c.Status == recon.MatchConfirmed {
			match.ResolvedAt = &now
			match.ResolvedBy = recon.SystemActor
		}
		out = append(out, match)
	}
	return out
}

func pageBounds(p recon.StatementPage) (first, last string) {
	consider := func(id string) {
		if first == "" || id < first {
			first = id
		}
		if id > last {
			last = id
		}
	}
	for _, t := range p.Transactions {
		consider(t.ID)
	}
	for _, s := range p.Skipped {
		consider(s.RecordID)
	}
	return first, last
}

// StopPass asks the running pass to stop at its next batch boundary.
func (m *Manager) StopPass(ctx context.Context, sessionID string) (*recon.Session, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := ValidateOperation(sess, OpStopPass); err != nil {
		return nil, err
	}
	return m.store.RequestStop(ctx, sessionID)
}

// Cancel moves a session to cancelled. Cancelling a cancelled session
// returns it unchanged; a completed session cannot be cancelled.
func (m *Manager) Cancel(ctx context.Context, sessionID string) (*recon.Session, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == recon.StatusCancelled {
		return sess, nil
	}
	if err := ValidateOperation(sess, OpCancel); err != nil {
		return nil, err
	}
	sess, err = m.store.TransitionSession(ctx, sessionID, SourcesOf(recon.StatusCancelled), recon.StatusCancelled)
	if err != nil {
		return nil, err
	}
	m.record(ctx, audit.Event{
		Action:     "session.cancelled",
		Actor:      recon.ActorFromContext(ctx),
		Resource:   "session",
		ResourceID: sess.ID,
		SessionID:  sess.ID,
	})
	m.logger.Info("session cancelled", "session_id", sess.ID, "actor", recon.ActorFromContext(ctx))
	return sess, nil
}

// Confirm moves a suggested match to confirmed.
func (m *Manager) Confirm(ctx context.Context, matchID string) (*recon.Match, error) {
	return m.resolve(ctx, matchID, recon.MatchConfirmed)
}

// Reject moves a suggested match to rejected, freeing both sides for the
// next pass.
func (m *Manager) Reject(ctx context.Context, matchID string) (*recon.Match, error) {
	return m.resolve(ctx, matchID, recon.MatchRejected)
}

func (m *Manager) resolve(ctx context.Context, matchID string, to recon.MatchStatus) (*recon.Match, error) {
	match, err := m.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	sess, err := m.store.GetSession(ctx, match.SessionID)
	if err != nil {
		return nil, err
	}
	if err := ValidateOperation(sess, OpResolveMatch); err != nil {
		return nil, err
	}

	actor := recon.ActorFromContext(ctx)
	var resolved *recon.Match
	err = m.retry(ctx, func() error {
		var err error
		resolved, err = m.store.ResolveMatch(ctx, matchID, to, actor, m.now())
		return err
	})
	if err != nil {
		if errors.Is(err, recon.ErrConflict) || errors.Is(err, recon.ErrNotFound) {
			return nil, err
		}
		return nil, &recon.InternalError{Op: "resolve match", Err: err}
	}

	m.record(ctx, audit.Event{
		Action:     "match." + string(to),
		Actor:      actor,
		Resource:   "match",
		ResourceID: resolved.ID,
		SessionID:  resolved.SessionID,
		Detail:     fmt.Sprintf("ledger=%s statement=%s confidence=%.4f", resolved.LedgerTxnID, resolved.StatementTxnID, resolved.Confidence),
	})
	m.logger.Info("match resolved", "match_id", resolved.ID, "session_id", resolved.SessionID, "status", resolved.Status, "actor", actor)
	return resolved, nil
}

func (m *Manager) record(ctx context.Context, e audit.Event) {
	if m.auditor == nil {
		return
	}
	if err := m.auditor.Record(ctx, e); err != nil {
		m.logger.Warn("failed to record audit event", "action", e.Action, "error", err)
	}
}
