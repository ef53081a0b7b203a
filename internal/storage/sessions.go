package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/example/recon-engine/internal/recon"
)

const sessionColumns = `id, account_id, period_start, period_end, status, error_summary, checkpoint, pass_count, stop_requested, created_at, updated_at`

func scanSession(row rowScanner) (*recon.Session, error) {
	var (
		s            recon.Session
		start, end   string
		status       string
		errorSummary string
	)
	if err := row.Scan(&s.ID, &s.AccountID, &start, &end, &status, &errorSummary, &s.Checkpoint, &s.PassCount, &s.StopRequested, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if s.PeriodStart, err = recon.ParseDate(start); err != nil {
		return nil, fmt.Errorf("failed to parse period_start: %w", err)
	}
	if s.PeriodEnd, err = recon.ParseDate(end); err != nil {
		return nil, fmt.Errorf("failed to parse period_end: %w", err)
	}
	if err := json.Unmarshal([]byte(errorSummary), &s.ErrorSummary); err != nil {
		return nil, fmt.Errorf("failed to decode error_summary: %w", err)
	}
	s.Status = recon.SessionStatus(status)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

func encodeSummary(es recon.ErrorSummary) (string, error) {
	if es.Samples == nil {
		es.Samples = []recon.PartialFailure{}
	}
	b, err := json.Marshal(es)
	if err != nil {
		return "", fmt.Errorf("failed to encode error_summary: %w", err)
	}
	return string(b), nil
}

// CreateSession inserts a new session.
func (s *Store) CreateSession(ctx context.Context, sess *recon.Session) error {
	summary, err := encodeSummary(sess.ErrorSummary)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		sess.ID, sess.AccountID, formatDate(sess.PeriodStart), formatDate(sess.PeriodEnd), string(sess.Status),
		summary, sess.Checkpoint, sess.PassCount, sess.StopRequested, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetSession loads one session.
func (s *Store) GetSession(ctx context.Context, id string) (*recon.Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`), id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, recon.NewNotFoundError("session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns an account's sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, accountID string, limit, offset int) ([]recon.Session, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE account_id = ?
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`), accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []recon.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// TransitionSession moves a session to `to` if its status is one of from.
// A session in any other status yields a *recon.ConflictError.
func (s *Store) TransitionSession(ctx context.Context, id string, from []recon.SessionStatus, to recon.SessionStatus) (*recon.Session, error) {
	args := []any{string(to), s.now(), id}
	for _, f := range from {
		args = append(args, string(f))
	}
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE sessions SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (`+placeholders(len(from))+`)
	`), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update session status: %w", err)
	}
	return s.afterSessionUpdate(ctx, res, id, "cannot move to "+string(to))
}

// StartPass marks the session in progress, clears a pending stop request and
// bumps the pass counter.
func (s *Store) StartPass(ctx context.Context, id string) (*recon.Session, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE sessions
		SET status = ?, stop_requested = ?, pass_count = pass_count + 1, updated_at = ?
		WHERE id = ? AND status IN (?, ?, ?)
	`), string(recon.StatusInProgress), false, s.now(), id,
		string(recon.StatusPending), string(recon.StatusInProgress), string(recon.StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("failed to start pass: %w", err)
	}
	return s.afterSessionUpdate(ctx, res, id, "cannot start a pass")
}

// RequestStop asks a running pass to stop at the next batch boundary.
func (s *Store) RequestStop(ctx context.Context, id string) (*recon.Session, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE sessions SET stop_requested = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`), true, s.now(), id, string(recon.StatusInProgress))
	if err != nil {
		return nil, fmt.Errorf("failed to request stop: %w", err)
	}
	return s.afterSessionUpdate(ctx, res, id, "no pass to stop")
}

// FinishPass resets the checkpoint and sets the post-pass status.
func (s *Store) FinishPass(ctx context.Context, id string, status recon.SessionStatus) (*recon.Session, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE sessions SET status = ?, checkpoint = '', updated_at = ?
		WHERE id = ? AND status = ?
	`), string(status), s.now(), id, string(recon.StatusInProgress))
	if err != nil {
		return nil, fmt.Errorf("failed to finish pass: %w", err)
	}
	return s.afterSessionUpdate(ctx, res, id, "session is no longer in progress")
}

func (s *Store) afterSessionUpdate(ctx context.Context, res sql.Result, id, reason string) (*recon.Session, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, recon.NewConflictError("session", id, fmt.Sprintf("%s from status %s", reason, sess.Status))
	}
	return sess, nil
}

// BatchCommit is everything one batch persists atomically.
type BatchCommit struct {
	SessionID  string
	Matches    []recon.Match
	Checkpoint string
	Failures   []recon.PartialFailure
	MaxSamples int
}

// CommitBatch inserts the batch's matches, advances the checkpoint and folds
// failures into the error summary in one transaction. It fails with a
// *recon.ConflictError if the session left in_progress meanwhile.
func (s *Store) CommitBatch(ctx context.Context, c BatchCommit) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var raw, status string
		err := tx.QueryRowContext(ctx, s.q(`SELECT error_summary, status FROM sessions WHERE id = ?`), c.SessionID).Scan(&raw, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return recon.NewNotFoundError("session", c.SessionID)
		}
		if err != nil {
			return fmt.Errorf("failed to read session: %w", err)
		}
		if recon.SessionStatus(status) != recon.StatusInProgress {
			return recon.NewConflictError("session", c.SessionID, "session is "+status)
		}

		var summary recon.ErrorSummary
		if err := json.Unmarshal([]byte(raw), &summary); err != nil {
			return fmt.Errorf("failed to decode error_summary: %w", err)
		}
		for _, f := range c.Failures {
			summary.Add(f, c.MaxSamples)
		}
		encoded, err := encodeSummary(summary)
		if err != nil {
			return err
		}

		for i := range c.Matches {
			if err := s.insertMatch(ctx, tx, &c.Matches[i]); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE sessions SET checkpoint = ?, error_summary = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`), c.Checkpoint, encoded, s.now(), c.SessionID, string(recon.StatusInProgress))
		if err != nil {
			return fmt.Errorf("failed to update checkpoint: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return recon.NewConflictError("session", c.SessionID, "session left in_progress")
		}
		return nil
	})
}

func placeholders(n int) string {
	if n <= 0 {
		return "NULL"
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
