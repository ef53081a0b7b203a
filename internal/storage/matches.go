package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/example/recon-engine/internal/recon"
)

const matchColumns = `id, session_id, ledger_txn_id, statement_txn_id, confidence, status, source_kind, source_ref, created_at, resolved_at, resolved_by`

func sourceColumns(src recon.MatchSource) (kind, ref string) {
	if src.Kind == recon.SourceRule {
		return string(recon.SourceRule), src.RuleID
	}
	return string(recon.SourceFuzzy), strconv.FormatFloat(src.Score, 'f', -1, 64)
}

func parseSource(kind, ref string) (recon.MatchSource, error) {
	switch recon.SourceKind(kind) {
	case recon.SourceRule:
		return recon.RuleSource(ref), nil
	case recon.SourceFuzzy:
		score, err := strconv.ParseFloat(ref, 64)
		if err != nil {
			return recon.MatchSource{}, fmt.Errorf("invalid fuzzy score %q: %w", ref, err)
		}
		return recon.FuzzySource(score), nil
	}
	return recon.MatchSource{}, fmt.Errorf("unknown match source %q", kind)
}

func scanMatch(row rowScanner) (*recon.Match, error) {
	var (
		m          recon.Match
		status     string
		kind, ref  string
		resolvedAt sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.SessionID, &m.LedgerTxnID, &m.StatementTxnID, &m.Confidence, &status, &kind, &ref, &m.CreatedAt, &resolvedAt, &m.ResolvedBy); err != nil {
		return nil, err
	}
	src, err := parseSource(kind, ref)
	if err != nil {
		return nil, err
	}
	m.Source = src
	m.Status = recon.MatchStatus(status)
	m.CreatedAt = m.CreatedAt.UTC()
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		m.ResolvedAt = &t
	}
	return &m, nil
}

func (s *Store) insertMatch(ctx context.Context, tx *sql.Tx, m *recon.Match) error {
	kind, ref := sourceColumns(m.Source)
	var resolvedAt any
	if m.ResolvedAt != nil {
		resolvedAt = *m.ResolvedAt
	}
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO matches (`+matchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), m.ID, m.SessionID, m.LedgerTxnID, m.StatementTxnID, m.Confidence, string(m.Status), kind, ref, m.CreatedAt, resolvedAt, m.ResolvedBy)
	if err != nil {
		return fmt.Errorf("failed to insert match %s: %w", m.ID, err)
	}
	return nil
}

// GetMatch loads one match.
func (s *Store) GetMatch(ctx context.Context, id string) (*recon.Match, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+matchColumns+` FROM matches WHERE id = ?`), id)
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, recon.NewNotFoundError("match", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return m, nil
}

// ListMatches returns one page of a session's matches and the total count.
func (s *Store) ListMatches(ctx context.Context, sessionID string, p recon.Pagination) ([]recon.Match, int, error) {
	where := `WHERE session_id = ?`
	args := []any{sessionID}
	if p.Status != "" {
		where += ` AND status = ?`
		args = append(args, string(p.Status))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM matches `+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count matches: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+matchColumns+` FROM matches `+where+`
		ORDER BY created_at, id
		LIMIT ? OFFSET ?
	`), append(args, p.Limit, p.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	out := []recon.Match{}
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan match: %w", err)
		}
		out = append(out, *m)
	}
	return out, total, rows.Err()
}

// MatchRef is the minimal view of a match used to rebuild claims.
type MatchRef struct {
	LedgerTxnID    string
	StatementTxnID string
	Status         recon.MatchStatus
}

// MatchRefs returns every match of a session, rejected ones included.
func (s *Store) MatchRefs(ctx context.Context, sessionID string) ([]MatchRef, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT ledger_txn_id, statement_txn_id, status FROM matches WHERE session_id = ?
	`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load match refs: %w", err)
	}
	defer rows.Close()

	var out []MatchRef
	for rows.Next() {
		var r MatchRef
		var status string
		if err := rows.Scan(&r.LedgerTxnID, &r.StatementTxnID, &status); err != nil {
			return nil, fmt.Errorf("failed to scan match ref: %w", err)
		}
		r.Status = recon.MatchStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResolveMatch moves a suggested match to confirmed or rejected.
func (s *Store) ResolveMatch(ctx context.Context, id string, to recon.MatchStatus, by string, at time.Time) (*recon.Match, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE matches SET status = ?, resolved_at = ?, resolved_by = ?
		WHERE id = ? AND status = ?
	`), string(to), at.UTC(), by, id, string(recon.MatchSuggested))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve match: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	m, err := s.GetMatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, recon.NewConflictError("match", id, "match is already "+string(m.Status))
	}
	return m, nil
}

// UnmatchedStatementIDs lists staged statements without an active match.
func (s *Store) UnmatchedStatementIDs(ctx context.Context, sessionID string) ([]string, error) {
	return s.statementIDs(ctx, sessionID, `m.status <> 'rejected'`)
}

// UnconfirmedStatementCount counts staged statements without a confirmed match.
func (s *Store) UnconfirmedStatementCount(ctx context.Context, sessionID string) (int, error) {
	ids, err := s.statementIDs(ctx, sessionID, `m.status = 'confirmed'`)
	return len(ids), err
}

func (s *Store) statementIDs(ctx context.Context, sessionID, matchFilter string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT st.id FROM statement_transactions st
		WHERE st.session_id = ?
		  AND NOT EXISTS (
			SELECT 1 FROM matches m
			WHERE m.session_id = st.session_id AND m.statement_txn_id = st.id AND `+matchFilter+`
		  )
		ORDER BY st.id
	`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query statement ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan statement id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
