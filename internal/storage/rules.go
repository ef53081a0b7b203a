package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/example/recon-engine/internal/recon"
)

const ruleColumns = `id, account_id, name, priority, seq, conditions, actions, enabled, version, created_at, updated_at`

func scanRule(row rowScanner) (*recon.MatchRule, error) {
	var (
		r                  recon.MatchRule
		conditions, action string
	)
	if err := row.Scan(&r.ID, &r.AccountID, &r.Name, &r.Priority, &r.Seq, &conditions, &action, &r.Enabled, &r.Version, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(conditions), &r.Conditions); err != nil {
		return nil, fmt.Errorf("failed to decode conditions: %w", err)
	}
	if err := json.Unmarshal([]byte(action), &r.Actions); err != nil {
		return nil, fmt.Errorf("failed to decode actions: %w", err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func encodeRule(r *recon.MatchRule) (conditions, actions string, err error) {
	c, err := json.Marshal(r.Conditions)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode conditions: %w", err)
	}
	a, err := json.Marshal(r.Actions)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode actions: %w", err)
	}
	return string(c), string(a), nil
}

// seqAttempts bounds how often InsertRule re-reads MAX(seq) after losing a
// race for the same value.
const seqAttempts = 5

// InsertRule stores a new rule and assigns its insertion sequence.
func (s *Store) InsertRule(ctx context.Context, r *recon.MatchRule) error {
	conditions, actions, err := encodeRule(r)
	if err != nil {
		return err
	}
	for attempt := 1; ; attempt++ {
		err = s.withTx(ctx, func(tx *sql.Tx) error {
			if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM rules`).Scan(&r.Seq); err != nil {
				return fmt.Errorf("failed to allocate rule seq: %w", err)
			}
			_, err := tx.ExecContext(ctx, s.q(`
				INSERT INTO rules (`+ruleColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`), r.ID, r.AccountID, r.Name, r.Priority, r.Seq, conditions, actions, r.Enabled, r.Version, r.CreatedAt, r.UpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert rule: %w", err)
			}
			return nil
		})
		if err == nil || !isSeqConflict(err) || attempt == seqAttempts {
			return err
		}
	}
}

// isSeqConflict reports whether err is a violation of the unique rule seq index.
func isSeqConflict(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique && strings.Contains(sqliteErr.Error(), "rules.seq")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == "idx_rules_seq"
	}
	return false
}

// GetRule loads one rule.
func (s *Store) GetRule(ctx context.Context, id string) (*recon.MatchRule, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+ruleColumns+` FROM rules WHERE id = ?`), id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, recon.NewNotFoundError("rule", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return r, nil
}

// ListRules returns an account's rules ordered by priority then insertion.
func (s *Store) ListRules(ctx context.Context, accountID string) ([]recon.MatchRule, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+ruleColumns+` FROM rules
		WHERE account_id = ?
		ORDER BY priority, seq, id
	`), accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	out := []recon.MatchRule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// UpdateRule writes r if the stored version still equals expectedVersion.
func (s *Store) UpdateRule(ctx context.Context, r *recon.MatchRule, expectedVersion int) error {
	conditions, actions, err := encodeRule(r)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE rules
		SET name = ?, priority = ?, conditions = ?, actions = ?, enabled = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`), r.Name, r.Priority, conditions, actions, r.Enabled, r.Version, r.UpdatedAt, r.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return s.checkRuleVersion(ctx, res, r.ID)
}

// DeleteRule removes a rule if the stored version equals expectedVersion.
func (s *Store) DeleteRule(ctx context.Context, id string, expectedVersion int) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM rules WHERE id = ? AND version = ?`), id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return s.checkRuleVersion(ctx, res, id)
}

func (s *Store) checkRuleVersion(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetRule(ctx, id); err != nil {
		return err
	}
	return recon.NewConflictError("rule", id, "version mismatch")
}
