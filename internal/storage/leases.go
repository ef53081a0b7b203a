package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/example/recon-engine/internal/recon"
)

// SQLLeaser stores session leases in the session_leases table. A lease is
// either owned by one worker or expired.
type SQLLeaser struct {
	store *Store
}

// Leaser returns the table-backed leaser for this store.
func (s *Store) Leaser() *SQLLeaser {
	return &SQLLeaser{store: s}
}

// Acquire takes the lease for sessionID or re-takes one owner already holds.
// It fails with a *recon.ConflictError while another owner holds a live lease.
func (l *SQLLeaser) Acquire(ctx context.Context, sessionID, owner string, ttl time.Duration) error {
	now := l.store.now()
	res, err := l.store.db.ExecContext(ctx, l.store.q(`
		INSERT INTO session_leases (session_id, owner, expires_at_ms)
		VALUES (?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			owner = excluded.owner,
			expires_at_ms = excluded.expires_at_ms
		WHERE session_leases.expires_at_ms < ? OR session_leases.owner = excluded.owner
	`), sessionID, owner, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to acquire lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return recon.NewConflictError("session", sessionID, "another pass holds the session lease")
	}
	return nil
}

// Renew extends a lease owner still holds.
func (l *SQLLeaser) Renew(ctx context.Context, sessionID, owner string, ttl time.Duration) error {
	now := l.store.now()
	res, err := l.store.db.ExecContext(ctx, l.store.q(`
		UPDATE session_leases SET expires_at_ms = ?
		WHERE session_id = ? AND owner = ? AND expires_at_ms >= ?
	`), now.Add(ttl).UnixMilli(), sessionID, owner, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return recon.NewConflictError("session", sessionID, "session lease lost")
	}
	return nil
}

// Release drops the lease if owner holds it.
func (l *SQLLeaser) Release(ctx context.Context, sessionID, owner string) error {
	_, err := l.store.db.ExecContext(ctx, l.store.q(`
		DELETE FROM session_leases WHERE session_id = ? AND owner = ?
	`), sessionID, owner)
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}
