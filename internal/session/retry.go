package session

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/example/recon-engine/internal/storage"
)

// retry runs op until it succeeds, fails with a non-transient error, or the
// attempt budget is spent. Domain errors are returned unchanged.
func (m *Manager) retry(ctx context.Context, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = m.cfg.RetryInitialInterval
	eb.MaxInterval = 2 * time.Second
	eb.MaxElapsedTime = 0

	attempts := m.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	return backoff.Retry(func() error {
		err := op()
		if err != nil && !storage.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
