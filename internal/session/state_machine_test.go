package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/recon-engine/internal/recon"
)

func TestStateMachine_ValidTransitions(t *testing.T) {
	allowed := AllowedTransitions()

	// pending can start, fail to start or be cancelled
	assert.ElementsMatch(t, []recon.SessionStatus{recon.StatusInProgress, recon.StatusFailed, recon.StatusCancelled}, allowed[recon.StatusPending])

	// failed sessions are retried by another pass
	assert.True(t, IsValidTransition(recon.StatusFailed, recon.StatusInProgress))
	assert.True(t, IsValidTransition(recon.StatusInProgress, recon.StatusInProgress))
	assert.True(t, IsValidTransition(recon.StatusInProgress, recon.StatusCompleted))

	// Terminal states
	assert.Empty(t, allowed[recon.StatusCompleted])
	assert.Empty(t, allowed[recon.StatusCancelled])
}

func TestStateMachine_InvalidTransitions(t *testing.T) {
	assert.False(t, IsValidTransition(recon.StatusPending, recon.StatusCompleted))
	assert.False(t, IsValidTransition(recon.StatusCompleted, recon.StatusInProgress))
	assert.False(t, IsValidTransition(recon.StatusCompleted, recon.StatusCancelled))
	assert.False(t, IsValidTransition(recon.StatusCancelled, recon.StatusInProgress))
	assert.False(t, IsValidTransition(recon.StatusFailed, recon.StatusCompleted))
}

func TestSourcesOf(t *testing.T) {
	assert.Equal(t, []recon.SessionStatus{recon.StatusPending, recon.StatusInProgress, recon.StatusFailed}, SourcesOf(recon.StatusCancelled))
	assert.Equal(t, []recon.SessionStatus{recon.StatusPending, recon.StatusInProgress}, SourcesOf(recon.StatusFailed))
}

func TestValidateOperation(t *testing.T) {
	tests := []struct {
		status recon.SessionStatus
		op     string
		ok     bool
	}{
		{recon.StatusPending, OpRunPass, true},
		{recon.StatusFailed, OpRunPass, true},
		{recon.StatusCancelled, OpRunPass, false},
		{recon.StatusCompleted, OpRunPass, false},
		{recon.StatusInProgress, OpStopPass, true},
		{recon.StatusPending, OpStopPass, false},
		{recon.StatusInProgress, OpCancel, true},
		{recon.StatusCompleted, OpCancel, false},
		{recon.StatusInProgress, OpResolveMatch, true},
		{recon.StatusFailed, OpResolveMatch, true},
		{recon.StatusCancelled, OpResolveMatch, false},
		{recon.StatusPending, OpImportStatements, true},
		{recon.StatusCompleted, OpImportStatements, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status)+"/"+tt.op, func(t *testing.T) {
			err := ValidateOperation(&recon.Session{ID: "s", Status: tt.status}, tt.op)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, recon.ErrConflict)
		})
	}

	err := ValidateOperation(&recon.Session{ID: "s", Status: recon.StatusPending}, "teleport")
	assert.ErrorIs(t, err, recon.ErrValidation)
}
