package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCheckpoint(t *testing.T) {
	tests := []struct {
		in     string
		phase  phase
		cursor string
	}{
		{"", phaseRules, ""},
		{"rules:s-10", phaseRules, "s-10"},
		{"match:s-10", phaseMatch, "s-10"},
		{"match:a:b", phaseMatch, "a:b"},
		{"s-10", phaseMatch, "s-10"},
		{"other:s-10", phaseMatch, "other:s-10"},
	}
	for _, tt := range tests {
		ph, cursor := parseCheckpoint(tt.in)
		assert.Equal(t, tt.phase, ph, tt.in)
		assert.Equal(t, tt.cursor, cursor, tt.in)
	}
	assert.Equal(t, "rules:s-3", phaseRules.checkpoint("s-3"))
}
