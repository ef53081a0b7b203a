package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	assert.Equal(t, "cafe creme", Fold("  Café   CRÈME "))
	assert.Equal(t, "strasse", Fold("STRASSE"))
	assert.Equal(t, "", Fold(""))
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"pos", "starbucks", "1234"}, Tokens("POS*Starbucks #1234 starbucks"))
	assert.Empty(t, Tokens("--- ***"))
}
