package rules

import (
	"strings"

	"github.com/example/recon-engine/internal/recon"
)

const maxConditions = 32

// Validate checks a rule before it is stored. The compiled form is discarded;
// compiling is the only reliable way to vet regexes and decimals.
func Validate(rule recon.MatchRule) error {
	if strings.TrimSpace(rule.AccountID) == "" {
		return recon.NewValidationError("account_id", "account_id is required")
	}
	if strings.TrimSpace(rule.Name) == "" {
		return recon.NewValidationError("name", "name is required")
	}
	if len(rule.Conditions) == 0 {
		return recon.NewValidationError("conditions", "at least one condition is required")
	}
	if len(rule.Conditions) > maxConditions {
		return recon.NewValidationError("conditions", "too many conditions")
	}
	if o := rule.Actions.ConfidenceOverride; o != nil && (*o < 0 || *o > 1) {
		return recon.NewValidationError("actions.confidence_override", "confidence override must be within [0, 1]")
	}
	_, err := compileRule(rule, Defaults{})
	return err
}
