package recon

import "time"

// ConditionKind is the field.operator pair of a rule condition.
type ConditionKind string

const (
	KindAmountExact         ConditionKind = "amount.exact"
	KindAmountTolerance     ConditionKind = "amount.tolerance"
	KindDateWithinDays      ConditionKind = "date.within_days"
	KindDescriptionContains ConditionKind = "description.contains"
	KindDescriptionMatches  ConditionKind = "description.matches"
)

// Tolerance modes of amount.tolerance.
const (
	ModePercent  = "pct"
	ModeAbsolute = "abs"
)

// Condition is one predicate of a rule. Value is interpreted per kind.
type Condition struct {
	Field           string `json:"field" yaml:"field"`
	Operator        string `json:"operator" yaml:"operator"`
	Value           string `json:"value,omitempty" yaml:"value,omitempty"`
	Mode            string `json:"mode,omitempty" yaml:"mode,omitempty"`
	CaseInsensitive bool   `json:"case_insensitive,omitempty" yaml:"case_insensitive,omitempty"`
}

// Kind returns the condition's field.operator pair.
func (c Condition) Kind() ConditionKind {
	return ConditionKind(c.Field + "." + c.Operator)
}

// Actions is what happens when every condition of a rule holds.
type Actions struct {
	AutoMatch          bool     `json:"auto_match" yaml:"auto_match"`
	ConfidenceOverride *float64 `json:"confidence_override,omitempty" yaml:"confidence_override,omitempty"`
}

// Confidence is the override, or 1.0.
func (a Actions) Confidence() float64 {
	if a.ConfidenceOverride != nil {
		return *a.ConfidenceOverride
	}
	return 1.0
}

// MatchRule is a user-authored, account-scoped matching rule. Lower priority
// values are evaluated first; equal priorities keep insertion order (Seq).
type MatchRule struct {
	ID         string      `json:"id" yaml:"id,omitempty"`
	AccountID  string      `json:"account_id" yaml:"account_id"`
	Name       string      `json:"name" yaml:"name"`
	Priority   int         `json:"priority" yaml:"priority"`
	Seq        int64       `json:"seq" yaml:"-"`
	Conditions []Condition `json:"conditions" yaml:"conditions"`
	Actions    Actions     `json:"actions" yaml:"actions"`
	Enabled    bool        `json:"enabled" yaml:"enabled"`
	Version    int         `json:"version" yaml:"-"`
	CreatedAt  time.Time   `json:"created_at" yaml:"-"`
	UpdatedAt  time.Time   `json:"updated_at" yaml:"-"`
}

// RuleInput carries the fields of a new rule.
type RuleInput struct {
	Name       string      `json:"name" yaml:"name"`
	Priority   int         `json:"priority" yaml:"priority"`
	Conditions []Condition `json:"conditions" yaml:"conditions"`
	Actions    Actions     `json:"actions" yaml:"actions"`
	Enabled    *bool       `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// RulePatch updates a rule. Nil fields are left unchanged. Version must equal
// the stored version.
type RulePatch struct {
	Version    int         `json:"version"`
	Name       *string     `json:"name,omitempty"`
	Priority   *int        `json:"priority,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
	Actions    *Actions    `json:"actions,omitempty"`
	Enabled    *bool       `json:"enabled,omitempty"`
}
