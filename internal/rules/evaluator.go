// Package rules compiles and evaluates user-authored matching rules and
// manages their lifecycle.
package rules

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/example/recon-engine/internal/recon"
	"github.com/example/recon-engine/internal/textnorm"
)

// Defaults fill in condition values the rule author left empty.
type Defaults struct {
	AmountExactTolerance decimal.Decimal
}

type predicate func(c *compiledCondition, l *recon.LedgerTransaction, s *recon.StatementTransaction) bool

// compiledCondition is a tagged variant; only the fields of its kind are set.
type compiledCondition struct {
	kind      recon.ConditionKind
	tolerance decimal.Decimal
	percent   bool
	days      int
	needle    string
	fold      bool
	re        *regexp.Regexp
}

var predicates = map[recon.ConditionKind]predicate{
	recon.KindAmountExact:         amountWithin,
	recon.KindAmountTolerance:     amountWithin,
	recon.KindDateWithinDays:      dateWithin,
	recon.KindDescriptionContains: descriptionContains,
	recon.KindDescriptionMatches:  descriptionMatches,
}

func amountWithin(c *compiledCondition, l *recon.LedgerTransaction, s *recon.StatementTransaction) bool {
	delta := l.Amount.Sub(s.Amount).Abs()
	limit := c.tolerance
	if c.percent {
		limit = l.Amount.Abs().Mul(c.tolerance).Div(decimal.NewFromInt(100))
	}
	return delta.LessThanOrEqual(limit)
}

func dateWithin(c *compiledCondition, l *recon.LedgerTransaction, s *recon.StatementTransaction) bool {
	return recon.DaysApart(l.Date, s.Date) <= c.days
}

func descriptionContains(c *compiledCondition, _ *recon.LedgerTransaction, s *recon.StatementTransaction) bool {
	if c.fold {
		return strings.Contains(textnorm.Fold(s.Description), c.needle)
	}
	return strings.Contains(s.Description, c.needle)
}

func descriptionMatches(c *compiledCondition, _ *recon.LedgerTransaction, s *recon.StatementTransaction) bool {
	return c.re.MatchString(s.Description)
}

func compileCondition(idx int, c recon.Condition, d Defaults) (compiledCondition, error) {
	field := "conditions[" + strconv.Itoa(idx) + "]"
	cc := compiledCondition{kind: c.Kind()}

	switch cc.kind {
	case recon.KindAmountExact:
		cc.tolerance = d.AmountExactTolerance
		if c.Value != "" {
			v, err := decimal.NewFromString(c.Value)
			if err != nil || v.IsNegative() {
				return cc, recon.NewValidationError(field+".value", "tolerance must be a non-negative decimal")
			}
			cc.tolerance = v
		}
	case recon.KindAmountTolerance:
		v, err := decimal.NewFromString(c.Value)
		if err != nil || v.IsNegative() {
			return cc, recon.NewValidationError(field+".value", "tolerance must be a non-negative decimal")
		}
		cc.tolerance = v
		switch c.Mode {
		case recon.ModePercent, "":
			cc.percent = true
		case recon.ModeAbsolute:
		default:
			return cc, recon.NewValidationError(field+".mode", "mode must be pct or abs")
		}
	case recon.KindDateWithinDays:
		n, err := strconv.Atoi(strings.TrimSpace(c.Value))
		if err != nil || n < 0 {
			return cc, recon.NewValidationError(field+".value", "days must be a non-negative integer")
		}
		cc.days = n
	case recon.KindDescriptionContains:
		if c.Value == "" {
			return cc, recon.NewValidationError(field+".value", "substring is required")
		}
		cc.fold = c.CaseInsensitive
		cc.needle = c.Value
		if cc.fold {
			cc.needle = textnorm.Fold(c.Value)
		}
	case recon.KindDescriptionMatches:
		pattern := c.Value
		if pattern == "" {
			return cc, recon.NewValidationError(field+".value", "pattern is required")
		}
		if c.CaseInsensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return cc, recon.NewValidationError(field+".value", "invalid regular expression: "+err.Error())
		}
		cc.re = re
	default:
		return cc, recon.NewValidationError(field, "unknown condition "+string(cc.kind))
	}
	return cc, nil
}

type compiledRule struct {
	rule  recon.MatchRule
	conds []compiledCondition
}

func (r *compiledRule) holds(l *recon.LedgerTransaction, s *recon.StatementTransaction) bool {
	for i := range r.conds {
		c := &r.conds[i]
		if !predicates[c.kind](c, l, s) {
			return false
		}
	}
	return true
}

func compileRule(rule recon.MatchRule, d Defaults) (compiledRule, error) {
	cr := compiledRule{rule: rule, conds: make([]compiledCondition, 0, len(rule.Conditions))}
	for i, c := range rule.Conditions {
		cc, err := compileCondition(i, c, d)
		if err != nil {
			return cr, err
		}
		cr.conds = append(cr.conds, cc)
	}
	return cr, nil
}

// Outcome describes the first rule that held for a pair.
type Outcome struct {
	RuleID     string
	Priority   int
	Seq        int64
	AutoMatch  bool
	Confidence float64
}

// Program is an ordered, compiled rule set for one account. It is immutable
// and safe for concurrent use.
type Program struct {
	rules []compiledRule
}

// Compile orders enabled rules by priority then insertion order and compiles
// their conditions.
func Compile(rules []recon.MatchRule, d Defaults) (*Program, error) {
	p := &Program{}
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		cr, err := compileRule(r, d)
		if err != nil {
			return nil, err
		}
		p.rules = append(p.rules, cr)
	}
	sort.SliceStable(p.rules, func(i, j int) bool {
		a, b := p.rules[i].rule, p.rules[j].rule
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.Seq < b.Seq
	})
	return p, nil
}

// Len is the number of enabled rules.
func (p *Program) Len() int {
	if p == nil {
		return 0
	}
	return len(p.rules)
}

// HasAutoMatch reports whether any enabled rule confirms matches on its own.
func (p *Program) HasAutoMatch() bool {
	if p == nil {
		return false
	}
	for i := range p.rules {
		if p.rules[i].rule.Actions.AutoMatch {
			return true
		}
	}
	return false
}

// Match returns the outcome of the first rule whose conditions all hold.
func (p *Program) Match(l *recon.LedgerTransaction, s *recon.StatementTransaction) (Outcome, bool) {
	for i := range p.rules {
		r := &p.rules[i]
		if !r.holds(l, s) {
			continue
		}
		return Outcome{
			RuleID:     r.rule.ID,
			Priority:   r.rule.Priority,
			Seq:        r.rule.Seq,
			AutoMatch:  r.rule.Actions.AutoMatch,
			Confidence: r.rule.Actions.Confidence(),
		}, true
	}
	return Outcome{}, false
}

// Evaluate reports whether every condition of rule holds for the pair.
// Rules that fail to compile never hold.
func Evaluate(rule recon.MatchRule, l recon.LedgerTransaction, s recon.StatementTransaction) bool {
	cr, err := compileRule(rule, Defaults{})
	if err != nil || len(cr.conds) == 0 {
		return false
	}
	return cr.holds(&l, &s)
}
