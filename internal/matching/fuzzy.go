// Package matching scores candidate ledger/statement pairs and resolves them
// into a conflict-free set of matches.
package matching

import (
	"errors"
	"math"
	"sort"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/example/recon-engine/internal/recon"
	"github.com/example/recon-engine/internal/textnorm"
)

// Params configures the heuristic scorer.
type Params struct {
	WeightAmount      float64 `mapstructure:"weight_amount"`
	WeightDate        float64 `mapstructure:"weight_date"`
	WeightDescription float64 `mapstructure:"weight_description"`
	AmountScale       float64 `mapstructure:"amount_scale"`
	DateScale         float64 `mapstructure:"date_scale"`
	Threshold         float64 `mapstructure:"threshold"`
	TopK              int     `mapstructure:"top_k"`
	DateWindowDays    int     `mapstructure:"date_window_days"`
	AmountWindowPct   float64 `mapstructure:"amount_window_pct"`
	TokenSimilarity   float64 `mapstructure:"token_similarity"`
}

// DefaultParams returns the stock scorer configuration.
func DefaultParams() Params {
	return Params{
		WeightAmount:      0.5,
		WeightDate:        0.2,
		WeightDescription: 0.3,
		AmountScale:       10,
		DateScale:         3,
		Threshold:         0.6,
		TopK:              3,
		DateWindowDays:    7,
		AmountWindowPct:   10,
		TokenSimilarity:   0.85,
	}
}

// Validate rejects parameters that would break the [0,1] range or make the
// score increase with distance.
func (p Params) Validate() error {
	if p.WeightAmount < 0 || p.WeightDate < 0 || p.WeightDescription < 0 {
		return errors.New("matching weights must be non-negative")
	}
	if p.WeightAmount+p.WeightDate+p.WeightDescription == 0 {
		return errors.New("at least one matching weight must be positive")
	}
	if p.AmountScale <= 0 || p.DateScale <= 0 {
		return errors.New("matching scales must be positive")
	}
	if p.Threshold < 0 || p.Threshold > 1 {
		return errors.New("matching threshold must be within [0, 1]")
	}
	if p.TopK <= 0 {
		return errors.New("matching top_k must be positive")
	}
	if p.DateWindowDays < 0 || p.AmountWindowPct < 0 {
		return errors.New("matching windows must be non-negative")
	}
	if p.TokenSimilarity <= 0 || p.TokenSimilarity > 1 {
		return errors.New("matching token_similarity must be within (0, 1]")
	}
	return nil
}

// Scorer computes heuristic confidences. It is immutable.
type Scorer struct {
	p       Params
	wAmount float64
	wDate   float64
	wDesc   float64
}

// NewScorer validates p and normalizes its weights to sum to 1.
func NewScorer(p Params) (*Scorer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	sum := p.WeightAmount + p.WeightDate + p.WeightDescription
	return &Scorer{
		p:       p,
		wAmount: p.WeightAmount / sum,
		wDate:   p.WeightDate / sum,
		wDesc:   p.WeightDescription / sum,
	}, nil
}

// Params returns the scorer configuration.
func (s *Scorer) Params() Params {
	return s.p
}

// Score returns the confidence of a pair in [0,1]. It is non-increasing in
// both the absolute amount difference and the absolute day difference.
func (s *Scorer) Score(l *recon.LedgerTransaction, st *recon.StatementTransaction) float64 {
	dAmount := l.Amount.Sub(st.Amount).Abs().InexactFloat64()
	dDays := float64(recon.DaysApart(l.Date, st.Date))

	score := s.wAmount*math.Exp(-dAmount/s.p.AmountScale) +
		s.wDate*math.Exp(-dDays/s.p.DateScale) +
		s.wDesc*s.descriptionSimilarity(l.Description, st.Description)
	return clamp01(score)
}

// inWindow is the cheap pre-filter applied before scoring.
func (s *Scorer) inWindow(l *recon.LedgerTransaction, st *recon.StatementTransaction) bool {
	if recon.DaysApart(l.Date, st.Date) > s.p.DateWindowDays {
		return false
	}
	la, sa := l.Amount.Abs().InexactFloat64(), st.Amount.Abs().InexactFloat64()
	limit := math.Max(la, sa) * s.p.AmountWindowPct / 100
	return l.Amount.Sub(st.Amount).Abs().InexactFloat64() <= limit
}

// descriptionSimilarity is a soft Jaccard index over folded word tokens. Two
// tokens count as shared when their Levenshtein similarity reaches the
// configured threshold.
func (s *Scorer) descriptionSimilarity(a, b string) float64 {
	ta, tb := textnorm.Tokens(a), textnorm.Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	used := make([]bool, len(tb))
	shared := 0
	for _, x := range ta {
		for j, y := range tb {
			if used[j] {
				continue
			}
			if x == y || tokenSimilarity(x, y) >= s.p.TokenSimilarity {
				used[j] = true
				shared++
				break
			}
		}
	}
	union := len(ta) + len(tb) - shared
	return float64(shared) / float64(union)
}

func tokenSimilarity(a, b string) float64 {
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// ScoredPair is a fuzzy candidate that passed the threshold.
type ScoredPair struct {
	Ledger     *recon.LedgerTransaction
	Confidence float64
}

// TopCandidates scores every eligible ledger transaction near st and keeps the
// best TopK at or above the threshold, ordered by confidence then ledger id.
func (s *Scorer) TopCandidates(idx *Index, st *recon.StatementTransaction, eligible func(l *recon.LedgerTransaction) bool) []ScoredPair {
	var out []ScoredPair
	idx.Near(st.Date, s.p.DateWindowDays, func(l *recon.LedgerTransaction) {
		if !s.inWindow(l, st) || (eligible != nil && !eligible(l)) {
			return
		}
		c := s.Score(l, st)
		if c < s.p.Threshold {
			return
		}
		out = append(out, ScoredPair{Ledger: l, Confidence: c})
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Ledger.ID < out[j].Ledger.ID
	})
	if len(out) > s.p.TopK {
		out = out[:s.p.TopK]
	}
	return out
}
