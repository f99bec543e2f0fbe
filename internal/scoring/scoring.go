// Package scoring ranks claimable items with a deterministic weighted sum of
// four normalized factors. Every function in this package is pure: no I/O,
// no clocks, no shared state.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"time"
)

// ErrInvalidScoreInput is returned when a factor is missing or outside [0, 1].
// Inputs are never clamped.
var ErrInvalidScoreInput = errors.New("invalid score input")

// Weights configures the composite score:
//
//	Score = CustomerValue*cv + UnblockImpact*ui + Availability*av + Learning*lv
type Weights struct {
	CustomerValue float64 `mapstructure:"customer_value" json:"customer_value" yaml:"customer_value"`
	UnblockImpact float64 `mapstructure:"unblock_impact" json:"unblock_impact" yaml:"unblock_impact"`
	Availability  float64 `mapstructure:"availability" json:"availability" yaml:"availability"`
	Learning      float64 `mapstructure:"learning" json:"learning" yaml:"learning"`
}

// DefaultWeights returns production defaults: customer value dominates,
// followed by how much work the item unblocks, whether someone can pick it up,
// and what the team learns from it.
func DefaultWeights() Weights {
	return Weights{
		CustomerValue: 0.4,
		UnblockImpact: 0.3,
		Availability:  0.2,
		Learning:      0.1,
	}
}

// Validate rejects negative or non-finite weights and an all-zero set.
func (w Weights) Validate() error {
	named := []struct {
		name string
		v    float64
	}{
		{"customer_value", w.CustomerValue},
		{"unblock_impact", w.UnblockImpact},
		{"availability", w.Availability},
		{"learning", w.Learning},
	}
	sum := 0.0
	for _, n := range named {
		if math.IsNaN(n.v) || math.IsInf(n.v, 0) || n.v < 0 {
			return fmt.Errorf("scoring: weight %s = %v must be a finite non-negative number", n.name, n.v)
		}
		sum += n.v
	}
	if sum == 0 {
		return fmt.Errorf("scoring: at least one weight must be positive")
	}
	return nil
}

// Factors are the normalized inputs for one item. Use NaN to mark a factor
// as missing.
type Factors struct {
	CustomerValue float64 `json:"customer_value"`
	UnblockImpact float64 `json:"unblock_impact"`
	Availability  float64 `json:"availability"`
	Learning      float64 `json:"learning"`
}

// Missing is the sentinel for an absent factor.
var Missing = math.NaN()

// Validate checks that every factor is present and within [0, 1].
func (f Factors) Validate() error {
	for _, c := range []struct {
		name string
		v    float64
	}{
		{"customer_value", f.CustomerValue},
		{"unblock_impact", f.UnblockImpact},
		{"availability", f.Availability},
		{"learning", f.Learning},
	} {
		if math.IsNaN(c.v) {
			return fmt.Errorf("%w: %s is missing", ErrInvalidScoreInput, c.name)
		}
		if c.v < 0 || c.v > 1 {
			return fmt.Errorf("%w: %s = %v is outside [0, 1]", ErrInvalidScoreInput, c.name, c.v)
		}
	}
	return nil
}

// Score returns the weighted sum of f, or ErrInvalidScoreInput.
func Score(f Factors, w Weights) (float64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	return w.CustomerValue*f.CustomerValue +
		w.UnblockImpact*f.UnblockImpact +
		w.Availability*f.Availability +
		w.Learning*f.Learning, nil
}

// UnblockImpact normalizes a direct-dependent count against the board
// maximum. A board where nothing blocks anything scores 0 for every item.
func UnblockImpact(dependents, maxDependents int) float64 {
	if maxDependents <= 0 || dependents <= 0 {
		return 0
	}
	if dependents >= maxDependents {
		return 1
	}
	return float64(dependents) / float64(maxDependents)
}

// Availability returns 1 when at least one available worker can take an item
// requiring the given skills, else 0. An item with no required skills can be
// taken by any available worker.
func Availability(required []string, workers [][]string) float64 {
	if len(workers) == 0 {
		return 0
	}
	if len(required) == 0 {
		return 1
	}
	for _, skills := range workers {
		for _, s := range skills {
			if slices.Contains(required, s) {
				return 1
			}
		}
	}
	return 0
}

// Candidate is one item to rank.
type Candidate struct {
	ID        string
	CreatedAt time.Time
	Factors   Factors
}

// Ranked is a scored candidate.
type Ranked struct {
	Candidate
	Score float64
}

// Rejection records a candidate that could not be scored.
type Rejection struct {
	ID  string
	Err error
}

// Rank scores candidates and returns them in claim order: highest score first,
// then earliest creation time, then ID. Candidates with invalid factors are
// returned as rejections instead of failing the whole ranking.
func Rank(cands []Candidate, w Weights) ([]Ranked, []Rejection) {
	ranked := make([]Ranked, 0, len(cands))
	var rejected []Rejection
	for _, c := range cands {
		s, err := Score(c.Factors, w)
		if err != nil {
			rejected = append(rejected, Rejection{ID: c.ID, Err: fmt.Errorf("item %s: %w", c.ID, err)})
			continue
		}
		ranked = append(ranked, Ranked{Candidate: c, Score: s})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return Less(ranked[i], ranked[j]) })
	sort.Slice(rejected, func(i, j int) bool { return rejected[i].ID < rejected[j].ID })
	return ranked, rejected
}

// Less reports whether a is claimed before b.
func Less(a, b Ranked) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
