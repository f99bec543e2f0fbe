// Package board defines the workflow board model and the durable item store
// that the scheduling core coordinates through.
//
// A Board is an ordered list of stages, each with an optional WIP limit. Items
// move forward through the stages; the only backward moves return an
// in-progress item to ready, or to backlog when ready is full. Every write to an item goes through the store's
// conditional write, which compares the item version and enforces WIP limits
// in one atomic step. The store is the single source of truth: no component
// above it holds authoritative claim state.
package board

import (
	"fmt"
	"slices"
	"time"
)

// Well-known stage names. Boards must declare backlog, ready and in_progress;
// the last declared stage is the terminal stage.
const (
	StageBacklog    = "backlog"
	StageReady      = "ready"
	StageInProgress = "in_progress"
	StageReview     = "review"
	StageDone       = "done"
)

// Stage is a single column of a board.
type Stage struct {
	Name string `json:"name" yaml:"name" toml:"name"`
	// WIPLimit caps the number of items in the stage. Nil means unlimited.
	WIPLimit *int `json:"wip_limit,omitempty" yaml:"wip_limit,omitempty" toml:"wip_limit,omitempty"`
}

// Limited reports whether the stage carries a WIP limit.
func (s Stage) Limited() bool {
	return s.WIPLimit != nil
}

// Board is a named collection of items partitioned into ordered stages.
type Board struct {
	ID     string  `json:"id" yaml:"id" toml:"id"`
	Name   string  `json:"name" yaml:"name" toml:"name"`
	Stages []Stage `json:"stages" yaml:"stages" toml:"stage"`
}

// DefaultStages returns the conventional five-stage layout with no limits.
func DefaultStages() []Stage {
	return []Stage{
		{Name: StageBacklog},
		{Name: StageReady},
		{Name: StageInProgress},
		{Name: StageReview},
		{Name: StageDone},
	}
}

// Limit returns a pointer helper for declaring WIP limits inline.
func Limit(n int) *int {
	return &n
}

// StageIndex returns the position of the named stage, or -1.
func (b *Board) StageIndex(name string) int {
	return slices.IndexFunc(b.Stages, func(s Stage) bool { return s.Name == name })
}

// HasStage reports whether the board declares the named stage.
func (b *Board) HasStage(name string) bool {
	return b.StageIndex(name) >= 0
}

// Terminal returns the name of the last stage.
func (b *Board) Terminal() string {
	if len(b.Stages) == 0 {
		return ""
	}
	return b.Stages[len(b.Stages)-1].Name
}

// WIPLimit returns the limit of the named stage and whether one is set.
func (b *Board) WIPLimit(stage string) (int, bool) {
	i := b.StageIndex(stage)
	if i < 0 || b.Stages[i].WIPLimit == nil {
		return 0, false
	}
	return *b.Stages[i].WIPLimit, true
}

// SetWIPLimit overrides the limit of an existing stage. A negative n clears it.
func (b *Board) SetWIPLimit(stage string, n int) error {
	i := b.StageIndex(stage)
	if i < 0 {
		return fmt.Errorf("%w: board %q has no stage %q", ErrInvalidBoard, b.ID, stage)
	}
	if n < 0 {
		b.Stages[i].WIPLimit = nil
		return nil
	}
	b.Stages[i].WIPLimit = Limit(n)
	return nil
}

// Validate checks the structural rules every board must satisfy.
func (b *Board) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidBoard)
	}
	seen := make(map[string]bool, len(b.Stages))
	for _, s := range b.Stages {
		if s.Name == "" {
			return fmt.Errorf("%w: board %q has a stage without a name", ErrInvalidBoard, b.ID)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: board %q declares stage %q twice", ErrInvalidBoard, b.ID, s.Name)
		}
		seen[s.Name] = true
		if s.WIPLimit != nil && *s.WIPLimit < 0 {
			return fmt.Errorf("%w: board %q stage %q has negative WIP limit", ErrInvalidBoard, b.ID, s.Name)
		}
	}
	order := []string{StageBacklog, StageReady, StageInProgress}
	for i, name := range order {
		if b.StageIndex(name) != i {
			return fmt.Errorf("%w: board %q must start with stages %v", ErrInvalidBoard, b.ID, order)
		}
	}
	if len(b.Stages) < len(order)+1 {
		return fmt.Errorf("%w: board %q needs a terminal stage after %q", ErrInvalidBoard, b.ID, StageInProgress)
	}
	// Items are created in backlog and fall back to it when ready is full, so
	// backlog is never capped. The terminal stage only accumulates history.
	if b.Stages[0].Limited() {
		return fmt.Errorf("%w: board %q: backlog cannot carry a WIP limit", ErrInvalidBoard, b.ID)
	}
	if b.Stages[len(b.Stages)-1].Limited() {
		return fmt.Errorf("%w: board %q: terminal stage %q cannot carry a WIP limit", ErrInvalidBoard, b.ID, b.Terminal())
	}
	return nil
}

// Clone returns a deep copy of the board.
func (b Board) Clone() Board {
	out := b
	out.Stages = make([]Stage, len(b.Stages))
	for i, s := range b.Stages {
		out.Stages[i] = Stage{Name: s.Name}
		if s.WIPLimit != nil {
			out.Stages[i].WIPLimit = Limit(*s.WIPLimit)
		}
	}
	return out
}

// Item is the unit of work tracked on a board.
type Item struct {
	ID      string `json:"id" yaml:"id"`
	BoardID string `json:"board_id" yaml:"board_id"`
	Title   string `json:"title" yaml:"title"`
	Stage   string `json:"stage" yaml:"stage"`

	// Scoring inputs. Nil values are reported as missing by the scoring
	// engine instead of being defaulted.
	CustomerValue  *float64 `json:"customer_value,omitempty" yaml:"customer_value,omitempty"`
	LearningValue  *float64 `json:"learning_value,omitempty" yaml:"learning_value,omitempty"`
	RequiredSkills []string `json:"required_skills,omitempty" yaml:"required_skills,omitempty"`
	Effort         float64  `json:"effort,omitempty" yaml:"effort,omitempty"`

	// Owner is the claiming worker; empty unless the item is in progress.
	Owner     string   `json:"owner,omitempty" yaml:"owner,omitempty"`
	BlockedBy []string `json:"blocked_by,omitempty" yaml:"blocked_by,omitempty"`

	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
	TransitionedAt time.Time `json:"transitioned_at" yaml:"transitioned_at"`
	Version        int64     `json:"version" yaml:"version"`
}

// Value returns a pointer helper for scoring inputs.
func Value(v float64) *float64 {
	return &v
}

// Clone returns a deep copy of the item.
func (it Item) Clone() Item {
	out := it
	if it.CustomerValue != nil {
		out.CustomerValue = Value(*it.CustomerValue)
	}
	if it.LearningValue != nil {
		out.LearningValue = Value(*it.LearningValue)
	}
	out.RequiredSkills = slices.Clone(it.RequiredSkills)
	out.BlockedBy = slices.Clone(it.BlockedBy)
	return out
}

// Claimed reports whether a worker currently holds the item.
func (it Item) Claimed() bool {
	return it.Owner != ""
}

// Transition records one stage change in the append-only item history.
type Transition struct {
	ItemID  string    `json:"item_id" yaml:"item_id"`
	BoardID string    `json:"board_id" yaml:"board_id"`
	From    string    `json:"from" yaml:"from"`
	To      string    `json:"to" yaml:"to"`
	Owner   string    `json:"owner,omitempty" yaml:"owner,omitempty"`
	Version int64     `json:"version" yaml:"version"`
	At      time.Time `json:"at" yaml:"at"`
}
