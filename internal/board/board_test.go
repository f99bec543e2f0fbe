package board

import (
	"errors"
	"testing"
	"time"
)

func TestBoardValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		board   Board
		wantErr bool
	}{
		{"default stages", Board{ID: "b", Stages: DefaultStages()}, false},
		{"without review", Board{ID: "b", Stages: []Stage{{Name: StageBacklog}, {Name: StageReady}, {Name: StageInProgress}, {Name: StageDone}}}, false},
		{"missing id", Board{Stages: DefaultStages()}, true},
		{"no terminal stage", Board{ID: "b", Stages: []Stage{{Name: StageBacklog}, {Name: StageReady}, {Name: StageInProgress}}}, true},
		{"wrong order", Board{ID: "b", Stages: []Stage{{Name: StageReady}, {Name: StageBacklog}, {Name: StageInProgress}, {Name: StageDone}}}, true},
		{"duplicate stage", Board{ID: "b", Stages: []Stage{{Name: StageBacklog}, {Name: StageReady}, {Name: StageInProgress}, {Name: StageReady}}}, true},
		{"negative limit", Board{ID: "b", Stages: []Stage{{Name: StageBacklog}, {Name: StageReady}, {Name: StageInProgress, WIPLimit: Limit(-1)}, {Name: StageDone}}}, true},
		{"limited backlog", Board{ID: "b", Stages: []Stage{{Name: StageBacklog, WIPLimit: Limit(3)}, {Name: StageReady}, {Name: StageInProgress}, {Name: StageDone}}}, true},
		{"limited terminal", Board{ID: "b", Stages: []Stage{{Name: StageBacklog}, {Name: StageReady}, {Name: StageInProgress}, {Name: StageDone, WIPLimit: Limit(3)}}}, true},
		{"zero limit allowed", Board{ID: "b", Stages: []Stage{{Name: StageBacklog}, {Name: StageReady}, {Name: StageInProgress, WIPLimit: Limit(0)}, {Name: StageDone}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.board.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidBoard) {
				t.Fatalf("Validate() = %v, want ErrInvalidBoard", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestBoardLimits(t *testing.T) {
	t.Parallel()
	b := Board{ID: "b", Stages: DefaultStages()}

	if _, ok := b.WIPLimit(StageInProgress); ok {
		t.Fatal("default stages should be unlimited")
	}
	if err := b.SetWIPLimit(StageInProgress, 2); err != nil {
		t.Fatalf("SetWIPLimit: %v", err)
	}
	if n, ok := b.WIPLimit(StageInProgress); !ok || n != 2 {
		t.Errorf("WIPLimit = (%d, %v), want (2, true)", n, ok)
	}

	clone := b.Clone()
	*clone.Stages[2].WIPLimit = 9
	if n, _ := b.WIPLimit(StageInProgress); n != 2 {
		t.Errorf("Clone shares limit pointer: original now %d", n)
	}

	if err := b.SetWIPLimit(StageInProgress, -1); err != nil {
		t.Fatalf("clear limit: %v", err)
	}
	if _, ok := b.WIPLimit(StageInProgress); ok {
		t.Error("negative limit should clear")
	}
	if err := b.SetWIPLimit("nope", 1); !errors.Is(err, ErrInvalidBoard) {
		t.Errorf("SetWIPLimit(unknown) = %v, want ErrInvalidBoard", err)
	}

	if got := b.Terminal(); got != StageDone {
		t.Errorf("Terminal() = %q, want %q", got, StageDone)
	}
	if got := b.NextStage(StageInProgress); got != StageReview {
		t.Errorf("NextStage(in_progress) = %q, want %q", got, StageReview)
	}
	if got := b.NextStage(StageDone); got != "" {
		t.Errorf("NextStage(done) = %q, want empty", got)
	}
}

func TestCheckTransition(t *testing.T) {
	t.Parallel()
	b := &Board{ID: "b", Stages: DefaultStages()}

	item := func(stage, owner string) Item {
		return Item{ID: "x", BoardID: "b", Stage: stage, Owner: owner}
	}

	tests := []struct {
		name    string
		from    Item
		to      Item
		wantErr bool
	}{
		{"promote", item(StageBacklog, ""), item(StageReady, ""), false},
		{"claim", item(StageReady, ""), item(StageInProgress, "w1"), false},
		{"claim without owner", item(StageReady, ""), item(StageInProgress, ""), true},
		{"claim from backlog", item(StageBacklog, ""), item(StageInProgress, "w1"), true},
		{"release to review", item(StageInProgress, "w1"), item(StageReview, ""), false},
		{"release keeping owner", item(StageInProgress, "w1"), item(StageReview, "w1"), true},
		{"return to ready", item(StageInProgress, "w1"), item(StageReady, ""), false},
		{"return to backlog", item(StageInProgress, "w1"), item(StageBacklog, ""), false},
		{"ready to backlog", item(StageReady, ""), item(StageBacklog, ""), true},
		{"review to done", item(StageReview, ""), item(StageDone, ""), false},
		{"ready skips to review", item(StageReady, ""), item(StageReview, ""), true},
		{"ready skips to done", item(StageReady, ""), item(StageDone, ""), true},
		{"backlog skips to done", item(StageBacklog, ""), item(StageDone, ""), true},
		{"done to ready", item(StageDone, ""), item(StageReady, ""), true},
		{"review to ready", item(StageReview, ""), item(StageReady, ""), true},
		{"same stage", item(StageReady, ""), item(StageReady, ""), true},
		{"unknown stage", item(StageReady, ""), item("limbo", ""), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := CheckTransition(b, tt.from, tt.to)
			if tt.wantErr && !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("CheckTransition = %v, want ErrInvalidTransition", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("CheckTransition = %v, want nil", err)
			}
		})
	}
}

func TestMove(t *testing.T) {
	t.Parallel()
	b := &Board{ID: "b", Stages: DefaultStages()}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	it := Item{ID: "x", BoardID: "b", Stage: StageReady, BlockedBy: []string{"y"}, Version: 4}

	next, err := Move(b, it, StageInProgress, "w1", now)
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if next.Stage != StageInProgress || next.Owner != "w1" {
		t.Errorf("Move = %s/%q, want in_progress/w1", next.Stage, next.Owner)
	}
	if !next.TransitionedAt.Equal(now) {
		t.Errorf("TransitionedAt = %v, want %v", next.TransitionedAt, now)
	}
	if next.Version != 4 {
		t.Errorf("Move changed version to %d; the store owns version bumps", next.Version)
	}
	next.BlockedBy[0] = "z"
	if it.BlockedBy[0] != "y" {
		t.Error("Move must not alias the input's slices")
	}
}
