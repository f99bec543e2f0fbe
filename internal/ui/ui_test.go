package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/papapumpkin/pulsar/internal/board"
	"github.com/papapumpkin/pulsar/internal/claim"
	"github.com/papapumpkin/pulsar/internal/readiness"
	"github.com/papapumpkin/pulsar/internal/scoring"
)

func sampleResult() *readiness.Result {
	b := board.Board{ID: "web", Name: "Website", Stages: board.DefaultStages()}
	b.Stages[2].WIPLimit = board.Limit(2)
	t0 := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	items := []board.Item{
		{ID: "login", Title: "Login page", Stage: board.StageInProgress, Owner: "w1", CreatedAt: t0, Version: 3},
		{ID: "signup", Title: "Signup", Stage: board.StageBacklog, BlockedBy: []string{"login"}, CreatedAt: t0, Version: 1},
		{ID: "a", Stage: board.StageBacklog, BlockedBy: []string{"b"}, CreatedAt: t0, Version: 1},
		{ID: "b", Stage: board.StageBacklog, BlockedBy: []string{"a"}, CreatedAt: t0, Version: 1},
	}
	return readiness.Evaluate(b, items)
}

func assertContains(t *testing.T, output string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(output, w) {
			t.Errorf("expected output to contain %q, got:\n%s", w, output)
		}
	}
}

func TestBoardShow(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	NewWriter(&out, &bytes.Buffer{}).BoardShow(sampleResult())

	assertContains(t, out.String(),
		"board web (Website)",
		"in_progress",
		"[1/2]",
		"login  Login page",
		"@w1",
		"waits on login",
		"blocks signup",
		"blocks b",
		"✗ cycle",
		"cycle: a ↔ b",
		"in_progress capacity: 1",
	)
}

func TestPlanShow(t *testing.T) {
	t.Parallel()
	res := sampleResult()
	plan := &claim.Plan{
		BoardID:   "web",
		Readiness: res,
		Ranked: []scoring.Ranked{{
			Candidate: scoring.Candidate{ID: "login", Factors: scoring.Factors{CustomerValue: 1, UnblockImpact: 1, Availability: 1, Learning: 0.5}},
			Score:     0.95,
		}},
		Rejected: []scoring.Rejection{{ID: "bad", Err: errors.New("invalid score input: customer_value is missing")}},
	}

	var out bytes.Buffer
	NewWriter(&out, &bytes.Buffer{}).PlanShow(plan)
	assertContains(t, out.String(),
		"plan web",
		"1 candidate,",
		"capacity 1",
		"0.950",
		"cv=1.00 unblock=1.00 avail=1 learn=0.50",
		"✗ bad",
		"customer_value is missing",
	)

	out.Reset()
	NewWriter(&out, &bytes.Buffer{}).PlanShow(&claim.Plan{BoardID: "web", Readiness: res})
	assertContains(t, out.String(), "nothing to claim")
}

func TestItemShowAndHistory(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 6, 2, 10, 0, 0, 0, time.UTC)
	it := board.Item{
		ID: "login", BoardID: "web", Title: "Login page", Stage: board.StageReview,
		CustomerValue: board.Value(0.8), RequiredSkills: []string{"frontend"},
		CreatedAt: at, TransitionedAt: at, Version: 4,
	}

	var out bytes.Buffer
	p := NewWriter(&out, &bytes.Buffer{})
	p.ItemShow(it)
	assertContains(t, out.String(), "item login", "Login page", "0.80", "missing", "frontend", "2026-06-02T10:00:00Z")

	out.Reset()
	p.History("login", []board.Transition{
		{From: board.StageBacklog, To: board.StageReady, Version: 2, At: at},
		{From: board.StageReady, To: board.StageInProgress, Owner: "w1", Version: 3, At: at},
	})
	assertContains(t, out.String(), "backlog → ready", "ready → in_progress @w1", "v3")

	out.Reset()
	p.History("new", nil)
	assertContains(t, out.String(), "no transitions")
}

func TestStatusLinesGoToErr(t *testing.T) {
	t.Parallel()
	var out, errOut bytes.Buffer
	p := NewWriter(&out, &errOut)

	p.Error("boom")
	p.Claimed(board.Item{ID: "x", Owner: "w1"})
	p.BoardsApplied("boards.toml", []board.Board{{ID: "web", Stages: []board.Stage{{Name: "backlog"}, {Name: "in_progress", WIPLimit: board.Limit(3)}}}})

	if out.Len() != 0 {
		t.Errorf("status output leaked to Out: %q", out.String())
	}
	assertContains(t, errOut.String(), "error: boom", "w1 claimed x", "applied 1 board from boards.toml", "in_progress(3)")
}
