package claim

import (
	"context"
	"fmt"
	"sort"

	"github.com/papapumpkin/pulsar/internal/readiness"
	"github.com/papapumpkin/pulsar/internal/scoring"
	"github.com/papapumpkin/pulsar/internal/telemetry"
)

// Plan is the ranked view of a board's claimable items. Building one never
// writes to the store.
type Plan struct {
	BoardID   string
	Readiness *readiness.Result
	// Ranked holds scorable candidates in claim order.
	Ranked []scoring.Ranked
	// Rejected holds candidates whose scoring inputs were invalid or whose
	// enrichment failed.
	Rejected []scoring.Rejection
}

// Plan evaluates readiness and ranks candidates for the given pool of
// available workers without claiming anything.
func (c *Coordinator) Plan(ctx context.Context, boardID string, workers []Worker) (*Plan, error) {
	skills := make([][]string, 0, len(workers))
	for _, w := range workers {
		skills = append(skills, w.Skills)
	}
	return c.plan(ctx, boardID, skills, nil)
}

func (c *Coordinator) plan(ctx context.Context, boardID string, skills [][]string, exclude func(string) bool) (*Plan, error) {
	res, err := c.eval.Evaluate(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	c.report(boardID, res)

	p := &Plan{BoardID: boardID, Readiness: res}
	cands := make([]scoring.Candidate, 0, len(res.Candidates))
	for _, it := range res.Candidates {
		if exclude != nil && exclude(it.ID) {
			continue
		}
		f := res.Factors(it, skills)
		if c.enricher != nil {
			enriched, err := c.enricher.Enrich(ctx, it, f)
			if err != nil {
				p.Rejected = append(p.Rejected, scoring.Rejection{ID: it.ID, Err: fmt.Errorf("item %s: enrich: %w", it.ID, err)})
				continue
			}
			f = enriched
		}
		cands = append(cands, scoring.Candidate{ID: it.ID, CreatedAt: it.CreatedAt, Factors: f})
	}

	ranked, rejected := scoring.Rank(cands, c.weights)
	p.Ranked = ranked
	p.Rejected = append(p.Rejected, rejected...)
	sort.Slice(p.Rejected, func(i, j int) bool { return p.Rejected[i].ID < p.Rejected[j].ID })

	for _, r := range p.Rejected {
		c.logger.Warn("candidate not scored", "board", boardID, "item", r.ID, "error", r.Err)
		c.emit(telemetry.KindScoreRejected, boardID, r.ID, map[string]string{"error": r.Err.Error()})
	}
	return p, nil
}

// report logs and emits the readiness findings operators must act on.
func (c *Coordinator) report(boardID string, res *readiness.Result) {
	c.emit(telemetry.KindReadinessComputed, boardID, "", map[string]int{
		"candidates": len(res.Candidates),
		"blocked":    len(res.Blocked),
		"capacity":   res.Capacity,
	})
	for _, cycle := range res.Cycles {
		c.logger.Warn("blocking cycle detected; items stay blocked", "board", boardID, "items", cycle)
		c.emit(telemetry.KindCycleDetected, boardID, "", map[string][]string{"items": cycle})
	}
	for _, id := range res.Violations {
		c.logger.Error("blocked item found past backlog", "board", boardID, "item", id, "stage", res.Items[id].Stage)
	}
}
