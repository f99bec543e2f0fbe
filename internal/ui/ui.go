package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/papapumpkin/pulsar/internal/board"
	"github.com/papapumpkin/pulsar/internal/claim"
	"github.com/papapumpkin/pulsar/internal/readiness"
)

// Printer renders command output. Reports go to Out; status lines and errors
// go to Err.
type Printer struct {
	Out io.Writer
	Err io.Writer
}

// New creates a Printer on stdout and stderr.
func New() *Printer {
	return &Printer{Out: os.Stdout, Err: os.Stderr}
}

// NewWriter creates a Printer over explicit writers.
func NewWriter(out, errOut io.Writer) *Printer {
	return &Printer{Out: out, Err: errOut}
}

// Error prints an error line.
func (p *Printer) Error(msg string) {
	fmt.Fprintf(p.Err, "%s %s\n", styleError.Render("error:"), msg)
}

// Info prints a muted status line.
func (p *Printer) Info(msg string) {
	fmt.Fprintln(p.Err, styleMuted.Render(msg))
}

// Success prints a confirmation line.
func (p *Printer) Success(msg string) {
	fmt.Fprintf(p.Err, "%s %s\n", styleOK.Render("✓"), msg)
}

// BoardsApplied reports the boards written from a board file.
func (p *Printer) BoardsApplied(path string, boards []board.Board) {
	p.Success(fmt.Sprintf("applied %d board%s from %s", len(boards), pluralS(len(boards)), path))
	for _, b := range boards {
		var stages []string
		for _, s := range b.Stages {
			stages = append(stages, stageLabel(s))
		}
		fmt.Fprintf(p.Err, "  %s  %s\n", styleHeading.Render(b.ID), styleMuted.Render(strings.Join(stages, " → ")))
	}
}

// BoardShow prints every stage of a board with its items, marking owners,
// blocked items and the items each one blocks, followed by any cycles.
func (p *Printer) BoardShow(res *readiness.Result) {
	b := res.Board
	title := b.ID
	if b.Name != "" && b.Name != b.ID {
		title = fmt.Sprintf("%s (%s)", b.ID, b.Name)
	}
	fmt.Fprintln(p.Out, styleHeading.Render("board "+title))

	byStage := make(map[string][]board.Item, len(b.Stages))
	for _, it := range res.Items {
		byStage[it.Stage] = append(byStage[it.Stage], it)
	}
	for _, s := range b.Stages {
		items := byStage[s.Name]
		board.SortItems(items)
		count := fmt.Sprintf("%d", len(items))
		if s.Limited() {
			count = fmt.Sprintf("%d/%d", len(items), *s.WIPLimit)
		}
		fmt.Fprintf(p.Out, "\n%s %s\n", styleStage.Render(s.Name), styleMuted.Render("["+count+"]"))
		for _, it := range items {
			fmt.Fprintf(p.Out, "  %s\n", p.itemLine(res, it))
		}
	}

	if res.Capacity != readiness.Unlimited {
		fmt.Fprintf(p.Out, "\n%s %d\n", styleMuted.Render("in_progress capacity:"), res.Capacity)
	}
	for _, c := range res.Cycles {
		fmt.Fprintf(p.Out, "%s %s\n", styleError.Render("cycle:"), strings.Join(c, " ↔ "))
	}
}

func (p *Printer) itemLine(res *readiness.Result, it board.Item) string {
	line := it.ID
	if it.Title != "" {
		line += "  " + it.Title
	}
	var tags []string
	if it.Owner != "" {
		tags = append(tags, styleClaim.Render("@"+it.Owner))
	}
	if reason, ok := res.Blocked[it.ID]; ok {
		waits := append(append([]string{}, reason.Unresolved...), reason.Missing...)
		if len(reason.Cycle) > 0 {
			tags = append(tags, styleBlocked.Render("✗ cycle"))
		} else {
			tags = append(tags, styleBlocked.Render("✗ waits on "+strings.Join(waits, ",")))
		}
	}
	if deps := res.Graph.Dependents(it.ID); len(deps) > 0 && it.Stage != res.Board.Terminal() {
		tags = append(tags, styleMuted.Render("blocks "+strings.Join(deps, ",")))
	}
	tags = append(tags, styleMuted.Render(fmt.Sprintf("v%d", it.Version)))
	return line + "  " + strings.Join(tags, " ")
}

// PlanShow prints the ranked candidates of a dry-run plan.
func (p *Printer) PlanShow(plan *claim.Plan) {
	res := plan.Readiness
	capacity := "unlimited"
	if res.Capacity != readiness.Unlimited {
		capacity = fmt.Sprintf("%d", res.Capacity)
	}
	fmt.Fprintf(p.Out, "%s %s\n", styleHeading.Render("plan "+plan.BoardID),
		styleMuted.Render(fmt.Sprintf("(%d candidate%s, %d blocked, capacity %s)",
			len(plan.Ranked), pluralS(len(plan.Ranked)), len(res.Blocked), capacity)))

	if len(plan.Ranked) == 0 {
		fmt.Fprintln(p.Out, styleMuted.Render("  nothing to claim"))
	}
	for i, r := range plan.Ranked {
		it := res.Items[r.ID]
		f := r.Factors
		fmt.Fprintf(p.Out, "  %2d. %-20s %s  %s\n", i+1, r.ID,
			styleClaim.Render(fmt.Sprintf("%.3f", r.Score)),
			styleMuted.Render(fmt.Sprintf("cv=%.2f unblock=%.2f avail=%.0f learn=%.2f  %s",
				f.CustomerValue, f.UnblockImpact, f.Availability, f.Learning, it.Title)))
	}
	for _, rej := range plan.Rejected {
		fmt.Fprintf(p.Out, "  %s %s\n", styleBlocked.Render("✗ "+rej.ID), styleMuted.Render(rej.Err.Error()))
	}
	for _, c := range res.Cycles {
		fmt.Fprintf(p.Out, "  %s %s\n", styleError.Render("cycle:"), strings.Join(c, " ↔ "))
	}
}

// ItemShow prints a single item.
func (p *Printer) ItemShow(it board.Item) {
	fmt.Fprintln(p.Out, styleHeading.Render("item "+it.ID))
	row := func(k, v string) {
		fmt.Fprintf(p.Out, "  %-16s %s\n", styleMuted.Render(k+":"), v)
	}
	row("title", it.Title)
	row("board", it.BoardID)
	row("stage", styleStage.Render(it.Stage))
	if it.Owner != "" {
		row("owner", styleClaim.Render(it.Owner))
	}
	row("customer value", optional(it.CustomerValue))
	row("learning value", optional(it.LearningValue))
	if len(it.RequiredSkills) > 0 {
		row("skills", strings.Join(it.RequiredSkills, ", "))
	}
	if it.Effort > 0 {
		row("effort", fmt.Sprintf("%g", it.Effort))
	}
	if len(it.BlockedBy) > 0 {
		row("blocked by", strings.Join(it.BlockedBy, ", "))
	}
	row("created", it.CreatedAt.Format(time.RFC3339))
	row("transitioned", it.TransitionedAt.Format(time.RFC3339))
	row("version", fmt.Sprintf("%d", it.Version))
}

// History prints the stage transitions of an item, oldest first.
func (p *Printer) History(itemID string, hist []board.Transition) {
	fmt.Fprintln(p.Out, styleHeading.Render("history "+itemID))
	if len(hist) == 0 {
		fmt.Fprintln(p.Out, styleMuted.Render("  no transitions"))
		return
	}
	for _, tr := range hist {
		owner := ""
		if tr.Owner != "" {
			owner = " " + styleClaim.Render("@"+tr.Owner)
		}
		fmt.Fprintf(p.Out, "  %s  %s → %s%s %s\n",
			styleMuted.Render(tr.At.Format(time.RFC3339)), tr.From, styleStage.Render(tr.To), owner,
			styleMuted.Render(fmt.Sprintf("v%d", tr.Version)))
	}
}

// Claimed reports a successful claim.
func (p *Printer) Claimed(it board.Item) {
	p.Success(fmt.Sprintf("%s claimed %s %s", it.Owner, styleClaim.Render(it.ID), styleMuted.Render(it.Title)))
}

// Moved reports a stage change.
func (p *Printer) Moved(it board.Item) {
	p.Success(fmt.Sprintf("%s → %s %s", it.ID, styleStage.Render(it.Stage), styleMuted.Render(fmt.Sprintf("v%d", it.Version))))
}

func stageLabel(s board.Stage) string {
	if s.Limited() {
		return fmt.Sprintf("%s(%d)", s.Name, *s.WIPLimit)
	}
	return s.Name
}

func optional(v *float64) string {
	if v == nil {
		return styleBlocked.Render("missing")
	}
	return fmt.Sprintf("%.2f", *v)
}

func pluralS(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
