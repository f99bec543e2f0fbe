// Package poller runs the autonomous claim loop.
//
// On every tick the Poller claims items for its worker from one or more
// boards, up to the number of free dispatch slots, and hands each claimed item
// to a Dispatcher. Slots are a weighted semaphore sized by MaxConcurrent, so
// the number of in-flight dispatches never exceeds it. A dispatch that fails,
// or that is still running when the shutdown grace period expires, has its
// claim released back to ready.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/papapumpkin/pulsar/internal/board"
	"github.com/papapumpkin/pulsar/internal/claim"
	"github.com/papapumpkin/pulsar/internal/dispatch"
	"github.com/papapumpkin/pulsar/internal/telemetry"
)

// releaseTimeout bounds the store calls made to hand back a failed claim.
const releaseTimeout = 10 * time.Second

// Config controls a Poller.
type Config struct {
	// Boards lists the boards to poll. Empty polls every board in the store.
	Boards        []string
	Interval      time.Duration
	MaxConcurrent int
	// DryRun evaluates and ranks candidates without claiming or dispatching.
	DryRun      bool
	GracePeriod time.Duration
	Worker      claim.Worker
}

// CycleStats summarizes one poll cycle.
type CycleStats struct {
	Boards  int
	Claimed int
	Planned int
	Errors  int
}

// flight is one claimed item whose dispatch has not settled yet.
type flight struct {
	item board.Item
}

// Poller claims and dispatches work on an interval.
type Poller struct {
	store      board.Store
	coord      *claim.Coordinator
	dispatcher dispatch.Dispatcher
	cfg        Config
	logger     *slog.Logger
	emitter    *telemetry.Emitter

	reloads   <-chan board.ManifestChange
	overrides map[string]int

	sem            *semaphore.Weighted
	dispatchCtx    context.Context
	cancelDispatch context.CancelFunc
	wg             sync.WaitGroup

	mu         sync.Mutex
	dispatched map[string]bool
	inFlight   map[string]flight
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger sets the operator logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// WithEmitter sends poll and dispatch events to a telemetry stream.
func WithEmitter(e *telemetry.Emitter) Option {
	return func(p *Poller) { p.emitter = e }
}

// WithManifestUpdates applies board definitions received on ch to the store
// between cycles. overrides are re-applied to every received manifest.
func WithManifestUpdates(ch <-chan board.ManifestChange, overrides map[string]int) Option {
	return func(p *Poller) {
		p.reloads = ch
		p.overrides = overrides
	}
}

// New creates a Poller.
func New(store board.Store, coord *claim.Coordinator, d dispatch.Dispatcher, cfg Config, opts ...Option) (*Poller, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("poller: interval must be positive")
	}
	if cfg.MaxConcurrent < 1 {
		return nil, fmt.Errorf("poller: max concurrent must be at least 1")
	}
	if cfg.Worker.ID == "" {
		return nil, fmt.Errorf("poller: worker id is required")
	}
	if d == nil && !cfg.DryRun {
		return nil, fmt.Errorf("poller: a dispatcher is required unless dry-run is set")
	}

	p := &Poller{
		store:      store,
		coord:      coord,
		dispatcher: d,
		cfg:        cfg,
		logger:     slog.New(slog.DiscardHandler),
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		dispatched: make(map[string]bool),
		inFlight:   make(map[string]flight),
	}
	p.dispatchCtx, p.cancelDispatch = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run polls until ctx is cancelled, then shuts down within the grace period.
// It returns nil on a clean shutdown; individual item and board failures are
// logged and never stop the loop.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started",
		"worker", p.cfg.Worker.ID,
		"boards", p.cfg.Boards,
		"interval", p.cfg.Interval,
		"max_concurrent", p.cfg.MaxConcurrent,
		"dry_run", p.cfg.DryRun)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		p.Cycle(ctx)
		select {
		case <-ctx.Done():
			return p.shutdown()
		case <-ticker.C:
		}
	}
}

// Cycle runs one poll cycle. Dispatches started by the cycle continue in the
// background; use Wait to block until they settle.
func (p *Poller) Cycle(ctx context.Context) CycleStats {
	var stats CycleStats
	if ctx.Err() != nil {
		return stats
	}
	p.applyReloads(ctx)

	boards, err := p.boards(ctx)
	if err != nil {
		p.logger.Error("listing boards failed", "error", err)
		stats.Errors++
		return stats
	}
	stats.Boards = len(boards)
	p.emit(telemetry.KindPollCycleStart, "", "", map[string]any{"boards": boards})

	if p.cfg.DryRun {
		stats.Planned, stats.Errors = p.plan(ctx, boards)
	} else {
		stats.Claimed, stats.Errors = p.claim(ctx, boards)
	}

	p.emit(telemetry.KindPollCycleDone, "", "", stats)
	p.logger.Debug("poll cycle done", "boards", stats.Boards, "claimed", stats.Claimed, "planned", stats.Planned, "errors", stats.Errors)
	return stats
}

// Wait blocks until every dispatch started so far has settled.
func (p *Poller) Wait() {
	p.wg.Wait()
}

func (p *Poller) boards(ctx context.Context) ([]string, error) {
	if len(p.cfg.Boards) > 0 {
		return p.cfg.Boards, nil
	}
	all, err := p.store.Boards(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(all))
	for _, b := range all {
		ids = append(ids, b.ID)
	}
	return ids, nil
}

// plan ranks every board concurrently without writing anything.
func (p *Poller) plan(ctx context.Context, boards []string) (planned, failed int) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range boards {
		g.Go(func() error {
			plan, err := p.coord.Plan(gctx, id, []claim.Worker{p.cfg.Worker})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.logger.Error("dry-run plan failed", "board", id, "error", err)
				failed++
				return nil
			}
			planned += len(plan.Ranked)
			for i, r := range plan.Ranked {
				p.logger.Info("dry-run candidate", "board", id, "rank", i+1, "item", r.ID, "score", r.Score)
			}
			return nil
		})
	}
	_ = g.Wait()
	return planned, failed
}

// claim fills free dispatch slots. Each slot is claimed by its own goroutine
// that walks the boards in order until one yields an item.
func (p *Poller) claim(ctx context.Context, boards []string) (claimed, failed int) {
	var (
		mu        sync.Mutex
		exhausted = make(map[string]bool)
		g         errgroup.Group
	)
	for ctx.Err() == nil && p.sem.TryAcquire(1) {
		g.Go(func() error {
			for _, id := range boards {
				mu.Lock()
				skip := exhausted[id]
				mu.Unlock()
				if skip || ctx.Err() != nil {
					continue
				}

				it, err := p.coord.ClaimNext(ctx, id, p.cfg.Worker, claim.Excluding(func(itemID string) bool {
					return p.wasDispatched(id, itemID)
				}))
				if err != nil {
					mu.Lock()
					if !exhausted[id] && !errors.Is(err, claim.ErrNoWorkAvailable) {
						failed++
						p.logger.Error("claim failed", "board", id, "error", err)
					}
					exhausted[id] = true
					mu.Unlock()
					continue
				}

				mu.Lock()
				claimed++
				mu.Unlock()
				p.start(it)
				return nil
			}
			p.sem.Release(1)
			return nil
		})
		// Stop opening slots once every board is known to be empty.
		mu.Lock()
		done := len(exhausted) == len(boards)
		mu.Unlock()
		if done {
			break
		}
	}
	_ = g.Wait()
	return claimed, failed
}

// start records the item as dispatched and hands it to the dispatcher. The
// slot acquired for it is released when the dispatch settles.
func (p *Poller) start(it board.Item) {
	k := key(it.BoardID, it.ID)
	p.mu.Lock()
	p.dispatched[k] = true
	p.inFlight[k] = flight{item: it}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)

		err := p.dispatcher.Dispatch(p.dispatchCtx, it)
		if !p.settle(k) {
			// Released by shutdown while the hook was still running.
			return
		}
		if err == nil {
			p.logger.Info("dispatched item", "board", it.BoardID, "item", it.ID)
			p.emit(telemetry.KindDispatchOK, it.BoardID, it.ID, nil)
			return
		}
		p.logger.Warn("dispatch failed, releasing claim", "board", it.BoardID, "item", it.ID, "error", err)
		p.emit(telemetry.KindDispatchFailed, it.BoardID, it.ID, map[string]string{"error": err.Error()})
		p.release(it)
	}()
}

// settle marks a dispatch as finished. It reports false when the dispatch was
// already settled by shutdown.
func (p *Poller) settle(k string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inFlight[k]; !ok {
		return false
	}
	delete(p.inFlight, k)
	return true
}

func (p *Poller) release(it board.Item) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if _, err := p.coord.Release(ctx, it.BoardID, it.ID, p.cfg.Worker.ID, claim.OutcomeFailed); err != nil {
		p.logger.Error("releasing claim failed", "board", it.BoardID, "item", it.ID, "error", err)
	}
}

func (p *Poller) wasDispatched(boardID, itemID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dispatched[key(boardID, itemID)]
}

// shutdown waits up to the grace period for in-flight dispatches, then
// releases the claims of any that are still running. It returns only after
// every dispatch goroutine has finished its own release, or releaseTimeout
// has passed since the grace period ran out.
func (p *Poller) shutdown() error {
	defer p.cancelDispatch()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.cfg.GracePeriod)
	defer timer.Stop()
	select {
	case <-done:
		p.logger.Info("poller stopped")
		return nil
	case <-timer.C:
	}

	p.mu.Lock()
	stuck := make([]board.Item, 0, len(p.inFlight))
	for k, f := range p.inFlight {
		stuck = append(stuck, f.item)
		delete(p.inFlight, k)
	}
	p.mu.Unlock()

	for _, it := range stuck {
		p.logger.Warn("dispatch still running after grace period, releasing claim", "board", it.BoardID, "item", it.ID)
		p.emit(telemetry.KindDispatchFailed, it.BoardID, it.ID, map[string]string{"error": "grace period expired"})
		p.release(it)
	}

	// Hooks still running lose their context now. Goroutines that settled
	// before the grace period ran out may still be releasing a failed claim.
	p.cancelDispatch()
	drain := time.NewTimer(releaseTimeout)
	defer drain.Stop()
	select {
	case <-done:
	case <-drain.C:
		p.logger.Warn("dispatch goroutines did not finish after grace period")
	}
	p.logger.Info("poller stopped", "released", len(stuck))
	return nil
}

// applyReloads pushes any pending board definition changes to the store.
func (p *Poller) applyReloads(ctx context.Context) {
	if p.reloads == nil {
		return
	}
	for {
		select {
		case change, ok := <-p.reloads:
			if !ok {
				p.reloads = nil
				return
			}
			p.applyManifest(ctx, change)
		default:
			return
		}
	}
}

func (p *Poller) applyManifest(ctx context.Context, change board.ManifestChange) {
	if change.Err != nil {
		p.logger.Error("board file reload failed, keeping previous definitions", "error", change.Err)
		return
	}
	m := change.Manifest
	if err := m.ApplyWIPLimits(p.overrides); err != nil {
		p.logger.Error("applying WIP limit overrides failed", "error", err)
		return
	}
	for _, b := range m.Boards {
		if err := p.store.PutBoard(ctx, b); err != nil {
			p.logger.Error("board reload rejected", "board", b.ID, "error", err)
			continue
		}
		p.logger.Info("board definition reloaded", "board", b.ID)
	}
}

func (p *Poller) emit(kind, boardID, itemID string, data any) {
	if err := p.emitter.Record(kind, boardID, itemID, data); err != nil {
		p.logger.Warn("telemetry write failed", "kind", kind, "error", err)
	}
}

func key(boardID, itemID string) string {
	return boardID + "/" + itemID
}
