package core

// scheduler.go re-processes a set of published descriptors on an interval.
//
// Redelivery is safe: periods already in the ledger are skipped by
// eligibility, and periods whose dependencies are not ready yet are picked up
// on a later cycle. The scheduler logs failures but keeps running.

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// ScheduleConfig configures StartScheduler.
type ScheduleConfig struct {
	Interval time.Duration // How often to run (default: 1h)
	Parallel int           // Concurrent imports per wave (default: 1)

	// Load returns the descriptors to offer on each cycle.
	Load func(ctx context.Context) ([]Descriptor, error)
}

// CycleResult counts the outcomes of one scheduler cycle.
type CycleResult struct {
	Completed int
	Skipped   int
	Failed    int
}

// StartScheduler runs a cycle immediately, then every Interval, until ctx ends.
func (s *Service) StartScheduler(ctx context.Context, cfg ScheduleConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	slog.Info("import scheduler started", "interval", cfg.Interval.String())

	s.RunCycle(ctx, cfg.Load, cfg.Parallel)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("import scheduler stopped")
			return
		case <-ticker.C:
			s.RunCycle(ctx, cfg.Load, cfg.Parallel)
		}
	}
}

// RunCycle loads descriptors and processes each once with RunBatch.
func (s *Service) RunCycle(ctx context.Context, load func(ctx context.Context) ([]Descriptor, error), parallel int) CycleResult {
	start := time.Now()

	descriptors, err := load(ctx)
	if err != nil {
		slog.Error("scheduler failed to load descriptors", "error", err)
		return CycleResult{}
	}

	res := s.RunBatch(ctx, descriptors, parallel)
	slog.Info("import cycle completed",
		"completed", res.Completed,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res
}

// BatchItem is the outcome of one descriptor in a batch.
type BatchItem struct {
	Descriptor Descriptor
	Result     *ProcessResult // nil when Err is set
	Err        error
}

// RunBatch processes descriptors with ProcessAll and counts the outcomes.
func (s *Service) RunBatch(ctx context.Context, descriptors []Descriptor, parallel int) CycleResult {
	var res CycleResult
	for _, item := range s.ProcessAll(ctx, descriptors, parallel) {
		switch {
		case item.Err != nil:
			res.Failed++
		case item.Result.Status == RunSkipped:
			res.Skipped++
		default:
			res.Completed++
		}
	}
	return res
}

// ProcessAll processes descriptors in dependency waves: the reference chain
// runs one period at a time in calendar order, then the monthly feeds, then
// the yearly feeds. Within the last two waves up to parallel imports run at
// once. Items come back in wave order; descriptors not reached before ctx
// ended are left out.
func (s *Service) ProcessAll(ctx context.Context, descriptors []Descriptor, parallel int) []BatchItem {
	if parallel < 1 {
		parallel = 1
	}

	var items []BatchItem
	for i, wave := range Waves(descriptors) {
		limit := parallel
		if i == 0 {
			limit = 1
		}

		out := make([]BatchItem, len(wave))
		ran := make([]bool, len(wave))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for j, d := range wave {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				result, err := s.Process(gctx, d)
				out[j] = BatchItem{Descriptor: d, Result: result, Err: err}
				ran[j] = true
				return nil
			})
		}
		_ = g.Wait()

		for j := range out {
			if ran[j] {
				items = append(items, out[j])
			}
		}
		if ctx.Err() != nil {
			break
		}
	}
	return items
}

// Waves splits descriptors into the reference chain, the monthly feeds and
// the yearly feeds, each in OrderDescriptors order. Empty waves are kept.
func Waves(ds []Descriptor) [3][]Descriptor {
	var waves [3][]Descriptor
	for _, d := range OrderDescriptors(ds) {
		switch {
		case d.Type.IsReference():
			waves[0] = append(waves[0], d)
		case d.Type.Granularity() == GranularityMonthly:
			waves[1] = append(waves[1], d)
		default:
			waves[2] = append(waves[2], d)
		}
	}
	return waves
}

// OrderDescriptors sorts descriptors so dependencies run first: monthly
// periods in calendar order with REFERENCE before the feeds of the same
// month, then yearly feeds by year.
func OrderDescriptors(ds []Descriptor) []Descriptor {
	out := make([]Descriptor, len(ds))
	copy(out, ds)

	yearly := func(d Descriptor) bool {
		return d.Type.Granularity() == GranularityYearly
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ya, yb := yearly(a), yearly(b); ya != yb {
			return yb
		}
		if a.Period != b.Period {
			return a.Period.Before(b.Period)
		}
		if ra, rb := a.Type.IsReference(), b.Type.IsReference(); ra != rb {
			return ra
		}
		return a.Type < b.Type
	})
	return out
}
