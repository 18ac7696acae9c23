package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/sukl/internal/logging"
)

// DefaultImportTimeout bounds one import from fetch to commit.
const DefaultImportTimeout = 10 * time.Minute

// maxStoredFailures caps the rejected rows persisted per run.
const maxStoredFailures = 10000

// Source fetches the bytes a descriptor points at.
type Source interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// ServiceOptions wires a Service. Store and Source are required.
type ServiceOptions struct {
	Store     Store
	Source    Source
	Evaluator *Evaluator
	Limiter   *ImportLimiter
	Import    ImportOptions
	Timeout   time.Duration

	// Now and NewID are replaced in tests.
	Now   func() time.Time
	NewID func() uuid.UUID
}

// Service runs the ingestion pipeline: eligibility, fetch, import,
// reconcile or bulk insert, and ledger update.
type Service struct {
	store   Store
	source  Source
	eval    *Evaluator
	limiter *ImportLimiter
	opts    ImportOptions
	timeout time.Duration
	now     func() time.Time
	newID   func() uuid.UUID

	mu      sync.RWMutex
	jobs    map[uuid.UUID]*Job
	closing bool

	// Background jobs derive from jobsCtx; Shutdown waits on running.
	jobsCtx  context.Context
	stopJobs context.CancelFunc
	running  sync.WaitGroup
}

// NewService creates a Service from opts, filling defaults.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("service needs a store")
	}
	if opts.Source == nil {
		return nil, errors.New("service needs a source")
	}
	if opts.Evaluator == nil {
		return nil, errors.New("service needs an eligibility evaluator")
	}
	if opts.Limiter == nil {
		opts.Limiter = NewImportLimiter(DefaultMaxConcurrentImports, DefaultMaxWaitTime)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultImportTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.New
	}
	if opts.Import.Charset != "" && !ValidCharset(opts.Import.Charset) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCharset, opts.Import.Charset)
	}

	jobsCtx, stopJobs := context.WithCancel(context.Background())
	return &Service{
		store:    opts.Store,
		source:   opts.Source,
		eval:     opts.Evaluator,
		limiter:  opts.Limiter,
		opts:     opts.Import.withDefaults(),
		timeout:  opts.Timeout,
		now:      opts.Now,
		newID:    opts.NewID,
		jobs:     make(map[uuid.UUID]*Job),
		jobsCtx:  jobsCtx,
		stopJobs: stopJobs,
	}, nil
}

// ProcessResult is the outcome of Process. Run is nil for skipped periods.
type ProcessResult struct {
	Descriptor Descriptor `json:"descriptor"`
	Status     RunStatus  `json:"status"`
	Decision   Decision   `json:"decision"`
	Run        *ImportRun `json:"run,omitempty"`
}

// Datasets returns the registered dataset descriptions.
func (s *Service) Datasets() []DatasetInfo {
	defs := All()
	infos := make([]DatasetInfo, len(defs))
	for i, def := range defs {
		infos[i] = def.Info
	}
	return infos
}

// Ledger returns the current ledger snapshot.
func (s *Service) Ledger(ctx context.Context) (*Ledger, error) {
	return s.store.LoadLedger(ctx)
}

// Evaluate returns the eligibility decision for (t, p) against the current ledger.
func (s *Service) Evaluate(ctx context.Context, t DatasetType, p Period) (Decision, error) {
	ledger, err := s.store.LoadLedger(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("load ledger: %w", err)
	}
	return s.eval.Evaluate(ledger, t, p), nil
}

// Runs lists import history.
func (s *Service) Runs(ctx context.Context, filter RunFilter) ([]ImportRun, error) {
	return s.store.ListRuns(ctx, filter)
}

// RunFailures returns stored rejected rows for a run.
func (s *Service) RunFailures(ctx context.Context, runID uuid.UUID, limit int) ([]RowFailure, error) {
	return s.store.RunFailures(ctx, runID, limit)
}

// LimiterStatus exposes the import limiter for monitoring.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// Process ingests one published file. An ineligible or concurrently claimed
// period yields a skipped result, not an error. Errors are structural,
// transport or storage failures; nothing is persisted for them except a
// failed history entry.
func (s *Service) Process(ctx context.Context, d Descriptor) (*ProcessResult, error) {
	def, ok := Get(d.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataset, d.Type)
	}
	log := logging.ForPeriod(ctx, string(d.Type), d.Period.Year, d.Period.Month)

	decision, err := s.Evaluate(ctx, d.Type, d.Period)
	if err != nil {
		return nil, err
	}
	if !decision.Eligible {
		log.Info("period skipped", "rule", decision.Rule, "reason", decision.Reason)
		return &ProcessResult{Descriptor: d, Status: RunSkipped, Decision: decision}, nil
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	run := ImportRun{
		ID:        s.newID(),
		Type:      d.Type,
		Period:    d.Period,
		Location:  d.Location,
		StartedAt: s.now(),
	}
	log = log.With("run_id", run.ID)
	log.Info("import started", "location", d.Location)

	data, err := s.source.Fetch(ctx, d.Location)
	if err != nil {
		return nil, s.fail(ctx, log, run, fmt.Errorf("fetch %s: %w", d.Location, err))
	}

	var result *ProcessResult
	if def.IsReference() {
		result, err = s.processReference(ctx, def, d, run, data)
	} else {
		result, err = s.processFacts(ctx, def, d, run, data)
	}
	if err != nil {
		return nil, s.fail(ctx, log, run, err)
	}
	if result.Status == RunSkipped {
		log.Info("period skipped", "rule", result.Decision.Rule, "reason", result.Decision.Reason)
		return result, nil
	}

	logCompleted(log, result.Run)
	return result, nil
}

func (s *Service) processReference(ctx context.Context, def DatasetDefinition, d Descriptor, run ImportRun, data []byte) (*ProcessResult, error) {
	report, err := Import(data, def.ImportOptions(s.opts), def.Columns, def.MapReference)
	if err != nil {
		return nil, err
	}

	asOf := d.Period.Start()
	reconciler := &Reconciler{NewID: s.newID, Material: def.Material}

	return s.withinPeriod(ctx, d, func(ctx context.Context, tx PeriodTx) (*ImportRun, error) {
		existing, err := tx.LoadReference(ctx)
		if err != nil {
			return nil, fmt.Errorf("load reference: %w", err)
		}

		rec := reconciler.Reconcile(existing, report.Successes(), asOf)
		if err := tx.PersistReference(ctx, rec.ToPersist); err != nil {
			return nil, fmt.Errorf("persist reference: %w", err)
		}

		failures := mergeFailures(report.Failures(), rec.Duplicates)
		run.Summary = summarize(report.TotalRows(), report.SuccessCount()-len(rec.Duplicates), failures)
		run.Persisted = int64(len(rec.ToPersist))
		run.Retired = len(rec.RetiredKeys)
		run.Message = fmt.Sprintf("created=%d updated=%d revived=%d retired=%d unchanged=%d",
			rec.Created, rec.Updated, rec.Revived, len(rec.RetiredKeys), rec.Unchanged)
		return s.complete(ctx, tx, run, failures)
	})
}

func (s *Service) processFacts(ctx context.Context, def DatasetDefinition, d Descriptor, run ImportRun, data []byte) (*ProcessResult, error) {
	entities, err := s.store.LoadReference(ctx)
	if err != nil {
		return nil, fmt.Errorf("load reference: %w", err)
	}
	catalog := NewCatalog(entities)

	report, err := Import(data, def.ImportOptions(s.opts), def.Columns, def.MapFact(catalog, d.Period))
	if err != nil {
		return nil, err
	}

	return s.withinPeriod(ctx, d, func(ctx context.Context, tx PeriodTx) (*ImportRun, error) {
		inserted, err := tx.InsertFacts(ctx, def, run.ID, d.Period, report.Successes())
		if err != nil {
			return nil, fmt.Errorf("insert %s: %w", def.FactTable, err)
		}

		run.Summary = report.Summary()
		run.Persisted = inserted
		return s.complete(ctx, tx, run, report.Failures())
	})
}

// withinPeriod claims the period, re-checks eligibility on the ledger without
// the claim and runs write. A lost race or a failed re-check is a skip.
func (s *Service) withinPeriod(ctx context.Context, d Descriptor, write func(context.Context, PeriodTx) (*ImportRun, error)) (*ProcessResult, error) {
	var completed *ImportRun
	var decision Decision

	claim := ProcessedPeriod{Type: d.Type, Period: d.Period, CompletedAt: s.now()}
	claimed, err := s.store.WithinPeriod(ctx, claim, func(ctx context.Context, tx PeriodTx) error {
		ledger, err := tx.Ledger(ctx)
		if err != nil {
			return fmt.Errorf("load ledger: %w", err)
		}
		decision = s.eval.Evaluate(ledger.Without(d.Type, d.Period), d.Type, d.Period)
		if !decision.Eligible {
			return &IneligibleError{Type: d.Type, Period: d.Period, Decision: decision}
		}

		completed, err = write(ctx, tx)
		return err
	})

	var ineligible *IneligibleError
	switch {
	case errors.As(err, &ineligible):
		return &ProcessResult{Descriptor: d, Status: RunSkipped, Decision: ineligible.Decision}, nil
	case err != nil:
		return nil, err
	case !claimed:
		return &ProcessResult{
			Descriptor: d,
			Status:     RunSkipped,
			Decision:   deny(RuleAlreadyProcessed, "%s %s was claimed by a concurrent import", d.Type, d.Period),
		}, nil
	}

	return &ProcessResult{Descriptor: d, Status: RunCompleted, Decision: decision, Run: completed}, nil
}

func (s *Service) complete(ctx context.Context, tx PeriodTx, run ImportRun, failures []RowFailure) (*ImportRun, error) {
	run.Status = RunCompleted
	run.FinishedAt = s.now()
	if len(failures) > maxStoredFailures {
		failures = failures[:maxStoredFailures]
	}
	if err := tx.RecordRun(ctx, run, failures); err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}
	return &run, nil
}

// fail records a failed run outside any period transaction and returns err.
func (s *Service) fail(ctx context.Context, log *slog.Logger, run ImportRun, err error) error {
	run.Status = RunFailed
	run.FinishedAt = s.now()
	run.Message = err.Error()

	log.Error("import failed", "error", err, "code", MapError(err).Code)

	// The import context may be the reason for the failure.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if recErr := s.store.RecordRun(recordCtx, run); recErr != nil {
		log.Warn("failed to record failed run", "error", recErr)
	}
	return err
}

// mergeFailures combines row and snapshot failures in line order.
func mergeFailures(a, b []RowFailure) []RowFailure {
	out := append(a, b...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out
}

func logCompleted(log *slog.Logger, run *ImportRun) {
	attrs := []any{
		"total_rows", run.Summary.TotalRows,
		"accepted", run.Summary.Accepted,
		"rejected", run.Summary.Rejected,
		"success_rate", fmt.Sprintf("%.4f", run.Summary.SuccessRate),
		"persisted", run.Persisted,
		"duration_ms", run.Duration().Milliseconds(),
	}
	if run.Retired > 0 {
		attrs = append(attrs, "retired", run.Retired)
	}
	if top := run.Summary.TopFailures(5); len(top) > 0 {
		attrs = append(attrs, "top_failures", top)
	}
	log.Info("import completed", attrs...)
}

// Inspect runs the importer for def without touching storage. Transactional
// datasets resolve codes against lookup; a nil lookup resolves nothing.
func Inspect(def DatasetDefinition, p Period, data []byte, opts ImportOptions, lookup ReferenceLookup) (ReportSummary, []RowFailure, error) {
	opts = def.ImportOptions(opts)
	if def.IsReference() {
		report, err := Import(data, opts, def.Columns, def.MapReference)
		if err != nil {
			return ReportSummary{}, nil, err
		}
		dups := (&Reconciler{}).Reconcile(nil, report.Successes(), time.Time{}).Duplicates
		failures := mergeFailures(report.Failures(), dups)
		return summarize(report.TotalRows(), report.SuccessCount()-len(dups), failures), failures, nil
	}

	if lookup == nil {
		lookup = NewCatalog(nil)
	}
	report, err := Import(data, opts, def.Columns, def.MapFact(lookup, p))
	if err != nil {
		return ReportSummary{}, nil, err
	}
	return report.Summary(), report.Failures(), nil
}

// SnapshotCatalog reconciles one reference file on its own and returns the
// catalog it describes. Rejected rows are ignored.
func SnapshotCatalog(data []byte, opts ImportOptions, p Period) (*Catalog, error) {
	def, ok := Get(Reference)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataset, Reference)
	}
	report, err := Import(data, def.ImportOptions(opts), def.Columns, def.MapReference)
	if err != nil {
		return nil, err
	}
	rec := (&Reconciler{Material: def.Material}).Reconcile(nil, report.Successes(), p.Start())
	return NewCatalog(rec.ToPersist), nil
}
