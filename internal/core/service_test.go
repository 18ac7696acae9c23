package core_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sukl/internal/core"
	_ "github.com/JonMunkholm/sukl/internal/core/datasets"
	"github.com/JonMunkholm/sukl/internal/store"
)

const (
	refJan = "KOD_SUKL;NAZEV;DODAVKY\n0000001;Paralen;A\n0000002;Ibalgin;A\n"
	refFeb = "KOD_SUKL;NAZEV;DODAVKY\n0000001;Paralen 500;N\n0000003;Nurofen;A\n"

	distributionJan = "KOD_SUKL;TYP_POHYBU;POCET_BALENI;KOD_ODBERATELE\n1;dodávka;10;L1\n0009999;D;5;L2\n"
	dispenseJan     = "ROK;MESIC;KOD_SUKL;POCET_BALENI\n2017;1;0000001;3\n2017;2;0000002;1\n"
	yearly2016      = "ROK;KOD_SUKL;TYP_POHYBU;POCET_BALENI\n2016;0000001;D;4\n"
)

// memorySource serves fixed files and counts fetches.
type memorySource struct {
	mu      sync.Mutex
	files   map[string]string
	fetches map[string]int
}

func newSource(files map[string]string) *memorySource {
	return &memorySource{files: files, fetches: make(map[string]int)}
}

func (s *memorySource) Fetch(ctx context.Context, location string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches[location]++
	data, ok := s.files[location]
	if !ok {
		return nil, fmt.Errorf("open %s: no such file or directory", location)
	}
	return []byte(data), nil
}

func (s *memorySource) count(location string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[location]
}

// blockingSource waits until the context ends.
type blockingSource struct {
	started chan struct{}
}

func (s *blockingSource) Fetch(ctx context.Context, _ string) ([]byte, error) {
	close(s.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

// gatedSource serves data once release is closed, ignoring cancellation.
type gatedSource struct {
	data    string
	started chan struct{}
	release chan struct{}
}

func (s *gatedSource) Fetch(context.Context, string) ([]byte, error) {
	close(s.started)
	<-s.release
	return []byte(s.data), nil
}

func newService(t *testing.T, src core.Source) (*core.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	svc, err := core.NewService(core.ServiceOptions{
		Store:     mem,
		Source:    src,
		Evaluator: core.NewEvaluator(core.MonthlyPeriod(2017, 1)),
		Import:    core.ImportOptions{Charset: "UTF-8", Delimiter: ';'},
	})
	require.NoError(t, err)
	return svc, mem
}

func descriptor(t core.DatasetType, p core.Period, location string) core.Descriptor {
	return core.Descriptor{Type: t, Period: p, Location: location}
}

var (
	jan2017 = core.MonthlyPeriod(2017, 1)
	feb2017 = core.MonthlyPeriod(2017, 2)
)

// =============================================================================
// Construction
// =============================================================================

func TestNewService_Validation(t *testing.T) {
	mem := store.NewMemory()
	src := newSource(nil)
	eval := core.NewEvaluator(jan2017)

	_, err := core.NewService(core.ServiceOptions{Source: src, Evaluator: eval})
	assert.Error(t, err)
	_, err = core.NewService(core.ServiceOptions{Store: mem, Evaluator: eval})
	assert.Error(t, err)
	_, err = core.NewService(core.ServiceOptions{Store: mem, Source: src})
	assert.Error(t, err)

	_, err = core.NewService(core.ServiceOptions{Store: mem, Source: src, Evaluator: eval, Import: core.ImportOptions{Charset: "nope"}})
	assert.ErrorIs(t, err, core.ErrUnknownCharset)
}

// =============================================================================
// Reference processing
// =============================================================================

func TestProcess_ReferenceBootstrapAndChain(t *testing.T) {
	ctx := context.Background()
	svc, mem := newService(t, newSource(map[string]string{"jan.csv": refJan, "feb.csv": refFeb}))

	res, err := svc.Process(ctx, descriptor(core.Reference, jan2017, "jan.csv"))
	require.NoError(t, err)
	require.Equal(t, core.RunCompleted, res.Status)
	assert.Equal(t, core.RuleReferenceBootstrap, res.Decision.Rule)
	assert.Equal(t, int64(2), res.Run.Persisted)
	assert.Equal(t, 2, res.Run.Summary.Accepted)

	res, err = svc.Process(ctx, descriptor(core.Reference, feb2017, "feb.csv"))
	require.NoError(t, err)
	require.Equal(t, core.RunCompleted, res.Status)
	assert.Equal(t, core.RuleReferenceChain, res.Decision.Rule)
	// Paralen renamed, Nurofen new, Ibalgin retired.
	assert.Equal(t, int64(3), res.Run.Persisted)
	assert.Equal(t, 1, res.Run.Retired)
	assert.Contains(t, res.Run.Message, "created=1 updated=1 revived=0 retired=1 unchanged=0")

	versions := mem.Versions()
	assert.Len(t, versions, 5)

	entities, err := mem.LoadReference(ctx)
	require.NoError(t, err)
	catalog := core.NewCatalog(entities)
	assert.Equal(t, 3, catalog.Len())
	assert.Equal(t, 2, catalog.ActiveCount())

	retired, ok := catalog.LookupByNaturalCode("0000002")
	require.True(t, ok)
	require.NotNil(t, retired.MissingSince)
	assert.True(t, retired.MissingSince.Equal(feb2017.Start()))

	ledger, err := svc.Ledger(ctx)
	require.NoError(t, err)
	assert.True(t, ledger.ExistsPeriod(core.Reference, jan2017))
	assert.True(t, ledger.ExistsPeriod(core.Reference, feb2017))
}

func TestProcess_SupplyFlagIsNotMaterial(t *testing.T) {
	ctx := context.Background()
	feb := "KOD_SUKL;NAZEV;DODAVKY\n0000001;Paralen;N\n0000002;Ibalgin;N\n"
	svc, mem := newService(t, newSource(map[string]string{"jan.csv": refJan, "feb.csv": feb}))

	_, err := svc.Process(ctx, descriptor(core.Reference, jan2017, "jan.csv"))
	require.NoError(t, err)
	res, err := svc.Process(ctx, descriptor(core.Reference, feb2017, "feb.csv"))
	require.NoError(t, err)

	assert.Equal(t, int64(0), res.Run.Persisted)
	assert.Len(t, mem.Versions(), 2)
}

func TestProcess_ReferenceDuplicateKeys(t *testing.T) {
	data := "KOD_SUKL;NAZEV\n0000001;First\n0000001;Second\n"
	svc, mem := newService(t, newSource(map[string]string{"ref.csv": data}))

	res, err := svc.Process(context.Background(), descriptor(core.Reference, jan2017, "ref.csv"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Run.Summary.TotalRows)
	assert.Equal(t, 1, res.Run.Summary.Accepted)
	assert.Equal(t, 1, res.Run.Summary.ByReason[string(core.DuplicateKey)])

	versions := mem.Versions()
	require.Len(t, versions, 1)
	assert.Equal(t, "Second", versions[0].Attributes["name"])

	failures, err := svc.RunFailures(context.Background(), res.Run.ID, 0)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, 2, failures[0].Line)
}

// =============================================================================
// Transactional feeds
// =============================================================================

func TestProcess_FactsResolveAgainstCatalog(t *testing.T) {
	ctx := context.Background()
	svc, mem := newService(t, newSource(map[string]string{"ref.csv": refJan, "dis.csv": distributionJan}))

	_, err := svc.Process(ctx, descriptor(core.Reference, jan2017, "ref.csv"))
	require.NoError(t, err)

	res, err := svc.Process(ctx, descriptor(core.DistributionMonthly, jan2017, "dis.csv"))
	require.NoError(t, err)
	require.Equal(t, core.RunCompleted, res.Status)
	assert.Equal(t, 2, res.Run.Summary.TotalRows)
	assert.Equal(t, 1, res.Run.Summary.Accepted)
	assert.Equal(t, int64(1), res.Run.Persisted)

	facts := mem.Facts("distribution_facts")
	require.Len(t, facts, 1)
	values := facts[0].Values()
	assert.Equal(t, "0000001", values[1])
	assert.Equal(t, "D", values[2])

	failures, err := svc.RunFailures(ctx, res.Run.ID, 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, core.UnknownReference, failures[0].Reason)
	assert.Equal(t, 3, failures[0].Line)
	assert.Equal(t, "0009999;D;5;L2", failures[0].RawLine)
}

func TestProcess_RowPeriodMismatchIsRejected(t *testing.T) {
	ctx := context.Background()
	svc, mem := newService(t, newSource(map[string]string{"ref.csv": refJan, "dispense.csv": dispenseJan}))

	_, err := svc.Process(ctx, descriptor(core.Reference, jan2017, "ref.csv"))
	require.NoError(t, err)
	res, err := svc.Process(ctx, descriptor(core.DispenseMonthly, jan2017, "dispense.csv"))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Run.Summary.Accepted)
	assert.Equal(t, 1, res.Run.Summary.ByReasonColumn["PARSE_ERROR/MONTH"])
	assert.Len(t, mem.Facts("dispense_facts"), 1)
}

// =============================================================================
// Skips
// =============================================================================

func TestProcess_IneligibleIsSkippedWithoutSideEffects(t *testing.T) {
	ctx := context.Background()
	src := newSource(map[string]string{"dis.csv": distributionJan})
	svc, mem := newService(t, src)

	res, err := svc.Process(ctx, descriptor(core.DistributionMonthly, jan2017, "dis.csv"))
	require.NoError(t, err)
	assert.Equal(t, core.RunSkipped, res.Status)
	assert.Equal(t, core.RuleMonthlyReference, res.Decision.Rule)
	assert.Nil(t, res.Run)

	assert.Zero(t, src.count("dis.csv"), "ineligible periods must not be fetched")
	runs, err := mem.ListRuns(ctx, core.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestProcess_AlreadyProcessedIsSkipped(t *testing.T) {
	ctx := context.Background()
	svc, mem := newService(t, newSource(map[string]string{"ref.csv": refJan}))

	_, err := svc.Process(ctx, descriptor(core.Reference, jan2017, "ref.csv"))
	require.NoError(t, err)
	res, err := svc.Process(ctx, descriptor(core.Reference, jan2017, "ref.csv"))
	require.NoError(t, err)

	assert.Equal(t, core.RunSkipped, res.Status)
	assert.Equal(t, core.RuleAlreadyProcessed, res.Decision.Rule)
	assert.Len(t, mem.Versions(), 2)
}

func TestProcess_ConcurrentClaimsCompleteOnce(t *testing.T) {
	ctx := context.Background()
	svc, mem := newService(t, newSource(map[string]string{"ref.csv": refJan}))

	const workers = 4
	results := make([]*core.ProcessResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Process(ctx, descriptor(core.Reference, jan2017, "ref.csv"))
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	completed := 0
	for _, res := range results {
		require.NotNil(t, res)
		if res.Status == core.RunCompleted {
			completed++
		} else {
			assert.Equal(t, core.RuleAlreadyProcessed, res.Decision.Rule)
		}
	}
	assert.Equal(t, 1, completed)
	assert.Len(t, mem.Versions(), 2)

	ledger, err := mem.LoadLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ledger.Len())
}

// =============================================================================
// Failures
// =============================================================================

func TestProcess_FailuresRecordRunButNotLedger(t *testing.T) {
	tests := []struct {
		name     string
		files    map[string]string
		wantCode string
	}{
		{name: "missing file", files: map[string]string{}, wantCode: "SRC002"},
		{name: "missing column", files: map[string]string{"ref.csv": "KOD_SUKL;FORMA\n1;tbl\n"}, wantCode: "ING001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			svc, mem := newService(t, newSource(tt.files))

			_, err := svc.Process(ctx, descriptor(core.Reference, jan2017, "ref.csv"))
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, core.MapError(err).Code)

			ledger, err := mem.LoadLedger(ctx)
			require.NoError(t, err)
			assert.Zero(t, ledger.Len())
			assert.Empty(t, mem.Versions())

			runs, err := svc.Runs(ctx, core.RunFilter{Status: core.RunFailed})
			require.NoError(t, err)
			require.Len(t, runs, 1)
			assert.NotEmpty(t, runs[0].Message)
		})
	}
}

func TestProcess_UnknownDataset(t *testing.T) {
	svc, _ := newService(t, newSource(nil))
	_, err := svc.Process(context.Background(), descriptor("SALES", jan2017, "x.csv"))
	assert.ErrorIs(t, err, core.ErrUnknownDataset)
}

func TestEvaluate_UsesStoredLedger(t *testing.T) {
	svc, mem := newService(t, newSource(nil))
	mem.SeedLedger(core.ProcessedPeriod{Type: core.Reference, Period: jan2017, CompletedAt: time.Now()})

	d, err := svc.Evaluate(context.Background(), core.DispenseMonthly, jan2017)
	require.NoError(t, err)
	assert.True(t, d.Eligible)

	d, err = svc.Evaluate(context.Background(), core.DispenseMonthly, feb2017)
	require.NoError(t, err)
	assert.False(t, d.Eligible)
}

// =============================================================================
// Offline helpers
// =============================================================================

func TestInspect(t *testing.T) {
	def, ok := core.Get(core.DistributionMonthly)
	require.True(t, ok)
	opts := core.ImportOptions{Charset: "UTF-8", Delimiter: ';'}

	catalog, err := core.SnapshotCatalog([]byte(refJan), opts, jan2017)
	require.NoError(t, err)
	assert.Equal(t, 2, catalog.Len())

	summary, failures, err := core.Inspect(def, jan2017, []byte(distributionJan), opts, catalog)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Accepted)
	require.Len(t, failures, 1)
	assert.Equal(t, core.UnknownReference, failures[0].Reason)

	summary, _, err = core.Inspect(def, jan2017, []byte(distributionJan), opts, nil)
	require.NoError(t, err)
	assert.Zero(t, summary.Accepted)
}

// =============================================================================
// Background jobs
// =============================================================================

func waitDone(t *testing.T, job *core.Job) core.JobStatus {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
	}
	return job.Status()
}

func TestSubmit_RunsInBackground(t *testing.T) {
	svc, _ := newService(t, newSource(map[string]string{"ref.csv": refJan}))

	job, err := svc.Submit(descriptor(core.Reference, jan2017, "ref.csv"))
	require.NoError(t, err)

	found, err := svc.Job(job.ID)
	require.NoError(t, err)
	assert.Same(t, job, found)

	st := waitDone(t, job)
	assert.Equal(t, core.JobCompleted, st.State)
	require.NotNil(t, st.Result)
	assert.Equal(t, core.RunCompleted, st.Result.Status)
	assert.NotNil(t, st.Finished)
	assert.Nil(t, st.Error)
}

func TestSubmit_SkippedAndFailedStates(t *testing.T) {
	svc, _ := newService(t, newSource(nil))

	skipped, err := svc.Submit(descriptor(core.DispenseMonthly, jan2017, "x.csv"))
	require.NoError(t, err)
	assert.Equal(t, core.JobSkipped, waitDone(t, skipped).State)

	failed, err := svc.Submit(descriptor(core.Reference, jan2017, "missing.csv"))
	require.NoError(t, err)
	st := waitDone(t, failed)
	assert.Equal(t, core.JobFailed, st.State)
	require.NotNil(t, st.Error)
	assert.Equal(t, "SRC002", st.Error.Code)
}

func TestSubmit_RejectsUnknownDataset(t *testing.T) {
	svc, _ := newService(t, newSource(nil))
	_, err := svc.Submit(descriptor("SALES", jan2017, "x.csv"))
	assert.ErrorIs(t, err, core.ErrUnknownDataset)
}

func TestCancelJob(t *testing.T) {
	src := &blockingSource{started: make(chan struct{})}
	svc, mem := newService(t, src)

	job, err := svc.Submit(descriptor(core.Reference, jan2017, "slow.csv"))
	require.NoError(t, err)

	select {
	case <-src.started:
	case <-time.After(5 * time.Second):
		t.Fatal("fetch never started")
	}
	require.NoError(t, svc.CancelJob(job.ID))

	st := waitDone(t, job)
	assert.Equal(t, core.JobFailed, st.State)
	require.NotNil(t, st.Error)
	assert.Equal(t, "IMP002", st.Error.Code)

	ledger, err := mem.LoadLedger(context.Background())
	require.NoError(t, err)
	assert.Zero(t, ledger.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, svc.Shutdown(ctx))
}

func TestJob_NotFound(t *testing.T) {
	svc, _ := newService(t, newSource(nil))
	_, err := svc.Job(uuid.New())
	assert.ErrorIs(t, err, core.ErrJobNotFound)
	assert.ErrorIs(t, svc.CancelJob(uuid.New()), core.ErrJobNotFound)
}

// =============================================================================
// Batches and waves
// =============================================================================

func TestOrderDescriptors(t *testing.T) {
	in := []core.Descriptor{
		descriptor(core.DistributionYearly, core.YearlyPeriod(2016), ""),
		descriptor(core.DispenseMonthly, feb2017, ""),
		descriptor(core.Reference, feb2017, ""),
		descriptor(core.DistributionMonthly, jan2017, ""),
		descriptor(core.Reference, jan2017, ""),
	}

	got := core.OrderDescriptors(in)
	want := []core.Descriptor{
		descriptor(core.Reference, jan2017, ""),
		descriptor(core.DistributionMonthly, jan2017, ""),
		descriptor(core.Reference, feb2017, ""),
		descriptor(core.DispenseMonthly, feb2017, ""),
		descriptor(core.DistributionYearly, core.YearlyPeriod(2016), ""),
	}
	assert.Equal(t, want, got)
	assert.Equal(t, core.DistributionYearly, in[0].Type, "input must not be reordered")

	waves := core.Waves(in)
	assert.Len(t, waves[0], 2)
	assert.Len(t, waves[1], 2)
	assert.Len(t, waves[2], 1)
	assert.Equal(t, jan2017, waves[0][0].Period)
}

func TestProcessAll_RunsDependencyWaves(t *testing.T) {
	src := newSource(map[string]string{
		"ref-jan.csv":  refJan,
		"ref-feb.csv":  refFeb,
		"dispense.csv": dispenseJan,
		"yearly.csv":   yearly2016,
	})
	svc, mem := newService(t, src)

	items := svc.ProcessAll(context.Background(), []core.Descriptor{
		descriptor(core.DistributionYearly, core.YearlyPeriod(2016), "yearly.csv"),
		descriptor(core.DispenseMonthly, jan2017, "dispense.csv"),
		descriptor(core.Reference, feb2017, "ref-feb.csv"),
		descriptor(core.Reference, jan2017, "ref-jan.csv"),
	}, 3)

	require.Len(t, items, 4)
	order := make([]string, len(items))
	for i, item := range items {
		require.NoError(t, item.Err)
		assert.Equal(t, core.RunCompleted, item.Result.Status, "%s %s", item.Descriptor.Type, item.Descriptor.Period)
		order[i] = fmt.Sprintf("%s %s", item.Descriptor.Type, item.Descriptor.Period)
	}
	assert.Equal(t, []string{
		"REFERENCE 2017-01",
		"REFERENCE 2017-02",
		"DISPENSE_MONTHLY 2017-01",
		"DISTRIBUTION_YEARLY 2016",
	}, order)

	assert.Len(t, mem.Facts("distribution_yearly_facts"), 1)
}

func TestRunBatch_CountsOutcomes(t *testing.T) {
	svc, _ := newService(t, newSource(map[string]string{"ref.csv": refJan}))

	res := svc.RunBatch(context.Background(), []core.Descriptor{
		descriptor(core.Reference, jan2017, "ref.csv"),
		descriptor(core.Reference, jan2017, "ref.csv"),
		descriptor(core.Reference, core.MonthlyPeriod(2017, 5), "ref.csv"),
		descriptor(core.DispenseMonthly, jan2017, "missing.csv"),
	}, 2)

	assert.Equal(t, core.CycleResult{Completed: 1, Skipped: 2, Failed: 1}, res)
}

func TestRunCycle(t *testing.T) {
	svc, _ := newService(t, newSource(map[string]string{"ref.csv": refJan}))
	ctx := context.Background()

	res := svc.RunCycle(ctx, func(context.Context) ([]core.Descriptor, error) {
		return nil, errors.New("manifest unreadable")
	}, 1)
	assert.Equal(t, core.CycleResult{}, res)

	load := func(context.Context) ([]core.Descriptor, error) {
		return []core.Descriptor{descriptor(core.Reference, jan2017, "ref.csv")}, nil
	}
	assert.Equal(t, core.CycleResult{Completed: 1}, svc.RunCycle(ctx, load, 1))
	// Redelivery is a skip.
	assert.Equal(t, core.CycleResult{Skipped: 1}, svc.RunCycle(ctx, load, 1))
}

func TestStartScheduler_StopsWithContext(t *testing.T) {
	svc, mem := newService(t, newSource(map[string]string{"ref.csv": refJan}))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.StartScheduler(ctx, core.ScheduleConfig{
			Interval: time.Hour,
			Load: func(context.Context) ([]core.Descriptor, error) {
				return []core.Descriptor{descriptor(core.Reference, jan2017, "ref.csv")}, nil
			},
		})
	}()

	require.Eventually(t, func() bool {
		l, _ := mem.LoadLedger(context.Background())
		return l.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestProcess_YearlyFeedWithoutCatalog(t *testing.T) {
	svc, mem := newService(t, newSource(map[string]string{"yearly.csv": yearly2016}))
	mem.SeedLedger(core.ProcessedPeriod{Type: core.Reference, Period: jan2017, CompletedAt: time.Now()})

	res, err := svc.Process(context.Background(), descriptor(core.DistributionYearly, core.YearlyPeriod(2016), "yearly.csv"))
	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, res.Status)
	// No catalog was seeded, so the only row is an unknown reference.
	assert.Equal(t, 1, res.Run.Summary.Rejected)
	assert.True(t, strings.HasPrefix(res.Run.Summary.TopFailures(1)[0], "UNKNOWN_REFERENCE"))
}

// =============================================================================
// Shutdown
// =============================================================================

func TestShutdown_WaitsForSubmittedJobs(t *testing.T) {
	src := &gatedSource{data: refJan, started: make(chan struct{}), release: make(chan struct{})}
	svc, mem := newService(t, src)

	job, err := svc.Submit(descriptor(core.Reference, jan2017, "ref.csv"))
	require.NoError(t, err)
	<-src.started
	assert.Equal(t, 1, svc.ActiveJobs())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stopped := make(chan error, 1)
	go func() { stopped <- svc.Shutdown(ctx) }()

	select {
	case err := <-stopped:
		t.Fatalf("Shutdown returned before the job finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	_, err = svc.Submit(descriptor(core.Reference, feb2017, "ref.csv"))
	assert.ErrorIs(t, err, core.ErrShuttingDown)

	close(src.release)
	require.NoError(t, <-stopped)

	assert.Equal(t, core.JobCompleted, job.Status().State)
	assert.Equal(t, 0, svc.ActiveJobs())
	ledger, err := mem.LoadLedger(context.Background())
	require.NoError(t, err)
	assert.True(t, ledger.ExistsPeriod(core.Reference, jan2017))
}

func TestShutdown_CancelsJobsAtDeadline(t *testing.T) {
	src := &blockingSource{started: make(chan struct{})}
	svc, mem := newService(t, src)

	job, err := svc.Submit(descriptor(core.Reference, jan2017, "slow.csv"))
	require.NoError(t, err)
	<-src.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = svc.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Shutdown returns only after the cancelled job unwound.
	select {
	case <-job.Done():
	default:
		t.Fatal("job still running after Shutdown returned")
	}
	st := job.Status()
	assert.Equal(t, core.JobFailed, st.State)
	require.NotNil(t, st.Error)
	assert.Equal(t, "IMP002", st.Error.Code)

	ledger, err := mem.LoadLedger(context.Background())
	require.NoError(t, err)
	assert.False(t, ledger.ExistsPeriod(core.Reference, jan2017))
}
