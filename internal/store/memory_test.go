package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sukl/internal/core"
)

var march = core.MonthlyPeriod(2024, 3)

func claimOf(t core.DatasetType, p core.Period) core.ProcessedPeriod {
	return core.ProcessedPeriod{Type: t, Period: p, CompletedAt: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)}
}

func TestMemory_WithinPeriodCommits(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	runID := uuid.New()

	claimed, err := m.WithinPeriod(ctx, claimOf(core.Reference, march), func(ctx context.Context, tx core.PeriodTx) error {
		ledger, err := tx.Ledger(ctx)
		require.NoError(t, err)
		assert.True(t, ledger.ExistsPeriod(core.Reference, march), "claim is visible inside the transaction")

		require.NoError(t, tx.PersistReference(ctx, []core.ReferenceEntity{
			{StorageID: uuid.New(), Key: "0012345", Version: 1},
		}))
		return tx.RecordRun(ctx, core.ImportRun{ID: runID, Type: core.Reference, Period: march, Status: core.RunCompleted},
			[]core.RowFailure{{Line: 2, Reason: core.MissingAttribute, Column: "NAME"}})
	})
	require.NoError(t, err)
	assert.True(t, claimed)

	ledger, _ := m.LoadLedger(ctx)
	assert.True(t, ledger.ExistsPeriod(core.Reference, march))

	refs, _ := m.LoadReference(ctx)
	assert.Len(t, refs, 1)

	failures, _ := m.RunFailures(ctx, runID, 0)
	assert.Len(t, failures, 1)
}

func TestMemory_WithinPeriodRollsBack(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	claimed, err := m.WithinPeriod(ctx, claimOf(core.Reference, march), func(ctx context.Context, tx core.PeriodTx) error {
		require.NoError(t, tx.PersistReference(ctx, []core.ReferenceEntity{{StorageID: uuid.New(), Key: "A", Version: 1}}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, claimed)

	ledger, _ := m.LoadLedger(ctx)
	assert.False(t, ledger.ExistsPeriod(core.Reference, march), "claim is released on rollback")
	assert.Empty(t, m.Versions())
}

func TestMemory_SecondClaimIsRejected(t *testing.T) {
	m := NewMemory()
	m.SeedLedger(claimOf(core.DistributionMonthly, march))

	called := false
	claimed, err := m.WithinPeriod(context.Background(), claimOf(core.DistributionMonthly, march), func(context.Context, core.PeriodTx) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.False(t, called)
}

func TestMemory_PersistReferenceRejectsExistingVersion(t *testing.T) {
	m := NewMemory()
	id := uuid.New()
	m.SeedReference([]core.ReferenceEntity{{StorageID: id, Key: "A", Version: 1}})

	_, err := m.WithinPeriod(context.Background(), claimOf(core.Reference, march), func(ctx context.Context, tx core.PeriodTx) error {
		return tx.PersistReference(ctx, []core.ReferenceEntity{{StorageID: id, Key: "A", Version: 1}})
	})
	require.Error(t, err)
	assert.Equal(t, "DB001", core.MapError(err).Code)
}

func TestMemory_LoadReferenceKeepsLatestVersion(t *testing.T) {
	m := NewMemory()
	id := uuid.New()
	m.SeedReference([]core.ReferenceEntity{
		{StorageID: id, Key: "A", Version: 2, Attributes: map[string]string{"name": "new"}},
		{StorageID: id, Key: "A", Version: 1, Attributes: map[string]string{"name": "old"}},
		{StorageID: uuid.New(), Key: "B", Version: 1},
	})

	refs, err := m.LoadReference(context.Background())
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, core.BusinessKey("A"), refs[0].Key)
	assert.Equal(t, 2, refs[0].Version)
	assert.Equal(t, "new", refs[0].Attributes["name"])
}

func TestMemory_ListRunsFiltersAndOrders(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.RecordRun(ctx, core.ImportRun{ID: uuid.New(), Type: core.Reference, Period: march, Status: core.RunFailed, StartedAt: base}))
	require.NoError(t, m.RecordRun(ctx, core.ImportRun{ID: uuid.New(), Type: core.Reference, Period: march, Status: core.RunFailed, StartedAt: base.Add(time.Hour)}))
	require.NoError(t, m.RecordRun(ctx, core.ImportRun{ID: uuid.New(), Type: core.DispenseMonthly, Period: march, Status: core.RunFailed, StartedAt: base}))

	runs, err := m.ListRuns(ctx, core.RunFilter{Type: core.Reference})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].StartedAt.After(runs[1].StartedAt), "newest first")

	runs, _ = m.ListRuns(ctx, core.RunFilter{Limit: 1})
	assert.Len(t, runs, 1)

	runs, _ = m.ListRuns(ctx, core.RunFilter{Year: 2023})
	assert.Empty(t, runs)
}
