package data

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/jobengine/internal/core"
	"github.com/target/jobengine/internal/domain/model"
	apperrors "github.com/target/jobengine/internal/errors"
	"github.com/target/jobengine/internal/testutil"
)

// contractStore is the full surface both job stores implement.
type contractStore interface {
	core.JobStore
	core.JobLeaser
	core.JobJanitor
}

var (
	_ contractStore = (*JobRepo)(nil)
	_ contractStore = (*MemoryJobRepo)(nil)
)

type storeFactory func(t *testing.T) contractStore

// runJobStoreContract exercises behaviour every job store must share.
func runJobStoreContract(t *testing.T, newStore storeFactory) {
	t0 := testutil.TestTime()

	t.Run("create and load round trip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		total := 40
		job := testutil.NewJob().WithOwner("acme").WithPriority(model.PriorityHigh).CreatedAt(t0).Build()
		job.TotalItems = &total
		job.Metadata = json.RawMessage(`{"batch":"b-1"}`)
		job.ErrorLog = []model.ErrorLogEntry{{Timestamp: t0, Message: "seeded", Attempt: 1}}

		id, err := store.Create(ctx, job)
		require.NoError(t, err)
		require.NotEmpty(t, id)
		assert.Equal(t, int64(1), job.Version)

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "acme", loaded.Owner)
		assert.Equal(t, model.JobTypeImport, loaded.Type)
		assert.Equal(t, model.JobStatusPending, loaded.Status)
		assert.Equal(t, model.PriorityHigh, loaded.Priority)
		assert.JSONEq(t, testutil.ImportInput, string(loaded.Input))
		assert.JSONEq(t, `{"batch":"b-1"}`, string(loaded.Metadata))
		assert.Nil(t, loaded.Output)
		require.NotNil(t, loaded.TotalItems)
		assert.Equal(t, 40, *loaded.TotalItems)
		require.Len(t, loaded.ErrorLog, 1)
		assert.Equal(t, "seeded", loaded.ErrorLog[0].Message)
		assert.Nil(t, loaded.ScheduledAt)
		assert.Nil(t, loaded.StartedAt)
		assert.Equal(t, int64(1), loaded.Version)
		assert.True(t, t0.Equal(loaded.CreatedAt))
	})

	t.Run("load missing job is not found", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Load(context.Background(), uuid.NewString())
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
		assert.ErrorIs(t, err, ErrJobNotFound)
	})

	t.Run("save is optimistic", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		id, err := store.Create(ctx, testutil.NewJob().CreatedAt(t0).Build())
		require.NoError(t, err)

		first, err := store.Load(ctx, id)
		require.NoError(t, err)
		second, err := store.Load(ctx, id)
		require.NoError(t, err)

		first.Progress = 10
		first.UpdatedAt = t0.Add(time.Second)
		require.NoError(t, store.Save(ctx, first))
		assert.Equal(t, int64(2), first.Version)

		second.Progress = 20
		err = store.Save(ctx, second)
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))
		assert.ErrorIs(t, err, ErrVersionConflict)

		reloaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 10, reloaded.Progress)
		assert.Equal(t, int64(2), reloaded.Version)

		ghost := testutil.NewJob().WithID(uuid.NewString()).Build()
		ghost.Version = 1
		assert.True(t, apperrors.IsNotFound(store.Save(ctx, ghost)))
	})

	t.Run("eligible jobs come out by priority then age", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		idA := mustCreate(t, store, testutil.NewJob().WithPriority(model.PriorityNormal).CreatedAt(t0).Build())
		idB := mustCreate(t, store, testutil.NewJob().WithPriority(model.PriorityHigh).CreatedAt(t0.Add(time.Second)).Build())
		idC := mustCreate(t, store, testutil.NewJob().WithPriority(model.PriorityNormal).CreatedAt(t0.Add(2*time.Second)).Build())
		mustCreate(t, store, testutil.NewJob().WithPriority(model.PriorityUrgent).CreatedAt(t0).WithStatus(model.JobStatusProcessing).Build())
		mustCreate(t, store, testutil.NewJob().WithPriority(model.PriorityUrgent).CreatedAt(t0).ScheduledAt(t0.Add(time.Hour)).Build())
		idPast := mustCreate(t, store, testutil.NewJob().WithPriority(model.PriorityLow).CreatedAt(t0).ScheduledAt(t0.Add(-time.Minute)).Build())

		eligible, err := store.QueryEligible(ctx, model.EligibleFilter{Now: t0.Add(time.Minute), Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, []string{idB, idA, idC, idPast}, jobIDs(eligible))

		head, err := store.QueryEligible(ctx, model.EligibleFilter{Now: t0.Add(time.Minute), Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{idB}, jobIDs(head))
	})

	t.Run("eligible jobs can be restricted by type", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		mustCreate(t, store, testutil.NewJob().CreatedAt(t0).Build())
		exportID := mustCreate(t, store, testutil.NewJob().WithType(model.JobTypeExport).CreatedAt(t0).Build())

		eligible, err := store.QueryEligible(ctx, model.EligibleFilter{
			Now:   t0.Add(time.Minute),
			Types: []model.JobType{model.JobTypeExport},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{exportID}, jobIDs(eligible))
	})

	t.Run("list filters by owner and status newest first", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		older := mustCreate(t, store, testutil.NewJob().WithOwner("acme").CreatedAt(t0).Build())
		newer := mustCreate(t, store, testutil.NewJob().WithOwner("acme").CreatedAt(t0.Add(time.Minute)).Build())
		mustCreate(t, store, testutil.NewJob().WithOwner("globex").CreatedAt(t0).Build())
		failed := mustCreate(t, store, testutil.NewJob().WithOwner("acme").WithStatus(model.JobStatusFailed).CreatedAt(t0.Add(2*time.Minute)).Build())

		owner := "acme"
		jobs, err := store.List(ctx, model.JobListOptions{Owner: &owner})
		require.NoError(t, err)
		assert.Equal(t, []string{failed, newer, older}, jobIDs(jobs))

		status := model.JobStatusPending
		jobs, err = store.List(ctx, model.JobListOptions{Owner: &owner, Status: &status, Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{older}, jobIDs(jobs))
	})

	t.Run("stats aggregate by type and status within window", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for _, processed := range []int{10, 30} {
			j := testutil.NewJob().WithStatus(model.JobStatusCompleted).CreatedAt(t0).Build()
			j.ProcessedItems = processed
			j.SuccessItems = processed - 1
			j.FailedItems = 1
			mustCreate(t, store, j)
		}
		mustCreate(t, store, testutil.NewJob().CreatedAt(t0).Build())
		mustCreate(t, store, testutil.NewJob().WithStatus(model.JobStatusCompleted).CreatedAt(t0.Add(-48*time.Hour)).Build())

		rows, err := store.Stats(ctx, model.JobStatsOptions{Since: t0.Add(-time.Hour)})
		require.NoError(t, err)
		require.Len(t, rows, 2)

		byStatus := map[model.JobStatus]model.JobStatsRow{}
		for _, r := range rows {
			assert.Equal(t, model.JobTypeImport, r.Type)
			byStatus[r.Status] = r
		}
		completed := byStatus[model.JobStatusCompleted]
		assert.Equal(t, int64(2), completed.Count)
		assert.InDelta(t, 20.0, completed.AvgProcessedItems, 0.001)
		assert.Equal(t, int64(38), completed.SuccessItems)
		assert.Equal(t, int64(2), completed.FailedItems)
		assert.Equal(t, int64(1), byStatus[model.JobStatusPending].Count)
	})

	t.Run("claim next leases the best eligible job", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		idA := mustCreate(t, store, testutil.NewJob().CreatedAt(t0).Build())
		idB := mustCreate(t, store, testutil.NewJob().WithPriority(model.PriorityHigh).CreatedAt(t0.Add(time.Second)).Build())

		now := t0.Add(time.Minute)
		claimed, err := store.ClaimNext(ctx, model.ClaimRequest{Now: now, WorkerID: "w-1", Lease: 30 * time.Second})
		require.NoError(t, err)
		assert.Equal(t, idB, claimed.ID)
		assert.Equal(t, model.JobStatusProcessing, claimed.Status)
		require.NotNil(t, claimed.LeaseOwner)
		assert.Equal(t, "w-1", *claimed.LeaseOwner)
		require.NotNil(t, claimed.LeaseExpiresAt)
		assert.True(t, now.Add(30*time.Second).Equal(*claimed.LeaseExpiresAt))
		assert.Equal(t, int64(2), claimed.Version)

		next, err := store.ClaimNext(ctx, model.ClaimRequest{Now: now, WorkerID: "w-2", Lease: 30 * time.Second})
		require.NoError(t, err)
		assert.Equal(t, idA, next.ID)

		_, err = store.ClaimNext(ctx, model.ClaimRequest{Now: now, WorkerID: "w-3", Lease: 30 * time.Second})
		assert.ErrorIs(t, err, model.ErrNoJobsAvailable)

		expired, err := store.ListExpiredLeases(ctx, now.Add(time.Minute), 10)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{idA, idB}, jobIDs(expired))

		none, err := store.ListExpiredLeases(ctx, now.Add(time.Second), 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("delete terminal jobs before cutoff in batches", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for i := range 3 {
			mustCreate(t, store, testutil.NewJob().WithStatus(model.JobStatusCompleted).
				CreatedAt(t0).CompletedAt(t0.Add(time.Duration(i)*time.Minute)).Build())
		}
		keepFailed := mustCreate(t, store, testutil.NewJob().WithStatus(model.JobStatusFailed).
			CreatedAt(t0).CompletedAt(t0).Build())
		keepRecent := mustCreate(t, store, testutil.NewJob().WithStatus(model.JobStatusCompleted).
			CreatedAt(t0).CompletedAt(t0.Add(48*time.Hour)).Build())
		keepPending := mustCreate(t, store, testutil.NewJob().CreatedAt(t0).Build())

		params := model.DeleteTerminalParams{
			Before:    t0.Add(24 * time.Hour),
			Statuses:  []model.JobStatus{model.JobStatusCompleted},
			BatchSize: 2,
		}
		n, err := store.DeleteTerminalBefore(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		n, err = store.DeleteTerminalBefore(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = store.DeleteTerminalBefore(ctx, params)
		require.NoError(t, err)
		assert.Zero(t, n)

		jobs, err := store.List(ctx, model.JobListOptions{})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{keepFailed, keepRecent, keepPending}, jobIDs(jobs))
	})

	t.Run("wait for notification wakes on create", func(t *testing.T) {
		store := newStore(t)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- store.WaitForNotification(ctx) }()

		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case err := <-done:
				require.NoError(t, err)
				return
			case <-ticker.C:
				mustCreate(t, store, testutil.NewJob().CreatedAt(t0).Build())
			case <-ctx.Done():
				t.Fatal("waiter was never notified")
			}
		}
	})

	t.Run("wait for notification honours context", func(t *testing.T) {
		store := newStore(t)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := store.WaitForNotification(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded) || apperrors.IsTimeout(err), "unexpected error %v", err)
	})
}

func mustCreate(t *testing.T, store core.JobStore, job *model.Job) string {
	t.Helper()
	id, err := store.Create(context.Background(), job)
	require.NoError(t, err)
	return id
}

func jobIDs(jobs []*model.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}
