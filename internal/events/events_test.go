package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/jobengine/internal/core"
	"github.com/target/jobengine/internal/domain/model"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var evtTime = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func testJob(owner string, priority model.Priority) *model.Job {
	return &model.Job{
		ID:       "job-" + owner,
		Owner:    owner,
		Type:     model.JobTypeExport,
		Status:   model.JobStatusProcessing,
		Priority: priority,
		Input:    []byte(`{"format":"csv","destination":"s3://out"}`),
	}
}

func record(t *testing.T, bus *Bus, opts SubscribeOptions) *[]model.LifecycleEvent {
	t.Helper()
	var got []model.LifecycleEvent
	unsubscribe, err := bus.Subscribe(opts, func(_ context.Context, evt model.LifecycleEvent) error {
		got = append(got, evt)
		return nil
	})
	require.NoError(t, err)
	t.Cleanup(unsubscribe)
	return &got
}

func TestEmitter_EmitSnapshotsJob(t *testing.T) {
	bus := NewBus(nil)
	got := record(t, bus, SubscribeOptions{})
	em := NewEmitter(EmitterOptions{Publisher: bus, Clock: fixedClock{evtTime}})

	job := testJob("acme", model.PriorityNormal)
	job.Progress = 40
	evt := em.Emit(context.Background(), model.EventJobProgress, job)
	job.Progress = 90

	require.Len(t, *got, 1)
	delivered := (*got)[0]
	assert.Equal(t, model.EventJobProgress, delivered.Type)
	assert.Equal(t, "job-acme", delivered.JobID)
	assert.Equal(t, "acme", delivered.Owner)
	assert.Equal(t, model.JobTypeExport, delivered.JobType)
	assert.Equal(t, evtTime, delivered.OccurredAt)
	assert.Equal(t, 40, delivered.Job.Progress)
	assert.Equal(t, evt.ID, delivered.ID)
	assert.NotEmpty(t, evt.ID)
}

func TestEmitter_IsolatesPublisherFailures(t *testing.T) {
	tests := []struct {
		name string
		pub  core.EventPublisher
	}{
		{name: "error", pub: core.EventPublisherFunc(func(context.Context, model.LifecycleEvent) error {
			return errors.New("broker down")
		})},
		{name: "panic", pub: core.EventPublisherFunc(func(context.Context, model.LifecycleEvent) error {
			panic("boom")
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			em := NewEmitter(EmitterOptions{Publisher: tt.pub})
			assert.NotPanics(t, func() {
				em.Emit(context.Background(), model.EventJobFailed, testJob("acme", model.PriorityNormal))
			})
		})
	}
}

func TestBus_FailingSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(nil)
	_, err := bus.Subscribe(SubscribeOptions{}, func(context.Context, model.LifecycleEvent) error {
		panic("bad subscriber")
	})
	require.NoError(t, err)
	_, err = bus.Subscribe(SubscribeOptions{}, func(context.Context, model.LifecycleEvent) error {
		return errors.New("also bad")
	})
	require.NoError(t, err)
	got := record(t, bus, SubscribeOptions{})

	err = bus.Publish(context.Background(), NewEvent(model.EventJobStarted, testJob("acme", model.PriorityNormal), evtTime))
	require.NoError(t, err)
	assert.Len(t, *got, 1)
}

func TestBus_OwnerAndFilterSelection(t *testing.T) {
	bus := NewBus(nil)
	all := record(t, bus, SubscribeOptions{})
	acme := record(t, bus, SubscribeOptions{Owner: "acme"})
	urgent := record(t, bus, SubscribeOptions{Filter: "job.priority == 'urgent'"})
	completed := record(t, bus, SubscribeOptions{Filter: "type == 'job:completed'"})

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, NewEvent(model.EventJobStarted, testJob("acme", model.PriorityNormal), evtTime)))
	require.NoError(t, bus.Publish(ctx, NewEvent(model.EventJobStarted, testJob("globex", model.PriorityUrgent), evtTime)))
	require.NoError(t, bus.Publish(ctx, NewEvent(model.EventJobCompleted, testJob("globex", model.PriorityLow), evtTime)))

	assert.Len(t, *all, 3)
	require.Len(t, *acme, 1)
	assert.Equal(t, "acme", (*acme)[0].Owner)
	require.Len(t, *urgent, 1)
	assert.Equal(t, "globex", (*urgent)[0].Owner)
	require.Len(t, *completed, 1)
	assert.Equal(t, model.EventJobCompleted, (*completed)[0].Type)
}

func TestBus_SubscribersGetIndependentSnapshots(t *testing.T) {
	bus := NewBus(nil)
	_, err := bus.Subscribe(SubscribeOptions{}, func(_ context.Context, evt model.LifecycleEvent) error {
		evt.Job.Progress = 99
		return nil
	})
	require.NoError(t, err)
	got := record(t, bus, SubscribeOptions{})

	require.NoError(t, bus.Publish(context.Background(), NewEvent(model.EventJobProgress, testJob("acme", model.PriorityNormal), evtTime)))
	require.Len(t, *got, 1)
	assert.Equal(t, 0, (*got)[0].Job.Progress)
}

func TestBus_RejectsInvalidFilter(t *testing.T) {
	bus := NewBus(nil)
	_, err := bus.Subscribe(SubscribeOptions{Filter: "job.[["}, func(context.Context, model.LifecycleEvent) error { return nil })
	require.Error(t, err)
	assert.Zero(t, bus.Len())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)
	var calls int
	unsubscribe, err := bus.Subscribe(SubscribeOptions{}, func(context.Context, model.LifecycleEvent) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	evt := NewEvent(model.EventJobStarted, testJob("acme", model.PriorityNormal), evtTime)
	require.NoError(t, bus.Publish(ctx, evt))
	unsubscribe()
	unsubscribe()
	require.NoError(t, bus.Publish(ctx, evt))

	assert.Equal(t, 1, calls)
	assert.Zero(t, bus.Len())
}

func TestBus_SubscribeChanDropsWhenFull(t *testing.T) {
	bus := NewBus(nil)
	ch, closeFn, err := bus.SubscribeChan(SubscribeOptions{}, 1)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, NewEvent(model.EventJobStarted, testJob("acme", model.PriorityNormal), evtTime)))
	require.NoError(t, bus.Publish(ctx, NewEvent(model.EventJobCompleted, testJob("acme", model.PriorityNormal), evtTime)))

	first := <-ch
	assert.Equal(t, model.EventJobStarted, first.Type)

	closeFn()
	_, open := <-ch
	assert.False(t, open)
	require.NoError(t, bus.Publish(ctx, NewEvent(model.EventJobFailed, testJob("acme", model.PriorityNormal), evtTime)))
}

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	var delivered int
	ok := core.EventPublisherFunc(func(context.Context, model.LifecycleEvent) error {
		delivered++
		return nil
	})
	bad := core.EventPublisherFunc(func(context.Context, model.LifecycleEvent) error {
		return errors.New("kafka unavailable")
	})

	err := Fanout{ok, bad, nil, ok}.Publish(context.Background(), NewEvent(model.EventJobStarted, testJob("acme", model.PriorityNormal), evtTime))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka unavailable")
	assert.Equal(t, 2, delivered)
}

func TestBreaker_OpensAfterRepeatedFailures(t *testing.T) {
	var attempts int
	failing := core.EventPublisherFunc(func(context.Context, model.LifecycleEvent) error {
		attempts++
		return errors.New("connection refused")
	})
	b := NewBreaker(failing, BreakerOptions{Name: "test", MinRequests: 3, FailureRatio: 0.5, Timeout: time.Hour})

	ctx := context.Background()
	evt := NewEvent(model.EventJobStarted, testJob("acme", model.PriorityNormal), evtTime)
	for range 3 {
		require.Error(t, b.Publish(ctx, evt))
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err := b.Publish(ctx, evt)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, attempts)
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop{}.Publish(context.Background(), model.LifecycleEvent{}))
}
