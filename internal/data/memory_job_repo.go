package data

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	domainjob "github.com/target/jobengine/internal/domain/job"
	"github.com/target/jobengine/internal/domain/model"
	apperrors "github.com/target/jobengine/internal/errors"
)

// MemoryJobRepo is an in-process job store with the same contract as JobRepo.
// Records are stored as deep copies so callers never share state with the store.
type MemoryJobRepo struct {
	mu           sync.Mutex
	jobs         map[string]*model.Job
	added        chan struct{}
	timeProvider TimeProvider
}

// NewMemoryJobRepo creates an empty in-memory job store.
func NewMemoryJobRepo(tp TimeProvider) *MemoryJobRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &MemoryJobRepo{
		jobs:         make(map[string]*model.Job),
		added:        make(chan struct{}),
		timeProvider: tp,
	}
}

// Create stores a copy of job and wakes every WaitForNotification caller.
func (r *MemoryJobRepo) Create(_ context.Context, job *model.Job) (string, error) {
	if job == nil {
		return "", errors.New("job is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if _, exists := r.jobs[job.ID]; exists {
		return "", apperrors.Wrapf(ErrJobExists, apperrors.ErrCodePersistenceConflict, "job %s", job.ID)
	}

	now := r.timeProvider.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	job.Version = 1
	r.jobs[job.ID] = job.Clone()

	close(r.added)
	r.added = make(chan struct{})
	return job.ID, nil
}

// Load returns a copy of the stored job.
func (r *MemoryJobRepo) Load(_ context.Context, id string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobs[id]
	if !ok {
		return nil, notFound(id)
	}
	return stored.Clone(), nil
}

// Save replaces the stored job when versions match and advances job.Version.
func (r *MemoryJobRepo) Save(_ context.Context, job *model.Job) error {
	if job == nil {
		return errors.New("job is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobs[job.ID]
	if !ok {
		return notFound(job.ID)
	}
	if stored.Version != job.Version {
		return conflict(job.ID, job.Version)
	}

	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = r.timeProvider.Now().UTC()
	}
	job.Version++
	next := job.Clone()
	next.CreatedAt = stored.CreatedAt
	r.jobs[job.ID] = next
	return nil
}

// QueryEligible returns due pending jobs ordered by priority DESC then created_at ASC.
func (r *MemoryJobRepo) QueryEligible(_ context.Context, filter model.EligibleFilter) ([]*model.Job, error) {
	now := filter.Now
	if now.IsZero() {
		now = r.timeProvider.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	eligible := r.eligibleLocked(now, filter.Types)
	limit := eligibleLimit(filter.Limit)
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return cloneAll(eligible), nil
}

func (r *MemoryJobRepo) eligibleLocked(now time.Time, types []model.JobType) []*model.Job {
	var out []*model.Job
	for _, j := range r.jobs {
		if j.Status != model.JobStatusPending {
			continue
		}
		if j.ScheduledAt != nil && j.ScheduledAt.After(now) {
			continue
		}
		if len(types) > 0 && !slices.Contains(types, j.Type) {
			continue
		}
		out = append(out, j)
	}
	slices.SortFunc(out, compareDispatchOrder)
	return out
}

// compareDispatchOrder orders by priority DESC, created_at ASC, id ASC.
func compareDispatchOrder(a, b *model.Job) int {
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// List returns jobs filtered by owner, status and type, newest first.
func (r *MemoryJobRepo) List(_ context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.Job
	for _, j := range r.jobs {
		if opts.Owner != nil && *opts.Owner != "" && j.Owner != *opts.Owner {
			continue
		}
		if opts.Status != nil && *opts.Status != "" && j.Status != *opts.Status {
			continue
		}
		if opts.Type != nil && *opts.Type != "" && j.Type != *opts.Type {
			continue
		}
		out = append(out, j)
	}
	slices.SortFunc(out, func(a, b *model.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	offset := max(opts.Offset, 0)
	if offset >= len(out) {
		return []*model.Job{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return cloneAll(out), nil
}

// Stats aggregates jobs created since opts.Since by (type, status).
func (r *MemoryJobRepo) Stats(_ context.Context, opts model.JobStatsOptions) ([]model.JobStatsRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	type key struct {
		t model.JobType
		s model.JobStatus
	}
	type acc struct {
		row       model.JobStatsRow
		processed int64
	}
	groups := make(map[key]*acc)
	for _, j := range r.jobs {
		if !opts.Since.IsZero() && j.CreatedAt.Before(opts.Since) {
			continue
		}
		if opts.Owner != nil && *opts.Owner != "" && j.Owner != *opts.Owner {
			continue
		}
		k := key{j.Type, j.Status}
		a, ok := groups[k]
		if !ok {
			a = &acc{row: model.JobStatsRow{Type: j.Type, Status: j.Status}}
			groups[k] = a
		}
		a.row.Count++
		a.processed += int64(j.ProcessedItems)
		a.row.SuccessItems += int64(j.SuccessItems)
		a.row.FailedItems += int64(j.FailedItems)
	}

	out := make([]model.JobStatsRow, 0, len(groups))
	for _, a := range groups {
		a.row.AvgProcessedItems = float64(a.processed) / float64(a.row.Count)
		out = append(out, a.row)
	}
	slices.SortFunc(out, func(a, b model.JobStatsRow) int {
		if c := strings.Compare(string(a.Type), string(b.Type)); c != 0 {
			return c
		}
		return strings.Compare(string(a.Status), string(b.Status))
	})
	return out, nil
}

// WaitForNotification blocks until the next Create or until ctx is done.
func (r *MemoryJobRepo) WaitForNotification(ctx context.Context) error {
	r.mu.Lock()
	added := r.added
	r.mu.Unlock()

	select {
	case <-added:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClaimNext starts the best eligible job under a lease held by req.WorkerID.
func (r *MemoryJobRepo) ClaimNext(_ context.Context, req model.ClaimRequest) (*model.Job, error) {
	if strings.TrimSpace(req.WorkerID) == "" {
		return nil, errors.New("worker id is required")
	}
	if req.Lease <= 0 {
		return nil, errors.New("lease must be positive")
	}
	now := req.Now
	if now.IsZero() {
		now = r.timeProvider.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	eligible := r.eligibleLocked(now, req.Types)
	if len(eligible) == 0 {
		return nil, model.ErrNoJobsAvailable
	}

	claimed := eligible[0].Clone()
	if err := domainjob.Start(claimed, now); err != nil {
		return nil, err
	}
	owner := req.WorkerID
	expires := now.Add(req.Lease).UTC()
	claimed.LeaseOwner = &owner
	claimed.LeaseExpiresAt = &expires
	claimed.Version++
	r.jobs[claimed.ID] = claimed.Clone()
	return claimed, nil
}

// ListExpiredLeases returns processing jobs whose lease expired before now.
func (r *MemoryJobRepo) ListExpiredLeases(_ context.Context, now time.Time, limit int) ([]*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.Job
	for _, j := range r.jobs {
		if j.Status == model.JobStatusProcessing && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now) {
			out = append(out, j)
		}
	}
	slices.SortFunc(out, func(a, b *model.Job) int {
		return a.LeaseExpiresAt.Compare(*b.LeaseExpiresAt)
	})
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return cloneAll(out), nil
}

// DeleteTerminalBefore removes up to params.BatchSize terminal jobs finished before params.Before.
func (r *MemoryJobRepo) DeleteTerminalBefore(_ context.Context, params model.DeleteTerminalParams) (int64, error) {
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	if len(params.Statuses) == 0 {
		return 0, errors.New("at least one status is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var victims []*model.Job
	for _, j := range r.jobs {
		if !slices.Contains(params.Statuses, j.Status) || !j.Status.Terminal() {
			continue
		}
		if finishedAt(j).Before(params.Before) {
			victims = append(victims, j)
		}
	}
	slices.SortFunc(victims, func(a, b *model.Job) int {
		return finishedAt(a).Compare(finishedAt(b))
	})
	if len(victims) > params.BatchSize {
		victims = victims[:params.BatchSize]
	}
	for _, j := range victims {
		delete(r.jobs, j.ID)
	}
	return int64(len(victims)), nil
}

func finishedAt(j *model.Job) time.Time {
	if j.CompletedAt != nil {
		return *j.CompletedAt
	}
	return j.UpdatedAt
}

func cloneAll(jobs []*model.Job) []*model.Job {
	out := make([]*model.Job, len(jobs))
	for i, j := range jobs {
		out[i] = j.Clone()
	}
	return out
}
