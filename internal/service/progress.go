package service

import (
	"context"

	"github.com/target/jobengine/internal/core"
	domainjob "github.com/target/jobengine/internal/domain/job"
	"github.com/target/jobengine/internal/domain/model"
)

// jobProgress is the ProgressReporter handed to the handler of one job.
type jobProgress struct {
	jobs  *JobService
	jobID string
}

var _ core.ProgressReporter = (*jobProgress)(nil)

// Reporter returns a ProgressReporter bound to the job with the given id.
func (s *JobService) Reporter(jobID string) core.ProgressReporter {
	return &jobProgress{jobs: s, jobID: jobID}
}

func (p *jobProgress) SetTotal(ctx context.Context, total int) error {
	_, err := p.jobs.SetTotal(ctx, p.jobID, total)
	return err
}

func (p *jobProgress) Report(ctx context.Context, processed, successDelta, failedDelta int) error {
	_, err := p.jobs.UpdateProgress(ctx, p.jobID, domainjob.ProgressUpdate{
		Processed:    processed,
		SuccessDelta: successDelta,
		FailedDelta:  failedDelta,
	})
	return err
}

// Cancelled reads the stored status; lookup errors count as not cancelled.
func (p *jobProgress) Cancelled(ctx context.Context) bool {
	job, err := p.jobs.store.Load(ctx, p.jobID)
	if err != nil {
		return false
	}
	return job.Status == model.JobStatusCancelled
}
