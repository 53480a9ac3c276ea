package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/target/jobengine/internal/domain/model"
)

type enqueueOptions struct {
	Type        string
	Owner       string
	Priority    string
	Input       string
	Metadata    string
	MaxRetries  int
	TotalItems  int
	ScheduledAt string
	Delay       time.Duration
}

func newEnqueueCmd(a *app) *cobra.Command {
	var opts enqueueOptions
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Create a pending job and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := opts.request(time.Now())
			if err != nil {
				return err
			}
			jobs, err := a.jobs(cmd.Context())
			if err != nil {
				return err
			}
			job, err := jobs.Enqueue(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
			cmd.Println(job.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.Type, "type", "t", "", "job type (import, status_update, verification, export, cleanup)")
	f.StringVarP(&opts.Owner, "owner", "o", "", "owning user or tenant")
	f.StringVarP(&opts.Priority, "priority", "p", "normal", "low, normal, high or urgent")
	f.StringVarP(&opts.Input, "input", "i", "", "job input as a JSON object")
	f.StringVar(&opts.Metadata, "metadata", "", "free-form metadata as a JSON object")
	f.IntVar(&opts.MaxRetries, "max-retries", -1, "retry budget (default 3)")
	f.IntVar(&opts.TotalItems, "total-items", -1, "total items when known up front")
	f.StringVar(&opts.ScheduledAt, "scheduled-at", "", "earliest start time (RFC 3339)")
	f.DurationVar(&opts.Delay, "delay", 0, "earliest start relative to now")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("input")
	cmd.MarkFlagsMutuallyExclusive("scheduled-at", "delay")
	return cmd
}

func (o *enqueueOptions) request(now time.Time) (*model.CreateJobRequest, error) {
	var jobType model.JobType
	if err := jobType.UnmarshalText([]byte(o.Type)); err != nil {
		return nil, err
	}
	priority, err := model.ParsePriority(o.Priority)
	if err != nil {
		return nil, err
	}
	req := &model.CreateJobRequest{
		Owner:    strings.TrimSpace(o.Owner),
		Type:     jobType,
		Priority: &priority,
		Input:    json.RawMessage(o.Input),
	}
	if o.Metadata != "" {
		req.Metadata = json.RawMessage(o.Metadata)
	}
	if o.MaxRetries >= 0 {
		retries := o.MaxRetries
		req.MaxRetries = &retries
	}
	if o.TotalItems >= 0 {
		total := o.TotalItems
		req.TotalItems = &total
	}
	switch {
	case o.ScheduledAt != "":
		at, parseErr := time.Parse(time.RFC3339, o.ScheduledAt)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid --scheduled-at: %w", parseErr)
		}
		req.ScheduledAt = &at
	case o.Delay > 0:
		at := now.Add(o.Delay)
		req.ScheduledAt = &at
	}
	return req, nil
}

type listOptions struct {
	Owner  string
	Status string
	Type   string
	Limit  int
	Offset int
}

func newListCmd(a *app) *cobra.Command {
	var opts listOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query, err := opts.query()
			if err != nil {
				return err
			}
			jobs, err := a.jobs(cmd.Context())
			if err != nil {
				return err
			}
			list, err := jobs.List(cmd.Context(), query)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			return printJobs(cmd, list)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.Owner, "owner", "o", "", "filter by owner")
	f.StringVarP(&opts.Status, "status", "s", "", "filter by status")
	f.StringVarP(&opts.Type, "type", "t", "", "filter by job type")
	f.IntVarP(&opts.Limit, "limit", "n", 50, "max results")
	f.IntVar(&opts.Offset, "offset", 0, "results to skip")
	return cmd
}

func (o *listOptions) query() (model.JobListOptions, error) {
	q := model.JobListOptions{Limit: o.Limit, Offset: o.Offset}
	if owner := strings.TrimSpace(o.Owner); owner != "" {
		q.Owner = &owner
	}
	if o.Status != "" {
		status := model.JobStatus(strings.ToLower(strings.TrimSpace(o.Status)))
		if !status.Valid() {
			return q, fmt.Errorf("invalid status %q", o.Status)
		}
		q.Status = &status
	}
	if o.Type != "" {
		var jobType model.JobType
		if err := jobType.UnmarshalText([]byte(o.Type)); err != nil {
			return q, err
		}
		q.Type = &jobType
	}
	return q, nil
}

func printJobs(cmd *cobra.Command, jobs []*model.Job) error {
	if len(jobs) == 0 {
		cmd.Println("no jobs found")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(w, "ID\tTYPE\tOWNER\tSTATUS\tPRIORITY\tPROGRESS\tRETRIES\tCREATED"); err != nil {
		return err
	}
	for _, j := range jobs {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d%%\t%d/%d\t%s\n",
			j.ID, j.Type, j.Owner, j.Status, j.Priority, j.Progress,
			j.RetryCount, j.MaxRetries, j.CreatedAt.UTC().Format(time.RFC3339),
		); err != nil {
			return err
		}
	}
	return w.Flush()
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Print a job, including its error log, as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := a.jobs(cmd.Context())
			if err != nil {
				return err
			}
			job, err := jobs.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get job: %w", err)
			}
			return printJSON(cmd, job)
		},
	}
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or processing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := a.jobs(cmd.Context())
			if err != nil {
				return err
			}
			job, err := jobs.Cancel(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("cancel job: %w", err)
			}
			cmd.Printf("%s %s\n", job.ID, job.Status)
			return nil
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	var (
		window time.Duration
		owner  string
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate jobs per type and status over a time window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if window <= 0 {
				return errors.New("--window must be positive")
			}
			jobs, err := a.jobs(cmd.Context())
			if err != nil {
				return err
			}
			var ownerFilter *string
			if owner != "" {
				ownerFilter = &owner
			}
			rows, err := jobs.Stats(cmd.Context(), window, ownerFilter)
			if err != nil {
				return fmt.Errorf("job stats: %w", err)
			}
			return printStats(cmd, rows)
		},
	}
	cmd.Flags().DurationVarP(&window, "window", "w", 24*time.Hour, "look-back window")
	cmd.Flags().StringVarP(&owner, "owner", "o", "", "restrict to one owner")
	return cmd
}

func printStats(cmd *cobra.Command, rows []model.JobStatsRow) error {
	if len(rows) == 0 {
		cmd.Println("no jobs in window")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(w, "TYPE\tSTATUS\tCOUNT\tAVG PROCESSED\tSUCCESS\tFAILED"); err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%d\n",
			r.Type, r.Status, r.Count,
			strconv.FormatFloat(r.AvgProcessedItems, 'f', 1, 64),
			r.SuccessItems, r.FailedItems,
		); err != nil {
			return err
		}
	}
	return w.Flush()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
