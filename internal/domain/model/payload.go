package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Payload is implemented by every typed job input.
type Payload interface {
	Validate() error
}

// ImportInput describes a bulk import of records from an external source.
type ImportInput struct {
	SourceURI string `json:"source_uri"`
	Format    string `json:"format"`
	DryRun    bool   `json:"dry_run,omitempty"`
}

// Validate checks the import source and format.
func (in *ImportInput) Validate() error {
	if strings.TrimSpace(in.SourceURI) == "" {
		return errors.New("source_uri is required")
	}
	switch in.Format {
	case "csv", "json", "ndjson":
		return nil
	default:
		return fmt.Errorf("unsupported format %q", in.Format)
	}
}

// StatusUpdateInput reconciles the status of a set of entities.
type StatusUpdateInput struct {
	EntityIDs []string `json:"entity_ids"`
	Status    string   `json:"status"`
	Reason    string   `json:"reason,omitempty"`
}

// Validate checks that entities and the target status are present.
func (in *StatusUpdateInput) Validate() error {
	if len(in.EntityIDs) == 0 {
		return errors.New("entity_ids must not be empty")
	}
	if strings.TrimSpace(in.Status) == "" {
		return errors.New("status is required")
	}
	return nil
}

// VerificationInput requests verification checks over a set of documents.
type VerificationInput struct {
	DocumentIDs []string `json:"document_ids"`
	Checks      []string `json:"checks,omitempty"`
}

// Validate checks that at least one document is listed.
func (in *VerificationInput) Validate() error {
	if len(in.DocumentIDs) == 0 {
		return errors.New("document_ids must not be empty")
	}
	for _, id := range in.DocumentIDs {
		if strings.TrimSpace(id) == "" {
			return errors.New("document_ids must not contain blanks")
		}
	}
	return nil
}

// ExportInput describes a data export to a destination.
type ExportInput struct {
	Format      string          `json:"format"`
	Destination string          `json:"destination"`
	Filter      json.RawMessage `json:"filter,omitempty"`
}

// Validate checks the export format and destination.
func (in *ExportInput) Validate() error {
	switch in.Format {
	case "csv", "json":
	default:
		return fmt.Errorf("unsupported format %q", in.Format)
	}
	if strings.TrimSpace(in.Destination) == "" {
		return errors.New("destination is required")
	}
	return nil
}

// CleanupInput configures the retention sweep over terminal jobs.
type CleanupInput struct {
	OlderThanHours int         `json:"older_than_hours"`
	Statuses       []JobStatus `json:"statuses,omitempty"`
	BatchSize      int         `json:"batch_size,omitempty"`
}

// Validate checks the retention window and that only terminal statuses are targeted.
func (in *CleanupInput) Validate() error {
	if in.OlderThanHours <= 0 {
		return errors.New("older_than_hours must be positive")
	}
	if in.BatchSize < 0 {
		return errors.New("batch_size must be >= 0")
	}
	for _, st := range in.Statuses {
		if !st.Terminal() {
			return fmt.Errorf("status %q is not terminal", st)
		}
	}
	return nil
}

// TerminalStatuses returns the statuses to sweep, defaulting to every terminal status.
func (in *CleanupInput) TerminalStatuses() []JobStatus {
	if len(in.Statuses) > 0 {
		return in.Statuses
	}
	return []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
}

var payloadRegistry = map[JobType]func() Payload{
	JobTypeImport:       func() Payload { return &ImportInput{} },
	JobTypeStatusUpdate: func() Payload { return &StatusUpdateInput{} },
	JobTypeVerification: func() Payload { return &VerificationInput{} },
	JobTypeExport:       func() Payload { return &ExportInput{} },
	JobTypeCleanup:      func() Payload { return &CleanupInput{} },
}

// ValidateInput decodes raw into the input type registered for jobType, rejecting unknown fields.
func ValidateInput(jobType JobType, raw json.RawMessage) error {
	factory, ok := payloadRegistry[jobType]
	if !ok {
		return fmt.Errorf("no input schema for job type %q", jobType)
	}
	p := factory()
	if err := decodeStrict(raw, p); err != nil {
		return err
	}
	return p.Validate()
}

// DecodeInput decodes and validates the input of job into T.
func DecodeInput[T any, P interface {
	*T
	Payload
}](job *Job) (*T, error) {
	if job == nil {
		return nil, errors.New("job is required")
	}
	var v T
	p := P(&v)
	if err := decodeStrict(job.Input, p); err != nil {
		return nil, fmt.Errorf("decode %s input: %w", job.Type, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s input: %w", job.Type, err)
	}
	return &v, nil
}

func decodeStrict(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return errors.New("input is required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
