// Package view holds the authoritative client-side state for the current
// pipeline job and the system health aggregate.
//
// Neither model is safe for concurrent mutation. Callers that receive updates
// from more than one source must serialize calls per instance.
package view

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vodwatch/pkg/models"
)

// ErrInvalidArgument is returned for absent required input and malformed job identifiers.
var ErrInvalidArgument = errors.New("invalid argument")

// JobIdentity is fixed when a JobProgress is created and never changes.
type JobIdentity struct {
	ID       uuid.UUID
	FileName string
}

// JobProgress tracks exactly one job. Create it with NewJobProgress.
type JobProgress struct {
	identity JobIdentity

	stage              string
	percent            int
	isRunning          bool
	startedAt          time.Time
	lastUpdatedAt      time.Time
	estimatedRemaining *time.Duration
	errorMessage       *string
}

// JobSnapshot is an immutable copy of a JobProgress including derived fields.
type JobSnapshot struct {
	JobID              uuid.UUID
	FileName           string
	Stage              string
	Percent            int
	IsRunning          bool
	StartedAt          time.Time
	LastUpdatedAt      time.Time
	Elapsed            time.Duration
	EstimatedRemaining *time.Duration
	ErrorMessage       *string
	IsIdle             bool
	IsComplete         bool
	HasError           bool
}

// NewJobProgress creates the view for the job described by a full snapshot.
// The snapshot must carry a well-formed, non-nil job identifier.
func NewJobProgress(status *models.JobStatus) (*JobProgress, error) {
	if status == nil {
		return nil, fmt.Errorf("%w: job status is required", ErrInvalidArgument)
	}

	id, ok := parseJobID(status.JobID)
	if !ok || id == uuid.Nil {
		return nil, fmt.Errorf("%w: job id %q must be a valid non-nil UUID", ErrInvalidArgument, status.JobID)
	}

	startedAt := time.Now().UTC()
	if status.Timestamp != nil {
		startedAt = *status.Timestamp
	}

	percent := 0
	if status.Percent != nil {
		percent = *status.Percent
	}

	return &JobProgress{
		identity: JobIdentity{
			ID:       id,
			FileName: deref(status.FileName),
		},
		stage:              deref(status.Stage),
		percent:            clampPercent(percent),
		isRunning:          status.IsRunning,
		startedAt:          startedAt,
		lastUpdatedAt:      startedAt,
		estimatedRemaining: models.DurationPtr(status.EstimatedTimeRemaining),
	}, nil
}

// ApplyUpdate merges a partial update into the view. It returns false, and
// changes nothing, when the update names a different job. An update with no
// job identifier belongs to the current job; the nil UUID is a different job.
func (j *JobProgress) ApplyUpdate(update *models.JobStatus) (bool, error) {
	if update == nil {
		return false, fmt.Errorf("%w: job update is required", ErrInvalidArgument)
	}
	if !j.Owns(update.JobID) {
		return false, nil
	}

	if update.Stage != nil {
		j.stage = *update.Stage
	}
	if update.Percent != nil {
		j.percent = clampPercent(*update.Percent)
	}
	// The run flag is authoritative on every update and is never merged.
	j.isRunning = update.IsRunning

	switch {
	case update.LastUpdated != nil:
		j.lastUpdatedAt = *update.LastUpdated
	case update.Timestamp != nil:
		j.lastUpdatedAt = *update.Timestamp
	default:
		j.lastUpdatedAt = time.Now().UTC()
	}

	if update.EstimatedTimeRemaining != nil {
		j.estimatedRemaining = models.DurationPtr(update.EstimatedTimeRemaining)
	} else {
		j.estimatedRemaining = estimateRemaining(j.Elapsed(), j.percent)
	}

	if j.percent >= 100 {
		j.isRunning = false
		j.estimatedRemaining = durationPtr(0)
	}

	return true, nil
}

// Owns reports whether a message carrying jobID addresses this job.
// An empty identifier matches. Malformed identifiers and the nil UUID never do.
func (j *JobProgress) Owns(jobID string) bool {
	if strings.TrimSpace(jobID) == "" {
		return true
	}
	id, ok := parseJobID(jobID)
	if !ok {
		return false
	}
	return id == j.identity.ID
}

// SetError puts the job into the error state. It always applies to the current job.
func (j *JobProgress) SetError(message string) {
	j.errorMessage = &message
	j.isRunning = false
	j.estimatedRemaining = nil
}

// ClearError removes the error message and leaves every other field alone.
func (j *JobProgress) ClearError() {
	j.errorMessage = nil
}

func (j *JobProgress) Identity() JobIdentity { return j.identity }
func (j *JobProgress) JobID() uuid.UUID      { return j.identity.ID }
func (j *JobProgress) FileName() string      { return j.identity.FileName }
func (j *JobProgress) Stage() string         { return j.stage }
func (j *JobProgress) Percent() int          { return j.percent }
func (j *JobProgress) IsRunning() bool       { return j.isRunning }
func (j *JobProgress) StartedAt() time.Time  { return j.startedAt }

func (j *JobProgress) LastUpdatedAt() time.Time { return j.lastUpdatedAt }

// EstimatedRemaining returns a copy; nil means unknown.
func (j *JobProgress) EstimatedRemaining() *time.Duration {
	if j.estimatedRemaining == nil {
		return nil
	}
	return durationPtr(*j.estimatedRemaining)
}

// ErrorMessage returns the error message and whether one is set.
func (j *JobProgress) ErrorMessage() (string, bool) {
	if j.errorMessage == nil {
		return "", false
	}
	return *j.errorMessage, true
}

// Elapsed is LastUpdatedAt - StartedAt, never negative.
func (j *JobProgress) Elapsed() time.Duration {
	elapsed := j.lastUpdatedAt.Sub(j.startedAt)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

func (j *JobProgress) IsIdle() bool     { return !j.isRunning }
func (j *JobProgress) IsComplete() bool { return j.percent >= 100 }
func (j *JobProgress) HasError() bool   { return j.errorMessage != nil }

// Snapshot returns an immutable copy of the current state.
func (j *JobProgress) Snapshot() JobSnapshot {
	var errMsg *string
	if j.errorMessage != nil {
		msg := *j.errorMessage
		errMsg = &msg
	}

	return JobSnapshot{
		JobID:              j.identity.ID,
		FileName:           j.identity.FileName,
		Stage:              j.stage,
		Percent:            j.percent,
		IsRunning:          j.isRunning,
		StartedAt:          j.startedAt,
		LastUpdatedAt:      j.lastUpdatedAt,
		Elapsed:            j.Elapsed(),
		EstimatedRemaining: j.EstimatedRemaining(),
		ErrorMessage:       errMsg,
		IsIdle:             j.IsIdle(),
		IsComplete:         j.IsComplete(),
		HasError:           j.HasError(),
	}
}

// estimateRemaining extrapolates linearly: elapsed * (100 - percent) / percent.
// It returns nil when there is no progress or no elapsed time to go on.
func estimateRemaining(elapsed time.Duration, percent int) *time.Duration {
	if elapsed <= 0 || percent <= 0 {
		return nil
	}
	if percent >= 100 {
		return durationPtr(0)
	}
	remaining := float64(elapsed) * float64(100-percent) / float64(percent)
	return durationPtr(time.Duration(remaining))
}

func parseJobID(s string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func clampPercent(p int) int {
	return min(max(p, 0), 100)
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
