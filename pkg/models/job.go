package models

import (
	"encoding/json"
	"time"
)

// JobStatus is the single wire shape for the current pipeline job. It is used
// both as a full snapshot (GET /api/status, jobSnapshot event) and as a partial
// update (jobProgress event), where nil pointer fields mean "leave unchanged".
//
// IsRunning is deliberately not a pointer: every message carries an
// authoritative run flag.
type JobStatus struct {
	JobID                  string     `json:"jobId,omitempty"`
	FileName               *string    `json:"fileName,omitempty"`
	Stage                  *string    `json:"stage,omitempty"`
	Percent                *int       `json:"percent,omitempty"`
	IsRunning              bool       `json:"isRunning"`
	Timestamp              *time.Time `json:"timestamp,omitempty"`
	LastUpdated            *time.Time `json:"lastUpdated,omitempty"`
	EstimatedTimeRemaining *Duration  `json:"estimatedTimeRemaining,omitempty"`
	ElapsedTime            *Duration  `json:"elapsedTime,omitempty"`
}

// UnmarshalJSON accepts the legacy "currentFile" field as an alias for fileName.
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	type plain JobStatus
	var aux struct {
		plain
		CurrentFile *string `json:"currentFile,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = JobStatus(aux.plain)
	if s.FileName == nil && aux.CurrentFile != nil {
		s.FileName = aux.CurrentFile
	}
	return nil
}

// JobError is the payload of jobFailed and jobErrorCleared push events.
type JobError struct {
	JobID   string `json:"jobId,omitempty"`
	Message string `json:"message,omitempty"`
}

// JobHistoryItem is one row of GET /api/jobs/recent.
type JobHistoryItem struct {
	JobID     string     `json:"jobId,omitempty"`
	FileName  string     `json:"fileName,omitempty"`
	Status    string     `json:"status,omitempty"`
	Duration  *Duration  `json:"duration,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// JobStage describes one processing stage of a finished or running job.
type JobStage struct {
	Name            string     `json:"name,omitempty"`
	Status          string     `json:"status,omitempty"`
	StartTime       *time.Time `json:"startTime,omitempty"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	Duration        *Duration  `json:"duration,omitempty"`
	ProgressPercent *int       `json:"progressPercent,omitempty"`
}

// JobDetail is returned by GET /api/jobs/{id}.
type JobDetail struct {
	JobID           string         `json:"jobId,omitempty"`
	FileName        string         `json:"fileName,omitempty"`
	Status          string         `json:"status,omitempty"`
	StartTime       *time.Time     `json:"startTime,omitempty"`
	EndTime         *time.Time     `json:"endTime,omitempty"`
	Duration        *Duration      `json:"duration,omitempty"`
	CurrentStage    string         `json:"currentStage,omitempty"`
	ProgressPercent *int           `json:"progressPercent,omitempty"`
	Stages          []JobStage     `json:"stages,omitempty"`
	HighlightCount  *int           `json:"highlightCount,omitempty"`
	SceneCount      *int           `json:"sceneCount,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// JobEvent is one entry of GET /api/jobs/{id}/events.
type JobEvent struct {
	EventID   string         `json:"eventId,omitempty"`
	JobID     string         `json:"jobId,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	EventType string         `json:"eventType,omitempty"`
	Message   string         `json:"message,omitempty"`
	Stage     string         `json:"stage,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}
