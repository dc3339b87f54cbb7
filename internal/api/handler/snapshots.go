package handler

import (
	"net/http"
	"time"

	"github.com/kiranshivaraju/vodwatch/internal/api/response"
	"github.com/kiranshivaraju/vodwatch/internal/realtime"
	"github.com/kiranshivaraju/vodwatch/internal/view"
	"github.com/kiranshivaraju/vodwatch/pkg/format"
)

// SnapshotReader exposes the current job and health views.
type SnapshotReader interface {
	Job() (view.JobSnapshot, bool)
	Health() (view.HealthSnapshot, bool)
}

// ConnectionReader exposes the push connection state.
type ConnectionReader interface {
	State() realtime.State
	ConnectionID() string
}

// NewJobHandler returns an http.HandlerFunc for GET /api/v1/job.
func NewJobHandler(src SnapshotReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := src.Job()
		if !ok {
			response.JSON(w, jobResponse{
				Available:          false,
				IsIdle:             true,
				Elapsed:            format.NotAvailable,
				EstimatedRemaining: format.NotAvailable,
				StartedAtDisplay:   format.NotAvailable,
			})
			return
		}
		response.JSON(w, toJobResponse(snap))
	}
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health.
func NewHealthHandler(src SnapshotReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := src.Health()
		if !ok {
			response.JSON(w, healthResponse{
				Available:          false,
				HasErrors:          true,
				LastUpdatedDisplay: format.NotAvailable,
				Subsystems:         map[string]subsystemResponse{},
			})
			return
		}
		response.JSON(w, toHealthResponse(snap))
	}
}

// NewConnectionHandler returns an http.HandlerFunc for GET /api/v1/connection.
func NewConnectionHandler(conn ConnectionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := conn.State()
		response.JSON(w, connectionResponse{
			State:        state.String(),
			ConnectionID: conn.ConnectionID(),
			Connected:    state == realtime.Connected,
		})
	}
}

type jobResponse struct {
	Available          bool       `json:"available"`
	JobID              string     `json:"job_id,omitempty"`
	FileName           string     `json:"file_name,omitempty"`
	Stage              string     `json:"stage,omitempty"`
	Percent            int        `json:"percent"`
	IsRunning          bool       `json:"is_running"`
	IsIdle             bool       `json:"is_idle"`
	IsComplete         bool       `json:"is_complete"`
	HasError           bool       `json:"has_error"`
	ErrorMessage       *string    `json:"error_message,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	LastUpdatedAt      *time.Time `json:"last_updated_at,omitempty"`
	StartedAtDisplay   string     `json:"started_at_display"`
	Elapsed            string     `json:"elapsed"`
	EstimatedRemaining string     `json:"estimated_remaining"`
}

func toJobResponse(s view.JobSnapshot) jobResponse {
	started, updated := s.StartedAt, s.LastUpdatedAt
	return jobResponse{
		Available:          true,
		JobID:              s.JobID.String(),
		FileName:           s.FileName,
		Stage:              s.Stage,
		Percent:            s.Percent,
		IsRunning:          s.IsRunning,
		IsIdle:             s.IsIdle,
		IsComplete:         s.IsComplete,
		HasError:           s.HasError,
		ErrorMessage:       s.ErrorMessage,
		StartedAt:          &started,
		LastUpdatedAt:      &updated,
		StartedAtDisplay:   format.Timestamp(&started),
		Elapsed:            format.Duration(s.Elapsed),
		EstimatedRemaining: format.OptionalDuration(s.EstimatedRemaining),
	}
}

type healthResponse struct {
	Available          bool                         `json:"available"`
	OverallHealthy     bool                         `json:"overall_healthy"`
	HasErrors          bool                         `json:"has_errors"`
	LastUpdatedAt      *time.Time                   `json:"last_updated_at,omitempty"`
	LastUpdatedDisplay string                       `json:"last_updated_display"`
	Subsystems         map[string]subsystemResponse `json:"subsystems"`
}

type subsystemResponse struct {
	Status               string     `json:"status"`
	Message              *string    `json:"message,omitempty"`
	LastHeartbeat        *time.Time `json:"last_heartbeat,omitempty"`
	LastHeartbeatDisplay string     `json:"last_heartbeat_display"`
}

func toHealthResponse(s view.HealthSnapshot) healthResponse {
	updated := s.LastUpdatedAt
	subs := make(map[string]subsystemResponse, len(s.Subsystems))
	for name, h := range s.Subsystems {
		subs[string(name)] = subsystemResponse{
			Status:               h.Status.String(),
			Message:              h.Message,
			LastHeartbeat:        h.LastHeartbeat,
			LastHeartbeatDisplay: format.Timestamp(h.LastHeartbeat),
		}
	}
	return healthResponse{
		Available:          true,
		OverallHealthy:     s.OverallHealthy,
		HasErrors:          s.HasErrors,
		LastUpdatedAt:      &updated,
		LastUpdatedDisplay: format.Timestamp(&updated),
		Subsystems:         subs,
	}
}

type connectionResponse struct {
	State        string `json:"state"`
	ConnectionID string `json:"connection_id,omitempty"`
	Connected    bool   `json:"connected"`
}
