package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kiranshivaraju/vodwatch/internal/api/response"
	"github.com/kiranshivaraju/vodwatch/pkg/format"
	"github.com/kiranshivaraju/vodwatch/pkg/models"
)

const (
	defaultRecentCount = 10
	maxRecentCount     = 100
)

// JobHistory is the subset of the pipeline API client the history handlers use.
type JobHistory interface {
	RecentJobs(ctx context.Context, count int) ([]models.JobHistoryItem, error)
	JobDetail(ctx context.Context, jobID string) (*models.JobDetail, error)
	JobEvents(ctx context.Context, jobID string) ([]models.JobEvent, error)
}

// NewRecentJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs/recent.
func NewRecentJobsHandler(hist JobHistory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count := defaultRecentCount
		if raw := r.URL.Query().Get("count"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"count must be a positive integer", nil)
				return
			}
			count = min(n, maxRecentCount)
		}

		jobs, err := hist.RecentJobs(r.Context(), count)
		if err != nil {
			writePipelineError(w, r, err)
			return
		}

		items := make([]historyItemResponse, 0, len(jobs))
		for _, j := range jobs {
			items = append(items, historyItemResponse{
				JobID:            j.JobID,
				FileName:         j.FileName,
				Status:           j.Status,
				BadgeClass:       format.StatusBadgeClass(j.Status),
				Duration:         format.OptionalDuration(models.DurationPtr(j.Duration)),
				Timestamp:        j.Timestamp,
				TimestampDisplay: format.Timestamp(j.Timestamp),
			})
		}
		response.List(w, items, response.ListMeta{Count: len(items), Requested: count})
	}
}

// NewJobDetailHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewJobDetailHandler(hist JobHistory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detail, err := hist.JobDetail(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			writePipelineError(w, r, err)
			return
		}

		stages := make([]stageResponse, 0, len(detail.Stages))
		for _, s := range detail.Stages {
			stages = append(stages, stageResponse{
				Name:            s.Name,
				Status:          s.Status,
				BadgeClass:      format.StatusBadgeClass(s.Status),
				StartTime:       s.StartTime,
				EndTime:         s.EndTime,
				Duration:        format.OptionalDuration(models.DurationPtr(s.Duration)),
				ProgressPercent: s.ProgressPercent,
			})
		}

		response.JSON(w, jobDetailResponse{
			JobID:            detail.JobID,
			FileName:         detail.FileName,
			Status:           detail.Status,
			BadgeClass:       format.StatusBadgeClass(detail.Status),
			StartTime:        detail.StartTime,
			StartTimeDisplay: format.Timestamp(detail.StartTime),
			EndTime:          detail.EndTime,
			EndTimeDisplay:   format.Timestamp(detail.EndTime),
			Duration:         format.OptionalDuration(models.DurationPtr(detail.Duration)),
			CurrentStage:     detail.CurrentStage,
			ProgressPercent:  detail.ProgressPercent,
			Stages:           stages,
			HighlightCount:   detail.HighlightCount,
			SceneCount:       detail.SceneCount,
			Metadata:         detail.Metadata,
		})
	}
}

// NewJobEventsHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/events.
func NewJobEventsHandler(hist JobHistory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := hist.JobEvents(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			writePipelineError(w, r, err)
			return
		}

		items := make([]jobEventResponse, 0, len(events))
		for _, e := range events {
			items = append(items, jobEventResponse{
				EventID:          e.EventID,
				EventType:        e.EventType,
				Stage:            e.Stage,
				Message:          e.Message,
				Timestamp:        e.Timestamp,
				TimestampDisplay: format.Timestamp(e.Timestamp),
				Details:          e.Details,
			})
		}
		response.List(w, items, response.ListMeta{Count: len(items)})
	}
}

type historyItemResponse struct {
	JobID            string     `json:"job_id"`
	FileName         string     `json:"file_name"`
	Status           string     `json:"status"`
	BadgeClass       string     `json:"badge_class"`
	Duration         string     `json:"duration"`
	Timestamp        *time.Time `json:"timestamp,omitempty"`
	TimestampDisplay string     `json:"timestamp_display"`
}

type stageResponse struct {
	Name            string     `json:"name"`
	Status          string     `json:"status"`
	BadgeClass      string     `json:"badge_class"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	Duration        string     `json:"duration"`
	ProgressPercent *int       `json:"progress_percent,omitempty"`
}

type jobDetailResponse struct {
	JobID            string          `json:"job_id"`
	FileName         string          `json:"file_name"`
	Status           string          `json:"status"`
	BadgeClass       string          `json:"badge_class"`
	StartTime        *time.Time      `json:"start_time,omitempty"`
	StartTimeDisplay string          `json:"start_time_display"`
	EndTime          *time.Time      `json:"end_time,omitempty"`
	EndTimeDisplay   string          `json:"end_time_display"`
	Duration         string          `json:"duration"`
	CurrentStage     string          `json:"current_stage,omitempty"`
	ProgressPercent  *int            `json:"progress_percent,omitempty"`
	Stages           []stageResponse `json:"stages"`
	HighlightCount   *int            `json:"highlight_count,omitempty"`
	SceneCount       *int            `json:"scene_count,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
}

type jobEventResponse struct {
	EventID          string         `json:"event_id"`
	EventType        string         `json:"event_type"`
	Stage            string         `json:"stage,omitempty"`
	Message          string         `json:"message,omitempty"`
	Timestamp        *time.Time     `json:"timestamp,omitempty"`
	TimestampDisplay string         `json:"timestamp_display"`
	Details          map[string]any `json:"details,omitempty"`
}
