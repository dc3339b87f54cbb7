package tracker

import (
	"encoding/json"
	"fmt"

	"github.com/kiranshivaraju/vodwatch/internal/metrics"
	"github.com/kiranshivaraju/vodwatch/internal/realtime/transport"
	"github.com/kiranshivaraju/vodwatch/internal/view"
	"github.com/kiranshivaraju/vodwatch/pkg/models"
)

// Push event names.
const (
	EventJobProgress        = "jobProgress"
	EventJobSnapshot        = "jobSnapshot"
	EventJobFailed          = "jobFailed"
	EventJobErrorCleared    = "jobErrorCleared"
	EventAPIHeartbeat       = "apiHeartbeat"
	EventFunctionHeartbeat  = "functionHeartbeat"
	EventDBStatusChanged    = "dbStatusChanged"
	EventFileShareChanged   = "fileShareStatusChanged"
	EventSystemHealthUpdate = "SystemHealthUpdated"
)

// applyFunc decodes one payload into the views. It runs with t.mu held and
// reports whether the event changed anything.
type applyFunc func(payload json.RawMessage) (bool, error)

type route struct {
	event string
	apply applyFunc
}

func (t *Tracker) routes() []route {
	return []route{
		{EventJobProgress, t.applyJobProgress},
		{EventJobSnapshot, t.applyJobSnapshot},
		{EventJobFailed, t.applyJobFailed},
		{EventJobErrorCleared, t.applyJobErrorCleared},
		{EventAPIHeartbeat, t.applySlot(view.SubsystemAPI)},
		{EventFunctionHeartbeat, t.applySlot(view.SubsystemFunction)},
		{EventDBStatusChanged, t.applySlot(view.SubsystemDatabase)},
		{EventFileShareChanged, t.applySlot(view.SubsystemFileShare)},
		{EventSystemHealthUpdate, t.applySystemHealth},
	}
}

func (t *Tracker) handle(r route) transport.Handler {
	return func(payload json.RawMessage) error {
		t.mu.Lock()
		applied, err := r.apply(payload)
		t.mu.Unlock()

		switch {
		case err != nil:
			t.metrics.RecordPushEvent(r.event, metrics.OutcomeRejected)
			return fmt.Errorf("%s: %w", r.event, err)
		case applied:
			t.metrics.RecordPushEvent(r.event, metrics.OutcomeApplied)
		default:
			t.metrics.RecordPushEvent(r.event, metrics.OutcomeIgnored)
			t.logger.Debug("push event ignored", "event", r.event)
		}
		return nil
	}
}

func decode[T any](payload json.RawMessage) (*T, error) {
	var v *T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if v == nil {
		return nil, fmt.Errorf("%w: payload is null", view.ErrInvalidArgument)
	}
	return v, nil
}

// applyJobProgress merges a partial update. With no job tracked, or when the
// tracked job has stopped running and a different job reports progress, the
// update starts tracking that job.
func (t *Tracker) applyJobProgress(payload json.RawMessage) (bool, error) {
	update, err := decode[models.JobStatus](payload)
	if err != nil {
		return false, err
	}

	if t.job == nil {
		job, err := view.NewJobProgress(update)
		if err != nil {
			return false, err
		}
		t.job = job
		return true, nil
	}

	applied, err := t.job.ApplyUpdate(update)
	if err != nil || applied {
		return applied, err
	}

	if t.job.IsIdle() && update.IsRunning {
		if job, err := view.NewJobProgress(update); err == nil {
			t.logger.Info("tracking new job", "job_id", job.JobID().String(), "previous_job_id", t.job.JobID().String())
			t.job = job
			return true, nil
		}
	}
	return false, nil
}

func (t *Tracker) applyJobSnapshot(payload json.RawMessage) (bool, error) {
	var status *models.JobStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		return false, fmt.Errorf("decode payload: %w", err)
	}

	if err := t.replaceJob(status); err != nil {
		return false, err
	}
	return true, nil
}

func (t *Tracker) applyJobFailed(payload json.RawMessage) (bool, error) {
	jobErr, err := decode[models.JobError](payload)
	if err != nil {
		return false, err
	}
	if t.job == nil || !t.job.Owns(jobErr.JobID) {
		return false, nil
	}

	msg := jobErr.Message
	if msg == "" {
		msg = "job failed"
	}
	t.job.SetError(msg)
	return true, nil
}

func (t *Tracker) applyJobErrorCleared(payload json.RawMessage) (bool, error) {
	jobErr, err := decode[models.JobError](payload)
	if err != nil {
		return false, err
	}
	if t.job == nil || !t.job.Owns(jobErr.JobID) {
		return false, nil
	}
	t.job.ClearError()
	return true, nil
}

func (t *Tracker) applySlot(name view.Subsystem) applyFunc {
	return func(payload json.RawMessage) (bool, error) {
		health, err := decode[models.SubsystemHealth](payload)
		if err != nil {
			return false, err
		}
		if t.health == nil {
			h, err := view.NewHealthAggregate(&models.HealthResponse{})
			if err != nil {
				return false, err
			}
			t.health = h
		}
		if err := t.health.UpdateSlot(name, health); err != nil {
			return false, err
		}
		return true, nil
	}
}

func (t *Tracker) applySystemHealth(payload json.RawMessage) (bool, error) {
	resp, err := decode[models.HealthResponse](payload)
	if err != nil {
		return false, err
	}
	if err := t.replaceHealth(resp); err != nil {
		return false, err
	}
	return true, nil
}
