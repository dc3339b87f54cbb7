package view

import (
	"fmt"
	"time"

	"github.com/kiranshivaraju/vodwatch/pkg/models"
)

// Subsystem names one fixed health slot. The set is closed.
type Subsystem string

const (
	SubsystemAPI       Subsystem = "API"
	SubsystemFunction  Subsystem = "Function"
	SubsystemDatabase  Subsystem = "Database"
	SubsystemFileShare Subsystem = "FileShare"
)

var subsystems = [...]Subsystem{SubsystemAPI, SubsystemFunction, SubsystemDatabase, SubsystemFileShare}

// Subsystems returns the fixed slots in display order.
func Subsystems() []Subsystem {
	s := subsystems
	return s[:]
}

func (s Subsystem) index() (int, bool) {
	for i, name := range subsystems {
		if name == s {
			return i, true
		}
	}
	return 0, false
}

// HealthAggregate holds one health record per fixed subsystem.
type HealthAggregate struct {
	slots         [len(subsystems)]models.SubsystemHealth
	lastUpdatedAt time.Time
}

// HealthSnapshot is an immutable copy of a HealthAggregate.
type HealthSnapshot struct {
	Subsystems     map[Subsystem]models.SubsystemHealth
	LastUpdatedAt  time.Time
	OverallHealthy bool
	HasErrors      bool
}

// NewHealthAggregate builds the aggregate from a full snapshot. Subsystems
// missing from the snapshot start as Unknown.
func NewHealthAggregate(resp *models.HealthResponse) (*HealthAggregate, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: health response is required", ErrInvalidArgument)
	}

	h := &HealthAggregate{}
	h.replaceAll(resp)
	return h, nil
}

// UpdateSlot replaces one subsystem's record wholesale.
func (h *HealthAggregate) UpdateSlot(name Subsystem, health *models.SubsystemHealth) error {
	if health == nil {
		return fmt.Errorf("%w: health for %s is required", ErrInvalidArgument, name)
	}
	i, ok := name.index()
	if !ok {
		return fmt.Errorf("%w: unknown subsystem %q", ErrInvalidArgument, name)
	}

	h.slots[i] = copyHealth(*health)
	h.lastUpdatedAt = time.Now().UTC()
	return nil
}

// ApplyFullUpdate replaces every slot. A subsystem absent from resp resets
// to Unknown even if it previously held data.
func (h *HealthAggregate) ApplyFullUpdate(resp *models.HealthResponse) error {
	if resp == nil {
		return fmt.Errorf("%w: health response is required", ErrInvalidArgument)
	}
	h.replaceAll(resp)
	return nil
}

func (h *HealthAggregate) replaceAll(resp *models.HealthResponse) {
	for i, name := range subsystems {
		h.slots[i] = models.SubsystemHealth{}
		if entry := resp.Systems[string(name)]; entry != nil {
			h.slots[i] = copyHealth(*entry)
		}
	}

	h.lastUpdatedAt = time.Now().UTC()
	if resp.LastUpdated != nil {
		h.lastUpdatedAt = *resp.LastUpdated
	}
}

// Slot returns a copy of one subsystem's record.
func (h *HealthAggregate) Slot(name Subsystem) (models.SubsystemHealth, bool) {
	i, ok := name.index()
	if !ok {
		return models.SubsystemHealth{}, false
	}
	return copyHealth(h.slots[i]), true
}

func (h *HealthAggregate) LastUpdatedAt() time.Time { return h.lastUpdatedAt }

// OverallHealthy is true only when every slot is Healthy. It is reduced from
// the current slots on each call.
func (h *HealthAggregate) OverallHealthy() bool {
	for _, slot := range h.slots {
		if slot.Status != models.HealthHealthy {
			return false
		}
	}
	return true
}

func (h *HealthAggregate) HasErrors() bool { return !h.OverallHealthy() }

// Snapshot returns an immutable copy of the current state.
func (h *HealthAggregate) Snapshot() HealthSnapshot {
	slots := make(map[Subsystem]models.SubsystemHealth, len(subsystems))
	for i, name := range subsystems {
		slots[name] = copyHealth(h.slots[i])
	}

	healthy := h.OverallHealthy()
	return HealthSnapshot{
		Subsystems:     slots,
		LastUpdatedAt:  h.lastUpdatedAt,
		OverallHealthy: healthy,
		HasErrors:      !healthy,
	}
}

func copyHealth(src models.SubsystemHealth) models.SubsystemHealth {
	dst := models.SubsystemHealth{Status: src.Status}
	if src.LastHeartbeat != nil {
		ts := *src.LastHeartbeat
		dst.LastHeartbeat = &ts
	}
	if src.Message != nil {
		msg := *src.Message
		dst.Message = &msg
	}
	return dst
}
