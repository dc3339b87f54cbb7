package view_test

import (
	"testing"
	"time"

	"github.com/kiranshivaraju/vodwatch/internal/view"
	"github.com/kiranshivaraju/vodwatch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthy() *models.SubsystemHealth {
	return &models.SubsystemHealth{Status: models.HealthHealthy, LastHeartbeat: ptr(t0)}
}

func allHealthy() *models.HealthResponse {
	return &models.HealthResponse{
		Systems: map[string]*models.SubsystemHealth{
			"API":       healthy(),
			"Function":  healthy(),
			"Database":  healthy(),
			"FileShare": healthy(),
		},
		LastUpdated: ptr(t0),
	}
}

func newHealth(t *testing.T, resp *models.HealthResponse) *view.HealthAggregate {
	t.Helper()
	h, err := view.NewHealthAggregate(resp)
	require.NoError(t, err)
	return h
}

func assertAllUnknown(t *testing.T, h *view.HealthAggregate) {
	t.Helper()
	for _, name := range view.Subsystems() {
		slot, ok := h.Slot(name)
		require.True(t, ok)
		assert.Equal(t, models.HealthUnknown, slot.Status, "slot %s", name)
		assert.Nil(t, slot.LastHeartbeat, "slot %s", name)
		assert.Nil(t, slot.Message, "slot %s", name)
	}
}

// --- NewHealthAggregate ---

func TestNewHealthAggregate_Nil(t *testing.T) {
	_, err := view.NewHealthAggregate(nil)
	require.ErrorIs(t, err, view.ErrInvalidArgument)
}

func TestNewHealthAggregate_AllHealthy(t *testing.T) {
	h := newHealth(t, allHealthy())

	assert.True(t, h.OverallHealthy())
	assert.False(t, h.HasErrors())
	assert.Equal(t, t0, h.LastUpdatedAt())
}

func TestNewHealthAggregate_EmptySnapshotDefaultsToUnknown(t *testing.T) {
	before := time.Now().UTC()
	h := newHealth(t, &models.HealthResponse{})

	assertAllUnknown(t, h)
	assert.False(t, h.OverallHealthy())
	assert.True(t, h.HasErrors())
	assert.False(t, h.LastUpdatedAt().Before(before))
}

func TestNewHealthAggregate_MissingSlotIsUnknown(t *testing.T) {
	resp := allHealthy()
	delete(resp.Systems, "FileShare")
	h := newHealth(t, resp)

	slot, _ := h.Slot(view.SubsystemFileShare)
	assert.Equal(t, models.HealthUnknown, slot.Status)
	assert.False(t, h.OverallHealthy())
}

func TestNewHealthAggregate_IgnoresUnmodeledSystems(t *testing.T) {
	resp := allHealthy()
	resp.Systems["Queue"] = &models.SubsystemHealth{Status: models.HealthUnhealthy}
	h := newHealth(t, resp)

	assert.True(t, h.OverallHealthy())
	assert.Len(t, h.Snapshot().Subsystems, 4)
}

func TestNewHealthAggregate_CopiesInput(t *testing.T) {
	resp := allHealthy()
	resp.Systems["API"].Message = ptr("ok")
	h := newHealth(t, resp)

	*resp.Systems["API"].Message = "mutated"
	resp.Systems["API"].Status = models.HealthUnhealthy

	slot, _ := h.Slot(view.SubsystemAPI)
	assert.Equal(t, "ok", *slot.Message)
	assert.Equal(t, models.HealthHealthy, slot.Status)
}

// --- UpdateSlot ---

func TestUpdateSlot_Nil(t *testing.T) {
	h := newHealth(t, allHealthy())
	err := h.UpdateSlot(view.SubsystemAPI, nil)
	require.ErrorIs(t, err, view.ErrInvalidArgument)
	assert.True(t, h.OverallHealthy())
}

func TestUpdateSlot_UnknownSubsystem(t *testing.T) {
	h := newHealth(t, allHealthy())
	err := h.UpdateSlot(view.Subsystem("Queue"), healthy())
	require.ErrorIs(t, err, view.ErrInvalidArgument)
}

func TestUpdateSlot_ReplacesWholesale(t *testing.T) {
	h := newHealth(t, allHealthy())
	before := time.Now().UTC()

	require.NoError(t, h.UpdateSlot(view.SubsystemDatabase, &models.SubsystemHealth{
		Status:  models.HealthDegraded,
		Message: ptr("replica lag"),
	}))

	slot, _ := h.Slot(view.SubsystemDatabase)
	assert.Equal(t, models.HealthDegraded, slot.Status)
	assert.Equal(t, "replica lag", *slot.Message)
	assert.Nil(t, slot.LastHeartbeat, "no field-level merge with the previous record")
	assert.False(t, h.LastUpdatedAt().Before(before))
}

func TestUpdateSlot_OverallHealthFlipsBothWays(t *testing.T) {
	for _, name := range view.Subsystems() {
		h := newHealth(t, allHealthy())

		require.NoError(t, h.UpdateSlot(name, &models.SubsystemHealth{Status: models.HealthUnhealthy}))
		assert.False(t, h.OverallHealthy(), "slot %s", name)
		assert.True(t, h.HasErrors(), "slot %s", name)

		require.NoError(t, h.UpdateSlot(name, healthy()))
		assert.True(t, h.OverallHealthy(), "slot %s", name)
	}
}

func TestUpdateSlot_AnyNonHealthyStatusIsNotHealthy(t *testing.T) {
	for _, status := range []models.HealthStatus{models.HealthUnknown, models.HealthDegraded, models.HealthUnhealthy} {
		h := newHealth(t, allHealthy())
		require.NoError(t, h.UpdateSlot(view.SubsystemFunction, &models.SubsystemHealth{Status: status}))
		assert.False(t, h.OverallHealthy(), status.String())
	}
}

// --- ApplyFullUpdate ---

func TestApplyFullUpdate_Nil(t *testing.T) {
	h := newHealth(t, allHealthy())
	require.ErrorIs(t, h.ApplyFullUpdate(nil), view.ErrInvalidArgument)
	assert.True(t, h.OverallHealthy())
}

func TestApplyFullUpdate_AbsentMapResetsEverySlot(t *testing.T) {
	h := newHealth(t, allHealthy())
	require.True(t, h.OverallHealthy())

	require.NoError(t, h.ApplyFullUpdate(&models.HealthResponse{Systems: nil}))

	assertAllUnknown(t, h)
	assert.False(t, h.OverallHealthy())
}

func TestApplyFullUpdate_IsTotalReplace(t *testing.T) {
	h := newHealth(t, allHealthy())

	require.NoError(t, h.ApplyFullUpdate(&models.HealthResponse{
		Systems: map[string]*models.SubsystemHealth{
			"API": {Status: models.HealthDegraded},
		},
		LastUpdated: ptr(t0.Add(time.Hour)),
	}))

	api, _ := h.Slot(view.SubsystemAPI)
	db, _ := h.Slot(view.SubsystemDatabase)
	assert.Equal(t, models.HealthDegraded, api.Status)
	assert.Equal(t, models.HealthUnknown, db.Status)
	assert.Equal(t, t0.Add(time.Hour), h.LastUpdatedAt())
}

func TestApplyFullUpdate_RestoresHealth(t *testing.T) {
	h := newHealth(t, &models.HealthResponse{})
	require.False(t, h.OverallHealthy())

	require.NoError(t, h.ApplyFullUpdate(allHealthy()))
	assert.True(t, h.OverallHealthy())
}

// --- Snapshot / Subsystems ---

func TestHealthSnapshot_IsIndependentCopy(t *testing.T) {
	h := newHealth(t, allHealthy())
	snap := h.Snapshot()

	require.NoError(t, h.UpdateSlot(view.SubsystemAPI, &models.SubsystemHealth{Status: models.HealthUnhealthy}))

	assert.True(t, snap.OverallHealthy)
	assert.False(t, snap.HasErrors)
	assert.Equal(t, models.HealthHealthy, snap.Subsystems[view.SubsystemAPI].Status)
}

func TestSubsystems_FixedOrderAndDefensiveCopy(t *testing.T) {
	names := view.Subsystems()
	assert.Equal(t, []view.Subsystem{"API", "Function", "Database", "FileShare"}, names)

	names[0] = "Mutated"
	assert.Equal(t, view.SubsystemAPI, view.Subsystems()[0])
}

func TestSlot_Unknown(t *testing.T) {
	h := newHealth(t, allHealthy())
	_, ok := h.Slot(view.Subsystem("Queue"))
	assert.False(t, ok)
}
