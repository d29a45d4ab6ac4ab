package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/hkipo/hkex-ipo-backend/database"
	"github.com/hkipo/hkex-ipo-backend/services"
	"github.com/sirupsen/logrus"
)

type AdminHandler struct {
	Service         *services.ReconcileService
	OverrideService *services.OverrideService
	SnapshotStore   *database.SnapshotStore
}

func NewAdminHandler(service *services.ReconcileService, overrideService *services.OverrideService, snapshotStore *database.SnapshotStore) *AdminHandler {
	return &AdminHandler{
		Service:         service,
		OverrideService: overrideService,
		SnapshotStore:   snapshotStore,
	}
}

// TriggerRefresh forces a full reconciliation run and persists the result
// when a snapshot store is configured.
func (h *AdminHandler) TriggerRefresh(c *fiber.Ctx) error {
	records := h.Service.Refresh(c.Context())

	if h.SnapshotStore != nil {
		if err := h.SnapshotStore.SaveSnapshot(c.Context(), records); err != nil {
			logrus.Warnf("Failed to persist snapshot after manual refresh: %v", err)
		}
	}

	return c.JSON(fiber.Map{
		"success":      true,
		"record_count": len(records),
		"last_refresh": h.Service.LastRefresh(),
	})
}

// ReloadOverrides re-reads the overrides file so edits take effect without a
// restart. A malformed file is rejected and the previous set stays active.
func (h *AdminHandler) ReloadOverrides(c *fiber.Ctx) error {
	if err := h.OverrideService.Load(); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"success":        true,
		"override_count": h.OverrideService.Count(),
	})
}

// GetMetrics reports reconciliation counters.
func (h *AdminHandler) GetMetrics(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    h.Service.Metrics().Snapshot(),
	})
}
