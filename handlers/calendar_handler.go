package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hkipo/hkex-ipo-backend/services"
)

type CalendarHandler struct {
	Service *services.ReconcileService
}

func NewCalendarHandler(service *services.ReconcileService) *CalendarHandler {
	return &CalendarHandler{Service: service}
}

// GetCalendar returns the full reconciled IPO calendar. Records are already
// sorted by listing date with undated entries last.
func (h *CalendarHandler) GetCalendar(c *fiber.Ctx) error {
	records := h.Service.GetCalendar(c.Context())

	status := c.Query("status", "")
	if status != "" {
		filtered := records[:0:0]
		for _, record := range records {
			if string(record.Status) == status {
				filtered = append(filtered, record)
			}
		}
		records = filtered
	}

	return c.JSON(fiber.Map{
		"success":      true,
		"data":         records,
		"last_refresh": h.Service.LastRefresh(),
	})
}

// GetCalendarByDate returns the events active on one day, date in YYYY-MM-DD.
func (h *CalendarHandler) GetCalendarByDate(c *fiber.Ctx) error {
	date, err := time.Parse("2006-01-02", c.Params("date"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid date, expected YYYY-MM-DD",
		})
	}

	events := h.Service.GetEvents(c.Context(), date)
	if len(events) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "no calendar events on this date",
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    events,
	})
}
