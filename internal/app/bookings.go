package app

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"appointment-chat/internal/auth"
	"appointment-chat/internal/scheduling"
)

type bookingRequest struct {
	Date string `json:"date"`
	Slot string `json:"slot"`
}

var statusByOutcome = map[scheduling.Outcome]int{
	scheduling.Confirmed:          http.StatusCreated,
	scheduling.AlreadyBooked:      http.StatusConflict,
	scheduling.OutsideWindow:      http.StatusBadRequest,
	scheduling.LunchExcluded:      http.StatusBadRequest,
	scheduling.StorageUnavailable: http.StatusServiceUnavailable,
}

// GET /api/slots?date=YYYY-MM-DD
func (a *App) GetSlotsHandler(c *gin.Context) {
	date, err := scheduling.ParseDate(c.Query("date"))
	if err != nil {
		a.badRequest(c, "invalid_date")
		return
	}
	free, err := a.Booking.AvailableSlots(c.Request.Context(), date)
	if err != nil {
		a.writeError(c, err)
		return
	}
	resp := gin.H{"date": scheduling.FormatDate(date), "slots": free, "count": len(free)}
	if len(free) == 0 {
		resp["message"] = "No available slots for the selected date."
	}
	c.JSON(http.StatusOK, resp)
}

// POST /api/bookings
func (a *App) CreateBookingHandler(c *gin.Context) {
	var req bookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, "invalid_body")
		return
	}
	date, err := scheduling.ParseDate(req.Date)
	if err != nil {
		a.badRequest(c, "invalid_date")
		return
	}
	slot, err := scheduling.ParseTimeOfDay(req.Slot)
	if err != nil {
		a.badRequest(c, "invalid_slot")
		return
	}

	out, st, err := a.Sessions.Reserve(c.Request.Context(), auth.Handle(c), date, slot)
	if out == 0 {
		a.writeError(c, err)
		return
	}
	if err != nil {
		a.Log.Warn("reserve degraded", "outcome", out, "error", err)
	}
	status, ok := statusByOutcome[out]
	if !ok {
		status = http.StatusInternalServerError
	}
	resp := gin.H{
		"outcome": out,
		"message": out.Message(),
		"date":    scheduling.FormatDate(date),
		"slot":    slot,
	}
	if st != nil {
		resp["session"] = viewOf(st)
	}
	if out != scheduling.Confirmed {
		resp["error"] = out.String()
	}
	c.JSON(status, resp)
}

// GET /api/bookings
func (a *App) ListBookingsHandler(c *gin.Context) {
	out, err := a.Booking.BookingsFor(c.Request.Context(), auth.Handle(c))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": out, "count": len(out)})
}

// POST /api/booking/cancel
func (a *App) CancelBookingHandler(c *gin.Context) {
	st, err := a.Sessions.CancelBooking(c.Request.Context(), auth.Handle(c))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(st))
}
