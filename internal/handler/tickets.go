package handler

import (
    "net/http" // HTTP status codes

    "github.com/labstack/echo/v4" // Echo web framework

    "github.com/iliyamo/ticket-rush/internal/middleware"
    "github.com/iliyamo/ticket-rush/internal/repository"
)

// TicketHandler serves the buyer's ticket wallet.
type TicketHandler struct {
    TicketRepo *repository.TicketRepo
}

// NewTicketHandler constructs a TicketHandler.
func NewTicketHandler(ticketRepo *repository.TicketRepo) *TicketHandler {
    if ticketRepo == nil {
        panic("nil repository passed to NewTicketHandler")
    }
    return &TicketHandler{TicketRepo: ticketRepo}
}

// ListMine handles GET /me/tickets.  Each ticket carries its code and QR
// signature; gate-side validators re-derive the signature from the
// scanned fields, so this listing is all a buyer needs to enter.
func (h *TicketHandler) ListMine(c echo.Context) error {
    user := middleware.UserID(c)
    tickets, err := h.TicketRepo.ListByUser(c.Request().Context(), user)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"tickets": tickets})
}
