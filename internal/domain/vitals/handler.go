package vitals

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/pkg/apiresp"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/vitals", h.Latest)
}

// Latest serves the live vitals projection: the newest reading per device
// type, without rescanning measurement history.
func (h *Handler) Latest(c echo.Context) error {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, apiresp.Err("not authenticated"))
	}

	entries, err := h.svc.Latest(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, apiresp.Err(err.Error()))
	}
	return c.JSON(http.StatusOK, apiresp.OK(entries))
}
