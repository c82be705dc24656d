package measurement

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/domain/devicelink"
	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/devicevendor"
	"github.com/telecare/telecare/pkg/apiresp"
	"github.com/telecare/telecare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/measurements/fetch", h.Fetch)
	api.GET("/measurements", h.List)
}

type fetchRequest struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Fetch pulls and ingests the caller's measurements from the vendor. Start
// and end are unix seconds; both optional (defaults to the last 7 days).
func (h *Handler) Fetch(c echo.Context) error {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, apiresp.Err("not authenticated"))
	}

	var req fetchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, apiresp.Err("invalid request body"))
	}
	var start, end time.Time
	if req.Start > 0 {
		start = time.Unix(req.Start, 0).UTC()
	}
	if req.End > 0 {
		end = time.Unix(req.End, 0).UTC()
	}

	ingested, err := h.svc.Fetch(c.Request().Context(), userID, start, end)
	if err != nil {
		return respondFetchError(c, err)
	}
	return c.JSON(http.StatusOK, apiresp.OK(ingested))
}

func (h *Handler) List(c echo.Context) error {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, apiresp.Err("not authenticated"))
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), userID, pg.Limit, pg.Offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, apiresp.Err(err.Error()))
	}
	return c.JSON(http.StatusOK, apiresp.OK(pagination.NewResponse(items, total, pg.Limit, pg.Offset)))
}

func respondFetchError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, devicelink.ErrNotConnected):
		env := apiresp.Err(err.Error())
		env.NeedsConnection = true
		return c.JSON(http.StatusOK, env)
	case errors.Is(err, devicelink.ErrNeedsReconnect):
		env := apiresp.Err(err.Error())
		env.NeedsReconnect = true
		return c.JSON(http.StatusOK, env)
	}

	var apiErr *devicevendor.APIError
	if errors.As(err, &apiErr) {
		env := apiresp.Err(err.Error())
		env.VendorStatus = apiErr.Status
		return c.JSON(http.StatusBadGateway, env)
	}
	return c.JSON(http.StatusInternalServerError, apiresp.Err(err.Error()))
}
