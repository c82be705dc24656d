package devicelink

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/devicevendor"
	"github.com/telecare/telecare/pkg/apiresp"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/device-link")
	g.GET("/authorize", h.BeginAuthorization)
	g.POST("/callback", h.HandleCallback)
	g.GET("/status", h.Status)
	g.POST("/subscribe", h.Subscribe)
	g.DELETE("", h.Unlink)
}

// BeginAuthorization starts the OAuth round trip. With ?relink=true any
// existing credential is revoked first. The caller must hold on to the
// returned state until the callback.
func (h *Handler) BeginAuthorization(c echo.Context) error {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, apiresp.Err("not authenticated"))
	}

	forceRelink := c.QueryParam("relink") == "true"
	authURL, state, err := h.svc.BeginAuthorization(c.Request().Context(), userID, forceRelink)
	if err != nil {
		return respondLinkError(c, err)
	}
	return c.JSON(http.StatusOK, apiresp.Envelope{
		Success: true,
		AuthURL: authURL,
		State:   state,
	})
}

type callbackRequest struct {
	Code          string `json:"code"`
	State         string `json:"state"`
	ExpectedState string `json:"expected_state"`
	Error         string `json:"error"`
}

// HandleCallback completes the OAuth round trip after the user consented at
// the vendor.
func (h *Handler) HandleCallback(c echo.Context) error {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, apiresp.Err("not authenticated"))
	}

	var req callbackRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, apiresp.Err("invalid request body"))
	}

	warning, err := h.svc.HandleCallback(c.Request().Context(), userID, CallbackParams{
		Code:          req.Code,
		State:         req.State,
		ExpectedState: req.ExpectedState,
		VendorError:   req.Error,
	})
	if err != nil {
		return respondLinkError(c, err)
	}
	return c.JSON(http.StatusOK, apiresp.Envelope{Success: true, Warning: warning})
}

func (h *Handler) Status(c echo.Context) error {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, apiresp.Err("not authenticated"))
	}

	status, err := h.svc.Status(c.Request().Context(), userID)
	if err != nil {
		return respondLinkError(c, err)
	}
	env := apiresp.OK(status)
	env.NeedsConnection = !status.Connected
	return c.JSON(http.StatusOK, env)
}

func (h *Handler) Subscribe(c echo.Context) error {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, apiresp.Err("not authenticated"))
	}

	already, err := h.svc.SubscribeWebhook(c.Request().Context(), userID)
	if err != nil {
		return respondLinkError(c, err)
	}
	return c.JSON(http.StatusOK, apiresp.Envelope{
		Success:           true,
		AlreadySubscribed: already,
	})
}

func (h *Handler) Unlink(c echo.Context) error {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, apiresp.Err("not authenticated"))
	}

	if err := h.svc.Unlink(c.Request().Context(), userID); err != nil {
		return respondLinkError(c, err)
	}
	return c.JSON(http.StatusOK, apiresp.Envelope{Success: true})
}

// respondLinkError maps the error taxonomy onto HTTP responses. The "not
// connected" and "needs reconnect" cases are 200s with machine-readable
// hints: they are expected UI states, not request failures.
func respondLinkError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrNotConnected):
		env := apiresp.Err(err.Error())
		env.NeedsConnection = true
		return c.JSON(http.StatusOK, env)
	case errors.Is(err, ErrNeedsReconnect):
		env := apiresp.Err(err.Error())
		env.NeedsReconnect = true
		return c.JSON(http.StatusOK, env)
	case errors.Is(err, ErrStateMismatch):
		return c.JSON(http.StatusForbidden, apiresp.Err(err.Error()))
	case errors.Is(err, ErrMissingParam):
		return c.JSON(http.StatusBadRequest, apiresp.Err(err.Error()))
	}

	var apiErr *devicevendor.APIError
	if errors.As(err, &apiErr) {
		env := apiresp.Err(err.Error())
		env.VendorStatus = apiErr.Status
		return c.JSON(http.StatusBadGateway, env)
	}
	return c.JSON(http.StatusInternalServerError, apiresp.Err(err.Error()))
}
