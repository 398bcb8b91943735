package billingcode

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/ledger/internal/platform/apperr"
	"github.com/clinic/ledger/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleReception))
	read.GET("/billing-codes", h.List)
	read.GET("/billing-codes/:id", h.Get)

	write := api.Group("", auth.RequireRole(auth.RoleBilling))
	write.POST("/billing-codes", h.Create)
	write.PATCH("/billing-codes/:id", h.Update)
}

func (h *Handler) Create(c echo.Context) error {
	actor, err := auth.RequireActor(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	bc, err := h.svc.Create(c.Request().Context(), actor, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, bc)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	bc, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, bc)
}

func (h *Handler) List(c echo.Context) error {
	f := Filter{Category: c.QueryParam("category")}
	if v := c.QueryParam("active_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid active_only")
		}
		f.ActiveOnly = b
	}
	codes, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if codes == nil {
		codes = []*BillingCode{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": codes})
}

func (h *Handler) Update(c echo.Context) error {
	actor, err := auth.RequireActor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var patch Patch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	bc, err := h.svc.Update(c.Request().Context(), actor, id, patch)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, bc)
}
