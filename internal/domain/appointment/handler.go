package appointment

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/ledger/internal/platform/apperr"
	"github.com/clinic/ledger/internal/platform/auth"
)

type Handler struct {
	tracker   *Tracker
	converter *Converter
}

func NewHandler(tracker *Tracker, converter *Converter) *Handler {
	return &Handler{tracker: tracker, converter: converter}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	items := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleReception))
	items.GET("/appointments/:id/billing-items", h.ListItems)
	items.POST("/appointments/:id/billing-items", h.CreateItem)

	billing := api.Group("", auth.RequireRole(auth.RoleBilling))
	billing.POST("/appointments/:id/invoice", h.GenerateInvoice)
}

func appointmentID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	return id, nil
}

func (h *Handler) CreateItem(c echo.Context) error {
	actor, err := auth.RequireActor(c)
	if err != nil {
		return err
	}
	id, err := appointmentID(c)
	if err != nil {
		return err
	}
	var in CreateItemInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	it, err := h.tracker.CreateItem(c.Request().Context(), actor, id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, it)
}

func (h *Handler) ListItems(c echo.Context) error {
	id, err := appointmentID(c)
	if err != nil {
		return err
	}
	items, err := h.tracker.ListItems(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*BillingItem{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":           items,
		"unbilled_total": UnbilledTotal(items),
	})
}

func (h *Handler) GenerateInvoice(c echo.Context) error {
	actor, err := auth.RequireActor(c)
	if err != nil {
		return err
	}
	id, err := appointmentID(c)
	if err != nil {
		return err
	}
	det, err := h.converter.GenerateInvoiceFromAppointment(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, det)
}
