package refill

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/pharmacy/internal/domain/pharmacy"
	"github.com/ehr/pharmacy/internal/platform/auth"
	"github.com/ehr/pharmacy/pkg/daterange"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/pharmacy/refills")

	read := g.Group("", auth.RequireRole(auth.RolePharmacist, auth.RoleTechnician, auth.RolePrescriber))
	read.GET("/eligibility/:prescriptionId", h.CheckEligibility)
	read.GET("/patient/:patientId/refillable", h.Refillable)
	read.GET("/prescription/:prescriptionId/history", h.History)
	read.GET("/patient/:patientId/history", h.PatientHistory)
	read.GET("/statistics", h.Statistics)

	write := g.Group("", auth.RequireRole(auth.RolePharmacist))
	write.POST("", h.CreateRefill)
}

func prescriptionID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("prescriptionId"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid prescriptionId")
	}
	return id, nil
}

func (h *Handler) CreateRefill(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.CreateRefill(c.Request().Context(), &req)
	switch {
	case errors.Is(err, pharmacy.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
	case errors.Is(err, ErrIneligible), errors.Is(err, pharmacy.ErrDuplicateNumber):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) CheckEligibility(c echo.Context) error {
	id, err := prescriptionID(c)
	if err != nil {
		return err
	}
	el, err := h.svc.CheckEligibility(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, el)
}

func (h *Handler) Refillable(c echo.Context) error {
	items, err := h.svc.Refillable(c.Request().Context(), c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) History(c echo.Context) error {
	id, err := prescriptionID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Refill{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) PatientHistory(c echo.Context) error {
	items, err := h.svc.PatientHistory(c.Request().Context(), c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Refill{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Statistics(c echo.Context) error {
	r, err := daterange.FromQuery(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st, err := h.svc.Statistics(c.Request().Context(), r)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, st)
}
