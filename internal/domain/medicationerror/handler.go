package medicationerror

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/pharmacy/internal/platform/auth"
	"github.com/ehr/pharmacy/pkg/daterange"
	"github.com/ehr/pharmacy/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/pharmacy/safety/errors")

	report := g.Group("", auth.RequireRole(auth.RolePharmacist, auth.RoleTechnician, auth.RolePrescriber, auth.RoleSafetyOfficer))
	report.POST("", h.Report)

	read := g.Group("", auth.RequireRole(auth.RolePharmacist, auth.RoleTechnician, auth.RoleSafetyOfficer))
	read.GET("", h.Search)
	read.GET("/open", h.ListOpen)
	read.GET("/statistics/summary", h.Statistics)
	read.GET("/statistics/trends", h.Trends)
	read.GET("/:id", h.Get)

	manage := g.Group("", auth.RequireRole(auth.RolePharmacist, auth.RoleSafetyOfficer))
	manage.POST("/:id/corrective-action", h.AddCorrectiveAction)
	manage.POST("/:id/preventive-action", h.AddPreventiveAction)
	manage.POST("/:id/notify-patient", h.NotifyPatient)
	manage.POST("/:id/notify-prescriber", h.NotifyPrescriber)
	manage.POST("/:id/report-fda", h.ReportToFDA)
	manage.POST("/:id/report-ismp", h.ReportToISMP)
	manage.POST("/:id/status", h.UpdateStatus)
	manage.POST("/:id/close", h.Close)
}

func errorID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "medication error not found")
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) Report(c echo.Context) error {
	var e MedicationError
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Report(c.Request().Context(), &e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := errorID(c)
	if err != nil {
		return err
	}
	e, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Search(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for _, k := range []string{"type", "severity", "status", "patient", "drug"} {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	items, total, err := h.svc.Search(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) ListOpen(c echo.Context) error {
	items, err := h.svc.ListOpen(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*MedicationError{}
	}
	return c.JSON(http.StatusOK, items)
}

type actionRequest struct {
	Action          string `json:"action"`
	FDAReportNumber string `json:"fda_report_number"`
	FollowUpActions string `json:"follow_up_actions"`
	Status          string `json:"status"`
}

// action resolves :id, binds the optional body and applies fn.
func (h *Handler) action(c echo.Context, fn func(id uuid.UUID, req actionRequest) (*MedicationError, error)) error {
	id, err := errorID(c)
	if err != nil {
		return err
	}
	var req actionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := fn(id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) AddCorrectiveAction(c echo.Context) error {
	return h.action(c, func(id uuid.UUID, req actionRequest) (*MedicationError, error) {
		return h.svc.AddCorrectiveAction(c.Request().Context(), id, req.Action)
	})
}

func (h *Handler) AddPreventiveAction(c echo.Context) error {
	return h.action(c, func(id uuid.UUID, req actionRequest) (*MedicationError, error) {
		return h.svc.AddPreventiveAction(c.Request().Context(), id, req.Action)
	})
}

func (h *Handler) NotifyPatient(c echo.Context) error {
	return h.action(c, func(id uuid.UUID, _ actionRequest) (*MedicationError, error) {
		return h.svc.NotifyPatient(c.Request().Context(), id)
	})
}

func (h *Handler) NotifyPrescriber(c echo.Context) error {
	return h.action(c, func(id uuid.UUID, _ actionRequest) (*MedicationError, error) {
		return h.svc.NotifyPrescriber(c.Request().Context(), id)
	})
}

func (h *Handler) ReportToFDA(c echo.Context) error {
	return h.action(c, func(id uuid.UUID, req actionRequest) (*MedicationError, error) {
		return h.svc.ReportToFDA(c.Request().Context(), id, req.FDAReportNumber)
	})
}

func (h *Handler) ReportToISMP(c echo.Context) error {
	return h.action(c, func(id uuid.UUID, _ actionRequest) (*MedicationError, error) {
		return h.svc.ReportToISMP(c.Request().Context(), id)
	})
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	return h.action(c, func(id uuid.UUID, req actionRequest) (*MedicationError, error) {
		return h.svc.UpdateStatus(c.Request().Context(), id, req.Status)
	})
}

func (h *Handler) Close(c echo.Context) error {
	return h.action(c, func(id uuid.UUID, req actionRequest) (*MedicationError, error) {
		return h.svc.Close(c.Request().Context(), id, req.FollowUpActions)
	})
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

func (h *Handler) Trends(c echo.Context) error {
	months := 0
	if v := c.QueryParam("months"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "months must be a positive integer")
		}
		months = n
	}
	trends, err := h.svc.Trends(c.Request().Context(), months)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, trends)
}
