package pharmacy

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/pharmacy/internal/platform/auth"
	"github.com/ehr/pharmacy/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/pharmacy")

	read := g.Group("", auth.RequireRole(auth.RolePharmacist, auth.RoleTechnician, auth.RolePrescriber, auth.RoleSafetyOfficer))
	read.GET("/drugs", h.ListDrugs)
	read.GET("/drugs/:id", h.GetDrug)
	read.GET("/prescriptions", h.ListPrescriptions)
	read.GET("/prescriptions/:id", h.GetPrescription)

	pharm := g.Group("", auth.RequireRole(auth.RolePharmacist))
	pharm.POST("/drugs", h.CreateDrug)
	pharm.PUT("/drugs/:id", h.UpdateDrug)
	pharm.PATCH("/prescriptions/:id/status", h.UpdatePrescriptionStatus)

	write := g.Group("", auth.RequireRole(auth.RolePharmacist, auth.RolePrescriber))
	write.POST("/prescriptions", h.CreatePrescription)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func queryParams(c echo.Context, keys ...string) map[string]string {
	params := map[string]string{}
	for _, k := range keys {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	return params
}

func (h *Handler) CreateDrug(c echo.Context) error {
	var d Drug
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateDrug(c.Request().Context(), &d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDrug(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.GetDrug(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "drug not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) UpdateDrug(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var d Drug
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d.ID = id
	if err := h.svc.UpdateDrug(c.Request().Context(), &d); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "drug not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListDrugs(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := queryParams(c, "name", "brand", "route", "schedule", "active", "hazardous", "refrigerated")
	items, total, err := h.svc.SearchDrugs(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) CreatePrescription(c echo.Context) error {
	var p Prescription
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePrescription(c.Request().Context(), &p); err != nil {
		if errors.Is(err, ErrDuplicateNumber) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPrescription(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetPrescription(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPrescriptions(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := queryParams(c, "patient_id", "prescriber_id", "status", "number", "from", "to")
	items, total, err := h.svc.SearchPrescriptions(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) UpdatePrescriptionStatus(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.Status == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "status is required")
	}
	p, err := h.svc.UpdatePrescriptionStatus(c.Request().Context(), id, body.Status)
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}
