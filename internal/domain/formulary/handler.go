package formulary

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/pharmacy/internal/domain/pharmacy"
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
	g := api.Group("/pharmacy/formulary")

	read := g.Group("", auth.RequireRole(auth.RolePharmacist, auth.RoleTechnician, auth.RolePrescriber))
	read.GET("", h.List)
	read.GET("/plan/:plan", h.ByPlan)
	read.GET("/tier/:tier", h.ByTier)
	read.GET("/coverage/:drugId/:plan", h.CheckCoverage)
	read.GET("/alternatives/:drugId/:plan", h.Alternatives)
	read.POST("/cost-calculation", h.CalculateCost)
	read.GET("/:id", h.Get)

	write := g.Group("", auth.RequireRole(auth.RolePharmacist))
	write.POST("", h.Create)
	write.PUT("/:id", h.Update)
	write.DELETE("/:id", h.Remove)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// writeError maps service errors for create and update.
func writeError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "formulary entry not found")
	case errors.Is(err, pharmacy.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "drug not found")
	case errors.Is(err, ErrDuplicate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func (h *Handler) Create(c echo.Context) error {
	var e Entry
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &e); err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	e, err := h.svc.Get(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "formulary entry not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var e Entry
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e.ID = id
	if err := h.svc.Update(c.Request().Context(), &e); err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Remove(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Remove(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "formulary entry not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func emptyIfNil(items []*Entry) []*Entry {
	if items == nil {
		return []*Entry{}
	}
	return items
}

func (h *Handler) ByPlan(c echo.Context) error {
	items, err := h.svc.ByPlan(c.Request().Context(), c.Param("plan"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, emptyIfNil(items))
}

func (h *Handler) ByTier(c echo.Context) error {
	tier := c.Param("tier")
	if !validTiers[tier] {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid tier: "+tier)
	}
	items, err := h.svc.ByTier(c.Request().Context(), tier)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, emptyIfNil(items))
}

func (h *Handler) CheckCoverage(c echo.Context) error {
	drugID, err := parseID(c, "drugId")
	if err != nil {
		return err
	}
	cov, err := h.svc.CheckCoverage(c.Request().Context(), drugID, c.Param("plan"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, cov)
}

func (h *Handler) CalculateCost(c echo.Context) error {
	var req CostRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cost, err := h.svc.CalculateCost(c.Request().Context(), &req)
	if err != nil {
		if errors.Is(err, pharmacy.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "drug not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, cost)
}

func (h *Handler) Alternatives(c echo.Context) error {
	drugID, err := parseID(c, "drugId")
	if err != nil {
		return err
	}
	items, err := h.svc.Alternatives(c.Request().Context(), drugID, c.Param("plan"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, emptyIfNil(items))
}
