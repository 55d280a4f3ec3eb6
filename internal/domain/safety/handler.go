package safety

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/pharmacy/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/pharmacy/safety", auth.RequireRole(auth.RolePharmacist, auth.RoleSafetyOfficer, auth.RolePrescriber))
	g.POST("/validation/prescription/:prescriptionId", h.ValidatePrescription)
	g.GET("/rules", h.GetRules)
}

func (h *Handler) ValidatePrescription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("prescriptionId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid prescriptionId")
	}
	var factors PatientFactors
	if err := c.Bind(&factors); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Validate(c.Request().Context(), id, factors)
	if errors.Is(err, ErrInvalidFactors) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetRules(c echo.Context) error {
	return c.JSON(http.StatusOK, struct {
		Categories []string `json:"categories"`
		CatalogView
	}{Categories(), h.svc.Catalog().View()})
}
