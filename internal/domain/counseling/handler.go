package counseling

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/pharmacy/internal/domain/pharmacy"
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
	g := api.Group("/pharmacy/safety/counseling")

	read := g.Group("", auth.RequireRole(auth.RolePharmacist, auth.RoleTechnician, auth.RoleSafetyOfficer))
	read.GET("/patient/:patientId", h.HistoryByPatient)
	read.GET("/prescription/:prescriptionId", h.ByPrescription)
	read.GET("/prescription/:prescriptionId/required-topics", h.RequiredTopics)
	read.GET("/prescription/:prescriptionId/validation", h.ValidateCompletion)
	read.GET("/statistics", h.Statistics)

	write := g.Group("", auth.RequireRole(auth.RolePharmacist))
	write.POST("", h.LogSession)
}

func prescriptionID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("prescriptionId"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid prescriptionId")
	}
	return id, nil
}

func notFoundOr500(err error) error {
	if errors.Is(err, pharmacy.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) LogSession(c echo.Context) error {
	var sess Session
	if err := c.Bind(&sess); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.LogSession(c.Request().Context(), &sess); err != nil {
		if errors.Is(err, pharmacy.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, sess)
}

func (h *Handler) HistoryByPatient(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.HistoryByPatient(c.Request().Context(), c.Param("patientId"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) ByPrescription(c echo.Context) error {
	id, err := prescriptionID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ByPrescription(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Session{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) RequiredTopics(c echo.Context) error {
	id, err := prescriptionID(c)
	if err != nil {
		return err
	}
	topics, err := h.svc.RequiredTopics(c.Request().Context(), id)
	if err != nil {
		return notFoundOr500(err)
	}
	return c.JSON(http.StatusOK, topics)
}

func (h *Handler) ValidateCompletion(c echo.Context) error {
	id, err := prescriptionID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.ValidateCompletion(c.Request().Context(), id)
	if err != nil {
		return notFoundOr500(err)
	}
	return c.JSON(http.StatusOK, res)
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
