package settings

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/obhistory/internal/platform/auth"
)

type Handler struct {
	sections *HistorySectionService
}

func NewHandler(sections *HistorySectionService) *Handler {
	return &Handler{sections: sections}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/settings", auth.RequireRole("admin", "physician", "nurse", "midwife"))
	g.GET("/history-sections", h.GetHistorySections)
	g.PUT("/history-sections", h.UpdateHistorySections)
}

func userID(c echo.Context) (string, error) {
	uid := auth.UserIDFromContext(c.Request().Context())
	if uid == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "no user in request")
	}
	return uid, nil
}

func (h *Handler) GetHistorySections(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	sections, err := h.sections.Get(c.Request().Context(), uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
	return c.JSON(http.StatusOK, sections)
}

func (h *Handler) UpdateHistorySections(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	var update map[string]bool
	if err := c.Bind(&update); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sections, err := h.sections.Update(c.Request().Context(), uid, update)
	if err != nil {
		var unknown *UnknownSectionError
		if errors.As(err, &unknown) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
	return c.JSON(http.StatusOK, sections)
}
