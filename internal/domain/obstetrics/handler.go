package obstetrics

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/obhistory/internal/platform/auth"
	"github.com/ehr/obhistory/pkg/pagination"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – admin, physician, nurse, midwife
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse", "midwife"))
	readGroup.GET("/cases", h.ListCases)
	readGroup.GET("/cases/:id", h.GetCase)
	readGroup.GET("/cases/:id/pregnancies", h.ListRecords)
	readGroup.GET("/cases/:id/pregnancies/:recordId", h.GetRecord)
	readGroup.GET("/cases/:id/obstetric-summary", h.GetSummary)
	readGroup.GET("/cases/:id/obstetric-history.xlsx", h.ExportHistory)
	readGroup.GET("/calculators/gestational-age", h.CalculateGestationalAge)
	readGroup.GET("/calculators/edd", h.CalculateEDD)
	readGroup.POST("/calculators/gtpal", h.CalculateGTPAL)

	// Write endpoints – admin, physician, midwife
	writeGroup := api.Group("", auth.RequireRole("admin", "physician", "midwife"))
	writeGroup.POST("/cases", h.CreateCase)
	writeGroup.DELETE("/cases/:id", h.DeleteCase)
	writeGroup.POST("/cases/:id/pregnancies", h.AddRecord)
	writeGroup.DELETE("/cases/:id/pregnancies/:recordId", h.RemoveRecord)
}

// httpError maps domain errors onto HTTP statuses.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateActivePregnancy):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidDate), errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func parseAsOf(c echo.Context) (*time.Time, error) {
	raw := c.QueryParam("as_of")
	if raw == "" {
		return nil, nil
	}
	d, err := ParseDate(raw)
	if err != nil {
		return nil, httpError(err)
	}
	return &d.Time, nil
}

// -- Case Handlers --

func (h *Handler) CreateCase(c echo.Context) error {
	var req CreateCaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	pc, err := req.toCase()
	if err != nil {
		return httpError(err)
	}
	if err := h.svc.CreateCase(c.Request().Context(), pc); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, pc)
}

func (h *Handler) GetCase(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	pc, err := h.svc.GetCase(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pc)
}

func (h *Handler) ListCases(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListCases(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) DeleteCase(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteCase(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Pregnancy Record Handlers --

func (h *Handler) AddRecord(c echo.Context) error {
	caseID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req PregnancyRecordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	rec, err := req.toRecord(caseID)
	if err != nil {
		return httpError(err)
	}
	if _, err := h.svc.AddRecord(c.Request().Context(), rec); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) GetRecord(c echo.Context) error {
	caseID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	recordID, err := parseID(c, "recordId")
	if err != nil {
		return err
	}
	rec, err := h.svc.GetRecord(c.Request().Context(), caseID, recordID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListRecords(c echo.Context) error {
	caseID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	records, err := h.svc.ListRecords(c.Request().Context(), caseID)
	if err != nil {
		return httpError(err)
	}
	if records == nil {
		records = []*PregnancyRecord{}
	}
	return c.JSON(http.StatusOK, records)
}

func (h *Handler) RemoveRecord(c echo.Context) error {
	caseID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	recordID, err := parseID(c, "recordId")
	if err != nil {
		return err
	}
	if err := h.svc.RemoveRecord(c.Request().Context(), caseID, recordID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Summary & Export --

func (h *Handler) GetSummary(c echo.Context) error {
	caseID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	asOf, err := parseAsOf(c)
	if err != nil {
		return err
	}
	summary, err := h.svc.Summary(c.Request().Context(), caseID, asOf)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) ExportHistory(c echo.Context) error {
	caseID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	asOf, err := parseAsOf(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	pc, err := h.svc.GetCase(ctx, caseID)
	if err != nil {
		return httpError(err)
	}
	records, err := h.svc.ListRecords(ctx, caseID)
	if err != nil {
		return httpError(err)
	}
	summary, err := h.svc.Summary(ctx, caseID, asOf)
	if err != nil {
		return httpError(err)
	}

	return sendAttachment(c, xlsxContentType, fmt.Sprintf("obstetric-history-%s.xlsx", caseID),
		func(w io.Writer) error {
			return WriteHistoryWorkbook(w, pc, records, summary)
		})
}

// sendAttachment renders into memory first so a failed render still yields
// an error response instead of a truncated 200.
func sendAttachment(c echo.Context, contentType, filename string, render func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return httpError(fmt.Errorf("render %s: %w", filename, err))
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	return c.Blob(http.StatusOK, contentType, buf.Bytes())
}

// -- Stateless Calculators --

func (h *Handler) CalculateGestationalAge(c echo.Context) error {
	lmp := c.QueryParam("lmp")
	if lmp == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "lmp is required")
	}
	asOf := c.QueryParam("as_of")
	if asOf == "" {
		asOf = h.svc.Today().String()
	}
	ga, err := GestationalAgeFromString(lmp, asOf)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, GestationalAgeResponse{
		LMPDate: lmp,
		AsOf:    asOf,
		Weeks:   ga.Weeks,
		Days:    ga.Days,
		Display: ga.String(),
	})
}

func (h *Handler) CalculateEDD(c echo.Context) error {
	lmp := c.QueryParam("lmp")
	if lmp == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "lmp is required")
	}
	edd, err := EDDFromString(lmp)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, EDDResponse{LMPDate: lmp, EDD: edd})
}

func (h *Handler) CalculateGTPAL(c echo.Context) error {
	var req GTPALRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	records := make([]*PregnancyRecord, 0, len(req.Records))
	for i := range req.Records {
		rec, err := req.Records[i].toRecord(uuid.Nil)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("records[%d]: %v", i, err))
		}
		records = append(records, rec)
	}
	return c.JSON(http.StatusOK, h.svc.Score(records))
}
