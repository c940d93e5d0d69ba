package qc

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/his/lis/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/qc/lots", h.CreateLot)
	api.GET("/qc/lots", h.ListLots)
	api.GET("/qc/lots/:id", h.GetLot)
	api.POST("/qc/lots/:id/results", h.RunQC)
	api.GET("/qc/lots/:id/results", h.ListResults)
	api.GET("/qc/lots/:id/chart", h.Chart)
	api.GET("/qc/lots/:id/chart.xlsx", h.ChartXLSX)
}

func (h *Handler) CreateLot(c echo.Context) error {
	var lot QCLot
	if err := c.Bind(&lot); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateLot(c.Request().Context(), &lot); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, lot)
}

func (h *Handler) ListLots(c echo.Context) error {
	pg := pagination.FromContext(c)
	var analyzerID *uuid.UUID
	if raw := c.QueryParam("analyzer_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid analyzer_id")
		}
		analyzerID = &id
	}
	activeOnly := c.QueryParam("active") == "true"

	lots, total, err := h.svc.ListLots(c.Request().Context(), analyzerID, activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(lots, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetLot(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	lot, err := h.svc.GetLot(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, lot)
}

func (h *Handler) RunQC(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Value float64    `json:"value"`
		RunAt *time.Time `json:"run_at"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	runAt := time.Time{}
	if body.RunAt != nil {
		runAt = *body.RunAt
	}
	res, err := h.svc.RunQC(c.Request().Context(), id, body.Value, runAt)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListResults(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	results, err := h.svc.ListResults(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, results)
}

func (h *Handler) Chart(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	chart, err := h.svc.LeveyJennings(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, chart)
}

func (h *Handler) ChartXLSX(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	data, err := h.svc.ExportLeveyJennings(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="levey-jennings-%s.xlsx"`, id))
	return c.Blob(http.StatusOK,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}
