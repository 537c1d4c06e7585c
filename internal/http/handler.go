package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"go.ngs.io/basin-remap/internal/domain"
	"go.ngs.io/basin-remap/internal/usecase"
)

// RemapService is the part of usecase.Service the handlers use.
type RemapService interface {
	Table() (*usecase.TableResult, error)
	Run(ctx context.Context) (*usecase.RunReport, error)
	LastReport() *usecase.RunReport
}

// Handler handles HTTP requests for table inspection and runs.
type Handler struct {
	svc    RemapService
	logger *slog.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(svc RemapService, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// TableResponse describes the prepared remap table.
type TableResponse struct {
	domain.TableSummary
	SourceRows     int  `json:"source_rows"`
	SourceCols     int  `json:"source_cols"`
	Reused         bool `json:"reused"`
	FrameCorrected bool `json:"frame_corrected"`
}

// RowResponse is one table row. Placeholder rows have no source fields.
type RowResponse struct {
	TargetID    int64    `json:"target_id"`
	TargetOrder int      `json:"target_order"`
	TargetLat   float64  `json:"target_lat"`
	TargetLon   float64  `json:"target_lon"`
	SourceID    *int64   `json:"source_id"`
	SourceLat   *float64 `json:"source_lat"`
	SourceLon   *float64 `json:"source_lon"`
	Weight      *float64 `json:"weight"`
	Row         *int     `json:"row"`
	Col         *int     `json:"col"`
}

func newRowResponse(r domain.TableRow) RowResponse {
	resp := RowResponse{
		TargetID:    r.TargetID,
		TargetOrder: r.TargetOrder,
		TargetLat:   r.TargetLat,
		TargetLon:   r.TargetLon,
	}
	if r.IsPlaceholder() {
		return resp
	}
	resp.SourceID = &r.SourceID
	resp.SourceLat = &r.SourceLat
	resp.SourceLon = &r.SourceLon
	resp.Weight = &r.Weight
	resp.Row = &r.Row
	resp.Col = &r.Col
	return resp
}

// GetTable handles GET /v1/table.
func (h *Handler) GetTable(c *gin.Context) {
	result, err := h.svc.Table()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, TableResponse{
		TableSummary:   result.Table.Summary(),
		SourceRows:     result.Field.Rows(),
		SourceCols:     result.Field.Cols(),
		Reused:         result.Reused,
		FrameCorrected: result.FrameCorrected,
	})
}

// GetTarget handles GET /v1/table/targets/:id.
func (h *Handler) GetTarget(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid target id: %v", err)})
		return
	}
	result, err := h.svc.Table()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	rows := result.Table.RowsForTarget(id)
	if len(rows) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("target %d is not in the remap table", id)})
		return
	}
	response := make([]RowResponse, len(rows))
	for i, r := range rows {
		response[i] = newRowResponse(r)
	}
	c.JSON(http.StatusOK, gin.H{
		"target_id": id,
		"hash":      result.Table.Hash,
		"rows":      response,
		"count":     len(response),
	})
}

// CreateRun handles POST /v1/runs. The run completes before the response
// and is not cancelled when the client disconnects.
func (h *Handler) CreateRun(c *gin.Context) {
	report, err := h.svc.Run(context.WithoutCancel(c.Request.Context()))
	switch {
	case errors.Is(err, usecase.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, usecase.ErrNoTable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("run failed", "error", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetLastRun handles GET /v1/runs/last.
func (h *Handler) GetLastRun(c *gin.Context) {
	report := h.svc.LastReport()
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run has completed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	status := "ok"
	if _, err := h.svc.Table(); err != nil {
		status = "preparing"
	}
	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
