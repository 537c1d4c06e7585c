package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/basin-remap/internal/domain"
	"go.ngs.io/basin-remap/internal/usecase"
)

type fakeService struct {
	result *usecase.TableResult
	report *usecase.RunReport
	runErr error
	last   *usecase.RunReport
	runCtx context.Context
}

func (f *fakeService) Table() (*usecase.TableResult, error) {
	if f.result == nil {
		return nil, usecase.ErrNoTable
	}
	return f.result, nil
}

func (f *fakeService) Run(ctx context.Context) (*usecase.RunReport, error) {
	f.runCtx = ctx
	if f.runErr != nil {
		return nil, f.runErr
	}
	f.last = f.report
	return f.report, nil
}

func (f *fakeService) LastReport() *usecase.RunReport {
	return f.last
}

func sampleTable(t *testing.T) *usecase.TableResult {
	t.Helper()
	targets := []domain.TargetShape{{ID: 7, CentroidLat: 0.5, CentroidLon: 1}, {ID: 8, CentroidLat: 40, CentroidLon: 40}}
	require.NoError(t, domain.AssignOrders(targets))
	units := []domain.SourceUnit{
		{ID: 1, CentroidLat: 0.5, CentroidLon: 0.5, Row: 0, Col: 0},
		{ID: 2, CentroidLat: 0.5, CentroidLon: 1.5, Row: 0, Col: 1},
	}
	records := []domain.IntersectionRecord{
		{TargetOrder: 1, SourceID: 1, Weight: 0.5},
		{TargetOrder: 1, SourceID: 2, Weight: 0.5},
	}
	table, err := domain.NewRemapTable(domain.Regular, targets, units, records, []int{2}, true)
	require.NoError(t, err)
	return &usecase.TableResult{
		Table: table,
		Field: domain.CoordinateField{
			Topology: domain.Regular,
			Lat:      [][]float64{{0.5, 0.5}, {1.5, 1.5}},
			Lon:      [][]float64{{0.5, 1.5}, {0.5, 1.5}},
		},
	}
}

func newTestRouter(svc RemapService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return SetupRouter(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func do(t *testing.T, router *gin.Engine, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(&fakeService{})
	w, body := do(t, router, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "preparing", body["status"])

	router = newTestRouter(&fakeService{result: sampleTable(t)})
	_, body = do(t, router, http.MethodGet, "/health")
	assert.Equal(t, "ok", body["status"])
}

func TestGetTable(t *testing.T) {
	result := sampleTable(t)
	router := newTestRouter(&fakeService{result: result})

	w, body := do(t, router, http.MethodGet, "/v1/table")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "regular", body["topology_case"])
	assert.EqualValues(t, 3, body["rows"])
	assert.EqualValues(t, 2, body["targets"])
	assert.EqualValues(t, 1, body["uncovered_targets"])
	assert.Equal(t, result.Table.Hash, body["hash"])
	assert.EqualValues(t, 2, body["source_cols"])
}

func TestGetTable_NotPrepared(t *testing.T) {
	router := newTestRouter(&fakeService{})
	w, _ := do(t, router, http.MethodGet, "/v1/table")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetTarget(t *testing.T) {
	router := newTestRouter(&fakeService{result: sampleTable(t)})

	w, body := do(t, router, http.MethodGet, "/v1/table/targets/7")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["count"])
	rows := body["rows"].([]any)
	first := rows[0].(map[string]any)
	assert.EqualValues(t, 1, first["source_id"])
	assert.InDelta(t, 0.5, first["weight"], 1e-12)

	// Placeholder rows encode missing sources as null instead of NaN.
	w, body = do(t, router, http.MethodGet, "/v1/table/targets/8")
	require.Equal(t, http.StatusOK, w.Code)
	placeholder := body["rows"].([]any)[0].(map[string]any)
	assert.Nil(t, placeholder["source_id"])
	assert.Nil(t, placeholder["weight"])

	w, _ = do(t, router, http.MethodGet, "/v1/table/targets/99")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, router, http.MethodGet, "/v1/table/targets/abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRun(t *testing.T) {
	report := &usecase.RunReport{RunID: "run-1", Files: []usecase.FileReport{{Source: "a.nc", Steps: 2}}}
	svc := &fakeService{result: sampleTable(t), report: report}
	router := newTestRouter(svc)

	w, _ := do(t, router, http.MethodGet, "/v1/runs/last")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body := do(t, router, http.MethodPost, "/v1/runs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "run-1", body["run_id"])

	w, body = do(t, router, http.MethodGet, "/v1/runs/last")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "run-1", body["run_id"])
}

func TestCreateRun_ClientDisconnect(t *testing.T) {
	svc := &fakeService{result: sampleTable(t), report: &usecase.RunReport{RunID: "run-2"}}
	router := newTestRouter(svc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.runCtx)
	assert.NoError(t, svc.runCtx.Err())
}

func TestCreateRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"in progress", usecase.ErrRunInProgress, http.StatusConflict},
		{"no table", usecase.ErrNoTable, http.StatusServiceUnavailable},
		{"dimension mismatch", domain.ErrDimensionMismatch, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&fakeService{result: sampleTable(t), runErr: tt.err})
			w, body := do(t, router, http.MethodPost, "/v1/runs")
			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, body["error"], tt.err.Error())
		})
	}
}

func TestNewRowResponse_NoNaN(t *testing.T) {
	row := domain.TableRow{TargetID: 1, SourceID: domain.NoSource, Weight: math.NaN()}
	data, err := json.Marshal(newRowResponse(row))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"weight":null`)
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(&fakeService{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
