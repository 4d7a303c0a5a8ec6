package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gongplan/gong-api/internal/dto"
	"github.com/gongplan/gong-api/internal/models"
	"github.com/gongplan/gong-api/internal/service"
	appErrors "github.com/gongplan/gong-api/pkg/errors"
)

type planServiceMock struct {
	plan    *models.Plan
	err     error
	added   dto.AddLineRequest
	deleted string
}

func (m *planServiceMock) Draft(ctx context.Context, center string) (*models.Plan, error) {
	return m.plan, m.err
}

func (m *planServiceMock) Refresh(ctx context.Context, center, user string) (*models.Plan, error) {
	return m.plan, m.err
}

func (m *planServiceMock) AddLine(ctx context.Context, center, user string, req dto.AddLineRequest) (*models.Plan, error) {
	m.added = req
	return m.plan, m.err
}

func (m *planServiceMock) DeleteLine(ctx context.Context, center, user, lineID string) (*models.Plan, error) {
	m.deleted = lineID
	return m.plan, m.err
}

type exporterMock struct {
	result   *service.ExportResult
	err      error
	filePath string
}

func (m *exporterMock) Export(ctx context.Context, center, user, format string) (*service.ExportResult, error) {
	return m.result, m.err
}

func (m *exporterMock) Download(token string) (*os.File, string, error) {
	if m.err != nil {
		return nil, "", m.err
	}
	file, err := os.Open(m.filePath)
	if err != nil {
		return nil, "", err
	}
	return file, filepath.Base(m.filePath), nil
}

func draftPlan() *models.Plan {
	return &models.Plan{
		Center: "Mahi",
		Entries: []models.PeriodEntry{
			{ID: "l1", StartDate: models.MustParseDate("2025-01-08"), PeriodType: "10-DAY", Source: models.SourceBoth, Check: "GAP of 3"},
			{ID: "l2", StartDate: models.MustParseDate("2025-01-22"), PeriodType: "Trust WE", Source: models.SourceExternal, Check: models.CheckOK},
		},
	}
}

func TestPlanHandlerGet(t *testing.T) {
	h := NewPlanHandler(&planServiceMock{plan: draftPlan()}, nil)
	c, w := newGinContext(http.MethodGet, "/centers/Mahi/plan", nil)
	h.Get(c)

	require.Equal(t, http.StatusOK, w.Code)
	env := decode(t, w)
	assert.EqualValues(t, 2, env.Meta["lines"])
	assert.EqualValues(t, 1, env.Meta["flagged"])
}

func TestPlanHandlerRefreshFetchFailure(t *testing.T) {
	failure := appErrors.Wrap(errors.New("timeout"), appErrors.ErrFetchFailure.Code, appErrors.ErrFetchFailure.Status, "failed to fetch courses")
	h := NewPlanHandler(&planServiceMock{err: failure}, nil)
	c, w := newGinContext(http.MethodPost, "/centers/Mahi/plan/refresh", nil)
	asPlanner(c, "a@example.org")
	h.Refresh(c)

	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Equal(t, appErrors.ErrFetchFailure.Code, decode(t, w).Error.Code)
}

func TestPlanHandlerAddLine(t *testing.T) {
	mock := &planServiceMock{plan: draftPlan()}
	h := NewPlanHandler(mock, nil)

	payload, _ := json.Marshal(dto.AddLineRequest{PeriodType: "SERVICE", StartDate: "2025-01-19"})
	c, w := newGinContext(http.MethodPost, "/centers/Mahi/plan/lines", payload)
	asPlanner(c, "a@example.org")
	h.AddLine(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "SERVICE", mock.added.PeriodType)

	c, w = newGinContext(http.MethodPost, "/centers/Mahi/plan/lines", []byte("{"))
	asPlanner(c, "a@example.org")
	h.AddLine(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlanHandlerDeleteLine(t *testing.T) {
	mock := &planServiceMock{plan: draftPlan()}
	h := NewPlanHandler(mock, nil)

	c, w := newGinContext(http.MethodDelete, "/centers/Mahi/plan/lines/l1", nil)
	c.Params = append(c.Params, ginParam("lineId", "l1"))
	asPlanner(c, "a@example.org")
	h.DeleteLine(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "l1", mock.deleted)

	mock.err = appErrors.Clone(appErrors.ErrLineNotFound, "plan line l9 not found")
	c, w = newGinContext(http.MethodDelete, "/centers/Mahi/plan/lines/l9", nil)
	c.Params = append(c.Params, ginParam("lineId", "l9"))
	asPlanner(c, "a@example.org")
	h.DeleteLine(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, appErrors.ErrLineNotFound.Code, decode(t, w).Error.Code)
}

func TestPlanHandlerExport(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC()
	exports := &exporterMock{result: &service.ExportResult{URL: "/api/v1/exports/download?token=abc", Format: "csv", ExpiresAt: expires}}
	h := NewPlanHandler(&planServiceMock{}, exports)

	payload, _ := json.Marshal(dto.ExportRequest{Format: "csv"})
	c, w := newGinContext(http.MethodPost, "/centers/Mahi/plan/export", payload)
	asPlanner(c, "a@example.org")
	h.Export(c)
	require.Equal(t, http.StatusCreated, w.Code)
	var resp dto.ExportResponse
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &resp))
	assert.Equal(t, "/api/v1/exports/download?token=abc", resp.URL)

	payload, _ = json.Marshal(dto.ExportRequest{Format: "xlsx"})
	c, w = newGinContext(http.MethodPost, "/centers/Mahi/plan/export", payload)
	asPlanner(c, "a@example.org")
	h.Export(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlanHandlerDownload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan_mahi.csv")
	require.NoError(t, os.WriteFile(path, []byte("Start;End\n"), 0o644))
	h := NewPlanHandler(&planServiceMock{}, &exporterMock{filePath: path})

	c, w := newGinContext(http.MethodGet, "/exports/download?token=abc", nil)
	h.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "plan_mahi.csv")
	assert.Equal(t, "Start;End\n", w.Body.String())

	c, w = newGinContext(http.MethodGet, "/exports/download", nil)
	h.Download(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	h = NewPlanHandler(&planServiceMock{}, &exporterMock{err: appErrors.Clone(appErrors.ErrUnauthorized, "download link expired")})
	c, w = newGinContext(http.MethodGet, "/exports/download?token=old", nil)
	h.Download(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
