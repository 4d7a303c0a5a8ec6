package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/gongplan/gong-api/internal/dto"
	"github.com/gongplan/gong-api/internal/models"
	"github.com/gongplan/gong-api/internal/service"
	appErrors "github.com/gongplan/gong-api/pkg/errors"
	"github.com/gongplan/gong-api/pkg/response"
)

type planService interface {
	Draft(ctx context.Context, center string) (*models.Plan, error)
	Refresh(ctx context.Context, center, user string) (*models.Plan, error)
	AddLine(ctx context.Context, center, user string, req dto.AddLineRequest) (*models.Plan, error)
	DeleteLine(ctx context.Context, center, user, lineID string) (*models.Plan, error)
}

type planExporter interface {
	Export(ctx context.Context, center, user, format string) (*service.ExportResult, error)
	Download(token string) (*os.File, string, error)
}

// PlanHandler exposes the draft plan of a center.
type PlanHandler struct {
	plans     planService
	exports   planExporter
	validator *validator.Validate
}

// NewPlanHandler constructs handler.
func NewPlanHandler(plans planService, exports planExporter) *PlanHandler {
	return &PlanHandler{plans: plans, exports: exports, validator: validator.New()}
}

// Get godoc
// @Summary Current draft plan
// @Tags Plan
// @Produce json
// @Security BearerAuth
// @Param name path string true "Center name"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /centers/{name}/plan [get]
func (h *PlanHandler) Get(c *gin.Context) {
	plan, err := h.plans.Draft(c.Request.Context(), c.Param("name"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plan, planMeta(plan))
}

// Refresh godoc
// @Summary Reconcile the local schedule with the published courses
// @Tags Plan
// @Produce json
// @Security BearerAuth
// @Param name path string true "Center name"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /centers/{name}/plan/refresh [post]
func (h *PlanHandler) Refresh(c *gin.Context) {
	user, ok := currentEditor(c)
	if !ok {
		return
	}
	plan, err := h.plans.Refresh(c.Request.Context(), c.Param("name"), user)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plan, planMeta(plan))
}

// AddLine godoc
// @Summary Add a manual line to the draft plan
// @Tags Plan
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param name path string true "Center name"
// @Param payload body dto.AddLineRequest true "Line"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /centers/{name}/plan/lines [post]
func (h *PlanHandler) AddLine(c *gin.Context) {
	user, ok := currentEditor(c)
	if !ok {
		return
	}
	var req dto.AddLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}
	plan, err := h.plans.AddLine(c.Request.Context(), c.Param("name"), user, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, plan, planMeta(plan))
}

// DeleteLine godoc
// @Summary Remove a line from the draft plan
// @Tags Plan
// @Produce json
// @Security BearerAuth
// @Param name path string true "Center name"
// @Param lineId path string true "Line ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /centers/{name}/plan/lines/{lineId} [delete]
func (h *PlanHandler) DeleteLine(c *gin.Context) {
	user, ok := currentEditor(c)
	if !ok {
		return
	}
	plan, err := h.plans.DeleteLine(c.Request.Context(), c.Param("name"), user, c.Param("lineId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plan, planMeta(plan))
}

// Export godoc
// @Summary Render the draft plan for download
// @Tags Plan
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param name path string true "Center name"
// @Param payload body dto.ExportRequest true "Format"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /centers/{name}/plan/export [post]
func (h *PlanHandler) Export(c *gin.Context) {
	user, ok := currentEditor(c)
	if !ok {
		return
	}
	var req dto.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "format must be csv or pdf"))
		return
	}
	result, err := h.exports.Export(c.Request.Context(), c.Param("name"), user, req.Format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.ExportResponse{URL: result.URL, Format: result.Format, ExpiresAt: result.ExpiresAt})
}

// Download godoc
// @Summary Download an exported plan
// @Tags Plan
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exports/download [get]
func (h *PlanHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing download token"))
		return
	}
	file, name, err := h.exports.Download(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read export"))
		return
	}
	headers := map[string]string{"Content-Disposition": fmt.Sprintf("attachment; filename=%q", name)}
	c.DataFromReader(http.StatusOK, info.Size(), contentType(name), file, headers)
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".csv":
		return "text/csv"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

func planMeta(plan *models.Plan) map[string]interface{} {
	flagged := 0
	for _, entry := range plan.Entries {
		if entry.Check != models.CheckOK {
			flagged++
		}
	}
	return map[string]interface{}{"lines": len(plan.Entries), "flagged": flagged}
}
