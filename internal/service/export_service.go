package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gongplan/gong-api/internal/models"
	appErrors "github.com/gongplan/gong-api/pkg/errors"
	"github.com/gongplan/gong-api/pkg/export"
	"github.com/gongplan/gong-api/pkg/storage"
)

// Export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

var planHeaders = []string{"Start", "End", "Period type", "Source", "Check", "Course type"}

type draftReader interface {
	Draft(ctx context.Context, center string) (*models.Plan, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       string
	ExpiresAt    time.Time
}

// ExportService renders draft plans and hands out signed download links.
type ExportService struct {
	plans   draftReader
	storage fileStorage
	csv     datasetRenderer
	pdf     datasetRenderer
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     ExportConfig
	now     func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(plans draftReader, files fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv, pdf datasetRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter(';')
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		plans:   plans,
		storage: files,
		csv:     csv,
		pdf:     pdf,
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Export renders the draft plan of center and stores it for download by user.
func (s *ExportService) Export(ctx context.Context, center, user, format string) (*ExportResult, error) {
	plan, err := s.plans.Draft(ctx, center)
	if err != nil {
		return nil, err
	}
	dataset := PlanDataset(plan)

	var payload []byte
	switch strings.ToLower(format) {
	case ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case ExportFormatPDF:
		payload, err = s.pdf.Render(dataset)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported format %s", format))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render plan")
	}

	relPath, err := s.storage.Save(s.buildFilename(center, strings.ToLower(format)), payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}
	token, expiresAt, err := s.signer.Generate(user, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export link")
	}

	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	s.logger.Info("plan exported", zap.String("center", center), zap.String("user", user), zap.String("path", relPath))
	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/exports/download?token=%s", prefix, url.QueryEscape(token)),
		Format:       strings.ToLower(format),
		ExpiresAt:    expiresAt,
	}, nil
}

// Download resolves a signed token to the stored export file.
// The caller closes the returned file.
func (s *ExportService) Download(token string) (*os.File, string, error) {
	grant, err := s.signer.Parse(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, "", appErrors.Clone(appErrors.ErrUnauthorized, "download link expired")
		}
		return nil, "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid download link")
	}
	file, err := s.storage.Open(grant.Resource)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export no longer available")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export")
	}
	return file, filepath.Base(grant.Resource), nil
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(center, format string) string {
	timestamp := s.now().UTC().Format("20060102_150405")
	return fmt.Sprintf("plan_%s_%s.%s", sanitizeFilename(center), timestamp, format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := strings.ToLower(replacer.Replace(raw))
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

// PlanDataset turns a plan into export rows. Lines that are not OK are highlighted.
func PlanDataset(plan *models.Plan) export.Dataset {
	rows := make([]map[string]string, 0, len(plan.Entries))
	for _, entry := range plan.Entries {
		end := ""
		if entry.EndDate != nil {
			end = entry.EndDate.String()
		}
		rows = append(rows, map[string]string{
			"Start":       entry.StartDate.String(),
			"End":         end,
			"Period type": entry.PeriodType,
			"Source":      string(entry.Source),
			"Check":       entry.Check,
			"Course type": entry.CourseType,
		})
	}

	notes := []string{fmt.Sprintf("Window %s to %s", plan.WindowStart.String(), plan.WindowEnd.String())}
	if len(plan.Unplanned) > 0 {
		notes = append(notes, "Unplanned period types: "+strings.Join(plan.Unplanned, ", "))
	}
	if plan.UpdatedBy != "" {
		notes = append(notes, "Last edited by "+plan.UpdatedBy)
	}

	return export.Dataset{
		Title:   fmt.Sprintf("%s plan", plan.Center),
		Headers: planHeaders,
		Rows:    rows,
		Notes:   notes,
		Highlight: func(row map[string]string) bool {
			return row["Check"] != models.CheckOK
		},
	}
}
