package repository

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gongplan/gong-api/internal/models"
)

type typeMapFile struct {
	Types []models.CourseTypeMapping `yaml:"types"`
}

// TypeMapRepository loads the course type mapping from a YAML file and keeps
// it in memory until the file changes on disk.
type TypeMapRepository struct {
	path string

	mu       sync.RWMutex
	loaded   []models.CourseTypeMapping
	modTime  time.Time
	hasCache bool
}

// NewTypeMapRepository constructs the repository for the YAML file at path.
func NewTypeMapRepository(path string) *TypeMapRepository {
	return &TypeMapRepository{path: path}
}

// Mappings returns the canonical anchor to period type list.
func (r *TypeMapRepository) Mappings(ctx context.Context) ([]models.CourseTypeMapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(r.path)
	if err != nil {
		return nil, fmt.Errorf("stat course type map: %w", err)
	}

	r.mu.RLock()
	if r.hasCache && info.ModTime().Equal(r.modTime) {
		out := r.loaded
		r.mu.RUnlock()
		return out, nil
	}
	r.mu.RUnlock()

	raw, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read course type map: %w", err)
	}
	mappings, err := ParseTypeMap(raw)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.loaded = mappings
	r.modTime = info.ModTime()
	r.hasCache = true
	r.mu.Unlock()
	return mappings, nil
}

// ParseTypeMap decodes the YAML document and drops incomplete rows.
func ParseTypeMap(raw []byte) ([]models.CourseTypeMapping, error) {
	var doc typeMapFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode course type map: %w", err)
	}
	out := make([]models.CourseTypeMapping, 0, len(doc.Types))
	for _, m := range doc.Types {
		m.RawCourseType = strings.TrimSpace(m.RawCourseType)
		m.PeriodType = strings.TrimSpace(m.PeriodType)
		if m.RawCourseType == "" || m.PeriodType == "" {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
