package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gongplan/gong-api/internal/models"
)

func TestRenderPlan(t *testing.T) {
	end := models.MustParseDate("2025-01-19")
	plan := &models.Plan{
		Center:      "Mahi",
		WindowStart: models.MustParseDate("2025-01-08"),
		WindowEnd:   models.MustParseDate("2026-01-08"),
		Entries: []models.PeriodEntry{
			{StartDate: models.MustParseDate("2025-01-08"), EndDate: &end, PeriodType: "10-DAY", Source: models.SourceBoth, Check: "GAP of 3", CourseType: "10-Day"},
			{StartDate: models.MustParseDate("2025-01-22"), PeriodType: "Trust WE", Source: models.SourceExternal, Check: models.CheckOK},
		},
		Unplanned: []string{"SERVICE"},
	}

	var buf bytes.Buffer
	require.NoError(t, renderPlan(&buf, plan))
	out := buf.String()
	assert.Contains(t, out, "Mahi: 2025-01-08 to 2026-01-08")
	assert.Contains(t, out, "GAP of 3")
	assert.Contains(t, out, "Trust WE")
	assert.Contains(t, out, "Unplanned period types: SERVICE")
	assert.Contains(t, out, "Lines: 2, flagged: 1")
	assert.Equal(t, 1, flagged(plan))
}
