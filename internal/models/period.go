package models

import (
	"fmt"
	"time"
)

// PeriodSource tells where a plan line came from.
type PeriodSource string

const (
	SourceLocal    PeriodSource = "local"
	SourceExternal PeriodSource = "external"
	SourceBoth     PeriodSource = "both"
	SourceNewInput PeriodSource = "new-input"
)

// Check values attached to plan lines. Gaps and overlaps carry a day count.
const (
	CheckOK     = "OK"
	CheckNoType = "NoType"
)

// UnknownPrefix marks period types the mapping could not classify.
const UnknownPrefix = "UNKNOWN "

// GapCheck formats the check of a line given the computed gap in days.
func GapCheck(gap int) string {
	switch {
	case gap == 0:
		return CheckOK
	case gap > 0:
		return fmt.Sprintf("GAP of %d", gap)
	default:
		return fmt.Sprintf("OVERLAP of %d", -gap)
	}
}

// PeriodEntry is one line of a plan.
type PeriodEntry struct {
	ID         string       `db:"id" json:"id"`
	StartDate  Date         `db:"start_date" json:"start_date"`
	EndDate    *Date        `db:"end_date" json:"end_date,omitempty"`
	PeriodType string       `db:"period_type" json:"period_type"`
	Source     PeriodSource `db:"-" json:"source"`
	Check      string       `db:"-" json:"check,omitempty"`
	CourseType string       `db:"-" json:"course_type,omitempty"`
}

// PeriodRule gives the expected length of a canonical period type.
// Variable-length periods use their own end date instead of Days.
type PeriodRule struct {
	CenterName string `db:"center_name" json:"-"`
	PeriodType string `db:"period_type" json:"period_type"`
	Days       int    `db:"duration_days" json:"duration_days"`
	Variable   bool   `db:"variable_length" json:"variable_length"`
}

// Plan is the reconciled, annotated schedule of a center.
type Plan struct {
	Center      string        `json:"center"`
	WindowStart Date          `json:"window_start"`
	WindowEnd   Date          `json:"window_end"`
	Entries     []PeriodEntry `json:"entries"`
	Unplanned   []string      `json:"unplanned,omitempty"`
	RefreshedAt time.Time     `json:"refreshed_at"`
	UpdatedBy   string        `json:"updated_by,omitempty"`
}

// Entry returns the index of the line with id, or -1.
func (p *Plan) Entry(id string) int {
	if p == nil {
		return -1
	}
	for i := range p.Entries {
		if p.Entries[i].ID == id {
			return i
		}
	}
	return -1
}
