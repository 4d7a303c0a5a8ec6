package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AllCourseTypes is the wildcard key of a replacement table.
const AllCourseTypes = "@ALL@"

// OtherAnchor is the external anchor whose course_type needs the override table.
const OtherAnchor = "Other"

// RawCourse is one course as published by the external course source.
type RawCourse struct {
	StartDate     Date   `json:"course_start_date"`
	EndDate       Date   `json:"course_end_date"`
	RawCourseType string `json:"raw_course_type"`
	Anchor        string `json:"course_type_anchor"`
	CourseType    string `json:"course_type"`
	SubLocation   string `json:"sub_location,omitempty"`
	CenterKind    string `json:"center_noncenter,omitempty"`
}

// CourseTypeMapping maps an external anchor to a canonical period type.
type CourseTypeMapping struct {
	RawCourseType string `yaml:"raw_course_type" json:"raw_course_type"`
	PeriodType    string `yaml:"period_type" json:"period_type"`
}

// CenterOverrides is the per-center classification table stored in other_course.
type CenterOverrides struct {
	// Replacements[anchor][course_type or @ALL@] gives the period type.
	Replacements map[string]map[string]string `json:"replacements,omitempty"`
	// Override is keyed by upper-cased course_type of "Other" courses.
	Override map[string]string `json:"override,omitempty"`
	// VariableLength lists period types whose length is their own end date.
	VariableLength []string `json:"variable-len,omitempty"`
}

// ParseCenterOverrides decodes other_course. A flat object of strings is the
// legacy form and is read as the override dictionary.
func ParseCenterOverrides(raw []byte) (CenterOverrides, error) {
	var out CenterOverrides
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == "{}" {
		return out, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &probe); err != nil {
		return out, fmt.Errorf("decode center overrides: %w", err)
	}
	_, hasReplacements := probe["replacements"]
	_, hasOverride := probe["override"]
	_, hasVariable := probe["variable-len"]
	if hasReplacements || hasOverride || hasVariable {
		if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
			return out, fmt.Errorf("decode center overrides: %w", err)
		}
	} else {
		flat := make(map[string]string, len(probe))
		if err := json.Unmarshal([]byte(trimmed), &flat); err != nil {
			return out, fmt.Errorf("decode legacy center overrides: %w", err)
		}
		out.Override = flat
	}

	if len(out.Override) > 0 {
		upper := make(map[string]string, len(out.Override))
		for k, v := range out.Override {
			upper[strings.ToUpper(k)] = v
		}
		out.Override = upper
	}
	return out, nil
}
