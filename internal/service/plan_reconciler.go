package service

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gongplan/gong-api/internal/models"
)

// PlanWindow is the date range a reconciliation covers. From indexes the
// first local entry that belongs to the window.
type PlanWindow struct {
	Start models.Date
	End   models.Date
	From  int
}

// ReconcileInput gathers everything needed to reconcile one center.
type ReconcileInput struct {
	Center    string
	Window    PlanWindow
	Local     []models.PeriodEntry
	Courses   []models.RawCourse
	Mappings  []models.CourseTypeMapping
	Overrides models.CenterOverrides
	Rules     []models.PeriodRule
	Now       time.Time
}

// ComputeWindow anchors the window on the last local entry that started
// strictly before today and extends it by months and days. Without a past
// entry the first local entry is used, and today when there are none.
// Local entries must be sorted by start date. From points at the first entry
// sharing the anchor's start date, so every row a commit replaces is in the draft.
func ComputeWindow(local []models.PeriodEntry, today models.Date, months, days int) PlanWindow {
	countPast := 0
	for _, entry := range local {
		if entry.StartDate.Before(today) {
			countPast++
		}
	}

	window := PlanWindow{Start: today}
	if len(local) > 0 {
		idx := countPast - 1
		if idx < 0 {
			idx = 0
		}
		for idx > 0 && local[idx-1].StartDate.Equal(local[idx].StartDate) {
			idx--
		}
		window.From = idx
		window.Start = local[idx].StartDate
	}
	window.End = models.AddMonthsDays(window.Start, months, days)
	return window
}

// ClassifyCourse maps an external course to a canonical period type.
// Per-center replacements win, then the "Other" override table, then the
// shared mapping list. Misses are tagged with UnknownPrefix.
func ClassifyCourse(anchor, courseType string, mappings []models.CourseTypeMapping, overrides models.CenterOverrides) string {
	if byType, ok := overrides.Replacements[anchor]; ok {
		if periodType, ok := byType[courseType]; ok {
			return periodType
		}
		if periodType, ok := byType[models.AllCourseTypes]; ok {
			return periodType
		}
	}

	if anchor == models.OtherAnchor {
		if periodType, ok := overrides.Override[strings.ToUpper(courseType)]; ok {
			return periodType
		}
		return models.UnknownPrefix + courseType
	}

	for _, mapping := range mappings {
		if mapping.RawCourseType == anchor {
			return mapping.PeriodType
		}
	}
	return models.UnknownPrefix + anchor
}

// CoursesToEntries classifies fetched courses into external plan lines.
func CoursesToEntries(courses []models.RawCourse, mappings []models.CourseTypeMapping, overrides models.CenterOverrides) []models.PeriodEntry {
	entries := make([]models.PeriodEntry, 0, len(courses))
	for _, course := range courses {
		end := course.EndDate
		entry := models.PeriodEntry{
			ID:         uuid.NewString(),
			StartDate:  course.StartDate,
			PeriodType: ClassifyCourse(course.Anchor, course.CourseType, mappings, overrides),
			Source:     models.SourceExternal,
			CourseType: course.CourseType,
		}
		if !end.IsZero() {
			entry.EndDate = &end
		}
		entries = append(entries, entry)
	}
	return entries
}

// MergeEntries concatenates local then external lines and sorts them by
// start date. Equal dates keep their input order.
func MergeEntries(local, external []models.PeriodEntry) []models.PeriodEntry {
	merged := make([]models.PeriodEntry, 0, len(local)+len(external))
	merged = append(merged, local...)
	merged = append(merged, external...)
	sortEntries(merged)
	return merged
}

func sortEntries(entries []models.PeriodEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StartDate.Before(entries[j].StartDate)
	})
}

// Deduplicate merges adjacent lines with the same start date and period type
// into a single line whose source is both. The first line of a pair is kept
// and the scan resumes after the pair, so non-adjacent duplicates survive.
func Deduplicate(entries []models.PeriodEntry) []models.PeriodEntry {
	out := make([]models.PeriodEntry, 0, len(entries))
	for i := 0; i < len(entries); i++ {
		current := entries[i]
		if i+1 < len(entries) {
			next := entries[i+1]
			if current.StartDate.Equal(next.StartDate) && current.PeriodType == next.PeriodType {
				current.Source = models.SourceBoth
				if current.CourseType == "" {
					current.CourseType = next.CourseType
				}
				if current.EndDate == nil {
					current.EndDate = next.EndDate
				}
				out = append(out, current)
				i++
				continue
			}
		}
		out = append(out, current)
	}
	return out
}

// CheckPlan annotates every line with the distance to the next line.
// Lines whose type has no rule get NoType. The last line with a rule is OK.
func CheckPlan(entries []models.PeriodEntry, rules []models.PeriodRule, variableLength []string) []models.PeriodEntry {
	byType := make(map[string]models.PeriodRule, len(rules))
	for _, rule := range rules {
		byType[rule.PeriodType] = rule
	}
	variable := make(map[string]struct{}, len(variableLength))
	for _, periodType := range variableLength {
		variable[periodType] = struct{}{}
	}

	out := make([]models.PeriodEntry, len(entries))
	copy(out, entries)
	for i := range out {
		rule, ok := byType[out[i].PeriodType]
		if !ok {
			out[i].Check = models.CheckNoType
			continue
		}
		if i == len(out)-1 {
			out[i].Check = models.CheckOK
			continue
		}

		duration := rule.Days
		_, isVariable := variable[rule.PeriodType]
		if (rule.Variable || isVariable) && out[i].EndDate != nil {
			duration = out[i].StartDate.DaysUntil(*out[i].EndDate)
		}
		gap := out[i].StartDate.DaysUntil(out[i+1].StartDate) - duration
		out[i].Check = models.GapCheck(gap)
	}
	return out
}

// FindUnplanned lists rule types that no line of the plan uses.
func FindUnplanned(entries []models.PeriodEntry, rules []models.PeriodRule) []string {
	used := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		used[entry.PeriodType] = struct{}{}
	}
	var missing []string
	for _, rule := range rules {
		if _, ok := used[rule.PeriodType]; !ok {
			missing = append(missing, rule.PeriodType)
		}
	}
	sort.Strings(missing)
	return missing
}

// Reconcile merges the local schedule from the window start with the
// classified external courses, deduplicates and checks the result.
func Reconcile(in ReconcileInput) models.Plan {
	var local []models.PeriodEntry
	if in.Window.From < len(in.Local) {
		local = make([]models.PeriodEntry, 0, len(in.Local)-in.Window.From)
		for _, entry := range in.Local[in.Window.From:] {
			if entry.Source == "" {
				entry.Source = models.SourceLocal
			}
			local = append(local, entry)
		}
	}

	external := CoursesToEntries(in.Courses, in.Mappings, in.Overrides)
	entries := Deduplicate(MergeEntries(local, external))
	entries = CheckPlan(entries, in.Rules, in.Overrides.VariableLength)

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return models.Plan{
		Center:      in.Center,
		WindowStart: in.Window.Start,
		WindowEnd:   in.Window.End,
		Entries:     entries,
		Unplanned:   FindUnplanned(entries, in.Rules),
		RefreshedAt: now,
	}
}

// Recheck re-sorts and re-annotates a plan after a manual edit.
func Recheck(plan *models.Plan, rules []models.PeriodRule, overrides models.CenterOverrides) {
	sortEntries(plan.Entries)
	plan.Entries = CheckPlan(plan.Entries, rules, overrides.VariableLength)
	plan.Unplanned = FindUnplanned(plan.Entries, rules)
}
