package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/gongplan/gong-api/internal/models"
	"github.com/gongplan/gong-api/internal/repository"
	"github.com/gongplan/gong-api/internal/service"
	"github.com/gongplan/gong-api/pkg/cache"
	"github.com/gongplan/gong-api/pkg/config"
	"github.com/gongplan/gong-api/pkg/database"
)

func main() {
	var (
		center  string
		months  int
		days    int
		timeout time.Duration
		strict  bool
		fresh   bool
	)

	flag.StringVar(&center, "center", "", "Center name to reconcile")
	flag.IntVar(&months, "months", 0, "Horizon in months (defaults to COURSES_HORIZON_MONTHS)")
	flag.IntVar(&days, "days", 0, "Extra horizon days (defaults to COURSES_HORIZON_DAYS)")
	flag.DurationVar(&timeout, "timeout", time.Minute, "Overall timeout")
	flag.BoolVar(&strict, "strict", false, "Exit 1 when a line is not OK")
	flag.BoolVar(&fresh, "fresh", false, "Drop cached course pages before fetching")
	flag.Parse()

	if center == "" {
		log.Fatal("-center is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if months == 0 && days == 0 {
		months, days = cfg.Courses.HorizonMonths, cfg.Courses.HorizonDays
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	plan, err := reconcile(ctx, cfg, center, months, days, fresh)
	if err != nil {
		log.Fatalf("reconcile %s: %v", center, err)
	}
	if err := renderPlan(os.Stdout, plan); err != nil {
		log.Fatalf("render: %v", err)
	}

	if strict && flagged(plan) > 0 {
		os.Exit(1)
	}
}

func reconcile(ctx context.Context, cfg *config.Config, name string, months, days int, fresh bool) (*models.Plan, error) {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	centers := repository.NewCenterRepository(db)
	periods := repository.NewPeriodRepository(db)

	center, err := centers.FindByName(ctx, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("unknown center %q", name)
		}
		return nil, err
	}
	local, err := periods.ListComing(ctx, center.Name)
	if err != nil {
		return nil, err
	}
	rules, err := periods.ListRules(ctx, center.Name)
	if err != nil {
		return nil, err
	}
	mappings, err := repository.NewTypeMapRepository(cfg.Courses.TypeMapPath).Mappings(ctx)
	if err != nil {
		return nil, err
	}
	overrides, err := models.ParseCenterOverrides(center.OtherCourse)
	if err != nil {
		log.Printf("ignoring malformed overrides of %s: %v", center.Name, err)
		overrides = models.CenterOverrides{}
	}

	now := time.Now()
	window := service.ComputeWindow(local, models.DateOf(now.In(center.TimeLocation())), months, days)
	fetcher := service.NewCourseFetcher(service.CourseFetcherConfig{
		URL:       cfg.Courses.FetchURL,
		UserAgent: cfg.Courses.UserAgent,
		Timeout:   cfg.Courses.FetchTimeout,
		Retries:   cfg.Courses.FetchRetries,
		CacheTTL:  cfg.Courses.CacheTTL,
	}, nil, courseCache(cfg), nil, nil)
	if fresh {
		fetcher.InvalidateCache(ctx)
	}
	courses, err := fetcher.Fetch(ctx, center.Location, window.Start, window.End)
	if err != nil {
		return nil, err
	}

	plan := service.Reconcile(service.ReconcileInput{
		Center:    center.Name,
		Window:    window,
		Local:     local,
		Courses:   courses,
		Mappings:  mappings,
		Overrides: overrides,
		Rules:     rules,
		Now:       now.UTC(),
	})
	return &plan, nil
}

// courseCache shares the API's course cache when Redis is reachable.
func courseCache(cfg *config.Config) *service.CacheService {
	if !cfg.Courses.CacheEnabled {
		return nil
	}
	client, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		log.Printf("course cache unavailable: %v", err)
		return nil
	}
	return service.NewCacheService(repository.NewCacheRepository(client, nil), nil, cfg.Courses.CacheTTL, nil, true)
}

func renderPlan(w io.Writer, plan *models.Plan) error {
	fmt.Fprintf(w, "%s: %s to %s\n", plan.Center, plan.WindowStart, plan.WindowEnd)

	table := tablewriter.NewWriter(w)
	table.Header("Start", "End", "Period type", "Source", "Check", "Course type")
	for _, entry := range plan.Entries {
		end := ""
		if entry.EndDate != nil {
			end = entry.EndDate.String()
		}
		row := []string{entry.StartDate.String(), end, entry.PeriodType, string(entry.Source), entry.Check, entry.CourseType}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	if len(plan.Unplanned) > 0 {
		fmt.Fprintf(w, "Unplanned period types: %s\n", strings.Join(plan.Unplanned, ", "))
	}
	fmt.Fprintf(w, "Lines: %d, flagged: %d\n", len(plan.Entries), flagged(plan))
	return nil
}

func flagged(plan *models.Plan) int {
	n := 0
	for _, entry := range plan.Entries {
		if entry.Check != models.CheckOK {
			n++
		}
	}
	return n
}
