package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/gongplan/gong-api/internal/models"
	"github.com/gongplan/gong-api/pkg/cache"
	appErrors "github.com/gongplan/gong-api/pkg/errors"
)

const (
	oldStudentsState = "OldStudents"
	nonCenterKind    = "noncenter"
	oneDayPrefix     = "1-Day"
	oscSuffix        = "OSC"
	maxCoursePages   = 200
)

// CourseFetcherConfig configures the external course source client.
type CourseFetcherConfig struct {
	URL       string
	UserAgent string
	Timeout   time.Duration
	// Retries is the number of attempts per page, including the first one.
	Retries       int
	RetryInterval time.Duration
	CacheTTL      time.Duration
}

// CourseFetcher pulls published courses for a location from the external
// course search endpoint. Pages are requested until the reported page count
// is reached. Failures surface as FETCH_FAILURE, never as an empty result.
type CourseFetcher struct {
	client  *http.Client
	cfg     CourseFetcherConfig
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
}

// NewCourseFetcher constructs a fetcher. A nil client gets one bounded by cfg.Timeout.
func NewCourseFetcher(cfg CourseFetcherConfig, client *http.Client, cacheSvc *CacheService, metrics *MetricsService, logger *zap.Logger) *CourseFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "gong-api-fetcher/1.0"
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseFetcher{client: client, cfg: cfg, cache: cacheSvc, metrics: metrics, logger: logger}
}

// RegionFor returns the search region of a center location identifier.
func RegionFor(location string) string {
	location = strings.TrimSpace(location)
	if strings.HasPrefix(location, "location_") {
		return location
	}
	return "location_" + location
}

// Fetch returns the center courses of location between start and end.
// Non-center venues and one-day courses are dropped and a trailing OSC
// marker is removed from the anchor.
func (f *CourseFetcher) Fetch(ctx context.Context, location string, start, end models.Date) ([]models.RawCourse, error) {
	region := RegionFor(location)
	cacheKey := cache.Key("courses", region, start.String(), end.String())

	var cached []models.RawCourse
	if f.cache.Get(ctx, cacheKey, &cached) {
		return cached, nil
	}

	began := time.Now()
	courses, err := f.fetchAll(ctx, region, start, end)
	f.metrics.ObserveCourseFetch(time.Since(began), err != nil)
	if err != nil {
		f.logger.Warn("course fetch failed", zap.String("region", region), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrFetchFailure.Code, appErrors.ErrFetchFailure.Status,
			fmt.Sprintf("failed to fetch courses for %s", region))
	}

	f.cache.Set(ctx, cacheKey, courses, f.cfg.CacheTTL)
	f.logger.Debug("courses fetched", zap.String("region", region), zap.Int("count", len(courses)))
	return courses, nil
}

// InvalidateCache drops cached course pages of every region.
func (f *CourseFetcher) InvalidateCache(ctx context.Context) {
	f.cache.Invalidate(ctx, cache.Key("courses", "*"))
}

func (f *CourseFetcher) fetchAll(ctx context.Context, region string, start, end models.Date) ([]models.RawCourse, error) {
	dateRange := fmt.Sprintf("%s - %s", start.String(), end.String())
	var courses []models.RawCourse
	for page := 1; page <= maxCoursePages; page++ {
		body, err := f.fetchPage(ctx, region, dateRange, page)
		if err != nil {
			return nil, err
		}
		courses = append(courses, f.parseCourses(body)...)

		if page >= int(gjson.GetBytes(body, "pages").Int()) {
			break
		}
	}
	if courses == nil {
		courses = []models.RawCourse{}
	}
	return courses, nil
}

func (f *CourseFetcher) fetchPage(ctx context.Context, region, dateRange string, page int) ([]byte, error) {
	form := url.Values{}
	form.Set("current_state", oldStudentsState)
	form.Set("regions[]", region)
	form.Set("daterange", dateRange)
	form.Set("page", strconv.Itoa(page))

	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.URL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", f.cfg.UserAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		switch {
		case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("course search page %d: status %d", page, resp.StatusCode)
		case resp.StatusCode >= http.StatusBadRequest:
			return nil, backoff.Permanent(fmt.Errorf("course search page %d: status %d", page, resp.StatusCode))
		}
		if !gjson.ValidBytes(body) {
			return nil, backoff.Permanent(fmt.Errorf("course search page %d: invalid json", page))
		}
		return body, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.cfg.RetryInterval
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(f.cfg.Retries)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			f.logger.Debug("retrying course search", zap.Int("page", page), zap.Duration("wait", wait), zap.Error(err))
		}),
	)
}

func (f *CourseFetcher) parseCourses(body []byte) []models.RawCourse {
	var courses []models.RawCourse
	for _, item := range gjson.GetBytes(body, "courses").Array() {
		kind := item.Get("location.center_noncenter").String()
		if kind == nonCenterKind {
			continue
		}
		rawType := item.Get("raw_course_type").String()
		if strings.HasPrefix(rawType, oneDayPrefix) {
			continue
		}

		start, err := models.ParseDate(item.Get("course_start_date").String())
		if err != nil {
			f.logger.Warn("skipping course without start date", zap.String("raw_course_type", rawType), zap.Error(err))
			continue
		}
		var end models.Date
		if rawEnd := item.Get("course_end_date").String(); rawEnd != "" {
			if end, err = models.ParseDate(rawEnd); err != nil {
				end = models.Date{}
			}
		}

		anchor := item.Get("course_type_anchor").String()
		if strings.HasSuffix(anchor, oscSuffix) {
			anchor = strings.TrimSpace(strings.TrimSuffix(anchor, oscSuffix))
		}

		courses = append(courses, models.RawCourse{
			StartDate:     start,
			EndDate:       end,
			RawCourseType: rawType,
			Anchor:        anchor,
			CourseType:    item.Get("course_type").String(),
			SubLocation:   item.Get("location.sub_location").String(),
			CenterKind:    kind,
		})
	}
	return courses
}
