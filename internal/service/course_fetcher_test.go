package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gongplan/gong-api/internal/models"
	"github.com/gongplan/gong-api/internal/repository"
	appErrors "github.com/gongplan/gong-api/pkg/errors"
)

const coursePage1 = `{"pages": 2, "courses": [
 {"course_start_date": "2025-01-08", "course_end_date": "2025-01-19", "raw_course_type": "10-Day", "course_type_anchor": "10-Day", "course_type": "10-Day", "location": {"center_noncenter": "center", "sub_location": "Mahi"}},
 {"course_start_date": "2025-01-11", "course_end_date": "2025-01-11", "raw_course_type": "1-Day Old Student", "course_type_anchor": "1-Day", "course_type": "1-Day", "location": {"center_noncenter": "center"}},
 {"course_start_date": "2025-01-12", "course_end_date": "2025-01-15", "raw_course_type": "3-Day", "course_type_anchor": "3-Day", "course_type": "3-Day", "location": {"center_noncenter": "noncenter"}}
]}`

const coursePage2 = `{"pages": 2, "courses": [
 {"course_start_date": "2025-02-01", "course_end_date": "2025-02-12", "raw_course_type": "10-Day OSC", "course_type_anchor": "10-Day OSC", "course_type": "10-Day", "location": {"center_noncenter": "center"}}
]}`

func newTestFetcher(url string, cacheSvc *CacheService) *CourseFetcher {
	return NewCourseFetcher(CourseFetcherConfig{URL: url, Retries: 3, RetryInterval: time.Millisecond}, nil, cacheSvc, nil, nil)
}

func TestCourseFetcherPaginatesAndFilters(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "OldStudents", r.PostForm.Get("current_state"))
		assert.Equal(t, "location_1396", r.PostForm.Get("regions[]"))
		assert.Equal(t, "2025-01-08 - 2026-01-08", r.PostForm.Get("daterange"))
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("page") == "1" {
			fmt.Fprint(w, coursePage1)
			return
		}
		fmt.Fprint(w, coursePage2)
	}))
	defer srv.Close()

	fetcher := newTestFetcher(srv.URL, nil)
	courses, err := fetcher.Fetch(context.Background(), "1396", models.MustParseDate("2025-01-08"), models.MustParseDate("2026-01-08"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	require.Len(t, courses, 2)
	assert.Equal(t, "10-Day", courses[0].Anchor)
	assert.Equal(t, "Mahi", courses[0].SubLocation)
	assert.Equal(t, "2025-01-19", courses[0].EndDate.String())
	assert.Equal(t, "10-Day", courses[1].Anchor)
	assert.Equal(t, "10-Day OSC", courses[1].RawCourseType)
}

func TestCourseFetcherRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"pages": 1, "courses": []}`)
	}))
	defer srv.Close()

	courses, err := newTestFetcher(srv.URL, nil).Fetch(context.Background(), "location_1370", models.MustParseDate("2025-01-01"), models.MustParseDate("2025-06-01"))
	require.NoError(t, err)
	assert.NotNil(t, courses)
	assert.Empty(t, courses)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestCourseFetcherFailureIsExplicit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	courses, err := newTestFetcher(srv.URL, nil).Fetch(context.Background(), "1396", models.MustParseDate("2025-01-01"), models.MustParseDate("2025-06-01"))
	require.Error(t, err)
	assert.Nil(t, courses)
	assert.True(t, appErrors.Retryable(err))
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrFetchFailure.Code, appErr.Code)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestCourseFetcherClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestFetcher(srv.URL, nil).Fetch(context.Background(), "1396", models.MustParseDate("2025-01-01"), models.MustParseDate("2025-06-01"))
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCourseFetcherUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cacheSvc := NewCacheService(repository.NewCacheRepository(client, nil), nil, time.Minute, nil, true)

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, coursePage2)
	}))
	defer srv.Close()

	fetcher := newTestFetcher(srv.URL, cacheSvc)
	start, end := models.MustParseDate("2025-01-01"), models.MustParseDate("2025-06-01")
	first, err := fetcher.Fetch(context.Background(), "1396", start, end)
	require.NoError(t, err)
	second, err := fetcher.Fetch(context.Background(), "1396", start, end)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	fetcher.InvalidateCache(context.Background())
	_, err = fetcher.Fetch(context.Background(), "1396", start, end)
	require.NoError(t, err)
	assert.EqualValues(t, 4, atomic.LoadInt32(&calls))
}

func TestRegionFor(t *testing.T) {
	assert.Equal(t, "location_1396", RegionFor("1396"))
	assert.Equal(t, "location_1396", RegionFor(" location_1396 "))
}
