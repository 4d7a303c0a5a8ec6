package handler

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gongplan/gong-api/internal/service"
	appErrors "github.com/gongplan/gong-api/pkg/errors"
)

type countdownSourceMock struct {
	holder    string
	ticks     []service.Tick
	running   bool
	cancelled atomic.Bool
}

func (m *countdownSourceMock) VerifyStreamTicket(ticket, center string) (string, error) {
	if ticket != "good" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid stream ticket")
	}
	return m.holder, nil
}

func (m *countdownSourceMock) Subscribe(center string) (<-chan service.Tick, func(), bool) {
	if !m.running {
		return nil, func() {}, false
	}
	ch := make(chan service.Tick, len(m.ticks))
	for _, tick := range m.ticks {
		ch <- tick
	}
	close(ch)
	return ch, func() { m.cancelled.Store(true) }, true
}

func ginParam(key, value string) gin.Param {
	return gin.Param{Key: key, Value: value}
}

func serveCountdown(t *testing.T, source *countdownSourceMock, query string) (*http.Response, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/centers/:name/countdown", NewCountdownHandler(source).Stream)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/centers/Mahi/countdown" + query)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestCountdownHandlerStreamsUntilExpiry(t *testing.T) {
	source := &countdownSourceMock{holder: "a@example.org", running: true, ticks: []service.Tick{
		{Center: "Mahi", Holder: "a@example.org", Remaining: 30, Interval: 5},
		{Center: "Mahi", Holder: "a@example.org", Remaining: 0, Message: service.TimeUpMessage, Expired: true},
		{Center: "Mahi", Holder: "a@example.org", Remaining: 0},
	}}

	resp, body := serveCountdown(t, source, "?ticket=good")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))
	assert.Contains(t, body, "event:tick")
	assert.Contains(t, body, `"remaining_seconds":30`)
	assert.Contains(t, body, "event:expired")
	assert.Contains(t, body, service.TimeUpMessage)
	assert.Equal(t, 2, strings.Count(body, "event:"))
	assert.Eventually(t, source.cancelled.Load, time.Second, 10*time.Millisecond)
}

func TestCountdownHandlerStopsForAnotherHolder(t *testing.T) {
	source := &countdownSourceMock{holder: "a@example.org", running: true, ticks: []service.Tick{
		{Center: "Mahi", Holder: "b@example.org", Remaining: 3000},
	}}
	_, body := serveCountdown(t, source, "?ticket=good")
	assert.Contains(t, body, "event:closed")
	assert.NotContains(t, body, "event:tick")
}

func TestCountdownHandlerRejectsBadTicket(t *testing.T) {
	resp, _ := serveCountdown(t, &countdownSourceMock{running: true}, "?ticket=bad")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCountdownHandlerWithoutSession(t *testing.T) {
	resp, _ := serveCountdown(t, &countdownSourceMock{holder: "a@example.org"}, "?ticket=good")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
