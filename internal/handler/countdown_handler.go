package handler

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/gongplan/gong-api/internal/service"
	appErrors "github.com/gongplan/gong-api/pkg/errors"
	"github.com/gongplan/gong-api/pkg/response"
)

type countdownSource interface {
	VerifyStreamTicket(ticket, center string) (string, error)
	Subscribe(center string) (<-chan service.Tick, func(), bool)
}

// CountdownHandler streams edit-session countdowns as server-sent events.
type CountdownHandler struct {
	source countdownSource
}

// NewCountdownHandler constructs handler.
func NewCountdownHandler(source countdownSource) *CountdownHandler {
	return &CountdownHandler{source: source}
}

// Stream godoc
// @Summary Countdown of the running edit session
// @Description Emits "tick" events until the lock ends; the last event is "expired" when time ran out.
// @Tags Lock
// @Produce text/event-stream
// @Param name path string true "Center name"
// @Param ticket query string true "Stream ticket returned by the claim"
// @Success 200 {object} service.Tick
// @Failure 401 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /centers/{name}/countdown [get]
func (h *CountdownHandler) Stream(c *gin.Context) {
	center := c.Param("name")
	holder, err := h.source.VerifyStreamTicket(c.Query("ticket"), center)
	if err != nil {
		response.Error(c, err)
		return
	}
	ticks, cancel, ok := h.source.Subscribe(center)
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrNotLockHolder, "no edit session running for "+center))
		return
	}
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case tick, open := <-ticks:
			if !open {
				c.SSEvent("closed", gin.H{"center": center})
				return false
			}
			if tick.Holder != holder {
				c.SSEvent("closed", gin.H{"center": center})
				return false
			}
			if tick.Expired {
				c.SSEvent("expired", tick)
				return false
			}
			c.SSEvent("tick", tick)
			return true
		}
	})
}
