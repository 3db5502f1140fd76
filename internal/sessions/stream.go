package sessions

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"agent-backend/internal/events"
	"agent-backend/internal/shared/server/middleware"
	"agent-backend/internal/shared/server/respond"
)

// streamWakeFallback bounds how long the stream sleeps when no append
// notification arrives, covering client disconnect checks.
const streamWakeFallback = 2 * time.Second

// streamRun serves the run's event log as Server-Sent Events. Clients
// resume with Last-Event-ID; an unknown id replays from the beginning.
// The stream closes after the terminal event has been delivered.
func (h *Handler) streamRun(c *gin.Context) {
	log, err := h.Store.RunEvents(middleware.TenantFromContext(c), c.Param("id"), c.Param("rid"))
	if err != nil {
		respond.Failure(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.Flush()

	cursor := log.IndexAfter(c.GetHeader("Last-Event-ID"))

	for {
		// Grab the wakeup channel before snapshotting so an append
		// between snapshot and wait is never missed.
		wake := log.Wait()
		snapshot := log.Snapshot()

		for cursor < len(snapshot) {
			writeEventFrame(c, snapshot[cursor])
			cursor++
		}
		c.Writer.Flush()

		if cursor >= len(snapshot) && len(snapshot) > 0 && snapshot[len(snapshot)-1].Type.Terminal() {
			return
		}

		select {
		case <-c.Request.Context().Done():
			return
		case <-wake:
		case <-time.After(streamWakeFallback):
		}
	}
}

func writeEventFrame(c *gin.Context, ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data)
}
