package handlers

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/nerves76/promptreviews-backend/internal/batch"
	"github.com/nerves76/promptreviews-backend/pkg/logger"
)

// RunStreamHandler pushes batch run status over a websocket at the poll
// interval, the server-side twin of the client poller. The stream closes
// itself once the run reaches a terminal state.
type RunStreamHandler struct {
	accountID string
	service   *batch.Service
	interval  time.Duration
}

func NewRunStreamHandler(accountID string, service *batch.Service, interval time.Duration) *RunStreamHandler {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &RunStreamHandler{
		accountID: accountID,
		service:   service,
		interval:  interval,
	}
}

func (h *RunStreamHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("Run stream connection established")

	defer func() {
		c.Close()
		logger.Info("Run stream connection closed")
	}()

	runID := c.Query("runId")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		run, err := h.service.Status(h.accountID, runID)
		if err != nil {
			logger.Error("Failed to load run status for stream", zap.Error(err))
			c.WriteJSON(map[string]interface{}{"error": "failed to load run status"})
			return
		}
		if run == nil {
			c.WriteJSON(map[string]interface{}{"error": "no runs for this account"})
			return
		}

		if err := c.WriteJSON(renderRun(run)); err != nil {
			logger.Debug("Run stream write failed", zap.Error(err))
			return
		}

		if run.Status.Terminal() {
			return
		}

		<-ticker.C
	}
}
