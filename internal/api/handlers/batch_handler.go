package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/nerves76/promptreviews-backend/internal/batch"
	"github.com/nerves76/promptreviews-backend/internal/metrics"
	"github.com/nerves76/promptreviews-backend/internal/poller"
	"github.com/nerves76/promptreviews-backend/internal/storage/models"
	"github.com/nerves76/promptreviews-backend/pkg/logger"
)

type BatchHandler struct {
	accountID string
	service   *batch.Service
	watcher   *poller.Poller
}

func NewBatchHandler(accountID string, service *batch.Service, watcher *poller.Poller) *BatchHandler {
	return &BatchHandler{
		accountID: accountID,
		service:   service,
		watcher:   watcher,
	}
}

// HandleStart launches a new batch run. Precondition failures come back as
// structured payloads: the insufficient-credits response carries the exact
// required and available figures because the client renders them verbatim.
func (h *BatchHandler) HandleStart(c *fiber.Ctx) error {
	var req struct {
		Providers            []string `json:"providers"`
		RetryFailedFromRunID string   `json:"retry_failed_from_run_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	providers := make([]models.Provider, 0, len(req.Providers))
	for _, raw := range req.Providers {
		providers = append(providers, models.Provider(raw))
	}

	receipt, err := h.service.Start(c.Context(), batch.StartRequest{
		AccountID:            h.accountID,
		Providers:            providers,
		RetryFailedFromRunID: req.RetryFailedFromRunID,
	})
	if err != nil {
		return h.renderStartError(c, err)
	}

	if h.watcher != nil {
		h.watcher.Watch(receipt.RunID)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"run_id":            receipt.RunID,
		"total_questions":   receipt.TotalQuestions,
		"providers":         receipt.Providers,
		"estimated_credits": receipt.EstimatedCredits,
	})
}

func (h *BatchHandler) renderStartError(c *fiber.Ctx, err error) error {
	var credits *batch.InsufficientCreditsError
	if errors.As(err, &credits) {
		metrics.BatchRunsRejected.WithLabelValues("insufficient_credits").Inc()
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error":     "insufficient_credits",
			"required":  credits.Required,
			"available": credits.Available,
		})
	}

	if errors.Is(err, batch.ErrRunActive) {
		metrics.BatchRunsRejected.WithLabelValues("run_active").Inc()
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "run_already_active",
		})
	}

	if errors.Is(err, batch.ErrNoQuestions) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "no_questions_to_check",
		})
	}

	logger.Error("Failed to start batch run", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to start check run",
	})
}

// HandleStatus reports a run's snapshot; without a runId it reports the
// account's current or most recent run.
func (h *BatchHandler) HandleStatus(c *fiber.Ctx) error {
	run, err := h.service.Status(h.accountID, c.Query("runId"))
	if err != nil {
		logger.Error("Failed to load run status", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load run status",
		})
	}
	if run == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no runs for this account",
		})
	}

	return c.JSON(renderRun(run))
}

// HandleRetry starts a new run scoped to the failed pairs of a prior run.
// The new run immediately supersedes the displayed one.
func (h *BatchHandler) HandleRetry(c *fiber.Ctx) error {
	var req struct {
		RunID     string   `json:"run_id"`
		Providers []string `json:"providers"`
	}

	if err := c.BodyParser(&req); err != nil || req.RunID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "run_id is required",
		})
	}

	providers := make([]models.Provider, 0, len(req.Providers))
	for _, raw := range req.Providers {
		providers = append(providers, models.Provider(raw))
	}
	if len(providers) == 0 {
		// Default to the failed run's own provider set.
		prior, err := h.service.Status(h.accountID, req.RunID)
		if err != nil || prior == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "run not found",
			})
		}
		providers = prior.Providers
	}

	receipt, err := h.service.Start(c.Context(), batch.StartRequest{
		AccountID:            h.accountID,
		Providers:            providers,
		RetryFailedFromRunID: req.RunID,
	})
	if err != nil {
		return h.renderStartError(c, err)
	}

	if h.watcher != nil {
		h.watcher.Watch(receipt.RunID)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"run_id":            receipt.RunID,
		"total_questions":   receipt.TotalQuestions,
		"providers":         receipt.Providers,
		"estimated_credits": receipt.EstimatedCredits,
	})
}

// HandleNotification exposes the poller's banner state and the retry
// affordance.
func (h *BatchHandler) HandleNotification(c *fiber.Ctx) error {
	if h.watcher == nil {
		return c.JSON(fiber.Map{"notification": nil})
	}

	payload := fiber.Map{
		"notification":    nil,
		"retry_available": h.watcher.RetryAvailable(),
	}

	if note := h.watcher.Notification(); note != nil {
		payload["notification"] = fiber.Map{
			"kind":             string(note.Kind),
			"run_id":           note.RunID,
			"failed_checks":    note.FailedChecks,
			"credits_refunded": note.CreditsRefunded,
			"error_message":    note.ErrorMessage,
		}
	}
	if run := h.watcher.Current(); run != nil {
		payload["run"] = renderRun(run)
	}

	return c.JSON(payload)
}

// HandleDismiss hides the terminal banner. Purely a display action: the
// underlying run is never cancelled or altered.
func (h *BatchHandler) HandleDismiss(c *fiber.Ctx) error {
	if h.watcher != nil {
		h.watcher.Dismiss()
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func renderRun(run *models.BatchRun) fiber.Map {
	return fiber.Map{
		"run_id":                   run.ID,
		"status":                   string(run.Status),
		"providers":                run.Providers,
		"total_questions":          run.TotalQuestions,
		"processed_questions":      run.ProcessedQuestions,
		"successful_checks":        run.SuccessfulChecks,
		"failed_checks":            run.FailedChecks,
		"progress":                 run.Progress(),
		"credits_refunded":         run.CreditsRefunded,
		"error_message":            run.ErrorMessage,
		"retry_failed_from_run_id": run.RetryFailedFromRunID,
	}
}
