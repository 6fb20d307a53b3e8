package batch

import (
	"errors"

	"go.uber.org/zap"

	"github.com/nerves76/promptreviews-backend/internal/checker"
	"github.com/nerves76/promptreviews-backend/internal/metrics"
	"github.com/nerves76/promptreviews-backend/internal/storage/models"
	"github.com/nerves76/promptreviews-backend/pkg/logger"
)

// execute works through the run's question x provider targets. Checks run
// sequentially; progress is persisted after every question so pollers see
// monotonically non-decreasing progress.
func (s *Service) execute(run *models.BatchRun, targets []checkTarget) {
	defer s.register.Release(run.AccountID, run.ID)

	run.Status = models.RunProcessing
	if err := s.store.UpdateBatchRun(run); err != nil {
		s.fail(run, targets, "failed to transition run to processing: "+err.Error())
		return
	}

	for i, target := range targets {
		select {
		case <-s.ctx.Done():
			s.fail(run, targets[i:], "run cancelled before completion")
			return
		default:
		}

		for _, provider := range target.providers {
			err := s.runCheck(run, target.question, provider)
			if errors.Is(err, checker.ErrProviderUnsupported) {
				// Skipped, not failed: the pair counts toward neither
				// successful nor failed checks and its credit comes back.
				run.CreditsRefunded += s.creditCost
				continue
			}
			if err != nil {
				run.FailedChecks++
				if ferr := s.store.InsertCheckFailure(run.ID, target.question.ID, provider); ferr != nil {
					logger.Error("Failed to record check failure", zap.Error(ferr))
				}
				logger.Warn("Check failed",
					zap.String("run_id", run.ID),
					zap.String("question_id", target.question.ID),
					zap.String("provider", string(provider)),
					zap.Error(err),
				)
				continue
			}
			run.SuccessfulChecks++
		}

		run.ProcessedQuestions++
		if err := s.store.UpdateBatchRun(run); err != nil {
			logger.Error("Failed to persist run progress", zap.String("run_id", run.ID), zap.Error(err))
		}
	}

	if run.CreditsRefunded > 0 {
		s.refund(run.AccountID, run.CreditsRefunded)
	}

	run.Status = models.RunCompleted
	if err := s.store.UpdateBatchRun(run); err != nil {
		logger.Error("Failed to complete run", zap.String("run_id", run.ID), zap.Error(err))
	}

	metrics.BatchRunsTotal.WithLabelValues(string(models.RunCompleted)).Inc()
	logger.Info("Batch run completed",
		zap.String("run_id", run.ID),
		zap.Int("successful", run.SuccessfulChecks),
		zap.Int("failed", run.FailedChecks),
		zap.Int("credits_refunded", run.CreditsRefunded),
	)
}

func (s *Service) runCheck(run *models.BatchRun, question models.Question, provider models.Provider) error {
	result, err := s.checker.Check(s.ctx, question, provider)
	if err != nil {
		metrics.ChecksTotal.WithLabelValues(string(provider), "failed").Inc()
		return err
	}

	if err := s.store.InsertCheckResult(result); err != nil {
		metrics.ChecksTotal.WithLabelValues(string(provider), "failed").Inc()
		return err
	}

	metrics.ChecksTotal.WithLabelValues(string(provider), "success").Inc()
	return nil
}

// fail moves the run to its failed terminal state with a mandatory error
// message and refunds credits for every check that never ran. Checks already
// recorded stay valid.
func (s *Service) fail(run *models.BatchRun, remaining []checkTarget, message string) {
	unprocessed := 0
	for _, target := range remaining {
		unprocessed += len(target.providers) * s.creditCost
	}

	run.CreditsRefunded += unprocessed
	if unprocessed > 0 {
		s.refund(run.AccountID, unprocessed)
	}

	run.Status = models.RunFailed
	run.ErrorMessage = message
	if err := s.store.UpdateBatchRun(run); err != nil {
		logger.Error("Failed to mark run as failed", zap.String("run_id", run.ID), zap.Error(err))
	}

	metrics.BatchRunsTotal.WithLabelValues(string(models.RunFailed)).Inc()
	logger.Error("Batch run failed",
		zap.String("run_id", run.ID),
		zap.String("error", message),
	)
}
