package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nerves76/promptreviews-backend/internal/checker"
	"github.com/nerves76/promptreviews-backend/internal/metrics"
	"github.com/nerves76/promptreviews-backend/internal/storage/models"
	"github.com/nerves76/promptreviews-backend/pkg/logger"
)

// Store is the persistence the orchestrator needs. *sqlite.Client satisfies
// it.
type Store interface {
	GetAccount(id string) (*models.Account, error)
	DeductCredits(accountID string, amount int) (bool, error)
	RefundCredits(accountID string, amount int) error
	ListConcepts(accountID string) ([]models.Concept, error)
	InsertCheckResult(result *models.CheckResult) error
	InsertBatchRun(run *models.BatchRun) error
	UpdateBatchRun(run *models.BatchRun) error
	GetBatchRun(id string) (*models.BatchRun, error)
	GetActiveRun(accountID string) (*models.BatchRun, error)
	GetMostRecentRun(accountID string) (*models.BatchRun, error)
	GetFailedPairs(runID string) ([]models.FailedPair, error)
	InsertCheckFailure(runID, questionID string, provider models.Provider) error
}

// Service owns the batch run state machine:
// scheduled -> pending -> processing -> {completed | failed}.
type Service struct {
	store      Store
	checker    checker.Checker
	register   *Register
	creditCost int

	ctx    context.Context
	cancel context.CancelFunc
}

type StartRequest struct {
	AccountID            string
	Providers            []models.Provider
	RetryFailedFromRunID string
}

type StartReceipt struct {
	RunID            string
	TotalQuestions   int
	Providers        []models.Provider
	EstimatedCredits int
}

type checkTarget struct {
	question  models.Question
	providers []models.Provider
}

func NewService(store Store, chk checker.Checker, creditCost int) *Service {
	if creditCost < 1 {
		creditCost = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:      store,
		checker:    chk,
		register:   NewRegister(),
		creditCost: creditCost,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Close stops any in-flight run execution.
func (s *Service) Close() {
	s.cancel()
}

// Start validates the preconditions, reserves credits and launches the run
// asynchronously. It fails synchronously with ErrRunActive or a structured
// InsufficientCreditsError when a precondition does not hold.
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartReceipt, error) {
	if len(req.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	for _, p := range req.Providers {
		if !p.Valid() {
			return nil, fmt.Errorf("unknown provider %q", p)
		}
	}

	runID := uuid.New().String()
	if !s.register.Acquire(req.AccountID, runID) {
		return nil, ErrRunActive
	}

	receipt, err := s.start(ctx, req, runID)
	if err != nil {
		s.register.Release(req.AccountID, runID)
		return nil, err
	}
	return receipt, nil
}

func (s *Service) start(ctx context.Context, req StartRequest, runID string) (*StartReceipt, error) {
	// The store is the durable source of truth for the one-active-run rule;
	// the register only closes the in-process race.
	active, err := s.store.GetActiveRun(req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for active run: %w", err)
	}
	if active != nil {
		return nil, ErrRunActive
	}

	targets, err := s.resolveTargets(req)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, ErrNoQuestions
	}

	required := 0
	for _, t := range targets {
		required += len(t.providers) * s.creditCost
	}

	account, err := s.store.GetAccount(req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account.Credits < required {
		return nil, &InsufficientCreditsError{Required: required, Available: account.Credits}
	}

	ok, err := s.store.DeductCredits(req.AccountID, required)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve credits: %w", err)
	}
	if !ok {
		// Balance moved between the check and the deduction.
		account, err := s.store.GetAccount(req.AccountID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload account: %w", err)
		}
		return nil, &InsufficientCreditsError{Required: required, Available: account.Credits}
	}

	now := time.Now()
	run := &models.BatchRun{
		ID:                   runID,
		AccountID:            req.AccountID,
		Status:               models.RunScheduled,
		Providers:            req.Providers,
		TotalQuestions:       len(targets),
		RetryFailedFromRunID: req.RetryFailedFromRunID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.store.InsertBatchRun(run); err != nil {
		s.refund(req.AccountID, required)
		return nil, fmt.Errorf("failed to create batch run: %w", err)
	}

	run.Status = models.RunPending
	if err := s.store.UpdateBatchRun(run); err != nil {
		s.refund(req.AccountID, required)
		return nil, fmt.Errorf("failed to schedule batch run: %w", err)
	}

	go s.execute(run, targets)

	logger.Info("Batch run started",
		zap.String("run_id", run.ID),
		zap.String("account_id", req.AccountID),
		zap.Int("total_questions", run.TotalQuestions),
		zap.Int("credits_reserved", required),
	)

	return &StartReceipt{
		RunID:            run.ID,
		TotalQuestions:   run.TotalQuestions,
		Providers:        req.Providers,
		EstimatedCredits: required,
	}, nil
}

// resolveTargets builds the question x provider work list: every question for
// a fresh run, or only the failed pairs of the referenced run for a retry.
func (s *Service) resolveTargets(req StartRequest) ([]checkTarget, error) {
	concepts, err := s.store.ListConcepts(req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list concepts: %w", err)
	}

	questionsByID := make(map[string]models.Question)
	var order []string
	for _, concept := range concepts {
		for _, q := range concept.Questions {
			questionsByID[q.ID] = q
			order = append(order, q.ID)
		}
	}

	if req.RetryFailedFromRunID == "" {
		targets := make([]checkTarget, 0, len(order))
		for _, id := range order {
			targets = append(targets, checkTarget{question: questionsByID[id], providers: req.Providers})
		}
		return targets, nil
	}

	pairs, err := s.store.GetFailedPairs(req.RetryFailedFromRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to load failed pairs: %w", err)
	}

	requested := make(map[models.Provider]bool, len(req.Providers))
	for _, p := range req.Providers {
		requested[p] = true
	}

	byQuestion := make(map[string][]models.Provider)
	for _, pair := range pairs {
		if !requested[pair.Provider] {
			continue
		}
		byQuestion[pair.QuestionID] = append(byQuestion[pair.QuestionID], pair.Provider)
	}

	var targets []checkTarget
	for _, id := range order {
		providers, failed := byQuestion[id]
		if !failed {
			continue
		}
		targets = append(targets, checkTarget{question: questionsByID[id], providers: providers})
	}

	return targets, nil
}

// Status returns the run for runID, or the account's most recent run when
// runID is empty. Returns nil when the account has never run a check.
func (s *Service) Status(accountID, runID string) (*models.BatchRun, error) {
	if runID != "" {
		return s.store.GetBatchRun(runID)
	}
	return s.store.GetMostRecentRun(accountID)
}

func (s *Service) refund(accountID string, amount int) {
	if amount == 0 {
		return
	}
	if err := s.store.RefundCredits(accountID, amount); err != nil {
		logger.Error("Failed to refund credits",
			zap.String("account_id", accountID),
			zap.Int("amount", amount),
			zap.Error(err),
		)
		return
	}
	metrics.CreditsRefunded.Add(float64(amount))
}
