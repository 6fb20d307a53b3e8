package checker

import (
	"context"
	"errors"

	"github.com/nerves76/promptreviews-backend/internal/storage/models"
)

// ErrProviderUnsupported marks a question x provider combination the checker
// cannot run. The orchestrator treats it as skipped, not failed, and refunds
// the credit.
var ErrProviderUnsupported = errors.New("provider not supported by this checker")

// Checker executes one LLM visibility check for a question against a
// provider and reports what the model answered, which sources it cited and
// which brands it mentioned.
type Checker interface {
	Check(ctx context.Context, question models.Question, provider models.Provider) (*models.CheckResult, error)
}

// Multi routes checks to a per-provider checker.
type Multi map[models.Provider]Checker

func (m Multi) Check(ctx context.Context, question models.Question, provider models.Provider) (*models.CheckResult, error) {
	c, ok := m[provider]
	if !ok {
		return nil, ErrProviderUnsupported
	}
	return c.Check(ctx, question, provider)
}
