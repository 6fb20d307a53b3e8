package aggregator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/nerves76/promptreviews-backend/internal/storage/models"
	"github.com/nerves76/promptreviews-backend/pkg/logger"
	"github.com/nerves76/promptreviews-backend/pkg/retry"
)

// ResultSource is the check-results collaborator contract: concepts with
// embedded questions, and up to N most-recent results per concept.
type ResultSource interface {
	ListConcepts(accountID string) ([]models.Concept, error)
	GetRecentResultsByConcept(conceptID string, limit int) ([]models.CheckResult, error)
}

type Fetcher struct {
	source      ResultSource
	fetchLimit  int
	retryConfig retry.Config
}

func NewFetcher(source ResultSource, fetchLimit int) *Fetcher {
	return &Fetcher{
		source:      source,
		fetchLimit:  fetchLimit,
		retryConfig: retry.DefaultConfig(),
	}
}

// FetchAll loads every concept's questions and recent check results. The
// per-concept fetches fan out in parallel and are all joined before
// returning, so aggregation never runs on partially-fetched data. A single
// concept's fetch failure degrades to an empty result list for that concept;
// the error is logged and not surfaced.
func (f *Fetcher) FetchAll(ctx context.Context, accountID string) ([]models.Question, []models.CheckResult, error) {
	concepts, err := f.source.ListConcepts(accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list concepts: %w", err)
	}

	perConcept := make([][]models.CheckResult, len(concepts))

	var wg sync.WaitGroup
	for i := range concepts {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			conceptID := concepts[idx].ID
			results, err := retry.DoWithResult(ctx, f.retryConfig, func() ([]models.CheckResult, error) {
				return f.source.GetRecentResultsByConcept(conceptID, f.fetchLimit)
			})
			if err != nil {
				logger.Warn("Concept result fetch failed, treating as empty",
					zap.String("concept_id", conceptID),
					zap.Error(err),
				)
				return
			}
			perConcept[idx] = results
		}(i)
	}
	wg.Wait()

	var results []models.CheckResult
	for _, batch := range perConcept {
		results = append(results, batch...)
	}

	return Flatten(concepts), results, nil
}
