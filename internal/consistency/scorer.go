package consistency

import (
	"math"

	"github.com/nerves76/promptreviews-backend/internal/aggregator"
	"github.com/nerves76/promptreviews-backend/internal/storage/models"
)

// MinChecks is the number of historical checks required before repeatability
// is meaningful. Below it the score is nil, never zero.
const MinChecks = 2

// PairScore measures how repeatable a binary outcome is for one question x
// provider pair: round(max(positive, total-positive)/total*100). An answer
// that is stably true scores the same as one that is stably false.
func PairScore(total, positive int) *int {
	if total < MinChecks {
		return nil
	}

	stable := positive
	if total-positive > stable {
		stable = total - positive
	}

	score := int(math.Round(float64(stable) / float64(total) * 100))
	return &score
}

// ProviderScore holds a provider's rolled-up repeatability for each outcome.
type ProviderScore struct {
	Citation *int
	Mention  *int
}

// Rollup is the provider and account level consistency view for one filtered
// row set.
type Rollup struct {
	PerProvider map[models.Provider]ProviderScore
	Account     ProviderScore
}

// Compute derives consistency rollups from the given rows. Rollups are always
// recomputed from the in-scope (filtered) row set so they agree with the
// displayed totals; there is no precomputed global value to filter down.
func Compute(rows []aggregator.QuestionRow, providers []models.Provider) Rollup {
	rollup := Rollup{PerProvider: make(map[models.Provider]ProviderScore, len(providers))}

	var citationScores, mentionScores []int
	for _, provider := range providers {
		var perQuestionCitation, perQuestionMention []int

		for _, row := range rows {
			stats, ok := row.Stats[provider]
			if !ok {
				continue
			}
			if s := PairScore(stats.Total, stats.Cited); s != nil {
				perQuestionCitation = append(perQuestionCitation, *s)
			}
			if s := PairScore(stats.Total, stats.Mentioned); s != nil {
				perQuestionMention = append(perQuestionMention, *s)
			}
		}

		score := ProviderScore{
			Citation: average(perQuestionCitation),
			Mention:  average(perQuestionMention),
		}
		rollup.PerProvider[provider] = score

		if score.Citation != nil {
			citationScores = append(citationScores, *score.Citation)
		}
		if score.Mention != nil {
			mentionScores = append(mentionScores, *score.Mention)
		}
	}

	rollup.Account = ProviderScore{
		Citation: average(citationScores),
		Mention:  average(mentionScores),
	}

	return rollup
}

func average(scores []int) *int {
	if len(scores) == 0 {
		return nil
	}

	sum := 0
	for _, s := range scores {
		sum += s
	}

	avg := int(math.Round(float64(sum) / float64(len(scores))))
	return &avg
}
