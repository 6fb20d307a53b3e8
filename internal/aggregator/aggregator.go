package aggregator

import (
	"github.com/nerves76/promptreviews-backend/internal/storage/models"
)

// IdentityKey returns the logical identity of a question for joining check
// results across renames. The stable question id wins; results recorded
// without one fall back to the concept id plus question text, which means an
// edited question's history splits under the composite key.
func IdentityKey(questionID, conceptID, questionText string) string {
	if questionID != "" {
		return questionID
	}
	return conceptID + "|" + questionText
}

// PairStats carries the per-provider history counts the consistency scorer
// needs.
type PairStats struct {
	Total     int
	Cited     int
	Mentioned int
}

// QuestionRow is the per-question view: the most recent result per provider
// plus the full per-provider history.
type QuestionRow struct {
	Question models.Question
	Latest   map[models.Provider]*models.CheckResult
	History  map[models.Provider][]models.CheckResult
	Stats    map[models.Provider]PairStats
}

// Snapshot is the aggregated account view. UniqueChecks counts every check
// result seen, including orphans whose question no longer exists; orphans are
// excluded from Rows.
type Snapshot struct {
	Rows         []QuestionRow
	UniqueChecks int
	OrphanChecks int
}

// BuildRows joins questions to their check results. Pure function of its
// inputs; feeding it the same results twice produces identical aggregates.
func BuildRows(questions []models.Question, results []models.CheckResult) Snapshot {
	rowIndex := make(map[string]int, len(questions))
	rows := make([]QuestionRow, 0, len(questions))

	for _, q := range questions {
		key := IdentityKey(q.ID, q.ConceptID, q.Text)
		if _, exists := rowIndex[key]; exists {
			continue
		}
		rowIndex[key] = len(rows)
		rows = append(rows, QuestionRow{
			Question: q,
			Latest:   make(map[models.Provider]*models.CheckResult),
			History:  make(map[models.Provider][]models.CheckResult),
			Stats:    make(map[models.Provider]PairStats),
		})
	}

	snapshot := Snapshot{UniqueChecks: len(results)}

	for i := range results {
		result := results[i]
		key := IdentityKey(result.QuestionID, result.ConceptID, result.QuestionText)

		idx, ok := rowIndex[key]
		if !ok {
			// Orphaned result: question was deleted. Still counted in
			// UniqueChecks above, never shown in a row.
			snapshot.OrphanChecks++
			continue
		}

		row := &rows[idx]
		row.History[result.Provider] = append(row.History[result.Provider], result)

		stats := row.Stats[result.Provider]
		stats.Total++
		if result.DomainCited {
			stats.Cited++
		}
		if result.BrandMentioned {
			stats.Mentioned++
		}
		row.Stats[result.Provider] = stats

		current := row.Latest[result.Provider]
		if current == nil || result.CheckedAt.After(current.CheckedAt) {
			latest := result
			row.Latest[result.Provider] = &latest
		}
	}

	snapshot.Rows = rows
	return snapshot
}

// Flatten returns all questions across concepts with their concept linkage
// intact, in concept order.
func Flatten(concepts []models.Concept) []models.Question {
	var questions []models.Question
	for _, concept := range concepts {
		questions = append(questions, concept.Questions...)
	}
	return questions
}
