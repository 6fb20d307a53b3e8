package aggregator_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerves76/promptreviews-backend/internal/aggregator"
	"github.com/nerves76/promptreviews-backend/internal/storage/models"
)

var base = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

func question(id, conceptID, text string) models.Question {
	return models.Question{ID: id, ConceptID: conceptID, Text: text, FunnelStage: models.FunnelTop}
}

func check(questionID, conceptID, text string, provider models.Provider, daysAgo int, cited bool) models.CheckResult {
	return models.CheckResult{
		ID:           questionID + string(provider) + base.AddDate(0, 0, -daysAgo).String(),
		QuestionID:   questionID,
		ConceptID:    conceptID,
		QuestionText: text,
		Provider:     provider,
		CheckedAt:    base.AddDate(0, 0, -daysAgo),
		DomainCited:  cited,
	}
}

func TestBuildRows_LatestPerProvider(t *testing.T) {
	questions := []models.Question{question("q1", "c1", "best crm?")}
	results := []models.CheckResult{
		check("q1", "c1", "best crm?", models.ProviderChatGPT, 3, false),
		check("q1", "c1", "best crm?", models.ProviderChatGPT, 1, true),
		check("q1", "c1", "best crm?", models.ProviderChatGPT, 2, false),
	}

	snapshot := aggregator.BuildRows(questions, results)

	require.Len(t, snapshot.Rows, 1)
	row := snapshot.Rows[0]

	latest := row.Latest[models.ProviderChatGPT]
	require.NotNil(t, latest)
	assert.True(t, latest.DomainCited)
	assert.Equal(t, base.AddDate(0, 0, -1), latest.CheckedAt)

	assert.Len(t, row.History[models.ProviderChatGPT], 3)
	assert.Equal(t, aggregator.PairStats{Total: 3, Cited: 1}, row.Stats[models.ProviderChatGPT])
}

func TestBuildRows_NeverCheckedProviderIsNil(t *testing.T) {
	questions := []models.Question{question("q1", "c1", "best crm?")}

	snapshot := aggregator.BuildRows(questions, nil)

	require.Len(t, snapshot.Rows, 1)
	assert.Nil(t, snapshot.Rows[0].Latest[models.ProviderClaude])
	assert.Empty(t, snapshot.Rows[0].History[models.ProviderClaude])
}

func TestBuildRows_OrphanAsymmetry(t *testing.T) {
	// Results whose question was deleted disappear from the per-question
	// view but still count toward the account-wide unique-check statistic.
	questions := []models.Question{question("q1", "c1", "best crm?")}
	results := []models.CheckResult{
		check("q1", "c1", "best crm?", models.ProviderChatGPT, 1, true),
		check("deleted", "c1", "old question", models.ProviderChatGPT, 2, true),
	}

	snapshot := aggregator.BuildRows(questions, results)

	require.Len(t, snapshot.Rows, 1)
	assert.Equal(t, 2, snapshot.UniqueChecks)
	assert.Equal(t, 1, snapshot.OrphanChecks)
	assert.Equal(t, 1, snapshot.Rows[0].Stats[models.ProviderChatGPT].Total)
}

func TestBuildRows_CompositeIdentityFallback(t *testing.T) {
	// Results recorded without a question id join on concept id + text.
	questions := []models.Question{{ConceptID: "c1", Text: "best crm?"}}
	results := []models.CheckResult{
		{ConceptID: "c1", QuestionText: "best crm?", Provider: models.ProviderClaude, CheckedAt: base},
	}

	snapshot := aggregator.BuildRows(questions, results)

	require.Len(t, snapshot.Rows, 1)
	assert.Equal(t, 1, snapshot.Rows[0].Stats[models.ProviderClaude].Total)
	assert.Zero(t, snapshot.OrphanChecks)
}

func TestBuildRows_EditedTextSplitsHistory(t *testing.T) {
	// Under the composite key an edited question no longer matches results
	// recorded against its old text; those become orphans.
	questions := []models.Question{{ConceptID: "c1", Text: "best crm 2026?"}}
	results := []models.CheckResult{
		{ConceptID: "c1", QuestionText: "best crm?", Provider: models.ProviderClaude, CheckedAt: base},
	}

	snapshot := aggregator.BuildRows(questions, results)

	assert.Zero(t, snapshot.Rows[0].Stats[models.ProviderClaude].Total)
	assert.Equal(t, 1, snapshot.OrphanChecks)
	assert.Equal(t, 1, snapshot.UniqueChecks)
}

func TestBuildRows_RefetchIsIdempotent(t *testing.T) {
	questions := []models.Question{question("q1", "c1", "best crm?")}
	results := []models.CheckResult{
		check("q1", "c1", "best crm?", models.ProviderChatGPT, 1, true),
		check("q1", "c1", "best crm?", models.ProviderChatGPT, 2, false),
	}

	first := aggregator.BuildRows(questions, results)
	second := aggregator.BuildRows(questions, results)

	assert.Equal(t, first.UniqueChecks, second.UniqueChecks)
	assert.Equal(t, first.Rows[0].Stats, second.Rows[0].Stats)
	assert.Equal(t, first.Rows[0].Latest[models.ProviderChatGPT].CheckedAt,
		second.Rows[0].Latest[models.ProviderChatGPT].CheckedAt)
}

func TestIdentityKey(t *testing.T) {
	assert.Equal(t, "q1", aggregator.IdentityKey("q1", "c1", "text"))
	assert.Equal(t, "c1|text", aggregator.IdentityKey("", "c1", "text"))
}

func TestFlatten(t *testing.T) {
	concepts := []models.Concept{
		{ID: "c1", Questions: []models.Question{question("q1", "c1", "a"), question("q2", "c1", "b")}},
		{ID: "c2", Questions: []models.Question{question("q3", "c2", "c")}},
	}

	questions := aggregator.Flatten(concepts)

	require.Len(t, questions, 3)
	assert.Equal(t, "q1", questions[0].ID)
	assert.Equal(t, "q3", questions[2].ID)
}
