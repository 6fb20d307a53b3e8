package view_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerves76/promptreviews-backend/internal/aggregator"
	"github.com/nerves76/promptreviews-backend/internal/storage/models"
	"github.com/nerves76/promptreviews-backend/internal/view"
)

var now = time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)

func question(id, conceptID, text string, stage models.FunnelStage) models.Question {
	return models.Question{ID: id, ConceptID: conceptID, Text: text, FunnelStage: stage}
}

func check(q models.Question, provider models.Provider, daysAgo int, cited bool) models.CheckResult {
	return models.CheckResult{
		QuestionID:   q.ID,
		ConceptID:    q.ConceptID,
		QuestionText: q.Text,
		Provider:     provider,
		CheckedAt:    now.AddDate(0, 0, -daysAgo),
		DomainCited:  cited,
	}
}

func TestCompose_MixedProviderHistories(t *testing.T) {
	// One provider with three checks, two cited: rate 66.7%, consistency
	// round(2/3*100) = 67. Another with a single cited check: rate 100%,
	// consistency nil because one check says nothing about repeatability.
	q := question("q1", "c1", "best crm?", models.FunnelTop)
	snapshot := aggregator.BuildRows([]models.Question{q}, []models.CheckResult{
		check(q, models.ProviderChatGPT, 3, true),
		check(q, models.ProviderChatGPT, 2, true),
		check(q, models.ProviderChatGPT, 1, false),
		check(q, models.ProviderClaude, 1, true),
	})

	v := view.Compose(snapshot, view.Request{
		Filters: view.Filters{Providers: []models.Provider{models.ProviderChatGPT, models.ProviderClaude}},
	}, now)

	require.Len(t, v.Rows, 1)
	assert.Equal(t, 4, v.UniqueChecks)

	require.NotNil(t, v.ProviderRates[models.ProviderChatGPT])
	assert.InDelta(t, 66.7, *v.ProviderRates[models.ProviderChatGPT], 0.1)
	require.NotNil(t, v.ProviderRates[models.ProviderClaude])
	assert.Equal(t, 100.0, *v.ProviderRates[models.ProviderClaude])

	chatgpt := v.Consistency.PerProvider[models.ProviderChatGPT]
	require.NotNil(t, chatgpt.Citation)
	assert.Equal(t, 67, *chatgpt.Citation)
	assert.Nil(t, v.Consistency.PerProvider[models.ProviderClaude].Citation)

	// 3 of 4 checks across both providers cited the domain.
	require.NotNil(t, v.CitationRate)
	assert.Equal(t, 75.0, *v.CitationRate)
}

func TestCompose_RollupsFollowFilters(t *testing.T) {
	// The rollup over a filtered subset must equal composing that subset
	// from scratch. Nothing is carried over from the unfiltered view.
	q1 := question("q1", "c1", "alpha", models.FunnelTop)
	q2 := question("q2", "c2", "beta", models.FunnelBottom)
	all := []models.CheckResult{
		check(q1, models.ProviderChatGPT, 2, true),
		check(q1, models.ProviderChatGPT, 1, true),
		check(q2, models.ProviderChatGPT, 2, false),
		check(q2, models.ProviderChatGPT, 1, false),
	}

	snapshot := aggregator.BuildRows([]models.Question{q1, q2}, all)
	req := view.Request{Filters: view.Filters{ConceptID: "c1"}}

	filtered := view.Compose(snapshot, req, now)

	scratch := view.Compose(
		aggregator.BuildRows([]models.Question{q1}, all[:2]),
		view.Request{},
		now,
	)

	assert.Equal(t, scratch.CitationRate, filtered.CitationRate)
	assert.Equal(t, scratch.Consistency.Account.Citation, filtered.Consistency.Account.Citation)
	require.NotNil(t, filtered.CitationRate)
	assert.Equal(t, 100.0, *filtered.CitationRate)
}

func TestCompose_ProviderFilterScopesEverything(t *testing.T) {
	q := question("q1", "c1", "alpha", models.FunnelTop)
	snapshot := aggregator.BuildRows([]models.Question{q}, []models.CheckResult{
		check(q, models.ProviderChatGPT, 1, true),
		check(q, models.ProviderClaude, 1, false),
	})

	v := view.Compose(snapshot, view.Request{
		Filters: view.Filters{Providers: []models.Provider{models.ProviderChatGPT}},
	}, now)

	require.NotNil(t, v.CitationRate)
	assert.Equal(t, 100.0, *v.CitationRate)
	assert.NotContains(t, v.ProviderRates, models.ProviderClaude)
	assert.NotContains(t, v.ProviderTrend, models.ProviderClaude)
}

func TestCompose_EmptyScope(t *testing.T) {
	v := view.Compose(aggregator.Snapshot{}, view.Request{}, now)

	assert.Empty(t, v.Rows)
	assert.Nil(t, v.CitationRate)
	assert.Nil(t, v.MentionRate)
	assert.Nil(t, v.Consistency.Account.Citation)
	assert.Equal(t, "stable", string(v.Trend.Direction))
}

func TestCompose_SortByCitationRateNilLast(t *testing.T) {
	checked := question("q1", "c1", "checked", models.FunnelTop)
	best := question("q2", "c1", "best", models.FunnelTop)
	never := question("q3", "c1", "never", models.FunnelTop)

	snapshot := aggregator.BuildRows(
		[]models.Question{checked, best, never},
		[]models.CheckResult{
			check(checked, models.ProviderChatGPT, 2, false),
			check(checked, models.ProviderChatGPT, 1, true),
			check(best, models.ProviderChatGPT, 1, true),
		},
	)

	v := view.Compose(snapshot, view.Request{Sort: view.SortCitationRate, Descending: true}, now)

	require.Len(t, v.Rows, 3)
	assert.Equal(t, "q2", v.Rows[0].Question.ID)
	assert.Equal(t, "q1", v.Rows[1].Question.ID)
	// Unchecked rows sort last regardless of direction.
	assert.Equal(t, "q3", v.Rows[2].Question.ID)
}

func TestCompose_Pagination(t *testing.T) {
	questions := []models.Question{
		question("q1", "c1", "a", models.FunnelTop),
		question("q2", "c1", "b", models.FunnelTop),
		question("q3", "c1", "c", models.FunnelTop),
	}
	snapshot := aggregator.BuildRows(questions, nil)

	v := view.Compose(snapshot, view.Request{Sort: view.SortQuestion, Page: 2, PageSize: 2}, now)

	assert.Equal(t, 3, v.TotalRows)
	require.Len(t, v.Rows, 1)
	assert.Equal(t, "q3", v.Rows[0].Question.ID)

	past := view.Compose(snapshot, view.Request{Page: 5, PageSize: 2}, now)
	assert.Empty(t, past.Rows)
	assert.Equal(t, 3, past.TotalRows)
}

func TestCompose_FunnelStageFilter(t *testing.T) {
	top := question("q1", "c1", "a", models.FunnelTop)
	bottom := question("q2", "c1", "b", models.FunnelBottom)
	snapshot := aggregator.BuildRows([]models.Question{top, bottom}, nil)

	v := view.Compose(snapshot, view.Request{Filters: view.Filters{FunnelStage: models.FunnelBottom}}, now)

	require.Len(t, v.Rows, 1)
	assert.Equal(t, "q2", v.Rows[0].Question.ID)
	assert.Equal(t, 1, v.TotalRows)
}
