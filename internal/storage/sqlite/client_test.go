package sqlite_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerves76/promptreviews-backend/internal/storage/models"
	"github.com/nerves76/promptreviews-backend/internal/storage/sqlite"
)

func newTestClient(t *testing.T) *sqlite.Client {
	t.Helper()

	client, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.InitSchema())
	return client
}

func seedAccount(t *testing.T, client *sqlite.Client, credits int) {
	t.Helper()
	require.NoError(t, client.UpsertAccount(&models.Account{
		ID:      "acct-1",
		Domain:  "example.com",
		Brand:   "Example",
		Credits: credits,
	}))
}

func TestAccountCredits(t *testing.T) {
	client := newTestClient(t)
	seedAccount(t, client, 10)

	ok, err := client.DeductCredits("acct-1", 4)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second deduction exceeds the remaining balance and must not go
	// negative.
	ok, err = client.DeductCredits("acct-1", 7)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, client.RefundCredits("acct-1", 2))

	account, err := client.GetAccount("acct-1")
	require.NoError(t, err)
	assert.Equal(t, 8, account.Credits)
}

func TestUpsertAccountKeepsCredits(t *testing.T) {
	client := newTestClient(t)
	seedAccount(t, client, 10)

	// Re-upserting with a different configured balance must not clobber the
	// live one.
	require.NoError(t, client.UpsertAccount(&models.Account{
		ID: "acct-1", Domain: "example.org", Brand: "Example", Credits: 99,
	}))

	account, err := client.GetAccount("acct-1")
	require.NoError(t, err)
	assert.Equal(t, "example.org", account.Domain)
	assert.Equal(t, 10, account.Credits)
}

func TestConceptsAndQuestionsRoundTrip(t *testing.T) {
	client := newTestClient(t)
	seedAccount(t, client, 0)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, client.InsertConcept(&models.Concept{
		ID: "c1", AccountID: "acct-1", Phrase: "best crm", CreatedAt: now,
	}))
	require.NoError(t, client.InsertQuestion(&models.Question{
		ID: "q1", ConceptID: "c1", Text: "what is the best crm?",
		FunnelStage: models.FunnelTop, CreatedAt: now,
	}))
	require.NoError(t, client.InsertQuestion(&models.Question{
		ID: "q2", ConceptID: "c1", Text: "crm pricing comparison",
		FunnelStage: models.FunnelBottom, GroupID: "g1", CreatedAt: now.Add(time.Second),
	}))

	concepts, err := client.ListConcepts("acct-1")
	require.NoError(t, err)
	require.Len(t, concepts, 1)
	require.Len(t, concepts[0].Questions, 2)
	assert.Equal(t, "q1", concepts[0].Questions[0].ID)
	assert.Equal(t, models.FunnelBottom, concepts[0].Questions[1].FunnelStage)
	assert.Equal(t, "g1", concepts[0].Questions[1].GroupID)
	assert.Empty(t, concepts[0].Questions[0].GroupID)

	require.NoError(t, client.UpdateQuestionText("q1", "what is the best crm in 2026?"))
	concepts, err = client.ListConcepts("acct-1")
	require.NoError(t, err)
	assert.Equal(t, "what is the best crm in 2026?", concepts[0].Questions[0].Text)
}

func TestCheckResultsSurviveQuestionDeletion(t *testing.T) {
	client := newTestClient(t)
	seedAccount(t, client, 0)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, client.InsertConcept(&models.Concept{
		ID: "c1", AccountID: "acct-1", Phrase: "best crm", CreatedAt: now,
	}))
	require.NoError(t, client.InsertQuestion(&models.Question{
		ID: "q1", ConceptID: "c1", Text: "best crm?",
		FunnelStage: models.FunnelTop, CreatedAt: now,
	}))

	position := 2
	require.NoError(t, client.InsertCheckResult(&models.CheckResult{
		ID: "r1", QuestionID: "q1", ConceptID: "c1", QuestionText: "best crm?",
		Provider: models.ProviderChatGPT, CheckedAt: now,
		DomainCited: true, CitationPosition: &position, TotalCitations: 5,
		BrandMentioned:  true,
		MentionedBrands: []models.MentionedBrand{{Title: "Example", Category: "own"}},
		Citations:       []models.Citation{{Position: 2, URL: "https://example.com/guide", IsOurs: true}},
		FanOutQueries:   []string{"crm comparison"},
	}))
	require.NoError(t, client.InsertCheckResult(&models.CheckResult{
		ID: "r2", QuestionID: "q1", ConceptID: "c1", QuestionText: "best crm?",
		Provider: models.ProviderClaude, CheckedAt: now.Add(time.Second),
	}))

	// Deleting the concept cascades to its questions but never to recorded
	// results; history is append-only.
	require.NoError(t, client.DeleteConcept("c1"))

	concepts, err := client.ListConcepts("acct-1")
	require.NoError(t, err)
	assert.Empty(t, concepts)

	results, err := client.GetRecentResultsByConcept("c1", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Newest first.
	assert.Equal(t, "r2", results[0].ID)
	assert.False(t, results[0].DomainCited)

	r1 := results[1]
	assert.True(t, r1.DomainCited)
	require.NotNil(t, r1.CitationPosition)
	assert.Equal(t, 2, *r1.CitationPosition)
	require.Len(t, r1.Citations, 1)
	assert.True(t, r1.Citations[0].IsOurs)
	require.Len(t, r1.MentionedBrands, 1)
	assert.Equal(t, "own", r1.MentionedBrands[0].Category)
	assert.Equal(t, []string{"crm comparison"}, r1.FanOutQueries)
}

func TestBatchRunLifecycle(t *testing.T) {
	client := newTestClient(t)
	seedAccount(t, client, 0)

	now := time.Now().Truncate(time.Second)
	run := &models.BatchRun{
		ID:             "run-1",
		AccountID:      "acct-1",
		Status:         models.RunPending,
		Providers:      []models.Provider{models.ProviderChatGPT, models.ProviderClaude},
		TotalQuestions: 4,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, client.InsertBatchRun(run))

	active, err := client.GetActiveRun("acct-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "run-1", active.ID)
	assert.Equal(t, run.Providers, active.Providers)

	run.Status = models.RunProcessing
	run.ProcessedQuestions = 2
	run.SuccessfulChecks = 3
	run.FailedChecks = 1
	require.NoError(t, client.UpdateBatchRun(run))

	fetched, err := client.GetBatchRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunProcessing, fetched.Status)
	assert.Equal(t, 2, fetched.ProcessedQuestions)
	assert.Equal(t, 50, fetched.Progress())

	run.Status = models.RunCompleted
	run.ProcessedQuestions = 4
	require.NoError(t, client.UpdateBatchRun(run))

	active, err = client.GetActiveRun("acct-1")
	require.NoError(t, err)
	assert.Nil(t, active)

	recent, err := client.GetMostRecentRun("acct-1")
	require.NoError(t, err)
	require.NotNil(t, recent)
	assert.Equal(t, "run-1", recent.ID)
}

func TestGetMostRecentRunEmpty(t *testing.T) {
	client := newTestClient(t)
	seedAccount(t, client, 0)

	run, err := client.GetMostRecentRun("acct-1")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestFailedPairsAndRecovery(t *testing.T) {
	client := newTestClient(t)
	seedAccount(t, client, 0)

	now := time.Now().Truncate(time.Second)
	run := &models.BatchRun{
		ID: "run-1", AccountID: "acct-1", Status: models.RunProcessing,
		Providers:      []models.Provider{models.ProviderChatGPT},
		TotalQuestions: 2, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, client.InsertBatchRun(run))

	require.NoError(t, client.InsertCheckFailure("run-1", "q1", models.ProviderChatGPT))
	// Duplicate failure records are collapsed.
	require.NoError(t, client.InsertCheckFailure("run-1", "q1", models.ProviderChatGPT))
	require.NoError(t, client.InsertCheckFailure("run-1", "q2", models.ProviderChatGPT))

	pairs, err := client.GetFailedPairs("run-1")
	require.NoError(t, err)
	assert.Len(t, pairs, 2)

	run.Status = models.RunCompleted
	run.FailedChecks = 2
	require.NoError(t, client.UpdateBatchRun(run))

	recovered, err := client.GetRecentRunWithFailures("acct-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.NotNil(t, recovered)
	assert.Equal(t, "run-1", recovered.ID)

	// Outside the look-back window nothing is recovered.
	recovered, err = client.GetRecentRunWithFailures("acct-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, recovered)
}
