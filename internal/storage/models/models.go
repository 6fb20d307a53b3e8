package models

import "time"

type Provider string

const (
	ProviderChatGPT    Provider = "chatgpt"
	ProviderClaude     Provider = "claude"
	ProviderPerplexity Provider = "perplexity"
	ProviderGemini     Provider = "gemini"
)

// AllProviders is the closed provider set shared with collaborators.
var AllProviders = []Provider{ProviderChatGPT, ProviderClaude, ProviderPerplexity, ProviderGemini}

func (p Provider) Valid() bool {
	for _, known := range AllProviders {
		if p == known {
			return true
		}
	}
	return false
}

type FunnelStage string

const (
	FunnelTop    FunnelStage = "top"
	FunnelMiddle FunnelStage = "middle"
	FunnelBottom FunnelStage = "bottom"
)

func (s FunnelStage) Valid() bool {
	return s == FunnelTop || s == FunnelMiddle || s == FunnelBottom
}

type Concept struct {
	ID        string
	AccountID string
	Phrase    string
	Questions []Question
	CreatedAt time.Time
}

type Question struct {
	ID          string
	ConceptID   string
	Text        string
	FunnelStage FunnelStage
	GroupID     string
	CreatedAt   time.Time
}

type Citation struct {
	Position int
	URL      string
	Title    string
	IsOurs   bool
}

type MentionedBrand struct {
	Title    string
	Category string
}

type SearchResult struct {
	URL   string
	Title string
}

// CheckResult is one LLM query execution. Rows are append-only; the current
// status of a question x provider pair is the row with the latest CheckedAt.
type CheckResult struct {
	ID               string
	QuestionID       string
	ConceptID        string
	QuestionText     string
	Provider         Provider
	CheckedAt        time.Time
	DomainCited      bool
	CitationPosition *int
	TotalCitations   int
	BrandMentioned   bool
	MentionedBrands  []MentionedBrand
	Response         string
	Citations        []Citation
	SearchResults    []SearchResult
	FanOutQueries    []string
}

type RunStatus string

const (
	RunScheduled  RunStatus = "scheduled"
	RunPending    RunStatus = "pending"
	RunProcessing RunStatus = "processing"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

func (s RunStatus) Active() bool {
	return s == RunPending || s == RunProcessing
}

func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

type BatchRun struct {
	ID                   string
	AccountID            string
	Status               RunStatus
	Providers            []Provider
	TotalQuestions       int
	ProcessedQuestions   int
	SuccessfulChecks     int
	FailedChecks         int
	CreditsRefunded      int
	ErrorMessage         string
	RetryFailedFromRunID string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Progress is derived from the processed/total counters and is never stored
// or set independently.
func (r *BatchRun) Progress() int {
	if r.TotalQuestions == 0 {
		return 0
	}
	p := float64(r.ProcessedQuestions) / float64(r.TotalQuestions) * 100
	return int(p + 0.5)
}

// FailedPair identifies a question x provider combination that failed in a
// prior run, used to scope retry runs.
type FailedPair struct {
	QuestionID string
	Provider   Provider
}

type Account struct {
	ID      string
	Domain  string
	Brand   string
	Credits int
}
