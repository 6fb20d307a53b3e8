package view

import (
	"sort"
	"strings"
	"time"

	"github.com/nerves76/promptreviews-backend/internal/aggregator"
	"github.com/nerves76/promptreviews-backend/internal/consistency"
	"github.com/nerves76/promptreviews-backend/internal/storage/models"
	"github.com/nerves76/promptreviews-backend/internal/trend"
)

const DefaultPageSize = 20

type SortKey string

const (
	SortQuestion     SortKey = "question"
	SortCitationRate SortKey = "citation_rate"
	SortLastChecked  SortKey = "last_checked"
)

type Filters struct {
	ConceptID   string
	FunnelStage models.FunnelStage
	GroupID     string
	Providers   []models.Provider
}

type Request struct {
	Filters    Filters
	Sort       SortKey
	Descending bool
	Page       int
	PageSize   int
}

// View is one composed page of the visibility table plus the rollups that
// must stay consistent with it. Every aggregate here is derived from the
// filtered row set, never from a cached global value.
type View struct {
	Rows      []aggregator.QuestionRow
	TotalRows int
	Page      int
	PageSize  int

	Providers     []models.Provider
	CitationRate  *float64
	MentionRate   *float64
	ProviderRates map[models.Provider]*float64
	Consistency   consistency.Rollup
	Trend         trend.Trend
	ProviderTrend map[models.Provider]trend.Trend
	UniqueChecks  int
}

// Compose filters, scores, sorts and paginates one snapshot. Pure function;
// calling it twice over the same snapshot yields identical aggregates.
func Compose(snapshot aggregator.Snapshot, req Request, now time.Time) View {
	providers := req.Filters.Providers
	if len(providers) == 0 {
		providers = models.AllProviders
	}

	rows := filterRows(snapshot.Rows, req.Filters)

	// In-scope results for the trend windows: the filtered rows' history,
	// restricted to the active providers.
	var inScope []models.CheckResult
	for _, row := range rows {
		for _, p := range providers {
			inScope = append(inScope, row.History[p]...)
		}
	}

	v := View{
		TotalRows:     len(rows),
		Page:          req.Page,
		PageSize:      req.PageSize,
		Providers:     providers,
		ProviderRates: make(map[models.Provider]*float64, len(providers)),
		Consistency:   consistency.Compute(rows, providers),
		Trend:         trend.Calculate(inScope, now),
		ProviderTrend: trend.PerProvider(inScope, providers, now),
		UniqueChecks:  snapshot.UniqueChecks,
	}

	var totalChecks, totalCited, totalMentioned int
	for _, p := range providers {
		var providerTotal, providerCited int
		for _, row := range rows {
			stats := row.Stats[p]
			providerTotal += stats.Total
			providerCited += stats.Cited
			totalMentioned += stats.Mentioned
		}
		totalChecks += providerTotal
		totalCited += providerCited
		v.ProviderRates[p] = percentage(providerCited, providerTotal)
	}
	v.CitationRate = percentage(totalCited, totalChecks)
	v.MentionRate = percentage(totalMentioned, totalChecks)

	sortRows(rows, req, providers)

	v.Rows = paginate(rows, req.Page, req.PageSize)
	if v.PageSize <= 0 {
		v.PageSize = DefaultPageSize
	}
	if v.Page <= 0 {
		v.Page = 1
	}

	return v
}

func filterRows(rows []aggregator.QuestionRow, f Filters) []aggregator.QuestionRow {
	filtered := make([]aggregator.QuestionRow, 0, len(rows))
	for _, row := range rows {
		if f.ConceptID != "" && row.Question.ConceptID != f.ConceptID {
			continue
		}
		if f.FunnelStage != "" && row.Question.FunnelStage != f.FunnelStage {
			continue
		}
		if f.GroupID != "" && row.Question.GroupID != f.GroupID {
			continue
		}
		filtered = append(filtered, row)
	}
	return filtered
}

func sortRows(rows []aggregator.QuestionRow, req Request, providers []models.Provider) {
	less := func(a, b aggregator.QuestionRow) bool {
		return strings.ToLower(a.Question.Text) < strings.ToLower(b.Question.Text)
	}

	switch req.Sort {
	case SortCitationRate:
		less = func(a, b aggregator.QuestionRow) bool {
			ra, rb := rowCitationRate(a, providers), rowCitationRate(b, providers)
			// Rows without a rate sort last in either direction.
			if ra == nil || rb == nil {
				return rb == nil && ra != nil
			}
			return *ra < *rb
		}
	case SortLastChecked:
		less = func(a, b aggregator.QuestionRow) bool {
			return lastChecked(a, providers).Before(lastChecked(b, providers))
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if req.Descending {
			return less(rows[j], rows[i])
		}
		return less(rows[i], rows[j])
	})
}

func rowCitationRate(row aggregator.QuestionRow, providers []models.Provider) *float64 {
	var total, cited int
	for _, p := range providers {
		stats := row.Stats[p]
		total += stats.Total
		cited += stats.Cited
	}
	return percentage(cited, total)
}

func lastChecked(row aggregator.QuestionRow, providers []models.Provider) time.Time {
	var latest time.Time
	for _, p := range providers {
		if result := row.Latest[p]; result != nil && result.CheckedAt.After(latest) {
			latest = result.CheckedAt
		}
	}
	return latest
}

func paginate(rows []aggregator.QuestionRow, page, size int) []aggregator.QuestionRow {
	if size <= 0 {
		size = DefaultPageSize
	}
	if page <= 0 {
		page = 1
	}

	start := (page - 1) * size
	if start >= len(rows) {
		return nil
	}

	end := start + size
	if end > len(rows) {
		end = len(rows)
	}

	return rows[start:end]
}

func percentage(part, total int) *float64 {
	if total == 0 {
		return nil
	}
	rate := float64(part) / float64(total) * 100
	return &rate
}
