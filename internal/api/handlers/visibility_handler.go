package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/nerves76/promptreviews-backend/internal/aggregator"
	"github.com/nerves76/promptreviews-backend/internal/cache/redis"
	"github.com/nerves76/promptreviews-backend/internal/consistency"
	"github.com/nerves76/promptreviews-backend/internal/metrics"
	"github.com/nerves76/promptreviews-backend/internal/storage/models"
	"github.com/nerves76/promptreviews-backend/internal/trend"
	"github.com/nerves76/promptreviews-backend/internal/view"
	"github.com/nerves76/promptreviews-backend/pkg/logger"
)

type VisibilityHandler struct {
	accountID string
	fetcher   *aggregator.Fetcher
	cache     *redis.Client
	scheduler *view.Scheduler
	viewTTL   time.Duration
}

func NewVisibilityHandler(accountID string, fetcher *aggregator.Fetcher, cache *redis.Client, viewTTL time.Duration) *VisibilityHandler {
	return &VisibilityHandler{
		accountID: accountID,
		fetcher:   fetcher,
		cache:     cache,
		scheduler: view.NewScheduler(),
		viewTTL:   viewTTL,
	}
}

// HandleView serves the composed visibility table: filtered rows plus the
// consistency and trend rollups derived from exactly that filtered set.
func (h *VisibilityHandler) HandleView(c *fiber.Ctx) error {
	req, err := parseViewRequest(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	fingerprint := fmt.Sprintf("%+v", req)
	cacheKey := redis.ViewKey(h.accountID, fingerprint)

	if h.cache != nil {
		var cached fiber.Map
		hit, err := h.cache.GetView(c.Context(), cacheKey, &cached)
		if err != nil {
			logger.Warn("View cache lookup failed", zap.Error(err))
		}
		if hit {
			metrics.CacheHits.WithLabelValues("view").Inc()
			return c.JSON(cached)
		}
		metrics.CacheMisses.WithLabelValues("view").Inc()
	}

	start := time.Now()
	questions, results, err := h.fetcher.FetchAll(c.Context(), h.accountID)
	if err != nil {
		logger.Error("Failed to fetch visibility data", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load visibility data",
		})
	}

	snapshot := aggregator.BuildRows(questions, results)
	metrics.AggregationDuration.Observe(time.Since(start).Seconds())

	// Deferred recompute path: kick the background compose and serve the
	// last published view immediately. Correctness never depends on it; the
	// synchronous path below is always available.
	if c.QueryBool("deferred") {
		h.scheduler.Submit(snapshot, req, time.Now())
		if latest, ok := h.scheduler.Latest(); ok {
			return c.Status(fiber.StatusAccepted).JSON(renderView(latest))
		}
	}

	composeStart := time.Now()
	v := view.Compose(snapshot, req, time.Now())
	metrics.ViewComposeDuration.WithLabelValues("false").Observe(time.Since(composeStart).Seconds())

	payload := renderView(&v)

	if h.cache != nil {
		if err := h.cache.SetView(c.Context(), cacheKey, payload, h.viewTTL); err != nil {
			logger.Warn("View cache store failed", zap.Error(err))
		}
	}

	return c.JSON(payload)
}

func parseViewRequest(c *fiber.Ctx) (view.Request, error) {
	req := view.Request{
		Filters: view.Filters{
			ConceptID: c.Query("concept"),
			GroupID:   c.Query("group"),
		},
		Sort:       view.SortKey(c.Query("sort", string(view.SortQuestion))),
		Descending: c.QueryBool("desc"),
		Page:       c.QueryInt("page", 1),
		PageSize:   c.QueryInt("pageSize", view.DefaultPageSize),
	}

	if stage := c.Query("stage"); stage != "" {
		funnel := models.FunnelStage(stage)
		if !funnel.Valid() {
			return req, fmt.Errorf("unknown funnel stage %q", stage)
		}
		req.Filters.FunnelStage = funnel
	}

	for _, raw := range splitCSV(c.Query("providers")) {
		provider := models.Provider(raw)
		if !provider.Valid() {
			return req, fmt.Errorf("unknown provider %q", raw)
		}
		req.Filters.Providers = append(req.Filters.Providers, provider)
	}

	return req, nil
}

func renderView(v *view.View) fiber.Map {
	rows := make([]fiber.Map, 0, len(v.Rows))
	for _, row := range v.Rows {
		rows = append(rows, renderRow(row, v.Providers))
	}

	providerRates := make(fiber.Map, len(v.Providers))
	for provider, rate := range v.ProviderRates {
		providerRates[string(provider)] = rate
	}

	providerTrends := make(fiber.Map, len(v.ProviderTrend))
	for provider, t := range v.ProviderTrend {
		providerTrends[string(provider)] = renderTrend(t)
	}

	providerConsistency := make(fiber.Map, len(v.Consistency.PerProvider))
	for provider, score := range v.Consistency.PerProvider {
		providerConsistency[string(provider)] = fiber.Map{
			"citation": score.Citation,
			"mention":  score.Mention,
		}
	}

	return fiber.Map{
		"rows":       rows,
		"total_rows": v.TotalRows,
		"page":       v.Page,
		"page_size":  v.PageSize,
		"summary": fiber.Map{
			"citation_rate":  v.CitationRate,
			"mention_rate":   v.MentionRate,
			"provider_rates": providerRates,
			"unique_checks":  v.UniqueChecks,
			"consistency": fiber.Map{
				"account": fiber.Map{
					"citation": v.Consistency.Account.Citation,
					"mention":  v.Consistency.Account.Mention,
				},
				"providers": providerConsistency,
			},
			"trend":           renderTrend(v.Trend),
			"provider_trends": providerTrends,
		},
	}
}

func renderRow(row aggregator.QuestionRow, providers []models.Provider) fiber.Map {
	latest := make(fiber.Map, len(providers))
	consistencyByProvider := make(fiber.Map, len(providers))

	for _, provider := range providers {
		if result := row.Latest[provider]; result != nil {
			latest[string(provider)] = fiber.Map{
				"checked_at":        result.CheckedAt.Unix(),
				"domain_cited":      result.DomainCited,
				"citation_position": result.CitationPosition,
				"total_citations":   result.TotalCitations,
				"brand_mentioned":   result.BrandMentioned,
			}
		} else {
			latest[string(provider)] = nil
		}

		stats := row.Stats[provider]
		consistencyByProvider[string(provider)] = fiber.Map{
			"citation": consistency.PairScore(stats.Total, stats.Cited),
			"mention":  consistency.PairScore(stats.Total, stats.Mentioned),
			"checks":   stats.Total,
		}
	}

	return fiber.Map{
		"question_id":  row.Question.ID,
		"concept_id":   row.Question.ConceptID,
		"question":     row.Question.Text,
		"funnel_stage": string(row.Question.FunnelStage),
		"group_id":     row.Question.GroupID,
		"latest":       latest,
		"consistency":  consistencyByProvider,
	}
}

func renderTrend(t trend.Trend) fiber.Map {
	return fiber.Map{
		"direction":     string(t.Direction),
		"change":        t.Change,
		"current_rate":  t.CurrentRate,
		"previous_rate": t.PreviousRate,
	}
}

func splitCSV(raw string) []string {
	var parts []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
