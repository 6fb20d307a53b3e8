package checker

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/nerves76/promptreviews-backend/internal/storage/models"
	"github.com/nerves76/promptreviews-backend/pkg/circuitbreaker"
	"github.com/nerves76/promptreviews-backend/pkg/logger"
	"github.com/nerves76/promptreviews-backend/pkg/retry"
)

var urlPattern = regexp.MustCompile(`https?://[^\s)\]>"']+`)

// Client runs visibility checks through an OpenAI-compatible chat API. Any
// provider exposing that surface (ChatGPT itself, Perplexity, gateways) can
// back a Client by setting its base URL and model.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	domain      string
	brand       string
	mentions    *MentionExtractor
	titles      *TitleResolver
	cb          *circuitbreaker.Breaker
	retryConfig retry.Config
}

type ClientConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
	Domain      string
	Brand       string
}

func NewClient(cfg ClientConfig) *Client {
	apiConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiConfig.BaseURL = cfg.BaseURL
	}

	cb := circuitbreaker.New("checker", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	logger.Info("Checker client initialized",
		zap.String("model", cfg.Model),
		zap.String("domain", cfg.Domain),
	)

	return &Client{
		client:      openai.NewClientWithConfig(apiConfig),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
		domain:      cfg.Domain,
		brand:       cfg.Brand,
		mentions:    NewMentionExtractor(cfg.Brand),
		titles:      NewTitleResolver(),
		cb:          cb,
		retryConfig: retryConfig,
	}
}

const checkSystemPrompt = `You are a helpful assistant answering a buyer's question.
Answer naturally, then finish with two sections:

SOURCES:
A numbered list of the web pages you would cite, one URL per line.

RELATED SEARCHES:
The search queries you would issue while researching this answer, one per line.`

func (c *Client) Check(ctx context.Context, question models.Question, provider models.Provider) (*models.CheckResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var content string
	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model: c.model,
					Messages: []openai.ChatCompletionMessage{
						{Role: openai.ChatMessageRoleSystem, Content: checkSystemPrompt},
						{Role: openai.ChatMessageRoleUser, Content: question.Text},
					},
					Temperature: c.temperature,
					MaxTokens:   c.maxTokens,
				},
			)
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}

			logger.Debug("Check completion generated",
				zap.String("question_id", question.ID),
				zap.String("provider", string(provider)),
				zap.Int("total_tokens", resp.Usage.TotalTokens),
			)

			content = resp.Choices[0].Message.Content
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	result := c.parseResponse(ctx, question, provider, content)
	return result, nil
}

func (c *Client) parseResponse(ctx context.Context, question models.Question, provider models.Provider, content string) *models.CheckResult {
	result := &models.CheckResult{
		ID:           uuid.New().String(),
		QuestionID:   question.ID,
		ConceptID:    question.ConceptID,
		QuestionText: question.Text,
		Provider:     provider,
		CheckedAt:    time.Now(),
		Response:     content,
	}

	answer, sources, related := splitSections(content)

	position := 0
	seen := make(map[string]bool)
	for _, raw := range urlPattern.FindAllString(sources, -1) {
		link := strings.TrimRight(raw, ".,;")
		if seen[link] {
			continue
		}
		seen[link] = true
		position++

		ours := sameDomain(link, c.domain)
		citation := models.Citation{
			Position: position,
			URL:      link,
			Title:    c.titles.Resolve(ctx, link),
			IsOurs:   ours,
		}
		result.Citations = append(result.Citations, citation)
		result.SearchResults = append(result.SearchResults, models.SearchResult{
			URL:   link,
			Title: citation.Title,
		})

		if ours && result.CitationPosition == nil {
			pos := position
			result.CitationPosition = &pos
		}
	}
	result.TotalCitations = len(result.Citations)
	result.DomainCited = result.CitationPosition != nil

	result.FanOutQueries = splitLines(related)

	result.MentionedBrands = c.mentions.Extract(answer)
	for _, brand := range result.MentionedBrands {
		if strings.EqualFold(brand.Title, c.brand) {
			result.BrandMentioned = true
			break
		}
	}

	return result
}

func splitSections(content string) (answer, sources, related string) {
	answer = content

	if idx := strings.Index(content, "SOURCES:"); idx >= 0 {
		answer = content[:idx]
		rest := content[idx+len("SOURCES:"):]
		sources = rest
		if ridx := strings.Index(rest, "RELATED SEARCHES:"); ridx >= 0 {
			sources = rest[:ridx]
			related = rest[ridx+len("RELATED SEARCHES:"):]
		}
	}

	return answer, sources, related
}

func splitLines(block string) []string {
	var lines []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*0123456789. "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func sameDomain(link, domain string) bool {
	if domain == "" {
		return false
	}

	parsed, err := url.Parse(link)
	if err != nil {
		return false
	}

	host := strings.ToLower(parsed.Hostname())
	domain = strings.ToLower(domain)

	return host == domain || strings.HasSuffix(host, "."+domain)
}
