package checker

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/nerves76/promptreviews-backend/pkg/logger"
)

// TitleResolver fetches a cited page and reads its title tag, for providers
// that return bare URLs. Failures degrade to an empty title.
type TitleResolver struct {
	httpClient *http.Client
}

func NewTitleResolver() *TitleResolver {
	return &TitleResolver{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (r *TitleResolver) Resolve(ctx context.Context, link string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", "promptreviews-bot/1.0")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		logger.Debug("Title fetch failed", zap.String("url", link), zap.Error(err))
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(doc.Find("title").First().Text())
}
