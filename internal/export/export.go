package export

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/nerves76/promptreviews-backend/pkg/logger"
)

// Service triggers the export collaborator and streams its response to a
// file. The file format is the collaborator's concern; nothing here parses
// the payload.
type Service struct {
	endpoint   string
	dir        string
	httpClient *http.Client
}

func NewService(endpoint, dir string) *Service {
	return &Service{
		endpoint: endpoint,
		dir:      dir,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// Download requests a full check-result export for the account and writes it
// under the export directory, returning the file path.
func (s *Service) Download(ctx context.Context, accountID string) (string, error) {
	if s.endpoint == "" {
		return "", fmt.Errorf("export endpoint not configured")
	}

	target := fmt.Sprintf("%s?%s", s.endpoint, url.Values{"account": {accountID}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build export request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("export request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("export returned status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	path := filepath.Join(s.dir, fmt.Sprintf("checks-%s-%d.csv", accountID, time.Now().Unix()))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to stream export: %w", err)
	}

	logger.Info("Export downloaded",
		zap.String("account_id", accountID),
		zap.String("path", path),
		zap.Int64("bytes", written),
	)

	return path, nil
}
