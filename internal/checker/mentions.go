package checker

import (
	"strings"

	prose "github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/nerves76/promptreviews-backend/internal/storage/models"
	"github.com/nerves76/promptreviews-backend/pkg/logger"
)

// MentionExtractor pulls brand mentions out of a model's answer text using
// named-entity recognition, plus a direct match for the account's own brand
// so short or unusual brand names are never missed.
type MentionExtractor struct {
	ownBrand string
}

func NewMentionExtractor(ownBrand string) *MentionExtractor {
	return &MentionExtractor{ownBrand: ownBrand}
}

func (m *MentionExtractor) Extract(text string) []models.MentionedBrand {
	var brands []models.MentionedBrand
	seen := make(map[string]bool)

	add := func(title, category string) {
		key := strings.ToLower(title)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		brands = append(brands, models.MentionedBrand{Title: title, Category: category})
	}

	doc, err := prose.NewDocument(text)
	if err != nil {
		logger.Warn("Entity extraction failed", zap.Error(err))
	} else {
		for _, ent := range doc.Entities() {
			add(strings.TrimSpace(ent.Text), ent.Label)
		}
	}

	if m.ownBrand != "" && containsFold(text, m.ownBrand) {
		add(m.ownBrand, "own")
	}

	return brands
}

func containsFold(text, substr string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(substr))
}
