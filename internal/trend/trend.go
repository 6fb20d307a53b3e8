package trend

import (
	"math"
	"time"

	"github.com/nerves76/promptreviews-backend/internal/storage/models"
)

// PeriodDays is the width of each comparison window: the current period is
// the last 30 days, the previous period the 30 days before that.
const PeriodDays = 30

// StableThresholdPoints is the fixed business rule: movements under two
// percentage points are reported as stable.
const StableThresholdPoints = 2.0

type Direction string

const (
	Up     Direction = "up"
	Down   Direction = "down"
	Stable Direction = "stable"
)

type Trend struct {
	Direction    Direction
	Change       int
	CurrentRate  *float64
	PreviousRate *float64
}

// Calculate compares the citation rate of the last 30 days against the 30
// days before that.
func Calculate(results []models.CheckResult, now time.Time) Trend {
	currentStart := now.AddDate(0, 0, -PeriodDays)
	previousStart := now.AddDate(0, 0, -2*PeriodDays)

	var currentTotal, currentCited, previousTotal, previousCited int
	for _, result := range results {
		switch {
		case result.CheckedAt.After(currentStart):
			currentTotal++
			if result.DomainCited {
				currentCited++
			}
		case result.CheckedAt.After(previousStart):
			previousTotal++
			if result.DomainCited {
				previousCited++
			}
		}
	}

	current := rate(currentCited, currentTotal)
	previous := rate(previousCited, previousTotal)

	t := Trend{Direction: Stable, CurrentRate: current, PreviousRate: previous}

	if current == nil {
		return t
	}

	if previous == nil || *previous == 0 {
		if *current > 0 {
			t.Direction = Up
			t.Change = int(math.Round(*current))
		}
		return t
	}

	change := *current - *previous
	if math.Abs(change) < StableThresholdPoints {
		return t
	}

	if change > 0 {
		t.Direction = Up
	} else {
		t.Direction = Down
	}
	t.Change = int(math.Round(change))

	return t
}

// PerProvider computes one trend per provider over only that provider's
// results, honouring the active provider filter.
func PerProvider(results []models.CheckResult, providers []models.Provider, now time.Time) map[models.Provider]Trend {
	byProvider := make(map[models.Provider][]models.CheckResult, len(providers))
	included := make(map[models.Provider]bool, len(providers))
	for _, p := range providers {
		included[p] = true
	}

	for _, result := range results {
		if !included[result.Provider] {
			continue
		}
		byProvider[result.Provider] = append(byProvider[result.Provider], result)
	}

	trends := make(map[models.Provider]Trend, len(providers))
	for _, p := range providers {
		trends[p] = Calculate(byProvider[p], now)
	}

	return trends
}

func rate(cited, total int) *float64 {
	if total == 0 {
		return nil
	}
	r := float64(cited) / float64(total) * 100
	return &r
}
