// Package lane maps the priority category submitted with a ticket request to
// one of the two ordering lanes. The mapping is total: every recognized
// category maps to exactly one lane and anything else is rejected, so a
// ticket can never land in a lane by default.
package lane

import (
	"strings"

	"mqs/queue-service/internal/models"
	"mqs/queue-service/internal/store"
)

const (
	CategoryRegular  = "Regular"
	CategoryPriority = "Senior/PWD/Pregnant"
)

// Classify returns the lane for a submitted priority category. Matching is
// case-insensitive; unrecognized input returns store.ErrInvalidPriority.
func Classify(priority string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(priority)) {
	case strings.ToLower(CategoryRegular):
		return models.LaneRegular, nil
	case strings.ToLower(CategoryPriority):
		return models.LanePriority, nil
	default:
		return "", store.ErrInvalidPriority
	}
}

// ValidLane reports whether value names one of the two lanes.
func ValidLane(value string) bool {
	return value == models.LaneRegular || value == models.LanePriority
}
