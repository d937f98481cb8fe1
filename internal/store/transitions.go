package store

import "mqs/queue-service/internal/models"

// A ticket moves Waiting -> Serving -> Complete, or Waiting -> Serving ->
// Void. Terminal statuses accept nothing. A ticket must be called before it
// can terminate, so Waiting never goes straight to Complete or Void.
var transitionMap = map[string][]string{
	models.StatusServing:  {models.StatusWaiting},
	models.StatusComplete: {models.StatusServing},
	models.StatusVoid:     {models.StatusServing},
}

func ValidTransition(from, to string) bool {
	allowed, ok := transitionMap[to]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == from {
			return true
		}
	}
	return false
}
