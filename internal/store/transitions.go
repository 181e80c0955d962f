package store

import "github.com/NorhanGamalY/Queue-Management-System-Backend/internal/models"

var transitionMap = map[string][]string{
	"call":     {models.StatusWaiting},
	"start":    {models.StatusCalled, models.StatusWaiting},
	"complete": {models.StatusWaiting, models.StatusCalled, models.StatusInProgress},
	"skip":     {models.StatusWaiting},
	"cancel":   {models.StatusWaiting, models.StatusCalled, models.StatusInProgress},
}

// targetStatus maps an action to the status a ticket lands in.
var targetStatus = map[string]string{
	"call":     models.StatusCalled,
	"start":    models.StatusInProgress,
	"complete": models.StatusDone,
	"skip":     models.StatusMissed,
	"cancel":   models.StatusCancelled,
}

// AllowedFrom returns the statuses an action may start from.
func AllowedFrom(action string) []string {
	return transitionMap[action]
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

func TargetStatus(action string) (string, bool) {
	status, ok := targetStatus[action]
	return status, ok
}

// ReleasesSlot reports whether the action frees a capacity slot. The slot is
// held from waiting through in_progress and released on any terminal
// transition, so the release depends only on whether the prior status still
// occupied a slot.
func ReleasesSlot(action, fromStatus string) bool {
	target, ok := targetStatus[action]
	if !ok {
		return false
	}
	return models.IsTerminal(target) && models.OccupiesSlot(fromStatus)
}
