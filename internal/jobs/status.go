package jobs

import (
	"github.com/Spinnernicholas/cocoa-canvas/internal/queue"
	"github.com/Spinnernicholas/cocoa-canvas/internal/types"
)

// allowedTransitions is the job lifecycle edge set. Anything not listed here
// is an illegal transition and surfaces as a 400 at the control plane.
var allowedTransitions = map[string]map[string]bool{
	types.JobStatusPending: {
		types.JobStatusProcessing: true,
		types.JobStatusPaused:     true,
		types.JobStatusCancelled:  true,
		types.JobStatusFailed:     true,
	},
	types.JobStatusProcessing: {
		types.JobStatusCompleted: true,
		types.JobStatusFailed:    true,
		types.JobStatusPaused:    true,
		types.JobStatusCancelled: true,
	},
	types.JobStatusPaused: {
		types.JobStatusPending:   true,
		types.JobStatusCancelled: true,
		types.JobStatusFailed:    true,
	},
}

func CanTransition(from, to string) bool {
	edges, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// QueueForType routes a job type to its broker queue. Anything that is not an
// import or a geocode is a scheduled task.
func QueueForType(jobType string) string {
	switch jobType {
	case types.JobTypeVoterImport:
		return queue.QueueVoterImport
	case types.JobTypeGeocoding:
		return queue.QueueGeocode
	default:
		return queue.QueueScheduled
	}
}
