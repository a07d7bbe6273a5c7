// Package sync implements the incident discovery-and-lifecycle pipeline: a
// recurring discovery pass that finds newly created SIGAE incidents, and a
// per-incident sync worker that re-fetches each open incident until it is
// eligible to close. Retry and polling are the same mechanism here: a job
// that fails or finds its incident still open re-enqueues itself under the
// same dedup key with one fixed delay.
package sync

import (
	"time"

	"sigsync/internal/types"
)

// CloseEligible reports whether an incident may be marked closed: its age
// must exceed closingAge AND no dispatched vehicle may still be in scene.
//
// The age comparison is strict, so an incident exactly at the threshold stays
// open for one more cycle. A sentinel incident timestamp never closes: an
// unknown age reads as infinite otherwise, which would close a fresh incident
// whose upstream record is still incomplete.
//
// Pending "0"/"0" coordinates deliberately do not factor in. An incident can
// close while still un-geocoded; only age and vehicles in scene are
// consulted.
func CloseEligible(incidentTimestamp time.Time, vehiclesInScene int, closingAge time.Duration, now time.Time) bool {
	if types.IsSentinelTime(incidentTimestamp) {
		return false
	}
	return now.Sub(incidentTimestamp) > closingAge && vehiclesInScene == 0
}
