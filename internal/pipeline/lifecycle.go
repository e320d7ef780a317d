// Package pipeline is the single execution path for deliverable runs: it
// creates the version, resolves extraction scope, drafts content and walks
// the version through review to delivery.
package pipeline

import (
	"fmt"

	"github.com/stellarlinkco/briefops/internal/deliverable"
)

// transitions is the closed version state machine. Approved, rejected and
// failed are terminal; staged may approve directly without a review step.
var transitions = map[deliverable.VersionStatus][]deliverable.VersionStatus{
	deliverable.VersionGenerating: {deliverable.VersionStaged, deliverable.VersionFailed},
	deliverable.VersionStaged:     {deliverable.VersionReviewing, deliverable.VersionApproved, deliverable.VersionRejected},
	deliverable.VersionReviewing:  {deliverable.VersionApproved, deliverable.VersionRejected},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to deliverable.VersionStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a descriptive error for a forbidden move.
func CheckTransition(from, to deliverable.VersionStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("version cannot move from %s to %s", from, to)
	}
	return nil
}
