// Package schedule holds the pure scheduling arithmetic: due/overdue
// computation, execution ordering and generation-number allocation.
// Nothing in this package performs I/O; callers feed it timestamps and
// live archive listings and act on the results.
package schedule

import (
	"fmt"
	"sort"
)

// Status describes how a unit relates to its backup interval at a given
// instant.
type Status struct {
	// AgeSeconds is the elapsed time since the unit last succeeded.
	AgeSeconds int64
	// Ratio is age divided by the interval; above 1.0 the unit is
	// overdue, and the further above, the longer it has been neglected.
	Ratio float64
	// Due reports whether the unit must run now.
	Due bool
}

// ClockSkewError reports a last-success timestamp that lies in the
// future. That state can only come from a corrupted store or a clock
// jump and is a fatal consistency violation, never silently clamped.
type ClockSkewError struct {
	LastSuccess int64
	Now         int64
}

func (e *ClockSkewError) Error() string {
	return fmt.Sprintf("last success %d is in the future (now %d)", e.LastSuccess, e.Now)
}

// Evaluate computes the scheduling status of a unit. lastSuccess and
// now are unix seconds, with lastSuccess 0 meaning "never succeeded".
// force marks the unit due regardless of its age.
func Evaluate(lastSuccess, intervalSeconds, now int64, force bool) (Status, error) {
	age := now - lastSuccess
	if age < 0 {
		return Status{}, &ClockSkewError{LastSuccess: lastSuccess, Now: now}
	}

	divisor := intervalSeconds
	if divisor < 1 {
		divisor = 1
	}

	return Status{
		AgeSeconds: age,
		Ratio:      float64(age) / float64(divisor),
		Due:        force || age > intervalSeconds,
	}, nil
}

// Candidate pairs an archive name with its scheduling status.
type Candidate struct {
	Name   string
	Status Status
}

// OrderByMostOverdue sorts candidates by descending overdue ratio, so a
// run's limited time budget services the most neglected archives first.
// The sort is stable: equally overdue archives keep configuration order.
func OrderByMostOverdue(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Status.Ratio > candidates[j].Status.Ratio
	})
}

// MaterializedName returns the repository-level identifier of one
// generation of an archive: "<archive>.<generation>".
func MaterializedName(archiveName string, generation int) string {
	return fmt.Sprintf("%s.%d", archiveName, generation)
}

// Prefix returns the namespace prefix under which all generations of an
// archive live: "<archive>.".
func Prefix(archiveName string) string {
	return archiveName + "."
}

// NextGeneration returns the first generation number above current whose
// materialized name is absent from the live listing. Re-deriving the
// next free slot from the repository's ground truth protects against a
// persisted counter lagging behind reality, e.g. after a crash between
// tool invocation and state flush. Generation numbers are never reused.
func NextGeneration(archiveName string, current int, live map[string]struct{}) int {
	candidate := current + 1
	for {
		if _, taken := live[MaterializedName(archiveName, candidate)]; !taken {
			return candidate
		}
		candidate++
	}
}
