package engine

// Outcome classifies how a repository fared during a run.
type Outcome int

const (
	// OutcomeProcessed means every requested action completed.
	OutcomeProcessed Outcome = iota
	// OutcomeSkipped means the repository path was unreachable and the
	// repository was left out of this run.
	OutcomeSkipped
	// OutcomeFailed means an action failed; the failure also aborts the
	// rest of the run.
	OutcomeFailed
)

// String returns the status-file state name for an outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "ok"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "error"
	default:
		return "unknown"
	}
}

// RepoResult records the terminal state of one repository for one run.
type RepoResult struct {
	Repository string
	Outcome    Outcome
	// Reason carries the skip reason or failure message.
	Reason string
}

// Report aggregates per-repository results for a run.
type Report struct {
	Results []RepoResult
}

// Skipped returns the results of repositories left out of the run.
func (r *Report) Skipped() []RepoResult {
	var skipped []RepoResult
	for _, res := range r.Results {
		if res.Outcome == OutcomeSkipped {
			skipped = append(skipped, res)
		}
	}
	return skipped
}
