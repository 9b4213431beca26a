package types

import "time"

// Outcome is the result of processing one job in a run
type Outcome string

// Outcome values recorded in ApplicationAttempt
const (
	OutcomeApplied          Outcome = "applied"
	OutcomeSkippedExternal  Outcome = "skipped_external"
	OutcomeSkippedDuplicate Outcome = "skipped_duplicate"
	OutcomeSkippedLowScore  Outcome = "skipped_low_score"
	OutcomeSkippedExcluded  Outcome = "skipped_excluded"
	OutcomeFailedSubmission Outcome = "failed_submission"
	OutcomeFailedTimeout    Outcome = "failed_timeout"
)

// Outcomes lists every outcome in report order.
var Outcomes = []Outcome{
	OutcomeApplied,
	OutcomeSkippedExternal,
	OutcomeSkippedDuplicate,
	OutcomeSkippedLowScore,
	OutcomeSkippedExcluded,
	OutcomeFailedSubmission,
	OutcomeFailedTimeout,
}

// IsSkip reports whether the outcome is an intentional skip.
func (o Outcome) IsSkip() bool {
	switch o {
	case OutcomeSkippedExternal, OutcomeSkippedDuplicate, OutcomeSkippedLowScore, OutcomeSkippedExcluded:
		return true
	}
	return false
}

// IsFailure reports whether the outcome is an unexpected failure.
func (o Outcome) IsFailure() bool {
	return o == OutcomeFailedSubmission || o == OutcomeFailedTimeout
}

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	for _, known := range Outcomes {
		if o == known {
			return true
		}
	}
	return false
}

// ApplicationAttempt is the append-only record of one job's processing in a run
type ApplicationAttempt struct {
	JobExternalID string    `json:"job_external_id"`
	Title         string    `json:"title,omitempty"`
	Company       string    `json:"company,omitempty"`
	URL           string    `json:"url,omitempty"`
	Outcome       Outcome   `json:"outcome"`
	Score         *int      `json:"score,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Detail        string    `json:"detail_text,omitempty"`
}

// NewAttempt builds an attempt for job with the given outcome.
func NewAttempt(job JobReference, outcome Outcome, detail string) ApplicationAttempt {
	return ApplicationAttempt{
		JobExternalID: job.ExternalID,
		Title:         job.Title,
		Company:       job.Company,
		URL:           job.URL,
		Outcome:       outcome,
		Timestamp:     time.Now().UTC(),
		Detail:        detail,
	}
}

// WithScore returns a copy of the attempt carrying the score.
func (a ApplicationAttempt) WithScore(score int) ApplicationAttempt {
	a.Score = &score
	return a
}
