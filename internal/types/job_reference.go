// Package types provides type definitions for structured data used throughout the job-applier system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// JobReference is a discovered listing's identity and display metadata.
// Identity is ExternalID; two references with the same ExternalID are the same job.
type JobReference struct {
	ExternalID   string    `json:"external_id"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Company      string    `json:"company"`
	Location     string    `json:"location,omitempty"`
	Snippet      string    `json:"raw_snippet_text"`
	Keyword      string    `json:"keyword,omitempty"` // search keyword that surfaced the job
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Text returns the searchable text of the job (title, company, location and snippet).
func (j JobReference) Text() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{j.Title, j.Company, j.Location, j.Snippet} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}

// ContentHash returns a stable hash of the job's snippet text.
// Jobs with identical snippets share a hash regardless of their ExternalID.
func (j JobReference) ContentHash() string {
	text := strings.TrimSpace(j.Snippet)
	if text == "" {
		text = j.Text()
	}
	sum := sha256.Sum256([]byte(strings.ToLower(text)))
	return hex.EncodeToString(sum[:])
}

// Decision is the filter verdict for a job
type Decision string

const (
	DecisionApply Decision = "apply"
	DecisionSkip  Decision = "skip"
)

// ScoreSource records which path produced a score
type ScoreSource string

const (
	SourceOracle    ScoreSource = "oracle"
	SourceHeuristic ScoreSource = "heuristic"
	SourceFailOpen  ScoreSource = "fail_open"
	SourceExcluded  ScoreSource = "excluded"
)

// ScoreResult is the outcome of evaluating a single JobReference
type ScoreResult struct {
	JobExternalID string      `json:"job_external_id"`
	Score         int         `json:"numeric_score"`
	Rationale     string      `json:"rationale_text"`
	Decision      Decision    `json:"decision"`
	Source        ScoreSource `json:"source"`
	EvaluatedAt   time.Time   `json:"evaluated_at"`
}
