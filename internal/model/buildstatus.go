package model

import "time"

// MaxWarnings caps the merged warning list persisted per part. Downstream
// consumers have fixed payload-size limits.
const MaxWarnings = 200

// TruncatedWarningsNotice is appended when the warning list is capped.
const TruncatedWarningsNotice = "Warning list truncated to first 200 entries"

// BuildStatus is the user/operator-facing summary of one part, or of an
// entire commit once all parts are merged. It is persisted as JSON in the
// blob store (lint_log.json, convert_log.json, merged.json, build_log.json,
// final_build_log.json) rather than in the database.
type BuildStatus struct {
	JobID      string `json:"job_id,omitempty"`
	Identifier string `json:"identifier"`
	Success    bool   `json:"success"`
	Multipart  bool   `json:"multipart"`
	Status     string `json:"status,omitempty"`
	Message    string `json:"message,omitempty"`

	Log      []string `json:"log"`
	Warnings []string `json:"warnings"`
	Errors   []string `json:"errors"`

	ResultsKey string `json:"s3_results_key,omitempty"`

	RepoName      string `json:"repo_name,omitempty"`
	RepoOwner     string `json:"repo_owner,omitempty"`
	CommitID      string `json:"commit_id,omitempty"`
	CommitMessage string `json:"commit_message,omitempty"`
	CommitURL     string `json:"commit_url,omitempty"`
	CompareURL    string `json:"compare_url,omitempty"`
	CommittedBy   string `json:"committed_by,omitempty"`

	CreatedAt string `json:"created_at,omitempty"`
	StartedAt string `json:"started_at,omitempty"`
	EndedAt   string `json:"ended_at,omitempty"`

	// Part and Book are set on the per-part build logs of a split job.
	Part string `json:"part,omitempty"`
	Book string `json:"book,omitempty"`

	// BuildLogs holds the per-part logs on a commit-level multipart status.
	BuildLogs []*BuildStatus `json:"build_logs,omitempty"`
}

// Timestamp renders a time in the wire format used across build logs and
// the commit ledger.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// TimestampPtr renders an optional time, empty when nil.
func TimestampPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return Timestamp(*t)
}

// MergeFrom folds src's log, warning and error sequences into b, appending
// in order so converter lines stay ahead of linter lines. When src comes
// from a linter its success flag is advisory and never demotes the merged
// status; only a converter-side failure does.
func (b *BuildStatus) MergeFrom(src *BuildStatus, linterSide bool) {
	if src == nil {
		return
	}
	b.Log = append(b.Log, src.Log...)
	b.Warnings = append(b.Warnings, src.Warnings...)
	b.Errors = append(b.Errors, src.Errors...)
	if !linterSide && !src.Success {
		b.Success = false
	}
}

// TruncateWarnings enforces the per-part warning cap, appending a notice
// when entries were dropped.
func (b *BuildStatus) TruncateWarnings() {
	if len(b.Warnings) <= MaxWarnings {
		return
	}
	b.Warnings = append(b.Warnings[:MaxWarnings-1], TruncatedWarningsNotice)
}

// OverallStatus derives the display status from accumulated errors and
// warnings, keeping the prior status when both are empty.
func (b *BuildStatus) OverallStatus() string {
	switch {
	case len(b.Errors) > 0:
		return StatusErrors
	case len(b.Warnings) > 0:
		return StatusWarnings
	default:
		return b.Status
	}
}
