package model

import (
	"time"

	"github.com/lib/pq"
)

// Job lifecycle states
const (
	JobStateRequested = "requested"
	JobStateStarted   = "started"
	JobStateComplete  = "complete"
	JobStateFailed    = "failed"
)

// Display status labels carried in build logs and on the job record
const (
	StatusStarted  = "started"
	StatusSuccess  = "success"
	StatusWarnings = "warnings"
	StatusErrors   = "errors"
	StatusFailed   = "failed"
)

// Job is one unit of conversion work. For a multi-part push the first part
// reuses the root job record and parts 2..N are clones with fresh ids.
// Records are never deleted; terminal states are kept for audit.
type Job struct {
	JobID      string `db:"job_id"`
	Identifier string `db:"identifier"`

	UserName   string `db:"user_name"`
	RepoName   string `db:"repo_name"`
	CommitID   string `db:"commit_id"`
	ManifestID int64  `db:"manifest_id"`

	Source         string `db:"source_url"`
	InputFormat    string `db:"input_format"`
	OutputFormat   string `db:"output_format"`
	ResourceType   string `db:"resource_type"`
	ConvertModule  string `db:"convert_module"`
	LintModule     string `db:"lint_module"`
	OutputBucket   string `db:"output_bucket"`
	OutputKey      string `db:"output_key"`
	Output         string `db:"output_url"`
	CallbackURL    string `db:"callback_url"`

	State   string `db:"state"`
	Status  string `db:"status"`
	Success bool   `db:"success"`
	Message string `db:"message"`

	Log      pq.StringArray `db:"log"`
	Warnings pq.StringArray `db:"warnings"`
	Errors   pq.StringArray `db:"errors"`

	CreatedAt time.Time  `db:"created_at"`
	StartedAt *time.Time `db:"started_at"`
	EndedAt   *time.Time `db:"ended_at"`
	ExpiresAt *time.Time `db:"expires_at"`
	ETA       *time.Time `db:"eta"`
}

// LogMessage appends an informational line to the job log.
func (j *Job) LogMessage(msg string) {
	j.Log = append(j.Log, msg)
}

// WarningMessage appends a warning line.
func (j *Job) WarningMessage(msg string) {
	j.Warnings = append(j.Warnings, msg)
}

// ErrorMessage appends an error line and marks the job unsuccessful.
func (j *Job) ErrorMessage(msg string) {
	j.Errors = append(j.Errors, msg)
	j.Success = false
}

// Clone returns a copy of the job with its own log slices, used when a
// multi-part push fans out into per-book jobs.
func (j *Job) Clone() *Job {
	c := *j
	c.Log = append(pq.StringArray(nil), j.Log...)
	c.Warnings = append(pq.StringArray(nil), j.Warnings...)
	c.Errors = append(pq.StringArray(nil), j.Errors...)
	return &c
}

// Manifest is the denormalized snapshot of a content repository's
// descriptive metadata, unique per (repo_name, user_name) and upserted on
// every push.
type Manifest struct {
	ID           int64     `db:"id"`
	RepoName     string    `db:"repo_name"`
	UserName     string    `db:"user_name"`
	LangCode     string    `db:"lang_code"`
	ResourceID   string    `db:"resource_id"`
	ResourceType string    `db:"resource_type"`
	Title        string    `db:"title"`
	Manifest     string    `db:"manifest"`
	Views        int64     `db:"views"`
	CreatedAt    time.Time `db:"created_at"`
	LastUpdated  time.Time `db:"last_updated"`
}
