package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/txsuite/pipeline-be/internal/model"
	"github.com/txsuite/pipeline-be/shared/postgresql"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrManifestNotFound is returned when no manifest exists for a repo/user pair
	ErrManifestNotFound = errors.New("manifest not found")
)

// Storage handles all database operations for jobs and manifests.
type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

const jobColumns = `
	job_id, identifier, user_name, repo_name, commit_id, manifest_id,
	source_url, input_format, output_format, resource_type,
	convert_module, lint_module, output_bucket, output_key, output_url, callback_url,
	state, status, success, message, log, warnings, errors,
	created_at, started_at, ended_at, expires_at, eta
`

func (s *Storage) CreateJob(ctx context.Context, job *model.Job) error {
	query := `
		INSERT INTO jobs (` + jobColumns + `) VALUES (
			:job_id, :identifier, :user_name, :repo_name, :commit_id, :manifest_id,
			:source_url, :input_format, :output_format, :resource_type,
			:convert_module, :lint_module, :output_bucket, :output_key, :output_url, :callback_url,
			:state, :status, :success, :message, :log, :warnings, :errors,
			:created_at, :started_at, :ended_at, :expires_at, :eta
		)
	`

	if _, err := s.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*model.Job, error) {
	var job model.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// JobIDExists reports whether a job id is already taken. Used by the id
// generator for collision checks.
func (s *Storage) JobIDExists(ctx context.Context, jobID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM jobs WHERE job_id = $1)`, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to check job id: %w", err)
	}
	return exists, nil
}

// UpdateJob overwrites the mutable fields of a job record. job_id,
// created_at and linkage fields are immutable once assigned.
func (s *Storage) UpdateJob(ctx context.Context, job *model.Job) error {
	query := `
		UPDATE jobs SET
			identifier = :identifier,
			source_url = :source_url,
			convert_module = :convert_module,
			lint_module = :lint_module,
			output_bucket = :output_bucket,
			output_key = :output_key,
			output_url = :output_url,
			state = :state,
			status = :status,
			success = :success,
			message = :message,
			log = :log,
			warnings = :warnings,
			errors = :errors,
			started_at = :started_at,
			ended_at = :ended_at,
			expires_at = :expires_at,
			eta = :eta
		WHERE job_id = :job_id
	`

	res, err := s.db.NamedExecContext(ctx, query, job)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrJobNotFound
	}

	return nil
}

type JobFilter struct {
	UserName string
	RepoName string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.UserName != "" {
		query += fmt.Sprintf(" AND user_name = $%d", argIdx)
		args = append(args, filter.UserName)
		argIdx++
	}

	if filter.RepoName != "" {
		query += fmt.Sprintf(" AND repo_name = $%d", argIdx)
		args = append(args, filter.RepoName)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, job_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []model.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// UpsertManifest inserts or updates the manifest for (repo_name, user_name)
// and fills in the row id.
func (s *Storage) UpsertManifest(ctx context.Context, m *model.Manifest) error {
	query := `
		INSERT INTO manifests (
			repo_name, user_name, lang_code, resource_id, resource_type,
			title, manifest, created_at, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (repo_name, user_name) DO UPDATE SET
			lang_code = EXCLUDED.lang_code,
			resource_id = EXCLUDED.resource_id,
			resource_type = EXCLUDED.resource_type,
			title = EXCLUDED.title,
			manifest = EXCLUDED.manifest,
			last_updated = EXCLUDED.last_updated
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		m.RepoName,
		m.UserName,
		m.LangCode,
		m.ResourceID,
		m.ResourceType,
		m.Title,
		m.Manifest,
		m.CreatedAt,
		m.LastUpdated,
	).Scan(&m.ID)

	if err != nil {
		return fmt.Errorf("failed to upsert manifest: %w", err)
	}

	return nil
}

func (s *Storage) GetManifest(ctx context.Context, repoName, userName string) (*model.Manifest, error) {
	var m model.Manifest
	query := `
		SELECT id, repo_name, user_name, lang_code, resource_id, resource_type,
		       title, manifest, views, created_at, last_updated
		FROM manifests
		WHERE repo_name = $1 AND user_name = $2
	`

	err := s.db.GetContext(ctx, &m, query, repoName, userName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("failed to get manifest: %w", err)
	}

	return &m, nil
}
