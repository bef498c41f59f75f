// Package callback receives converter and linter completion signals and
// merges them into the authoritative build status for a commit. Completion
// is inferred from marker objects in the blob store under concurrent,
// duplicate and out-of-order delivery; there is no counter and no lock to
// get out of sync, because every callback re-checks all parts and every
// merge is memoized.
package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/txsuite/pipeline-be/internal/api/dto"
	"github.com/txsuite/pipeline-be/internal/ledger"
	"github.com/txsuite/pipeline-be/internal/model"
	"github.com/txsuite/pipeline-be/internal/storage"
	"github.com/txsuite/pipeline-be/shared/blobstore"
)

// Result objects under a part's results key.
const (
	markerFile     = "finished"
	convertLogFile = "convert_log.json"
	lintLogFile    = "lint_log.json"
	mergedFile     = "merged.json"
	buildLogFile   = "build_log.json"
	finalLogFile   = "final_build_log.json"
)

// JobStore is the job-record surface the merger needs.
type JobStore interface {
	GetJobByID(ctx context.Context, jobID string) (*model.Job, error)
	UpdateJob(ctx context.Context, job *model.Job) error
}

// Config tunes the bounded wait for a linter log that is expected
// imminently (the race where the converter marker and the linter's own
// callback land within the same window).
type Config struct {
	LintLogRetries  uint64
	LintLogInterval time.Duration
	TrustedOrigin   string
}

// Merger merges converter and linter outputs into per-part build statuses
// and finalizes the commit exactly once when every part has merged.
type Merger struct {
	logger *slog.Logger
	cfg    Config
	cdn    blobstore.Store
	jobs   JobStore
	now    func() time.Time

	// newRetry builds the retry policy for the lint-log wait. Injected so
	// tests run without real delays.
	newRetry func() backoff.BackOff
}

func NewMerger(logger *slog.Logger, cfg Config, cdn blobstore.Store, jobs JobStore) *Merger {
	if cfg.LintLogRetries == 0 {
		cfg.LintLogRetries = 1
	}
	if cfg.LintLogInterval == 0 {
		cfg.LintLogInterval = 2 * time.Second
	}

	m := &Merger{
		logger: logger,
		cfg:    cfg,
		cdn:    cdn,
		jobs:   jobs,
		now:    time.Now,
	}
	m.newRetry = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.LintLogInterval), cfg.LintLogRetries)
	}
	return m
}

// masterKey derives the commit-level key from a part's results key. The
// part-level key of a split job nests one segment under the commit key.
func masterKey(id model.PartIdentifier, resultsKey string) string {
	if !id.Multipart {
		return resultsKey
	}
	if idx := strings.LastIndex(resultsKey, "/"); idx > 0 {
		return resultsKey[:idx]
	}
	return resultsKey
}

// OnConverterCallback handles one converter completion. It persists the
// convert log, writes the completion marker and re-runs merge-and-check for
// the owning commit. The returned status is the finalized commit status when
// this callback completed the commit, otherwise the per-call convert status;
// done reports which.
func (m *Merger) OnConverterCallback(ctx context.Context, req *dto.ConverterCallbackRequest) (*model.BuildStatus, bool, error) {
	if req.Identifier == "" {
		return nil, false, fmt.Errorf("no identifier found")
	}
	if req.ResultsKey == "" {
		return nil, false, fmt.Errorf("no results key found for identifier %s", req.Identifier)
	}

	id, err := model.ParseIdentifier(req.Identifier)
	if err != nil {
		return nil, false, err
	}

	convertLog := &model.BuildStatus{
		Identifier: req.Identifier,
		Success:    req.Success,
		Multipart:  id.Multipart,
		Status:     model.StatusSuccess,
		Message:    req.Message,
		Log:        append([]string(nil), req.Info...),
		Warnings:   append([]string(nil), req.Warnings...),
		Errors:     append([]string(nil), req.Errors...),
		ResultsKey: req.ResultsKey,
	}
	if !req.Success {
		msg := "Converter failed for identifier: " + req.Identifier
		convertLog.Errors = append(convertLog.Errors, msg)
		m.logger.Error(msg)
	}
	convertLog.Status = convertLog.OverallStatus()

	if err := m.cdn.PutJSON(ctx, req.ResultsKey+"/"+convertLogFile, convertLog); err != nil {
		return nil, false, err
	}
	if err := m.cdn.Put(ctx, req.ResultsKey+"/"+markerFile, strings.NewReader(markerFile), int64(len(markerFile)), "text/plain"); err != nil {
		return nil, false, err
	}

	final, err := m.MergeAndCheck(ctx, masterKey(id, req.ResultsKey), req.Identifier)
	if err != nil {
		return nil, false, err
	}
	if final != nil {
		return final, true, nil
	}
	return convertLog, false, nil
}

// OnLinterCallback handles one linter completion. It persists the per-call
// lint log and re-runs merge-and-check for the owning commit. The returned
// status is the finalized commit status when this callback completed the
// commit, otherwise the per-call lint status; done reports which.
func (m *Merger) OnLinterCallback(ctx context.Context, req *dto.LinterCallbackRequest) (*model.BuildStatus, bool, error) {
	if req.Identifier == "" {
		return nil, false, fmt.Errorf("no identifier found")
	}
	if req.ResultsKey == "" {
		return nil, false, fmt.Errorf("no results key found for identifier %s", req.Identifier)
	}

	id, err := model.ParseIdentifier(req.Identifier)
	if err != nil {
		return nil, false, err
	}

	if id.Multipart {
		m.logger.Debug("Multipart lint callback",
			slog.Int("part", id.PartIndex),
			slog.Int("of", id.PartCount),
			slog.String("book", id.PartName),
		)
	}

	lintLog := &model.BuildStatus{
		Identifier: req.Identifier,
		Success:    req.Success,
		Multipart:  id.Multipart,
		Log:        append([]string(nil), req.Info...),
		Warnings:   append([]string(nil), req.Warnings...),
		Errors:     append([]string(nil), req.Errors...),
		ResultsKey: req.ResultsKey,
	}

	if !req.Success {
		msg := "Linter failed for identifier: " + req.Identifier
		lintLog.Warnings = append(lintLog.Warnings, msg)
		m.logger.Error(msg)
	}
	if len(lintLog.Warnings) > 0 {
		lintLog.Log = append(lintLog.Log, fmt.Sprintf("Linter %s has Warnings!", req.Identifier))
	} else {
		lintLog.Log = append(lintLog.Log, fmt.Sprintf("Linter %s completed with no warnings", req.Identifier))
	}

	if err := m.cdn.PutJSON(ctx, req.ResultsKey+"/"+lintLogFile, lintLog); err != nil {
		return nil, false, err
	}

	final, err := m.MergeAndCheck(ctx, masterKey(id, req.ResultsKey), req.Identifier)
	if err != nil {
		return nil, false, err
	}
	if final != nil {
		return final, true, nil
	}
	return lintLog, false, nil
}

// MergeAndCheck attempts to merge every part of the commit under commitKey
// and finalizes when all are complete. It returns nil with no error while
// any part is still pending; completion is re-derived from the store on
// every call rather than counted.
func (m *Merger) MergeAndCheck(ctx context.Context, commitKey, identifier string) (*model.BuildStatus, error) {
	id, err := model.ParseIdentifier(identifier)
	if err != nil {
		return nil, err
	}

	var combined *model.BuildStatus
	complete := true

	if !id.Multipart {
		part, err := m.mergePart(ctx, commitKey)
		if err != nil {
			return nil, err
		}
		if part == nil {
			return nil, nil
		}
		combined = part
	} else {
		for i := 0; i < id.PartCount; i++ {
			partKey := fmt.Sprintf("%s/%d", commitKey, i)
			part, err := m.mergePart(ctx, partKey)
			if err != nil {
				return nil, err
			}
			if part == nil {
				m.logger.Debug("Part not complete", slog.String("part_key", partKey))
				complete = false
				continue
			}
			if combined == nil {
				seed := *part
				seed.Log = append([]string(nil), part.Log...)
				seed.Warnings = append([]string(nil), part.Warnings...)
				seed.Errors = append([]string(nil), part.Errors...)
				combined = &seed
			} else {
				combined.MergeFrom(part, false)
			}
		}
	}

	if !complete || combined == nil {
		m.logger.Debug("Not all parts completed", slog.String("master_key", commitKey))
		return nil, nil
	}

	return m.finalize(ctx, commitKey, combined, id)
}

// finalize writes the single authoritative commit status. The existence
// check on final_build_log.json short-circuits repeat callbacks arriving
// after completion; all writes below are idempotent overwrites, so
// duplicates that slip past converge to the same persisted result.
func (m *Merger) finalize(ctx context.Context, commitKey string, combined *model.BuildStatus, id model.PartIdentifier) (*model.BuildStatus, error) {
	var prior model.BuildStatus
	if ok, err := m.cdn.GetJSON(ctx, commitKey+"/"+finalLogFile, &prior); err != nil {
		return nil, err
	} else if ok {
		m.logger.Debug("Commit already finalized", slog.String("master_key", commitKey))
		return &prior, nil
	}

	combined.Status = combined.OverallStatus()
	combined.EndedAt = model.Timestamp(m.now())
	combined.Multipart = id.Multipart
	combined.Identifier = id.JobID

	if err := m.cdn.PutJSON(ctx, commitKey+"/"+finalLogFile, combined); err != nil {
		return nil, err
	}
	if !id.Multipart {
		if err := m.cdn.PutJSON(ctx, commitKey+"/"+buildLogFile, combined); err != nil {
			return nil, err
		}
	}

	if combined.RepoOwner == "" || combined.RepoName == "" || combined.CommitID == "" {
		m.logger.Error("Finalized commit is missing repository context, skipping ledger update",
			slog.String("master_key", commitKey),
		)
		return combined, nil
	}

	entry := ledger.CommitEntry{
		ID:        combined.CommitID,
		CreatedAt: combined.CreatedAt,
		Status:    combined.Status,
		Success:   combined.Success,
		StartedAt: combined.StartedAt,
		EndedAt:   combined.EndedAt,
	}
	repoURL := fmt.Sprintf("%s/%s/%s", m.cfg.TrustedOrigin, combined.RepoOwner, combined.RepoName)
	if err := ledger.Update(ctx, m.cdn, combined.RepoOwner, combined.RepoName, repoURL, entry); err != nil {
		return nil, err
	}

	m.logger.Info("All parts completed",
		slog.String("master_key", commitKey),
		slog.String("status", combined.Status),
	)
	return combined, nil
}

// mergePart merges the converter and linter logs for one part. It returns
// nil with no error while the part is not ready: missing completion
// marker, missing convert log, or a lint log that does not appear within
// the bounded retry window. A merge either fully succeeds and is recorded
// or leaves no partial state behind.
func (m *Merger) mergePart(ctx context.Context, partKey string) (*model.BuildStatus, error) {
	state, err := m.PartState(ctx, partKey)
	if err != nil {
		return nil, err
	}

	switch state {
	case PartStateMerged:
		// memoized fast path: a part already merged never re-merges
		var memo model.BuildStatus
		if ok, err := m.cdn.GetJSON(ctx, partKey+"/"+mergedFile, &memo); err != nil {
			return nil, err
		} else if ok {
			return &memo, nil
		}
		return nil, nil
	case PartStateNotStarted, PartStateConverting:
		m.logger.Debug("Convert not finished",
			slog.String("part_key", partKey),
			slog.String("state", string(state)),
		)
		return nil, nil
	}

	var convertLog model.BuildStatus
	if ok, err := m.cdn.GetJSON(ctx, partKey+"/"+convertLogFile, &convertLog); err != nil {
		return nil, err
	} else if !ok {
		m.logger.Debug("convert_log.json not found", slog.String("part_key", partKey))
		return nil, nil
	}

	lintLog, err := m.awaitLintLog(ctx, partKey)
	if err != nil {
		return nil, err
	}
	if lintLog == nil {
		m.logger.Debug("lint_log.json not found", slog.String("part_key", partKey))
		return nil, nil
	}

	merged := convertLog
	merged.Log = append([]string(nil), convertLog.Log...)
	merged.Warnings = append([]string(nil), convertLog.Warnings...)
	merged.Errors = append([]string(nil), convertLog.Errors...)
	merged.MergeFrom(lintLog, true)
	merged.TruncateWarnings()
	merged.Status = merged.OverallStatus()

	m.updateJobRecord(ctx, &merged)

	if err := m.cdn.PutJSON(ctx, partKey+"/"+mergedFile, &merged); err != nil {
		return nil, err
	}
	if err := m.cdn.PutJSON(ctx, partKey+"/"+buildLogFile, &merged); err != nil {
		return nil, err
	}

	return &merged, nil
}

// awaitLintLog reads the part's lint log, retrying within the configured
// bounded window. It returns nil without error when the log never appears.
func (m *Merger) awaitLintLog(ctx context.Context, partKey string) (*model.BuildStatus, error) {
	var lintLog model.BuildStatus
	var found bool

	notYet := errors.New("lint log not present")
	op := func() error {
		ok, err := m.cdn.GetJSON(ctx, partKey+"/"+lintLogFile, &lintLog)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return notYet
		}
		found = true
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(m.newRetry(), ctx)); err != nil {
		if errors.Is(err, notYet) {
			// retries exhausted: not ready, the next callback will retry
			return nil, nil
		}
		return nil, err
	}

	if !found {
		return nil, nil
	}
	return &lintLog, nil
}

// updateJobRecord folds the merged status into the part's job record and
// enriches the status with the job's repository context. A missing job is
// an error worth surfacing (it may indicate a lost dispatch) but must not
// wedge the merge, so it is logged and the update skipped; no replacement
// record is synthesized.
func (m *Merger) updateJobRecord(ctx context.Context, merged *model.BuildStatus) {
	id, err := model.ParseIdentifier(merged.Identifier)
	if err != nil {
		m.logger.Error("Merged status has unparseable identifier",
			slog.String("identifier", merged.Identifier),
			slog.Any("error", err),
		)
		return
	}

	job, err := m.jobs.GetJobByID(ctx, id.JobID)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			m.logger.Error("No job record found at merge time, possible lost dispatch",
				slog.String("job_id", id.JobID),
				slog.String("identifier", merged.Identifier),
			)
		} else {
			m.logger.Error("Failed to load job record",
				slog.String("job_id", id.JobID),
				slog.Any("error", err),
			)
		}
		return
	}

	endedAt := m.now().UTC()
	job.Status = merged.Status
	job.Success = merged.Success
	job.Message = merged.Message
	job.Log = merged.Log
	job.Warnings = merged.Warnings
	job.Errors = merged.Errors
	job.EndedAt = &endedAt
	if len(job.Errors) > 0 {
		job.Status = model.StatusErrors
		job.Success = false
		job.State = model.JobStateFailed
	} else {
		if len(job.Warnings) > 0 {
			job.Status = model.StatusWarnings
		}
		job.State = model.JobStateComplete
	}

	if err := m.jobs.UpdateJob(ctx, job); err != nil {
		m.logger.Error("Failed to update job record",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
		return
	}

	merged.JobID = job.JobID
	merged.RepoOwner = job.UserName
	merged.RepoName = job.RepoName
	merged.CommitID = job.CommitID
	merged.CreatedAt = model.Timestamp(job.CreatedAt)
	merged.StartedAt = model.TimestampPtr(job.StartedAt)
}
