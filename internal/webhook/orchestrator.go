// Package webhook turns a validated push event into one or more conversion
// jobs dispatched to remote converter and linter workers.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/txsuite/pipeline-be/internal/api/dto"
	"github.com/txsuite/pipeline-be/internal/jobid"
	"github.com/txsuite/pipeline-be/internal/ledger"
	"github.com/txsuite/pipeline-be/internal/model"
	"github.com/txsuite/pipeline-be/internal/parts"
	"github.com/txsuite/pipeline-be/internal/rc"
	"github.com/txsuite/pipeline-be/internal/registry"
	"github.com/txsuite/pipeline-be/shared/blobstore"
)

// shortCommitLen is the fixed length of the short commit id used in keys
// and job records.
const shortCommitLen = 10

// JobStore is the job-record surface the orchestrator needs.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job) error
	JobIDExists(ctx context.Context, jobID string) (bool, error)
	UpsertManifest(ctx context.Context, m *model.Manifest) error
}

// Dispatcher submits payloads to remote worker functions.
type Dispatcher interface {
	ConverterFunction(name string) string
	LinterFunction(name string) string
	Submit(ctx context.Context, functionName string, payload any) error
	NotifyPartDispatched(ctx context.Context, notice *registry.PartNotice) error
}

// Config holds the orchestrator's external addresses.
type Config struct {
	// TrustedOrigin is the URL prefix pushes must come from.
	TrustedOrigin string
	// APIURL is this service's public base URL, used for worker callbacks.
	APIURL string
	// SourceURLBase is the public base URL of the preconvert bucket.
	SourceURLBase string
	// CDNURLBase is the public base URL of the cdn bucket.
	CDNURLBase string
	// CDNBucket is the cdn bucket name passed to converters as the output
	// location.
	CDNBucket string
}

// Orchestrator is the top-level push handler: it validates the event,
// persists the manifest, preprocesses content, creates one job record per
// part and dispatches each part to its workers. All record and blob writes
// happen before any dispatch, so a fast worker callback can never race
// record creation.
type Orchestrator struct {
	logger     *slog.Logger
	cfg        Config
	store      JobStore
	cdn        blobstore.Store
	preconvert blobstore.Store
	directory  *registry.Registry
	dispatch   Dispatcher
	ids        *jobid.Generator
	httpClient *http.Client
	now        func() time.Time
}

func NewOrchestrator(
	logger *slog.Logger,
	cfg Config,
	store JobStore,
	cdn blobstore.Store,
	preconvert blobstore.Store,
	directory *registry.Registry,
	dispatch Dispatcher,
	ids *jobid.Generator,
) *Orchestrator {
	return &Orchestrator{
		logger:     logger,
		cfg:        cfg,
		store:      store,
		cdn:        cdn,
		preconvert: preconvert,
		directory:  directory,
		dispatch:   dispatch,
		ids:        ids,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		now:        time.Now,
	}
}

// partJob couples a job record with the blob-store key its results land
// under.
type partJob struct {
	job        *model.Job
	resultsKey string
	book       string
}

// Handle processes one push event and returns the build status describing
// what was dispatched, not final results.
func (o *Orchestrator) Handle(ctx context.Context, eventType string, event *dto.PushEvent) (*model.BuildStatus, error) {
	if err := ValidatePush(eventType, event, o.cfg.TrustedOrigin); err != nil {
		return nil, err
	}

	commit, err := resolveCommit(event)
	if err != nil {
		return nil, err
	}

	commitID := event.After
	if len(commitID) > shortCommitLen {
		commitID = commitID[:shortCommitLen]
	}

	userName := event.Repository.Owner.Username
	repoName := event.Repository.Name
	pusherUsername := commit.Author.Username
	if event.Pusher != nil && event.Pusher.Username != "" {
		pusherUsername = event.Pusher.Username
	}

	o.logger.Info("Processing push",
		slog.String("user", userName),
		slog.String("repo", repoName),
		slog.String("commit", commitID),
	)

	baseTemp, err := os.MkdirTemp("", "webhook_")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(baseTemp)

	// Download and unpack the repository content for this commit.
	archiveURL := strings.Replace(commit.URL, "commit", "archive", 1) + ".zip"
	unzipDir := filepath.Join(baseTemp, "repo")
	if err := downloadAndUnzip(ctx, o.httpClient, archiveURL, unzipDir); err != nil {
		return nil, fmt.Errorf("failed to fetch repository archive: %w", err)
	}
	repoDir := filepath.Join(unzipDir, strings.ToLower(repoName))
	if fi, statErr := os.Stat(repoDir); statErr != nil || !fi.IsDir() {
		repoDir = unzipDir
	}

	rcInfo, err := rc.Parse(repoDir, repoName)
	if err != nil {
		return nil, fmt.Errorf("failed to parse resource descriptor: %w", err)
	}

	manifest, err := o.upsertManifest(ctx, rcInfo, userName, repoName)
	if err != nil {
		return nil, err
	}

	preprocessDir := filepath.Join(baseTemp, "preprocess")
	if err := rc.Preprocess(rcInfo, repoDir, preprocessDir); err != nil {
		return nil, fmt.Errorf("failed to preprocess content: %w", err)
	}

	books, err := partNames(rcInfo, preprocessDir)
	if err != nil {
		return nil, err
	}

	// Archive the preprocessed tree and upload it as the shared source for
	// all parts.
	zipped, err := zipDir(preprocessDir)
	if err != nil {
		return nil, err
	}
	fileKey := fmt.Sprintf("preconvert/%s.zip", commitID)
	if err := o.preconvert.Put(ctx, fileKey, bytes.NewReader(zipped), int64(len(zipped)), "application/zip"); err != nil {
		return nil, fmt.Errorf("failed to upload preprocessed archive: %w", err)
	}
	sourceURL := o.cfg.SourceURLBase + "/" + fileKey

	job, err := o.newRootJob(ctx, rcInfo, manifest, userName, repoName, commitID, sourceURL)
	if err != nil {
		return nil, err
	}

	converter, haveConverter := o.directory.FindConverter(job.InputFormat, job.OutputFormat, job.ResourceType)
	linter, haveLinter := o.directory.FindLinter(job.InputFormat, job.ResourceType)

	if haveConverter {
		startedAt := o.now().UTC()
		expiresAt := startedAt.Add(24 * time.Hour)
		eta := startedAt.Add(5 * time.Minute)
		job.ConvertModule = converter.Name
		job.StartedAt = &startedAt
		job.ExpiresAt = &expiresAt
		job.ETA = &eta
		job.State = model.JobStateStarted
		job.Status = model.StatusStarted
		job.Message = "Conversion started..."
		job.LogMessage(fmt.Sprintf("Started job for %s/%s/%s", userName, repoName, commitID))
	} else {
		job.ErrorMessage(fmt.Sprintf("No converter was found to convert %s from %s to %s",
			job.ResourceType, job.InputFormat, job.OutputFormat))
		job.Message = "No converter found"
		job.State = model.JobStateFailed
		job.Status = model.StatusFailed
	}

	if haveLinter {
		job.LintModule = linter.Name
	} else {
		o.logger.Debug("No linter was found",
			slog.String("resource_type", job.ResourceType),
		)
	}

	commitKey := fmt.Sprintf("u/%s/%s/%s", userName, repoName, commitID)

	partList, err := o.createPartJobs(ctx, job, books, commitKey, sourceURL)
	if err != nil {
		return nil, err
	}

	// Re-pushing a commit must not mix results from a previous attempt.
	if err := o.clearCommitNamespace(ctx, commitKey); err != nil {
		return nil, err
	}

	status, err := o.writeInitialStatus(ctx, event, commit, partList, commitKey, pusherUsername)
	if err != nil {
		return nil, err
	}

	// Records and initial logs are durable; dispatch is safe now.
	if haveConverter {
		o.dispatchParts(ctx, event, partList, converter, linter, haveLinter, archiveURL, commitKey)
	}

	return status, nil
}

// resolveCommit finds the pushed commit's metadata in the payload. Matching
// the `after` id wins; the last listed commit is the fallback.
func resolveCommit(event *dto.PushEvent) (*dto.Commit, error) {
	if len(event.Commits) == 0 {
		return nil, fmt.Errorf("%w: push contains no commits", ErrValidation)
	}
	for i := range event.Commits {
		if event.Commits[i].ID == event.After {
			return &event.Commits[i], nil
		}
	}
	return &event.Commits[len(event.Commits)-1], nil
}

func (o *Orchestrator) upsertManifest(ctx context.Context, rcInfo *rc.RC, userName, repoName string) (*model.Manifest, error) {
	manifestJSON, err := rcInfo.ManifestJSON()
	if err != nil {
		return nil, err
	}

	now := o.now().UTC()
	manifest := &model.Manifest{
		RepoName:     repoName,
		UserName:     userName,
		LangCode:     rcInfo.LangCode,
		ResourceID:   rcInfo.ResourceID,
		ResourceType: rcInfo.ResourceType,
		Title:        rcInfo.Title,
		Manifest:     manifestJSON,
		CreatedAt:    now,
		LastUpdated:  now,
	}

	if err := o.store.UpsertManifest(ctx, manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

func (o *Orchestrator) newRootJob(ctx context.Context, rcInfo *rc.RC, manifest *model.Manifest, userName, repoName, commitID, sourceURL string) (*model.Job, error) {
	id, err := o.ids.Generate(ctx)
	if err != nil {
		return nil, err
	}

	return &model.Job{
		JobID:        id,
		Identifier:   id,
		UserName:     userName,
		RepoName:     repoName,
		CommitID:     commitID,
		ManifestID:   manifest.ID,
		Source:       sourceURL,
		InputFormat:  rcInfo.InputFormat,
		OutputFormat: "html",
		ResourceType: rcInfo.ResourceID,
		OutputBucket: o.cfg.CDNBucket,
		OutputKey:    fmt.Sprintf("tx/job/%s.zip", id),
		Output:       fmt.Sprintf("%s/tx/job/%s.zip", o.cfg.CDNURLBase, id),
		CallbackURL:  o.cfg.APIURL + "/client/callback/converter",
		State:        model.JobStateRequested,
		Status:       model.StatusStarted,
		CreatedAt:    o.now().UTC(),
	}, nil
}

// partNames returns the ordered part names for a multi-part run, or nil for
// a single unit. The descriptor's declared project order is canonical; a
// bare file tree falls back to canonical book order.
func partNames(rcInfo *rc.RC, preprocessDir string) ([]string, error) {
	if rcInfo.InputFormat == "usfm" && len(rcInfo.Projects) > 1 {
		names := make([]string, 0, len(rcInfo.Projects))
		for _, p := range rcInfo.Projects {
			names = append(names, strings.ToLower(p.Identifier))
		}
		return names, nil
	}
	return parts.Split(preprocessDir, rcInfo.InputFormat)
}

// createPartJobs persists one job record per part. Part 1 reuses the root
// job; parts 2..N clone it with fresh ids and output paths.
func (o *Orchestrator) createPartJobs(ctx context.Context, root *model.Job, books []string, commitKey, sourceURL string) ([]partJob, error) {
	if len(books) == 0 {
		if err := o.store.CreateJob(ctx, root); err != nil {
			return nil, err
		}
		return []partJob{{job: root, resultsKey: commitKey}}, nil
	}

	count := len(books)
	o.logger.Debug("Splitting job into separate parts",
		slog.Int("parts", count),
		slog.String("books", strings.Join(books, ",")),
	)

	list := make([]partJob, 0, count)
	for i, book := range books {
		bj := root
		if i > 0 {
			bj = root.Clone()
			id, err := o.ids.Generate(ctx)
			if err != nil {
				return nil, err
			}
			bj.JobID = id
			bj.OutputKey = fmt.Sprintf("tx/job/%s.zip", id)
			bj.Output = fmt.Sprintf("%s/tx/job/%s.zip", o.cfg.CDNURLBase, id)
		}
		bj.Identifier = model.FormatPartIdentifier(bj.JobID, count, i, book)
		bj.Source = fmt.Sprintf("%s?convert_only=%s", sourceURL, book)

		if err := o.store.CreateJob(ctx, bj); err != nil {
			return nil, err
		}
		list = append(list, partJob{
			job:        bj,
			resultsKey: fmt.Sprintf("%s/%d", commitKey, i),
			book:       book,
		})
	}

	return list, nil
}

func (o *Orchestrator) clearCommitNamespace(ctx context.Context, commitKey string) error {
	keys, err := o.cdn.ListPrefix(ctx, commitKey)
	if err != nil {
		return fmt.Errorf("failed to list commit namespace: %w", err)
	}
	for _, key := range keys {
		o.logger.Debug("Removing stale result object", slog.String("key", key))
		if err := o.cdn.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to clear commit namespace: %w", err)
		}
	}
	return nil
}

// writeInitialStatus persists the initial build logs and the commit ledger
// entry, and returns the aggregated status handed back to the webhook
// caller.
func (o *Orchestrator) writeInitialStatus(ctx context.Context, event *dto.PushEvent, commit *dto.Commit, partList []partJob, commitKey, pusherUsername string) (*model.BuildStatus, error) {
	multipart := len(partList) > 1

	status := o.buildLog(partList[0].job, event, commit, pusherUsername, commitKey)
	status.Multipart = multipart

	if multipart {
		for i, p := range partList {
			partLog := o.buildLog(p.job, event, commit, pusherUsername, p.resultsKey)
			partLog.Part = fmt.Sprintf("%d", i)
			partLog.Book = p.book
			status.BuildLogs = append(status.BuildLogs, partLog)

			if err := o.cdn.PutJSON(ctx, p.resultsKey+"/build_log.json", partLog); err != nil {
				return nil, fmt.Errorf("failed to write part build log: %w", err)
			}
		}
	}

	if err := o.cdn.PutJSON(ctx, commitKey+"/build_log.json", status); err != nil {
		return nil, fmt.Errorf("failed to write build log: %w", err)
	}

	root := partList[0].job
	entry := ledger.CommitEntry{
		ID:        root.CommitID,
		CreatedAt: model.Timestamp(root.CreatedAt),
		Status:    root.Status,
		Success:   root.Success,
	}
	repoURL := fmt.Sprintf("%s/%s/%s", o.cfg.TrustedOrigin, root.UserName, root.RepoName)
	if err := ledger.Update(ctx, o.cdn, root.UserName, root.RepoName, repoURL, entry); err != nil {
		return nil, err
	}

	return status, nil
}

// buildLog snapshots a job and its commit context as a build status.
func (o *Orchestrator) buildLog(job *model.Job, event *dto.PushEvent, commit *dto.Commit, pusherUsername, resultsKey string) *model.BuildStatus {
	return &model.BuildStatus{
		JobID:         job.JobID,
		Identifier:    job.Identifier,
		Success:       job.Success,
		Status:        job.Status,
		Message:       job.Message,
		Log:           append([]string(nil), job.Log...),
		Warnings:      append([]string(nil), job.Warnings...),
		Errors:        append([]string(nil), job.Errors...),
		ResultsKey:    resultsKey,
		RepoName:      job.RepoName,
		RepoOwner:     job.UserName,
		CommitID:      job.CommitID,
		CommitMessage: commit.Message,
		CommitURL:     commit.URL,
		CompareURL:    event.CompareURL,
		CommittedBy:   pusherUsername,
		CreatedAt:     model.Timestamp(job.CreatedAt),
		StartedAt:     model.TimestampPtr(job.StartedAt),
	}
}

// dispatchParts sends every part to its converter and, when resolved, its
// linter. A failed dispatch is logged and isolated; it must not prevent the
// remaining parts from being dispatched.
func (o *Orchestrator) dispatchParts(ctx context.Context, event *dto.PushEvent, partList []partJob, converter, linter *registry.Module, haveLinter bool, archiveURL, commitKey string) {
	commitData, err := json.Marshal(event)
	if err != nil {
		o.logger.Error("Failed to encode commit data", slog.Any("error", err))
		commitData = nil
	}

	for _, p := range partList {
		convertPayload := &registry.ConverterPayload{
			Identifier:         p.job.Identifier,
			SourceURL:          p.job.Source,
			ResourceID:         p.job.ResourceType,
			OutputBucket:       p.job.OutputBucket,
			OutputKey:          p.job.OutputKey,
			Options:            map[string]string{},
			ConvertCallbackURL: o.cfg.APIURL + "/client/callback/converter",
			ResultsKey:         p.resultsKey,
		}
		if err := o.dispatch.Submit(ctx, o.dispatch.ConverterFunction(converter.Name), convertPayload); err != nil {
			o.logger.Error("Failed to dispatch converter",
				slog.String("identifier", p.job.Identifier),
				slog.Any("error", err),
			)
			continue
		}

		notice := &registry.PartNotice{
			Identifier: p.job.Identifier,
			ResultsKey: p.resultsKey,
			MasterKey:  commitKey,
		}
		if p.job.ExpiresAt != nil {
			notice.ExpiresAt = *p.job.ExpiresAt
		}
		if err := o.dispatch.NotifyPartDispatched(ctx, notice); err != nil {
			o.logger.Error("Failed to publish part notice",
				slog.String("identifier", p.job.Identifier),
				slog.Any("error", err),
			)
		}

		if !haveLinter {
			continue
		}

		// Linters read the preprocessed source for book-structured content
		// and the raw commit archive for everything else.
		lintSource := archiveURL
		if p.job.InputFormat == "usfm" || p.job.ResourceType == "obs" {
			lintSource = p.job.Source
		}

		lintPayload := &registry.LinterPayload{
			Identifier:      p.job.Identifier,
			SourceURL:       lintSource,
			ResourceID:      p.job.ResourceType,
			Options:         map[string]string{},
			LintCallbackURL: o.cfg.APIURL + "/client/callback/linter",
			CommitData:      commitData,
			ResultsKey:      p.resultsKey,
			SingleFile:      p.book,
		}
		if err := o.dispatch.Submit(ctx, o.dispatch.LinterFunction(linter.Name), lintPayload); err != nil {
			o.logger.Error("Failed to dispatch linter",
				slog.String("identifier", p.job.Identifier),
				slog.Any("error", err),
			)
		}
	}
}
