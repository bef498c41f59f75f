package callback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txsuite/pipeline-be/internal/api/dto"
	"github.com/txsuite/pipeline-be/internal/ledger"
	"github.com/txsuite/pipeline-be/internal/model"
	"github.com/txsuite/pipeline-be/internal/storage"
	"github.com/txsuite/pipeline-be/shared/blobstore"
)

type fakeJobStore struct {
	mu      sync.Mutex
	jobs    map[string]*model.Job
	updated []*model.Job
}

func newFakeJobStore(jobs ...*model.Job) *fakeJobStore {
	s := &fakeJobStore{jobs: map[string]*model.Job{}}
	for _, j := range jobs {
		s.jobs[j.JobID] = j
	}
	return s
}

func (s *fakeJobStore) GetJobByID(_ context.Context, jobID string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, storage.ErrJobNotFound
	}
	clone := job.Clone()
	return clone, nil
}

func (s *fakeJobStore) UpdateJob(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.JobID]; !ok {
		return storage.ErrJobNotFound
	}
	s.jobs[job.JobID] = job
	s.updated = append(s.updated, job)
	return nil
}

func testMerger(store blobstore.Store, jobs JobStore) *Merger {
	return NewMerger(slog.Default(), Config{
		LintLogRetries:  1,
		LintLogInterval: time.Millisecond,
		TrustedOrigin:   "https://git.example.org",
	}, store, jobs)
}

func testJob(jobID string) *model.Job {
	started := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	return &model.Job{
		JobID:     jobID,
		UserName:  "tester",
		RepoName:  "en_obs",
		CommitID:  "abcdef1234",
		State:     model.JobStateStarted,
		Status:    model.StatusStarted,
		Success:   false,
		CreatedAt: started,
		StartedAt: &started,
	}
}

// seedConvertedPart persists the converter-side outputs for one part: the
// completion marker and a convert log.
func seedConvertedPart(t *testing.T, store blobstore.Store, partKey string, log *model.BuildStatus) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.PutJSON(ctx, partKey+"/convert_log.json", log))
	require.NoError(t, store.Put(ctx, partKey+"/finished", strings.NewReader("finished"), 8, "text/plain"))
}

func TestOnLinterCallbackValidation(t *testing.T) {
	m := testMerger(blobstore.NewMemory(), newFakeJobStore())

	_, _, err := m.OnLinterCallback(context.Background(), &dto.LinterCallbackRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no identifier found")

	_, _, err = m.OnLinterCallback(context.Background(), &dto.LinterCallbackRequest{Identifier: "job1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no results key found")
}

func TestSinglePartCompletion(t *testing.T) {
	ctx := context.Background()
	key := "u/tester/en_obs/abcdef1234"

	t.Run("clean converter and linter finalize with success", func(t *testing.T) {
		store := blobstore.NewMemory()
		jobs := newFakeJobStore(testJob("job1"))
		m := testMerger(store, jobs)

		seedConvertedPart(t, store, key, &model.BuildStatus{
			Identifier: "job1",
			Success:    true,
			Status:     model.StatusSuccess,
			Log:        []string{"converted en_obs"},
		})

		final, done, err := m.OnLinterCallback(ctx, &dto.LinterCallbackRequest{
			Identifier: "job1",
			Success:    true,
			Info:       []string{"linted en_obs"},
			ResultsKey: key,
		})
		require.NoError(t, err)
		require.True(t, done)

		assert.Equal(t, model.StatusSuccess, final.Status)
		assert.True(t, final.Success)
		assert.False(t, final.Multipart)
		// converter lines come before linter lines
		require.True(t, len(final.Log) >= 2)
		assert.Equal(t, "converted en_obs", final.Log[0])

		var persisted model.BuildStatus
		ok, err := store.GetJSON(ctx, key+"/final_build_log.json", &persisted)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = store.GetJSON(ctx, key+"/build_log.json", &persisted)
		require.NoError(t, err)
		assert.True(t, ok)

		// job record moved to its terminal state
		job, err := jobs.GetJobByID(ctx, "job1")
		require.NoError(t, err)
		assert.Equal(t, model.JobStateComplete, job.State)
		assert.Equal(t, model.StatusSuccess, job.Status)
		assert.True(t, job.Success)
		assert.NotNil(t, job.EndedAt)

		// ledger carries the commit entry
		var doc ledger.Document
		ok, err = store.GetJSON(ctx, ledger.Key("tester", "en_obs"), &doc)
		require.NoError(t, err)
		require.True(t, ok)
		require.Len(t, doc.Commits, 1)
		assert.Equal(t, "abcdef1234", doc.Commits[0].ID)
		assert.True(t, doc.Commits[0].Success)
	})

	t.Run("linter warnings demote status but not success", func(t *testing.T) {
		store := blobstore.NewMemory()
		jobs := newFakeJobStore(testJob("job1"))
		m := testMerger(store, jobs)

		seedConvertedPart(t, store, key, &model.BuildStatus{
			Identifier: "job1",
			Success:    true,
			Status:     model.StatusSuccess,
		})

		final, done, err := m.OnLinterCallback(ctx, &dto.LinterCallbackRequest{
			Identifier: "job1",
			Success:    true,
			Warnings:   []string{"w1", "w2", "w3"},
			ResultsKey: key,
		})
		require.NoError(t, err)
		require.True(t, done)

		assert.Equal(t, model.StatusWarnings, final.Status)
		assert.True(t, final.Success)
		assert.Len(t, final.Warnings, 3)

		job, err := jobs.GetJobByID(ctx, "job1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusWarnings, job.Status)
		assert.Equal(t, model.JobStateComplete, job.State)
	})

	t.Run("linter failure becomes a warning", func(t *testing.T) {
		store := blobstore.NewMemory()
		jobs := newFakeJobStore(testJob("job1"))
		m := testMerger(store, jobs)

		seedConvertedPart(t, store, key, &model.BuildStatus{
			Identifier: "job1",
			Success:    true,
			Status:     model.StatusSuccess,
		})

		final, done, err := m.OnLinterCallback(ctx, &dto.LinterCallbackRequest{
			Identifier: "job1",
			Success:    false,
			ResultsKey: key,
		})
		require.NoError(t, err)
		require.True(t, done)

		assert.True(t, final.Success)
		assert.Equal(t, model.StatusWarnings, final.Status)
		assert.Contains(t, final.Warnings, "Linter failed for identifier: job1")
	})

	t.Run("converter failure fails the commit", func(t *testing.T) {
		store := blobstore.NewMemory()
		jobs := newFakeJobStore(testJob("job1"))
		m := testMerger(store, jobs)

		seedConvertedPart(t, store, key, &model.BuildStatus{
			Identifier: "job1",
			Success:    false,
			Status:     model.StatusErrors,
			Errors:     []string{"conversion blew up"},
		})

		final, done, err := m.OnLinterCallback(ctx, &dto.LinterCallbackRequest{
			Identifier: "job1",
			Success:    true,
			ResultsKey: key,
		})
		require.NoError(t, err)
		require.True(t, done)

		assert.False(t, final.Success)
		assert.Equal(t, model.StatusErrors, final.Status)

		job, err := jobs.GetJobByID(ctx, "job1")
		require.NoError(t, err)
		assert.Equal(t, model.JobStateFailed, job.State)
		assert.False(t, job.Success)
	})

	t.Run("warnings over the cap are truncated with a notice", func(t *testing.T) {
		store := blobstore.NewMemory()
		jobs := newFakeJobStore(testJob("job1"))
		m := testMerger(store, jobs)

		seedConvertedPart(t, store, key, &model.BuildStatus{
			Identifier: "job1",
			Success:    true,
			Status:     model.StatusSuccess,
		})

		warnings := make([]string, model.MaxWarnings+30)
		for i := range warnings {
			warnings[i] = fmt.Sprintf("warning %d", i)
		}

		final, done, err := m.OnLinterCallback(ctx, &dto.LinterCallbackRequest{
			Identifier: "job1",
			Success:    true,
			Warnings:   warnings,
			ResultsKey: key,
		})
		require.NoError(t, err)
		require.True(t, done)

		assert.Len(t, final.Warnings, model.MaxWarnings)
		assert.Equal(t, model.TruncatedWarningsNotice, final.Warnings[model.MaxWarnings-1])
	})

	t.Run("missing completion marker keeps the commit pending", func(t *testing.T) {
		store := blobstore.NewMemory()
		jobs := newFakeJobStore(testJob("job1"))
		m := testMerger(store, jobs)

		// linter called back before the converter wrote its marker
		require.NoError(t, store.PutJSON(ctx, key+"/convert_log.json", &model.BuildStatus{
			Identifier: "job1",
			Success:    true,
		}))

		status, done, err := m.OnLinterCallback(ctx, &dto.LinterCallbackRequest{
			Identifier: "job1",
			Success:    true,
			ResultsKey: key,
		})
		require.NoError(t, err)
		assert.False(t, done)
		assert.NotNil(t, status)

		ok, err := store.Exists(ctx, key+"/final_build_log.json")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing job record does not wedge the merge", func(t *testing.T) {
		store := blobstore.NewMemory()
		jobs := newFakeJobStore()
		m := testMerger(store, jobs)

		seedConvertedPart(t, store, key, &model.BuildStatus{
			Identifier: "job1",
			Success:    true,
			Status:     model.StatusSuccess,
		})

		final, done, err := m.OnLinterCallback(ctx, &dto.LinterCallbackRequest{
			Identifier: "job1",
			Success:    true,
			ResultsKey: key,
		})
		require.NoError(t, err)
		require.True(t, done)
		assert.True(t, final.Success)

		// no replacement record is synthesized
		assert.Empty(t, jobs.updated)

		ok, err := store.Exists(ctx, key+"/merged.json")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestMultipartCompletion(t *testing.T) {
	ctx := context.Background()
	commitKey := "u/tester/fr_ulb/1234567890"
	books := []string{"gen", "exo", "lev"}

	seedPart := func(t *testing.T, store blobstore.Store, i int) {
		partKey := fmt.Sprintf("%s/%d", commitKey, i)
		seedConvertedPart(t, store, partKey, &model.BuildStatus{
			Identifier: fmt.Sprintf("job%d/3/%d/%s", i, i, books[i]),
			Success:    true,
			Status:     model.StatusSuccess,
			Log:        []string{fmt.Sprintf("converted %s", books[i])},
		})
	}

	lintPart := func(t *testing.T, m *Merger, i int) (*model.BuildStatus, bool) {
		t.Helper()
		status, done, err := m.OnLinterCallback(ctx, &dto.LinterCallbackRequest{
			Identifier: fmt.Sprintf("job%d/3/%d/%s", i, i, books[i]),
			Success:    true,
			ResultsKey: fmt.Sprintf("%s/%d", commitKey, i),
		})
		require.NoError(t, err)
		return status, done
	}

	newJobs := func() *fakeJobStore {
		jobs := make([]*model.Job, 3)
		for i := range jobs {
			j := testJob(fmt.Sprintf("job%d", i))
			j.RepoName = "fr_ulb"
			j.CommitID = "1234567890"
			jobs[i] = j
		}
		return newFakeJobStore(jobs...)
	}

	t.Run("commit stays pending until every part converts", func(t *testing.T) {
		store := blobstore.NewMemory()
		m := testMerger(store, newJobs())

		// part 1 never wrote its completion marker
		seedPart(t, store, 0)
		seedPart(t, store, 2)

		_, done := lintPart(t, m, 0)
		assert.False(t, done)
		_, done = lintPart(t, m, 2)
		assert.False(t, done)

		ok, err := store.Exists(ctx, commitKey+"/final_build_log.json")
		require.NoError(t, err)
		assert.False(t, ok)

		// ready parts were still merged and memoized
		ok, err = store.Exists(ctx, commitKey+"/0/merged.json")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = store.Exists(ctx, commitKey+"/2/merged.json")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("last arriving part finalizes regardless of order", func(t *testing.T) {
		store := blobstore.NewMemory()
		jobs := newJobs()
		m := testMerger(store, jobs)

		for i := range books {
			seedPart(t, store, i)
		}

		// out of order arrival
		_, done := lintPart(t, m, 2)
		assert.False(t, done)
		_, done = lintPart(t, m, 0)
		assert.False(t, done)
		final, done := lintPart(t, m, 1)
		require.True(t, done)

		assert.True(t, final.Multipart)
		assert.True(t, final.Success)
		assert.Equal(t, model.StatusSuccess, final.Status)

		// multipart commits get only the final log at the commit level
		ok, err := store.Exists(ctx, commitKey+"/final_build_log.json")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = store.Exists(ctx, commitKey+"/build_log.json")
		require.NoError(t, err)
		assert.False(t, ok)

		// every part job reached a terminal state
		for i := range books {
			job, err := jobs.GetJobByID(ctx, fmt.Sprintf("job%d", i))
			require.NoError(t, err)
			assert.Equal(t, model.JobStateComplete, job.State)
		}
	})

	t.Run("duplicate callbacks converge on one finalized result", func(t *testing.T) {
		store := blobstore.NewMemory()
		m := testMerger(store, newJobs())

		for i := range books {
			seedPart(t, store, i)
		}
		for i := range books {
			lintPart(t, m, i)
		}

		// replay every callback after completion
		for i := range books {
			final, done := lintPart(t, m, i)
			require.True(t, done)
			assert.Equal(t, model.StatusSuccess, final.Status)
		}

		var doc ledger.Document
		ok, err := store.GetJSON(ctx, ledger.Key("tester", "fr_ulb"), &doc)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Len(t, doc.Commits, 1)
	})

	t.Run("one failed part fails the whole commit", func(t *testing.T) {
		store := blobstore.NewMemory()
		m := testMerger(store, newJobs())

		seedPart(t, store, 0)
		seedPart(t, store, 2)
		seedConvertedPart(t, store, commitKey+"/1", &model.BuildStatus{
			Identifier: "job1/3/1/exo",
			Success:    false,
			Status:     model.StatusErrors,
			Errors:     []string{"exo failed to convert"},
		})

		lintPart(t, m, 0)
		lintPart(t, m, 1)
		final, done := lintPart(t, m, 2)
		require.True(t, done)

		assert.False(t, final.Success)
		assert.Equal(t, model.StatusErrors, final.Status)
		assert.Contains(t, final.Errors, "exo failed to convert")
	})
}

func TestPartState(t *testing.T) {
	ctx := context.Background()
	key := "u/tester/en_obs/abcdef1234/0"
	store := blobstore.NewMemory()
	m := testMerger(store, newFakeJobStore())

	state, err := m.PartState(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, PartStateNotStarted, state)

	require.NoError(t, store.PutJSON(ctx, key+"/build_log.json", &model.BuildStatus{}))
	state, err = m.PartState(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, PartStateConverting, state)

	require.NoError(t, store.Put(ctx, key+"/finished", strings.NewReader("finished"), 8, "text/plain"))
	state, err = m.PartState(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, PartStateConverted, state)

	require.NoError(t, store.PutJSON(ctx, key+"/lint_log.json", &model.BuildStatus{}))
	state, err = m.PartState(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, PartStateLinting, state)

	require.NoError(t, store.PutJSON(ctx, key+"/merged.json", &model.BuildStatus{}))
	state, err = m.PartState(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, PartStateMerged, state)
}

func TestConcurrentCallbacksFinalizeOnce(t *testing.T) {
	ctx := context.Background()
	commitKey := "u/tester/fr_ulb/1234567890"
	books := []string{"gen", "exo", "lev"}

	store := blobstore.NewMemory()
	jobs := make([]*model.Job, len(books))
	for i := range jobs {
		j := testJob(fmt.Sprintf("job%d", i))
		j.RepoName = "fr_ulb"
		j.CommitID = "1234567890"
		jobs[i] = j
	}
	m := testMerger(store, newFakeJobStore(jobs...))

	for i, book := range books {
		seedConvertedPart(t, store, fmt.Sprintf("%s/%d", commitKey, i), &model.BuildStatus{
			Identifier: fmt.Sprintf("job%d/3/%d/%s", i, i, book),
			Success:    true,
			Status:     model.StatusSuccess,
		})
	}

	// every part's callback lands at once, each delivered twice
	const replays = 2
	var wg sync.WaitGroup
	errs := make([]error, len(books)*replays)
	for r := 0; r < replays; r++ {
		for i, book := range books {
			wg.Add(1)
			go func(slot, part int, name string) {
				defer wg.Done()
				_, _, err := m.OnLinterCallback(ctx, &dto.LinterCallbackRequest{
					Identifier: fmt.Sprintf("job%d/3/%d/%s", part, part, name),
					Success:    true,
					ResultsKey: fmt.Sprintf("%s/%d", commitKey, part),
				})
				errs[slot] = err
			}(r*len(books)+i, i, book)
		}
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	// one coherent finalized status
	var final model.BuildStatus
	ok, err := store.GetJSON(ctx, commitKey+"/final_build_log.json", &final)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, final.Multipart)
	assert.True(t, final.Success)
	assert.Equal(t, model.StatusSuccess, final.Status)

	// and exactly one ledger entry for the commit
	var doc ledger.Document
	ok, err = store.GetJSON(ctx, ledger.Key("tester", "fr_ulb"), &doc)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, doc.Commits, 1)
}

func TestOnConverterCallback(t *testing.T) {
	ctx := context.Background()
	key := "u/tester/en_obs/abcdef1234"

	t.Run("rejects missing identifier and results key", func(t *testing.T) {
		m := testMerger(blobstore.NewMemory(), newFakeJobStore())

		_, _, err := m.OnConverterCallback(ctx, &dto.ConverterCallbackRequest{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no identifier found")

		_, _, err = m.OnConverterCallback(ctx, &dto.ConverterCallbackRequest{Identifier: "job1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no results key found")
	})

	t.Run("persists the convert log and completion marker", func(t *testing.T) {
		store := blobstore.NewMemory()
		m := testMerger(store, newFakeJobStore(testJob("job1")))

		status, done, err := m.OnConverterCallback(ctx, &dto.ConverterCallbackRequest{
			Identifier: "job1",
			Success:    true,
			Info:       []string{"converted en_obs"},
			ResultsKey: key,
		})
		require.NoError(t, err)
		assert.False(t, done)
		assert.True(t, status.Success)

		ok, err := store.Exists(ctx, key+"/finished")
		require.NoError(t, err)
		assert.True(t, ok)

		var convertLog model.BuildStatus
		ok, err = store.GetJSON(ctx, key+"/convert_log.json", &convertLog)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []string{"converted en_obs"}, convertLog.Log)
	})

	t.Run("finalizes when the lint log already arrived", func(t *testing.T) {
		store := blobstore.NewMemory()
		jobs := newFakeJobStore(testJob("job1"))
		m := testMerger(store, jobs)

		// linter beat the converter
		_, done, err := m.OnLinterCallback(ctx, &dto.LinterCallbackRequest{
			Identifier: "job1",
			Success:    true,
			Info:       []string{"linted en_obs"},
			ResultsKey: key,
		})
		require.NoError(t, err)
		require.False(t, done)

		final, done, err := m.OnConverterCallback(ctx, &dto.ConverterCallbackRequest{
			Identifier: "job1",
			Success:    true,
			Info:       []string{"converted en_obs"},
			ResultsKey: key,
		})
		require.NoError(t, err)
		require.True(t, done)
		assert.True(t, final.Success)
		// converter lines come before linter lines
		require.True(t, len(final.Log) >= 2)
		assert.Equal(t, "converted en_obs", final.Log[0])

		job, err := jobs.GetJobByID(ctx, "job1")
		require.NoError(t, err)
		assert.Equal(t, model.JobStateComplete, job.State)
	})

	t.Run("converter failure fails the commit", func(t *testing.T) {
		store := blobstore.NewMemory()
		m := testMerger(store, newFakeJobStore(testJob("job1")))

		_, done, err := m.OnLinterCallback(ctx, &dto.LinterCallbackRequest{
			Identifier: "job1",
			Success:    true,
			ResultsKey: key,
		})
		require.NoError(t, err)
		require.False(t, done)

		final, done, err := m.OnConverterCallback(ctx, &dto.ConverterCallbackRequest{
			Identifier: "job1",
			Success:    false,
			ResultsKey: key,
		})
		require.NoError(t, err)
		require.True(t, done)
		assert.False(t, final.Success)
		assert.Equal(t, model.StatusErrors, final.Status)
		assert.Contains(t, final.Errors, "Converter failed for identifier: job1")
	})
}
