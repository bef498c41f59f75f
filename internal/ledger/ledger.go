// Package ledger maintains the per-repository commit history document
// (project.json) in the blob store. Each commit appears at most once; a
// re-push replaces the prior entry instead of duplicating it.
package ledger

import (
	"context"
	"fmt"

	"github.com/txsuite/pipeline-be/shared/blobstore"
)

// CommitEntry is one commit-level build summary in the ledger.
type CommitEntry struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	Status    string `json:"status"`
	Success   bool   `json:"success"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at"`
}

// Document is the persisted ledger for one repository.
type Document struct {
	User    string        `json:"user"`
	Repo    string        `json:"repo"`
	RepoURL string        `json:"repo_url"`
	Commits []CommitEntry `json:"commits"`
}

// Key returns the ledger's blob key for a repository.
func Key(userName, repoName string) string {
	return fmt.Sprintf("u/%s/%s/project.json", userName, repoName)
}

// Update reads the repository's ledger, replaces any prior entry for the
// commit and writes it back. The read-modify-write is an idempotent full
// overwrite: concurrent duplicate callbacks converge to the same document.
func Update(ctx context.Context, store blobstore.Store, userName, repoName, repoURL string, entry CommitEntry) error {
	key := Key(userName, repoName)

	var doc Document
	if _, err := store.GetJSON(ctx, key, &doc); err != nil {
		return fmt.Errorf("failed to read commit ledger: %w", err)
	}

	doc.User = userName
	doc.Repo = repoName
	doc.RepoURL = repoURL

	commits := make([]CommitEntry, 0, len(doc.Commits)+1)
	for _, c := range doc.Commits {
		if c.ID != entry.ID {
			commits = append(commits, c)
		}
	}
	doc.Commits = append(commits, entry)

	if err := store.PutJSON(ctx, key, &doc); err != nil {
		return fmt.Errorf("failed to write commit ledger: %w", err)
	}
	return nil
}
