package webhook

import (
	"errors"
	"fmt"
	"strings"

	"github.com/txsuite/pipeline-be/internal/api/dto"
)

// ErrValidation marks a malformed or untrusted push event. Handlers map it
// to a 4xx response; no side effects have happened when it is returned.
var ErrValidation = errors.New("invalid push event")

// ValidatePush checks an inbound event in order, short-circuiting on the
// first failure: payload present, push event type, trusted origin, commit
// branch equals the repository's default branch.
func ValidatePush(eventType string, event *dto.PushEvent, trustedOrigin string) error {
	if event == nil {
		return fmt.Errorf("%w: no payload found, submit a POST request via a push webhook notification", ErrValidation)
	}
	if eventType != "push" {
		return fmt.Errorf("%w: this does not appear to be a push", ErrValidation)
	}
	if !strings.HasPrefix(event.Repository.HTMLURL, trustedOrigin) {
		return fmt.Errorf("%w: the repo does not belong to %s", ErrValidation, trustedOrigin)
	}

	branch, err := branchFromRef(event.Ref)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if branch != event.Repository.DefaultBranch {
		return fmt.Errorf("%w: commit branch %s is not the default branch", ErrValidation, branch)
	}

	return nil
}

// branchFromRef extracts the branch name from a ref like
// "refs/heads/master". Refs with fewer than 3 segments fail explicitly.
func branchFromRef(ref string) (string, error) {
	segments := strings.Split(ref, "/")
	if len(segments) < 3 {
		return "", fmt.Errorf("could not determine commit branch from ref %q", ref)
	}
	return segments[2], nil
}
