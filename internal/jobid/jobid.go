package jobid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// maxAttempts bounds regeneration when the store keeps reporting
// collisions. Hash collisions are vanishingly rare; hitting this limit
// points at a store fault, not bad luck.
const maxAttempts = 10

// ExistsChecker answers whether a job id is already taken.
type ExistsChecker interface {
	JobIDExists(ctx context.Context, jobID string) (bool, error)
}

// Generator produces collision-checked unique job ids by hashing the
// current high-resolution timestamp. After the first collision each retry
// mixes in fresh entropy so identical timestamps within one clock tick
// cannot loop.
type Generator struct {
	store ExistsChecker
	now   func() time.Time
}

func NewGenerator(store ExistsChecker) *Generator {
	return &Generator{
		store: store,
		now:   time.Now,
	}
}

// Generate returns a job id that does not exist in the job record store.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		seed := g.now().UTC().Format("2006-01-02 15:04:05.000000")
		if attempt > 0 {
			seed += uuid.NewString()
		}

		sum := sha256.Sum256([]byte(seed))
		id := hex.EncodeToString(sum[:])

		exists, err := g.store.JobIDExists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("failed to check job id: %w", err)
		}
		if !exists {
			return id, nil
		}
	}

	return "", fmt.Errorf("failed to generate unique job id after %d attempts", maxAttempts)
}
