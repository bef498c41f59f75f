package callback

import "context"

// PartState is the lifecycle stage of one conversion part, inferred from
// which result objects exist under its key. The store is the single source
// of truth; nothing tracks this in memory.
type PartState string

const (
	PartStateNotStarted PartState = "not_started"
	PartStateConverting PartState = "converting"
	PartStateConverted  PartState = "converted"
	PartStateLinting    PartState = "linting"
	PartStateMerged     PartState = "merged"
)

// PartState inspects the objects under partKey and reports how far the
// part has progressed.
func (m *Merger) PartState(ctx context.Context, partKey string) (PartState, error) {
	if ok, err := m.cdn.Exists(ctx, partKey+"/"+mergedFile); err != nil {
		return "", err
	} else if ok {
		return PartStateMerged, nil
	}

	converted, err := m.cdn.Exists(ctx, partKey+"/"+markerFile)
	if err != nil {
		return "", err
	}
	if converted {
		if ok, err := m.cdn.Exists(ctx, partKey+"/"+lintLogFile); err != nil {
			return "", err
		} else if ok {
			return PartStateLinting, nil
		}
		return PartStateConverted, nil
	}

	if ok, err := m.cdn.Exists(ctx, partKey+"/"+buildLogFile); err != nil {
		return "", err
	} else if ok {
		return PartStateConverting, nil
	}
	return PartStateNotStarted, nil
}
