package model

import (
	"fmt"
	"strconv"
	"strings"
)

// PartIdentifier locates one part of a possibly multi-part job. A single
// job's identifier is just its job id; a part of a split job carries the
// 4-segment form jobID/partCount/partIndex/partName.
type PartIdentifier struct {
	JobID     string
	PartCount int
	PartIndex int
	PartName  string
	Multipart bool
}

// FormatPartIdentifier builds the 4-segment identifier for one part.
func FormatPartIdentifier(jobID string, partCount, partIndex int, partName string) string {
	return fmt.Sprintf("%s/%d/%d/%s", jobID, partCount, partIndex, partName)
}

// ParseIdentifier splits a job identifier into its components. Anything with
// fewer than 4 segments is treated as a single-unit job whose id is the
// first segment.
func ParseIdentifier(identifier string) (PartIdentifier, error) {
	if identifier == "" {
		return PartIdentifier{}, fmt.Errorf("empty identifier")
	}
	segments := strings.Split(identifier, "/")
	if len(segments) < 4 {
		return PartIdentifier{JobID: segments[0]}, nil
	}

	count, err := strconv.Atoi(segments[1])
	if err != nil {
		return PartIdentifier{}, fmt.Errorf("invalid part count in identifier %q: %w", identifier, err)
	}
	index, err := strconv.Atoi(segments[2])
	if err != nil {
		return PartIdentifier{}, fmt.Errorf("invalid part index in identifier %q: %w", identifier, err)
	}
	if count <= 0 || index < 0 || index >= count {
		return PartIdentifier{}, fmt.Errorf("part index %d out of range 0..%d in identifier %q", index, count-1, identifier)
	}

	return PartIdentifier{
		JobID:     segments[0],
		PartCount: count,
		PartIndex: index,
		PartName:  segments[3],
		Multipart: true,
	}, nil
}
