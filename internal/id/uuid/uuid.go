// Package uuid issues identifiers for collector runs.
package uuid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Generator issues time-ordered v7 IDs.
type Generator struct{}

// NewGenerator returns a Generator.
func NewGenerator() Generator {
	return Generator{}
}

// NewRunID returns a v7 ID as a string.
func (Generator) NewRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}

// StartedAt recovers the creation time embedded in a run ID.
func StartedAt(runID string) (time.Time, error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse run id: %w", err)
	}
	if id.Version() != 7 {
		return time.Time{}, fmt.Errorf("run id %s is version %d, want 7", runID, id.Version())
	}
	sec, nsec := id.Time().UnixTime()
	return time.Unix(sec, nsec), nil
}
