package domain

import (
	"context"
	"fmt"
	"time"
)

// HistoryRecord is one entry in the append-only deployment history. Records
// are never mutated in place.
type HistoryRecord struct {
	Version         string
	DeployedAt      time.Time
	DeployedBy      string
	PreviousVersion string
	Info            map[string]string
}

// HistoryRepository persists the deployment history. List returns records
// newest first.
type HistoryRepository interface {
	Append(ctx context.Context, rec HistoryRecord) error
	List(ctx context.Context) ([]HistoryRecord, error)
}

// RollbackTarget resolves the version immediately preceding the newest
// history entry. With fewer than two entries there is nothing to return to
// and ErrNoRollbackTarget is reported.
func RollbackTarget(ctx context.Context, history HistoryRepository) (string, error) {
	records, err := history.List(ctx)
	if err != nil {
		return "", fmt.Errorf("list history: %w", err)
	}
	if len(records) < 2 {
		return "", ErrNoRollbackTarget
	}
	return records[1].Version, nil
}
