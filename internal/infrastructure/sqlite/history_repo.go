package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shiftover/shiftover-server/internal/domain"
)

// HistoryRepo implements [domain.HistoryRepository] backed by SQLite.
// Appends are individual transactional inserts, so concurrent writers
// cannot clobber each other the way a whole-document store could.
type HistoryRepo struct {
	DB *sql.DB
}

func (r *HistoryRepo) Append(ctx context.Context, rec domain.HistoryRecord) error {
	info, err := json.Marshal(rec.Info)
	if err != nil {
		return fmt.Errorf("marshal history info: %w", err)
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO history (version, deployed_at, deployed_by, previous_version, info)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.Version, rec.DeployedAt.UTC().Format(time.RFC3339Nano), rec.DeployedBy,
		rec.PreviousVersion, string(info),
	)
	if err != nil {
		return fmt.Errorf("insert history record: %w", err)
	}
	return nil
}

func (r *HistoryRepo) List(ctx context.Context) ([]domain.HistoryRecord, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT version, deployed_at, deployed_by, previous_version, info
		 FROM history ORDER BY seq DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var records []domain.HistoryRecord
	for rows.Next() {
		var rec domain.HistoryRecord
		var deployedAtStr, infoJSON string
		if err := rows.Scan(&rec.Version, &deployedAtStr, &rec.DeployedBy, &rec.PreviousVersion, &infoJSON); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, deployedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parse deployed_at: %w", err)
		}
		rec.DeployedAt = t
		if infoJSON != "" && infoJSON != "{}" && infoJSON != "null" {
			if err := json.Unmarshal([]byte(infoJSON), &rec.Info); err != nil {
				return nil, fmt.Errorf("unmarshal history info: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
