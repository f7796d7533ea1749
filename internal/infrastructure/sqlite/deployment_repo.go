package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shiftover/shiftover-server/internal/domain"
)

// DeploymentRepo implements [domain.DeploymentRepository] backed by SQLite.
type DeploymentRepo struct {
	DB *sql.DB
}

func (r *DeploymentRepo) Create(ctx context.Context, d domain.Deployment) error {
	opts, err := json.Marshal(d.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO deployments (id, target_version, started_at, state, options)
		 VALUES (?, ?, ?, ?, ?)`,
		string(d.ID), d.TargetVersion, d.StartedAt.UTC().Format(time.RFC3339), string(d.State), string(opts),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("deployment %q: %w", d.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

func (r *DeploymentRepo) Get(ctx context.Context, id domain.DeploymentID) (domain.Deployment, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, target_version, started_at, state, options
		 FROM deployments WHERE id = ?`,
		string(id),
	)
	return scanDeployment(row)
}

func (r *DeploymentRepo) List(ctx context.Context) ([]domain.Deployment, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, target_version, started_at, state, options
		 FROM deployments ORDER BY started_at DESC, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var deployments []domain.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

func (r *DeploymentRepo) UpdateState(ctx context.Context, id domain.DeploymentID, state domain.DeploymentState) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE deployments SET state = ? WHERE id = ?`,
		string(state), string(id),
	)
	if err != nil {
		return fmt.Errorf("update deployment state: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("deployment %q: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanDeployment(s scanner) (domain.Deployment, error) {
	var d domain.Deployment
	var id, startedAtStr, stateStr, optsJSON string
	if err := s.Scan(&id, &d.TargetVersion, &startedAtStr, &stateStr, &optsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return d, fmt.Errorf("scan deployment: %w", err)
	}
	d.ID = domain.DeploymentID(id)
	d.State = domain.DeploymentState(stateStr)

	t, err := time.Parse(time.RFC3339, startedAtStr)
	if err != nil {
		return d, fmt.Errorf("parse started_at: %w", err)
	}
	d.StartedAt = t

	if err := json.Unmarshal([]byte(optsJSON), &d.Options); err != nil {
		return d, fmt.Errorf("unmarshal options: %w", err)
	}
	return d, nil
}
