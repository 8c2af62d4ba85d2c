package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/certrenew/pkg/models"
)

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pgxpool connection and returns a ready store.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}

// --- Events ---

func (p *PostgresStore) RecordEvent(ctx context.Context, e *models.RenewalEvent) error {
	return p.pool.QueryRow(ctx,
		`INSERT INTO renewal_events (kind, request_id, certificate_id, common_name, batch_id, status, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		e.Kind, e.RequestID, e.CertificateID, e.CommonName, e.BatchID, e.Status, e.Detail, e.CreatedAt,
	).Scan(&e.ID)
}

func (p *PostgresStore) QueryEvents(ctx context.Context, filter EventFilter) ([]*models.RenewalEvent, error) {
	query := `SELECT id, kind, request_id, certificate_id, common_name, batch_id, status, detail, created_at
	          FROM renewal_events WHERE 1=1`
	args := []any{}
	argn := 1

	if filter.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argn)
		args = append(args, filter.Kind)
		argn++
	}
	if filter.RequestID != nil {
		query += fmt.Sprintf(" AND request_id = $%d", argn)
		args = append(args, *filter.RequestID)
		argn++
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argn)
		args = append(args, filter.Limit)
		argn++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argn)
		args = append(args, filter.Offset)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.RenewalEvent
	for rows.Next() {
		var e models.RenewalEvent
		if err := rows.Scan(&e.ID, &e.Kind, &e.RequestID, &e.CertificateID,
			&e.CommonName, &e.BatchID, &e.Status, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// --- Deploy runs ---

func (p *PostgresStore) RecordDeployRun(ctx context.Context, run *models.BatchDeployRun) error {
	results, err := json.Marshal(run.Results)
	if err != nil {
		return fmt.Errorf("marshaling device results: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO deploy_runs (batch_id, status, total_devices, completed, failed, results, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (batch_id) DO UPDATE SET
		   status = EXCLUDED.status,
		   completed = EXCLUDED.completed,
		   failed = EXCLUDED.failed,
		   results = EXCLUDED.results,
		   finished_at = EXCLUDED.finished_at`,
		run.BatchID, run.Status, run.TotalDevices, run.Completed, run.Failed,
		results, run.StartedAt, run.FinishedAt,
	)
	return err
}

func (p *PostgresStore) GetDeployRun(ctx context.Context, batchID string) (*models.BatchDeployRun, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT batch_id, status, total_devices, completed, failed, results, started_at, finished_at
		 FROM deploy_runs WHERE batch_id = $1`, batchID)
	return scanDeployRun(row)
}

func (p *PostgresStore) ListDeployRuns(ctx context.Context, limit, offset int) ([]*models.BatchDeployRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx,
		`SELECT batch_id, status, total_devices, completed, failed, results, started_at, finished_at
		 FROM deploy_runs ORDER BY started_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.BatchDeployRun
	for rows.Next() {
		run, err := scanDeployRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanDeployRun(row pgx.Row) (*models.BatchDeployRun, error) {
	var run models.BatchDeployRun
	var results []byte
	err := row.Scan(&run.BatchID, &run.Status, &run.TotalDevices, &run.Completed,
		&run.Failed, &results, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &run.Results); err != nil {
			return nil, fmt.Errorf("unmarshaling device results: %w", err)
		}
	}
	return &run, nil
}

// --- Metrics helpers ---

func (p *PostgresStore) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM renewal_events`).Scan(&n)
	return n, err
}

func (p *PostgresStore) CountDeployRuns(ctx context.Context) (int64, error) {
	var n int64
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM deploy_runs`).Scan(&n)
	return n, err
}
