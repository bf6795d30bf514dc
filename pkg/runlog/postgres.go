package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresLedger persists run records to Postgres.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(conn string) (*PostgresLedger, error) {
	db, err := sql.Open("pgx", conn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	l := &PostgresLedger{db: db}
	if err := l.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *PostgresLedger) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS orchestration_runs (
    id TEXT PRIMARY KEY,
    node_id TEXT,
    job_id TEXT,
    gpu_type_id TEXT,
    status TEXT NOT NULL,
    error TEXT,
    artifacts TEXT,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);
`
	_, err := l.db.Exec(schema)
	return err
}

func (l *PostgresLedger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

func (l *PostgresLedger) Save(ctx context.Context, run Run) error {
	now := time.Now().Unix()
	if run.CreatedAt == 0 {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	query := `INSERT INTO orchestration_runs (id, node_id, job_id, gpu_type_id, status, error, artifacts, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
    node_id = EXCLUDED.node_id,
    job_id = EXCLUDED.job_id,
    gpu_type_id = EXCLUDED.gpu_type_id,
    status = EXCLUDED.status,
    error = EXCLUDED.error,
    artifacts = EXCLUDED.artifacts,
    updated_at = EXCLUDED.updated_at`
	_, err := l.db.ExecContext(ctx, query,
		run.ID,
		run.NodeID,
		run.JobID,
		run.GPUTypeID,
		run.Status,
		run.Error,
		strings.Join(run.Artifacts, "\n"),
		run.CreatedAt,
		run.UpdatedAt,
	)
	return err
}

func (l *PostgresLedger) Get(ctx context.Context, id string) (Run, error) {
	query := `SELECT id, node_id, job_id, gpu_type_id, status, error, artifacts, created_at, updated_at
FROM orchestration_runs WHERE id=$1`
	return scanRun(l.db.QueryRowContext(ctx, query, id))
}

func (l *PostgresLedger) List(ctx context.Context) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id, node_id, job_id, gpu_type_id, status, error, artifacts, created_at, updated_at
FROM orchestration_runs ORDER BY created_at DESC LIMIT 100`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var nodeID, jobID, gpuType, errMsg, artifacts sql.NullString
	if err := row.Scan(&run.ID, &nodeID, &jobID, &gpuType, &run.Status, &errMsg, &artifacts, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return Run{}, err
	}
	run.NodeID = nodeID.String
	run.JobID = jobID.String
	run.GPUTypeID = gpuType.String
	run.Error = errMsg.String
	if artifacts.Valid && artifacts.String != "" {
		run.Artifacts = strings.Split(artifacts.String, "\n")
	}
	return run, nil
}
