package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/popdownscale/internal/calibrate"
	"github.com/sells-group/popdownscale/internal/db"
	"github.com/sells-group/popdownscale/internal/model"
	"github.com/sells-group/popdownscale/internal/tables"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind       TEXT NOT NULL,
	region     TEXT NOT NULL DEFAULT '',
	scenario   TEXT NOT NULL DEFAULT '',
	year       INTEGER NOT NULL DEFAULT 0,
	inputs     JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS calibration_records (
	run_id TEXT NOT NULL REFERENCES runs(id),
	seq    INTEGER NOT NULL,
	alpha  DOUBLE PRECISION NOT NULL,
	beta   DOUBLE PRECISION NOT NULL,
	error  DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS parameters (
	region     TEXT NOT NULL DEFAULT '',
	scenario   TEXT NOT NULL,
	year       INTEGER NOT NULL,
	alpha      DOUBLE PRECISION NOT NULL,
	beta       DOUBLE PRECISION NOT NULL,
	run_id     TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (region, scenario, year)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_region ON runs(region);
CREATE INDEX IF NOT EXISTS idx_parameters_scenario ON parameters(scenario);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	run.ID = uuid.New().String()
	run.Status = model.RunStatusRunning
	run.CreatedAt = time.Now().UTC()
	run.UpdatedAt = run.CreatedAt
	run.Result = nil
	run.Error = ""

	inputs, err := json.Marshal(run.Inputs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal inputs")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, kind, region, scenario, year, inputs, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, string(run.Kind), run.Region, run.Scenario, run.Year, inputs,
		string(run.Status), run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &run, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return notFound(runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET error = $1, status = $2, updated_at = $3 WHERE id = $4`,
		message, string(model.RunStatusFailed), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return notFound(runID)
	}
	return nil
}

const postgresRunColumns = `id, kind, region, scenario, year, inputs, status, result, error, created_at, updated_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postgresRunColumns+` FROM runs WHERE id = $1`, runID)
	r, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + postgresRunColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	add := func(column string, value any) {
		query += fmt.Sprintf(` AND %s = $%d`, column, argIdx)
		args = append(args, value)
		argIdx++
	}
	if filter.Kind != "" {
		add("kind", string(filter.Kind))
	}
	if filter.Status != "" {
		add("status", string(filter.Status))
	}
	if filter.Region != "" {
		add("region", filter.Region)
	}
	if filter.Scenario != "" {
		add("scenario", filter.Scenario)
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, argIdx)
	args = append(args, filter.limit())
	argIdx++
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

var recordColumns = []string{"run_id", "seq", "alpha", "beta", "error"}

func (s *PostgresStore) SaveRecords(ctx context.Context, runID string, records []calibrate.Record) error {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{runID, i, r.Alpha, r.Beta, r.Error}
	}
	_, err := db.CopyRows(ctx, s.pool, "calibration_records", recordColumns, rows)
	return eris.Wrapf(err, "postgres: save records for run %s", runID)
}

func (s *PostgresStore) ListRecords(ctx context.Context, runID string) ([]calibrate.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT alpha, beta, error FROM calibration_records WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list records for run %s", runID)
	}
	defer rows.Close()

	var out []calibrate.Record
	for rows.Next() {
		var r calibrate.Record
		if err := rows.Scan(&r.Alpha, &r.Beta, &r.Error); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

var parameterUpsert = db.UpsertConfig{
	Table:        "parameters",
	Columns:      []string{"region", "scenario", "year", "alpha", "beta", "run_id", "updated_at"},
	ConflictKeys: []string{"region", "scenario", "year"},
}

func (s *PostgresStore) UpsertParameters(ctx context.Context, runID string, params []tables.ParameterRow) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, len(params))
	for i, p := range params {
		rows[i] = []any{p.Region, p.Scenario, p.Year, p.Alpha, p.Beta, runID, now}
	}
	n, err := db.BulkUpsert(ctx, s.pool, parameterUpsert, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert parameters")
	}
	return n, nil
}

func (s *PostgresStore) ListParameters(ctx context.Context, scenario string) ([]tables.ParameterRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT alpha, beta, scenario, year, region FROM parameters
		 WHERE scenario = $1 ORDER BY region, year`, scenario)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list parameters")
	}
	defer rows.Close()

	var out []tables.ParameterRow
	for rows.Next() {
		var p tables.ParameterRow
		if err := rows.Scan(&p.Alpha, &p.Beta, &p.Scenario, &p.Year, &p.Region); err != nil {
			return nil, eris.Wrap(err, "postgres: scan parameters")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list parameters iterate")
}

func scanPostgresRun(row pgx.Row) (*model.Run, error) {
	var (
		r          model.Run
		kind       string
		status     string
		inputsJSON []byte
		resultNull *[]byte
	)
	err := row.Scan(&r.ID, &kind, &r.Region, &r.Scenario, &r.Year, &inputsJSON,
		&status, &resultNull, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Kind = model.RunKind(kind)
	r.Status = model.RunStatus(status)

	var resultJSON []byte
	if resultNull != nil {
		resultJSON = *resultNull
	}
	if err := decodeRun(&r, inputsJSON, resultNull != nil, resultJSON); err != nil {
		return nil, err
	}
	return &r, nil
}
