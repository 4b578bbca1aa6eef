package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported SQL drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLConfig holds database connection settings.
type SQLConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string

	// DSN is a file path (sqlite) or connection string (postgres).
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultSQLConfig returns default pool settings for driver.
func DefaultSQLConfig(driver, dsn string) SQLConfig {
	return SQLConfig{
		Driver:          driver,
		DSN:             dsn,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// SQLStore implements Store on SQLite or PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore opens the database, verifies connectivity and creates the
// schema if needed.
func NewSQLStore(ctx context.Context, config SQLConfig) (*SQLStore, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	defaults := DefaultSQLConfig(config.Driver, config.DSN)
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = defaults.MaxOpenConns
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = defaults.MaxIdleConns
	}
	if config.ConnMaxLifetime <= 0 {
		config.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}

	switch config.Driver {
	case DriverSQLite:
		// A single connection serializes writers and keeps ":memory:"
		// databases alive across calls.
		config.MaxOpenConns = 1
		config.MaxIdleConns = 1
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported driver %q", config.Driver)
	}

	db, err := sql.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLStore{db: db, dialect: config.Driver}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS results (
		task_id TEXT PRIMARY KEY,
		experiment_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		prompt TEXT NOT NULL,
		animated INTEGER NOT NULL,
		model TEXT NOT NULL,
		variation TEXT NOT NULL,
		variation_type TEXT NOT NULL,
		instance_index INTEGER NOT NULL,
		status TEXT NOT NULL,
		svg_content TEXT NOT NULL,
		raw_response TEXT NOT NULL,
		error_message TEXT NOT NULL,
		provider TEXT NOT NULL,
		duration_ms BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_results_experiment ON results(experiment_id, position)`,
	`CREATE TABLE IF NOT EXISTS rankings (
		id TEXT PRIMARY KEY,
		experiment_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		result_ids TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rankings_experiment ON rankings(experiment_id)`,
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close releases database resources.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind rewrites ? placeholders as $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const resultColumns = `task_id, experiment_id, position, prompt, animated, model, variation, variation_type,
	instance_index, status, svg_content, raw_response, error_message, provider, duration_ms, created_at`

// SaveResult upserts a record.
func (s *SQLStore) SaveResult(ctx context.Context, r *Record) error {
	if r == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO results (`+resultColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (task_id) DO UPDATE SET
			status = excluded.status,
			svg_content = excluded.svg_content,
			raw_response = excluded.raw_response,
			error_message = excluded.error_message,
			provider = excluded.provider,
			duration_ms = excluded.duration_ms,
			created_at = excluded.created_at
	`),
		r.TaskID,
		r.ExperimentID,
		r.Position,
		r.Prompt,
		boolToInt(r.Animated),
		r.Model,
		r.Variation,
		r.VariationType,
		r.InstanceIndex,
		r.Status,
		r.SVGContent,
		r.RawResponse,
		r.Error,
		r.Provider,
		r.DurationMS,
		r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// GetResult returns the record for taskID.
func (s *SQLStore) GetResult(ctx context.Context, taskID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+resultColumns+` FROM results WHERE task_id = ?`), taskID)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	return r, nil
}

// ListResults returns filtered records.
func (s *SQLStore) ListResults(ctx context.Context, opts ListOptions) ([]*Record, error) {
	var (
		where []string
		args  []any
	)
	for _, f := range []struct {
		column, value string
	}{
		{"experiment_id", opts.ExperimentID},
		{"model", opts.Model},
		{"variation", opts.Variation},
		{"status", opts.Status},
	} {
		if f.value != "" {
			where = append(where, f.column+" = ?")
			args = append(args, f.value)
		}
	}

	query := `SELECT ` + resultColumns + ` FROM results`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY experiment_id, position"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			// SQLite rejects OFFSET without LIMIT.
			query += " LIMIT ?"
			args = append(args, int64(1<<62))
		}
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return out, nil
}

// SaveRanking upserts a ranking.
func (s *SQLStore) SaveRanking(ctx context.Context, r *Ranking) error {
	if r == nil {
		return nil
	}
	ids, err := json.Marshal(r.ResultIDs)
	if err != nil {
		return fmt.Errorf("marshal ranking: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO rankings (id, experiment_id, prompt, result_ids, created_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			result_ids = excluded.result_ids,
			created_at = excluded.created_at
	`), r.ID, r.ExperimentID, r.Prompt, string(ids), r.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save ranking: %w", err)
	}
	return nil
}

// ListRankings returns rankings oldest first.
func (s *SQLStore) ListRankings(ctx context.Context, experimentID string) ([]*Ranking, error) {
	query := `SELECT id, experiment_id, prompt, result_ids, created_at FROM rankings`
	var args []any
	if experimentID != "" {
		query += ` WHERE experiment_id = ?`
		args = append(args, experimentID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list rankings: %w", err)
	}
	defer rows.Close()

	var out []*Ranking
	for rows.Next() {
		var (
			r       Ranking
			ids     string
			created int64
		)
		if err := rows.Scan(&r.ID, &r.ExperimentID, &r.Prompt, &ids, &created); err != nil {
			return nil, fmt.Errorf("scan ranking: %w", err)
		}
		if err := json.Unmarshal([]byte(ids), &r.ResultIDs); err != nil {
			return nil, fmt.Errorf("decode ranking %s: %w", r.ID, err)
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rankings: %w", err)
	}
	return out, nil
}

// DeleteExperiment removes results and rankings in one transaction.
func (s *SQLStore) DeleteExperiment(ctx context.Context, experimentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM results WHERE experiment_id = ?`), experimentID); err != nil {
		return fmt.Errorf("delete results: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM rankings WHERE experiment_id = ?`), experimentID); err != nil {
		return fmt.Errorf("delete rankings: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		r        Record
		animated int
		created  int64
	)
	err := row.Scan(
		&r.TaskID,
		&r.ExperimentID,
		&r.Position,
		&r.Prompt,
		&animated,
		&r.Model,
		&r.Variation,
		&r.VariationType,
		&r.InstanceIndex,
		&r.Status,
		&r.SVGContent,
		&r.RawResponse,
		&r.Error,
		&r.Provider,
		&r.DurationMS,
		&created,
	)
	if err != nil {
		return nil, err
	}
	r.Animated = animated != 0
	r.CreatedAt = time.UnixMilli(created).UTC()
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
