package energylens

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

// StoreConfig selects the run store.
type StoreConfig struct {
	// Driver is "sqlite", "postgres" or empty to disable the store.
	Driver string `yaml:"driver"`

	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string `yaml:"dsn"`

	MaxConnections int `yaml:"max_connections"`
}

// RunSummary is the listing row of a stored run.
type RunSummary struct {
	RunID        string    `json:"run_id"`
	CreatedAt    time.Time `json:"created_at"`
	Rows         int       `json:"rows"`
	TotalKWh     float64   `json:"total_kwh"`
	AnomalyCount int       `json:"anomaly_count"`
}

// ResultStore persists completed analyses.
type ResultStore interface {
	ResultSink
	SaveRun(ctx context.Context, run *Analysis) error
	GetRun(ctx context.Context, runID string) (*Analysis, error)

	// ListRuns returns the newest runs first.
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)

	// ApplianceHistory returns one appliance's report rows across runs, oldest first.
	ApplianceHistory(ctx context.Context, appliance string) ([]AppliancePoint, error)

	Close() error
}

// AppliancePoint is one appliance's report in one stored run.
type AppliancePoint struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Column    string    `json:"column"`
	Appliance string    `json:"appliance"`
	TotalKWh  float64   `json:"total_kwh"`
	Cost      float64   `json:"cost"`
	UsageTier UsageTier `json:"usage_cluster"`
}

var _ ResultStore = (*SQLStore)(nil)

const storeSchema = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id        TEXT PRIMARY KEY,
		created_at    BIGINT NOT NULL,
		row_count     INTEGER NOT NULL,
		total_kwh     DOUBLE PRECISION NOT NULL,
		anomaly_count INTEGER NOT NULL,
		payload       TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS appliance_reports (
		run_id        TEXT NOT NULL,
		column_name   TEXT NOT NULL,
		appliance     TEXT NOT NULL,
		total_kwh     DOUBLE PRECISION NOT NULL,
		co2_kg        DOUBLE PRECISION NOT NULL,
		cost          DOUBLE PRECISION NOT NULL,
		usage_cluster TEXT NOT NULL,
		eco_score     DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (run_id, column_name)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs (created_at);
`

// SQLStore stores runs in SQLite or PostgreSQL. Both share one schema; only
// the bind placeholder differs.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenStore opens the configured database and creates the schema.
func OpenStore(ctx context.Context, cfg StoreConfig) (*SQLStore, error) {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}

	var dsn string
	switch cfg.Driver {
	case "sqlite":
		if cfg.DSN == "" {
			cfg.DSN = "energylens.db"
		}
		dsn = cfg.DSN + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	case "postgres":
		if cfg.DSN == "" {
			return nil, errors.New("postgres store requires a dsn")
		}
		dsn = cfg.DSN
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections / 2)
	db.SetConnMaxLifetime(5 * time.Minute)
	if cfg.Driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s store: %w", cfg.Driver, err)
	}
	if _, err := db.ExecContext(ctx, storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLStore{db: db, driver: cfg.Driver}, nil
}

// rebind rewrites ? placeholders as $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
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

// Name implements ResultSink.
func (s *SQLStore) Name() string { return s.driver + "-store" }

// Deliver implements ResultSink.
func (s *SQLStore) Deliver(ctx context.Context, run *Analysis) error {
	return s.SaveRun(ctx, run)
}

// SaveRun writes the run and its appliance rows in one transaction.
func (s *SQLStore) SaveRun(ctx context.Context, run *Analysis) (err error) {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO runs (run_id, created_at, row_count, total_kwh, anomaly_count, payload)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		run.RunID, run.CreatedAt.UnixNano(), run.Summary.Rows, run.Summary.TotalKWh,
		run.Summary.AnomalyCount, string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	columns := reportColumns(run)
	for i, e := range run.Report {
		_, err = tx.ExecContext(ctx, s.rebind(
			`INSERT INTO appliance_reports (run_id, column_name, appliance, total_kwh, co2_kg, cost, usage_cluster, eco_score)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			run.RunID, columns[i], e.Appliance, e.TotalKWh, e.CO2Kg, e.Cost, string(e.UsageTier), e.EcoScore)
		if err != nil {
			return fmt.Errorf("failed to insert appliance %q: %w", e.Appliance, err)
		}
	}
	return tx.Commit()
}

// GetRun loads a stored run. Unknown ids return ErrRunNotFound.
func (s *SQLStore) GetRun(ctx context.Context, runID string) (*Analysis, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT payload FROM runs WHERE run_id = ?`), runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	var run Analysis
	if err := json.Unmarshal([]byte(payload), &run); err != nil {
		return nil, fmt.Errorf("failed to decode run: %w", err)
	}
	return &run, nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 means 50.
func (s *SQLStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT run_id, created_at, row_count, total_kwh, anomaly_count
		 FROM runs ORDER BY created_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var (
			r       RunSummary
			created int64
		)
		if err := rows.Scan(&r.RunID, &created, &r.Rows, &r.TotalKWh, &r.AnomalyCount); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(0, created).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ApplianceHistory returns the stored report rows of one appliance across
// runs, oldest first. appliance is a column name, with or without the _kwh
// suffix, or a display name; matching ignores case.
func (s *SQLStore) ApplianceHistory(ctx context.Context, appliance string) ([]AppliancePoint, error) {
	key := strings.ToLower(strings.TrimSpace(appliance))
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT a.run_id, r.created_at, a.column_name, a.appliance, a.total_kwh, a.cost, a.usage_cluster
		 FROM appliance_reports a
		 JOIN runs r ON r.run_id = a.run_id
		 WHERE LOWER(a.column_name) = ? OR LOWER(a.column_name) = ? OR LOWER(a.appliance) = ?
		 ORDER BY r.created_at`), key, key+applianceMarker, key)
	if err != nil {
		return nil, fmt.Errorf("failed to query appliance history: %w", err)
	}
	defer rows.Close()

	out := []AppliancePoint{}
	for rows.Next() {
		var (
			p       AppliancePoint
			created int64
			tier    string
		)
		if err := rows.Scan(&p.RunID, &created, &p.Column, &p.Appliance, &p.TotalKWh, &p.Cost, &tier); err != nil {
			return nil, err
		}
		p.CreatedAt = time.Unix(0, created).UTC()
		p.UsageTier = UsageTier(tier)
		out = append(out, p)
	}
	return out, rows.Err()
}

// reportColumns returns the source column of every report entry. Entries
// follow the schema's appliance order; a run without a matching schema falls
// back to display names.
func reportColumns(run *Analysis) []string {
	columns := make([]string, len(run.Report))
	for i, e := range run.Report {
		columns[i] = e.Appliance
		if i < len(run.Schema.Appliances) && run.Schema.Appliances[i].Name == e.Appliance {
			columns[i] = run.Schema.Appliances[i].Column
		}
	}
	return columns
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
