package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, no cgo
)

// MaxMisses bounds the number of stored miss records.
const MaxMisses = 100

// SQLiteStore persists telemetry in a SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the telemetry database at path.
func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry database: %w", err)
	}

	// Single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Requests per command type (aggregated daily)
	CREATE TABLE IF NOT EXISTS command_stats (
		date TEXT NOT NULL,
		command TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, command)
	);

	-- Latency histogram per day
	CREATE TABLE IF NOT EXISTS latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);

	-- Looked-up class and package names
	CREATE TABLE IF NOT EXISTS name_lookups (
		name TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 1,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_name_lookups_count ON name_lookups(count DESC);

	-- Names that resolved to nothing (bounded FIFO)
	CREATE TABLE IF NOT EXISTS misses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// SaveCommandCounts adds counts to the totals of date.
func (s *SQLiteStore) SaveCommandCounts(date string, counts map[string]int64) error {
	return s.upsertDaily(`
		INSERT INTO command_stats (date, command, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, command) DO UPDATE SET count = count + excluded.count
	`, date, counts)
}

// SaveLatencyCounts adds bucket counts to the histogram of date.
func (s *SQLiteStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	byName := make(map[string]int64, len(counts))
	for b, n := range counts {
		byName[string(b)] = n
	}
	return s.upsertDaily(`
		INSERT INTO latency_stats (date, bucket, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count
	`, date, byName)
}

func (s *SQLiteStore) upsertDaily(query, date string, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for key, n := range counts {
		if _, err := stmt.Exec(date, key, n); err != nil {
			return fmt.Errorf("upsert %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UpsertNameCounts adds to the lookup count of each name.
func (s *SQLiteStore) UpsertNameCounts(counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO name_lookups (name, count, last_seen)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			count = count + excluded.count,
			last_seen = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for name, n := range counts {
		if _, err := stmt.Exec(name, n); err != nil {
			return fmt.Errorf("upsert name count: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// AddMisses appends names to the miss list, keeping the newest MaxMisses.
func (s *SQLiteStore) AddMisses(names []string, at time.Time) error {
	if len(names) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, name := range names {
		if _, err := tx.Exec(`INSERT INTO misses (name, timestamp) VALUES (?, ?)`, name, at); err != nil {
			return fmt.Errorf("insert miss: %w", err)
		}
	}
	_, err = tx.Exec(`
		DELETE FROM misses
		WHERE id NOT IN (
			SELECT id FROM misses
			ORDER BY id DESC
			LIMIT ?
		)
	`, MaxMisses)
	if err != nil {
		return fmt.Errorf("trim misses: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Report is a summary of stored telemetry.
type Report struct {
	From          string                  `json:"from"`
	To            string                  `json:"to"`
	CommandCounts map[string]int64        `json:"command_counts"`
	Latencies     map[LatencyBucket]int64 `json:"latencies"`
	TopNames      []NameCount             `json:"top_names"`
	RecentMisses  []string                `json:"recent_misses"`
}

// Total returns the number of requests in the report.
func (r *Report) Total() int64 {
	var n int64
	for _, c := range r.CommandCounts {
		n += c
	}
	return n
}

// Report summarizes the dates from..to (inclusive, YYYY-MM-DD) and the
// top limit names and misses.
func (s *SQLiteStore) Report(from, to string, limit int) (*Report, error) {
	r := &Report{From: from, To: to}

	commands, err := s.sumByKey(`
		SELECT command, SUM(count) FROM command_stats
		WHERE date >= ? AND date <= ? GROUP BY command
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query command counts: %w", err)
	}
	r.CommandCounts = commands

	latencies, err := s.sumByKey(`
		SELECT bucket, SUM(count) FROM latency_stats
		WHERE date >= ? AND date <= ? GROUP BY bucket
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}
	r.Latencies = make(map[LatencyBucket]int64, len(latencies))
	for b, n := range latencies {
		r.Latencies[LatencyBucket(b)] = n
	}

	rows, err := s.db.Query(`SELECT name, count FROM name_lookups ORDER BY count DESC, name LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top names: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var nc NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.TopNames = append(r.TopNames, nc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	missRows, err := s.db.Query(`SELECT name FROM misses ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query misses: %w", err)
	}
	defer missRows.Close()
	for missRows.Next() {
		var name string
		if err := missRows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.RecentMisses = append(r.RecentMisses, name)
	}
	return r, missRows.Err()
}

func (s *SQLiteStore) sumByKey(query, from, to string) (map[string]int64, error) {
	rows, err := s.db.Query(query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
