// Package journal keeps a local SQLite record of every loop iteration.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/awilliams/aht20-agent/internal/sensor"

	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

// DefaultMaxRows is the number of rows kept when none is configured.
const DefaultMaxRows = 10000

const schemaReadings = `
CREATE TABLE IF NOT EXISTS readings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    boot_id TEXT NOT NULL,
    taken_at TIMESTAMP NOT NULL,
    humidity REAL,
    temperature REAL,
    sensor_error TEXT,
    publish_error TEXT
);
`

const (
	insertReading = `INSERT INTO readings (boot_id, taken_at, humidity, temperature, sensor_error, publish_error) VALUES (?, ?, ?, ?, ?, ?)`
	pruneReadings = `DELETE FROM readings WHERE id <= (SELECT id FROM readings ORDER BY id DESC LIMIT 1 OFFSET ?)`
)

// Entry is the outcome of one loop iteration.
type Entry struct {
	TakenAt      time.Time
	Sample       *sensor.Sample // Nil if the sensor failed.
	SensorError  error
	PublishError error
}

// Journal appends entries to the readings table.
type Journal struct {
	db      *sql.DB
	bootID  string
	maxRows int
}

// Open opens or creates the SQLite file at path.
func Open(path, bootID string, maxRows int) (*Journal, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaReadings); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return New(db, bootID, maxRows), nil
}

// New returns a Journal using an already initialized db.
func New(db *sql.DB, bootID string, maxRows int) *Journal {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Journal{db: db, bootID: bootID, maxRows: maxRows}
}

// Record appends e and prunes rows beyond the configured maximum.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	var h, t sql.NullFloat64
	if e.Sample != nil {
		h = sql.NullFloat64{Float64: e.Sample.Humidity, Valid: true}
		t = sql.NullFloat64{Float64: e.Sample.Temperature, Valid: true}
	}

	_, err := j.db.ExecContext(ctx, insertReading,
		j.bootID,
		e.TakenAt.UTC().Format("2006-01-02 15:04:05"),
		h,
		t,
		errString(e.SensorError),
		errString(e.PublishError),
	)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}

	if _, err := j.db.ExecContext(ctx, pruneReadings, j.maxRows); err != nil {
		return fmt.Errorf("prune readings: %w", err)
	}
	return nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func errString(err error) sql.NullString {
	if err == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: err.Error(), Valid: true}
}

// Count returns the number of rows in the journal.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count readings: %w", err)
	}
	return n, nil
}
