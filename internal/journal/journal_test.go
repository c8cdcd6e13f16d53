package journal

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/awilliams/aht20-agent/internal/sensor"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestRecord_Sample(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	j := New(db, "boot-1", 100)
	takenAt := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(insertReading)).
		WithArgs("boot-1", "2024-05-01 12:30:00",
			sql.NullFloat64{Float64: 55.2, Valid: true},
			sql.NullFloat64{Float64: 21.7, Valid: true},
			sql.NullString{},
			sql.NullString{String: "publish \"/aht20/h\": not connected", Valid: true},
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(pruneReadings)).
		WithArgs(100).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = j.Record(context.Background(), Entry{
		TakenAt:      takenAt,
		Sample:       &sensor.Sample{Humidity: 55.2, Temperature: 21.7},
		PublishError: errors.New(`publish "/aht20/h": not connected`),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("mock expectations: %v", err)
	}
}

func TestRecord_SensorError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	j := New(db, "boot-1", 0)

	mock.ExpectExec(regexp.QuoteMeta(insertReading)).
		WithArgs("boot-1", sqlmock.AnyArg(),
			sql.NullFloat64{}, sql.NullFloat64{},
			sql.NullString{String: "sensor checksum mismatch", Valid: true},
			sql.NullString{},
		).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec(regexp.QuoteMeta(pruneReadings)).
		WithArgs(DefaultMaxRows).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = j.Record(context.Background(), Entry{TakenAt: time.Now(), SensorError: sensor.ErrChecksum})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("mock expectations: %v", err)
	}
}

func TestRecord_DBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	j := New(db, "boot-1", 10)
	boom := errors.New("disk I/O error")
	mock.ExpectExec(regexp.QuoteMeta(insertReading)).WillReturnError(boom)

	if err := j.Record(context.Background(), Entry{TakenAt: time.Now()}); !errors.Is(err, boom) {
		t.Fatalf("Record error = %v; want %v", err, boom)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("mock expectations: %v", err)
	}
}

func TestOpen_Prune(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), "boot-1", 3)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s := sensor.Sample{Humidity: float64(40 + i), Temperature: 20}
		if err := j.Record(ctx, Entry{TakenAt: time.Now(), Sample: &s}); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	n, err := j.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("got %d rows; want 3", n)
	}

	// The newest rows are kept.
	var oldest float64
	if err := j.db.QueryRowContext(ctx, `SELECT humidity FROM readings ORDER BY id ASC LIMIT 1`).Scan(&oldest); err != nil {
		t.Fatal(err)
	}
	if oldest != 42 {
		t.Errorf("oldest humidity %v; want 42", oldest)
	}
}
