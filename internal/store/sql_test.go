package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *SQLStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return mock, &SQLStore{db: db, dialect: DriverPostgres}
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: DriverPostgres}
	if got := pg.rebind("SELECT a FROM b WHERE c = ? AND d = ?"); got != "SELECT a FROM b WHERE c = $1 AND d = $2" {
		t.Fatalf("postgres rebind = %q", got)
	}
	lite := &SQLStore{dialect: DriverSQLite}
	if got := lite.rebind("WHERE c = ?"); got != "WHERE c = ?" {
		t.Fatalf("sqlite rebind = %q", got)
	}
}

func TestSQLStore_SaveResult(t *testing.T) {
	r := sampleRecord("t1", "exp", "gpt-4o", 0, "completed")

	tests := []struct {
		name      string
		record    *Record
		setupMock func(sqlmock.Sqlmock)
		wantErr   bool
	}{
		{
			name:   "upsert",
			record: r,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO results .* ON CONFLICT \(task_id\) DO UPDATE`).
					WithArgs("t1", "exp", 0, "a lighthouse", 0, "gpt-4o", "baseline", "baseline", 1,
						"completed", "<svg></svg>", "sure: <svg></svg>", "", "openai", int64(1200), r.CreatedAt.UnixMilli()).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
		},
		{
			name:      "nil record",
			setupMock: func(sqlmock.Sqlmock) {},
		},
		{
			name:   "database error",
			record: r,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO results").WillReturnError(errors.New("connection reset"))
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, s := setupMockDB(t)
			tt.setupMock(mock)
			err := s.SaveResult(context.Background(), tt.record)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SaveResult() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}

func TestSQLStore_GetResult(t *testing.T) {
	columns := []string{"task_id", "experiment_id", "position", "prompt", "animated", "model", "variation",
		"variation_type", "instance_index", "status", "svg_content", "raw_response", "error_message",
		"provider", "duration_ms", "created_at"}

	t.Run("found", func(t *testing.T) {
		mock, s := setupMockDB(t)
		mock.ExpectQuery(`SELECT .* FROM results WHERE task_id = \$1`).
			WithArgs("t1").
			WillReturnRows(sqlmock.NewRows(columns).AddRow(
				"t1", "exp", 3, "a kite", 1, "gpt-4o", "minimal", "technique", 2,
				"failed", "", "nope", "no SVG found in response", "", int64(800), int64(1_700_000_000_000)))

		r, err := s.GetResult(context.Background(), "t1")
		if err != nil {
			t.Fatalf("GetResult() error = %v", err)
		}
		if !r.Animated || r.Position != 3 || r.Error != "no SVG found in response" {
			t.Fatalf("record = %+v", r)
		}
		if !r.CreatedAt.Equal(time.UnixMilli(1_700_000_000_000)) {
			t.Fatalf("created_at = %v", r.CreatedAt)
		}
	})

	t.Run("missing", func(t *testing.T) {
		mock, s := setupMockDB(t)
		mock.ExpectQuery("SELECT .* FROM results").WithArgs("nope").WillReturnRows(sqlmock.NewRows(columns))
		if _, err := s.GetResult(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("GetResult() error = %v, want ErrNotFound", err)
		}
	})
}

func TestSQLStore_ListResultsQuery(t *testing.T) {
	mock, s := setupMockDB(t)
	mock.ExpectQuery(`SELECT .* FROM results WHERE experiment_id = \$1 AND status = \$2 ORDER BY experiment_id, position LIMIT \$3 OFFSET \$4`).
		WithArgs("exp", "completed", 10, 20).
		WillReturnRows(sqlmock.NewRows([]string{"task_id"}))

	if _, err := s.ListResults(context.Background(), ListOptions{ExperimentID: "exp", Status: "completed", Limit: 10, Offset: 20}); err != nil {
		t.Fatalf("ListResults() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStore_DeleteExperimentRollsBack(t *testing.T) {
	mock, s := setupMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM results WHERE experiment_id = \$1`).WithArgs("exp").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM rankings`).WithArgs("exp").WillReturnError(errors.New("locked"))
	mock.ExpectRollback()

	if err := s.DeleteExperiment(context.Background(), "exp"); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
