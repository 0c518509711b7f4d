package migrations

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestApplyExecutesAllMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	for range migrations {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	if err := Apply(context.Background(), db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyStopsOnFirstFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(".*").WillReturnError(errors.New("permission denied"))

	err = Apply(context.Background(), db)
	if err == nil {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(err.Error(), migrations[1].name) {
		t.Fatalf("error should name the failing migration: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCheckDimension(t *testing.T) {
	if err := CheckDimension(EmbeddingDimension); err != nil {
		t.Fatalf("matching dimension rejected: %v", err)
	}
	err := CheckDimension(EmbeddingDimension + 1)
	if err == nil {
		t.Fatalf("mismatched dimension accepted")
	}
	if !strings.Contains(err.Error(), "vector(") {
		t.Fatalf("error should name the schema width: %v", err)
	}
}

func TestMigrationsIncludeOwnerColumns(t *testing.T) {
	last := migrations[len(migrations)-1]
	if !strings.Contains(last.stmt, "owner_key_id") {
		t.Fatalf("ownership migration missing")
	}
	if !strings.Contains(migrations[1].stmt, "vector(") {
		t.Fatalf("apps table missing the embedding column")
	}
}
