// internal/audit/audit_test.go
//
// Unit-tests for the audit recorder using sqlmock.
//
// Run: go test ./internal/audit -v

package audit

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

const insertQ = `
        INSERT INTO audits (event, model, record_id, old_values, new_values, created_at)
        VALUES ($1, $2, $3, $4, $5, now())`

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestRecordWritesJSONSnapshots(t *testing.T) {
	db, mock := newMock(t)
	r := NewRecorder(true)

	mock.ExpectExec(regexp.QuoteMeta(insertQ)).
		WithArgs("Update", "website", "42", `{"uuid":"old"}`, `{"uuid":"new"}`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := r.Record(context.Background(), db, EventUpdate, "website", "42",
		map[string]any{"uuid": "old"}, map[string]any{"uuid": "new"})
	if err != nil {
		t.Fatalf("Record error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestRecordNilSnapshotsStayNull(t *testing.T) {
	db, mock := newMock(t)
	r := NewRecorder(true)

	mock.ExpectExec(regexp.QuoteMeta(insertQ)).
		WithArgs("Truncate", "website", nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := r.Record(context.Background(), db, EventTruncate, "website", "", nil, nil); err != nil {
		t.Fatalf("Record error: %v", err)
	}
}

func TestDisabledRecorderWritesNothing(t *testing.T) {
	db, mock := newMock(t)
	r := NewRecorder(false)

	if err := r.Record(context.Background(), db, EventCreate, "website", "1", nil, map[string]any{"a": 1}); err != nil {
		t.Fatalf("Record error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected SQL issued: %v", err)
	}
}
