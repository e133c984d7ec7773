package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"relief.org/internal/ids"
	"relief.org/internal/ledger"
)

var fixedNow = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := New(db, Options{
		LockTimeout: 1500 * time.Millisecond,
		IDs:         &ids.Sequence{Prefix: "id"},
		Now:         func() time.Time { return fixedNow },
	})
	return s, mock
}

func resourceRow(id string, total, available int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "type", "total_quantity", "available_quantity", "unit", "location", "status", "created_at", "updated_at"}).
		AddRow(id, "Medical Kits", "medical", total, available, "units", "Depot A", "available", fixedNow, fixedNow)
}

func TestReserveCommits(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("set local lock_timeout = '1500ms'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select .* from resources where id = .* for update").WithArgs("r1").WillReturnRows(resourceRow("r1", 50, 30))
	mock.ExpectExec("insert into resource_assignments").WithArgs("id-1", "inc-9", "r1", int64(20), fixedNow).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("update resources set available_quantity = available_quantity -").WithArgs("r1", int64(20), fixedNow).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rv, err := s.Ledger().Reserve(context.Background(), "r1", 20, "inc-9")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if rv.Resource.AvailableQuantity != 10 {
		t.Fatalf("expected 10 available, got %d", rv.Resource.AvailableQuantity)
	}
	if rv.Assignment.ID != "id-1" || rv.Assignment.Quantity != 20 {
		t.Fatalf("unexpected assignment: %+v", rv.Assignment)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReserveInsufficientRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("set local lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select .* from resources where id = .* for update").WithArgs("r1").WillReturnRows(resourceRow("r1", 50, 30))
	mock.ExpectRollback()

	_, err := s.Ledger().Reserve(context.Background(), "r1", 31, "inc-9")
	if !errors.Is(err, ledger.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReserveNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("set local lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("for update").WithArgs("nope").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := s.Ledger().Reserve(context.Background(), "nope", 1, "inc-9")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReserveLockTimeoutIsUnavailable(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("set local lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("for update").WithArgs("r1").WillReturnError(&pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"})
	mock.ExpectRollback()

	_, err := s.Ledger().Reserve(context.Background(), "r1", 1, "inc-9")
	if !errors.Is(err, ledger.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReserveInsertFailureRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("set local lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("for update").WithArgs("r1").WillReturnRows(resourceRow("r1", 50, 30))
	mock.ExpectExec("insert into resource_assignments").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := s.Ledger().Reserve(context.Background(), "r1", 5, "inc-9")
	if !errors.Is(err, ledger.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateRefusesTotalBelowCommitted(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("set local lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("for update").WithArgs("r1").WillReturnRows(resourceRow("r1", 50, 30))
	mock.ExpectRollback()

	_, err := s.Ledger().Update(context.Background(), "r1", ledger.ResourceFields{Name: "Kits", Type: "medical", TotalQuantity: 10})
	if !errors.Is(err, ledger.ErrTotalBelowCommitted) {
		t.Fatalf("expected ErrTotalBelowCommitted, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateRecomputesAvailability(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("set local lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("for update").WithArgs("r1").WillReturnRows(resourceRow("r1", 50, 30))
	mock.ExpectExec("update resources").
		WithArgs("r1", "Kits", "medical", int64(70), int64(50), "units", "", "available", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := s.Ledger().Update(context.Background(), "r1", ledger.ResourceFields{Name: "Kits", Type: "medical", TotalQuantity: 70})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if res.AvailableQuantity != 50 {
		t.Fatalf("expected 50 available, got %d", res.AvailableQuantity)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteInUse(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("set local lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("for update").WithArgs("r1").WillReturnRows(resourceRow("r1", 50, 30))
	mock.ExpectQuery("select exists").WithArgs("r1").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	if err := s.Ledger().Delete(context.Background(), "r1"); !errors.Is(err, ledger.ErrInUse) {
		t.Fatalf("expected ErrInUse, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateDefaults(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("insert into resources").
		WithArgs("id-1", "Water", "supply", int64(200), int64(200), "units", "", "available", fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	res, err := s.Ledger().Create(context.Background(), ledger.ResourceFields{Name: " Water ", Type: "supply", TotalQuantity: 200})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.AvailableQuantity != 200 || res.Unit != "units" {
		t.Fatalf("unexpected resource: %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAssignmentsForIncident(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("from resource_assignments ra").WithArgs("inc-9").WillReturnRows(
		sqlmock.NewRows([]string{"id", "incident_id", "resource_id", "quantity", "created_at", "name", "unit"}).
			AddRow("a1", "inc-9", "r1", int64(4), fixedNow, "Medical Kits", "boxes"),
	)

	list, err := s.Ledger().AssignmentsForIncident(context.Background(), "inc-9")
	if err != nil {
		t.Fatalf("AssignmentsForIncident: %v", err)
	}
	if len(list) != 1 || list[0].ResourceName != "Medical Kits" || list[0].Unit != "boxes" {
		t.Fatalf("unexpected assignments: %+v", list)
	}
}
