package pg

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"relief.org/internal/incident"
)

func incidentRow(status string, assignee any) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "title", "description", "type", "severity", "location", "latitude", "longitude", "status", "reporter_id", "assigned_to", "created_at", "updated_at"}).
		AddRow("i1", "Flooded underpass", "", "flood", "high", "Main St", nil, nil, status, "u1", assignee, fixedNow, fixedNow)
}

func TestIncidentCreate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("insert into incidents").WillReturnResult(sqlmock.NewResult(1, 1))

	inc, err := s.Incidents().Create(context.Background(), incident.Report{Title: "Flooded underpass", Type: "flood", Location: "Main St", ReporterID: "u1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if inc.ID != "id-1" || inc.Status != incident.StatusReported || inc.Severity != incident.DefaultSeverity {
		t.Fatalf("unexpected incident: %+v", inc)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestIncidentUpdateStatus(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("update incidents").WithArgs("i1", "verified", "", fixedNow, "").WillReturnRows(incidentRow("verified", nil))

	inc, err := s.Incidents().UpdateStatus(context.Background(), "i1", incident.StatusUpdate{Status: "verified"})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if inc.Status != "verified" || inc.ReporterID == nil || inc.Latitude != nil || inc.AssignedTo != nil {
		t.Fatalf("unexpected incident: %+v", inc)
	}

	mock.ExpectQuery("update incidents").WithArgs("missing", "verified", "", fixedNow, "").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	if _, err := s.Incidents().UpdateStatus(context.Background(), "missing", incident.StatusUpdate{Status: "verified"}); !errors.Is(err, incident.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestIncidentUpdateStatusAssignee(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("update incidents").WithArgs("i1", "verified", "vol-1", fixedNow, "").WillReturnRows(incidentRow("verified", "vol-1"))
	inc, err := s.Incidents().UpdateStatus(ctx, "i1", incident.StatusUpdate{Status: "verified", AssignedTo: "vol-1"})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if inc.AssignedTo == nil || *inc.AssignedTo != "vol-1" {
		t.Fatalf("assignee not returned: %+v", inc)
	}

	mock.ExpectQuery("update incidents").WithArgs("i1", "resolved", "", fixedNow, "vol-2").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("select exists").WithArgs("i1").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	if _, err := s.Incidents().UpdateStatus(ctx, "i1", incident.StatusUpdate{Status: "resolved", Assignee: "vol-2"}); !errors.Is(err, incident.ErrNotAssignee) {
		t.Fatalf("expected ErrNotAssignee, got %v", err)
	}

	mock.ExpectQuery("update incidents").WithArgs("gone", "resolved", "", fixedNow, "vol-2").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("select exists").WithArgs("gone").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	if _, err := s.Incidents().UpdateStatus(ctx, "gone", incident.StatusUpdate{Status: "resolved", Assignee: "vol-2"}); !errors.Is(err, incident.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
