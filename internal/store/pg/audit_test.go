package pg

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"relief.org/internal/audit"
	"relief.org/internal/ledger"
)

func TestAuditAppend(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("insert into audit_logs").
		WithArgs("id-1", "u1", audit.ActionResourceAssigned, audit.EntityResource, "r1", `{"quantity":3}`, "10.0.0.5", fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	e := &audit.Entry{
		ActorID:       audit.StringPtr("u1"),
		Action:        audit.ActionResourceAssigned,
		EntityType:    audit.EntityResource,
		EntityID:      "r1",
		Details:       map[string]any{"quantity": 3},
		SourceAddress: audit.StringPtr("10.0.0.5"),
	}
	if err := s.Audit().Append(context.Background(), e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e.ID != "id-1" || !e.CreatedAt.Equal(fixedNow) {
		t.Fatalf("id/timestamp not assigned: %+v", e)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditAppendFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("insert into audit_logs").WillReturnError(errors.New("disk full"))

	err := s.Audit().Append(context.Background(), &audit.Entry{Action: "X", EntityType: audit.EntitySystem})
	if !errors.Is(err, ledger.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}

func TestAuditRecent(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("from audit_logs a.*left join users u").WithArgs(100).WillReturnRows(
		sqlmock.NewRows([]string{"id", "user_id", "action", "entity_type", "entity_id", "details", "ip_address", "created_at", "name", "email"}).
			AddRow("e2", "u1", "RESOURCE_ASSIGNED", "resource", "r1", []byte(`{"quantity":3}`), "10.0.0.5", fixedNow, "Ada", "ada@example.org").
			AddRow("e1", nil, "ADMISSION_REJECTED", "system", "", []byte(`{}`), nil, fixedNow, "", ""),
	)

	got, err := s.Audit().Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].ActorName != "Ada" || got[0].ActorID == nil || *got[0].ActorID != "u1" {
		t.Fatalf("unexpected first entry: %+v", got[0])
	}
	if got[0].Details["quantity"] != float64(3) {
		t.Fatalf("details not decoded: %v", got[0].Details)
	}
	if got[1].ActorID != nil || got[1].SourceAddress != nil {
		t.Fatalf("expected null actor and address: %+v", got[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
