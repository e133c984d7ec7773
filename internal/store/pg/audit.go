package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"relief.org/internal/audit"
)

// AuditStore persists entries to audit_logs.
type AuditStore struct {
	s *Store
}

var _ audit.Store = (*AuditStore)(nil)

func (a *AuditStore) Append(ctx context.Context, e *audit.Entry) error {
	if e.ID == "" {
		e.ID = a.s.ids.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = a.s.now().UTC()
	}
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	_, err = a.s.db.ExecContext(ctx, `
		insert into audit_logs(id, user_id, action, entity_type, entity_id, details, ip_address, created_at)
		values ($1,$2,$3,$4,nullif($5,''),$6,$7,$8)
	`, e.ID, e.ActorID, e.Action, e.EntityType, e.EntityID, string(raw), e.SourceAddress, e.CreatedAt)
	if err != nil {
		return unavailable("append audit", err)
	}
	return nil
}

// Recent returns the newest entries joined with the actor's display name.
func (a *AuditStore) Recent(ctx context.Context, limit int) ([]audit.Entry, error) {
	rows, err := a.s.db.QueryContext(ctx, `
		select a.id, a.user_id, a.action, a.entity_type, coalesce(a.entity_id, ''), a.details, a.ip_address, a.created_at,
		       coalesce(u.name, ''), coalesce(u.email, '')
		from audit_logs a
		left join users u on a.user_id = u.id
		order by a.created_at desc, a.id desc
		limit $1
	`, audit.ClampLimit(limit))
	if err != nil {
		return nil, unavailable("recent audit", err)
	}
	defer rows.Close()

	out := []audit.Entry{}
	for rows.Next() {
		var (
			e       audit.Entry
			actor   sql.NullString
			address sql.NullString
			raw     []byte
		)
		if err := rows.Scan(&e.ID, &actor, &e.Action, &e.EntityType, &e.EntityID, &raw, &address, &e.CreatedAt, &e.ActorName, &e.ActorEmail); err != nil {
			return nil, unavailable("recent audit", err)
		}
		if actor.Valid {
			e.ActorID = &actor.String
		}
		if address.Valid {
			e.SourceAddress = &address.String
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("recent audit", err)
	}
	return out, nil
}
