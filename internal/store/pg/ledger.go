package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"relief.org/internal/ledger"
	"relief.org/internal/obs"
)

// LedgerStore implements ledger.Service. Reservations take a row lock with
// select ... for update inside one transaction.
type LedgerStore struct {
	s *Store
}

var _ ledger.Service = (*LedgerStore)(nil)

const resourceColumns = `id, name, type, total_quantity, available_quantity, unit, location, status, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanResource(row scanner) (ledger.Resource, error) {
	var r ledger.Resource
	err := row.Scan(&r.ID, &r.Name, &r.Type, &r.TotalQuantity, &r.AvailableQuantity, &r.Unit, &r.Location, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (l *LedgerStore) Create(ctx context.Context, f ledger.ResourceFields) (ledger.Resource, error) {
	f = f.Normalize()
	if f.TotalQuantity < 0 {
		return ledger.Resource{}, ledger.ErrInvalidTotal
	}
	now := l.s.now().UTC()
	r := ledger.Resource{
		ID:                l.s.ids.New(),
		Name:              f.Name,
		Type:              f.Type,
		TotalQuantity:     f.TotalQuantity,
		AvailableQuantity: f.TotalQuantity,
		Unit:              f.Unit,
		Location:          f.Location,
		Status:            f.Status,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	_, err := l.s.db.ExecContext(ctx, `
		insert into resources(`+resourceColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, r.ID, r.Name, r.Type, r.TotalQuantity, r.AvailableQuantity, r.Unit, r.Location, r.Status, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return ledger.Resource{}, unavailable("create resource", err)
	}
	return r, nil
}

func (l *LedgerStore) Get(ctx context.Context, id string) (ledger.Resource, error) {
	r, err := scanResource(l.s.db.QueryRowContext(ctx, `select `+resourceColumns+` from resources where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Resource{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Resource{}, unavailable("get resource", err)
	}
	return r, nil
}

func (l *LedgerStore) List(ctx context.Context) ([]ledger.Resource, error) {
	rows, err := l.s.db.QueryContext(ctx, `select `+resourceColumns+` from resources order by type asc, id asc`)
	if err != nil {
		return nil, unavailable("list resources", err)
	}
	defer rows.Close()

	out := []ledger.Resource{}
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, unavailable("list resources", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list resources", err)
	}
	return out, nil
}

// Update locks the row so the committed quantity cannot move underneath it.
func (l *LedgerStore) Update(ctx context.Context, id string, f ledger.ResourceFields) (ledger.Resource, error) {
	f = f.Normalize()
	if f.TotalQuantity < 0 {
		return ledger.Resource{}, ledger.ErrInvalidTotal
	}
	tx, err := l.begin(ctx)
	if err != nil {
		return ledger.Resource{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := lockResource(ctx, tx, id)
	if err != nil {
		return ledger.Resource{}, err
	}
	committed := cur.Committed()
	if f.TotalQuantity < committed {
		return ledger.Resource{}, ledger.ErrTotalBelowCommitted
	}

	cur.Name, cur.Type, cur.Unit, cur.Location, cur.Status = f.Name, f.Type, f.Unit, f.Location, f.Status
	cur.TotalQuantity = f.TotalQuantity
	cur.AvailableQuantity = f.TotalQuantity - committed
	cur.UpdatedAt = l.s.now().UTC()
	if _, err := tx.ExecContext(ctx, `
		update resources
		set name = $2, type = $3, total_quantity = $4, available_quantity = $5,
		    unit = $6, location = $7, status = $8, updated_at = $9
		where id = $1
	`, cur.ID, cur.Name, cur.Type, cur.TotalQuantity, cur.AvailableQuantity, cur.Unit, cur.Location, cur.Status, cur.UpdatedAt); err != nil {
		return ledger.Resource{}, unavailable("update resource", err)
	}
	if err := tx.Commit(); err != nil {
		return ledger.Resource{}, unavailable("update resource", err)
	}
	return cur, nil
}

func (l *LedgerStore) Delete(ctx context.Context, id string) error {
	tx, err := l.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := lockResource(ctx, tx, id); err != nil {
		return err
	}
	var inUse bool
	if err := tx.QueryRowContext(ctx, `select exists(select 1 from resource_assignments where resource_id = $1)`, id).Scan(&inUse); err != nil {
		return unavailable("delete resource", err)
	}
	if inUse {
		return ledger.ErrInUse
	}
	if _, err := tx.ExecContext(ctx, `delete from resources where id = $1`, id); err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return ledger.ErrInUse
		}
		return unavailable("delete resource", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("delete resource", err)
	}
	return nil
}

// Reserve decrements availability and records the assignment atomically.
// A failed check returns before any write and the deferred rollback releases the lock.
func (l *LedgerStore) Reserve(ctx context.Context, resourceID string, quantity int64, incidentID string) (ledger.Reservation, error) {
	if quantity <= 0 {
		return ledger.Reservation{}, ledger.ErrInvalidQuantity
	}
	start := time.Now()
	defer func() { obs.ReserveDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := l.begin(ctx)
	if err != nil {
		return ledger.Reservation{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := lockResource(ctx, tx, resourceID)
	if err != nil {
		return ledger.Reservation{}, err
	}
	if res.AvailableQuantity < quantity {
		return ledger.Reservation{}, ledger.ErrInsufficientStock
	}

	now := l.s.now().UTC()
	asg := ledger.Assignment{
		ID:         l.s.ids.New(),
		IncidentID: incidentID,
		ResourceID: resourceID,
		Quantity:   quantity,
		CreatedAt:  now,
	}
	if _, err := tx.ExecContext(ctx, `
		insert into resource_assignments(id, incident_id, resource_id, quantity, created_at)
		values ($1,$2,$3,$4,$5)
	`, asg.ID, asg.IncidentID, asg.ResourceID, asg.Quantity, asg.CreatedAt); err != nil {
		return ledger.Reservation{}, unavailable("reserve", err)
	}
	if _, err := tx.ExecContext(ctx, `
		update resources set available_quantity = available_quantity - $2, updated_at = $3
		where id = $1
	`, resourceID, quantity, now); err != nil {
		if pgCode(err) == codeCheckViolation {
			return ledger.Reservation{}, ledger.ErrInsufficientStock
		}
		return ledger.Reservation{}, unavailable("reserve", err)
	}
	if err := tx.Commit(); err != nil {
		return ledger.Reservation{}, unavailable("reserve", err)
	}

	res.AvailableQuantity -= quantity
	res.UpdatedAt = now
	return ledger.Reservation{Assignment: asg, Resource: res}, nil
}

func (l *LedgerStore) AssignmentsForIncident(ctx context.Context, incidentID string) ([]ledger.Assignment, error) {
	rows, err := l.s.db.QueryContext(ctx, `
		select ra.id, ra.incident_id, ra.resource_id, ra.quantity, ra.created_at, r.name, r.unit
		from resource_assignments ra
		join resources r on ra.resource_id = r.id
		where ra.incident_id = $1
		order by ra.created_at asc, ra.id asc
	`, incidentID)
	if err != nil {
		return nil, unavailable("list assignments", err)
	}
	defer rows.Close()

	out := []ledger.Assignment{}
	for rows.Next() {
		var a ledger.Assignment
		if err := rows.Scan(&a.ID, &a.IncidentID, &a.ResourceID, &a.Quantity, &a.CreatedAt, &a.ResourceName, &a.Unit); err != nil {
			return nil, unavailable("list assignments", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list assignments", err)
	}
	return out, nil
}

// begin opens a transaction with a bounded lock wait.
func (l *LedgerStore) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := l.s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin", err)
	}
	ms := l.s.lockTimeout.Milliseconds()
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("set local lock_timeout = '%dms'", ms)); err != nil {
		_ = tx.Rollback()
		return nil, unavailable("set lock_timeout", err)
	}
	return tx, nil
}

func lockResource(ctx context.Context, tx *sql.Tx, id string) (ledger.Resource, error) {
	r, err := scanResource(tx.QueryRowContext(ctx, `select `+resourceColumns+` from resources where id = $1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Resource{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Resource{}, unavailable("lock resource", err)
	}
	return r, nil
}
