package pg

import (
	"context"
	"database/sql"
	"errors"

	"relief.org/internal/incident"
)

// IncidentStore implements incident.Store.
type IncidentStore struct {
	s *Store
}

var _ incident.Store = (*IncidentStore)(nil)

const incidentColumns = `id, title, description, type, severity, location, latitude, longitude, status, reporter_id, assigned_to, created_at, updated_at`

func scanIncident(row scanner) (incident.Incident, error) {
	var (
		inc      incident.Incident
		lat, lon sql.NullFloat64
		reporter sql.NullString
		assignee sql.NullString
	)
	err := row.Scan(&inc.ID, &inc.Title, &inc.Description, &inc.Type, &inc.Severity, &inc.Location,
		&lat, &lon, &inc.Status, &reporter, &assignee, &inc.CreatedAt, &inc.UpdatedAt)
	if err != nil {
		return incident.Incident{}, err
	}
	if lat.Valid {
		inc.Latitude = &lat.Float64
	}
	if lon.Valid {
		inc.Longitude = &lon.Float64
	}
	if reporter.Valid {
		inc.ReporterID = &reporter.String
	}
	if assignee.Valid {
		inc.AssignedTo = &assignee.String
	}
	return inc, nil
}

func (i *IncidentStore) Create(ctx context.Context, r incident.Report) (incident.Incident, error) {
	now := i.s.now().UTC()
	inc := incident.Incident{
		ID:          i.s.ids.New(),
		Title:       r.Title,
		Description: r.Description,
		Type:        r.Type,
		Severity:    r.Severity,
		Location:    r.Location,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		Status:      incident.StatusReported,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if inc.Severity == "" {
		inc.Severity = incident.DefaultSeverity
	}
	if r.ReporterID != "" {
		rid := r.ReporterID
		inc.ReporterID = &rid
	}
	_, err := i.s.db.ExecContext(ctx, `
		insert into incidents(`+incidentColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, inc.ID, inc.Title, inc.Description, inc.Type, inc.Severity, inc.Location,
		inc.Latitude, inc.Longitude, inc.Status, inc.ReporterID, inc.AssignedTo, inc.CreatedAt, inc.UpdatedAt)
	if err != nil {
		return incident.Incident{}, unavailable("create incident", err)
	}
	return inc, nil
}

// UpdateStatus applies u in one statement so the assignee guard and the
// write see the same row.
func (i *IncidentStore) UpdateStatus(ctx context.Context, id string, u incident.StatusUpdate) (incident.Incident, error) {
	inc, err := scanIncident(i.s.db.QueryRowContext(ctx, `
		update incidents
		set status = $2, assigned_to = coalesce(nullif($3::text, ''), assigned_to), updated_at = $4
		where id = $1 and ($5::text = '' or assigned_to = $5::text)
		returning `+incidentColumns, id, u.Status, u.AssignedTo, i.s.now().UTC(), u.Assignee))
	if errors.Is(err, sql.ErrNoRows) {
		if u.Assignee == "" {
			return incident.Incident{}, incident.ErrNotFound
		}
		return incident.Incident{}, i.missOrForbidden(ctx, id)
	}
	if err != nil {
		return incident.Incident{}, unavailable("update incident status", err)
	}
	return inc, nil
}

func (i *IncidentStore) missOrForbidden(ctx context.Context, id string) error {
	var exists bool
	if err := i.s.db.QueryRowContext(ctx, `select exists(select 1 from incidents where id = $1)`, id).Scan(&exists); err != nil {
		return unavailable("lookup incident", err)
	}
	if exists {
		return incident.ErrNotAssignee
	}
	return incident.ErrNotFound
}

func (i *IncidentStore) Get(ctx context.Context, id string) (incident.Incident, error) {
	inc, err := scanIncident(i.s.db.QueryRowContext(ctx, `select `+incidentColumns+` from incidents where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return incident.Incident{}, incident.ErrNotFound
	}
	if err != nil {
		return incident.Incident{}, unavailable("get incident", err)
	}
	return inc, nil
}
