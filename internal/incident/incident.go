// Package incident stores field reports that resources are assigned against.
package incident

import (
	"context"
	"errors"
	"sync"
	"time"

	"relief.org/internal/ids"
)

// Lifecycle statuses.
const (
	StatusReported   = "reported"
	StatusVerified   = "verified"
	StatusInProgress = "in_progress"
	StatusResolved   = "resolved"
)

// DefaultSeverity is applied when a report omits severity.
const DefaultSeverity = "medium"

var (
	ErrNotFound    = errors.New("incident not found")
	ErrNotAssignee = errors.New("incident is not assigned to the caller")
)

type Incident struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	Location    string    `json:"location"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	Status      string    `json:"status"`
	ReporterID  *string   `json:"reporter_id"`
	AssignedTo  *string   `json:"assigned_to"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Report carries the fields of a new incident.
type Report struct {
	Title       string
	Description string
	Type        string
	Severity    string
	Location    string
	Latitude    *float64
	Longitude   *float64
	ReporterID  string
}

// StatusUpdate is a lifecycle transition.
type StatusUpdate struct {
	Status string
	// AssignedTo replaces the assignee when non-empty.
	AssignedTo string
	// Assignee, when set, must equal the current assignee or the update
	// fails with ErrNotAssignee.
	Assignee string
}

// Store persists incidents.
type Store interface {
	Create(ctx context.Context, r Report) (Incident, error)
	UpdateStatus(ctx context.Context, id string, u StatusUpdate) (Incident, error)
	Get(ctx context.Context, id string) (Incident, error)
}

// MemoryStore implements Store in process.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]Incident
	ids  ids.Generator
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]Incident), ids: ids.ULID{}, now: time.Now}
}

func (m *MemoryStore) Create(ctx context.Context, r Report) (Incident, error) {
	now := m.now().UTC()
	inc := Incident{
		ID:          m.ids.New(),
		Title:       r.Title,
		Description: r.Description,
		Type:        r.Type,
		Severity:    r.Severity,
		Location:    r.Location,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		Status:      StatusReported,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if inc.Severity == "" {
		inc.Severity = DefaultSeverity
	}
	if r.ReporterID != "" {
		rid := r.ReporterID
		inc.ReporterID = &rid
	}
	m.mu.Lock()
	m.byID[inc.ID] = inc
	m.mu.Unlock()
	return inc, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, u StatusUpdate) (Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.byID[id]
	if !ok {
		return Incident{}, ErrNotFound
	}
	if u.Assignee != "" && (inc.AssignedTo == nil || *inc.AssignedTo != u.Assignee) {
		return Incident{}, ErrNotAssignee
	}
	inc.Status = u.Status
	if u.AssignedTo != "" {
		to := u.AssignedTo
		inc.AssignedTo = &to
	}
	inc.UpdatedAt = m.now().UTC()
	m.byID[id] = inc
	return inc, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inc, ok := m.byID[id]
	if !ok {
		return Incident{}, ErrNotFound
	}
	return inc, nil
}
