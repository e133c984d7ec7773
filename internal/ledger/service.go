package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"relief.org/internal/ids"
)

// Service defines ledger operations.
type Service interface {
	Create(ctx context.Context, f ResourceFields) (Resource, error)
	Get(ctx context.Context, id string) (Resource, error)
	List(ctx context.Context) ([]Resource, error)
	Update(ctx context.Context, id string, f ResourceFields) (Resource, error)
	Delete(ctx context.Context, id string) error
	// Reserve atomically decrements availability and records an Assignment.
	// It fails with ErrNotFound or ErrInsufficientStock and then leaves no trace.
	Reserve(ctx context.Context, resourceID string, quantity int64, incidentID string) (Reservation, error)
	AssignmentsForIncident(ctx context.Context, incidentID string) ([]Assignment, error)
}

// InMemory implements Service in process. Each resource has its own lock so
// reservations against different resources never contend.
type InMemory struct {
	mu   sync.RWMutex
	rows map[string]*row

	amu         sync.Mutex
	assignments []Assignment

	ids ids.Generator
	now func() time.Time
}

type row struct {
	mu      sync.Mutex
	res     Resource
	refs    int
	deleted bool
}

// Option configures InMemory.
type Option func(*InMemory)

// WithIDs overrides the identifier generator.
func WithIDs(g ids.Generator) Option {
	return func(s *InMemory) { s.ids = g }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *InMemory) { s.now = now }
}

// NewInMemory creates an empty ledger.
func NewInMemory(opts ...Option) *InMemory {
	s := &InMemory{
		rows: make(map[string]*row),
		ids:  ids.ULID{},
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemory) Create(ctx context.Context, f ResourceFields) (Resource, error) {
	f = f.Normalize()
	if f.TotalQuantity < 0 {
		return Resource{}, ErrInvalidTotal
	}
	now := s.now().UTC()
	res := Resource{
		ID:                s.ids.New(),
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
	s.mu.Lock()
	s.rows[res.ID] = &row{res: res}
	s.mu.Unlock()
	return res, nil
}

func (s *InMemory) lookup(id string) (*row, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[id]
	return r, ok
}

func (s *InMemory) Get(ctx context.Context, id string) (Resource, error) {
	r, ok := s.lookup(id)
	if !ok {
		return Resource{}, ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted {
		return Resource{}, ErrNotFound
	}
	return r.res, nil
}

func (s *InMemory) List(ctx context.Context) ([]Resource, error) {
	s.mu.RLock()
	rows := make([]*row, 0, len(s.rows))
	for _, r := range s.rows {
		rows = append(rows, r)
	}
	s.mu.RUnlock()

	out := make([]Resource, 0, len(rows))
	for _, r := range rows {
		r.mu.Lock()
		if !r.deleted {
			out = append(out, r.res)
		}
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Update replaces descriptive fields. Lowering the total below what is
// already assigned is refused; otherwise availability follows the new total.
func (s *InMemory) Update(ctx context.Context, id string, f ResourceFields) (Resource, error) {
	f = f.Normalize()
	if f.TotalQuantity < 0 {
		return Resource{}, ErrInvalidTotal
	}
	r, ok := s.lookup(id)
	if !ok {
		return Resource{}, ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted {
		return Resource{}, ErrNotFound
	}
	committed := r.res.Committed()
	if f.TotalQuantity < committed {
		return Resource{}, ErrTotalBelowCommitted
	}
	r.res.Name = f.Name
	r.res.Type = f.Type
	r.res.Unit = f.Unit
	r.res.Location = f.Location
	r.res.Status = f.Status
	r.res.TotalQuantity = f.TotalQuantity
	r.res.AvailableQuantity = f.TotalQuantity - committed
	r.res.UpdatedAt = s.now().UTC()
	return r.res, nil
}

func (s *InMemory) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refs > 0 {
		return ErrInUse
	}
	r.deleted = true
	delete(s.rows, id)
	return nil
}

func (s *InMemory) Reserve(ctx context.Context, resourceID string, quantity int64, incidentID string) (Reservation, error) {
	if quantity <= 0 {
		return Reservation{}, ErrInvalidQuantity
	}
	r, ok := s.lookup(resourceID)
	if !ok {
		return Reservation{}, ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Reservation{}, err
	}
	if r.deleted {
		return Reservation{}, ErrNotFound
	}
	if r.res.AvailableQuantity < quantity {
		return Reservation{}, ErrInsufficientStock
	}

	now := s.now().UTC()
	asg := Assignment{
		ID:         s.ids.New(),
		IncidentID: strings.TrimSpace(incidentID),
		ResourceID: resourceID,
		Quantity:   quantity,
		CreatedAt:  now,
	}
	s.amu.Lock()
	s.assignments = append(s.assignments, asg)
	s.amu.Unlock()

	r.res.AvailableQuantity -= quantity
	r.res.UpdatedAt = now
	r.refs++
	return Reservation{Assignment: asg, Resource: r.res}, nil
}

func (s *InMemory) AssignmentsForIncident(ctx context.Context, incidentID string) ([]Assignment, error) {
	s.amu.Lock()
	var out []Assignment
	for _, a := range s.assignments {
		if a.IncidentID == incidentID {
			out = append(out, a)
		}
	}
	s.amu.Unlock()

	for i := range out {
		if res, err := s.Get(ctx, out[i].ResourceID); err == nil {
			out[i].ResourceName = res.Name
			out[i].Unit = res.Unit
		}
	}
	return out, nil
}
