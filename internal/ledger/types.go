package ledger

import (
	"errors"
	"strings"
	"time"
)

// Default descriptive values applied when a resource is created without them.
const (
	DefaultUnit   = "units"
	DefaultStatus = "available"
)

// Resource is a finite physical inventory line (medical kits, vehicles, shelter beds).
// Invariant: 0 <= AvailableQuantity <= TotalQuantity.
type Resource struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Type              string    `json:"type"`
	TotalQuantity     int64     `json:"total_quantity"`
	AvailableQuantity int64     `json:"available_quantity"`
	Unit              string    `json:"unit"`
	Location          string    `json:"location"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Committed is the quantity held by assignments.
func (r Resource) Committed() int64 { return r.TotalQuantity - r.AvailableQuantity }

// Assignment is a committed, permanent reservation of quantity for an incident.
type Assignment struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incident_id"`
	ResourceID string    `json:"resource_id"`
	Quantity   int64     `json:"quantity"`
	CreatedAt  time.Time `json:"created_at"`

	// Display fields joined from the resource when listing.
	ResourceName string `json:"resource_name,omitempty"`
	Unit         string `json:"unit,omitempty"`
}

// Reservation is the outcome of a successful Reserve: the new assignment and
// the resource row as it stood at commit.
type Reservation struct {
	Assignment Assignment `json:"assignment"`
	Resource   Resource   `json:"resource"`
}

// ResourceFields are the descriptive fields supplied on create and replaced on update.
type ResourceFields struct {
	Name          string
	Type          string
	TotalQuantity int64
	Unit          string
	Location      string
	Status        string
}

// Normalize trims text and fills the original defaults for unit and status.
func (f ResourceFields) Normalize() ResourceFields {
	f.Name = strings.TrimSpace(f.Name)
	f.Type = strings.TrimSpace(f.Type)
	f.Unit = strings.TrimSpace(f.Unit)
	f.Location = strings.TrimSpace(f.Location)
	f.Status = strings.ToLower(strings.TrimSpace(f.Status))
	if f.Unit == "" {
		f.Unit = DefaultUnit
	}
	if f.Status == "" {
		f.Status = DefaultStatus
	}
	return f
}

var (
	ErrNotFound            = errors.New("resource not found")
	ErrInsufficientStock   = errors.New("insufficient resource quantity available")
	ErrInvalidQuantity     = errors.New("invalid quantity (must be > 0)")
	ErrInvalidTotal        = errors.New("invalid total quantity (must be >= 0)")
	ErrTotalBelowCommitted = errors.New("total quantity cannot be lowered below the quantity already assigned")
	ErrInUse               = errors.New("resource has committed assignments")
	ErrStoreUnavailable    = errors.New("ledger store unavailable")
)
