package validate

import "strings"

// AssignRequest reserves quantity of a resource for an incident.
type AssignRequest struct {
	IncidentID string `json:"incident_id" validate:"required" heuristic:"nosql"`
	ResourceID string `json:"resource_id" validate:"required" heuristic:"nosql"`
	Quantity   int64  `json:"quantity" validate:"required,gt=0"`
}

func (r *AssignRequest) Normalize() {
	r.IncidentID = strings.TrimSpace(r.IncidentID)
	r.ResourceID = strings.TrimSpace(r.ResourceID)
}

// ResourceRequest creates or replaces a resource's descriptive fields.
type ResourceRequest struct {
	Name          string `json:"name" validate:"required,max=200" heuristic:"noscript,nosql"`
	Type          string `json:"type" validate:"required,max=100" heuristic:"noscript,nosql"`
	TotalQuantity int64  `json:"total_quantity" validate:"gte=0"`
	Unit          string `json:"unit" validate:"max=50" heuristic:"noscript,nosql"`
	Location      string `json:"location" validate:"max=255" heuristic:"noscript,nosql"`
	Status        string `json:"status" validate:"omitempty,oneof=available low depleted maintenance"`
}

func (r *ResourceRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Type = strings.TrimSpace(r.Type)
	r.Unit = strings.TrimSpace(r.Unit)
	r.Location = strings.TrimSpace(r.Location)
	r.Status = strings.ToLower(strings.TrimSpace(r.Status))
}

// IncidentReport is a citizen or authority field report.
type IncidentReport struct {
	Title       string  `json:"title" validate:"required,min=5,max=255" heuristic:"noscript,nosql"`
	Description string  `json:"description" validate:"max=1000" heuristic:"noscript,nosql"`
	Type        string  `json:"type" validate:"required,max=100" heuristic:"noscript,nosql"`
	Severity    string  `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Location    string  `json:"location" validate:"required,max=255" heuristic:"noscript,nosql"`
	Latitude    float64 `json:"latitude,omitempty" validate:"gte=-90,lte=90"`
	Longitude   float64 `json:"longitude,omitempty" validate:"gte=-180,lte=180"`
}

func (r *IncidentReport) Normalize() {
	r.Title = strings.TrimSpace(r.Title)
	r.Type = strings.TrimSpace(r.Type)
	r.Location = strings.TrimSpace(r.Location)
	r.Severity = strings.ToLower(strings.TrimSpace(r.Severity))
}

// StatusChange moves an incident through its lifecycle.
// AssignedTo, when present, hands the incident to that user.
type StatusChange struct {
	Status     string `json:"status" validate:"required,oneof=reported verified in_progress resolved"`
	AssignedTo string `json:"assigned_to,omitempty" validate:"max=64" heuristic:"noscript,nosql"`
}

func (r *StatusChange) Normalize() {
	r.Status = strings.ToLower(strings.TrimSpace(r.Status))
	r.AssignedTo = strings.TrimSpace(r.AssignedTo)
}
