package audit

import (
	"context"
	"errors"
	"time"
)

// Action names written by the write path.
const (
	ActionResourceCreated    = "RESOURCE_CREATED"
	ActionResourceUpdated    = "RESOURCE_UPDATED"
	ActionResourceDeleted    = "RESOURCE_DELETED"
	ActionResourceAssigned   = "RESOURCE_ASSIGNED"
	ActionIncidentReported   = "INCIDENT_REPORTED"
	ActionIncidentStatus     = "INCIDENT_STATUS_UPDATED"
	ActionValidationRejected = "VALIDATION_REJECTED"
	ActionSecurityRejected   = "SECURITY_REJECTED"
	ActionAdmissionRejected  = "ADMISSION_REJECTED"
	ActionLoadShed           = "LOAD_SHED"

	ActionResourceCreateFailed = "RESOURCE_CREATE_FAILED"
	ActionResourceUpdateFailed = "RESOURCE_UPDATE_FAILED"
	ActionResourceDeleteFailed = "RESOURCE_DELETE_FAILED"
	ActionResourceAssignFailed = "RESOURCE_ASSIGN_FAILED"
	ActionIncidentReportFailed = "INCIDENT_REPORT_FAILED"
	ActionIncidentStatusFailed = "INCIDENT_STATUS_FAILED"
)

// Entity types referenced by entries.
const (
	EntityResource   = "resource"
	EntityAssignment = "assignment"
	EntityIncident   = "incident"
	EntityRequest    = "request"
	EntitySystem     = "system"
)

const (
	DefaultRecentLimit = 100
	MaxRecentLimit     = 100
)

// ErrUnavailable is returned by Trail.Append when the entry could not be persisted.
var ErrUnavailable = errors.New("audit trail unavailable")

// Entry is an append-only audit record.
type Entry struct {
	ID            string         `json:"id"`
	ActorID       *string        `json:"user_id"`
	Action        string         `json:"action"`
	EntityType    string         `json:"entity_type"`
	EntityID      string         `json:"entity_id,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	SourceAddress *string        `json:"ip_address"`
	CreatedAt     time.Time      `json:"created_at"`

	// Populated on read from the user directory.
	ActorName  string `json:"user_name,omitempty"`
	ActorEmail string `json:"user_email,omitempty"`
}

// Store persists entries. Append assigns ID and CreatedAt when they are empty.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// ClampLimit normalizes a Recent limit to 1..MaxRecentLimit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		return MaxRecentLimit
	}
	return limit
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
