package notify

import "fmt"

// Event names consumed by dashboards.
const (
	EventNewIncident       = "new_incident"
	EventStatusUpdated     = "status_updated"
	EventResourceUpdated   = "resource_updated"
	EventResourceDeleted   = "resource_deleted"
	EventAdminNotification = "admin_notification"
)

// RoomAuthority receives operator-only notifications.
const RoomAuthority = "authority"

// AdminNotice is the payload of admin_notification events.
type AdminNotice struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Data    any    `json:"data,omitempty"`
}

// IncidentReported broadcasts the new incident and alerts the authority room.
func IncidentReported(p Publisher, incident any, incidentType string) {
	p.Publish(Event{Name: EventNewIncident, Data: incident})
	p.Publish(Event{
		Name: EventAdminNotification,
		Room: RoomAuthority,
		Data: AdminNotice{
			Message: fmt.Sprintf("URGENT: New %s incident reported!", incidentType),
			Type:    "incident",
			Data:    incident,
		},
	})
}

// IncidentStatusChanged broadcasts a status transition.
func IncidentStatusChanged(p Publisher, id, status string) {
	p.Publish(Event{
		Name: EventStatusUpdated,
		Data: map[string]string{"id": id, "status": status},
	})
}

// ResourceChanged broadcasts the resource's new state and alerts the authority room.
func ResourceChanged(p Publisher, resource any, name string) {
	p.Publish(Event{Name: EventResourceUpdated, Data: resource})
	p.Publish(Event{
		Name: EventAdminNotification,
		Room: RoomAuthority,
		Data: AdminNotice{
			Message: fmt.Sprintf("Inventory Update: %s has been updated.", name),
			Type:    "inventory",
			Data:    resource,
		},
	})
}

// ResourceRemoved broadcasts a deletion and alerts the authority room.
func ResourceRemoved(p Publisher, id string) {
	p.Publish(Event{Name: EventResourceDeleted, Data: map[string]string{"id": id}})
	p.Publish(Event{
		Name: EventAdminNotification,
		Room: RoomAuthority,
		Data: AdminNotice{
			Message: "Inventory Alert: A resource has been decommissioned.",
			Type:    "inventory",
		},
	})
}
