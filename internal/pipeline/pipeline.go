// Package pipeline orchestrates a write request: admission, validation, the
// ledger transaction, then best-effort audit and notification.
package pipeline

import (
	"context"
	"errors"
	"maps"
	"slices"

	"relief.org/internal/admission"
	"relief.org/internal/audit"
	"relief.org/internal/auth"
	"relief.org/internal/incident"
	"relief.org/internal/ledger"
	"relief.org/internal/notify"
	"relief.org/internal/obs"
	"relief.org/internal/validate"
)

// Actor is the authenticated caller as supplied by the authentication collaborator.
type Actor struct {
	ID            string
	Role          string
	SourceAddress string
}

// Auditor is the audit side of the pipeline.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry)
}

// Admitter decides admission.
type Admitter interface {
	Admit(ctx context.Context, source, policy, role string) admission.Decision
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Ledger    ledger.Service
	Incidents incident.Store
	Audit     Auditor
	Bus       notify.Publisher
	Validator *validate.Chain
	Admission Admitter
}

// Pipeline runs write operations.
type Pipeline struct {
	ledger    ledger.Service
	incidents incident.Store
	audit     Auditor
	bus       notify.Publisher
	validator *validate.Chain
	admission Admitter
}

// New wires a pipeline. Missing validator gets a default chain.
func New(d Deps) (*Pipeline, error) {
	if d.Ledger == nil {
		return nil, errors.New("pipeline: ledger is required")
	}
	if d.Audit == nil {
		return nil, errors.New("pipeline: audit trail is required")
	}
	if d.Bus == nil {
		return nil, errors.New("pipeline: notification bus is required")
	}
	if d.Validator == nil {
		d.Validator = validate.NewChain()
	}
	return &Pipeline{
		ledger:    d.Ledger,
		incidents: d.Incidents,
		audit:     d.Audit,
		bus:       d.Bus,
		validator: d.Validator,
		admission: d.Admission,
	}, nil
}

// Admit checks the named policy for actor. Rejections are audited asynchronously.
func (p *Pipeline) Admit(ctx context.Context, actor Actor, policy, path, method string) admission.Decision {
	if p.admission == nil {
		return admission.Decision{Allowed: true, Policy: policy}
	}
	d := p.admission.Admit(ctx, actor.SourceAddress, policy, actor.Role)
	if !d.Allowed {
		p.Reject(ctx, actor, d, path, method)
	}
	return d
}

// Reject records an ADMISSION_REJECTED entry without blocking.
func (p *Pipeline) Reject(ctx context.Context, actor Actor, d admission.Decision, path, method string) {
	details := map[string]any{
		"policy":      d.Policy,
		"code":        d.Code,
		"path":        path,
		"method":      method,
		"retry_after": d.RetryAfterSeconds(),
		"reason":      "Request limit exceeded",
	}
	if d.Degraded {
		details["reason"] = "Counter store unavailable"
	}
	p.record(ctx, actor, audit.ActionAdmissionRejected, audit.EntitySystem, "", details)
}

// Shed records a LOAD_SHED entry for a request refused under overload.
func (p *Pipeline) Shed(ctx context.Context, actor Actor, ov *admission.Overload, path, method string) {
	obs.Logger().Warn("load_shed",
		"request_id", audit.RequestIDFromContext(ctx),
		"source", actor.SourceAddress,
		"status", ov.Status,
		"in_flight", ov.InFlight,
		"heap_bytes", ov.HeapBytes,
	)
	p.record(ctx, actor, audit.ActionLoadShed, audit.EntitySystem, "", map[string]any{
		"status":      ov.Status,
		"path":        path,
		"method":      method,
		"in_flight":   ov.InFlight,
		"heap_bytes":  ov.HeapBytes,
		"retry_after": ov.RetryAfterSeconds(),
	})
}

// AssignResource reserves quantity of a resource for an incident.
func (p *Pipeline) AssignResource(ctx context.Context, actor Actor, req validate.AssignRequest) (ledger.Reservation, error) {
	if err := p.check(ctx, actor, "assign", &req); err != nil {
		return ledger.Reservation{}, err
	}

	rv, err := p.ledger.Reserve(ctx, req.ResourceID, req.Quantity, req.IncidentID)
	p.observe("reserve", err)
	if err != nil {
		p.record(ctx, actor, audit.ActionResourceAssignFailed, audit.EntityResource, req.ResourceID, map[string]any{
			"incident_id": req.IncidentID,
			"quantity":    req.Quantity,
			"reason":      err.Error(),
			"kind":        string(Classify(err)),
		})
		return ledger.Reservation{}, err
	}

	p.record(ctx, actor, audit.ActionResourceAssigned, audit.EntityAssignment, rv.Assignment.ID, map[string]any{
		"resource_id":        rv.Resource.ID,
		"incident_id":        rv.Assignment.IncidentID,
		"quantity":           rv.Assignment.Quantity,
		"available_quantity": rv.Resource.AvailableQuantity,
	})
	p.publish(func(bus notify.Publisher) { notify.ResourceChanged(bus, rv.Resource, rv.Resource.Name) })
	return rv, nil
}

// CreateResource adds an inventory line with its full quantity available.
func (p *Pipeline) CreateResource(ctx context.Context, actor Actor, req validate.ResourceRequest) (ledger.Resource, error) {
	if err := p.check(ctx, actor, "resource", &req); err != nil {
		return ledger.Resource{}, err
	}

	res, err := p.ledger.Create(ctx, resourceFields(req))
	p.observe("create", err)
	if err != nil {
		p.record(ctx, actor, audit.ActionResourceCreateFailed, audit.EntityResource, "", map[string]any{
			"name":   req.Name,
			"reason": err.Error(),
		})
		return ledger.Resource{}, err
	}

	p.record(ctx, actor, audit.ActionResourceCreated, audit.EntityResource, res.ID, map[string]any{
		"name":           res.Name,
		"total_quantity": res.TotalQuantity,
	})
	p.publish(func(bus notify.Publisher) { notify.ResourceChanged(bus, res, res.Name) })
	return res, nil
}

// UpdateResource replaces descriptive fields; see ledger.Service.Update for quantity rules.
func (p *Pipeline) UpdateResource(ctx context.Context, actor Actor, id string, req validate.ResourceRequest) (ledger.Resource, error) {
	if err := p.check(ctx, actor, "resource", &req); err != nil {
		return ledger.Resource{}, err
	}

	res, err := p.ledger.Update(ctx, id, resourceFields(req))
	p.observe("update", err)
	if err != nil {
		p.record(ctx, actor, audit.ActionResourceUpdateFailed, audit.EntityResource, id, map[string]any{
			"total_quantity": req.TotalQuantity,
			"reason":         err.Error(),
		})
		return ledger.Resource{}, err
	}

	p.record(ctx, actor, audit.ActionResourceUpdated, audit.EntityResource, res.ID, map[string]any{
		"name":               res.Name,
		"total_quantity":     res.TotalQuantity,
		"available_quantity": res.AvailableQuantity,
		"status":             res.Status,
	})
	p.publish(func(bus notify.Publisher) { notify.ResourceChanged(bus, res, res.Name) })
	return res, nil
}

// DeleteResource decommissions a resource that has no assignments.
func (p *Pipeline) DeleteResource(ctx context.Context, actor Actor, id string) error {
	err := p.ledger.Delete(ctx, id)
	p.observe("delete", err)
	if err != nil {
		p.record(ctx, actor, audit.ActionResourceDeleteFailed, audit.EntityResource, id, map[string]any{"reason": err.Error()})
		return err
	}
	p.record(ctx, actor, audit.ActionResourceDeleted, audit.EntityResource, id, nil)
	p.publish(func(bus notify.Publisher) { notify.ResourceRemoved(bus, id) })
	return nil
}

// ReportIncident stores a field report and alerts dashboards.
func (p *Pipeline) ReportIncident(ctx context.Context, actor Actor, req validate.IncidentReport) (incident.Incident, error) {
	if p.incidents == nil {
		return incident.Incident{}, errors.New("pipeline: incident store not configured")
	}
	if err := p.check(ctx, actor, "incident", &req); err != nil {
		return incident.Incident{}, err
	}

	rep := incident.Report{
		Title:       req.Title,
		Description: req.Description,
		Type:        req.Type,
		Severity:    req.Severity,
		Location:    req.Location,
		ReporterID:  actor.ID,
	}
	if req.Latitude != 0 || req.Longitude != 0 {
		lat, lon := req.Latitude, req.Longitude
		rep.Latitude, rep.Longitude = &lat, &lon
	}
	inc, err := p.incidents.Create(ctx, rep)
	if err != nil {
		p.record(ctx, actor, audit.ActionIncidentReportFailed, audit.EntityIncident, "", map[string]any{
			"type":   req.Type,
			"reason": err.Error(),
		})
		return incident.Incident{}, err
	}

	p.record(ctx, actor, audit.ActionIncidentReported, audit.EntityIncident, inc.ID, map[string]any{
		"type":     inc.Type,
		"severity": inc.Severity,
	})
	p.publish(func(bus notify.Publisher) { notify.IncidentReported(bus, inc, inc.Type) })
	return inc, nil
}

// UpdateIncidentStatus moves an incident through its lifecycle. Volunteers
// may only move incidents assigned to them.
func (p *Pipeline) UpdateIncidentStatus(ctx context.Context, actor Actor, id string, req validate.StatusChange) (incident.Incident, error) {
	if p.incidents == nil {
		return incident.Incident{}, errors.New("pipeline: incident store not configured")
	}
	if err := p.check(ctx, actor, "incident_status", &req); err != nil {
		return incident.Incident{}, err
	}

	u := incident.StatusUpdate{Status: req.Status, AssignedTo: req.AssignedTo}
	if actor.Role == auth.RoleVolunteer {
		u.Assignee = actor.ID
	}
	inc, err := p.incidents.UpdateStatus(ctx, id, u)
	if err != nil {
		p.record(ctx, actor, audit.ActionIncidentStatusFailed, audit.EntityIncident, id, map[string]any{
			"status": req.Status,
			"reason": err.Error(),
			"kind":   string(Classify(err)),
		})
		return incident.Incident{}, err
	}

	details := map[string]any{"status": inc.Status}
	if inc.AssignedTo != nil {
		details["assigned_to"] = *inc.AssignedTo
	}
	p.record(ctx, actor, audit.ActionIncidentStatus, audit.EntityIncident, id, details)
	p.publish(func(bus notify.Publisher) { notify.IncidentStatusChanged(bus, id, inc.Status) })
	return inc, nil
}

func resourceFields(req validate.ResourceRequest) ledger.ResourceFields {
	return ledger.ResourceFields{
		Name:          req.Name,
		Type:          req.Type,
		TotalQuantity: req.TotalQuantity,
		Unit:          req.Unit,
		Location:      req.Location,
		Status:        req.Status,
	}
}

// check runs the validator chain and audits a rejection.
func (p *Pipeline) check(ctx context.Context, actor Actor, payload string, v any) error {
	f := p.validator.Validate(v)
	if f == nil {
		return nil
	}
	return p.reject(ctx, actor, payload, f)
}

// InspectRequest runs the security heuristics over request fields that no
// payload check sees, such as query parameters and the path.
func (p *Pipeline) InspectRequest(ctx context.Context, actor Actor, fields map[string][]string) error {
	var found []validate.Violation
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		for _, v := range fields[name] {
			found = append(found, validate.ScanText(name, v)...)
		}
	}
	if len(found) == 0 {
		return nil
	}
	return p.reject(ctx, actor, "request", &validate.Failure{Tier: validate.TierSecurity, Violations: found})
}

// reject audits a failed check and returns it.
func (p *Pipeline) reject(ctx context.Context, actor Actor, payload string, f *validate.Failure) error {
	obs.ValidationFailures.WithLabelValues(string(f.Tier)).Inc()

	details := map[string]any{
		"payload": payload,
		"tier":    string(f.Tier),
		"errors":  f.Messages(),
	}
	if f.Security() {
		obs.Logger().Warn("security_anomaly",
			"request_id", audit.RequestIDFromContext(ctx),
			"source", actor.SourceAddress,
			"actor_id", actor.ID,
			"payload", payload,
			"errors", f.Messages(),
		)
		p.record(ctx, actor, audit.ActionSecurityRejected, audit.EntityRequest, "", details)
		return f
	}
	p.record(ctx, actor, audit.ActionValidationRejected, audit.EntityRequest, "", details)
	return f
}

// record hands an entry to the trail. Failures stay inside the trail.
func (p *Pipeline) record(ctx context.Context, actor Actor, action, entityType, entityID string, details map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			obs.Logger().Error("audit_record_panic", "action", action, "panic", r)
		}
	}()
	if details == nil {
		details = map[string]any{}
	}
	p.audit.Record(ctx, audit.Entry{
		ActorID:       audit.StringPtr(actor.ID),
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Details:       details,
		SourceAddress: audit.StringPtr(actor.SourceAddress),
	})
}

// publish emits events; a failing bus never affects the committed outcome.
func (p *Pipeline) publish(emit func(notify.Publisher)) {
	defer func() {
		if r := recover(); r != nil {
			obs.Logger().Error("notify_publish_panic", "panic", r)
		}
	}()
	emit(p.bus)
}

func (p *Pipeline) observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(Classify(err))
	}
	obs.LedgerOperations.WithLabelValues(op, outcome).Inc()
}
