package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"relief.org/api/spec"
	"relief.org/internal/admission"
	"relief.org/internal/audit"
	"relief.org/internal/auth"
	"relief.org/internal/ledger"
	"relief.org/internal/notify"
	"relief.org/internal/obs"
	"relief.org/internal/pipeline"
)

const serviceName = "relief-api"

// ReadyProbe pings the database and any extra dependency checks.
type ReadyProbe struct {
	DB     *sql.DB
	Checks []func(context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	for _, check := range rp.Checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// AuditReader serves GET /audit.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
}

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Pipeline *pipeline.Pipeline
	Ledger   ledger.Service
	Audit    AuditReader
	Bus      *notify.Bus
	Auth     auth.Authenticator
	Ready    ReadyProbe
	// Shedder refuses work under overload. Nil disables shedding.
	Shedder *admission.Shedder
}

// Options tunes the HTTP surface.
type Options struct {
	Version        string
	MaxBodyBytes   int64
	AllowedOrigins []string
	TrustForwarded bool
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	pipeline   *pipeline.Pipeline
	ledger     ledger.Service
	audit      AuditReader
	bus        *notify.Bus
	auth       auth.Authenticator
	readyProbe ReadyProbe
	shedder    *admission.Shedder
	opts       Options
}

func New(d Deps, opts Options) (*API, error) {
	if d.Pipeline == nil || d.Ledger == nil {
		return nil, errors.New("httpapi: pipeline and ledger are required")
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	a := &API{
		mux:        http.NewServeMux(),
		pipeline:   d.Pipeline,
		ledger:     d.Ledger,
		audit:      d.Audit,
		bus:        d.Bus,
		auth:       d.Auth,
		readyProbe: d.Ready,
		shedder:    d.Shedder,
		opts:       opts,
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.HandleFunc("GET /openapi.yaml", a.OpenAPISpec)
	a.mux.Handle("GET /metrics", obs.Handler())

	anyRole := RequireRole()
	authority := RequireRole(auth.RoleAuthority)

	a.mux.Handle("GET /resources", anyRole(http.HandlerFunc(a.listResources)))
	a.mux.Handle("POST /resources", authority(http.HandlerFunc(a.createResource)))
	a.mux.Handle("PUT /resources/{id}", authority(http.HandlerFunc(a.updateResource)))
	a.mux.Handle("DELETE /resources/{id}", authority(http.HandlerFunc(a.deleteResource)))
	a.mux.Handle("POST /resources/assign", RequireRole(auth.RoleAuthority, auth.RoleVolunteer)(http.HandlerFunc(a.assignResource)))
	a.mux.Handle("GET /resources/assignments/{incidentId}", anyRole(http.HandlerFunc(a.incidentAssignments)))

	a.mux.Handle("POST /incidents", RequireRole(auth.RoleAuthority, auth.RoleCitizen)(http.HandlerFunc(a.reportIncident)))
	a.mux.Handle("PATCH /incidents/{id}/status", RequireRole(auth.RoleAuthority, auth.RoleVolunteer)(http.HandlerFunc(a.updateIncidentStatus)))

	a.mux.Handle("GET /audit", authority(http.HandlerFunc(a.auditLog)))

	a.mux.Handle("GET /ws", anyRole(http.HandlerFunc(a.WebSocket)))
	a.mux.Handle("GET /events", anyRole(http.HandlerFunc(a.Events)))
}

// Mount registers a collaborator endpoint behind an extra admission policy,
// e.g. credential submission under admission.PolicyAuth.
func (a *API) Mount(pattern, policy string, h http.Handler) {
	if policy == "" || policy == admission.PolicyGeneral {
		a.mux.Handle(pattern, h)
		return
	}
	a.mux.Handle(pattern, a.admit(policy, h))
}

// Handler returns the root handler with the full middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.inspect(h)
	h = authGate(h)
	h = a.admit(admission.PolicyGeneral, h)
	h = a.shed(h)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = CORS(a.opts.AllowedOrigins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	}
	if a.bus != nil {
		info["subscribers"] = a.bus.Subscribers()
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

func (a *API) actor(r *http.Request) pipeline.Actor {
	actor := pipeline.Actor{SourceAddress: clientIP(r, a.opts.TrustForwarded)}
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		actor.ID = p.ActorID
		actor.Role = p.Role
	}
	return actor
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
