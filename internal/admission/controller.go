package admission

import (
	"context"
	"time"

	"relief.org/internal/obs"
)

// FailClosedRetry is the Retry-After advertised when the counter store is down
// and the controller fails closed.
const FailClosedRetry = 5 * time.Second

// Options configures a Controller.
type Options struct {
	Policies []Policy
	// FailOpen admits requests when the counter store errors.
	FailOpen bool
	Now      func() time.Time
}

// Controller decides whether a request may proceed.
type Controller struct {
	store    CounterStore
	policies map[string]Policy
	failOpen bool
	now      func() time.Time
}

// NewController builds a controller. Without explicit policies the defaults
// are used with "authority" as the general-policy bypass role.
func NewController(store CounterStore, opts Options) *Controller {
	if len(opts.Policies) == 0 {
		opts.Policies = DefaultPolicies("authority")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Controller{
		store:    store,
		policies: make(map[string]Policy, len(opts.Policies)),
		failOpen: opts.FailOpen,
		now:      opts.Now,
	}
	for _, p := range opts.Policies {
		c.policies[p.Name] = p
	}
	return c
}

// Policy looks up a policy by name.
func (c *Controller) Policy(name string) (Policy, bool) {
	p, ok := c.policies[name]
	return p, ok
}

// Admit counts one request from source against the named policy.
func (c *Controller) Admit(ctx context.Context, source, policy, role string) Decision {
	p, ok := c.policies[policy]
	if !ok {
		obs.Logger().Warn("admission_unknown_policy", "policy", policy)
		obs.AdmissionDecisions.WithLabelValues(policy, "unknown_policy").Inc()
		return Decision{Allowed: true, Policy: policy}
	}
	if p.bypasses(role) {
		obs.AdmissionDecisions.WithLabelValues(p.Name, "bypassed").Inc()
		return Decision{Allowed: true, Policy: p.Name, Limit: p.Max, Remaining: p.Max, Bypassed: true}
	}
	if source == "" {
		source = "unknown"
	}

	w, err := c.store.Hit(ctx, Key(p.Name, source), p.Window)
	if err != nil {
		return c.degraded(p, source, err)
	}

	d := Decision{
		Policy:    p.Name,
		Code:      p.Code,
		Message:   p.Message,
		Limit:     p.Max,
		Remaining: max(p.Max-w.Count, 0),
		ResetAt:   w.ResetAt,
	}
	if w.Count <= p.Max {
		d.Allowed = true
		obs.AdmissionDecisions.WithLabelValues(p.Name, "allowed").Inc()
		return d
	}
	d.RetryAfter = max(w.ResetAt.Sub(c.now()), time.Second)
	obs.AdmissionDecisions.WithLabelValues(p.Name, "rejected").Inc()
	return d
}

func (c *Controller) degraded(p Policy, source string, err error) Decision {
	d := Decision{
		Policy:   p.Name,
		Code:     p.Code,
		Message:  p.Message,
		Limit:    p.Max,
		Degraded: true,
	}
	if c.failOpen {
		d.Allowed = true
		d.Remaining = p.Max
		obs.AdmissionDecisions.WithLabelValues(p.Name, "degraded_open").Inc()
		obs.Logger().Warn("admission_store_unavailable", "policy", p.Name, "source", source, "mode", "fail_open", "error", err.Error())
		return d
	}
	d.RetryAfter = FailClosedRetry
	d.ResetAt = c.now().Add(FailClosedRetry)
	obs.AdmissionDecisions.WithLabelValues(p.Name, "degraded_closed").Inc()
	obs.Logger().Error("admission_store_unavailable", "policy", p.Name, "source", source, "mode", "fail_closed", "error", err.Error())
	return d
}
