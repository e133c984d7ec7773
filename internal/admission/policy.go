// Package admission throttles callers per source address with fixed-window
// counters kept in a pluggable CounterStore.
package admission

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Policy names.
const (
	PolicyGeneral   = "general"
	PolicyAuth      = "auth"
	PolicyAssistant = "assistant"
)

// Rejection codes returned to clients.
const (
	CodeStressLimit = "STRESS_LIMIT_REACHED"
	CodeAuthLimit   = "AUTH_STRESS_LIMIT"
	CodeAILimit     = "AI_LIMIT"
)

// Policy is a named fixed window.
type Policy struct {
	Name        string
	Window      time.Duration
	Max         int64
	Code        string
	Message     string
	BypassRoles []string
}

func (p Policy) bypasses(role string) bool {
	for _, r := range p.BypassRoles {
		if r != "" && r == role {
			return true
		}
	}
	return false
}

// DefaultPolicies returns the three built-in policies.
func DefaultPolicies(bypassRole string) []Policy {
	return []Policy{
		{
			Name:        PolicyGeneral,
			Window:      2 * time.Minute,
			Max:         100,
			Code:        CodeStressLimit,
			Message:     "System under heavy load. Please wait 2 mins before reuse.",
			BypassRoles: []string{bypassRole},
		},
		{
			Name:    PolicyAuth,
			Window:  time.Minute,
			Max:     10,
			Code:    CodeAuthLimit,
			Message: "Too many login/registration attempts. Service locked for 1 min to protect your account.",
		},
		{
			Name:    PolicyAssistant,
			Window:  time.Hour,
			Max:     20,
			Code:    CodeAILimit,
			Message: "AI assistance quota reached for this hour.",
		},
	}
}

// Window is the counter state of one (source, policy) key.
type Window struct {
	Count   int64
	ResetAt time.Time
}

// CounterStore increments the counter under key, starting a new window of
// the given length when none is active. The increment must be atomic per key.
type CounterStore interface {
	Hit(ctx context.Context, key string, window time.Duration) (Window, error)
}

// Key builds the counter key for a source under a policy.
func Key(policy, source string) string {
	return "admission:" + policy + ":" + source
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Policy     string
	Code       string
	Message    string
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
	// Bypassed is set when the caller's role skipped the policy.
	Bypassed bool
	// Degraded is set when the counter store failed and FailOpen/FailClosed applied.
	Degraded bool
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1.
func (d Decision) RetryAfterSeconds() int {
	s := int(math.Ceil(d.RetryAfter.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// Err returns a *Rejection for a rejected decision and nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &Rejection{Decision: d}
}

// Rejection is the error form of a rejected Decision.
type Rejection struct {
	Decision Decision
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("admission rejected by %s policy (%s), retry after %ds", r.Decision.Policy, r.Decision.Code, r.Decision.RetryAfterSeconds())
}

// AsRejection unwraps a *Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
