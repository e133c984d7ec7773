// Package validate checks write-path payloads in three tiers: structural
// (required fields), domain (enumerations and bounds) and a heuristic
// security scan of free text. Checks are pure and synchronous.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Tier names which group of checks produced a violation.
type Tier string

const (
	TierStructural Tier = "structural"
	TierDomain     Tier = "domain"
	TierSecurity   Tier = "security"
)

// Violation is one defect in a payload.
type Violation struct {
	Tier    Tier   `json:"tier"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Failure is returned when a payload has at least one violation.
// Tier is the most severe tier present.
type Failure struct {
	Tier       Tier
	Violations []Violation
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s validation failed: %s", f.Tier, strings.Join(f.Messages(), "; "))
}

// Security reports whether any violation came from the heuristic scan.
func (f *Failure) Security() bool { return f.Tier == TierSecurity }

// Status is the response status label.
func (f *Failure) Status() string {
	if f.Security() {
		return "access_denied"
	}
	return "inspection_failed"
}

// Inspector names the tier in responses.
func (f *Failure) Inspector() string {
	switch f.Tier {
	case TierSecurity:
		return "SecurityInspector"
	case TierStructural:
		return "StructuralInspector"
	default:
		return "DomainInspector"
	}
}

func (f *Failure) Messages() []string {
	out := make([]string, 0, len(f.Violations))
	for _, v := range f.Violations {
		out = append(out, v.Message)
	}
	return out
}

// AsFailure unwraps a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// Normalizer is implemented by payloads that canonicalize themselves before checks.
type Normalizer interface {
	Normalize()
}

// Chain runs all tiers against a payload.
type Chain struct {
	rules     *validator.Validate
	heuristic *validator.Validate
}

// NewChain builds a chain. Field names in violations follow the json tags.
func NewChain() *Chain {
	rules := validator.New(validator.WithRequiredStructEnabled())
	rules.RegisterTagNameFunc(jsonName)

	heuristic := validator.New()
	heuristic.SetTagName("heuristic")
	heuristic.RegisterTagNameFunc(jsonName)
	_ = heuristic.RegisterValidation("noscript", func(fl validator.FieldLevel) bool {
		return !matchesAny(scriptMarkers, fl.Field().String())
	})
	_ = heuristic.RegisterValidation("nosql", func(fl validator.FieldLevel) bool {
		return !matchesAny(sqlMarkers, fl.Field().String())
	})

	return &Chain{rules: rules, heuristic: heuristic}
}

// Validate returns nil when payload (a pointer to a struct) is acceptable.
// Structural failures short-circuit; domain and security violations accumulate.
func (c *Chain) Validate(payload any) *Failure {
	if n, ok := payload.(Normalizer); ok {
		n.Normalize()
	}

	var structural, domain []Violation
	for _, fe := range fieldErrors(c.rules.Struct(payload)) {
		if fe.Tag() == "required" {
			structural = append(structural, Violation{
				Tier:    TierStructural,
				Field:   fe.Field(),
				Message: fmt.Sprintf("missing required field: %s", fe.Field()),
			})
			continue
		}
		domain = append(domain, Violation{Tier: TierDomain, Field: fe.Field(), Message: domainMessage(fe)})
	}
	if len(structural) > 0 {
		return &Failure{Tier: TierStructural, Violations: structural}
	}

	var security []Violation
	for _, fe := range fieldErrors(c.heuristic.Struct(payload)) {
		security = append(security, Violation{Tier: TierSecurity, Field: fe.Field(), Message: securityMessage(fe.Tag(), fe.Field())})
	}

	switch {
	case len(security) > 0:
		return &Failure{Tier: TierSecurity, Violations: append(domain, security...)}
	case len(domain) > 0:
		return &Failure{Tier: TierDomain, Violations: domain}
	}
	return nil
}

// ScanText applies the security heuristics to a single value, such as a
// query parameter.
func ScanText(field, value string) []Violation {
	var out []Violation
	if matchesAny(scriptMarkers, value) {
		out = append(out, Violation{Tier: TierSecurity, Field: field, Message: securityMessage("noscript", field)})
	}
	if matchesAny(sqlMarkers, value) {
		out = append(out, Violation{Tier: TierSecurity, Field: field, Message: securityMessage("nosql", field)})
	}
	return out
}

func fieldErrors(err error) validator.ValidationErrors {
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return ve
	}
	// InvalidValidationError means a programming error: not a struct pointer.
	panic(err)
}

func jsonName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

func domainMessage(fe validator.FieldError) string {
	field, param := fe.Field(), fe.Param()
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("invalid %s: must be one of %s", field, strings.Join(strings.Fields(param), ", "))
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s is too short (minimum %s characters)", field, param)
		}
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s exceeds maximum length of %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, param)
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, param)
	}
	return fmt.Sprintf("%s failed %s check", field, fe.Tag())
}

func securityMessage(tag, field string) string {
	if tag == "noscript" {
		return fmt.Sprintf("Security Alert: potential script injection detected in %s", field)
	}
	return fmt.Sprintf("Malformed payload detected in %s", field)
}
