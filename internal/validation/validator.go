// Package validation checks cluster and host request bodies before they
// reach the orchestrator.
//
// Struct constraints are declared with go-playground/validator tags on the
// request models. Two custom tags are registered:
//   - clustertype: a known cluster type (DOCKER, SINGLE_HOST, KUBERNETES)
//   - clusterstatus: a known cluster status
//
// # Usage Example
//
//	v := validation.New()
//	result := v.ValidateClusterSpec(spec)
//	if !result.Valid {
//	    for _, e := range result.Errors {
//	        fmt.Printf("%s: %s\n", e.Field, e.Message)
//	    }
//	}
package validation

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"evalgo.org/stratum/models"
)

// Validator validates request bodies.
type Validator struct {
	structValidator *validator.Validate
}

// ValidationError represents a single validation error with field-level details.
type ValidationError struct {
	// Field is the JSON path of the field that failed validation
	Field string `json:"field"`

	// Message describes why the validation failed
	Message string `json:"message"`

	// Value is the invalid value that caused the error (optional)
	Value interface{} `json:"value,omitempty"`
}

// ValidationResult represents the complete result of a validation operation.
type ValidationResult struct {
	// Valid is true if validation passed, false otherwise
	Valid bool `json:"valid"`

	// Errors contains all validation errors found (empty if Valid is true)
	Errors []ValidationError `json:"errors,omitempty"`
}

// FieldErrors flattens the result into field -> message.
func (r *ValidationResult) FieldErrors() map[string]string {
	if r == nil || len(r.Errors) == 0 {
		return nil
	}
	out := make(map[string]string, len(r.Errors))
	for _, e := range r.Errors {
		if _, ok := out[e.Field]; !ok {
			out[e.Field] = e.Message
		}
	}
	return out
}

// New creates a Validator with the cluster tags registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON names instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	_ = v.RegisterValidation("clustertype", func(fl validator.FieldLevel) bool {
		_, ok := models.ParseClusterType(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("clusterstatus", func(fl validator.FieldLevel) bool {
		_, ok := models.ParseClusterStatus(fl.Field().String())
		return ok
	})

	return &Validator{structValidator: v}
}

// ValidateClusterSpec validates a create or patch body. The host, when
// present, is validated as well.
func (v *Validator) ValidateClusterSpec(spec *models.ClusterSpec) *ValidationResult {
	if spec == nil {
		return invalid(ValidationError{Field: "body", Message: "request body is required"})
	}

	errs := v.structErrors(spec)
	if spec.HostState != nil {
		errs = append(errs, prefixed("hostState", v.hostErrors(spec.HostState))...)
	}
	return result(errs)
}

// ValidateHostSpec validates an add-host body.
func (v *Validator) ValidateHostSpec(spec *models.HostSpec) *ValidationResult {
	if spec == nil {
		return invalid(ValidationError{Field: "body", Message: "request body is required"})
	}

	errs := v.structErrors(spec)
	if spec.HostState != nil {
		errs = append(errs, prefixed("hostState", v.hostErrors(spec.HostState))...)
	}
	return result(errs)
}

// structErrors runs the tag validation and converts the result.
func (v *Validator) structErrors(s interface{}) []ValidationError {
	err := v.structValidator.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{Field: "body", Message: err.Error()}}
	}

	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   fieldPath(fe),
			Message: message(fe),
			Value:   fe.Value(),
		})
	}
	return out
}

// hostErrors checks the host descriptor beyond its tags.
func (v *Validator) hostErrors(h *models.Host) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(h.Address) == "" {
		errs = append(errs, ValidationError{Field: "address", Message: "address is required"})
	} else if !validAddress(h.Address) {
		errs = append(errs, ValidationError{
			Field:   "address",
			Message: "address must be host[:port] or a http, https or tcp URL",
			Value:   h.Address,
		})
	}

	if h.PowerState != "" {
		switch h.PowerState {
		case models.PowerStateOn, models.PowerStateOff, models.PowerStateUnknown, models.PowerStateSuspend:
		default:
			errs = append(errs, ValidationError{
				Field:   "powerState",
				Message: "powerState must be one of: ON, OFF, UNKNOWN, SUSPEND",
				Value:   h.PowerState,
			})
		}
	}

	if ht, ok := h.Property(models.PropHostType); ok {
		switch models.HostType(ht) {
		case models.HostTypeDocker, models.HostTypeScheduler, models.HostTypeKubernetes:
		default:
			errs = append(errs, ValidationError{
				Field:   "customProperties." + models.PropHostType,
				Message: fmt.Sprintf("unknown host type %q", ht),
				Value:   ht,
			})
		}
	}

	return errs
}

func validAddress(addr string) bool {
	if !strings.Contains(addr, "://") {
		addr = "https://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "http", "https", "tcp":
		return true
	}
	return false
}

// fieldPath strips the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "clustertype":
		return "type must be one of: DOCKER, SINGLE_HOST, KUBERNETES"
	case "clusterstatus":
		return fmt.Sprintf("%s is not a known cluster status", fe.Value())
	default:
		return fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag())
	}
}

func prefixed(prefix string, errs []ValidationError) []ValidationError {
	for i := range errs {
		errs[i].Field = prefix + "." + errs[i].Field
	}
	return errs
}

func invalid(errs ...ValidationError) *ValidationResult {
	return &ValidationResult{Valid: false, Errors: errs}
}

func result(errs []ValidationError) *ValidationResult {
	return &ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
