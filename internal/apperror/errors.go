// Package apperror defines the error kinds shared by every domain service
// and the HTTP layer that maps them to status codes.
package apperror

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("permission denied")
	ErrEmailExists        = errors.New("email-already-exists")
	ErrInvalidPassword    = errors.New("invalid-password")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// FieldError describes a single rejected input field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError is returned when caller input violates a precondition.
// Nothing has been written when a ValidationError is returned.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

// NewValidationError wraps err with optional per-field details.
func NewValidationError(err error, fields ...FieldError) error {
	return &ValidationError{Err: err, Fields: fields}
}

// Invalid builds a ValidationError for a single field.
func Invalid(field, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return &ValidationError{Err: errors.New(msg), Fields: []FieldError{{Field: field, Error: msg}}}
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "validation failed"
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// RemoteOperationError reports a failure of the backing store, queue or a
// third party API.
type RemoteOperationError struct {
	Op  string
	Err error
}

// Remote wraps err as a RemoteOperationError; nil stays nil.
func Remote(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RemoteOperationError
	if errors.As(err, &re) {
		return err
	}
	return &RemoteOperationError{Op: op, Err: errors.WithStack(err)}
}

func (e *RemoteOperationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteOperationError) Unwrap() error {
	return e.Err
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks struct tags and converts failures into a ValidationError.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewValidationError(err)
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fieldPath(fe), Error: describe(fe)})
	}
	return NewValidationError(errors.New("invalid input"), fields...)
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must have at least " + fe.Param()
	case "max":
		return "must have at most " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "datetime":
		return "must match format " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}
