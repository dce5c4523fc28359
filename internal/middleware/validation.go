package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "casevault/internal/errors"
)

// DefaultMaxBodySize bounds JSON request bodies other than backup uploads.
const DefaultMaxBodySize int64 = 1 << 20

// Validator decodes JSON request bodies and checks their struct tags.
type Validator struct {
	validate *validator.Validate
}

// NewValidator returns a Validator whose messages use JSON field names.
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

// Decode reads at most maxBytes of JSON from r into dst and validates it.
// Unknown fields are rejected. Every failure is a VALIDATION or
// MALFORMED_INPUT error.
func (v *Validator) Decode(r *http.Request, dst interface{}, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodySize
	}
	body := io.LimitReader(r.Body, maxBytes+1)
	data, err := io.ReadAll(body)
	if err != nil {
		return apperrors.NewMalformedInputError("failed to read request body", err)
	}
	if int64(len(data)) > maxBytes {
		return apperrors.NewMalformedInputError(fmt.Sprintf("request body exceeds %d bytes", maxBytes), nil)
	}
	if len(data) == 0 {
		return apperrors.NewValidationError("request body is required")
	}

	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.NewMalformedInputError("request body is not valid JSON", err)
	}
	if dec.More() {
		return apperrors.NewMalformedInputError("trailing data after request body", nil)
	}
	return v.Struct(dst)
}

// Struct validates dst's tags.
func (v *Validator) Struct(dst interface{}) error {
	err := v.validate.Struct(dst)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.NewValidationError(err.Error())
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return apperrors.NewValidationError(strings.Join(msgs, "; "))
}

func formatFieldError(err validator.FieldError) string {
	field := err.Field()
	param := err.Param()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, param)
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, param)
	case "eq":
		return fmt.Sprintf("%s must be %s", field, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}
