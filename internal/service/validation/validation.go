// Package validation checks request payloads before they reach the store.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/splax/pado/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct validates v against its `validate` tags. Failures wrap
// domain.ErrInvalidArgument and name the offending fields.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%v: %w", err, domain.ErrInvalidArgument)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%s: %w", strings.Join(parts, "; "), domain.ErrInvalidArgument)
}

// ID normalizes an entity id. Ids that are not UUIDs cannot exist, so they
// are reported as not found.
func ID(kind, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%s %q: %w", kind, raw, domain.ErrNotFound)
	}
	return parsed.String(), nil
}

// Caller rejects anonymous callers.
func Caller(caller domain.Caller) error {
	if !caller.Valid() {
		return fmt.Errorf("caller identity required: %w", domain.ErrInvalidArgument)
	}
	return nil
}
