package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/splax/pado/internal/domain"
)

type sample struct {
	Name string `validate:"required,max=5"`
	Port int    `validate:"min=1,max=65535"`
	JSON string `validate:"omitempty,json"`
}

func TestStructReportsFields(t *testing.T) {
	err := Struct(sample{Name: "too-long-name", Port: 0, JSON: "{"})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	for _, field := range []string{"Name", "Port", "JSON"} {
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("expected %s in %q", field, err.Error())
		}
	}
	if err := Struct(sample{Name: "ok", Port: 80, JSON: `{"a":1}`}); err != nil {
		t.Fatalf("expected valid sample, got %v", err)
	}
}

func TestIDNormalizesAndRejects(t *testing.T) {
	id := uuid.NewString()
	got, err := ID("project", "  "+strings.ToUpper(id)+" ")
	if err != nil {
		t.Fatalf("id: %v", err)
	}
	if got != id {
		t.Fatalf("expected %s, got %s", id, got)
	}
	if _, err := ID("project", "not-a-uuid"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for malformed id, got %v", err)
	}
}

func TestCallerRequiresIdentity(t *testing.T) {
	if err := Caller(domain.Caller{UserID: " "}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if err := Caller(domain.Caller{UserID: "u-1"}); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
