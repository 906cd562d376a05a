package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesByKindNotMessage(t *testing.T) {
	err := Wrap(NotFound, errors.New("row missing"), "sku %q", "WIDGET-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected errors.Is to match ErrNotFound by kind")
	}
	if errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("did not expect match against a different kind")
	}
}

func TestKindOf(t *testing.T) {
	err := New(ConstraintViolation, "qty_received > qty_ordered")
	kind, ok := KindOf(err)
	if !ok || kind != ConstraintViolation {
		t.Fatalf("KindOf = %v, %v; want ConstraintViolation, true", kind, ok)
	}

	if _, ok := KindOf(errors.New("plain")); ok {
		t.Fatalf("KindOf should fail for a non-apperr error")
	}
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("busy")
	err := Wrap(DatabaseBusy, cause, "acquire writer lock")
	if !errors.Is(err, cause) {
		t.Fatalf("expected Unwrap chain to reach the original cause")
	}
	if got := fmt.Sprint(err); got == "" {
		t.Fatalf("Error() produced empty string")
	}
}
