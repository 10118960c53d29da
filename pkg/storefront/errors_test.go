package storefront

import (
	"errors"
	"fmt"
	"testing"
)

func TestOperationErrorFormatting(test *testing.T) {
	test.Parallel()

	wrapped := WrapError("purchase", "item", "reserve", ErrReservationConflict)
	want := "purchase.item.reserve: reservation conflict"
	if wrapped.Error() != want {
		test.Fatalf("expected %q, got %q", want, wrapped.Error())
	}
	if !errors.Is(wrapped, ErrReservationConflict) {
		test.Fatal("wrapped error must match its sentinel")
	}

	var operationError *OperationError
	if !errors.As(wrapped, &operationError) {
		test.Fatalf("expected *OperationError, got %T", wrapped)
	}
	if operationError.Operation != "purchase" || operationError.Subject != "item" || operationError.Code != "reserve" {
		test.Fatalf("unexpected fields %+v", operationError)
	}
}

func TestWrapErrorNilPassthrough(test *testing.T) {
	test.Parallel()

	if err := WrapError("purchase", "item", "reserve", nil); err != nil {
		test.Fatalf("expected nil for nil cause, got %v", err)
	}
}

func TestWrapErrorKeepsChains(test *testing.T) {
	test.Parallel()

	cause := fmt.Errorf("driver says: %w", ErrOrderClosed)
	wrapped := WrapError("confirm_paid", "order", "update_status", cause)
	if !errors.Is(wrapped, ErrOrderClosed) {
		test.Fatal("wrapping must preserve the sentinel chain")
	}
}
