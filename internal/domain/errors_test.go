package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "version conflict error",
			err:  ErrOrderVersionConflict,
			want: true,
		},
		{
			name: "wrapped version conflict error",
			err:  errors.Join(ErrOrderVersionConflict, errors.New("additional context")),
			want: true,
		},
		{
			name: "other error",
			err:  ErrOrderNotFound,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsVersionConflict(tt.err)
			if got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPersistenceWrapsCause(t *testing.T) {
	if Persistence("op", nil) != nil {
		t.Fatal("expected nil for nil cause")
	}

	cause := errors.New("connection refused")
	err := Persistence("orders.get", cause)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be preserved, got %v", err)
	}
	if err.Error() != "orders.get: connection refused" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestOrderCompletionFailure(t *testing.T) {
	failure := &OrderCompletionFailure{
		OrderID: "order-1",
		Shortages: []LineShortage{
			{
				Line:      OrderLine{ID: "line-1", ProductID: "p-1"},
				Required:  Units(10),
				Available: Units(1),
				Reason:    ErrInsufficientStock,
			},
		},
	}

	var err error = failure
	if !errors.Is(err, ErrOrderCompletionFailed) {
		t.Fatal("expected errors.Is to match ErrOrderCompletionFailed")
	}
	if errors.Is(err, ErrInvalidState) {
		t.Fatal("completion failure must not look like invalid state")
	}

	var target *OrderCompletionFailure
	if !errors.As(err, &target) {
		t.Fatal("expected errors.As to extract failure")
	}
	if lines := target.Lines(); len(lines) != 1 || lines[0].ID != "line-1" {
		t.Fatalf("unexpected lines %+v", lines)
	}
	if !strings.Contains(err.Error(), "required 10 unit, available 1 unit") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestInvalidArgumentWrapsSentinel(t *testing.T) {
	err := invalidArgument("id %q is empty", "")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if err.Error() != `invalid argument: id "" is empty` {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
