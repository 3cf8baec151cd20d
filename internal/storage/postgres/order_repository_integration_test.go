package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestOrderRepository_PostgresCreateGetListAndSave(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	order1 := sampleOrder(t, "order-1", "user-1", now.Add(-2*time.Minute))
	order2 := sampleOrder(t, "order-2", "user-1", now.Add(-time.Minute))

	if err := repo.Create(ctx, order1); err != nil {
		t.Fatalf("create order1: %v", err)
	}
	if err := repo.Create(ctx, order2); err != nil {
		t.Fatalf("create order2: %v", err)
	}

	got, err := repo.Get(ctx, order1.ID)
	if err != nil {
		t.Fatalf("get order1: %v", err)
	}
	if got.ID != order1.ID || got.UserID != order1.UserID || got.Status != order1.Status {
		t.Fatalf("unexpected order payload: %+v", got)
	}
	if !got.SameLines(order1) || !got.Total.Equal(order1.Total) {
		t.Fatalf("lines or total changed after round trip: %+v", got)
	}
	if !got.CreatedAt.Equal(order1.CreatedAt) {
		t.Fatalf("created_at changed: got=%s want=%s", got.CreatedAt, order1.CreatedAt)
	}

	listed, err := repo.ListByUser(ctx, "user-1", 1)
	if err != nil {
		t.Fatalf("list by user with limit: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != order2.ID {
		t.Fatalf("unexpected list result with limit: %+v", listed)
	}

	interval, err := domain.NewInterval(order1.CreatedAt, order1.CreatedAt)
	if err != nil {
		t.Fatalf("interval: %v", err)
	}
	byInterval, err := repo.ListByInterval(ctx, interval)
	if err != nil {
		t.Fatalf("list by interval: %v", err)
	}
	if len(byInterval) != 1 || byInterval[0].ID != order1.ID || len(byInterval[0].Lines) != 1 {
		t.Fatalf("expected inclusive bounds to match order1: %+v", byInterval)
	}

	got.Status = domain.OrderStatusPaid
	got.UpdatedAt = now.Add(time.Minute)
	if err := repo.Save(ctx, got); err != nil {
		t.Fatalf("save order: %v", err)
	}

	updated, err := repo.Get(ctx, order1.ID)
	if err != nil {
		t.Fatalf("get updated order: %v", err)
	}
	if updated.Status != domain.OrderStatusPaid {
		t.Fatalf("unexpected status after save: %s", updated.Status)
	}
	if updated.Version != got.Version+1 {
		t.Fatalf("unexpected version after save: got=%d want=%d", updated.Version, got.Version+1)
	}

	paid, err := repo.ListByStatus(ctx, domain.OrderStatusPaid)
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(paid) != 1 || paid[0].ID != order1.ID {
		t.Fatalf("unexpected paid orders: %+v", paid)
	}
}

func TestOrderRepository_PostgresErrors(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	base := sampleOrder(t, "order-errors", "user-2", now)

	if _, err := repo.Get(ctx, "missing-order"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	if err := repo.Save(ctx, base); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound on save missing, got %v", err)
	}

	if err := repo.Create(ctx, base); err != nil {
		t.Fatalf("create base order: %v", err)
	}
	if err := repo.Create(ctx, base); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected ErrOrderVersionConflict on duplicate create, got %v", err)
	}

	stale := base
	stale.Status = domain.OrderStatusCancelled
	stale.UpdatedAt = now.Add(time.Minute)
	stale.Version = 42
	if err := repo.Save(ctx, stale); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected ErrOrderVersionConflict on stale save, got %v", err)
	}
}

func TestPgErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		unique     bool
		foreignKey bool
	}{
		{name: "unique", err: &pgconn.PgError{Code: "23505"}, unique: true},
		{name: "foreign key", err: &pgconn.PgError{Code: "23503"}, foreignKey: true},
		{name: "wrapped foreign key", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23503"}), foreignKey: true},
		{name: "other code", err: &pgconn.PgError{Code: "22001"}},
		{name: "plain error", err: errors.New("plain error")},
	}
	for _, tt := range tests {
		if got := isUniqueViolation(tt.err); got != tt.unique {
			t.Errorf("%s: isUniqueViolation = %v, want %v", tt.name, got, tt.unique)
		}
		if got := isForeignKeyViolation(tt.err); got != tt.foreignKey {
			t.Errorf("%s: isForeignKeyViolation = %v, want %v", tt.name, got, tt.foreignKey)
		}
	}
}

func sampleOrder(t *testing.T, id domain.OrderID, user domain.UserID, createdAt time.Time) domain.Order {
	t.Helper()

	product := domain.NewProductType("Double choc", domain.MoneyFromFloat(1.2, "EUR"), domain.MetricUnit)
	product.ID = domain.ProductID(string(id) + "-product")
	line, err := domain.NewOrderLine(product, domain.NewQuantity(decimal.NewFromInt(2), domain.MetricUnit))
	if err != nil {
		t.Fatalf("new line: %v", err)
	}
	line.ID = domain.OrderLineID(string(id) + "-line-1")
	line.CreatedAt = createdAt

	order := domain.NewOrder(user, domain.PaymentMethodCreditCard)
	order.ID = id
	order.CreatedAt = createdAt
	order.UpdatedAt = createdAt
	if err := order.Add(line); err != nil {
		t.Fatalf("add line: %v", err)
	}
	return order
}
