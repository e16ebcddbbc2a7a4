package devbackend

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
	"storefront/pkg/domain"
)

func newTestStore(t *testing.T) (*Store, domain.User) {
	t.Helper()
	s := NewStore()
	s.SetBcryptCost(bcrypt.MinCost)
	user, err := s.CreateUser("Ana@Example.com", "secret1", "Ana")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	for _, p := range []domain.Product{
		{Name: "Kopi", Price: "10000", Stock: 5},
		{Name: "Teh", Price: "2500.50", Stock: 2},
	} {
		if _, err := s.AddProduct(p); err != nil {
			t.Fatalf("add product: %v", err)
		}
	}
	return s, user
}

func TestUsers(t *testing.T) {
	s, user := newTestStore(t)
	if user.Email != "ana@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if _, err := s.CreateUser("ana@example.com", "other12", "Dup"); !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
	if _, err := s.Authenticate("ANA@example.com", "secret1"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := s.Authenticate("ana@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	updated, err := s.UpdateUser(user.ID, domain.ProfileUpdate{Name: "Ana Maria", Email: "maria@example.com"})
	if err != nil || updated.Name != "Ana Maria" {
		t.Fatalf("update = %+v, %v", updated, err)
	}
	if _, err := s.Authenticate("maria@example.com", "secret1"); err != nil {
		t.Fatalf("login with new email: %v", err)
	}
}

func TestCreateOrderComputesTotalAndDecrementsStock(t *testing.T) {
	s, user := newTestStore(t)
	order, err := s.CreateOrder(user.ID, []domain.OrderLine{{ProductID: 1, Quantity: 3}, {ProductID: 2, Quantity: 2}})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.TotalAmount != "35001.00" {
		t.Fatalf("total = %s", order.TotalAmount)
	}
	if order.Status != domain.OrderPending || len(order.Items) != 2 || order.Items[0].Price != "10000.00" {
		t.Fatalf("unexpected order: %+v", order)
	}
	if p, _ := s.Product(1); p.Stock != 2 {
		t.Fatalf("stock = %d", p.Stock)
	}
	if p, _ := s.Product(2); p.Stock != 0 {
		t.Fatalf("stock = %d", p.Stock)
	}
}

func TestCreateOrderIsAllOrNothing(t *testing.T) {
	s, user := newTestStore(t)
	_, err := s.CreateOrder(user.ID, []domain.OrderLine{{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 3}})
	var stockErr *StockError
	if !errors.As(err, &stockErr) || stockErr.ProductName != "Teh" || stockErr.Available != 2 {
		t.Fatalf("expected stock error for Teh, got %v", err)
	}
	if p, _ := s.Product(1); p.Stock != 5 {
		t.Fatalf("failed order changed stock of another line: %d", p.Stock)
	}
	if len(s.Orders(user.ID)) != 0 {
		t.Fatalf("failed order was recorded")
	}

	// Duplicate lines are merged before the stock check.
	_, err = s.CreateOrder(user.ID, []domain.OrderLine{{ProductID: 2, Quantity: 2}, {ProductID: 2, Quantity: 1}})
	if !errors.As(err, &stockErr) {
		t.Fatalf("merged lines should exceed stock, got %v", err)
	}
	if _, err := s.CreateOrder(user.ID, []domain.OrderLine{{ProductID: 99, Quantity: 1}}); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestOrdersAreScopedAndNewestFirst(t *testing.T) {
	s, user := newTestStore(t)
	other, _ := s.CreateUser("budi@example.com", "secret1", "Budi")
	first, _ := s.CreateOrder(user.ID, []domain.OrderLine{{ProductID: 1, Quantity: 1}})
	second, _ := s.CreateOrder(user.ID, []domain.OrderLine{{ProductID: 1, Quantity: 1}})
	_, _ = s.CreateOrder(other.ID, []domain.OrderLine{{ProductID: 1, Quantity: 1}})

	orders := s.Orders(user.ID)
	if len(orders) != 2 || orders[0].ID != second.ID || orders[1].ID != first.ID {
		t.Fatalf("unexpected orders: %+v", orders)
	}
	if _, err := s.Order(other.ID, first.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("orders must not leak across users")
	}
	if err := s.DeleteOrder(other.ID, first.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("delete must be scoped")
	}
	if err := s.DeleteOrder(user.ID, first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(s.Orders(user.ID)) != 1 {
		t.Fatalf("order not deleted")
	}
}

func TestCancelRestocks(t *testing.T) {
	s, user := newTestStore(t)
	order, _ := s.CreateOrder(user.ID, []domain.OrderLine{{ProductID: 1, Quantity: 4}})
	if err := s.UpdateOrderStatus(user.ID, order.ID, domain.OrderCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if p, _ := s.Product(1); p.Stock != 5 {
		t.Fatalf("stock after cancel = %d", p.Stock)
	}
	// Cancelling twice must not restock twice.
	_ = s.UpdateOrderStatus(user.ID, order.ID, domain.OrderCancelled)
	if p, _ := s.Product(1); p.Stock != 5 {
		t.Fatalf("stock after second cancel = %d", p.Stock)
	}
	got, _ := s.Order(user.ID, order.ID)
	if got.Status != domain.OrderCancelled {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestAddProductRejectsBadPrice(t *testing.T) {
	s := NewStore()
	if _, err := s.AddProduct(domain.Product{Name: "x", Price: "abc"}); err == nil {
		t.Fatalf("expected error")
	}
	if err := s.SetStock(42, 1); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}
