package shell

import (
	"fmt"

	"storefront/pkg/domain"
	"storefront/pkg/money"
)

func (s *Shell) printProducts(products []domain.Product, errMsg string) {
	if errMsg != "" {
		s.printf("Error: %s\n", errMsg)
	}
	if len(products) == 0 {
		s.printf("No products found.\n")
		return
	}
	for _, p := range products {
		stock := "out of stock"
		if p.Stock > 0 {
			stock = fmt.Sprintf("stock %d", p.Stock)
		}
		s.printf("  #%-4d %-28s %18s  %s\n", p.ID, p.Name, money.FormatPrice(p.Price), stock)
	}
}

func (s *Shell) printOrders(orders []domain.Order, errMsg string) {
	if errMsg != "" {
		s.printf("Error: %s\n", errMsg)
	}
	if len(orders) == 0 {
		s.printf("No orders yet.\n")
		return
	}
	for _, o := range orders {
		s.printOrder(o)
	}
}

func (s *Shell) printOrder(o domain.Order) {
	s.printf("  Order #%-5d %-11s %18s  %s\n", o.ID, statusLabel(o.Status), money.FormatPrice(o.TotalAmount), formatDate(o.CreatedAt, s.loc))
}

func (s *Shell) printCart() {
	lines := s.app.Cart().Lines()
	if len(lines) == 0 {
		s.printf("Your cart is empty.\n")
		return
	}
	for _, l := range lines {
		subtotal := "?"
		if d, err := l.Subtotal(); err == nil {
			subtotal = money.FormatIDR(d)
		}
		s.printf("  #%-4d %-28s x%-3d %18s\n", l.Product.ID, l.Product.Name, l.Quantity, subtotal)
	}
	total, err := s.app.Cart().Total()
	if err != nil {
		s.printf("Total unavailable: %v\n", err)
		return
	}
	s.printf("  Total (%d items): %s\n", s.app.Cart().ItemCount(), money.FormatIDR(total))
}
