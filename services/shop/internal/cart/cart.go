// Package cart holds the in-memory shopping cart. It never talks to the
// network and is not persisted.
package cart

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"
	"storefront/pkg/domain"
	"storefront/pkg/money"
)

var (
	ErrOutOfStock     = errors.New("product is out of stock")
	ErrUnknownProduct = errors.New("product is not in the cart")
)

// Line is one product-quantity pairing. Quantity is always at least 1.
type Line struct {
	Product  domain.Product
	Quantity int
}

// Subtotal returns quantity x price.
func (l Line) Subtotal() (decimal.Decimal, error) {
	return money.LineTotal(l.Product.Price, l.Quantity)
}

// Cart keeps at most one line per product id, in insertion order.
type Cart struct {
	mu    sync.RWMutex
	lines []Line
}

func New() *Cart {
	return &Cart{}
}

// Add puts one more unit of product in the cart and refreshes the line's
// snapshot. Increments beyond the stock snapshot are ignored. A product with
// no stock is rejected with ErrOutOfStock; an existing line for it is dropped
// since no quantity fits the new snapshot.
func (c *Cart) Add(product domain.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if product.Stock <= 0 {
		if i := c.indexLocked(product.ID); i >= 0 {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
		}
		return ErrOutOfStock
	}
	if i := c.indexLocked(product.ID); i >= 0 {
		line := &c.lines[i]
		line.Product = product
		line.Quantity = min(line.Quantity+1, product.Stock)
		return nil
	}
	c.lines = append(c.lines, Line{Product: product, Quantity: 1})
	return nil
}

// SetQuantity removes the line when quantity <= 0, otherwise clamps quantity
// to [1, stock]. Unknown ids are ignored.
func (c *Cart) SetQuantity(productID int64, quantity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(productID)
	if i < 0 {
		return
	}
	if quantity <= 0 {
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
		return
	}
	if stock := c.lines[i].Product.Stock; quantity > stock {
		quantity = stock
	}
	if quantity < 1 {
		quantity = 1
	}
	c.lines[i].Quantity = quantity
}

// Remove deletes the line for productID if present.
func (c *Cart) Remove(productID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexLocked(productID); i >= 0 {
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
	}
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.mu.Lock()
	c.lines = nil
	c.mu.Unlock()
}

// Deduct takes ordered lines out of the cart: each matching line loses the
// ordered quantity and is dropped once nothing is left. Lines added after
// the order was taken stay.
func (c *Cart) Deduct(ordered []Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range ordered {
		i := c.indexLocked(o.Product.ID)
		if i < 0 {
			continue
		}
		if left := c.lines[i].Quantity - o.Quantity; left >= 1 {
			c.lines[i].Quantity = left
		} else {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
		}
	}
}

// Total sums quantity x price over all lines using decimal arithmetic.
func (c *Cart) Total() (decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := decimal.Zero
	for _, l := range c.lines {
		sub, err := l.Subtotal()
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(sub)
	}
	return total, nil
}

// Lines returns a copy of the lines in insertion order.
func (c *Cart) Lines() []Line {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Line(nil), c.lines...)
}

// Line returns the line for productID.
func (c *Cart) Line(productID int64) (Line, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.indexLocked(productID); i >= 0 {
		return c.lines[i], true
	}
	return Line{}, false
}

// ItemCount is the sum of all quantities.
func (c *Cart) ItemCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, l := range c.lines {
		n += l.Quantity
	}
	return n
}

// Len is the number of distinct products.
func (c *Cart) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.lines)
}

func (c *Cart) indexLocked(productID int64) int {
	for i, l := range c.lines {
		if l.Product.ID == productID {
			return i
		}
	}
	return -1
}
