// Package devbackend is an in-memory implementation of the storefront REST
// API. It backs the devapi service and the shop's end-to-end tests, and it
// is authoritative for stock: an order either decrements every line's stock
// or fails without changing anything.
package devbackend

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"storefront/pkg/domain"
	"storefront/pkg/money"
)

var (
	ErrEmailExists        = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrProductNotFound    = errors.New("product not found")
	ErrOrderNotFound      = errors.New("order not found")
)

// StockError reports a line the backend could not fulfil.
type StockError struct {
	ProductName string
	Available   int
	Requested   int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: %d available, %d requested", e.ProductName, e.Available, e.Requested)
}

type userRecord struct {
	user         domain.User
	passwordHash []byte
}

// Store holds users, products and orders behind one lock.
type Store struct {
	mu         sync.Mutex
	now        func() time.Time
	bcryptCost int

	users       map[int64]*userRecord
	byEmail     map[string]int64
	products    map[int64]*domain.Product
	orders      map[int64]*domain.Order
	nextUser    int64
	nextProduct int64
	nextOrder   int64
	nextItem    int64
}

// NewStore builds an empty store.
func NewStore() *Store {
	return &Store{
		now:        time.Now,
		bcryptCost: bcrypt.DefaultCost,
		users:      make(map[int64]*userRecord),
		byEmail:    make(map[string]int64),
		products:   make(map[int64]*domain.Product),
		orders:     make(map[int64]*domain.Order),
	}
}

// SetBcryptCost lowers hashing cost, for tests.
func (s *Store) SetBcryptCost(cost int) {
	s.mu.Lock()
	s.bcryptCost = cost
	s.mu.Unlock()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser registers an account with a bcrypt-hashed password.
func (s *Store) CreateUser(email, password, name string) (domain.User, error) {
	email = normalizeEmail(email)
	s.mu.Lock()
	cost := s.bcryptCost
	_, taken := s.byEmail[email]
	s.mu.Unlock()
	if taken {
		return domain.User{}, ErrEmailExists
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[email]; taken {
		return domain.User{}, ErrEmailExists
	}
	s.nextUser++
	user := domain.User{ID: s.nextUser, Email: email, Name: strings.TrimSpace(name), CreatedAt: s.timestamp()}
	s.users[user.ID] = &userRecord{user: user, passwordHash: hash}
	s.byEmail[email] = user.ID
	return user, nil
}

// Authenticate checks email and password.
func (s *Store) Authenticate(email, password string) (domain.User, error) {
	s.mu.Lock()
	id, ok := s.byEmail[normalizeEmail(email)]
	var rec userRecord
	if ok {
		rec = *s.users[id]
	}
	s.mu.Unlock()
	if !ok {
		return domain.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(rec.passwordHash, []byte(password)); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return rec.user, nil
}

func (s *Store) User(id int64) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id]
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return rec.user, nil
}

// UpdateUser changes the name and/or email of an account.
func (s *Store) UpdateUser(id int64, update domain.ProfileUpdate) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id]
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	if name := strings.TrimSpace(update.Name); name != "" {
		rec.user.Name = name
	}
	if email := normalizeEmail(update.Email); email != "" && email != rec.user.Email {
		if _, taken := s.byEmail[email]; taken {
			return domain.User{}, ErrEmailExists
		}
		delete(s.byEmail, rec.user.Email)
		s.byEmail[email] = id
		rec.user.Email = email
	}
	return rec.user, nil
}

// AddProduct inserts a product. The price must be a decimal string.
func (s *Store) AddProduct(p domain.Product) (domain.Product, error) {
	price, err := money.Parse(p.Price)
	if err != nil {
		return domain.Product{}, err
	}
	if p.Stock < 0 {
		return domain.Product{}, fmt.Errorf("stock must not be negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextProduct++
	p.ID = s.nextProduct
	p.Price = money.String(price)
	p.CreatedAt = s.timestamp()
	p.UpdatedAt = p.CreatedAt
	s.products[p.ID] = &p
	return p, nil
}

// SetStock overwrites a product's stock, standing in for purchases made
// elsewhere.
func (s *Store) SetStock(id int64, stock int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return ErrProductNotFound
	}
	p.Stock = stock
	p.UpdatedAt = s.timestamp()
	return nil
}

// Products returns all products ordered by id.
func (s *Store) Products() []domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Product(id int64) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, ErrProductNotFound
	}
	return *p, nil
}

// CreateOrder checks every line against current stock and, only if all
// fit, decrements stock and records the order with a server-computed total.
// Lines for the same product are merged.
func (s *Store) CreateOrder(userID int64, lines []domain.OrderLine) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return domain.Order{}, ErrUserNotFound
	}

	merged := make([]domain.OrderLine, 0, len(lines))
	index := make(map[int64]int, len(lines))
	for _, l := range lines {
		if i, ok := index[l.ProductID]; ok {
			merged[i].Quantity += l.Quantity
			continue
		}
		index[l.ProductID] = len(merged)
		merged = append(merged, l)
	}

	total := decimal.Zero
	items := make([]domain.OrderItem, 0, len(merged))
	for _, l := range merged {
		p, ok := s.products[l.ProductID]
		if !ok {
			return domain.Order{}, ErrProductNotFound
		}
		if l.Quantity > p.Stock {
			return domain.Order{}, &StockError{ProductName: p.Name, Available: p.Stock, Requested: l.Quantity}
		}
		sub, err := money.LineTotal(p.Price, l.Quantity)
		if err != nil {
			return domain.Order{}, err
		}
		total = total.Add(sub)
		items = append(items, domain.OrderItem{
			ProductID:   p.ID,
			Quantity:    l.Quantity,
			Price:       p.Price,
			ProductName: p.Name,
		})
	}

	stamp := s.timestamp()
	for _, l := range merged {
		p := s.products[l.ProductID]
		p.Stock -= l.Quantity
		p.UpdatedAt = stamp
	}
	for i := range items {
		s.nextItem++
		items[i].ID = s.nextItem
	}
	s.nextOrder++
	order := &domain.Order{
		ID:          s.nextOrder,
		UserID:      userID,
		TotalAmount: money.String(total),
		Status:      domain.OrderPending,
		CreatedAt:   stamp,
		UpdatedAt:   stamp,
		Items:       items,
	}
	s.orders[order.ID] = order
	return cloneOrder(order), nil
}

// Orders lists a user's orders, newest first.
func (s *Store) Orders(userID int64) []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Order, 0)
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *Store) Order(userID, id int64) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.UserID != userID {
		return domain.Order{}, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

// UpdateOrderStatus sets a new status. Cancelling a pending or processing
// order puts its stock back.
func (s *Store) UpdateOrderStatus(userID, id int64, status domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.UserID != userID {
		return ErrOrderNotFound
	}
	if status == domain.OrderCancelled && o.Status != domain.OrderCancelled && o.Status != domain.OrderCompleted {
		for _, item := range o.Items {
			if p, ok := s.products[item.ProductID]; ok {
				p.Stock += item.Quantity
			}
		}
	}
	o.Status = status
	o.UpdatedAt = s.timestamp()
	return nil
}

func (s *Store) DeleteOrder(userID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.UserID != userID {
		return ErrOrderNotFound
	}
	delete(s.orders, id)
	return nil
}

func cloneOrder(o *domain.Order) domain.Order {
	c := *o
	c.Items = append([]domain.OrderItem(nil), o.Items...)
	return c
}

// SeedProducts is the catalog devapi starts with.
func SeedProducts() []domain.Product {
	return []domain.Product{
		{Name: "Kopi Gayo 250g", Price: "85000.00", Stock: 20, Description: "Arabica beans from Aceh"},
		{Name: "Teh Melati", Price: "20000.00", Stock: 50, Description: "Jasmine tea, 25 bags"},
		{Name: "Gula Aren", Price: "32500.50", Stock: 15, Description: "Palm sugar block"},
		{Name: "Kerupuk Udang", Price: "15000.00", Stock: 0, Description: "Prawn crackers"},
	}
}
