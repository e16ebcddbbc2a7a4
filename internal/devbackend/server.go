package devbackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"storefront/internal/ratelimit"
	"storefront/internal/util"
	"storefront/pkg/domain"
	"storefront/pkg/validation"
)

// Config wires the server's dependencies.
type Config struct {
	Store  *Store
	Tokens *Tokens
	// LoginLimiter throttles POST /auth/login per client address and email.
	// Nil disables it.
	LoginLimiter ratelimit.Limiter
	// TrustedProxies may set X-Forwarded-For for the limiter key and
	// X-Forwarded-Proto for HSTS.
	TrustedProxies util.TrustedProxies
	// Logger receives access logs; nil means slog.Default().
	Logger *slog.Logger
}

// Server exposes the storefront REST API.
type Server struct {
	store        *Store
	tokens       *Tokens
	loginLimiter ratelimit.Limiter
	trusted      util.TrustedProxies
	logger       *slog.Logger
	router       chi.Router
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil || cfg.Tokens == nil {
		return nil, errors.New("devbackend requires a store and a token issuer")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:        cfg.Store,
		tokens:       cfg.Tokens,
		loginLimiter: cfg.LoginLimiter,
		trusted:      cfg.TrustedProxies,
		logger:       logger.With("service", "devapi"),
		router:       chi.NewRouter(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(s.logger, util.WithSecurityHeaders(s.trusted, util.WithCORS(s.router))))
}

// annotateRoute logs the matched route template, known once routing is done.
func annotateRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				util.AnnotateRequest(r.Context(), "route", pattern)
			}
		}
	})
}

func (s *Server) routes() {
	r := s.router
	r.Use(annotateRoute)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	r.Get("/healthz", s.handleHealth)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Get("/profile", s.withUser(s.handleProfile))
		r.Put("/profile", s.withUser(s.handleUpdateProfile))
	})
	r.Route("/products", func(r chi.Router) {
		r.Get("/", s.handleListProducts)
		r.Get("/{id}", s.handleGetProduct)
	})
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", s.withUser(s.handleCreateOrder))
		r.Get("/", s.withUser(s.handleListOrders))
		r.Get("/{id}", s.withUser(s.handleGetOrder))
		r.Put("/{id}/status", s.withUser(s.handleUpdateOrderStatus))
		r.Delete("/{id}", s.withUser(s.handleDeleteOrder))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, "ok", map[string]string{"status": "ok"})
}

type userKey struct{}

func (s *Server) withUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Access token required")
			return
		}
		id, err := s.tokens.Verify(token)
		if err != nil {
			util.LoggerFromContext(r.Context()).Debug("token rejected", "err", err)
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		user, err := s.store.User(id)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		util.AnnotateRequest(r.Context(), "user_id", user.ID)
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	}
}

func currentUser(r *http.Request) domain.User {
	user, _ := r.Context().Value(userKey{}).(domain.User)
	return user
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var form validation.RegisterForm
	if !decodeAndValidate(w, r, &form) {
		return
	}
	user, err := s.store.CreateUser(form.Email, form.Password, form.Name)
	if errors.Is(err, ErrEmailExists) {
		writeError(w, http.StatusConflict, "Email already exists")
		return
	}
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("register failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Registration failed")
		return
	}
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Registration failed")
		return
	}
	writeData(w, http.StatusCreated, "User registered successfully", map[string]any{"user": user, "token": token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form validation.LoginForm
	if !decodeAndValidate(w, r, &form) {
		return
	}
	ip := util.ClientIP(r, s.trusted)
	if s.loginLimiter != nil && !s.loginLimiter.Allow(r.Context(), "login|"+ip+"|"+normalizeEmail(form.Email)) {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "Too many login attempts")
		return
	}
	user, err := s.store.Authenticate(form.Email, form.Password)
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("login rejected", "ip", ip, "email", normalizeEmail(form.Email))
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}
	writeData(w, http.StatusOK, "Login successful", map[string]any{"user": user, "token": token})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, "Profile retrieved", map[string]any{"user": currentUser(r)})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var update domain.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	user, err := s.store.UpdateUser(currentUser(r).ID, update)
	switch {
	case errors.Is(err, ErrEmailExists):
		writeError(w, http.StatusConflict, "Email already exists")
		return
	case err != nil:
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	writeData(w, http.StatusOK, "Profile updated", map[string]any{"user": user})
}

func (s *Server) handleListProducts(w http.ResponseWriter, _ *http.Request) {
	products := s.store.Products()
	writeData(w, http.StatusOK, "Products retrieved", map[string]any{"products": products, "count": len(products)})
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	product, err := s.store.Product(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Product not found")
		return
	}
	writeData(w, http.StatusOK, "Product retrieved", map[string]any{"product": product})
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var form validation.OrderForm
	if !decodeAndValidate(w, r, &form) {
		return
	}
	lines := make([]domain.OrderLine, 0, len(form.Items))
	for _, item := range form.Items {
		lines = append(lines, domain.OrderLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	order, err := s.store.CreateOrder(currentUser(r).ID, lines)
	var stockErr *StockError
	switch {
	case errors.As(err, &stockErr):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Insufficient stock for product %s", stockErr.ProductName))
		return
	case errors.Is(err, ErrProductNotFound):
		writeError(w, http.StatusBadRequest, "Product not found")
		return
	case err != nil:
		util.LoggerFromContext(r.Context()).Error("create order failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to create order")
		return
	}
	util.LoggerFromContext(r.Context()).Info("order created", "order_id", order.ID, "total", order.TotalAmount)
	writeData(w, http.StatusCreated, "Order created successfully", map[string]any{"order": order})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.store.Orders(currentUser(r).ID)
	writeData(w, http.StatusOK, "Orders retrieved", map[string]any{"orders": orders, "count": len(orders)})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	order, err := s.store.Order(currentUser(r).ID, id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Order not found")
		return
	}
	writeData(w, http.StatusOK, "Order retrieved", map[string]any{"order": order})
}

type statusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (s *Server) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status")
		return
	}
	if err := s.store.UpdateOrderStatus(currentUser(r).ID, id, req.Status); err != nil {
		writeError(w, http.StatusNotFound, "Order not found")
		return
	}
	writeData(w, http.StatusOK, "Order status updated", map[string]any{"changes": 1})
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteOrder(currentUser(r).ID, id); err != nil {
		writeError(w, http.StatusNotFound, "Order not found")
		return
	}
	writeData(w, http.StatusOK, "Order deleted", map[string]any{"changes": 1})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return 0, false
	}
	return id, true
}

// decodeAndValidate writes a 400 and returns false when the body is not
// valid JSON or fails field validation.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, form any) bool {
	if err := json.NewDecoder(r.Body).Decode(form); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	if err := validation.Validate(form); err != nil {
		details := []string{err.Error()}
		if fe, ok := validation.AsErrors(err); ok {
			details = details[:0]
			for field, msg := range fe {
				details = append(details, field+": "+msg)
			}
			sort.Strings(details)
		}
		writeError(w, http.StatusBadRequest, "Validation failed", details...)
		return false
	}
	return true
}

type envelope struct {
	Message string     `json:"message"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string, details ...string) {
	writeJSON(w, status, envelope{
		Message: message,
		Error:   &errorBody{Message: message, Details: details},
	})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
