package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"storefront/internal/metrics"
	"storefront/internal/util"
	"storefront/pkg/domain"
)

const defaultTimeout = 10 * time.Second

// Client calls the storefront backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    metrics.Recorder
}

// Options tunes a Client. Zero values pick defaults.
type Options struct {
	Timeout time.Duration
	// RequestsPerSecond paces outbound calls; zero disables pacing.
	RequestsPerSecond float64
	Burst             int
	Metrics           metrics.Recorder
	HTTPClient        *http.Client
}

// NewClient constructs a backend client.
func NewClient(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		limiter:    limiter,
		metrics:    rec,
	}
}

func (c *Client) Login(ctx context.Context, creds domain.LoginCredentials) (domain.User, string, error) {
	var resp authResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", "/auth/login", "", creds, &resp); err != nil {
		return domain.User{}, "", err
	}
	return resp.User, resp.Token, nil
}

func (c *Client) Register(ctx context.Context, creds domain.RegisterCredentials) (domain.User, string, error) {
	var resp authResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/register", "/auth/register", "", creds, &resp); err != nil {
		return domain.User{}, "", err
	}
	return resp.User, resp.Token, nil
}

func (c *Client) Profile(ctx context.Context, token string) (domain.User, error) {
	var resp userResponse
	if err := c.doJSON(ctx, http.MethodGet, "/auth/profile", "/auth/profile", token, nil, &resp); err != nil {
		return domain.User{}, err
	}
	return resp.User, nil
}

func (c *Client) UpdateProfile(ctx context.Context, token string, update domain.ProfileUpdate) (domain.User, error) {
	var resp userResponse
	if err := c.doJSON(ctx, http.MethodPut, "/auth/profile", "/auth/profile", token, update, &resp); err != nil {
		return domain.User{}, err
	}
	return resp.User, nil
}

func (c *Client) ListProducts(ctx context.Context, token string) ([]domain.Product, error) {
	var resp productsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/products", "/products", token, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Products == nil {
		resp.Products = []domain.Product{}
	}
	return resp.Products, nil
}

func (c *Client) GetProduct(ctx context.Context, token string, id int64) (domain.Product, error) {
	var resp productResponse
	path := fmt.Sprintf("/products/%d", id)
	if err := c.doJSON(ctx, http.MethodGet, path, "/products/{id}", token, nil, &resp); err != nil {
		return domain.Product{}, err
	}
	return resp.Product, nil
}

func (c *Client) CreateOrder(ctx context.Context, token string, req domain.CreateOrderRequest) (domain.Order, error) {
	var resp orderResponse
	if err := c.doJSON(ctx, http.MethodPost, "/orders", "/orders", token, req, &resp); err != nil {
		return domain.Order{}, err
	}
	return resp.Order, nil
}

func (c *Client) ListOrders(ctx context.Context, token string) ([]domain.Order, error) {
	var resp ordersResponse
	if err := c.doJSON(ctx, http.MethodGet, "/orders", "/orders", token, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Orders == nil {
		resp.Orders = []domain.Order{}
	}
	return resp.Orders, nil
}

func (c *Client) GetOrder(ctx context.Context, token string, id int64) (domain.Order, error) {
	var resp orderResponse
	path := fmt.Sprintf("/orders/%d", id)
	if err := c.doJSON(ctx, http.MethodGet, path, "/orders/{id}", token, nil, &resp); err != nil {
		return domain.Order{}, err
	}
	return resp.Order, nil
}

func (c *Client) UpdateOrderStatus(ctx context.Context, token string, id int64, status domain.OrderStatus) error {
	payload := map[string]string{"status": string(status)}
	path := fmt.Sprintf("/orders/%d/status", id)
	return c.doJSON(ctx, http.MethodPut, path, "/orders/{id}/status", token, payload, nil)
}

func (c *Client) DeleteOrder(ctx context.Context, token string, id int64) error {
	path := fmt.Sprintf("/orders/%d", id)
	return c.doJSON(ctx, http.MethodDelete, path, "/orders/{id}", token, nil, nil)
}

// doJSON performs one call and unwraps the {message, data, error} envelope.
// route is the templated path used as the metrics label.
func (c *Client) doJSON(ctx context.Context, method, path, route, token string, payload any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	requestID := util.OutgoingRequestID(ctx)
	req.Header.Set(util.RequestIDHeader, requestID)

	endpoint := method + " " + route
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(endpoint, 0, time.Since(start))
		return err
	}
	defer resp.Body.Close()
	c.metrics.ObserveRequest(endpoint, resp.StatusCode, time.Since(start))

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)
	if decodeErr != nil && !errors.Is(decodeErr, io.EOF) {
		if resp.StatusCode >= 400 {
			return &APIError{Status: resp.StatusCode, RequestID: requestID}
		}
		return fmt.Errorf("decode %s response: %w", endpoint, decodeErr)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, RequestID: requestID}
		if env.Error != nil {
			apiErr.Message = strings.TrimSpace(env.Error.Message)
			apiErr.Details = env.Error.Details
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(env.Message)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%s: %w", endpoint, ErrEmptyResponse)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", endpoint, err)
	}
	return nil
}

type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *errorBody      `json:"error"`
}

type errorBody struct {
	Message string   `json:"message"`
	Details []string `json:"details"`
}

type authResponse struct {
	User  domain.User `json:"user"`
	Token string      `json:"token"`
}

type userResponse struct {
	User domain.User `json:"user"`
}

type productsResponse struct {
	Products []domain.Product `json:"products"`
	Count    int              `json:"count"`
}

type productResponse struct {
	Product domain.Product `json:"product"`
}

type ordersResponse struct {
	Orders []domain.Order `json:"orders"`
	Count  int            `json:"count"`
}

type orderResponse struct {
	Order domain.Order `json:"order"`
}
