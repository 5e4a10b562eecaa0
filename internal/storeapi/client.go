package storeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTimeout  = 8 * time.Second
	instrumentation = "finitefield.org/fashion-web/internal/storeapi"
	fakeBaseURL     = "http://storefront.fake/api/"
)

// ErrNotFound is returned when the backend reports a missing resource.
var ErrNotFound = errors.New("storeapi: not found")

// ErrUnauthenticated is returned when the backend rejects the bearer token.
var ErrUnauthenticated = errors.New("storeapi: unauthenticated")

// ErrInvalidID is returned before any request is made when a resource id cannot be used as a path segment.
var ErrInvalidID = errors.New("storeapi: invalid resource id")

// Error describes a non-2xx response or a rejected envelope.
type Error struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("storeapi: backend error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("storeapi: backend error %d: %s", e.Status, e.Message)
}

// Is maps well known statuses onto the package sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrUnauthenticated:
		return e.Status == http.StatusUnauthorized
	}
	return false
}

// HTTPClient matches the subset of http.Client used by Client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to the storefront REST API on behalf of one customer token.
type Client struct {
	base    *url.URL
	http    HTTPClient
	token   string
	tracer  trace.Tracer
	latency metric.Float64Histogram
	fake    *FakeBackend
}

type clientOptions struct {
	httpClient HTTPClient
	timeout    time.Duration
	meter      metric.Meter
	fake       *FakeBackend
}

// Option customises NewClient.
type Option func(*clientOptions)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(c HTTPClient) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

// WithMeter injects the OpenTelemetry meter used for latency metrics.
func WithMeter(m metric.Meter) Option {
	return func(o *clientOptions) { o.meter = m }
}

// WithFakeBackend serves requests from the given in-memory backend when no base URL is set.
func WithFakeBackend(f *FakeBackend) Option {
	return func(o *clientOptions) { o.fake = f }
}

// NewClient constructs an API client. When baseURL is empty, the client serves an in-memory fake backend.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	options := clientOptions{timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&options)
	}

	raw := strings.TrimSpace(baseURL)
	var fake *FakeBackend
	if raw == "" {
		fake = options.fake
		if fake == nil {
			fake = NewFakeBackend()
		}
		raw = fakeBaseURL
		options.httpClient = &http.Client{Transport: handlerTransport{handler: fake.Handler()}}
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("storeapi: parse base URL: %w", err)
	}
	if options.httpClient == nil {
		options.httpClient = &http.Client{Timeout: options.timeout}
	}

	meter := options.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentation)
	}
	latency, err := meter.Float64Histogram(
		"storeapi.request.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds of storefront API calls"),
	)
	if err != nil {
		latency = nil
	}

	return &Client{
		base:    parsed,
		http:    options.httpClient,
		tracer:  otel.Tracer(instrumentation),
		latency: latency,
		fake:    fake,
	}, nil
}

// ForToken returns a copy of the client that forwards the given customer bearer token.
func (c *Client) ForToken(token string) *Client {
	clone := *c
	clone.token = strings.TrimSpace(token)
	return &clone
}

// Fake returns the in-memory backend when the client runs without a base URL.
func (c *Client) Fake() *FakeBackend {
	return c.fake
}

// GetCart retrieves the remote cart of the current customer.
func (c *Client) GetCart(ctx context.Context) (CartResponse, error) {
	var payload CartResponse
	if err := c.call(ctx, http.MethodGet, "cart", nil, &payload); err != nil {
		return CartResponse{}, err
	}
	return payload, nil
}

// AddItem adds quantity units of the product variant to the remote cart.
func (c *Client) AddItem(ctx context.Context, req CartItemRequest) (Result, error) {
	return c.mutateCart(ctx, http.MethodPost, req)
}

// UpdateItem sets the quantity of the remote cart line.
func (c *Client) UpdateItem(ctx context.Context, req CartItemRequest) (Result, error) {
	return c.mutateCart(ctx, http.MethodPut, req)
}

// RemoveItem deletes the remote cart line.
func (c *Client) RemoveItem(ctx context.Context, req CartItemRequest) (Result, error) {
	return c.mutateCart(ctx, http.MethodDelete, req)
}

func (c *Client) mutateCart(ctx context.Context, method string, req CartItemRequest) (Result, error) {
	var payload Result
	if err := c.call(ctx, method, "cart/items", req, &payload); err != nil {
		return Result{}, err
	}
	return payload, nil
}

// GetProduct loads a catalog product including its variants.
func (c *Client) GetProduct(ctx context.Context, productID string) (Product, error) {
	endpoint, err := resourcePath("products", productID)
	if err != nil {
		return Product{}, err
	}
	var payload envelope[*Product]
	if err := c.call(ctx, http.MethodGet, endpoint, nil, &payload); err != nil {
		return Product{}, err
	}
	if !payload.Success || payload.Data == nil || strings.TrimSpace(payload.Data.ID) == "" {
		return Product{}, rejected(http.StatusNotFound, payload.Message)
	}
	return *payload.Data, nil
}

// ListAddresses returns the saved addresses of the customer.
func (c *Client) ListAddresses(ctx context.Context) ([]Address, error) {
	var payload envelope[[]Address]
	if err := c.call(ctx, http.MethodGet, "addresses", nil, &payload); err != nil {
		return nil, err
	}
	if !payload.Success {
		return nil, rejected(http.StatusOK, payload.Message)
	}
	return payload.Data, nil
}

// CreateAddress stores a new address.
func (c *Client) CreateAddress(ctx context.Context, addr Address) (Address, error) {
	return c.writeAddress(ctx, http.MethodPost, "addresses", addr)
}

// UpdateAddress replaces the stored address identified by addr.ID.
func (c *Client) UpdateAddress(ctx context.Context, addr Address) (Address, error) {
	endpoint, err := resourcePath("addresses", addr.ID)
	if err != nil {
		return Address{}, err
	}
	return c.writeAddress(ctx, http.MethodPut, endpoint, addr)
}

// SetDefaultAddress marks the address as the default one.
func (c *Client) SetDefaultAddress(ctx context.Context, addressID string) (Address, error) {
	endpoint, err := resourcePath("addresses", addressID, "default")
	if err != nil {
		return Address{}, err
	}
	return c.writeAddress(ctx, http.MethodPost, endpoint, nil)
}

// DeleteAddress removes the stored address.
func (c *Client) DeleteAddress(ctx context.Context, addressID string) error {
	endpoint, err := resourcePath("addresses", addressID)
	if err != nil {
		return err
	}
	var payload Result
	if err := c.call(ctx, http.MethodDelete, endpoint, nil, &payload); err != nil {
		return err
	}
	if !payload.Success {
		return rejected(http.StatusOK, payload.Message)
	}
	return nil
}

func (c *Client) writeAddress(ctx context.Context, method, endpoint string, body any) (Address, error) {
	var payload envelope[*Address]
	if err := c.call(ctx, method, endpoint, body, &payload); err != nil {
		return Address{}, err
	}
	if !payload.Success || payload.Data == nil {
		return Address{}, rejected(http.StatusOK, payload.Message)
	}
	return *payload.Data, nil
}

// ListConversations returns the support threads of the customer.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var payload envelope[[]Conversation]
	if err := c.call(ctx, http.MethodGet, "conversations", nil, &payload); err != nil {
		return nil, err
	}
	if !payload.Success {
		return nil, rejected(http.StatusOK, payload.Message)
	}
	return payload.Data, nil
}

// ListMessages returns the messages of a conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	endpoint, err := resourcePath("conversations", conversationID, "messages")
	if err != nil {
		return nil, err
	}
	var payload envelope[[]Message]
	if err := c.call(ctx, http.MethodGet, endpoint, nil, &payload); err != nil {
		return nil, err
	}
	if !payload.Success {
		return nil, rejected(http.StatusOK, payload.Message)
	}
	return payload.Data, nil
}

// SendMessage posts a customer message to the conversation.
func (c *Client) SendMessage(ctx context.Context, conversationID, body string) (Message, error) {
	endpoint, err := resourcePath("conversations", conversationID, "messages")
	if err != nil {
		return Message{}, err
	}
	var payload envelope[*Message]
	if err := c.call(ctx, http.MethodPost, endpoint, map[string]string{"body": body}, &payload); err != nil {
		return Message{}, err
	}
	if !payload.Success || payload.Data == nil {
		return Message{}, rejected(http.StatusOK, payload.Message)
	}
	return *payload.Data, nil
}

func (c *Client) call(ctx context.Context, method, endpoint string, body, out any) (err error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "storeapi "+method+" /"+endpoint, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.path", "/"+endpoint),
	)
	status := 0
	defer func() {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		c.recordLatency(ctx, method, endpoint, time.Since(start), err)
	}()

	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("storeapi: request failed: %w", err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	if resp.StatusCode >= 400 {
		return errorFromResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("storeapi: decode %s /%s: %w", method, endpoint, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(payload); err != nil {
			return nil, fmt.Errorf("storeapi: encode payload: %w", err)
		}
		body = &buf
	}
	ref, err := url.Parse(strings.TrimPrefix(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("storeapi: build request: %w", err)
	}
	target := c.base.ResolveReference(ref)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("storeapi: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) recordLatency(ctx context.Context, method, endpoint string, d time.Duration, err error) {
	if c.latency == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.latency.Record(ctx, float64(d.Microseconds())/1000,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("endpoint", endpoint),
			attribute.String("outcome", outcome),
		),
	)
}

func errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	apiErr := &Error{Status: resp.StatusCode}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
			apiErr.Code = strings.TrimSpace(payload.Code)
			apiErr.Message = payload.Message
			return apiErr
		}
		apiErr.Message = strings.TrimSpace(string(body))
		return apiErr
	}
	apiErr.Message = http.StatusText(resp.StatusCode)
	return apiErr
}

// resourcePath joins collection, the escaped id and any fixed suffix into a relative endpoint.
// Ids that are blank, contain a slash or a dot segment never reach the backend.
func resourcePath(collection, id string, suffix ...string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || id == "." || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	parts := append([]string{collection, url.PathEscape(id)}, suffix...)
	return strings.Join(parts, "/"), nil
}

func rejected(status int, message string) error {
	if strings.TrimSpace(message) == "" {
		message = "request rejected"
	}
	return &Error{Status: status, Code: "rejected", Message: message}
}
