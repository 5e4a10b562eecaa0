package storeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// FakeBackend is an in-memory storefront API used for local development and tests.
// Accounts are keyed by bearer token.
type FakeBackend struct {
	mu            sync.Mutex
	now           func() time.Time
	catalog       map[string]Product
	carts         map[string][]CartItem
	addresses     map[string][]Address
	conversations map[string][]Conversation
	messages      map[string][]Message

	// RejectRemoves makes DELETE /cart/items answer success:false while still deleting the line.
	RejectRemoves bool
}

// NewFakeBackend returns a backend seeded with a small catalog.
func NewFakeBackend() *FakeBackend {
	f := &FakeBackend{
		now:           func() time.Time { return time.Now().UTC() },
		catalog:       make(map[string]Product),
		carts:         make(map[string][]CartItem),
		addresses:     make(map[string][]Address),
		conversations: make(map[string][]Conversation),
		messages:      make(map[string][]Message),
	}
	for _, p := range seedCatalog() {
		f.catalog[p.ID] = p
	}
	return f
}

// PutProduct adds or replaces a catalog product.
func (f *FakeBackend) PutProduct(p Product) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.catalog[p.ID] = p
}

// CartLines returns a copy of the stored cart for the token.
func (f *FakeBackend) CartLines(token string) []CartItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CartItem(nil), f.carts[token]...)
}

// Handler exposes the backend over HTTP.
func (f *FakeBackend) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(f.requireToken)
		r.Get("/cart", f.getCart)
		r.Post("/cart/items", f.addItem)
		r.Put("/cart/items", f.updateItem)
		r.Delete("/cart/items", f.removeItem)
		r.Get("/products/{productID}", f.getProduct)
		r.Get("/addresses", f.listAddresses)
		r.Post("/addresses", f.createAddress)
		r.Put("/addresses/{addressID}", f.updateAddress)
		r.Delete("/addresses/{addressID}", f.deleteAddress)
		r.Post("/addresses/{addressID}/default", f.setDefaultAddress)
		r.Get("/conversations", f.listConversations)
		r.Get("/conversations/{conversationID}/messages", f.listMessages)
		r.Post("/conversations/{conversationID}/messages", f.sendMessage)
	})
	return r
}

type tokenKey struct{}

func (f *FakeBackend) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if !strings.HasPrefix(auth, "Bearer ") || token == "" {
			writeFakeJSON(w, http.StatusUnauthorized, map[string]string{"code": "unauthenticated", "message": "missing bearer token"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tokenKey{}, token)))
	})
}

func account(r *http.Request) string {
	token, _ := r.Context().Value(tokenKey{}).(string)
	return token
}

func (f *FakeBackend) getCart(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	items := append([]CartItem{}, f.carts[account(r)]...)
	f.mu.Unlock()
	writeFakeJSON(w, http.StatusOK, CartResponse{Success: true, Data: &CartData{CartItems: items}})
}

func (f *FakeBackend) decodeCartRequest(w http.ResponseWriter, r *http.Request) (CartItemRequest, bool) {
	var req CartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.ProductID) == "" {
		writeFakeJSON(w, http.StatusBadRequest, map[string]string{"code": "invalid_request", "message": "productId is required"})
		return CartItemRequest{}, false
	}
	return req, true
}

func (f *FakeBackend) addItem(w http.ResponseWriter, r *http.Request) {
	req, ok := f.decodeCartRequest(w, r)
	if !ok {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	product, found := f.catalog[req.ProductID]
	if !found || req.Quantity < 1 {
		writeFakeJSON(w, http.StatusOK, Result{Success: false, Message: "product unavailable"})
		return
	}
	var variant *Variant
	if req.VariantID != "" {
		for i := range product.Variants {
			if product.Variants[i].ID == req.VariantID {
				v := product.Variants[i]
				variant = &v
				break
			}
		}
		if variant == nil {
			writeFakeJSON(w, http.StatusOK, Result{Success: false, Message: "variant unavailable"})
			return
		}
	}

	acct := account(r)
	lines := f.carts[acct]
	if idx := findLine(lines, req.ProductID, req.VariantID); idx >= 0 {
		lines[idx].Quantity += req.Quantity
	} else {
		p := product
		p.Variants = nil
		lines = append(lines, CartItem{ID: ulid.Make().String(), Quantity: req.Quantity, Product: &p, Variant: variant})
	}
	f.carts[acct] = lines
	writeFakeJSON(w, http.StatusOK, Result{Success: true})
}

func (f *FakeBackend) updateItem(w http.ResponseWriter, r *http.Request) {
	req, ok := f.decodeCartRequest(w, r)
	if !ok {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	lines := f.carts[account(r)]
	idx := findLine(lines, req.ProductID, req.VariantID)
	if idx < 0 || req.Quantity < 1 {
		writeFakeJSON(w, http.StatusOK, Result{Success: false, Message: "cart item not found"})
		return
	}
	lines[idx].Quantity = req.Quantity
	writeFakeJSON(w, http.StatusOK, Result{Success: true})
}

func (f *FakeBackend) removeItem(w http.ResponseWriter, r *http.Request) {
	req, ok := f.decodeCartRequest(w, r)
	if !ok {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	acct := account(r)
	lines := f.carts[acct]
	idx := findLine(lines, req.ProductID, req.VariantID)
	if idx < 0 {
		writeFakeJSON(w, http.StatusOK, Result{Success: false, Message: "cart item not found"})
		return
	}
	f.carts[acct] = append(lines[:idx], lines[idx+1:]...)
	if f.RejectRemoves {
		writeFakeJSON(w, http.StatusOK, Result{Success: false, Message: "inconsistent cart state"})
		return
	}
	writeFakeJSON(w, http.StatusOK, Result{Success: true})
}

func (f *FakeBackend) getProduct(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	product, ok := f.catalog[chi.URLParam(r, "productID")]
	f.mu.Unlock()
	if !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]string{"code": "not_found", "message": "product not found"})
		return
	}
	writeFakeJSON(w, http.StatusOK, envelope[*Product]{Success: true, Data: &product})
}

func (f *FakeBackend) listAddresses(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	list := append([]Address{}, f.addresses[account(r)]...)
	f.mu.Unlock()
	writeFakeJSON(w, http.StatusOK, envelope[[]Address]{Success: true, Data: list})
}

func (f *FakeBackend) createAddress(w http.ResponseWriter, r *http.Request) {
	var addr Address
	if err := json.NewDecoder(r.Body).Decode(&addr); err != nil {
		writeFakeJSON(w, http.StatusBadRequest, map[string]string{"code": "invalid_request", "message": "invalid address payload"})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	acct := account(r)
	now := f.now()
	addr.ID = ulid.Make().String()
	addr.CreatedAt = now
	addr.UpdatedAt = now
	list := f.addresses[acct]
	if len(list) == 0 {
		addr.IsDefault = true
	} else if addr.IsDefault {
		for i := range list {
			list[i].IsDefault = false
		}
	}
	f.addresses[acct] = append(list, addr)
	writeFakeJSON(w, http.StatusCreated, envelope[*Address]{Success: true, Data: &addr})
}

func (f *FakeBackend) updateAddress(w http.ResponseWriter, r *http.Request) {
	var addr Address
	if err := json.NewDecoder(r.Body).Decode(&addr); err != nil {
		writeFakeJSON(w, http.StatusBadRequest, map[string]string{"code": "invalid_request", "message": "invalid address payload"})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	list := f.addresses[account(r)]
	id := chi.URLParam(r, "addressID")
	for i := range list {
		if list[i].ID != id {
			continue
		}
		addr.ID = id
		addr.CreatedAt = list[i].CreatedAt
		addr.UpdatedAt = f.now()
		addr.IsDefault = list[i].IsDefault
		list[i] = addr
		writeFakeJSON(w, http.StatusOK, envelope[*Address]{Success: true, Data: &addr})
		return
	}
	writeFakeJSON(w, http.StatusNotFound, map[string]string{"code": "not_found", "message": "address not found"})
}

func (f *FakeBackend) deleteAddress(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	acct := account(r)
	list := f.addresses[acct]
	id := chi.URLParam(r, "addressID")
	for i := range list {
		if list[i].ID != id {
			continue
		}
		wasDefault := list[i].IsDefault
		list = append(list[:i], list[i+1:]...)
		if wasDefault && len(list) > 0 {
			list[0].IsDefault = true
		}
		f.addresses[acct] = list
		writeFakeJSON(w, http.StatusOK, Result{Success: true})
		return
	}
	writeFakeJSON(w, http.StatusNotFound, map[string]string{"code": "not_found", "message": "address not found"})
}

func (f *FakeBackend) setDefaultAddress(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	list := f.addresses[account(r)]
	id := chi.URLParam(r, "addressID")
	var chosen *Address
	for i := range list {
		list[i].IsDefault = list[i].ID == id
		if list[i].IsDefault {
			chosen = &list[i]
		}
	}
	if chosen == nil {
		writeFakeJSON(w, http.StatusNotFound, map[string]string{"code": "not_found", "message": "address not found"})
		return
	}
	out := *chosen
	writeFakeJSON(w, http.StatusOK, envelope[*Address]{Success: true, Data: &out})
}

func (f *FakeBackend) listConversations(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	acct := account(r)
	if _, ok := f.conversations[acct]; !ok {
		f.conversations[acct] = []Conversation{{
			ID:        ulid.Make().String(),
			Subject:   "Welcome to the atelier",
			Unread:    1,
			UpdatedAt: f.now(),
		}}
	}
	list := append([]Conversation{}, f.conversations[acct]...)
	writeFakeJSON(w, http.StatusOK, envelope[[]Conversation]{Success: true, Data: list})
}

func (f *FakeBackend) listMessages(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := chi.URLParam(r, "conversationID")
	if !f.ownsConversation(account(r), id) {
		writeFakeJSON(w, http.StatusNotFound, map[string]string{"code": "not_found", "message": "conversation not found"})
		return
	}
	list := append([]Message{}, f.messages[id]...)
	sort.SliceStable(list, func(i, j int) bool { return list[i].SentAt.Before(list[j].SentAt) })
	writeFakeJSON(w, http.StatusOK, envelope[[]Message]{Success: true, Data: list})
}

func (f *FakeBackend) sendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Body) == "" {
		writeFakeJSON(w, http.StatusBadRequest, map[string]string{"code": "invalid_request", "message": "body is required"})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	acct := account(r)
	id := chi.URLParam(r, "conversationID")
	if !f.ownsConversation(acct, id) {
		writeFakeJSON(w, http.StatusNotFound, map[string]string{"code": "not_found", "message": "conversation not found"})
		return
	}
	msg := Message{
		ID:             ulid.Make().String(),
		ConversationID: id,
		Author:         "customer",
		Body:           body.Body,
		SentAt:         f.now(),
	}
	f.messages[id] = append(f.messages[id], msg)
	list := f.conversations[acct]
	for i := range list {
		if list[i].ID == id {
			list[i].UpdatedAt = msg.SentAt
		}
	}
	writeFakeJSON(w, http.StatusCreated, envelope[*Message]{Success: true, Data: &msg})
}

func (f *FakeBackend) ownsConversation(acct, id string) bool {
	for _, c := range f.conversations[acct] {
		if c.ID == id {
			return true
		}
	}
	return false
}

func findLine(lines []CartItem, productID, variantID string) int {
	for i, line := range lines {
		if line.Product == nil || line.Product.ID != productID {
			continue
		}
		lineVariant := ""
		if line.Variant != nil {
			lineVariant = line.Variant.ID
		}
		if lineVariant == variantID {
			return i
		}
	}
	return -1
}

func writeFakeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// handlerTransport serves requests in-process from an http.Handler.
type handlerTransport struct {
	handler http.Handler
}

func (t handlerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rw := &bufferedResponse{header: make(http.Header)}
	t.handler.ServeHTTP(rw, req)
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", rw.status, http.StatusText(rw.status)),
		StatusCode:    rw.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        rw.header,
		Body:          io.NopCloser(bytes.NewReader(rw.body.Bytes())),
		ContentLength: int64(rw.body.Len()),
		Request:       req,
	}, nil
}

// bufferedResponse collects a handler's response in memory.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(p)
}

func price(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(v))
}

func seedCatalog() []Product {
	return []Product{
		{
			ID:              "linen-shirt",
			Name:            "Washed Linen Shirt",
			Price:           price("89.00"),
			DiscountPercent: decimal.NullDecimal{},
			ImageURL:        "/assets/catalog/linen-shirt.jpg",
			Variants: []Variant{
				{ID: "linen-shirt-s-ecru", Size: "S", Color: "Ecru", SKU: "LS-S-ECR", Price: price("89.00")},
				{ID: "linen-shirt-m-ecru", Size: "M", Color: "Ecru", SKU: "LS-M-ECR", Price: price("89.00")},
				{ID: "linen-shirt-m-navy", Size: "M", Color: "Navy", SKU: "LS-M-NVY", Price: price("89.00"), DiscountPrice: price("71.20"), DiscountPercent: price("20"), ImageURL: "/assets/catalog/linen-shirt-navy.jpg"},
			},
		},
		{
			ID:              "wool-coat",
			Name:            "Double-Faced Wool Coat",
			Price:           price("420.00"),
			DiscountPercent: price("10"),
			ImageURL:        "/assets/catalog/wool-coat.jpg",
			Variants: []Variant{
				{ID: "wool-coat-38-camel", Size: "38", Color: "Camel", SKU: "WC-38-CML", Price: price("420.00"), DiscountPrice: price("378.00"), DiscountPercent: price("10")},
			},
		},
		{
			ID:       "canvas-tote",
			Name:     "Canvas Tote",
			Price:    price("35.00"),
			ImageURL: "/assets/catalog/canvas-tote.jpg",
		},
	}
}
