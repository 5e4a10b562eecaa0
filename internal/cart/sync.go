package cart

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"finitefield.org/fashion-web/internal/auth"
	"finitefield.org/fashion-web/internal/notify"
	"finitefield.org/fashion-web/internal/storeapi"
)

var (
	errSyncStoreRequired = errors.New("cart sync: store is required")
	errSyncAPIRequired   = errors.New("cart sync: remote cart is required")
)

const (
	msgAdded         = "Added to your bag."
	msgLoginRequired = "Please sign in to add items to your bag."
)

// RemoteCart is the subset of the storefront API the synchronizer calls.
type RemoteCart interface {
	GetCart(ctx context.Context) (storeapi.CartResponse, error)
	AddItem(ctx context.Context, req storeapi.CartItemRequest) (storeapi.Result, error)
	UpdateItem(ctx context.Context, req storeapi.CartItemRequest) (storeapi.Result, error)
	RemoveItem(ctx context.Context, req storeapi.CartItemRequest) (storeapi.Result, error)
}

// SyncDeps wires the collaborators of a Synchronizer.
type SyncDeps struct {
	Store    *Store
	API      RemoteCart
	User     *auth.User
	Notifier notify.Notifier
	Logger   *zap.Logger
	// Locker, when set, holds a per-key lock across the remote call and the local apply.
	Locker *KeyLocker
}

// Synchronizer applies user cart mutations to the remote cart and mirrors the outcome locally.
// It is the only writer of the store for authenticated sessions. Errors never escape it: callers
// observe store state and notifications.
type Synchronizer struct {
	store    *Store
	api      RemoteCart
	user     *auth.User
	notifier notify.Notifier
	logger   *zap.Logger
	locker   *KeyLocker
}

// NewSynchronizer validates deps and builds a Synchronizer.
func NewSynchronizer(deps SyncDeps) (*Synchronizer, error) {
	if deps.Store == nil {
		return nil, errSyncStoreRequired
	}
	if deps.API == nil {
		return nil, errSyncAPIRequired
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Discard{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.User != nil {
		logger = logger.With(zap.String("userID", deps.User.ID))
	}
	return &Synchronizer{
		store:    deps.Store,
		api:      deps.API,
		user:     deps.User,
		notifier: notifier,
		logger:   logger,
		locker:   deps.Locker,
	}, nil
}

// Store exposes the store the synchronizer writes to.
func (s *Synchronizer) Store() *Store {
	return s.store
}

// Fetch reloads the whole cart from the remote side. Without a user it leaves the state untouched.
// Any failure keeps the previous state.
func (s *Synchronizer) Fetch(ctx context.Context) {
	if s.user == nil {
		return
	}
	resp, err := s.api.GetCart(ctx)
	if err != nil {
		s.logger.Warn("cart: fetch failed", zap.Error(err))
		return
	}
	if !resp.Success || resp.Data == nil {
		s.logger.Warn("cart: fetch rejected", zap.String("message", resp.Message))
		return
	}
	items, err := MapRemoteCart(resp.Data.CartItems)
	if err != nil {
		s.logger.Warn("cart: malformed cart payload", zap.Error(err))
		return
	}
	s.store.Load(items)
}

// AddToCart adds qty units of the product (first variant, if any). The local store changes only after
// the remote side confirms; failures are logged without a toast.
func (s *Synchronizer) AddToCart(ctx context.Context, product storeapi.Product, qty int) {
	if s.user == nil {
		s.notifier.Warning(msgLoginRequired)
		return
	}
	item := ItemFromProduct(product, qty)
	defer s.locker.Lock(item.CartKey)()

	res, err := s.api.AddItem(ctx, storeapi.CartItemRequest{
		ProductID: item.ProductID,
		VariantID: item.VariantID,
		Quantity:  item.Qty,
	})
	if !s.confirmed("add", item.CartKey, res, err) {
		return
	}
	s.store.Add(item)
	s.notifier.Success(msgAdded)
}

// UpdateQuantity sets the quantity of an existing line once the remote side confirms.
func (s *Synchronizer) UpdateQuantity(ctx context.Context, cartKey string, qty int) {
	if s.user == nil {
		return
	}
	defer s.locker.Lock(cartKey)()

	item, ok := s.store.Find(cartKey)
	if !ok {
		return
	}
	qty = clampQty(qty)
	res, err := s.api.UpdateItem(ctx, storeapi.CartItemRequest{
		ProductID: item.ProductID,
		VariantID: item.VariantID,
		Quantity:  qty,
	})
	if !s.confirmed("update", cartKey, res, err) {
		return
	}
	s.store.UpdateQuantity(cartKey, qty)
}

// RemoveFromCart deletes the line remotely and then locally, even when the remote call fails, so an item
// can never get stuck in the bag because of a transient backend inconsistency.
func (s *Synchronizer) RemoveFromCart(ctx context.Context, cartKey string) {
	if s.user == nil {
		return
	}
	defer s.locker.Lock(cartKey)()

	item, ok := s.store.Find(cartKey)
	if !ok {
		return
	}
	res, err := s.api.RemoveItem(ctx, removeRequest(item))
	s.confirmed("remove", cartKey, res, err)
	s.store.Remove(cartKey)
}

// ClearCart removes every line remotely, one at a time and without stopping at failures, then reloads
// the cart so the local state reflects whatever the backend ended up with.
func (s *Synchronizer) ClearCart(ctx context.Context) {
	if s.user == nil {
		return
	}
	for _, item := range s.store.Items() {
		res, err := s.api.RemoveItem(ctx, removeRequest(item))
		s.confirmed("clear", item.CartKey, res, err)
	}
	s.Fetch(ctx)
}

func removeRequest(item LineItem) storeapi.CartItemRequest {
	return storeapi.CartItemRequest{
		ProductID: item.ProductID,
		VariantID: item.VariantID,
		Quantity:  item.Qty,
	}
}

// confirmed logs failures and reports whether the remote side accepted the mutation.
func (s *Synchronizer) confirmed(op, cartKey string, res storeapi.Result, err error) bool {
	if err != nil {
		s.logger.Warn("cart: remote "+op+" failed", zap.String("cartKey", cartKey), zap.Error(err))
		return false
	}
	if !res.Success {
		s.logger.Warn("cart: remote "+op+" rejected", zap.String("cartKey", cartKey), zap.String("message", res.Message))
		return false
	}
	return true
}
