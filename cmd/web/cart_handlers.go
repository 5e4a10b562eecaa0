package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"finitefield.org/fashion-web/internal/auth"
	"finitefield.org/fashion-web/internal/cart"
	mw "finitefield.org/fashion-web/internal/middleware"
	"finitefield.org/fashion-web/internal/notify"
	"finitefield.org/fashion-web/internal/platform/httpx"
	"finitefield.org/fashion-web/internal/platform/observability"
	"finitefield.org/fashion-web/internal/storeapi"
)

const (
	msgItemUnavailable = "This item is no longer available."
	msgCatalogDown     = "We couldn't reach the catalog. Please try again."
)

type addItemForm struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

type quantityForm struct {
	Quantity int `json:"quantity"`
}

type selectionForm struct {
	CartKeys []string `json:"cartKeys"`
}

// cartRequest is the per request view of the session cart.
type cartRequest struct {
	user    *auth.User
	session *cart.Session
	sync    *cart.Synchronizer
	toasts  *notify.Collector
}

func (s *server) cartFor(r *http.Request) (cartRequest, error) {
	ctx := r.Context()
	user := auth.UserFromContext(ctx)
	session := s.carts.Get(mw.GetSession(r).ID)
	toasts := notify.NewCollector()

	api := s.api
	if user != nil {
		api = api.ForToken(user.Token)
	}
	syncer, err := cart.NewSynchronizer(cart.SyncDeps{
		Store:    session.Store,
		API:      api,
		User:     user,
		Notifier: toasts,
		Logger:   observability.FromContext(ctx),
		Locker:   session.Locks,
	})
	if err != nil {
		return cartRequest{}, err
	}
	return cartRequest{user: user, session: session, sync: syncer, toasts: toasts}, nil
}

func (s *server) writeCart(w http.ResponseWriter, cr cartRequest) {
	view := buildCartView(cr.session.Store, cr.user != nil, s.cfg.Locale.Currency, s.cfg.Locale.Language)
	httpx.WriteJSON(w, http.StatusOK, cr.toasts, view)
}

// withCart resolves the session cart and hands it to fn, answering with the cart view afterwards.
func (s *server) withCart(fn func(w http.ResponseWriter, r *http.Request, cr cartRequest) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cr, err := s.cartFor(r)
		if err != nil {
			observability.FromContext(r.Context()).Error("cart: synchronizer init failed", zap.Error(err))
			httpx.WriteError(r.Context(), w, nil, httpx.NewError("cart_unavailable", "cart is unavailable", http.StatusInternalServerError))
			return
		}
		if !fn(w, r, cr) {
			return
		}
		s.writeCart(w, cr)
	}
}

// cartShow loads the remote cart once per session, then serves the local copy.
func (s *server) cartShow(w http.ResponseWriter, r *http.Request) {
	s.withCart(func(w http.ResponseWriter, r *http.Request, cr cartRequest) bool {
		if cr.user != nil && !cr.session.Store.Loaded() {
			cr.sync.Fetch(r.Context())
		}
		return true
	})(w, r)
}

func (s *server) cartReload(w http.ResponseWriter, r *http.Request) {
	s.withCart(func(w http.ResponseWriter, r *http.Request, cr cartRequest) bool {
		cr.sync.Fetch(r.Context())
		return true
	})(w, r)
}

// cartAdd looks the product up so the line carries current pricing, then adds the requested variant.
func (s *server) cartAdd(w http.ResponseWriter, r *http.Request) {
	s.withCart(func(w http.ResponseWriter, r *http.Request, cr cartRequest) bool {
		var form addItemForm
		if !decodeJSON(w, r, &form) {
			return false
		}
		productID := strings.TrimSpace(form.ProductID)
		if productID == "" {
			httpx.WriteError(r.Context(), w, nil, httpx.NewError("invalid_request", "productId is required", http.StatusBadRequest).WithField("productId", "required"))
			return false
		}
		if cr.user == nil {
			cr.sync.AddToCart(r.Context(), storeapi.Product{ID: productID}, form.Quantity)
			return true
		}

		product, err := s.api.ForToken(cr.user.Token).GetProduct(r.Context(), productID)
		if err != nil {
			status, code, msg := http.StatusBadGateway, "catalog_unavailable", msgCatalogDown
			if errors.Is(err, storeapi.ErrNotFound) || errors.Is(err, storeapi.ErrInvalidID) {
				status, code, msg = http.StatusNotFound, "product_not_found", msgItemUnavailable
			}
			observability.FromContext(r.Context()).Warn("cart: product lookup failed", zap.String("productID", productID), zap.Error(err))
			cr.toasts.Error(msg)
			httpx.WriteError(r.Context(), w, cr.toasts, httpx.NewError(code, msg, status))
			return false
		}
		product, ok := preferVariant(product, strings.TrimSpace(form.VariantID))
		if !ok {
			cr.toasts.Error(msgItemUnavailable)
			httpx.WriteError(r.Context(), w, cr.toasts, httpx.NewError("variant_not_found", msgItemUnavailable, http.StatusNotFound).WithField("variantId", "unknown"))
			return false
		}
		cr.sync.AddToCart(r.Context(), product, form.Quantity)
		return true
	})(w, r)
}

func (s *server) cartUpdate(w http.ResponseWriter, r *http.Request) {
	s.withCart(func(w http.ResponseWriter, r *http.Request, cr cartRequest) bool {
		var form quantityForm
		if !decodeJSON(w, r, &form) {
			return false
		}
		cr.sync.UpdateQuantity(r.Context(), chi.URLParam(r, "cartKey"), form.Quantity)
		return true
	})(w, r)
}

func (s *server) cartRemove(w http.ResponseWriter, r *http.Request) {
	s.withCart(func(w http.ResponseWriter, r *http.Request, cr cartRequest) bool {
		cr.sync.RemoveFromCart(r.Context(), chi.URLParam(r, "cartKey"))
		return true
	})(w, r)
}

func (s *server) cartClear(w http.ResponseWriter, r *http.Request) {
	s.withCart(func(w http.ResponseWriter, r *http.Request, cr cartRequest) bool {
		cr.sync.ClearCart(r.Context())
		return true
	})(w, r)
}

// cartSelect snapshots the named lines for checkout. Unknown keys are ignored.
func (s *server) cartSelect(w http.ResponseWriter, r *http.Request) {
	s.withCart(func(w http.ResponseWriter, r *http.Request, cr cartRequest) bool {
		var form selectionForm
		if !decodeJSON(w, r, &form) {
			return false
		}
		wanted := make(map[string]struct{}, len(form.CartKeys))
		for _, key := range form.CartKeys {
			wanted[key] = struct{}{}
		}
		var picked []cart.LineItem
		for _, item := range cr.session.Store.Items() {
			if _, ok := wanted[item.CartKey]; ok {
				picked = append(picked, item)
			}
		}
		cr.session.Store.SetSelected(picked)
		return true
	})(w, r)
}

func (s *server) cartDeselect(w http.ResponseWriter, r *http.Request) {
	s.withCart(func(w http.ResponseWriter, r *http.Request, cr cartRequest) bool {
		cr.session.Store.ClearSelected()
		return true
	})(w, r)
}

// preferVariant moves the requested variant to the front so it becomes the purchased one.
func preferVariant(p storeapi.Product, variantID string) (storeapi.Product, bool) {
	if variantID == "" {
		return p, true
	}
	for i, v := range p.Variants {
		if v.ID != variantID {
			continue
		}
		ordered := make([]storeapi.Variant, 0, len(p.Variants))
		ordered = append(ordered, v)
		ordered = append(ordered, p.Variants[:i]...)
		ordered = append(ordered, p.Variants[i+1:]...)
		p.Variants = ordered
		return p, true
	}
	return p, false
}
