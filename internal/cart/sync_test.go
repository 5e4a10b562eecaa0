package cart

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"finitefield.org/fashion-web/internal/auth"
	"finitefield.org/fashion-web/internal/notify"
	"finitefield.org/fashion-web/internal/storeapi"
)

type stubRemoteCart struct {
	mu       sync.Mutex
	calls    []string
	requests []storeapi.CartItemRequest

	getFunc    func(ctx context.Context) (storeapi.CartResponse, error)
	addFunc    func(ctx context.Context, req storeapi.CartItemRequest) (storeapi.Result, error)
	updateFunc func(ctx context.Context, req storeapi.CartItemRequest) (storeapi.Result, error)
	removeFunc func(ctx context.Context, req storeapi.CartItemRequest) (storeapi.Result, error)
}

func (s *stubRemoteCart) record(call string, req *storeapi.CartItemRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	if req != nil {
		s.requests = append(s.requests, *req)
	}
}

func (s *stubRemoteCart) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubRemoteCart) GetCart(ctx context.Context) (storeapi.CartResponse, error) {
	s.record("get", nil)
	if s.getFunc != nil {
		return s.getFunc(ctx)
	}
	return storeapi.CartResponse{Success: true, Data: &storeapi.CartData{}}, nil
}

func (s *stubRemoteCart) AddItem(ctx context.Context, req storeapi.CartItemRequest) (storeapi.Result, error) {
	s.record("add", &req)
	if s.addFunc != nil {
		return s.addFunc(ctx, req)
	}
	return storeapi.Result{Success: true}, nil
}

func (s *stubRemoteCart) UpdateItem(ctx context.Context, req storeapi.CartItemRequest) (storeapi.Result, error) {
	s.record("update", &req)
	if s.updateFunc != nil {
		return s.updateFunc(ctx, req)
	}
	return storeapi.Result{Success: true}, nil
}

func (s *stubRemoteCart) RemoveItem(ctx context.Context, req storeapi.CartItemRequest) (storeapi.Result, error) {
	s.record("remove", &req)
	if s.removeFunc != nil {
		return s.removeFunc(ctx, req)
	}
	return storeapi.Result{Success: true}, nil
}

func newTestSync(t *testing.T, store *Store, api RemoteCart, user *auth.User) (*Synchronizer, *notify.Collector) {
	t.Helper()
	toasts := notify.NewCollector()
	syncer, err := NewSynchronizer(SyncDeps{Store: store, API: api, User: user, Notifier: toasts})
	if err != nil {
		t.Fatalf("unexpected error constructing synchronizer: %v", err)
	}
	return syncer, toasts
}

func testUser() *auth.User {
	return &auth.User{ID: "user-1", Token: "debug:user-1"}
}

func nd(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(v))
}

func TestNewSynchronizerRequiresDeps(t *testing.T) {
	if _, err := NewSynchronizer(SyncDeps{API: &stubRemoteCart{}}); !errors.Is(err, errSyncStoreRequired) {
		t.Fatalf("expected errSyncStoreRequired, got %v", err)
	}
	if _, err := NewSynchronizer(SyncDeps{Store: NewStore()}); !errors.Is(err, errSyncAPIRequired) {
		t.Fatalf("expected errSyncAPIRequired, got %v", err)
	}
}

func TestAddToCartProductWithoutVariants(t *testing.T) {
	store := NewStore()
	api := &stubRemoteCart{}
	syncer, toasts := newTestSync(t, store, api, testUser())

	syncer.AddToCart(context.Background(), storeapi.Product{ID: "p1", Name: "Tote"}, 2)

	items := store.Items()
	if len(items) != 1 {
		t.Fatalf("expected one item, got %d", len(items))
	}
	if items[0].CartKey != "p1" || items[0].Qty != 2 {
		t.Fatalf("unexpected item %+v", items[0])
	}
	if len(api.requests) != 1 {
		t.Fatalf("expected one remote request, got %d", len(api.requests))
	}
	want := storeapi.CartItemRequest{ProductID: "p1", Quantity: 2}
	if api.requests[0] != want {
		t.Fatalf("unexpected request %+v", api.requests[0])
	}
	got := toasts.Toasts()
	if len(got) != 1 || got[0].Level != notify.LevelSuccess {
		t.Fatalf("expected a success toast, got %+v", got)
	}
}

func TestAddToCartExistingVariantIncrementsQuantity(t *testing.T) {
	store := NewStore()
	store.Load([]LineItem{{ID: "p1", CartKey: "p1-v1", ProductID: "p1", VariantID: "v1", Qty: 1}})
	api := &stubRemoteCart{}
	syncer, _ := newTestSync(t, store, api, testUser())

	product := storeapi.Product{
		ID:       "p1",
		Name:     "Linen Shirt",
		Variants: []storeapi.Variant{{ID: "v1", Size: "M", Price: nd("89")}},
	}
	syncer.AddToCart(context.Background(), product, 3)

	items := store.Items()
	if len(items) != 1 {
		t.Fatalf("expected item count unchanged at 1, got %d", len(items))
	}
	if items[0].Qty != 4 {
		t.Fatalf("expected qty 4, got %d", items[0].Qty)
	}
	if api.requests[0].VariantID != "v1" || api.requests[0].Quantity != 3 {
		t.Fatalf("unexpected request %+v", api.requests[0])
	}
}

func TestAddToCartUnauthenticatedWarnsWithoutCalling(t *testing.T) {
	store := NewStore()
	api := &stubRemoteCart{}
	syncer, toasts := newTestSync(t, store, api, nil)

	syncer.AddToCart(context.Background(), storeapi.Product{ID: "p1"}, 1)

	if api.callCount() != 0 {
		t.Fatalf("expected no remote call, got %v", api.calls)
	}
	if len(store.Items()) != 0 {
		t.Fatalf("expected no state change")
	}
	got := toasts.Toasts()
	if len(got) != 1 || got[0].Level != notify.LevelWarning {
		t.Fatalf("expected a warning toast, got %+v", got)
	}
}

func TestAddToCartFailureLeavesStateAndIsSilent(t *testing.T) {
	cases := map[string]func(context.Context, storeapi.CartItemRequest) (storeapi.Result, error){
		"rejected": func(context.Context, storeapi.CartItemRequest) (storeapi.Result, error) {
			return storeapi.Result{Success: false, Message: "out of stock"}, nil
		},
		"transport": func(context.Context, storeapi.CartItemRequest) (storeapi.Result, error) {
			return storeapi.Result{}, errors.New("connection reset")
		},
	}
	for name, addFunc := range cases {
		t.Run(name, func(t *testing.T) {
			store := NewStore()
			api := &stubRemoteCart{addFunc: addFunc}
			syncer, toasts := newTestSync(t, store, api, testUser())

			syncer.AddToCart(context.Background(), storeapi.Product{ID: "p1"}, 1)

			if len(store.Items()) != 0 {
				t.Fatalf("expected no local mutation")
			}
			if len(toasts.Toasts()) != 0 {
				t.Fatalf("expected no toast, got %+v", toasts.Toasts())
			}
		})
	}
}

func TestAddToCartDefaultsQuantityToOne(t *testing.T) {
	store := NewStore()
	api := &stubRemoteCart{}
	syncer, _ := newTestSync(t, store, api, testUser())

	syncer.AddToCart(context.Background(), storeapi.Product{ID: "p1"}, 0)

	if api.requests[0].Quantity != 1 {
		t.Fatalf("expected quantity 1, got %d", api.requests[0].Quantity)
	}
	if store.Count() != 1 {
		t.Fatalf("expected count 1, got %d", store.Count())
	}
}

func TestUpdateQuantityAppliesOnlyOnSuccess(t *testing.T) {
	store := NewStore()
	store.Load([]LineItem{{ID: "p1", CartKey: "p1-v1", ProductID: "p1", VariantID: "v1", Qty: 1}})
	succeed := true
	api := &stubRemoteCart{
		updateFunc: func(_ context.Context, req storeapi.CartItemRequest) (storeapi.Result, error) {
			return storeapi.Result{Success: succeed}, nil
		},
	}
	syncer, _ := newTestSync(t, store, api, testUser())

	syncer.UpdateQuantity(context.Background(), "p1-v1", 5)
	if item, _ := store.Find("p1-v1"); item.Qty != 5 {
		t.Fatalf("expected qty 5, got %d", item.Qty)
	}
	if api.requests[0] != (storeapi.CartItemRequest{ProductID: "p1", VariantID: "v1", Quantity: 5}) {
		t.Fatalf("unexpected request %+v", api.requests[0])
	}

	succeed = false
	syncer.UpdateQuantity(context.Background(), "p1-v1", 8)
	if item, _ := store.Find("p1-v1"); item.Qty != 5 {
		t.Fatalf("expected qty to stay 5 after rejection, got %d", item.Qty)
	}
}

func TestUpdateQuantityClampsBeforeCallingRemote(t *testing.T) {
	store := NewStore()
	store.Load([]LineItem{{ID: "p1", CartKey: "p1-default", ProductID: "p1", Qty: 3}})
	api := &stubRemoteCart{}
	syncer, _ := newTestSync(t, store, api, testUser())

	syncer.UpdateQuantity(context.Background(), "p1-default", -2)

	if api.requests[0].Quantity != 1 {
		t.Fatalf("expected clamped quantity 1 sent, got %d", api.requests[0].Quantity)
	}
	if item, _ := store.Find("p1-default"); item.Qty != 1 {
		t.Fatalf("expected stored qty 1, got %d", item.Qty)
	}
}

func TestUpdateQuantityUnknownKeyOrLoggedOutIsNoop(t *testing.T) {
	store := NewStore()
	store.Load([]LineItem{{ID: "p1", CartKey: "p1", ProductID: "p1", Qty: 1}})
	api := &stubRemoteCart{}

	syncer, _ := newTestSync(t, store, api, testUser())
	syncer.UpdateQuantity(context.Background(), "missing", 3)

	anon, _ := newTestSync(t, store, api, nil)
	anon.UpdateQuantity(context.Background(), "p1", 3)

	if api.callCount() != 0 {
		t.Fatalf("expected no remote calls, got %v", api.calls)
	}
	if item, _ := store.Find("p1"); item.Qty != 1 {
		t.Fatalf("expected qty unchanged, got %d", item.Qty)
	}
}

func TestRemoveFromCartAppliesEvenWhenRemoteRejects(t *testing.T) {
	cases := map[string]func(context.Context, storeapi.CartItemRequest) (storeapi.Result, error){
		"rejected": func(context.Context, storeapi.CartItemRequest) (storeapi.Result, error) {
			return storeapi.Result{Success: false}, nil
		},
		"transport": func(context.Context, storeapi.CartItemRequest) (storeapi.Result, error) {
			return storeapi.Result{}, errors.New("timeout")
		},
		"accepted": nil,
	}
	for name, removeFunc := range cases {
		t.Run(name, func(t *testing.T) {
			store := NewStore()
			store.Load([]LineItem{{ID: "p1", CartKey: "p1-v1", ProductID: "p1", VariantID: "v1", Qty: 2}})
			api := &stubRemoteCart{removeFunc: removeFunc}
			syncer, _ := newTestSync(t, store, api, testUser())

			syncer.RemoveFromCart(context.Background(), "p1-v1")

			if _, ok := store.Find("p1-v1"); ok {
				t.Fatalf("expected local item removed")
			}
			if api.requests[0] != (storeapi.CartItemRequest{ProductID: "p1", VariantID: "v1", Quantity: 2}) {
				t.Fatalf("unexpected request %+v", api.requests[0])
			}
		})
	}
}

func TestRemoveFromCartUnknownKeySkipsRemote(t *testing.T) {
	api := &stubRemoteCart{}
	syncer, _ := newTestSync(t, NewStore(), api, testUser())

	syncer.RemoveFromCart(context.Background(), "p1")
	syncer.RemoveFromCart(context.Background(), "p1")

	if api.callCount() != 0 {
		t.Fatalf("expected no remote call, got %v", api.calls)
	}
}

func TestFetchMapsRemotePayload(t *testing.T) {
	store := NewStore()
	api := &stubRemoteCart{
		getFunc: func(context.Context) (storeapi.CartResponse, error) {
			return storeapi.CartResponse{Success: true, Data: &storeapi.CartData{CartItems: []storeapi.CartItem{
				{
					ID:       "line-1",
					Quantity: 2,
					Product:  &storeapi.Product{ID: "shirt", Name: "Linen Shirt", Price: nd("95"), DiscountPercent: nd("5"), ImageURL: "/p.jpg"},
					Variant:  &storeapi.Variant{ID: "m-navy", Size: "M", Color: "Navy", SKU: "LS-M", Price: nd("89"), DiscountPrice: nd("71.2"), DiscountPercent: nd("20"), ImageURL: "/v.jpg"},
				},
				{
					ID:       "line-2",
					Quantity: 1,
					Product:  &storeapi.Product{ID: "tote", Name: "Tote", Price: nd("35"), DiscountPercent: nd("10")},
				},
				{
					ID:       "line-3",
					Quantity: 0,
					Product:  &storeapi.Product{ID: "coat", Name: "Coat"},
					Variant:  &storeapi.Variant{ID: "38", Price: nd("420")},
				},
			}}}, nil
		},
	}
	syncer, _ := newTestSync(t, store, api, testUser())

	syncer.Fetch(context.Background())

	items := store.Items()
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}

	shirt := items[0]
	if shirt.CartKey != "shirt-m-navy" {
		t.Fatalf("unexpected key %q", shirt.CartKey)
	}
	if !shirt.Price.Equal(decimal.RequireFromString("71.2")) {
		t.Fatalf("expected discount price, got %s", shirt.Price)
	}
	if !shirt.OriginalPrice.Equal(decimal.NewFromInt(89)) {
		t.Fatalf("expected variant price as original, got %s", shirt.OriginalPrice)
	}
	if !shirt.DiscountPercent.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected variant discount percent, got %s", shirt.DiscountPercent)
	}
	if shirt.Image != "/v.jpg" || shirt.Variant == nil || shirt.Variant.SKU != "LS-M" {
		t.Fatalf("unexpected display fields %+v", shirt)
	}

	tote := items[1]
	if tote.CartKey != "tote-default" {
		t.Fatalf("expected default key, got %q", tote.CartKey)
	}
	if !tote.Price.IsZero() {
		t.Fatalf("expected zero price without variant, got %s", tote.Price)
	}
	if !tote.OriginalPrice.Equal(decimal.NewFromInt(35)) || !tote.DiscountPercent.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected product fallbacks, got %+v", tote)
	}
	if tote.Image != PlaceholderImage {
		t.Fatalf("expected placeholder image, got %q", tote.Image)
	}

	coat := items[2]
	if !coat.Price.Equal(decimal.NewFromInt(420)) || coat.Qty != 1 {
		t.Fatalf("unexpected coat %+v", coat)
	}
}

func TestFetchFailureRetainsState(t *testing.T) {
	cases := map[string]func(context.Context) (storeapi.CartResponse, error){
		"transport": func(context.Context) (storeapi.CartResponse, error) {
			return storeapi.CartResponse{}, errors.New("dial tcp: refused")
		},
		"rejected": func(context.Context) (storeapi.CartResponse, error) {
			return storeapi.CartResponse{Success: false}, nil
		},
		"missing data": func(context.Context) (storeapi.CartResponse, error) {
			return storeapi.CartResponse{Success: true}, nil
		},
		"malformed entry": func(context.Context) (storeapi.CartResponse, error) {
			return storeapi.CartResponse{Success: true, Data: &storeapi.CartData{CartItems: []storeapi.CartItem{{ID: "x", Quantity: 1}}}}, nil
		},
	}
	for name, getFunc := range cases {
		t.Run(name, func(t *testing.T) {
			store := NewStore()
			store.Load([]LineItem{{ID: "p1", CartKey: "p1", ProductID: "p1", Qty: 2}})
			syncer, toasts := newTestSync(t, store, &stubRemoteCart{getFunc: getFunc}, testUser())

			syncer.Fetch(context.Background())

			if store.Count() != 2 {
				t.Fatalf("expected prior state retained, count=%d", store.Count())
			}
			if len(toasts.Toasts()) != 0 {
				t.Fatalf("fetch failures must stay silent")
			}
		})
	}
}

func TestFetchWithoutUserDoesNothing(t *testing.T) {
	api := &stubRemoteCart{}
	store := NewStore()
	syncer, _ := newTestSync(t, store, api, nil)

	syncer.Fetch(context.Background())

	if api.callCount() != 0 {
		t.Fatalf("expected no remote call")
	}
	if store.Loaded() {
		t.Fatalf("store must stay untouched")
	}
}

func TestClearCartContinuesAfterFailuresThenReloads(t *testing.T) {
	store := NewStore()
	store.Load([]LineItem{
		{ID: "a", CartKey: "a-default", ProductID: "a", Qty: 1},
		{ID: "b", CartKey: "b-default", ProductID: "b", Qty: 1},
		{ID: "c", CartKey: "c-default", ProductID: "c", Qty: 1},
	})
	api := &stubRemoteCart{
		removeFunc: func(_ context.Context, req storeapi.CartItemRequest) (storeapi.Result, error) {
			if req.ProductID == "b" {
				return storeapi.Result{}, errors.New("backend hiccup")
			}
			return storeapi.Result{Success: true}, nil
		},
		getFunc: func(context.Context) (storeapi.CartResponse, error) {
			return storeapi.CartResponse{Success: true, Data: &storeapi.CartData{CartItems: []storeapi.CartItem{
				{ID: "line-b", Quantity: 1, Product: &storeapi.Product{ID: "b", Name: "B"}},
			}}}, nil
		},
	}
	syncer, _ := newTestSync(t, store, api, testUser())

	syncer.ClearCart(context.Background())

	wantCalls := []string{"remove", "remove", "remove", "get"}
	if len(api.calls) != len(wantCalls) {
		t.Fatalf("expected calls %v, got %v", wantCalls, api.calls)
	}
	for i, call := range wantCalls {
		if api.calls[i] != call {
			t.Fatalf("call %d: expected %s, got %s", i, call, api.calls[i])
		}
	}
	items := store.Items()
	if len(items) != 1 || items[0].CartKey != "b-default" {
		t.Fatalf("expected state to reflect server truth, got %+v", items)
	}
}

func TestSerializedMutationsDoNotOverlapPerKey(t *testing.T) {
	store := NewStore()
	store.Load([]LineItem{{ID: "p1", CartKey: "p1", ProductID: "p1", Qty: 1}})

	var inflight, maxInflight int32
	api := &stubRemoteCart{
		updateFunc: func(context.Context, storeapi.CartItemRequest) (storeapi.Result, error) {
			n := atomic.AddInt32(&inflight, 1)
			for {
				m := atomic.LoadInt32(&maxInflight)
				if n <= m || atomic.CompareAndSwapInt32(&maxInflight, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inflight, -1)
			return storeapi.Result{Success: true}, nil
		},
	}
	syncer, err := NewSynchronizer(SyncDeps{Store: store, API: api, User: testUser(), Locker: NewKeyLocker()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 2; i < 8; i++ {
		wg.Add(1)
		go func(qty int) {
			defer wg.Done()
			syncer.UpdateQuantity(context.Background(), "p1", qty)
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxInflight); got != 1 {
		t.Fatalf("expected serialized remote calls, saw %d in flight", got)
	}
	if api.callCount() != 6 {
		t.Fatalf("expected 6 update calls, got %d", api.callCount())
	}
}
