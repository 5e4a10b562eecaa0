package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/require"

	"finitefield.org/fashion-web/internal/platform/config"
	"finitefield.org/fashion-web/internal/storeapi"
)

func newTestServer(t *testing.T) (*server, *httptest.Server) {
	t.Helper()
	return newTestServerWith(t, "test", nil)
}

func newTestServerWith(t *testing.T, env string, verifier *stubVerifier) (*server, *httptest.Server) {
	t.Helper()
	cfg := config.Config{
		Session: config.SessionConfig{SigningKey: "test-signing-key-0123456789"},
		Cart:    config.CartConfig{IdleTTL: time.Hour},
		Locale:  config.LocaleConfig{Currency: "USD", Language: "en"},
		Env:     env,
	}
	srv, err := newServer(cfg, nil)
	require.NoError(t, err)
	if verifier != nil {
		srv.verifier = verifier
	}
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return srv, ts
}

type testClient struct {
	t      *testing.T
	base   *url.URL
	http   *http.Client
	bearer string
}

func newTestClient(t *testing.T, ts *httptest.Server, uid string) *testClient {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	base, err := url.Parse(ts.URL)
	require.NoError(t, err)
	c := &testClient{t: t, base: base, http: &http.Client{Jar: jar}}
	if uid != "" {
		c.bearer = "Bearer debug:" + uid
	}
	return c
}

func (c *testClient) do(method, path string, body any) (*http.Response, []byte) {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base.String()+path, reader)
	require.NoError(c.t, err)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", c.bearer)
	}
	for _, cookie := range c.http.Jar.Cookies(c.base) {
		if cookie.Name == "csrf_token" {
			req.Header.Set("X-CSRF-Token", cookie.Value)
		}
	}
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp, data
}

func (c *testClient) cart(method, path string, body any) (*http.Response, CartView) {
	c.t.Helper()
	resp, data := c.do(method, path, body)
	require.Equal(c.t, http.StatusOK, resp.StatusCode, string(data))
	var view CartView
	require.NoError(c.t, json.Unmarshal(data, &view))
	return resp, view
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t)
	resp, body := newTestClient(t, ts, "").do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))
}

func TestCartAddUpdateRemoveFlow(t *testing.T) {
	srv, ts := newTestServer(t)
	client := newTestClient(t, ts, "alice")

	_, view := client.cart(http.MethodGet, "/cart", nil)
	require.True(t, view.SignedIn)
	require.True(t, view.Loaded)
	require.Empty(t, view.Items)

	resp, view := client.cart(http.MethodPost, "/cart/items", addItemForm{ProductID: "linen-shirt", VariantID: "linen-shirt-m-navy", Quantity: 2})
	require.Contains(t, resp.Header.Get("HX-Trigger"), "Added to your bag.")
	require.Len(t, view.Items, 1)
	line := view.Items[0]
	require.Equal(t, "linen-shirt-linen-shirt-m-navy", line.CartKey)
	require.Equal(t, 2, line.Qty)
	require.Equal(t, "$71.20", line.Price)
	require.Equal(t, "$89.00", line.OriginalPrice)
	require.Equal(t, "20%", line.DiscountPercent)
	require.Equal(t, "$142.40", view.Subtotal)

	_, view = client.cart(http.MethodPost, "/cart/items", addItemForm{ProductID: "linen-shirt", VariantID: "linen-shirt-m-navy", Quantity: 1})
	require.Len(t, view.Items, 1)
	require.Equal(t, 3, view.Items[0].Qty)
	require.Equal(t, 3, view.Count)

	_, view = client.cart(http.MethodPatch, "/cart/items/"+line.CartKey, quantityForm{Quantity: 0})
	require.Equal(t, 1, view.Items[0].Qty)
	remote := srv.api.Fake().CartLines("debug:alice")
	require.Len(t, remote, 1)
	require.Equal(t, 1, remote[0].Quantity)

	_, view = client.cart(http.MethodDelete, "/cart/items/"+line.CartKey, nil)
	require.Empty(t, view.Items)
	require.Empty(t, srv.api.Fake().CartLines("debug:alice"))
}

func TestCartAddUnknownVariantIsNotFound(t *testing.T) {
	_, ts := newTestServer(t)
	client := newTestClient(t, ts, "alice")

	resp, body := client.do(http.MethodPost, "/cart/items", addItemForm{ProductID: "linen-shirt", VariantID: "nope"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Contains(t, string(body), "variant_not_found")

	resp, body = client.do(http.MethodPost, "/cart/items", addItemForm{ProductID: "ghost"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Contains(t, string(body), "product_not_found")
}

func TestCartAddSignedOutWarns(t *testing.T) {
	srv, ts := newTestServer(t)
	client := newTestClient(t, ts, "")

	client.cart(http.MethodGet, "/cart", nil)
	resp, view := client.cart(http.MethodPost, "/cart/items", addItemForm{ProductID: "linen-shirt", Quantity: 1})
	require.False(t, view.SignedIn)
	require.Empty(t, view.Items)
	require.Contains(t, resp.Header.Get("HX-Trigger"), "Please sign in to add items to your bag.")
	require.Equal(t, 1, srv.carts.Len())
}

func TestCartRejectsMutationWithoutCSRFToken(t *testing.T) {
	_, ts := newTestServer(t)
	client := newTestClient(t, ts, "")

	resp, _ := client.do(http.MethodPost, "/cart/items", addItemForm{ProductID: "linen-shirt"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCartLazyFetchMapsRemoteLines(t *testing.T) {
	srv, ts := newTestServer(t)
	res, err := srv.api.ForToken("debug:bob").AddItem(context.Background(), storeapi.CartItemRequest{
		ProductID: "wool-coat",
		VariantID: "wool-coat-38-camel",
		Quantity:  1,
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	_, view := newTestClient(t, ts, "bob").cart(http.MethodGet, "/cart", nil)
	require.Len(t, view.Items, 1)
	require.Equal(t, "wool-coat-wool-coat-38-camel", view.Items[0].CartKey)
	require.Equal(t, "$378.00", view.Items[0].Price)
	require.Equal(t, "$420.00", view.Items[0].OriginalPrice)
	require.Equal(t, "10%", view.Items[0].DiscountPercent)
}

func TestCartReloadUsesRemoteKeyForVariantlessProducts(t *testing.T) {
	_, ts := newTestServer(t)
	client := newTestClient(t, ts, "carol")

	_, view := client.cart(http.MethodPost, "/cart/items", addItemForm{ProductID: "canvas-tote", Quantity: 1})
	require.Len(t, view.Items, 1)
	require.Equal(t, "canvas-tote", view.Items[0].CartKey)
	require.Equal(t, "$0.00", view.Items[0].Price)

	_, view = client.cart(http.MethodPost, "/cart/reload", nil)
	require.Len(t, view.Items, 1)
	require.Equal(t, "canvas-tote-default", view.Items[0].CartKey)
}

func TestCartSelectionAndClear(t *testing.T) {
	srv, ts := newTestServer(t)
	client := newTestClient(t, ts, "dave")

	client.cart(http.MethodPost, "/cart/items", addItemForm{ProductID: "linen-shirt", VariantID: "linen-shirt-m-navy", Quantity: 1})
	client.cart(http.MethodPost, "/cart/items", addItemForm{ProductID: "wool-coat", Quantity: 1})

	_, view := client.cart(http.MethodPut, "/cart/selection", selectionForm{CartKeys: []string{"wool-coat-wool-coat-38-camel", "missing"}})
	require.Equal(t, []string{"wool-coat-wool-coat-38-camel"}, view.Selected)
	require.Equal(t, "$378.00", view.SelectedSubtotal)

	_, view = client.cart(http.MethodDelete, "/cart/selection", nil)
	require.Empty(t, view.Selected)
	require.Len(t, view.Items, 2)

	_, view = client.cart(http.MethodDelete, "/cart", nil)
	require.Empty(t, view.Items)
	require.True(t, view.Loaded)
	require.Empty(t, srv.api.Fake().CartLines("debug:dave"))
}

func TestLogoutDropsSessionCart(t *testing.T) {
	srv, ts := newTestServer(t)
	client := newTestClient(t, ts, "erin")

	client.cart(http.MethodPost, "/cart/items", addItemForm{ProductID: "wool-coat", Quantity: 1})
	require.Equal(t, 1, srv.carts.Len())

	resp, _ := client.do(http.MethodPost, "/logout", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, 0, srv.carts.Len())
	require.Len(t, srv.api.Fake().CartLines("debug:erin"), 1)
}

func TestAddressEndpoints(t *testing.T) {
	_, ts := newTestServer(t)
	client := newTestClient(t, ts, "frank")

	resp, body := client.do(http.MethodPost, "/account/addresses", addressForm{
		Recipient:   "Frank Ito",
		Line1:       "1-2-3 Jingumae",
		City:        "Shibuya",
		Postal:      "1500001",
		Country:     "jp",
		MakeDefault: true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created struct {
		Address storeapi.Address `json:"address"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	require.Equal(t, "150-0001", created.Address.Postal)
	require.Equal(t, "JP", created.Address.Country)
	require.True(t, created.Address.IsDefault)
	require.Contains(t, resp.Header.Get("HX-Trigger"), "Address saved.")

	resp, body = client.do(http.MethodPost, "/account/addresses", addressForm{
		Recipient: "Frank Ito",
		Line1:     "1 Main St",
		City:      "Portland",
		Postal:    "abc",
		Country:   "US",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Contains(t, string(body), `"postal"`)

	resp, body = client.do(http.MethodGet, "/account/addresses", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		Addresses []storeapi.Address `json:"addresses"`
	}
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed.Addresses, 1)

	resp, _ = client.do(http.MethodDelete, "/account/addresses/"+created.Address.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = client.do(http.MethodDelete, "/account/addresses/"+created.Address.ID, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAddressesRequireSignIn(t *testing.T) {
	_, ts := newTestServer(t)
	resp, body := newTestClient(t, ts, "").do(http.MethodGet, "/account/addresses", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, string(body), "unauthenticated")
}

func TestMessageEndpoints(t *testing.T) {
	_, ts := newTestServer(t)
	client := newTestClient(t, ts, "gina")

	resp, body := client.do(http.MethodGet, "/messages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var threads struct {
		Conversations []ConversationView `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(body, &threads))
	require.NotEmpty(t, threads.Conversations)
	id := threads.Conversations[0].ID
	require.NotEmpty(t, threads.Conversations[0].Updated)

	resp, body = client.do(http.MethodPost, "/messages/"+id, messageForm{Body: "  <b>Hi</b> there  "})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	require.Contains(t, string(body), `"body":"Hi there"`)

	resp, _ = client.do(http.MethodPost, "/messages/"+id, messageForm{Body: "<i></i>"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body = client.do(http.MethodGet, "/messages/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.Contains(string(body), "Hi there"))
}

type stubVerifier struct {
	tokens map[string]string
}

func (s *stubVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	uid, ok := s.tokens[idToken]
	if !ok {
		return nil, errors.New("token not issued")
	}
	return &firebaseauth.Token{UID: uid, Claims: map[string]interface{}{"email": uid + "@example.com"}}, nil
}

func TestProductionSignsInWithVerifiedIDToken(t *testing.T) {
	srv, ts := newTestServerWith(t, "production", &stubVerifier{tokens: map[string]string{"id-token-hana": "hana"}})
	client := newTestClient(t, ts, "")
	client.bearer = "Bearer id-token-hana"

	_, view := client.cart(http.MethodPost, "/cart/items", addItemForm{ProductID: "wool-coat", Quantity: 1})
	require.True(t, view.SignedIn)
	require.Len(t, view.Items, 1)
	require.Len(t, srv.api.Fake().CartLines("id-token-hana"), 1)
}

func TestProductionRejectsDebugToken(t *testing.T) {
	_, ts := newTestServerWith(t, "production", &stubVerifier{})
	resp, body := newTestClient(t, ts, "hana").do(http.MethodGet, "/cart", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, string(body), "invalid_token")
}
