package main

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"finitefield.org/fashion-web/internal/address"
	"finitefield.org/fashion-web/internal/auth"
	"finitefield.org/fashion-web/internal/notify"
	"finitefield.org/fashion-web/internal/platform/httpx"
	"finitefield.org/fashion-web/internal/platform/observability"
	"finitefield.org/fashion-web/internal/storeapi"
)

type addressForm struct {
	Label       string `json:"label"`
	Recipient   string `json:"recipient"`
	Company     string `json:"company"`
	Line1       string `json:"line1"`
	Line2       string `json:"line2"`
	City        string `json:"city"`
	Region      string `json:"region"`
	Postal      string `json:"postal"`
	Country     string `json:"country"`
	Phone       string `json:"phone"`
	MakeDefault bool   `json:"makeDefault"`
}

func (f addressForm) input(id string) address.Input {
	return address.Input{
		ID:          id,
		Label:       f.Label,
		Recipient:   f.Recipient,
		Company:     f.Company,
		Line1:       f.Line1,
		Line2:       f.Line2,
		City:        f.City,
		Region:      f.Region,
		Postal:      f.Postal,
		Country:     f.Country,
		Phone:       f.Phone,
		MakeDefault: f.MakeDefault,
	}
}

func (s *server) addressBook(r *http.Request, toasts *notify.Collector) *address.Book {
	user := auth.UserFromContext(r.Context())
	api := s.api
	if user != nil {
		api = api.ForToken(user.Token)
	}
	// NewBook only fails without an API, which is always set here.
	book, _ := address.NewBook(address.BookDeps{
		API:      api,
		User:     user,
		Notifier: toasts,
		Logger:   observability.FromContext(r.Context()),
	})
	return book
}

func (s *server) addressList(w http.ResponseWriter, r *http.Request) {
	toasts := notify.NewCollector()
	list, err := s.addressBook(r, toasts).List(r.Context())
	if err != nil {
		writeAddressError(w, r, toasts, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toasts, map[string]any{"addresses": list})
}

func (s *server) addressCreate(w http.ResponseWriter, r *http.Request) {
	s.saveAddress(w, r, "", http.StatusCreated)
}

func (s *server) addressUpdate(w http.ResponseWriter, r *http.Request) {
	s.saveAddress(w, r, chi.URLParam(r, "addressID"), http.StatusOK)
}

func (s *server) saveAddress(w http.ResponseWriter, r *http.Request, id string, status int) {
	var form addressForm
	if !decodeJSON(w, r, &form) {
		return
	}
	toasts := notify.NewCollector()
	saved, err := s.addressBook(r, toasts).Save(r.Context(), form.input(id))
	if err != nil {
		writeAddressError(w, r, toasts, err)
		return
	}
	httpx.WriteJSON(w, status, toasts, map[string]any{"address": saved})
}

func (s *server) addressDelete(w http.ResponseWriter, r *http.Request) {
	toasts := notify.NewCollector()
	if err := s.addressBook(r, toasts).Delete(r.Context(), chi.URLParam(r, "addressID")); err != nil {
		writeAddressError(w, r, toasts, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toasts, map[string]any{"deleted": true})
}

func (s *server) addressSetDefault(w http.ResponseWriter, r *http.Request) {
	toasts := notify.NewCollector()
	addr, err := s.addressBook(r, toasts).SetDefault(r.Context(), chi.URLParam(r, "addressID"))
	if err != nil {
		writeAddressError(w, r, toasts, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toasts, map[string]any{"address": addr})
}

func writeAddressError(w http.ResponseWriter, r *http.Request, toasts *notify.Collector, err error) {
	if field := address.FieldOf(err); field != "" {
		httpx.WriteError(r.Context(), w, toasts,
			httpx.NewError("invalid_address", "address is invalid", http.StatusUnprocessableEntity).WithField(field, "invalid"))
		return
	}
	switch {
	case errors.Is(err, address.ErrUnauthenticated):
		writeSignInRequired(w, r, toasts)
	case errors.Is(err, address.ErrIDRequired):
		httpx.WriteError(r.Context(), w, toasts, httpx.NewError("invalid_request", "address id is required", http.StatusBadRequest))
	default:
		writeBackendError(w, r, toasts, err)
	}
}

var _ address.API = (*storeapi.Client)(nil)
