package main

import (
	"github.com/shopspring/decimal"

	"finitefield.org/fashion-web/internal/cart"
	"finitefield.org/fashion-web/internal/format"
)

// CartView is the JSON shape of the bag returned by every cart endpoint.
type CartView struct {
	SignedIn         bool       `json:"signedIn"`
	Loaded           bool       `json:"loaded"`
	Items            []LineView `json:"items"`
	Count            int        `json:"count"`
	Subtotal         string     `json:"subtotal"`
	Selected         []string   `json:"selected"`
	SelectedSubtotal string     `json:"selectedSubtotal"`
}

// LineView is one bag line with display-ready prices.
type LineView struct {
	CartKey         string            `json:"cartKey"`
	Name            string            `json:"name"`
	Image           string            `json:"image"`
	Qty             int               `json:"qty"`
	ProductID       string            `json:"productId"`
	VariantID       string            `json:"variantId,omitempty"`
	Variant         *cart.VariantInfo `json:"variant,omitempty"`
	Price           string            `json:"price"`
	OriginalPrice   string            `json:"originalPrice"`
	DiscountPercent string            `json:"discountPercent,omitempty"`
	LineTotal       string            `json:"lineTotal"`
}

func buildCartView(store *cart.Store, signedIn bool, currency, lang string) CartView {
	items := store.Items()
	view := CartView{
		SignedIn: signedIn,
		Loaded:   store.Loaded(),
		Items:    make([]LineView, 0, len(items)),
		Count:    store.Count(),
		Subtotal: format.Money(store.Subtotal(), currency, lang),
		Selected: []string{},
	}
	for _, item := range items {
		line := LineView{
			CartKey:       item.CartKey,
			Name:          item.Name,
			Image:         item.Image,
			Qty:           item.Qty,
			ProductID:     item.ProductID,
			VariantID:     item.VariantID,
			Variant:       item.Variant,
			Price:         format.Money(item.Price, currency, lang),
			OriginalPrice: format.Money(item.OriginalPrice, currency, lang),
			LineTotal:     format.Money(item.LineTotal(), currency, lang),
		}
		if item.DiscountPercent.IsPositive() {
			line.DiscountPercent = format.Percent(item.DiscountPercent)
		}
		view.Items = append(view.Items, line)
	}

	selectedTotal := decimal.Zero
	for _, item := range store.Selected() {
		view.Selected = append(view.Selected, item.CartKey)
		selectedTotal = selectedTotal.Add(item.LineTotal())
	}
	view.SelectedSubtotal = format.Money(selectedTotal, currency, lang)
	return view
}
