package cart

import (
	"sync"

	"github.com/shopspring/decimal"
)

// VariantInfo is the denormalized size/color/SKU description of a purchased variant.
type VariantInfo struct {
	Size  string `json:"size,omitempty"`
	Color string `json:"color,omitempty"`
	SKU   string `json:"sku,omitempty"`
}

// LineItem is a purchasable unit in the cart. Pricing and display fields are snapshots taken
// when the item was added or reloaded.
type LineItem struct {
	ID              string          `json:"id"`
	CartKey         string          `json:"cartKey"`
	Name            string          `json:"name"`
	Image           string          `json:"image"`
	Price           decimal.Decimal `json:"price"`
	OriginalPrice   decimal.Decimal `json:"originalPrice"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	Qty             int             `json:"qty"`
	ProductID       string          `json:"productId"`
	VariantID       string          `json:"variantId,omitempty"`
	Variant         *VariantInfo    `json:"variant,omitempty"`
}

// LineTotal returns Price multiplied by Qty.
func (i LineItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Qty)))
}

func (i LineItem) clone() LineItem {
	if i.Variant != nil {
		v := *i.Variant
		i.Variant = &v
	}
	return i
}

// Store holds the cart state of one session. It never performs I/O.
//
// Every operation is safe for concurrent use. Operations on absent keys are no-ops.
type Store struct {
	mu       sync.RWMutex
	items    []LineItem
	selected []LineItem
	loaded   bool
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Load replaces the items wholesale. The selection is left as is.
func (s *Store) Load(items []LineItem) {
	next := make([]LineItem, 0, len(items))
	for _, item := range items {
		next = append(next, normalise(item))
	}
	s.mu.Lock()
	s.items = next
	s.loaded = true
	s.mu.Unlock()
}

// Add increments the quantity of the item sharing the same cart key, or appends the item.
func (s *Store) Add(item LineItem) {
	item = normalise(item)
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOf(item.CartKey); idx >= 0 {
		s.items[idx].Qty += item.Qty
		return
	}
	s.items = append(s.items, item)
}

// UpdateQuantity sets the quantity of the item to max(1, qty).
func (s *Store) UpdateQuantity(cartKey string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOf(cartKey); idx >= 0 {
		s.items[idx].Qty = clampQty(qty)
	}
}

// Remove deletes the item with the given cart key.
func (s *Store) Remove(cartKey string) {
	s.RemoveMultiple([]string{cartKey})
}

// RemoveMultiple deletes every item whose cart key is in cartKeys.
func (s *Store) RemoveMultiple(cartKeys []string) {
	if len(cartKeys) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(cartKeys))
	for _, key := range cartKeys {
		drop[key] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.items[:0]
	for _, item := range s.items {
		if _, ok := drop[item.CartKey]; ok {
			continue
		}
		kept = append(kept, item)
	}
	// zero the tail so removed items do not linger in the backing array
	for i := len(kept); i < len(s.items); i++ {
		s.items[i] = LineItem{}
	}
	s.items = kept
}

// Clear empties both the items and the selection.
func (s *Store) Clear() {
	s.mu.Lock()
	s.items = nil
	s.selected = nil
	s.mu.Unlock()
}

// SetSelected replaces the checkout selection snapshot.
func (s *Store) SetSelected(items []LineItem) {
	next := make([]LineItem, 0, len(items))
	for _, item := range items {
		next = append(next, item.clone())
	}
	s.mu.Lock()
	s.selected = next
	s.mu.Unlock()
}

// ClearSelected empties the selection snapshot.
func (s *Store) ClearSelected() {
	s.mu.Lock()
	s.selected = nil
	s.mu.Unlock()
}

// Items returns a copy of the line items in insertion order.
func (s *Store) Items() []LineItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneItems(s.items)
}

// Selected returns a copy of the selection snapshot.
func (s *Store) Selected() []LineItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneItems(s.selected)
}

// Find returns the item stored under cartKey.
func (s *Store) Find(cartKey string) (LineItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx := s.indexOf(cartKey); idx >= 0 {
		return s.items[idx].clone(), true
	}
	return LineItem{}, false
}

// Count is the sum of quantities across items.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, item := range s.items {
		total += item.Qty
	}
	return total
}

// Subtotal is the sum of line totals across items.
func (s *Store) Subtotal() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, item := range s.items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// Loaded reports whether a full reload has populated the store at least once.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Reset clears the store and forgets that it was loaded.
func (s *Store) Reset() {
	s.mu.Lock()
	s.items = nil
	s.selected = nil
	s.loaded = false
	s.mu.Unlock()
}

func (s *Store) indexOf(cartKey string) int {
	for i := range s.items {
		if s.items[i].CartKey == cartKey {
			return i
		}
	}
	return -1
}

func normalise(item LineItem) LineItem {
	item = item.clone()
	item.Qty = clampQty(item.Qty)
	return item
}

func clampQty(qty int) int {
	if qty < 1 {
		return 1
	}
	return qty
}

func cloneItems(items []LineItem) []LineItem {
	out := make([]LineItem, 0, len(items))
	for _, item := range items {
		out = append(out, item.clone())
	}
	return out
}
