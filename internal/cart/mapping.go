package cart

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"finitefield.org/fashion-web/internal/storeapi"
)

// PlaceholderImage is shown when neither the variant nor the product carries an image.
const PlaceholderImage = "/assets/img/placeholder-product.svg"

const defaultVariantKey = "default"

var errMalformedEntry = errors.New("cart: remote entry without product")

// The pricing precedence below duplicates the backend's rules on purpose: the cart view renders
// these snapshots without another round trip. Keep both sides in step.

// effectivePrice is variant discount price, else variant price, else zero.
func effectivePrice(v *storeapi.Variant) decimal.Decimal {
	if v != nil {
		if v.DiscountPrice.Valid {
			return v.DiscountPrice.Decimal
		}
		if v.Price.Valid {
			return v.Price.Decimal
		}
	}
	return decimal.Zero
}

// originalPrice is variant price, else product price, else zero.
func originalPrice(p *storeapi.Product, v *storeapi.Variant) decimal.Decimal {
	if v != nil && v.Price.Valid {
		return v.Price.Decimal
	}
	if p != nil && p.Price.Valid {
		return p.Price.Decimal
	}
	return decimal.Zero
}

// discountPercent is variant discount percent, else product discount percent, else zero.
func discountPercent(p *storeapi.Product, v *storeapi.Variant) decimal.Decimal {
	if v != nil && v.DiscountPercent.Valid {
		return v.DiscountPercent.Decimal
	}
	if p != nil && p.DiscountPercent.Valid {
		return p.DiscountPercent.Decimal
	}
	return decimal.Zero
}

func imageFor(p *storeapi.Product, v *storeapi.Variant) string {
	if v != nil && strings.TrimSpace(v.ImageURL) != "" {
		return v.ImageURL
	}
	if p != nil && strings.TrimSpace(p.ImageURL) != "" {
		return p.ImageURL
	}
	return PlaceholderImage
}

func variantInfo(v *storeapi.Variant) *VariantInfo {
	if v == nil {
		return nil
	}
	return &VariantInfo{Size: v.Size, Color: v.Color, SKU: v.SKU}
}

func variantID(v *storeapi.Variant) string {
	if v == nil {
		return ""
	}
	return v.ID
}

// RemoteKey is the cart key given to entries loaded from the remote cart.
func RemoteKey(productID, variantID string) string {
	if variantID == "" {
		variantID = defaultVariantKey
	}
	return productID + "-" + variantID
}

// LocalKey is the cart key given to items added from a product page.
func LocalKey(productID, variantID string) string {
	if variantID == "" {
		return productID
	}
	return productID + "-" + variantID
}

// MapRemoteItem converts a remote cart entry into a line item.
func MapRemoteItem(entry storeapi.CartItem) (LineItem, error) {
	p := entry.Product
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return LineItem{}, errMalformedEntry
	}
	v := entry.Variant
	vid := variantID(v)
	return LineItem{
		ID:              p.ID,
		CartKey:         RemoteKey(p.ID, vid),
		Name:            p.Name,
		Image:           imageFor(p, v),
		Price:           effectivePrice(v),
		OriginalPrice:   originalPrice(p, v),
		DiscountPercent: discountPercent(p, v),
		Qty:             clampQty(entry.Quantity),
		ProductID:       p.ID,
		VariantID:       vid,
		Variant:         variantInfo(v),
	}, nil
}

// MapRemoteCart converts every entry of a remote cart. Any malformed entry fails the whole payload.
func MapRemoteCart(entries []storeapi.CartItem) ([]LineItem, error) {
	items := make([]LineItem, 0, len(entries))
	for _, entry := range entries {
		item, err := MapRemoteItem(entry)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// ItemFromProduct builds the line item added for a product and its first variant, if any.
func ItemFromProduct(p storeapi.Product, qty int) LineItem {
	var v *storeapi.Variant
	if len(p.Variants) > 0 {
		first := p.Variants[0]
		v = &first
	}
	vid := variantID(v)
	return LineItem{
		ID:              p.ID,
		CartKey:         LocalKey(p.ID, vid),
		Name:            p.Name,
		Image:           imageFor(&p, v),
		Price:           effectivePrice(v),
		OriginalPrice:   originalPrice(&p, v),
		DiscountPercent: discountPercent(&p, v),
		Qty:             clampQty(qty),
		ProductID:       p.ID,
		VariantID:       vid,
		Variant:         variantInfo(v),
	}
}
