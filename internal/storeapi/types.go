package storeapi

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product mirrors the catalog product payload returned by the storefront API.
type Product struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Price           decimal.NullDecimal `json:"price"`
	DiscountPercent decimal.NullDecimal `json:"discountPercent"`
	ImageURL        string              `json:"imageUrl,omitempty"`
	Variants        []Variant           `json:"variants,omitempty"`
}

// Variant is a purchasable configuration of a product.
type Variant struct {
	ID              string              `json:"id"`
	Size            string              `json:"size,omitempty"`
	Color           string              `json:"color,omitempty"`
	SKU             string              `json:"sku,omitempty"`
	Price           decimal.NullDecimal `json:"price"`
	DiscountPrice   decimal.NullDecimal `json:"discountPrice"`
	DiscountPercent decimal.NullDecimal `json:"discountPercent"`
	ImageURL        string              `json:"imageUrl,omitempty"`
}

// CartItem is one entry of the remote cart.
type CartItem struct {
	ID       string   `json:"id"`
	Quantity int      `json:"quantity"`
	Product  *Product `json:"product"`
	Variant  *Variant `json:"variant,omitempty"`
}

// CartData wraps the remote cart entries.
type CartData struct {
	CartItems []CartItem `json:"cartItems"`
}

// CartResponse is the payload of GET /cart.
type CartResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
	Data    *CartData `json:"data"`
}

// CartItemRequest addresses a remote cart line for add, update and remove.
type CartItemRequest struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Quantity  int    `json:"quantity"`
}

// Result is the acknowledgement returned by cart mutations.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Address is a saved shipping or billing address.
type Address struct {
	ID        string    `json:"id,omitempty"`
	Label     string    `json:"label,omitempty"`
	Recipient string    `json:"recipient"`
	Company   string    `json:"company,omitempty"`
	Line1     string    `json:"line1"`
	Line2     string    `json:"line2,omitempty"`
	City      string    `json:"city"`
	Region    string    `json:"region,omitempty"`
	Postal    string    `json:"postal"`
	Country   string    `json:"country"`
	Phone     string    `json:"phone,omitempty"`
	IsDefault bool      `json:"isDefault"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Conversation is a support thread between the customer and the shop.
type Conversation struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Unread    int       `json:"unread"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is a single chat entry inside a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Author         string    `json:"author"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sentAt"`
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data"`
}
