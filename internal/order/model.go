package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

func (os OrderStatus) String() string {
	return string(os)
}

// ShippingAddress - снимок адреса на момент оформления, не ссылка на профиль.
type ShippingAddress struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a ShippingAddress) IsZero() bool {
	return a == ShippingAddress{}
}

type OrderItem struct {
	ID              uuid.UUID       `json:"id"`
	OrderID         uuid.UUID       `json:"order_id"`
	CostumeID       uuid.UUID       `json:"costume_id"`
	SellerID        uuid.UUID       `json:"seller_id"`
	Title           string          `json:"title"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
	Quantity        int             `json:"quantity"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.PriceAtPurchase.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID              uuid.UUID       `json:"id"`
	BuyerID         uuid.UUID       `json:"buyer_id"`
	Status          OrderStatus     `json:"status"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	Shipping        ShippingAddress `json:"shipping_address"`
	PaymentIntentID string          `json:"-"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	Items           []OrderItem     `json:"items"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (o *Order) IsPaid() bool {
	return o.PaidAt != nil
}

// SellerIDs возвращает продавцов заказа без повторов в порядке позиций.
func (o *Order) SellerIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(o.Items))
	ids := make([]uuid.UUID, 0, len(o.Items))
	for _, item := range o.Items {
		if _, ok := seen[item.SellerID]; ok {
			continue
		}
		seen[item.SellerID] = struct{}{}
		ids = append(ids, item.SellerID)
	}
	return ids
}

func (o *Order) HasSeller(id uuid.UUID) bool {
	for _, item := range o.Items {
		if item.SellerID == id {
			return true
		}
	}
	return false
}

// SellerSubtotal - сумма позиций одного продавца.
func (o *Order) SellerSubtotal(sellerID uuid.UUID) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range o.Items {
		if item.SellerID == sellerID {
			sum = sum.Add(item.Subtotal())
		}
	}
	return sum
}

// TotalOf складывает позиции по зафиксированным ценам.
func TotalOf(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// Sale - позиция, проданная конкретным продавцом, вместе со статусом заказа.
type Sale struct {
	OrderID         uuid.UUID       `json:"order_id"`
	OrderStatus     OrderStatus     `json:"order_status"`
	CostumeID       uuid.UUID       `json:"costume_id"`
	Title           string          `json:"title"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
	Shipping        ShippingAddress `json:"shipping_address"`
	CreatedAt       time.Time       `json:"created_at"`
}

type CheckoutLine struct {
	CostumeID uuid.UUID
	// Price - цена, которую видел клиент. Для расчёта не используется.
	Price    decimal.Decimal
	Quantity int
}

type CheckoutRequest struct {
	BuyerID        uuid.UUID
	Items          []CheckoutLine
	Shipping       ShippingAddress
	IdempotencyKey string
}

type CheckoutResult struct {
	OrderID         uuid.UUID       `json:"order_id"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	PaymentIntentID string          `json:"payment_intent_id"`
	ClientSecret    string          `json:"client_secret"`
}

// PaymentRef - непрозрачная ссылка на платёж для клиента.
type PaymentRef struct {
	IntentID     string
	ClientSecret string
}
