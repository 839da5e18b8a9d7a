// Package order implements the checkout transaction: stock reservation,
// bonus debits, promocode redemption and order persistence as one atomic
// unit of work.
package order

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/velstore/checkout/internal/domain/promo"
)

// Status is the order fulfillment state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusShipped, StatusDelivered, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// PaymentStatus is the payment confirmation state, orthogonal to fulfillment.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// Item is a line item snapshotted at order creation; immutable thereafter.
type Item struct {
	ProductID uuid.UUID       `json:"productId"`
	Name      string          `json:"name,omitempty"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

// Delivery holds the shipping details captured with the order.
type Delivery struct {
	Service string          `json:"service"`
	Type    string          `json:"type"`
	Address json.RawMessage `json:"address,omitempty"`
	Cost    decimal.Decimal `json:"cost"`
}

// Order is a customer order. Financial fields are fixed once computed at
// creation: total = subtotal - discount - bonuses used + delivery cost.
// Status transitions never recompute them; the only later balance mutation
// is the bonuses-earned credit on completion.
type Order struct {
	ID             uuid.UUID
	Number         string
	UserID         *uuid.UUID
	Items          []Item
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	BonusesUsed    int64
	BonusesEarned  int64
	PromocodeID    *uuid.UUID
	Delivery       Delivery
	PaymentMethod  string
	PaymentID      *string
	Status         Status
	PaymentStatus  PaymentStatus
	Total          decimal.Decimal

	CreatedAt   time.Time
	PaidAt      *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// orderJSON is the wire form of an Order, shared by the HTTP API and the
// websocket fan-out so both surfaces render orders identically.
type orderJSON struct {
	ID             uuid.UUID       `json:"id"`
	Number         string          `json:"orderNumber"`
	UserID         *uuid.UUID      `json:"userId,omitempty"`
	Items          []Item          `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	BonusesUsed    int64           `json:"bonusesUsed"`
	BonusesEarned  int64           `json:"bonusesEarned"`
	PromocodeID    *uuid.UUID      `json:"promocodeId,omitempty"`
	Delivery       Delivery        `json:"delivery"`
	PaymentMethod  string          `json:"paymentMethod"`
	PaymentID      *string         `json:"paymentId,omitempty"`
	Status         Status          `json:"status"`
	PaymentStatus  PaymentStatus   `json:"paymentStatus"`
	Total          decimal.Decimal `json:"total"`
	CreatedAt      time.Time       `json:"createdAt"`
	PaidAt         *time.Time      `json:"paidAt,omitempty"`
	ShippedAt      *time.Time      `json:"shippedAt,omitempty"`
	DeliveredAt    *time.Time      `json:"deliveredAt,omitempty"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// MarshalJSON renders the order in its public wire form.
func (o Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderJSON{
		ID:             o.ID,
		Number:         o.Number,
		UserID:         o.UserID,
		Items:          o.Items,
		Subtotal:       o.Subtotal,
		DiscountAmount: o.DiscountAmount,
		BonusesUsed:    o.BonusesUsed,
		BonusesEarned:  o.BonusesEarned,
		PromocodeID:    o.PromocodeID,
		Delivery:       o.Delivery,
		PaymentMethod:  o.PaymentMethod,
		PaymentID:      o.PaymentID,
		Status:         o.Status,
		PaymentStatus:  o.PaymentStatus,
		Total:          o.Total,
		CreatedAt:      o.CreatedAt,
		PaidAt:         o.PaidAt,
		ShippedAt:      o.ShippedAt,
		DeliveredAt:    o.DeliveredAt,
		CompletedAt:    o.CompletedAt,
		UpdatedAt:      o.UpdatedAt,
	})
}

// Sentinel errors for order validation and lookup.
var (
	ErrEmptyItems           = errors.New("items required")
	ErrNegativeBonuses      = errors.New("bonusesUsed must not be negative")
	ErrConflictingDiscounts = errors.New("a promocode and bonuses cannot be combined in one order")
	ErrInsufficientBonus    = errors.New("insufficient bonus balance")
	ErrNotFound             = errors.New("order not found")
	ErrInvalidStatus        = errors.New("unknown order status")
)

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID uuid.UUID
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID uuid.UUID
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InsufficientStockError reports a stock shortfall with enough detail for
// the client to correct the request.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: available %d, requested %d",
		e.Name, e.Available, e.Requested)
}

// BonusLimitError indicates the requested bonus amount exceeds the usable
// maximum for this order.
type BonusLimitError struct {
	MaxUsable int64
}

func (e *BonusLimitError) Error() string {
	return fmt.Sprintf("at most %d bonuses can be used for this order", e.MaxUsable)
}

// ProductStock is the locked view of a product row during checkout.
type ProductStock struct {
	ID    uuid.UUID
	Name  string
	Price decimal.Decimal
	Stock int
}

// TxStore is the set of persistence operations available inside one checkout
// transaction. Methods with ForUpdate in the name must lock the returned row
// until the transaction ends; the service relies on those locks to serialize
// competing orders over the same stock, balance, or promocode.
type TxStore interface {
	PromoForUpdateByCode(ctx context.Context, code string) (*promo.Promocode, error)
	PromoByID(ctx context.Context, id uuid.UUID) (*promo.Promocode, error)
	PromoUsageExists(ctx context.Context, promoID, userID uuid.UUID) (bool, error)
	DeletePromo(ctx context.Context, id uuid.UUID) error
	InsertPromoUsage(ctx context.Context, promoID, userID, orderID uuid.UUID) error

	ProductForUpdate(ctx context.Context, id uuid.UUID) (*ProductStock, error)
	UpdateProductStock(ctx context.Context, id uuid.UUID, stock int) error

	BonusBalanceForUpdate(ctx context.Context, userID uuid.UUID) (int64, error)
	UpdateBonusBalance(ctx context.Context, userID uuid.UUID, balance int64) error
	CreditBonuses(ctx context.Context, userID uuid.UUID, amount int64) error

	InsertOrder(ctx context.Context, o *Order) error
	OrderForUpdate(ctx context.Context, id uuid.UUID) (*Order, error)
	OrderForUpdateByPaymentID(ctx context.Context, paymentID string) (*Order, error)
	UpdateOrderStatus(ctx context.Context, o *Order) error

	DeleteCartItems(ctx context.Context, userID uuid.UUID) error
}

// Store provides transactional and read access to order state.
type Store interface {
	// WithinTx runs fn inside a single database transaction with row-level
	// locking. An error from fn rolls back every effect.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error

	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	ListOrders(ctx context.Context, userID *uuid.UUID) ([]Order, error)
}

// Notifier receives order lifecycle events after a successful commit.
// Implementations must be best-effort: delivery failures are logged by the
// implementation and never propagate back into the checkout path.
type Notifier interface {
	OrderCreated(ctx context.Context, o *Order)
	OrderStatusUpdated(ctx context.Context, o *Order)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) OrderCreated(context.Context, *Order)       {}
func (NopNotifier) OrderStatusUpdated(context.Context, *Order) {}
