package order

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/velstore/checkout/internal/domain/bonus"
	"github.com/velstore/checkout/internal/domain/promo"
)

// Config holds the business parameters of the checkout service.
type Config struct {
	// DeliveryCost is the flat delivery fee added to every order total.
	DeliveryCost decimal.Decimal
	// BonusCapPercent limits bonus usage to this share of the subtotal.
	BonusCapPercent int64
	// Cashback configures bonus accrual rates.
	Cashback promo.CashbackRates
}

// Service executes checkout transactions against a Store.
type Service struct {
	store    Store
	notifier Notifier
	cfg      Config
	now      func() time.Time
}

// NewService creates a checkout Service. A nil notifier disables fan-out.
func NewService(store Store, notifier Notifier, cfg Config) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// ItemRequest is a submitted line item. The unit price is the client's
// snapshot of the catalog price at cart time.
type ItemRequest struct {
	ProductID uuid.UUID       `json:"productId"`
	UnitPrice decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// CreateRequest is the input for creating an order.
type CreateRequest struct {
	Items           []ItemRequest   `json:"items"`
	PromoCode       string          `json:"promocode,omitempty"`
	BonusesUsed     int64           `json:"bonusesUsed,omitempty"`
	DeliveryService string          `json:"deliveryService"`
	DeliveryType    string          `json:"deliveryType"`
	DeliveryAddress json.RawMessage `json:"deliveryAddress,omitempty"`
	PaymentMethod   string          `json:"paymentMethod"`
	// PaymentID is the provider-assigned payment identifier, set when the
	// payment intent is registered with the gateway. The payment webhook
	// resolves the order through it.
	PaymentID string `json:"paymentId,omitempty"`
}

// Create runs the full checkout transaction for userID. Either every effect
// commits (stock decremented, bonuses debited, promocode consumed, order
// inserted, cart cleared) or none does. On success a fan-out notification is
// sent outside the transaction.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, req CreateRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
	}
	if req.BonusesUsed < 0 {
		return nil, ErrNegativeBonuses
	}

	// A single order may use either a promocode or bonuses, never both.
	if req.PromoCode != "" && req.BonusesUsed > 0 {
		return nil, ErrConflictingDiscounts
	}

	// The subtotal is always recomputed server-side from the line items;
	// a client-submitted aggregate is never trusted.
	subtotal := decimal.Zero
	for _, item := range req.Items {
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	now := s.now()
	o := &Order{
		ID:            uuid.New(),
		Number:        generateOrderNumber(now),
		UserID:        &userID,
		Subtotal:      subtotal,
		BonusesUsed:   req.BonusesUsed,
		PaymentMethod: req.PaymentMethod,
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		Delivery: Delivery{
			Service: req.DeliveryService,
			Type:    req.DeliveryType,
			Address: req.DeliveryAddress,
			Cost:    s.cfg.DeliveryCost,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.PaymentID != "" {
		o.PaymentID = &req.PaymentID
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx TxStore) error {
		// Lock the user's balance row first when bonuses are in play so the
		// usable-maximum check and the later debit see the same balance.
		var balance int64
		if req.BonusesUsed > 0 {
			var err error
			balance, err = tx.BonusBalanceForUpdate(ctx, userID)
			if err != nil {
				return errors.Wrap(err, "lock bonus balance")
			}
			maxUsable := bonus.MaxUsable(balance, subtotal, s.cfg.BonusCapPercent)
			if req.BonusesUsed > maxUsable {
				return &BonusLimitError{MaxUsable: maxUsable}
			}
		}

		// Validate and price the promocode under a row lock so a single_use
		// code cannot be redeemed by two concurrent orders.
		var applied *promo.Promocode
		if req.PromoCode != "" {
			p, err := tx.PromoForUpdateByCode(ctx, strings.ToUpper(req.PromoCode))
			if err != nil {
				return err
			}
			usageExists := false
			if p != nil && p.Type == promo.TypeTemporary {
				usageExists, err = tx.PromoUsageExists(ctx, p.ID, userID)
				if err != nil {
					return errors.Wrap(err, "check promocode usage")
				}
			}
			if err := promo.Validate(p, subtotal, now, usageExists); err != nil {
				return err
			}
			o.DiscountAmount = promo.ComputeDiscount(p, subtotal)
			o.PromocodeID = &p.ID
			applied = p
		}

		o.Total = subtotal.
			Sub(o.DiscountAmount).
			Sub(decimal.NewFromInt(o.BonusesUsed)).
			Add(s.cfg.DeliveryCost)
		o.BonusesEarned = promo.Cashback(o.Total, o.BonusesUsed > 0, o.DiscountAmount.Sign() > 0, s.cfg.Cashback)

		// Reserve stock: lock each product row, verify, decrement. A blind
		// decrement could race the balance below zero.
		o.Items = make([]Item, len(req.Items))
		for i, item := range req.Items {
			p, err := tx.ProductForUpdate(ctx, item.ProductID)
			if err != nil {
				return errors.Wrapf(err, "lock product %s", item.ProductID)
			}
			if p == nil {
				return &ProductNotFoundError{ProductID: item.ProductID}
			}
			if p.Stock < item.Quantity {
				return &InsufficientStockError{
					ProductID: p.ID,
					Name:      p.Name,
					Available: p.Stock,
					Requested: item.Quantity,
				}
			}
			if !p.Price.Equal(item.UnitPrice) {
				// The order honours the cart snapshot; the divergence is
				// surfaced for catalog reconciliation.
				zctx.From(ctx).Warn("Cart price differs from catalog",
					zap.String("product_id", p.ID.String()),
					zap.String("cart_price", item.UnitPrice.String()),
					zap.String("catalog_price", p.Price.String()),
				)
			}
			if err := tx.UpdateProductStock(ctx, p.ID, p.Stock-item.Quantity); err != nil {
				return errors.Wrapf(err, "decrement stock for %s", p.ID)
			}
			o.Items[i] = Item{
				ProductID: item.ProductID,
				Name:      p.Name,
				UnitPrice: item.UnitPrice,
				Quantity:  item.Quantity,
			}
		}

		// Debit bonuses under the lock taken above.
		if req.BonusesUsed > 0 {
			if balance < req.BonusesUsed {
				return ErrInsufficientBonus
			}
			if err := tx.UpdateBonusBalance(ctx, userID, balance-req.BonusesUsed); err != nil {
				return errors.Wrap(err, "debit bonuses")
			}
		}

		// Consume the promocode. single_use codes are destroyed; temporary
		// codes get a usage record after the order row exists.
		if applied != nil && applied.Type == promo.TypeSingleUse {
			if err := tx.DeletePromo(ctx, applied.ID); err != nil {
				return errors.Wrap(err, "consume single_use promocode")
			}
		}

		if err := tx.InsertOrder(ctx, o); err != nil {
			return errors.Wrap(err, "insert order")
		}

		// Usage is committed at creation time so a second concurrent order by
		// the same user cannot also claim the code; the unique constraint on
		// (promocode, user) backs the earlier locked check.
		if applied != nil && applied.Type == promo.TypeTemporary {
			if err := tx.InsertPromoUsage(ctx, applied.ID, userID, o.ID); err != nil {
				return errors.Wrap(err, "record promocode usage")
			}
		}

		if err := tx.DeleteCartItems(ctx, userID); err != nil {
			return errors.Wrap(err, "clear cart")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.OrderCreated(ctx, o)
	return o, nil
}

// ConfirmPayment marks the order identified by the provider payment id as
// paid and finalizes temporary-promocode usage bookkeeping. Reprocessing an
// already-paid order is a no-op, so webhook redelivery is safe.
func (s *Service) ConfirmPayment(ctx context.Context, paymentID string) (*Order, error) {
	var confirmed *Order
	updated := false
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx TxStore) error {
		o, err := tx.OrderForUpdateByPaymentID(ctx, paymentID)
		if err != nil {
			return err
		}
		confirmed = o

		if o.PaymentStatus == PaymentPaid {
			return nil
		}

		now := s.now()
		o.PaymentStatus = PaymentPaid
		o.Status = StatusPaid
		o.PaidAt = &now
		o.UpdatedAt = now
		if err := tx.UpdateOrderStatus(ctx, o); err != nil {
			return errors.Wrap(err, "mark order paid")
		}

		// Backfill the usage record for temporary promocodes. Normally it
		// exists from creation time; the single_use row is already gone.
		if o.PromocodeID != nil && o.UserID != nil {
			p, err := tx.PromoByID(ctx, *o.PromocodeID)
			if err != nil {
				return errors.Wrap(err, "load promocode")
			}
			if p != nil && p.Type == promo.TypeTemporary {
				exists, err := tx.PromoUsageExists(ctx, p.ID, *o.UserID)
				if err != nil {
					return errors.Wrap(err, "check promocode usage")
				}
				if !exists {
					if err := tx.InsertPromoUsage(ctx, p.ID, *o.UserID, o.ID); err != nil {
						return errors.Wrap(err, "record promocode usage")
					}
				}
			}
		}
		updated = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if updated {
		s.notifier.OrderStatusUpdated(ctx, confirmed)
	}
	return confirmed, nil
}

// UpdateStatus transitions an order to the given status, stamping the
// matching timestamp. The completed transition credits bonuses earned to the
// user exactly once: a repeated completed call is a no-op for the balance.
func (s *Service) UpdateStatus(ctx context.Context, orderID uuid.UUID, status Status) (*Order, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	var result *Order
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx TxStore) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		now := s.now()
		switch status {
		case StatusPaid:
			o.PaymentStatus = PaymentPaid
			if o.PaidAt == nil {
				o.PaidAt = &now
			}
		case StatusShipped:
			if o.ShippedAt == nil {
				o.ShippedAt = &now
			}
		case StatusDelivered:
			if o.DeliveredAt == nil {
				o.DeliveredAt = &now
			}
		case StatusCompleted:
			if o.CompletedAt == nil {
				o.CompletedAt = &now
				if o.UserID != nil && o.BonusesEarned > 0 {
					if err := tx.CreditBonuses(ctx, *o.UserID, o.BonusesEarned); err != nil {
						return errors.Wrap(err, "credit bonuses")
					}
				}
			}
		}
		o.Status = status
		o.UpdatedAt = now

		if err := tx.UpdateOrderStatus(ctx, o); err != nil {
			return errors.Wrap(err, "update order status")
		}
		result = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.OrderStatusUpdated(ctx, result)
	return result, nil
}

// Get returns a single order.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.store.GetOrder(ctx, id)
}

// List returns orders for one user, or all orders when userID is nil.
func (s *Service) List(ctx context.Context, userID *uuid.UUID) ([]Order, error) {
	return s.store.ListOrders(ctx, userID)
}

// generateOrderNumber builds a human-readable order number. The random
// suffix keeps collisions unlikely; the unique constraint on order_number
// is what actually guarantees uniqueness.
func generateOrderNumber(now time.Time) string {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), strings.ToUpper(hex.EncodeToString(buf[:])))
}
