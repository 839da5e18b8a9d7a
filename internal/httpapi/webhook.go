package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/velstore/checkout/internal/domain/order"
)

const (
	signatureHeader = "X-Webhook-Signature"

	// eventPaymentSucceeded is the only provider event that mutates state;
	// everything else is acknowledged and dropped.
	eventPaymentSucceeded = "payment.succeeded"
)

// paymentEvent is the subset of the provider notification the handler needs.
type paymentEvent struct {
	event     string
	paymentID string
	orderID   string
}

// handlePaymentWebhook processes payment provider notifications. The
// signature is an HMAC-SHA256 hex digest over the exact raw body, so the
// body is read before any parsing and verified byte for byte.
func (h *Handler) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "cannot read body")
		return
	}

	if !verifySignature(h.webhookSecret, body, r.Header.Get(signatureHeader)) {
		lg.Warn("Webhook signature rejected")
		respondError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	ev, err := parsePaymentEvent(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed event")
		return
	}

	if ev.event != eventPaymentSucceeded {
		lg.Debug("Webhook event ignored", zap.String("event", ev.event))
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if ev.paymentID == "" {
		respondError(w, http.StatusBadRequest, "payment id missing")
		return
	}

	o, err := h.orders.ConfirmPayment(ctx, ev.paymentID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			lg.Warn("Webhook for unknown payment", zap.String("payment_id", ev.paymentID))
			respondError(w, http.StatusNotFound, "order not found")
			return
		}
		lg.Error("Payment confirmation failed",
			zap.Error(err), zap.String("payment_id", ev.paymentID))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	lg.Info("Payment confirmed",
		zap.String("payment_id", ev.paymentID),
		zap.String("order_number", o.Number),
		zap.String("metadata_order_id", ev.orderID),
	)
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// verifySignature checks the hex HMAC-SHA256 digest of body against the
// provided header value in constant time.
func verifySignature(secret, body []byte, header string) bool {
	if header == "" {
		return false
	}
	sig, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}

// parsePaymentEvent extracts event type, payment id, and metadata order id,
// skipping everything else in the payload.
func parsePaymentEvent(body []byte) (paymentEvent, error) {
	var ev paymentEvent
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "event":
			v, err := d.Str()
			ev.event = v
			return err
		case "object":
			if d.Next() != jx.Object {
				return d.Skip()
			}
			return d.Obj(func(d *jx.Decoder, key string) error {
				switch key {
				case "id":
					v, err := d.Str()
					ev.paymentID = v
					return err
				case "metadata":
					if d.Next() != jx.Object {
						return d.Skip()
					}
					return d.Obj(func(d *jx.Decoder, key string) error {
						if key != "order_id" {
							return d.Skip()
						}
						v, err := d.Str()
						ev.orderID = v
						return err
					})
				default:
					return d.Skip()
				}
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return paymentEvent{}, errors.Wrap(err, "decode payment event")
	}
	return ev, nil
}
