// Package notify implements best-effort fan-out of order lifecycle events to
// connected customer and staff sessions. The connection registry is transient
// process state: it is rebuilt from zero on restart and nothing durable
// depends on it.
package notify

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/velstore/checkout/internal/auth"
	"github.com/velstore/checkout/internal/domain/order"
)

// Event types pushed to live sessions.
const (
	EventNewOrder           = "new_order"
	EventOrderCreated       = "order_created"
	EventOrderStatusUpdated = "order_status_updated"
)

// maxConcurrentSends bounds the number of in-flight pushes per broadcast.
const maxConcurrentSends = 16

// Conn is a live client connection capable of receiving pushed messages.
// Send must be safe for concurrent use.
type Conn interface {
	Send(data []byte) error
	Close() error
}

// Directory registers live connections for fan-out. Implementations must
// tolerate a connection dropping concurrently with a broadcast.
type Directory interface {
	// Register adds a connection for the user and returns a function that
	// removes it again. The returned function is idempotent.
	Register(userID uuid.UUID, roles []string, conn Conn) (unregister func())
}

// message is the envelope pushed over the wire.
type message struct {
	Type  string       `json:"type"`
	Order *order.Order `json:"order"`
}

type session struct {
	userID uuid.UUID
	roles  []string
	conn   Conn
}

func (s *session) isStaff() bool {
	return slices.Contains(s.roles, auth.RoleAdmin) || slices.Contains(s.roles, auth.RoleConsultant)
}

// Hub is an in-memory Directory and order.Notifier. Delivery is
// fire-and-forget: a dead connection is logged and skipped, never surfaced
// to the request that triggered the event.
type Hub struct {
	lg *zap.Logger

	mu       sync.RWMutex
	sessions map[*session]struct{}
}

var (
	_ Directory      = (*Hub)(nil)
	_ order.Notifier = (*Hub)(nil)
)

// NewHub creates an empty Hub.
func NewHub(lg *zap.Logger) *Hub {
	return &Hub{
		lg:       lg,
		sessions: make(map[*session]struct{}),
	}
}

// Register adds a connection. Multiple concurrent connections per user are
// allowed (several tabs, devices).
func (h *Hub) Register(userID uuid.UUID, roles []string, conn Conn) func() {
	s := &session{userID: userID, roles: roles, conn: conn}

	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.sessions, s)
			h.mu.Unlock()
		})
	}
}

// OrderCreated notifies the ordering customer and all connected staff.
// Staff receive a new_order event, the customer an order_created event.
func (h *Hub) OrderCreated(ctx context.Context, o *order.Order) {
	h.broadcast(ctx, o, EventOrderCreated, EventNewOrder)
}

// OrderStatusUpdated notifies the owning customer and all connected staff.
func (h *Hub) OrderStatusUpdated(ctx context.Context, o *order.Order) {
	h.broadcast(ctx, o, EventOrderStatusUpdated, EventOrderStatusUpdated)
}

// broadcast pushes the event to the order's owner and to every staff
// session. Each session gets at most one message; a staff member who owns
// the order receives the staff variant.
func (h *Hub) broadcast(ctx context.Context, o *order.Order, customerEvent, staffEvent string) {
	customerMsg, err := json.Marshal(message{Type: customerEvent, Order: o})
	if err != nil {
		h.lg.Error("Encoding fan-out message failed", zap.Error(err), zap.String("order", o.ID.String()))
		return
	}
	staffMsg := customerMsg
	if staffEvent != customerEvent {
		staffMsg, err = json.Marshal(message{Type: staffEvent, Order: o})
		if err != nil {
			h.lg.Error("Encoding fan-out message failed", zap.Error(err), zap.String("order", o.ID.String()))
			return
		}
	}

	// Snapshot the targets so sends happen without holding the lock and a
	// concurrent unregister cannot invalidate the iteration.
	type target struct {
		s   *session
		msg []byte
	}
	h.mu.RLock()
	targets := make([]target, 0, len(h.sessions))
	for s := range h.sessions {
		switch {
		case s.isStaff():
			targets = append(targets, target{s: s, msg: staffMsg})
		case o.UserID != nil && s.userID == *o.UserID:
			targets = append(targets, target{s: s, msg: customerMsg})
		}
	}
	h.mu.RUnlock()

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSends)
	for _, t := range targets {
		g.Go(func() error {
			if err := t.s.conn.Send(t.msg); err != nil {
				// Offline or dead connections are normal; never an error for
				// the caller.
				h.lg.Debug("Fan-out send failed",
					zap.Error(err),
					zap.String("user", t.s.userID.String()),
					zap.String("order", o.ID.String()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}
