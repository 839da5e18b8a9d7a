package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/velstore/checkout/internal/auth"
	"github.com/velstore/checkout/internal/domain/order"
)

// fakeConn records pushed messages and can simulate a dead connection.
type fakeConn struct {
	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	closed  bool
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) messages(t *testing.T) []message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]message, len(c.sent))
	for i, raw := range c.sent {
		require.NoError(t, json.Unmarshal(raw, &out[i]))
	}
	return out
}

func testOrder(owner uuid.UUID) *order.Order {
	return &order.Order{ID: uuid.New(), Number: "ORD-1-TEST", UserID: &owner}
}

func TestHubOrderCreated(t *testing.T) {
	hub := NewHub(zap.NewNop())
	owner := uuid.New()

	ownerConn := &fakeConn{}
	staffConn := &fakeConn{}
	strangerConn := &fakeConn{}

	hub.Register(owner, nil, ownerConn)
	hub.Register(uuid.New(), []string{auth.RoleAdmin}, staffConn)
	hub.Register(uuid.New(), nil, strangerConn)

	o := testOrder(owner)
	hub.OrderCreated(context.Background(), o)

	ownerMsgs := ownerConn.messages(t)
	require.Len(t, ownerMsgs, 1)
	assert.Equal(t, EventOrderCreated, ownerMsgs[0].Type)
	assert.Equal(t, o.ID, ownerMsgs[0].Order.ID)

	staffMsgs := staffConn.messages(t)
	require.Len(t, staffMsgs, 1)
	assert.Equal(t, EventNewOrder, staffMsgs[0].Type)

	assert.Empty(t, strangerConn.messages(t))
}

func TestHubStaffOwnerGetsStaffEvent(t *testing.T) {
	hub := NewHub(zap.NewNop())
	staffOwner := uuid.New()
	conn := &fakeConn{}
	hub.Register(staffOwner, []string{auth.RoleConsultant}, conn)

	hub.OrderCreated(context.Background(), testOrder(staffOwner))

	msgs := conn.messages(t)
	require.Len(t, msgs, 1, "one session receives exactly one message")
	assert.Equal(t, EventNewOrder, msgs[0].Type)
}

func TestHubOrderStatusUpdated(t *testing.T) {
	hub := NewHub(zap.NewNop())
	owner := uuid.New()
	ownerConn := &fakeConn{}
	staffConn := &fakeConn{}
	hub.Register(owner, nil, ownerConn)
	hub.Register(uuid.New(), []string{auth.RoleAdmin}, staffConn)

	hub.OrderStatusUpdated(context.Background(), testOrder(owner))

	ownerMsgs := ownerConn.messages(t)
	require.Len(t, ownerMsgs, 1)
	assert.Equal(t, EventOrderStatusUpdated, ownerMsgs[0].Type)

	staffMsgs := staffConn.messages(t)
	require.Len(t, staffMsgs, 1)
	assert.Equal(t, EventOrderStatusUpdated, staffMsgs[0].Type)
}

func TestHubDeadConnectionIsSkipped(t *testing.T) {
	hub := NewHub(zap.NewNop())
	owner := uuid.New()
	dead := &fakeConn{sendErr: errors.New("broken pipe")}
	alive := &fakeConn{}
	hub.Register(owner, nil, dead)
	hub.Register(uuid.New(), []string{auth.RoleAdmin}, alive)

	// Must not panic or block; the healthy connection still gets its event.
	hub.OrderCreated(context.Background(), testOrder(owner))
	assert.Len(t, alive.messages(t), 1)
}

func TestHubUnregister(t *testing.T) {
	hub := NewHub(zap.NewNop())
	owner := uuid.New()
	conn := &fakeConn{}
	unregister := hub.Register(owner, nil, conn)

	unregister()
	unregister() // idempotent

	hub.OrderCreated(context.Background(), testOrder(owner))
	assert.Empty(t, conn.messages(t))
}

func TestHubAnonymousOrder(t *testing.T) {
	hub := NewHub(zap.NewNop())
	customer := &fakeConn{}
	staff := &fakeConn{}
	hub.Register(uuid.New(), nil, customer)
	hub.Register(uuid.New(), []string{auth.RoleAdmin}, staff)

	// Orders without an owner still reach staff.
	hub.OrderCreated(context.Background(), &order.Order{ID: uuid.New(), Number: "ORD-2-TEST"})
	assert.Empty(t, customer.messages(t))
	assert.Len(t, staff.messages(t), 1)
}
