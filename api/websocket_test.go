package api

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tabsync/config"
	"tabsync/core"
	"tabsync/notify"
	"tabsync/service"
)

const testSecret = "test-secret"

// serverFrame is the union of every frame shape the server sends, for
// test-side decoding.
type serverFrame struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	Version        int64          `json:"version"`
	Kind           core.DeltaKind `json:"kind"`
	Topics         []string       `json:"topics"`
	Code           string         `json:"code"`
	FullOrderState *core.Order    `json:"fullOrderState"`
}

type apiHarness struct {
	store *core.Store
	hub   *Hub
	svc   *service.OrderService
	api   *API
	url   string
}

func newAPIHarness(t *testing.T, logLimit int) *apiHarness {
	t.Helper()
	logger := zap.NewNop().Sugar()

	cfg := &config.Config{}
	cfg.Auth.JWTSecret = testSecret
	cfg.API.AllowedOrigins = []string{"*"}
	cfg.API.RateLimit.RequestsPerSecond = 1000
	cfg.API.RateLimit.Burst = 1000

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := core.NewStore(nil, nil, logLimit, logger)
	producer := core.NewProducer(store, 3, logger)
	hub := NewHub(ctx, store, HubConfig{SendBuffer: 32, PongTimeout: 10 * time.Second}, logger)
	hub.Start()
	t.Cleanup(hub.Stop)

	svc := service.NewOrderService(store, producer, hub, &notify.MockNotifier{}, logger)
	a := NewAPI(svc, hub, cfg, logger)

	srv := newTestHTTPServer(t, a)
	return &apiHarness{store: store, hub: hub, svc: svc, api: a, url: srv}
}

func mintToken(t *testing.T, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func waiterToken(t *testing.T, waiterID, restaurantID string) string {
	return mintToken(t, Claims{
		Role:         RoleWaiter,
		RestaurantID: restaurantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   waiterID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
}

func customerToken(t *testing.T, clientID, restaurantID, tableID string, orderIDs ...string) string {
	return mintToken(t, Claims{
		Role:         RoleCustomer,
		RestaurantID: restaurantID,
		TableID:      tableID,
		OrderIDs:     orderIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
}

func (h *apiHarness) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(h.url, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) serverFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f serverFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func subscribeTopics(t *testing.T, conn *websocket.Conn, topics ...string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(clientFrame{Type: frameTypeSubscribe, Topics: topics}))
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	h := newAPIHarness(t, 16)

	u := "ws" + strings.TrimPrefix(h.url, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketSubscribeAndReceiveDelta(t *testing.T) {
	h := newAPIHarness(t, 16)
	ctx := context.Background()

	order, err := h.svc.CreateOrder(ctx, "rest-1", "table-1")
	require.NoError(t, err)

	conn := h.dial(t, waiterToken(t, "waiter-1", "rest-1"))
	subscribeTopics(t, conn, "order:"+order.ID, "restaurant-broadcast:rest-1")

	ack := readFrame(t, conn)
	assert.Equal(t, frameTypeSubscribed, ack.Type)
	assert.ElementsMatch(t, []string{"order:" + order.ID, "restaurant-broadcast:rest-1"}, ack.Topics)

	_, err = h.svc.RequestMutation(ctx, order.ID, "waiter-1", service.MutationIntent{
		Kind:   core.DeltaStatus,
		Status: core.OrderStatusInProgress,
	})
	require.NoError(t, err)

	delta := readFrame(t, conn)
	assert.Equal(t, frameTypeDelta, delta.Type)
	assert.Equal(t, order.ID, delta.OrderID)
	assert.Equal(t, int64(1), delta.Version)
	assert.Equal(t, core.DeltaStatus, delta.Kind)
}

// A subscriber of both the order topic and a routed destination must get
// each delta exactly once.
func TestWebSocketDeliveryDeduplicatesAcrossTopics(t *testing.T) {
	h := newAPIHarness(t, 16)
	ctx := context.Background()

	order, err := h.svc.CreateOrder(ctx, "rest-1", "table-1")
	require.NoError(t, err)

	conn := h.dial(t, waiterToken(t, "waiter-1", "rest-1"))
	subscribeTopics(t, conn, "order:"+order.ID, "restaurant-broadcast:rest-1")
	readFrame(t, conn) // ack

	_, err = h.svc.RequestMutation(ctx, order.ID, "waiter-1", service.MutationIntent{
		Kind:   core.DeltaStatus,
		Status: core.OrderStatusInProgress,
	})
	require.NoError(t, err)

	first := readFrame(t, conn)
	assert.Equal(t, frameTypeDelta, first.Type)

	// Nothing else may arrive for that single mutation.
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var extra serverFrame
	err = conn.ReadJSON(&extra)
	assert.Error(t, err, "expected no duplicate frame, got %+v", extra)
}

func TestWebSocketUnauthorizedSubscriptionKeepsConnection(t *testing.T) {
	h := newAPIHarness(t, 16)
	ctx := context.Background()

	order, err := h.svc.CreateOrder(ctx, "rest-1", "table-1")
	require.NoError(t, err)

	conn := h.dial(t, customerToken(t, "client-1", "rest-1", "table-1"))

	// Customers may not attach to waiter or broadcast channels.
	subscribeTopics(t, conn, "waiter:waiter-1", "restaurant-broadcast:rest-1", "order:"+order.ID)

	var rejected []string
	var accepted []string
	for i := 0; i < 3; i++ {
		f := readFrame(t, conn)
		switch f.Type {
		case frameTypeError:
			rejected = append(rejected, f.Code)
		case frameTypeSubscribed:
			accepted = f.Topics
		}
	}
	assert.Equal(t, []string{"unauthorized_subscription", "unauthorized_subscription"}, rejected)
	assert.Equal(t, []string{"order:" + order.ID}, accepted)

	// The surviving subscription still delivers.
	_, err = h.svc.RequestMutation(ctx, order.ID, "client-1", service.MutationIntent{
		Kind:   core.DeltaDishesAdded,
		Dishes: []core.Dish{{DishID: "d-1", Name: "soup", Quantity: 1}},
	})
	require.NoError(t, err)

	delta := readFrame(t, conn)
	assert.Equal(t, frameTypeDelta, delta.Type)
	assert.Equal(t, core.DeltaDishesAdded, delta.Kind)
}

func TestWebSocketCustomerFromOtherTableRejected(t *testing.T) {
	h := newAPIHarness(t, 16)
	ctx := context.Background()

	order, err := h.svc.CreateOrder(ctx, "rest-1", "table-1")
	require.NoError(t, err)

	conn := h.dial(t, customerToken(t, "client-9", "rest-1", "table-8"))
	subscribeTopics(t, conn, "order:"+order.ID)

	f := readFrame(t, conn)
	assert.Equal(t, frameTypeError, f.Type)
	assert.Equal(t, "unauthorized_subscription", f.Code)
}

// A rejected order subscription must not leak history either: declaring
// a cursor for a foreign order yields the error frame and nothing else.
func TestWebSocketRejectedCursorGetsNoBackfill(t *testing.T) {
	h := newAPIHarness(t, 16)
	ctx := context.Background()

	order, err := h.svc.CreateOrder(ctx, "rest-1", "table-1")
	require.NoError(t, err)
	for _, status := range []core.OrderStatus{core.OrderStatusInProgress, core.OrderStatusServed} {
		_, err := h.svc.RequestMutation(ctx, order.ID, "waiter-1", service.MutationIntent{
			Kind:   core.DeltaStatus,
			Status: status,
		})
		require.NoError(t, err)
	}

	conn := h.dial(t, customerToken(t, "client-9", "rest-1", "table-8"))
	require.NoError(t, conn.WriteJSON(clientFrame{
		Type:   frameTypeSubscribe,
		Orders: []orderCursor{{OrderID: order.ID, LastKnownVersion: 0}},
	}))

	rejection := readFrame(t, conn)
	assert.Equal(t, frameTypeError, rejection.Type)
	assert.Equal(t, "unauthorized_subscription", rejection.Code)

	ack := readFrame(t, conn)
	require.Equal(t, frameTypeSubscribed, ack.Type)
	assert.Empty(t, ack.Topics)

	// No replayed deltas and no snapshot may follow.
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var extra serverFrame
	assert.Error(t, conn.ReadJSON(&extra), "unauthorized cursor received order state: %+v", extra)
}

func TestWebSocketBackfillReplaysMissedDeltas(t *testing.T) {
	h := newAPIHarness(t, 16)
	ctx := context.Background()

	order, err := h.svc.CreateOrder(ctx, "rest-1", "table-1")
	require.NoError(t, err)
	for _, status := range []core.OrderStatus{core.OrderStatusInProgress, core.OrderStatusServed, core.OrderStatusPaymentPending} {
		_, err := h.svc.RequestMutation(ctx, order.ID, "waiter-1", service.MutationIntent{
			Kind:   core.DeltaStatus,
			Status: status,
		})
		require.NoError(t, err)
	}

	// Reconnect declaring version 1: versions 2 and 3 must replay in order.
	conn := h.dial(t, waiterToken(t, "waiter-1", "rest-1"))
	require.NoError(t, conn.WriteJSON(clientFrame{
		Type:   frameTypeSubscribe,
		Orders: []orderCursor{{OrderID: order.ID, LastKnownVersion: 1}},
	}))

	ack := readFrame(t, conn)
	require.Equal(t, frameTypeSubscribed, ack.Type)
	assert.Equal(t, []string{"order:" + order.ID}, ack.Topics)

	second := readFrame(t, conn)
	assert.Equal(t, frameTypeDelta, second.Type)
	assert.Equal(t, int64(2), second.Version)

	third := readFrame(t, conn)
	assert.Equal(t, frameTypeDelta, third.Type)
	assert.Equal(t, int64(3), third.Version)
}

func TestWebSocketBackfillFallsBackToSnapshotBeyondWindow(t *testing.T) {
	h := newAPIHarness(t, 2)
	ctx := context.Background()

	order, err := h.svc.CreateOrder(ctx, "rest-1", "table-1")
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		_, err := h.svc.RequestMutation(ctx, order.ID, "waiter-1", service.MutationIntent{
			Kind:   core.DeltaStatus,
			Status: core.OrderStatusInProgress,
		})
		require.NoError(t, err)
	}

	conn := h.dial(t, waiterToken(t, "waiter-1", "rest-1"))
	require.NoError(t, conn.WriteJSON(clientFrame{
		Type:   frameTypeSubscribe,
		Orders: []orderCursor{{OrderID: order.ID, LastKnownVersion: 1}},
	}))

	ack := readFrame(t, conn)
	require.Equal(t, frameTypeSubscribed, ack.Type)

	snap := readFrame(t, conn)
	assert.Equal(t, frameTypeSnapshot, snap.Type)
	assert.Equal(t, order.ID, snap.OrderID)
	assert.Equal(t, int64(6), snap.Version)
	require.NotNil(t, snap.FullOrderState)
	assert.Equal(t, int64(6), snap.FullOrderState.Version)
}

func TestWebSocketUpToDateCursorReplaysNothing(t *testing.T) {
	h := newAPIHarness(t, 16)
	ctx := context.Background()

	order, err := h.svc.CreateOrder(ctx, "rest-1", "table-1")
	require.NoError(t, err)

	conn := h.dial(t, waiterToken(t, "waiter-1", "rest-1"))
	require.NoError(t, conn.WriteJSON(clientFrame{
		Type:   frameTypeSubscribe,
		Orders: []orderCursor{{OrderID: order.ID, LastKnownVersion: 0}},
	}))

	ack := readFrame(t, conn)
	require.Equal(t, frameTypeSubscribed, ack.Type)

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var extra serverFrame
	assert.Error(t, conn.ReadJSON(&extra), "expected no replay for an up-to-date cursor")
}

func TestWebSocketPing(t *testing.T) {
	h := newAPIHarness(t, 16)

	conn := h.dial(t, waiterToken(t, "waiter-1", "rest-1"))
	require.NoError(t, conn.WriteJSON(clientFrame{Type: frameTypePing}))

	f := readFrame(t, conn)
	assert.Equal(t, frameTypePong, f.Type)
}

// Publishing must never block the mutation path, even with the publish
// queue saturated and nothing draining it.
func TestHubPublishDoesNotBlockWhenQueueSaturated(t *testing.T) {
	logger := zap.NewNop().Sugar()
	store := core.NewStore(nil, nil, 16, logger)
	hub := NewHub(context.Background(), store, HubConfig{}, logger)
	// Deliberately not started: nothing drains the queue.

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 300; i++ {
			hub.PublishDelta([]core.Topic{core.OrderTopic("order-1")}, &core.Delta{
				OrderID: "order-1",
				Version: int64(i + 1),
				Kind:    core.DeltaStatus,
			})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a saturated queue")
	}
}

func TestWebSocketUnsubscribeStopsDelivery(t *testing.T) {
	h := newAPIHarness(t, 16)
	ctx := context.Background()

	order, err := h.svc.CreateOrder(ctx, "rest-1", "table-1")
	require.NoError(t, err)

	conn := h.dial(t, waiterToken(t, "waiter-1", "rest-1"))
	topic := "order:" + order.ID
	subscribeTopics(t, conn, topic)
	readFrame(t, conn) // ack

	require.NoError(t, conn.WriteJSON(clientFrame{Type: frameTypeUnsubscribe, Topics: []string{topic}}))

	// Give the unsubscribe time to land before publishing.
	require.Eventually(t, func() bool {
		return !h.hub.HasSubscribers([]core.Topic{core.Topic(topic)})
	}, time.Second, 10*time.Millisecond)

	_, err = h.svc.RequestMutation(ctx, order.ID, "waiter-1", service.MutationIntent{
		Kind:   core.DeltaStatus,
		Status: core.OrderStatusInProgress,
	})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var extra serverFrame
	assert.Error(t, conn.ReadJSON(&extra))
}
