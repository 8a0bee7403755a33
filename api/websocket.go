// WebSocket connection hub: manages persistent client connections, topic
// subscription membership, delta delivery and reconnection backfill.
package api

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tabsync/core"
	"tabsync/metrics"
	"tabsync/util/goroutine"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// maxMessageSize bounds client frames; subscribe requests are small.
	maxMessageSize = 4096
)

// connState is the per-connection lifecycle state.
type connState int32

const (
	stateConnecting connState = iota
	stateAuthorized
	stateSubscribed
	stateActive
	stateDegraded
	stateDisconnected
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAuthorized:
		return "authorized"
	case stateSubscribed:
		return "subscribed"
	case stateActive:
		return "active"
	case stateDegraded:
		return "degraded"
	case stateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// client is a single WebSocket connection with its subscription set.
type client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	closed   chan struct{}
	id       string
	identity *ClientIdentity
	state    atomic.Int32
}

func (c *client) setState(s connState) { c.state.Store(int32(s)) }
func (c *client) getState() connState  { return connState(c.state.Load()) }

// trySend queues a frame without blocking. It reports false when the
// connection is gone or its buffer is full; callers treat both as a
// delivery failure for this frame only.
func (c *client) trySend(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// envelope carries one frame to every subscriber of a topic set.
type envelope struct {
	topics    []core.Topic
	frame     []byte
	kindLabel string
}

// HubConfig holds connection hub tuning.
type HubConfig struct {
	// SendBuffer is the per-connection outbound queue length. A
	// connection that lets it fill is torn down rather than allowed to
	// block delivery to others.
	SendBuffer int
	// PongTimeout is the liveness window; a connection that fails to
	// answer pings within it is treated as disconnected.
	PongTimeout time.Duration
}

// Hub maintains the set of active connections and their topic
// subscriptions, and fans published frames out to them. One process-wide
// instance with explicit lifecycle, injected into whatever needs to
// publish.
type Hub struct {
	store  *core.Store
	cfg    HubConfig
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[*client]struct{}
	topics  map[core.Topic]map[*client]struct{}

	register   chan *client
	unregister chan *client
	publish    chan envelope

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a connection hub. Start must be called before use.
func NewHub(ctx context.Context, store *core.Store, cfg HubConfig, logger *zap.SugaredLogger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		store:      store,
		cfg:        cfg,
		logger:     logger,
		clients:    make(map[*client]struct{}),
		topics:     make(map[core.Topic]map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		publish:    make(chan envelope, 256),
		ctx:        hubCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Start runs the hub's event loop in a goroutine.
func (h *Hub) Start() {
	goroutine.Go("connection-hub", h.logger, h.run)
}

// Stop shuts the hub down and closes every connection.
func (h *Hub) Stop() {
	h.cancel()
	<-h.done
}

func (h *Hub) run() {
	defer close(h.done)
	h.logger.Info("Connection hub started")

	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.setState(stateDisconnected)
				close(c.closed)
				c.conn.Close()
			}
			h.clients = make(map[*client]struct{})
			h.topics = make(map[core.Topic]map[*client]struct{})
			h.mu.Unlock()
			h.logger.Info("Connection hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveConnections.Set(float64(total))
			h.logger.Debugw("Connection registered",
				"connection_id", c.id,
				"role", c.identity.Role,
				"total_connections", total)

		case c := <-h.unregister:
			h.dropClient(c)

		case env := <-h.publish:
			h.deliver(env)
		}
	}
}

// dropClient removes a connection and all of its subscriptions. No
// delivery attempts continue after this.
func (h *Hub) dropClient(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for topic, subs := range h.topics {
		if _, ok := subs[c]; ok {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	total := len(h.clients)
	subscriptions := h.subscriptionCountLocked()
	h.mu.Unlock()

	c.setState(stateDisconnected)
	close(c.closed)
	metrics.ActiveConnections.Set(float64(total))
	metrics.ActiveSubscriptions.Set(float64(subscriptions))
	h.logger.Debugw("Connection unregistered",
		"connection_id", c.id,
		"total_connections", total)
}

// deliver fans one frame out to the union of the topics' subscribers.
// Each recipient gets the frame once even when subscribed to several of
// the destination topics. A full send buffer tears the connection down so
// one slow consumer cannot block the rest.
func (h *Hub) deliver(env envelope) {
	recipients := make(map[*client]struct{})
	h.mu.RLock()
	for _, topic := range env.topics {
		for c := range h.topics[topic] {
			recipients[c] = struct{}{}
		}
	}
	h.mu.RUnlock()

	for c := range recipients {
		if c.trySend(env.frame) {
			metrics.DeltasDelivered.WithLabelValues(env.kindLabel).Inc()
			continue
		}
		c.setState(stateDegraded)
		metrics.DeliveryFailures.Inc()
		h.logger.Warnw("Send buffer full, dropping connection",
			"connection_id", c.id)
		h.dropClient(c)
		c.conn.Close()
	}
}

// enqueue pushes an envelope onto the publish queue without ever blocking
// the caller; the mutation path stays decoupled from delivery and the
// reconciler heals anything dropped here.
func (h *Hub) enqueue(env envelope) {
	select {
	case h.publish <- env:
	default:
		metrics.DeliveryFailures.Inc()
		h.logger.Warnw("Publish queue saturated, dropping frame",
			"topics", env.topics)
	}
}

// PublishDelta implements core.Sink.
func (h *Hub) PublishDelta(topics []core.Topic, delta *core.Delta) {
	h.enqueue(envelope{
		topics:    topics,
		frame:     marshalDeltaFrame(delta),
		kindLabel: topicKindLabel(topics),
	})
}

// PublishSnapshot implements core.Sink.
func (h *Hub) PublishSnapshot(topics []core.Topic, order *core.Order) {
	h.enqueue(envelope{
		topics:    topics,
		frame:     marshalSnapshotFrame(order),
		kindLabel: "snapshot",
	})
}

// HasSubscribers implements core.Sink.
func (h *Hub) HasSubscribers(topics []core.Topic) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, topic := range topics {
		if len(h.topics[topic]) > 0 {
			return true
		}
	}
	return false
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) subscriptionCountLocked() int {
	n := 0
	for _, subs := range h.topics {
		n += len(subs)
	}
	return n
}

func topicKindLabel(topics []core.Topic) string {
	for _, t := range topics {
		if kind, err := t.Kind(); err == nil {
			return string(kind)
		}
	}
	return "unknown"
}

// subscribe adds the connection to a topic's subscriber set.
func (h *Hub) subscribe(c *client, topic core.Topic) {
	h.mu.Lock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*client]struct{})
		h.topics[topic] = subs
	}
	subs[c] = struct{}{}
	count := h.subscriptionCountLocked()
	h.mu.Unlock()
	metrics.ActiveSubscriptions.Set(float64(count))
}

// unsubscribe removes the connection from a topic's subscriber set.
func (h *Hub) unsubscribe(c *client, topic core.Topic) {
	h.mu.Lock()
	if subs, ok := h.topics[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	count := h.subscriptionCountLocked()
	h.mu.Unlock()
	metrics.ActiveSubscriptions.Set(float64(count))
}

// handleSubscribe processes one subscribe frame: authorize and attach the
// requested topics, then backfill declared order cursors. A rejected
// topic yields an error frame; the connection stays up.
func (c *client) handleSubscribe(frame clientFrame) {
	requested := make([]core.Topic, 0, len(frame.Topics)+len(frame.Orders))
	for _, name := range frame.Topics {
		topic, err := core.ParseTopic(name)
		if err != nil {
			c.trySend(marshalErrorFrame("unknown_topic", err.Error()))
			continue
		}
		requested = append(requested, topic)
	}
	// Declaring an order cursor implies subscribing to its topic.
	for _, cursor := range frame.Orders {
		requested = append(requested, core.OrderTopic(cursor.OrderID))
	}

	accepted := make([]string, 0, len(requested))
	granted := make(map[core.Topic]struct{}, len(requested))
	seen := make(map[core.Topic]struct{}, len(requested))
	for _, topic := range requested {
		if _, dup := seen[topic]; dup {
			continue
		}
		seen[topic] = struct{}{}

		if err := authorizeTopic(c.hub.ctx, c.hub.store, c.identity, topic); err != nil {
			code := "unauthorized_subscription"
			if errors.Is(err, core.ErrUnknownTopic) {
				code = "unknown_topic"
			}
			c.hub.logger.Warnw("Subscription rejected",
				"connection_id", c.id,
				"topic", topic,
				"error", err)
			c.trySend(marshalErrorFrame(code, err.Error()))
			continue
		}
		c.hub.subscribe(c, topic)
		granted[topic] = struct{}{}
		accepted = append(accepted, string(topic))
	}

	if c.getState() == stateAuthorized && len(accepted) > 0 {
		c.setState(stateSubscribed)
	}
	c.trySend(marshalSubscribedFrame(accepted))

	// Backfill only cursors whose order topic passed authorization; a
	// rejected subscription must not leak history or snapshots either.
	for _, cursor := range frame.Orders {
		if _, ok := granted[core.OrderTopic(cursor.OrderID)]; !ok {
			continue
		}
		c.backfill(cursor)
	}
	if len(accepted) > 0 {
		c.setState(stateActive)
	}
}

// backfill brings a reconnecting client up to date for one order. Within
// the retained delta log the missing deltas are replayed in version
// order; beyond it the client gets an authoritative snapshot instead.
func (c *client) backfill(cursor orderCursor) {
	hub := c.hub

	deltas, err := hub.store.DeltasSince(hub.ctx, cursor.OrderID, cursor.LastKnownVersion)
	if err == nil {
		for _, d := range deltas {
			if !c.trySend(marshalDeltaFrame(d)) {
				return
			}
		}
		if len(deltas) > 0 {
			hub.logger.Debugw("Replayed deltas on reconnect",
				"connection_id", c.id,
				"order_id", cursor.OrderID,
				"from_version", cursor.LastKnownVersion,
				"count", len(deltas))
		}
		return
	}

	// Client is behind the retained log: force a full snapshot.
	metrics.ResyncRequests.Inc()
	order, _, err := hub.store.Get(hub.ctx, cursor.OrderID)
	if err != nil {
		c.trySend(marshalErrorFrame("order_not_found", err.Error()))
		return
	}
	c.trySend(marshalSnapshotFrame(order))
	hub.logger.Debugw("Stale client resynced with snapshot",
		"connection_id", c.id,
		"order_id", cursor.OrderID,
		"declared_version", cursor.LastKnownVersion,
		"current_version", order.Version)
}

// handleUnsubscribe detaches the named topics.
func (c *client) handleUnsubscribe(frame clientFrame) {
	for _, name := range frame.Topics {
		topic, err := core.ParseTopic(name)
		if err != nil {
			continue
		}
		c.hub.unsubscribe(c, topic)
	}
}

// readPump consumes client frames until the connection dies. Runs in its
// own goroutine per connection.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.conn.Close()
	}()

	pongWait := c.hub.cfg.PongTimeout
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame clientFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debugw("Connection closed unexpectedly",
					"connection_id", c.id,
					"error", err)
			}
			return
		}

		switch frame.Type {
		case frameTypeSubscribe:
			c.handleSubscribe(frame)
		case frameTypeUnsubscribe:
			c.handleUnsubscribe(frame)
		case frameTypePing:
			c.trySend([]byte(`{"type":"pong"}`))
		default:
			c.trySend(marshalErrorFrame("unknown_frame", "unsupported frame type "+frame.Type))
		}
	}
}

// writePump drains the send channel to the connection and keeps the
// ping/pong heartbeat alive. Runs in its own goroutine per connection.
func (c *client) writePump() {
	pingPeriod := c.hub.cfg.PongTimeout * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// attach registers an upgraded connection with the hub and starts its
// pumps.
func (h *Hub) attach(conn *websocket.Conn, identity *ClientIdentity) {
	c := &client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, h.cfg.SendBuffer),
		closed:   make(chan struct{}),
		id:       uuid.NewString(),
		identity: identity,
	}
	c.setState(stateAuthorized)

	select {
	case h.register <- c:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
