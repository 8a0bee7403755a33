package api

import (
	"encoding/json"

	"tabsync/core"
)

// Server-to-client frame types.
const (
	frameTypeDelta      = "delta"
	frameTypeSnapshot   = "snapshot"
	frameTypeSubscribed = "subscribed"
	frameTypeError      = "error"
	frameTypePong       = "pong"
)

// Client-to-server frame types.
const (
	frameTypeSubscribe   = "subscribe"
	frameTypeUnsubscribe = "unsubscribe"
	frameTypePing        = "ping"
)

// deltaFrame is the versioned delta message. A client applies it only
// when version equals its local version plus one; otherwise it discards
// the frame and requests a snapshot.
type deltaFrame struct {
	Type    string         `json:"type"`
	OrderID string         `json:"orderId"`
	Version int64          `json:"version"`
	Kind    core.DeltaKind `json:"kind"`
	Payload any            `json:"payload,omitempty"`
}

// snapshotFrame is the authoritative full-state message. Clients
// overwrite local state with it regardless of their tracked version.
type snapshotFrame struct {
	Type           string      `json:"type"`
	OrderID        string      `json:"orderId"`
	Version        int64       `json:"version"`
	FullOrderState *core.Order `json:"fullOrderState"`
}

// subscribedFrame acknowledges the accepted topics of a subscribe.
type subscribedFrame struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

// errorFrame reports a per-request failure without closing the
// connection.
type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// clientFrame is every message a client may send.
type clientFrame struct {
	Type   string        `json:"type"`
	Topics []string      `json:"topics,omitempty"`
	Orders []orderCursor `json:"orders,omitempty"`
}

// orderCursor declares how far a reconnecting client has seen an order.
type orderCursor struct {
	OrderID          string `json:"orderId"`
	LastKnownVersion int64  `json:"lastKnownVersion"`
}

func marshalDeltaFrame(d *core.Delta) []byte {
	b, _ := json.Marshal(deltaFrame{
		Type:    frameTypeDelta,
		OrderID: d.OrderID,
		Version: d.Version,
		Kind:    d.Kind,
		Payload: d.Payload,
	})
	return b
}

func marshalSnapshotFrame(order *core.Order) []byte {
	b, _ := json.Marshal(snapshotFrame{
		Type:           frameTypeSnapshot,
		OrderID:        order.ID,
		Version:        order.Version,
		FullOrderState: order,
	})
	return b
}

func marshalSubscribedFrame(topics []string) []byte {
	b, _ := json.Marshal(subscribedFrame{Type: frameTypeSubscribed, Topics: topics})
	return b
}

func marshalErrorFrame(code, message string) []byte {
	b, _ := json.Marshal(errorFrame{Type: frameTypeError, Code: code, Message: message})
	return b
}
