package core

import "time"

// DeltaKind identifies what part of the order a delta changes. The string
// values are part of the client wire contract.
type DeltaKind string

const (
	DeltaStatus              DeltaKind = "STATUS"
	DeltaDishesAdded         DeltaKind = "DISHES_ADDED"
	DeltaDishesModified      DeltaKind = "DISHES_MODIFIED"
	DeltaDishesRemoved       DeltaKind = "DISHES_REMOVED"
	DeltaParticipantsAdded   DeltaKind = "PARTICIPANTS_ADDED"
	DeltaParticipantsRemoved DeltaKind = "PARTICIPANTS_REMOVED"
	DeltaWaiterAssigned      DeltaKind = "WAITER_ASSIGNED"
	DeltaPaymentStatus       DeltaKind = "PAYMENT_STATUS"
	DeltaTableChanged        DeltaKind = "TABLE_CHANGED"
)

// Valid reports whether the kind is a known delta kind.
func (k DeltaKind) Valid() bool {
	switch k {
	case DeltaStatus, DeltaDishesAdded, DeltaDishesModified, DeltaDishesRemoved,
		DeltaParticipantsAdded, DeltaParticipantsRemoved, DeltaWaiterAssigned,
		DeltaPaymentStatus, DeltaTableChanged:
		return true
	}
	return false
}

// Delta is a minimal, versioned description of one committed change to an
// order. Deltas are immutable once produced and are retained in the
// per-order log only long enough to replay reconnect windows; clients
// always have a snapshot fetch as fallback.
type Delta struct {
	OrderID    string    `json:"orderId"`
	Version    int64     `json:"version"`
	Kind       DeltaKind `json:"kind"`
	Payload    any       `json:"payload,omitempty"`
	ProducedAt time.Time `json:"produced_at"`
}

// StatusPayload carries a STATUS delta.
type StatusPayload struct {
	Status OrderStatus `json:"status"`
}

// DishesPayload carries DISHES_ADDED and DISHES_MODIFIED deltas with only
// the affected dishes.
type DishesPayload struct {
	Dishes []Dish `json:"dishes"`
}

// DishesRemovedPayload carries a DISHES_REMOVED delta.
type DishesRemovedPayload struct {
	DishIDs []string `json:"dish_ids"`
}

// ParticipantsPayload carries a PARTICIPANTS_ADDED delta.
type ParticipantsPayload struct {
	Participants []Participant `json:"participants"`
}

// ParticipantsRemovedPayload carries a PARTICIPANTS_REMOVED delta.
type ParticipantsRemovedPayload struct {
	ClientIDs []string `json:"client_ids"`
}

// WaiterAssignedPayload carries a WAITER_ASSIGNED delta.
type WaiterAssignedPayload struct {
	WaiterID string `json:"waiter_id"`
}

// PaymentStatusPayload carries a PAYMENT_STATUS delta.
type PaymentStatusPayload struct {
	PaymentStatus PaymentStatus `json:"payment_status"`
}

// TableChangedPayload carries a TABLE_CHANGED delta.
type TableChangedPayload struct {
	TableID string `json:"table_id"`
}
