package service

import "tabsync/core"

// MutationIntent is the typed mutation request accepted from the
// business-logic layer. Exactly the fields matching Kind are read; the
// rest are ignored.
type MutationIntent struct {
	Kind core.DeltaKind `json:"kind" validate:"required"`

	// STATUS
	Status core.OrderStatus `json:"status,omitempty"`

	// DISHES_ADDED, DISHES_MODIFIED
	Dishes []core.Dish `json:"dishes,omitempty" validate:"omitempty,dive"`

	// DISHES_REMOVED
	DishIDs []string `json:"dish_ids,omitempty"`

	// PARTICIPANTS_ADDED
	Participants []core.Participant `json:"participants,omitempty" validate:"omitempty,dive"`

	// PARTICIPANTS_REMOVED
	ClientIDs []string `json:"client_ids,omitempty"`

	// WAITER_ASSIGNED
	WaiterID string `json:"waiter_id,omitempty"`

	// PAYMENT_STATUS
	PaymentStatus core.PaymentStatus `json:"payment_status,omitempty"`

	// TABLE_CHANGED
	TableID string `json:"table_id,omitempty"`
}
