package core

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	// OrderStatusOpen is the initial state after the first customer or
	// waiter action at a table.
	OrderStatusOpen OrderStatus = "open"
	// OrderStatusInProgress means the kitchen is working on the order.
	OrderStatusInProgress OrderStatus = "in_progress"
	// OrderStatusServed means all dishes have been delivered to the table.
	OrderStatusServed OrderStatus = "served"
	// OrderStatusPaymentPending means payment has been requested.
	OrderStatusPaymentPending OrderStatus = "payment_pending"
	// OrderStatusClosed is a terminal state reached on payment completion.
	OrderStatusClosed OrderStatus = "closed"
	// OrderStatusCancelled is a terminal state reached on cancellation.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether the status ends the order lifecycle. Terminal
// orders are archived and immutable.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusClosed || s == OrderStatusCancelled
}

// Valid reports whether the status is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusOpen, OrderStatusInProgress, OrderStatusServed,
		OrderStatusPaymentPending, OrderStatusClosed, OrderStatusCancelled:
		return true
	}
	return false
}

// DishStatus represents the per-dish preparation state.
type DishStatus string

const (
	DishStatusOrdered   DishStatus = "ordered"
	DishStatusPreparing DishStatus = "preparing"
	DishStatusReady     DishStatus = "ready"
	DishStatusDelivered DishStatus = "delivered"
)

// PaymentStatus represents the payment state of an order.
type PaymentStatus string

const (
	PaymentStatusNone      PaymentStatus = "none"
	PaymentStatusRequested PaymentStatus = "requested"
	PaymentStatusPaid      PaymentStatus = "paid"
)

// Dish is a single position on an order.
type Dish struct {
	DishID   string     `json:"dish_id"`
	Name     string     `json:"name"`
	Quantity int        `json:"quantity"`
	Status   DishStatus `json:"status"`
	Comment  string     `json:"comment,omitempty"`
}

// Participant is a customer attached to an order.
type Participant struct {
	ClientID string `json:"client_id"`
	Name     string `json:"name,omitempty"`
}

// Order is the authoritative record kept consistent across all connected
// parties. Version increases by exactly one per committed mutation; the
// store enforces that no two mutations commit the same next version.
type Order struct {
	ID               string        `json:"id"`
	RestaurantID     string        `json:"restaurant_id"`
	TableID          string        `json:"table_id"`
	Status           OrderStatus   `json:"status"`
	Version          int64         `json:"version"`
	AssignedWaiterID string        `json:"assigned_waiter_id,omitempty"`
	Dishes           []Dish        `json:"dishes"`
	Participants     []Participant `json:"participants"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// NewOrder creates an empty order at version 0 for the given table.
func NewOrder(restaurantID, tableID string) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:            uuid.NewString(),
		RestaurantID:  restaurantID,
		TableID:       tableID,
		Status:        OrderStatusOpen,
		Version:       0,
		Dishes:        []Dish{},
		Participants:  []Participant{},
		PaymentStatus: PaymentStatusNone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Assigned reports whether a waiter has been assigned to the order.
func (o *Order) Assigned() bool {
	return o.AssignedWaiterID != ""
}

// Clone returns a deep copy of the order. Mutations are always applied to
// a clone so a failed apply leaves no partial state behind.
func (o *Order) Clone() *Order {
	c := *o
	c.Dishes = make([]Dish, len(o.Dishes))
	copy(c.Dishes, o.Dishes)
	c.Participants = make([]Participant, len(o.Participants))
	copy(c.Participants, o.Participants)
	return &c
}

// FindDish returns the index of the dish with the given ID, or -1.
func (o *Order) FindDish(dishID string) int {
	for i := range o.Dishes {
		if o.Dishes[i].DishID == dishID {
			return i
		}
	}
	return -1
}
