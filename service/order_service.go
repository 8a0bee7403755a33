// Package service orchestrates the mutation pipeline: intent → delta
// producer → topic router → connection hub → notification collaborator.
// Business validation (menu availability, pricing, authorization) happens
// before requests reach this layer; the service only guarantees atomic
// versioned application and fan-out.
package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"tabsync/core"
	"tabsync/metrics"
	"tabsync/notify"
)

// OrderService is the inbound surface for the business-logic layer.
type OrderService struct {
	store    *core.Store
	producer *core.Producer
	sink     core.Sink
	notifier notify.Notifier
	logger   *zap.SugaredLogger
}

// NewOrderService wires the mutation pipeline.
func NewOrderService(store *core.Store, producer *core.Producer, sink core.Sink, notifier notify.Notifier, logger *zap.SugaredLogger) *OrderService {
	return &OrderService{
		store:    store,
		producer: producer,
		sink:     sink,
		notifier: notifier,
		logger:   logger,
	}
}

// CreateOrder opens a new order for a table at version 0.
func (s *OrderService) CreateOrder(ctx context.Context, restaurantID, tableID string) (*core.Order, error) {
	order := core.NewOrder(restaurantID, tableID)
	if err := s.store.Create(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// GetSnapshot returns the current full state of an order.
func (s *OrderService) GetSnapshot(ctx context.Context, orderID string) (*core.Order, error) {
	order, _, err := s.store.Get(ctx, orderID)
	return order, err
}

// ListActiveOrders returns the live orders of one restaurant, oldest
// first. The live set is authoritative; it is warmed from the repository
// at startup.
func (s *OrderService) ListActiveOrders(ctx context.Context, restaurantID string) ([]*core.Order, error) {
	var orders []*core.Order
	for _, orderID := range s.store.LiveOrders() {
		order, _, err := s.store.Get(ctx, orderID)
		if err != nil {
			continue
		}
		if order.RestaurantID == restaurantID {
			orders = append(orders, order)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders, nil
}

// RequestMutation applies an already-validated mutation intent, publishes
// the resulting delta to its destinations and informs the notification
// collaborator. Publish and notify failures never fail the mutation.
func (s *OrderService) RequestMutation(ctx context.Context, orderID, actorID string, intent MutationIntent) (*core.Order, error) {
	start := time.Now()

	mutation, err := buildMutation(intent)
	if err != nil {
		return nil, err
	}

	order, delta, err := s.producer.Produce(ctx, orderID, mutation)
	if err != nil {
		return nil, err
	}
	metrics.MutationDuration.Observe(time.Since(start).Seconds())

	topics := core.ResolveDestinations(order, delta)
	s.sink.PublishDelta(topics, delta)
	s.notifier.DeltaProduced(ctx, topics, delta)

	s.logger.Infow("Mutation committed",
		"order_id", orderID,
		"actor_id", actorID,
		"kind", delta.Kind,
		"version", delta.Version)

	// Payment completion and cancellation terminate the order; archive it
	// after its final delta has been fanned out.
	if order.Status.Terminal() {
		if err := s.store.Archive(ctx, orderID); err != nil {
			s.logger.Errorw("Archive after terminal mutation failed",
				"order_id", orderID,
				"error", err)
		}
	}

	return order, nil
}

// buildMutation maps a mutation intent onto a semantic core.Mutation. The
// Apply functions are pure over the order they receive so optimistic
// retries can safely re-evaluate them.
func buildMutation(intent MutationIntent) (core.Mutation, error) {
	if !intent.Kind.Valid() {
		return core.Mutation{}, fmt.Errorf("%w: unknown kind %q", core.ErrInvalidMutation, intent.Kind)
	}

	switch intent.Kind {
	case core.DeltaStatus:
		if !intent.Status.Valid() {
			return core.Mutation{}, fmt.Errorf("%w: unknown status %q", core.ErrInvalidMutation, intent.Status)
		}
		status := intent.Status
		return core.Mutation{Kind: core.DeltaStatus, Apply: func(o *core.Order) (any, error) {
			o.Status = status
			return core.StatusPayload{Status: status}, nil
		}}, nil

	case core.DeltaDishesAdded:
		if len(intent.Dishes) == 0 {
			return core.Mutation{}, fmt.Errorf("%w: no dishes to add", core.ErrInvalidMutation)
		}
		dishes := intent.Dishes
		return core.Mutation{Kind: core.DeltaDishesAdded, Apply: func(o *core.Order) (any, error) {
			added := make([]core.Dish, len(dishes))
			copy(added, dishes)
			for i := range added {
				if added[i].Status == "" {
					added[i].Status = core.DishStatusOrdered
				}
			}
			o.Dishes = append(o.Dishes, added...)
			return core.DishesPayload{Dishes: added}, nil
		}}, nil

	case core.DeltaDishesModified:
		if len(intent.Dishes) == 0 {
			return core.Mutation{}, fmt.Errorf("%w: no dishes to modify", core.ErrInvalidMutation)
		}
		dishes := intent.Dishes
		return core.Mutation{Kind: core.DeltaDishesModified, Apply: func(o *core.Order) (any, error) {
			changed := make([]core.Dish, 0, len(dishes))
			for _, d := range dishes {
				i := o.FindDish(d.DishID)
				if i < 0 {
					return nil, fmt.Errorf("%w: dish %s not on order", core.ErrInvalidMutation, d.DishID)
				}
				if d.Quantity > 0 {
					o.Dishes[i].Quantity = d.Quantity
				}
				if d.Status != "" {
					o.Dishes[i].Status = d.Status
				}
				if d.Comment != "" {
					o.Dishes[i].Comment = d.Comment
				}
				changed = append(changed, o.Dishes[i])
			}
			return core.DishesPayload{Dishes: changed}, nil
		}}, nil

	case core.DeltaDishesRemoved:
		if len(intent.DishIDs) == 0 {
			return core.Mutation{}, fmt.Errorf("%w: no dishes to remove", core.ErrInvalidMutation)
		}
		ids := intent.DishIDs
		return core.Mutation{Kind: core.DeltaDishesRemoved, Apply: func(o *core.Order) (any, error) {
			for _, id := range ids {
				i := o.FindDish(id)
				if i < 0 {
					return nil, fmt.Errorf("%w: dish %s not on order", core.ErrInvalidMutation, id)
				}
				o.Dishes = append(o.Dishes[:i], o.Dishes[i+1:]...)
			}
			return core.DishesRemovedPayload{DishIDs: ids}, nil
		}}, nil

	case core.DeltaParticipantsAdded:
		if len(intent.Participants) == 0 {
			return core.Mutation{}, fmt.Errorf("%w: no participants to add", core.ErrInvalidMutation)
		}
		participants := intent.Participants
		return core.Mutation{Kind: core.DeltaParticipantsAdded, Apply: func(o *core.Order) (any, error) {
			for _, p := range participants {
				for _, existing := range o.Participants {
					if existing.ClientID == p.ClientID {
						return nil, fmt.Errorf("%w: participant %s already joined", core.ErrInvalidMutation, p.ClientID)
					}
				}
			}
			o.Participants = append(o.Participants, participants...)
			return core.ParticipantsPayload{Participants: participants}, nil
		}}, nil

	case core.DeltaParticipantsRemoved:
		if len(intent.ClientIDs) == 0 {
			return core.Mutation{}, fmt.Errorf("%w: no participants to remove", core.ErrInvalidMutation)
		}
		ids := intent.ClientIDs
		return core.Mutation{Kind: core.DeltaParticipantsRemoved, Apply: func(o *core.Order) (any, error) {
			for _, id := range ids {
				found := false
				for i, p := range o.Participants {
					if p.ClientID == id {
						o.Participants = append(o.Participants[:i], o.Participants[i+1:]...)
						found = true
						break
					}
				}
				if !found {
					return nil, fmt.Errorf("%w: participant %s not on order", core.ErrInvalidMutation, id)
				}
			}
			return core.ParticipantsRemovedPayload{ClientIDs: ids}, nil
		}}, nil

	case core.DeltaWaiterAssigned:
		if intent.WaiterID == "" {
			return core.Mutation{}, fmt.Errorf("%w: empty waiter id", core.ErrInvalidMutation)
		}
		waiterID := intent.WaiterID
		return core.Mutation{Kind: core.DeltaWaiterAssigned, Apply: func(o *core.Order) (any, error) {
			o.AssignedWaiterID = waiterID
			return core.WaiterAssignedPayload{WaiterID: waiterID}, nil
		}}, nil

	case core.DeltaPaymentStatus:
		switch intent.PaymentStatus {
		case core.PaymentStatusNone, core.PaymentStatusRequested, core.PaymentStatusPaid:
		default:
			return core.Mutation{}, fmt.Errorf("%w: unknown payment status %q", core.ErrInvalidMutation, intent.PaymentStatus)
		}
		payment := intent.PaymentStatus
		return core.Mutation{Kind: core.DeltaPaymentStatus, Apply: func(o *core.Order) (any, error) {
			o.PaymentStatus = payment
			if payment == core.PaymentStatusPaid {
				o.Status = core.OrderStatusClosed
			} else if payment == core.PaymentStatusRequested {
				o.Status = core.OrderStatusPaymentPending
			}
			return core.PaymentStatusPayload{PaymentStatus: payment}, nil
		}}, nil

	case core.DeltaTableChanged:
		if intent.TableID == "" {
			return core.Mutation{}, fmt.Errorf("%w: empty table id", core.ErrInvalidMutation)
		}
		tableID := intent.TableID
		return core.Mutation{Kind: core.DeltaTableChanged, Apply: func(o *core.Order) (any, error) {
			o.TableID = tableID
			return core.TableChangedPayload{TableID: tableID}, nil
		}}, nil
	}

	return core.Mutation{}, fmt.Errorf("%w: unhandled kind %q", core.ErrInvalidMutation, intent.Kind)
}
