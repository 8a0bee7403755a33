package core

// ResolveDestinations decides which topics must receive a delta. It is a
// pure function of the post-commit order state, never of stored routing
// tables, so routing can never drift from assignment state:
//
//   - the order topic is always included;
//   - an assigned order routes to the waiter's personal topic;
//   - an unassigned order routes to the restaurant broadcast topic;
//   - never both.
//
// A WAITER_ASSIGNED delta needs no explicit unassign propagation because
// destinations are recomputed fresh for every subsequent delta.
func ResolveDestinations(order *Order, delta *Delta) []Topic {
	topics := make([]Topic, 0, 2)
	topics = append(topics, OrderTopic(order.ID))
	if order.Assigned() {
		topics = append(topics, WaiterTopic(order.AssignedWaiterID))
	} else {
		topics = append(topics, BroadcastTopic(order.RestaurantID))
	}
	return topics
}

// Sink is the delivery surface the engine publishes into. The connection
// hub implements it; delivery is best-effort per connection and must never
// block or fail the mutation path.
type Sink interface {
	// PublishDelta fans the delta out to every live subscriber of the
	// given topics.
	PublishDelta(topics []Topic, delta *Delta)
	// PublishSnapshot pushes an authoritative full-state snapshot to every
	// live subscriber of the given topics.
	PublishSnapshot(topics []Topic, order *Order)
	// HasSubscribers reports whether any of the given topics currently has
	// at least one live subscriber.
	HasSubscribers(topics []Topic) bool
}
