package core

import (
	"fmt"
	"strings"
)

// TopicKind classifies a routing destination.
type TopicKind string

const (
	// TopicKindPersonal is bound to one waiter identity.
	TopicKindPersonal TopicKind = "personal"
	// TopicKindBroadcast reaches all active waiters of a restaurant.
	TopicKindBroadcast TopicKind = "broadcast"
	// TopicKindOrder is bound to one order and reaches its participants.
	TopicKindOrder TopicKind = "order"
)

const (
	topicPrefixWaiter    = "waiter:"
	topicPrefixBroadcast = "restaurant-broadcast:"
	topicPrefixOrder     = "order:"
)

// Topic is a named routing destination in its addressable wire form:
// waiter:{waiterId}, restaurant-broadcast:{restaurantId} or order:{orderId}.
type Topic string

// WaiterTopic returns the personal topic for a waiter.
func WaiterTopic(waiterID string) Topic {
	return Topic(topicPrefixWaiter + waiterID)
}

// BroadcastTopic returns the broadcast topic for a restaurant.
func BroadcastTopic(restaurantID string) Topic {
	return Topic(topicPrefixBroadcast + restaurantID)
}

// OrderTopic returns the order-scoped topic for an order.
func OrderTopic(orderID string) Topic {
	return Topic(topicPrefixOrder + orderID)
}

// ParseTopic validates an addressable topic name. It returns
// ErrUnknownTopic for names outside the three supported forms.
func ParseTopic(name string) (Topic, error) {
	t := Topic(name)
	if _, err := t.Kind(); err != nil {
		return "", err
	}
	return t, nil
}

// Kind returns the topic kind, or ErrUnknownTopic for a malformed name.
func (t Topic) Kind() (TopicKind, error) {
	s := string(t)
	switch {
	case strings.HasPrefix(s, topicPrefixWaiter) && len(s) > len(topicPrefixWaiter):
		return TopicKindPersonal, nil
	case strings.HasPrefix(s, topicPrefixBroadcast) && len(s) > len(topicPrefixBroadcast):
		return TopicKindBroadcast, nil
	case strings.HasPrefix(s, topicPrefixOrder) && len(s) > len(topicPrefixOrder):
		return TopicKindOrder, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTopic, s)
}

// ID returns the identifier part of the topic name (waiter, restaurant or
// order ID depending on the kind).
func (t Topic) ID() string {
	s := string(t)
	if i := strings.Index(s, ":"); i >= 0 {
		return s[i+1:]
	}
	return s
}
