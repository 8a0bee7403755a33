package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"tabsync/core"
)

// Client roles as minted by the external auth collaborator.
const (
	RoleWaiter   = "waiter"
	RoleCustomer = "customer"
	// RoleDisplay is the restaurant's live table-status display; it reads
	// everything in its restaurant but never mutates.
	RoleDisplay = "display"
)

// ErrMissingToken is returned when no bearer token accompanies a request.
var ErrMissingToken = errors.New("missing bearer token")

// Claims are the identity claims tabsync reads from tokens minted by the
// external auth service. The engine performs no authentication of its
// own; it only checks topic access against these claims.
type Claims struct {
	Role         string   `json:"role"`
	RestaurantID string   `json:"restaurant_id"`
	TableID      string   `json:"table_id,omitempty"`
	OrderIDs     []string `json:"order_ids,omitempty"`
	jwt.RegisteredClaims
}

// ClientIdentity is the resolved identity of one connection.
type ClientIdentity struct {
	SubjectID    string
	Role         string
	RestaurantID string
	TableID      string
	OrderIDs     []string
}

// identityFromToken parses and verifies a bearer token.
func identityFromToken(tokenString, secret string) (*ClientIdentity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	return &ClientIdentity{
		SubjectID:    claims.Subject,
		Role:         claims.Role,
		RestaurantID: claims.RestaurantID,
		TableID:      claims.TableID,
		OrderIDs:     claims.OrderIDs,
	}, nil
}

// identityFromRequest extracts the identity from the Authorization header
// or, for WebSocket upgrades where headers are awkward for browser
// clients, the token query parameter.
func identityFromRequest(r *http.Request, secret string) (*ClientIdentity, error) {
	tokenString := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		tokenString = strings.TrimPrefix(h, "Bearer ")
	} else if q := r.URL.Query().Get("token"); q != "" {
		tokenString = q
	}
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	return identityFromToken(tokenString, secret)
}

// holdsOrder reports whether the identity explicitly carries the order.
func (id *ClientIdentity) holdsOrder(orderID string) bool {
	for _, o := range id.OrderIDs {
		if o == orderID {
			return true
		}
	}
	return false
}

// authorizeTopic decides whether the identity may subscribe to the topic.
// Rejection does not tear the connection down; the subscribe request is
// simply refused.
func authorizeTopic(ctx context.Context, store *core.Store, id *ClientIdentity, topic core.Topic) error {
	kind, err := topic.Kind()
	if err != nil {
		return err
	}

	switch kind {
	case core.TopicKindPersonal:
		if id.Role == RoleWaiter && id.SubjectID == topic.ID() {
			return nil
		}
		return fmt.Errorf("%w: personal topic %s", core.ErrUnauthorizedSubscription, topic)

	case core.TopicKindBroadcast:
		if (id.Role == RoleWaiter || id.Role == RoleDisplay) && id.RestaurantID == topic.ID() {
			return nil
		}
		return fmt.Errorf("%w: broadcast topic %s", core.ErrUnauthorizedSubscription, topic)

	case core.TopicKindOrder:
		orderID := topic.ID()
		if id.holdsOrder(orderID) {
			return nil
		}
		order, _, err := store.Get(ctx, orderID)
		if err != nil {
			return fmt.Errorf("%w: order %s", core.ErrUnauthorizedSubscription, orderID)
		}
		switch id.Role {
		case RoleWaiter, RoleDisplay:
			if order.RestaurantID == id.RestaurantID {
				return nil
			}
		case RoleCustomer:
			if order.RestaurantID == id.RestaurantID && order.TableID == id.TableID {
				return nil
			}
		}
		return fmt.Errorf("%w: order topic %s", core.ErrUnauthorizedSubscription, topic)
	}

	return fmt.Errorf("%w: %s", core.ErrUnknownTopic, topic)
}
