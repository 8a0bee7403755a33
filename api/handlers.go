package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"tabsync/core"
	"tabsync/service"
)

var validate = validator.New()

// respondJSON writes a JSON response with proper error handling
func (a *API) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
	}
}

// respondError maps engine errors onto HTTP status codes.
func (a *API) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrConcurrentModification), errors.Is(err, core.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, core.ErrInvalidMutation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrOrderArchived):
		status = http.StatusGone
	}
	a.respondJSON(w, map[string]string{"error": err.Error()}, status)
}

type createOrderRequest struct {
	RestaurantID string `json:"restaurant_id" validate:"required"`
	TableID      string `json:"table_id" validate:"required"`
}

// createOrder opens a new order at version 0.
func (a *API) createOrder(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromRequest(r, a.config.Auth.JWTSecret)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, fmt.Sprintf("Validation failed: %v", err), http.StatusBadRequest)
		return
	}

	order, err := a.orders.CreateOrder(r.Context(), req.RestaurantID, req.TableID)
	if err != nil {
		a.respondError(w, err)
		return
	}

	a.logger.Infow("Order created",
		"order_id", order.ID,
		"restaurant_id", order.RestaurantID,
		"table_id", order.TableID,
		"actor_id", identity.SubjectID)
	a.respondJSON(w, order, http.StatusCreated)
}

// getOrder returns the current full state of an order. Clients that fall
// too far behind the retained delta log use this as their resync path.
func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromRequest(r, a.config.Auth.JWTSecret)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	orderID := mux.Vars(r)["id"]
	if err := authorizeTopic(r.Context(), a.hub.store, identity, core.OrderTopic(orderID)); err != nil {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	order, err := a.orders.GetSnapshot(r.Context(), orderID)
	if err != nil {
		a.respondError(w, err)
		return
	}
	a.respondJSON(w, order, http.StatusOK)
}

// requestMutation applies one already-validated mutation intent. Version
// conflicts that survive retries surface as 409 so the caller can refetch
// and resubmit.
func (a *API) requestMutation(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromRequest(r, a.config.Auth.JWTSecret)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	orderID := mux.Vars(r)["id"]
	if err := authorizeTopic(r.Context(), a.hub.store, identity, core.OrderTopic(orderID)); err != nil {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var intent service.MutationIntent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(intent); err != nil {
		http.Error(w, fmt.Sprintf("Validation failed: %v", err), http.StatusBadRequest)
		return
	}

	order, err := a.orders.RequestMutation(r.Context(), orderID, identity.SubjectID, intent)
	if err != nil {
		a.respondError(w, err)
		return
	}
	a.respondJSON(w, order, http.StatusOK)
}

// listRestaurantOrders returns the restaurant's live orders for staff
// dashboards. Restricted to waiter and display identities of that
// restaurant.
func (a *API) listRestaurantOrders(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromRequest(r, a.config.Auth.JWTSecret)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	restaurantID := mux.Vars(r)["id"]
	if (identity.Role != RoleWaiter && identity.Role != RoleDisplay) || identity.RestaurantID != restaurantID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	orders, err := a.orders.ListActiveOrders(r.Context(), restaurantID)
	if err != nil {
		a.respondError(w, err)
		return
	}
	if orders == nil {
		orders = []*core.Order{}
	}
	a.respondJSON(w, orders, http.StatusOK)
}

// healthCheck reports liveness and basic connection stats.
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, map[string]interface{}{
		"status":      "ok",
		"connections": a.hub.ClientCount(),
	}, http.StatusOK)
}
