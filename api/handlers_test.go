package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabsync/core"
	"tabsync/service"
)

func mutationIntentPaid() service.MutationIntent {
	return service.MutationIntent{
		Kind:          core.DeltaPaymentStatus,
		PaymentStatus: core.PaymentStatusPaid,
	}
}

// newTestHTTPServer serves the API over httptest and returns its base URL.
func newTestHTTPServer(t *testing.T, a *API) string {
	t.Helper()
	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { a.Stop(context.Background()) })
	return srv.URL
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeOrder(t *testing.T, resp *http.Response) core.Order {
	t.Helper()
	var order core.Order
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&order))
	return order
}

func TestCreateOrderEndpoint(t *testing.T) {
	h := newAPIHarness(t, 16)
	token := waiterToken(t, "waiter-1", "rest-1")

	resp := doJSON(t, http.MethodPost, h.url+"/api/v1/orders", token, map[string]string{
		"restaurant_id": "rest-1",
		"table_id":      "table-4",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	order := decodeOrder(t, resp)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, int64(0), order.Version)
	assert.Equal(t, core.OrderStatusOpen, order.Status)
	assert.Equal(t, "table-4", order.TableID)
}

func TestCreateOrderValidation(t *testing.T) {
	h := newAPIHarness(t, 16)
	token := waiterToken(t, "waiter-1", "rest-1")

	resp := doJSON(t, http.MethodPost, h.url+"/api/v1/orders", token, map[string]string{
		"restaurant_id": "rest-1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateOrderRequiresToken(t *testing.T) {
	h := newAPIHarness(t, 16)

	resp := doJSON(t, http.MethodPost, h.url+"/api/v1/orders", "", map[string]string{
		"restaurant_id": "rest-1",
		"table_id":      "table-1",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGetOrderSnapshot(t *testing.T) {
	h := newAPIHarness(t, 16)
	ctx := context.Background()
	token := waiterToken(t, "waiter-1", "rest-1")

	order, err := h.svc.CreateOrder(ctx, "rest-1", "table-1")
	require.NoError(t, err)

	resp := doJSON(t, http.MethodGet, h.url+"/api/v1/orders/"+order.ID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeOrder(t, resp)
	assert.Equal(t, order.ID, got.ID)
	assert.Equal(t, int64(0), got.Version)
}

func TestGetOrderNotFound(t *testing.T) {
	h := newAPIHarness(t, 16)
	// The token explicitly holds the order, so authorization passes and
	// the lookup itself reports the miss.
	token := customerToken(t, "client-1", "rest-1", "table-1", "ghost-order")

	resp := doJSON(t, http.MethodGet, h.url+"/api/v1/orders/ghost-order", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetOrderForbiddenForForeignRestaurant(t *testing.T) {
	h := newAPIHarness(t, 16)
	ctx := context.Background()

	order, err := h.svc.CreateOrder(ctx, "rest-1", "table-1")
	require.NoError(t, err)

	token := waiterToken(t, "waiter-1", "rest-2")
	resp := doJSON(t, http.MethodGet, h.url+"/api/v1/orders/"+order.ID, token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRequestMutationEndpoint(t *testing.T) {
	h := newAPIHarness(t, 16)
	ctx := context.Background()
	token := waiterToken(t, "waiter-1", "rest-1")

	order, err := h.svc.CreateOrder(ctx, "rest-1", "table-1")
	require.NoError(t, err)

	resp := doJSON(t, http.MethodPost, h.url+"/api/v1/orders/"+order.ID+"/mutations", token, map[string]any{
		"kind":   "DISHES_ADDED",
		"dishes": []map[string]any{{"dish_id": "d-1", "name": "risotto", "quantity": 1}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeOrder(t, resp)
	assert.Equal(t, int64(1), got.Version)
	require.Len(t, got.Dishes, 1)
	assert.Equal(t, "risotto", got.Dishes[0].Name)
}

func TestRequestMutationInvalidIntent(t *testing.T) {
	h := newAPIHarness(t, 16)
	ctx := context.Background()
	token := waiterToken(t, "waiter-1", "rest-1")

	order, err := h.svc.CreateOrder(ctx, "rest-1", "table-1")
	require.NoError(t, err)

	resp := doJSON(t, http.MethodPost, h.url+"/api/v1/orders/"+order.ID+"/mutations", token, map[string]any{
		"kind": "REPAINT",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestRequestMutationOnArchivedOrder(t *testing.T) {
	h := newAPIHarness(t, 16)
	ctx := context.Background()
	token := waiterToken(t, "waiter-1", "rest-1")

	order, err := h.svc.CreateOrder(ctx, "rest-1", "table-1")
	require.NoError(t, err)
	_, err = h.svc.RequestMutation(ctx, order.ID, "waiter-1", mutationIntentPaid())
	require.NoError(t, err)

	resp := doJSON(t, http.MethodPost, h.url+"/api/v1/orders/"+order.ID+"/mutations", token, map[string]any{
		"kind":   "STATUS",
		"status": "open",
	})
	// The order left the live set when it settled.
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Its final state stays readable for receipt views.
	read := doJSON(t, http.MethodGet, h.url+"/api/v1/orders/"+order.ID, token, nil)
	require.Equal(t, http.StatusOK, read.StatusCode)
	got := decodeOrder(t, read)
	assert.Equal(t, core.OrderStatusClosed, got.Status)
}

func TestListRestaurantOrders(t *testing.T) {
	h := newAPIHarness(t, 16)
	ctx := context.Background()
	token := waiterToken(t, "waiter-1", "rest-1")

	_, err := h.svc.CreateOrder(ctx, "rest-1", "table-1")
	require.NoError(t, err)
	_, err = h.svc.CreateOrder(ctx, "rest-1", "table-2")
	require.NoError(t, err)
	_, err = h.svc.CreateOrder(ctx, "rest-2", "table-1")
	require.NoError(t, err)

	resp := doJSON(t, http.MethodGet, h.url+"/api/v1/restaurants/rest-1/orders", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var orders []core.Order
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&orders))
	assert.Len(t, orders, 2)

	// Staff of another restaurant may not list.
	foreign := doJSON(t, http.MethodGet, h.url+"/api/v1/restaurants/rest-1/orders",
		waiterToken(t, "waiter-2", "rest-2"), nil)
	assert.Equal(t, http.StatusForbidden, foreign.StatusCode)

	// Customers may not list at all.
	customer := doJSON(t, http.MethodGet, h.url+"/api/v1/restaurants/rest-1/orders",
		customerToken(t, "client-1", "rest-1", "table-1"), nil)
	assert.Equal(t, http.StatusForbidden, customer.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	h := newAPIHarness(t, 16)

	resp := doJSON(t, http.MethodGet, h.url+"/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newAPIHarness(t, 16)

	resp := doJSON(t, http.MethodGet, h.url+"/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
