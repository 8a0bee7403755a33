// Package api exposes the synchronization engine over HTTP: a REST
// surface for order creation, snapshot fetch and mutation intents, and a
// WebSocket endpoint for live delta delivery.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tabsync/config"
	"tabsync/core"
	"tabsync/service"
	"tabsync/util/goroutine"
)

// rateLimiterEntry holds a rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// OrderServicer is the mutation pipeline surface the API needs.
type OrderServicer interface {
	CreateOrder(ctx context.Context, restaurantID, tableID string) (*core.Order, error)
	GetSnapshot(ctx context.Context, orderID string) (*core.Order, error)
	RequestMutation(ctx context.Context, orderID, actorID string, intent service.MutationIntent) (*core.Order, error)
	ListActiveOrders(ctx context.Context, restaurantID string) ([]*core.Order, error)
}

// API holds the HTTP server and its collaborators.
type API struct {
	router         *mux.Router
	server         *http.Server
	orders         OrderServicer
	hub            *Hub
	upgrader       websocket.Upgrader
	config         *config.Config
	logger         *zap.SugaredLogger
	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	stopCh         chan struct{}
}

// NewAPI creates the API server.
func NewAPI(orders OrderServicer, hub *Hub, cfg *config.Config, logger *zap.SugaredLogger) *API {
	a := &API{
		router:       mux.NewRouter(),
		orders:       orders,
		hub:          hub,
		config:       cfg,
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     a.checkOrigin,
	}
	a.setupRoutes()
	goroutine.Go("rate-limiter-cleanup", logger, a.cleanupRateLimiters)
	return a
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.loggingMiddleware)
	a.router.Use(a.corsMiddleware)
	a.router.Use(a.rateLimitMiddleware)
	a.router.HandleFunc("/api/v1/orders", a.createOrder).Methods("POST")
	a.router.HandleFunc("/api/v1/orders/{id}", a.getOrder).Methods("GET")
	a.router.HandleFunc("/api/v1/orders/{id}/mutations", a.requestMutation).Methods("POST")
	a.router.HandleFunc("/api/v1/restaurants/{id}/orders", a.listRestaurantOrders).Methods("GET")
	a.router.HandleFunc("/ws", a.serveWS).Methods("GET")
	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())
}

// checkOrigin validates the Origin header of WebSocket upgrades against
// the configured allow list.
func (a *API) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range a.config.API.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// serveWS authenticates the upgrade request and hands the connection to
// the hub. Topic-level authorization happens per subscribe frame.
func (a *API) serveWS(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromRequest(r, a.config.Auth.JWTSecret)
	if err != nil {
		a.logger.Warnw("WebSocket auth failed",
			"remote_addr", r.RemoteAddr,
			"error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warnw("WebSocket upgrade failed",
			"remote_addr", r.RemoteAddr,
			"error", err)
		return
	}
	a.hub.attach(conn, identity)
}

// Start starts the API server
func (a *API) Start() error {
	a.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.config.API.Host, a.config.API.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a.server.ListenAndServe()
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	close(a.stopCh)
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

// Router exposes the handler tree for tests.
func (a *API) Router() http.Handler {
	return a.router
}
