package api

import (
	"database/sql"
	"net/http"

	"github.com/erazemk/zaloga/internal/auth"
	"github.com/erazemk/zaloga/internal/clock"
	"github.com/erazemk/zaloga/internal/fulfillment"
	"github.com/erazemk/zaloga/internal/inventory"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/serial"
)

// Deps are the services the API exposes.
type Deps struct {
	DB        *sql.DB
	Issuer    *auth.Issuer
	Clock     clock.Clock
	Inventory *inventory.Inventory
	Requests  *fulfillment.Service
	Serials   *serial.Tracker

	// Metrics, if set, is served unauthenticated at /metrics.
	Metrics http.Handler
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(d Deps) http.Handler {
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: d.DB, Issuer: d.Issuer}
	usersHandler := &UsersHandler{DB: d.DB}
	itemsHandler := &ItemsHandler{DB: d.DB, Clock: d.Clock, Inventory: d.Inventory}
	locationsHandler := &LocationsHandler{DB: d.DB, Clock: d.Clock, Stock: d.Inventory.Balances}
	stockHandler := &StockHandler{Inventory: d.Inventory}
	requestsHandler := &RequestsHandler{Requests: d.Requests}
	serialsHandler := &SerialsHandler{Tracker: d.Serials}

	authMW := AuthMiddleware(d.Issuer)
	requireAdmin := RequireRole(model.RoleAdmin)
	requireManager := RequireRole(model.RoleManager)

	authed := func(h http.HandlerFunc) http.Handler { return authMW(h) }
	manager := func(h http.HandlerFunc) http.Handler { return authMW(requireManager(h)) }
	admin := func(h http.HandlerFunc) http.Handler { return authMW(requireAdmin(h)) }

	// Public: login.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.Handle("PUT /api/auth/password", authed(authHandler.ChangePassword))

	// Users (admin only).
	mux.Handle("GET /api/users", admin(usersHandler.List))
	mux.Handle("POST /api/users", admin(usersHandler.Create))
	mux.Handle("GET /api/users/{id}", admin(usersHandler.Get))
	mux.Handle("PUT /api/users/{id}", admin(usersHandler.Update))
	mux.Handle("PUT /api/users/{id}/password", admin(usersHandler.ResetPassword))
	mux.Handle("DELETE /api/users/{id}", admin(usersHandler.Delete))

	// Catalog: read (all roles), write (manager+).
	mux.Handle("GET /api/items", authed(itemsHandler.List))
	mux.Handle("POST /api/items", manager(itemsHandler.Create))
	mux.Handle("GET /api/items/{id}", authed(itemsHandler.Get))
	mux.Handle("PUT /api/items/{id}", manager(itemsHandler.Update))
	mux.Handle("GET /api/items/{id}/stock", authed(itemsHandler.Stock))
	mux.Handle("GET /api/items/{id}/history", authed(itemsHandler.History))
	mux.Handle("GET /api/items/{id}/reconcile", manager(itemsHandler.Reconcile))

	// Locations: read (all roles), write (manager+).
	mux.Handle("GET /api/locations", authed(locationsHandler.List))
	mux.Handle("POST /api/locations", manager(locationsHandler.Create))
	mux.Handle("GET /api/locations/{id}", authed(locationsHandler.Get))
	mux.Handle("PUT /api/locations/{id}", manager(locationsHandler.Update))
	mux.Handle("GET /api/locations/{id}/balances", authed(locationsHandler.Balances))

	// Stock: stock entering or leaving the system and corrections need a
	// manager; transfers and reservations are open to every user.
	mux.Handle("GET /api/balances", authed(stockHandler.Balances))
	mux.Handle("POST /api/stock/in", manager(stockHandler.StockIn))
	mux.Handle("POST /api/stock/out", manager(stockHandler.StockOut))
	mux.Handle("POST /api/stock/adjust", manager(stockHandler.Adjust))
	mux.Handle("POST /api/stock/reserve", authed(stockHandler.Reserve))
	mux.Handle("POST /api/stock/release", authed(stockHandler.Release))
	mux.Handle("POST /api/transfers", authed(stockHandler.Transfer))
	mux.Handle("GET /api/transactions", authed(stockHandler.Transactions))
	mux.Handle("GET /api/transactions/{id}", authed(stockHandler.Transaction))

	// Requests: approval needs a manager.
	mux.Handle("GET /api/requests", authed(requestsHandler.List))
	mux.Handle("POST /api/requests", authed(requestsHandler.Create))
	mux.Handle("GET /api/requests/{id}", authed(requestsHandler.Get))
	mux.Handle("POST /api/requests/{id}/lines", authed(requestsHandler.AddLine))
	mux.Handle("POST /api/requests/{id}/submit", authed(requestsHandler.Submit))
	mux.Handle("PUT /api/requests/{id}/lines/{line}/approve", manager(requestsHandler.Approve))
	mux.Handle("POST /api/requests/{id}/lines/{line}/fulfill", authed(requestsHandler.FulfillLine))
	mux.Handle("POST /api/requests/{id}/fulfill", authed(requestsHandler.FulfillAll))
	mux.Handle("POST /api/requests/{id}/cancel", authed(requestsHandler.Cancel))

	// Serialized assets: registration and retirement need a manager.
	mux.Handle("GET /api/serials", authed(serialsHandler.List))
	mux.Handle("POST /api/serials", manager(serialsHandler.Register))
	mux.Handle("GET /api/serials/{id}", authed(serialsHandler.Get))
	mux.Handle("GET /api/serials/{id}/history", authed(serialsHandler.History))
	mux.Handle("POST /api/serials/{id}/move", authed(serialsHandler.Move))
	mux.Handle("POST /api/serials/{id}/assign", authed(serialsHandler.Assign))
	mux.Handle("POST /api/serials/{id}/release", authed(serialsHandler.Release))
	mux.Handle("POST /api/serials/{id}/damage", authed(serialsHandler.MarkDamaged))
	mux.Handle("POST /api/serials/{id}/retire", manager(serialsHandler.Retire))

	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	return mux
}
