// Package server exposes the trip ledger over a JSON HTTP API.
package server

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zombor/trip-ledger/internal/currency"
	"github.com/zombor/trip-ledger/internal/receipt"
	"github.com/zombor/trip-ledger/internal/scanning"
	"github.com/zombor/trip-ledger/internal/snapshot"
	"github.com/zombor/trip-ledger/internal/syncer"
)

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// Services are the collaborators behind the API. Extractor and Answerer may
// be nil when no model is configured.
type Services struct {
	Repository *receipt.Repository
	Extractor  scanning.Extractor
	Answerer   scanning.Answerer
	Engine     *syncer.Engine
	Rates      *currency.Cache
	Snapshots  *snapshot.Manager
}

// Server handles HTTP requests for the ledger
type Server struct {
	svc       Services
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(svc Services, basicAuth BasicAuth) *Server {
	return NewServerWithMux(svc, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(svc Services, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		svc:       svc,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Trip Ledger"`)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// receipts
	s.mux.HandleFunc("GET /api/receipts/{id}/image", s.requireAuth(s.handleGetReceiptImage))
	s.mux.HandleFunc("PUT /api/receipts/{id}/trip", s.requireAuth(s.handleAssignTrip))
	s.mux.HandleFunc("POST /api/receipts/{id}/items", s.requireAuth(s.handleAddItem))
	s.mux.HandleFunc("PUT /api/receipts/{id}/items/{index}", s.requireAuth(s.handleUpdateItem))
	s.mux.HandleFunc("DELETE /api/receipts/{id}/items/{index}", s.requireAuth(s.handleRemoveItem))
	s.mux.HandleFunc("GET /api/receipts/{id}", s.requireAuth(s.handleGetReceipt))
	s.mux.HandleFunc("PUT /api/receipts/{id}", s.requireAuth(s.handleUpdateReceipt))
	s.mux.HandleFunc("DELETE /api/receipts/{id}", s.requireAuth(s.handleDeleteReceipt))
	s.mux.HandleFunc("GET /api/receipts", s.requireAuth(s.handleListReceipts))
	s.mux.HandleFunc("POST /api/receipts", s.requireAuth(s.handleCreateReceipts))

	// trips
	s.mux.HandleFunc("GET /api/trips/{id}/receipts", s.requireAuth(s.handleTripReceipts))
	s.mux.HandleFunc("GET /api/trips/{id}", s.requireAuth(s.handleGetTrip))
	s.mux.HandleFunc("PUT /api/trips/{id}", s.requireAuth(s.handleUpdateTrip))
	s.mux.HandleFunc("DELETE /api/trips/{id}", s.requireAuth(s.handleDeleteTrip))
	s.mux.HandleFunc("GET /api/trips", s.requireAuth(s.handleListTrips))
	s.mux.HandleFunc("POST /api/trips", s.requireAuth(s.handleCreateTrip))

	// categories
	s.mux.HandleFunc("PUT /api/categories/{name}", s.requireAuth(s.handleRenameCategory))
	s.mux.HandleFunc("DELETE /api/categories/{name}", s.requireAuth(s.handleDeleteCategory))
	s.mux.HandleFunc("GET /api/categories", s.requireAuth(s.handleListCategories))
	s.mux.HandleFunc("POST /api/categories", s.requireAuth(s.handleCreateCategory))

	// search, currency, questions
	s.mux.HandleFunc("POST /api/search", s.requireAuth(s.handleSearch))
	s.mux.HandleFunc("GET /api/rates", s.requireAuth(s.handleGetRate))
	s.mux.HandleFunc("GET /api/currencies", s.requireAuth(s.handleListCurrencies))
	s.mux.HandleFunc("GET /api/home-currency", s.requireAuth(s.handleGetHomeCurrency))
	s.mux.HandleFunc("PUT /api/home-currency", s.requireAuth(s.handleSetHomeCurrency))
	s.mux.HandleFunc("POST /api/ask", s.requireAuth(s.handleAsk))

	// backup
	s.mux.HandleFunc("GET /api/export.csv", s.requireAuth(s.handleExportCSV))
	s.mux.HandleFunc("GET /api/export", s.requireAuth(s.handleExport))
	s.mux.HandleFunc("POST /api/import", s.requireAuth(s.handleImport))

	// sync status
	s.mux.HandleFunc("GET /api/connectivity", s.requireAuth(s.handleGetConnectivity))
	s.mux.HandleFunc("PUT /api/connectivity", s.requireAuth(s.handleSetConnectivity))
	s.mux.HandleFunc("GET /api/status", s.requireAuth(s.handleStatus))

	s.mux.HandleFunc("GET /metrics", s.requireAuth(promhttp.Handler().ServeHTTP))
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.mux.ServeHTTP)(w, r)
}
