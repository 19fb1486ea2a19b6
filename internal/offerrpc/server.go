// Package offerrpc provides a JSON-RPC 2.0 server exposing the offer
// catalog and gossip engine over HTTP, with a WebSocket push channel for
// catalog and sync-progress events.
package offerrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/offermesh/offerd/internal/catalog"
	"github.com/offermesh/offerd/internal/keysource"
	"github.com/offermesh/offerd/internal/offermanager"
	"github.com/offermesh/offerd/internal/syncengine"
	"github.com/offermesh/offerd/internal/unconfirmed"
	"github.com/offermesh/offerd/pkg/logging"
)

// Server is a JSON-RPC 2.0 server over the offer catalog, unconfirmed
// pools, sync engine, and offer manager.
type Server struct {
	catalog      *catalog.Store
	newOffers    *unconfirmed.Pool
	broadcastEdits *unconfirmed.Pool
	engine       *syncengine.Engine
	manager      *offermanager.Manager
	keys         keysource.KeySource
	log          *logging.Logger
	wsHub        *WSHub

	maxOutput int
	muOutput  sync.RWMutex

	server   *http.Server
	listener net.Listener

	handlers map[string]Handler
	mu       sync.RWMutex
}

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

const defaultMaxOutput = 0 // unlimited

// Config bundles Server's collaborators.
type Config struct {
	Catalog        *catalog.Store
	NewOffers      *unconfirmed.Pool
	BroadcastEdits *unconfirmed.Pool
	Engine         *syncengine.Engine
	Manager        *offermanager.Manager
	Keys           keysource.KeySource
}

// NewServer creates a new JSON-RPC server.
func NewServer(cfg Config) *Server {
	s := &Server{
		catalog:        cfg.Catalog,
		newOffers:      cfg.NewOffers,
		broadcastEdits: cfg.BroadcastEdits,
		engine:         cfg.Engine,
		manager:        cfg.Manager,
		keys:           cfg.Keys,
		log:            logging.GetDefault().Component("offerrpc"),
		handlers:       make(map[string]Handler),
		maxOutput:      defaultMaxOutput,
	}
	s.registerHandlers()
	return s
}

// registerHandlers registers all JSON-RPC method handlers.
func (s *Server) registerHandlers() {
	s.handlers["list_offers"] = s.listOffers
	s.handlers["list_my_offers"] = s.listMyOffers
	s.handlers["get_offer"] = s.getOffer
	s.handlers["add_offer"] = s.addOffer
	s.handlers["edit_offer"] = s.editOffer
	s.handlers["send_offer"] = s.sendOffer
	s.handlers["delete_offer"] = s.deleteOffer
	s.handlers["sync"] = s.sync
	s.handlers["settings"] = s.settings
}

// Start starts the RPC server.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.wsHub = NewWSHub()
	go s.wsHub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleRPC)
	mux.HandleFunc("POST /{$}", s.handleRPC)
	mux.HandleFunc("OPTIONS /", s.handleCORS)
	mux.HandleFunc("OPTIONS /{$}", s.handleCORS)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /ws/", s.handleWS)

	s.server = &http.Server{
		Handler:      corsMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("RPC server error", "error", err)
		}
	}()

	s.log.Info("RPC server started", "addr", addr, "ws", "ws://"+addr+"/ws")
	return nil
}

// Stop stops the RPC server.
func (s *Server) Stop() error {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// WSHub returns the WebSocket hub, wired up by Start.
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// Subscribe wires catalog change events onto the WebSocket hub, translating
// catalog.ChangeEvent into the offer_added/offer_edited/offer_deleted wire
// events. Call once after Start.
func (s *Server) Subscribe() func() {
	events, cancel := s.catalog.Subscribe()
	go func() {
		for ev := range events {
			if s.wsHub == nil {
				continue
			}
			switch ev.Op {
			case catalog.OpUpsert:
				s.wsHub.Broadcast(EventOfferAdded, ev)
			case catalog.OpUpdateStatus:
				s.wsHub.Broadcast(EventOfferEdited, ev)
			case catalog.OpDelete, catalog.OpSweep:
				s.wsHub.Broadcast(EventOfferDeleted, ev)
			}
		}
	}()
	return cancel
}

// PushSyncProgress broadcasts a sync_progress event; wire as the sync
// engine's ProgressFunc.
func (s *Server) PushSyncProgress(progress float64) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(EventSyncProgress, map[string]float64{"progress": progress})
	}
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, ParseError, "Parse error", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, InvalidRequest, "Invalid Request", nil)
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		s.writeError(w, req.ID, MethodNotFound, "Method not found", req.Method)
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		s.writeError(w, req.ID, InternalError, err.Error(), nil)
		return
	}

	s.writeResult(w, req.ID, result)
}

func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := Response{JSONRPC: "2.0", Result: result, ID: id}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	resp := Response{JSONRPC: "2.0", Error: &Error{Code: code, Message: message, Data: data}, ID: id}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) outputLimit(requested int) int {
	s.muOutput.RLock()
	ceiling := s.maxOutput
	s.muOutput.RUnlock()
	if ceiling == 0 {
		return requested
	}
	if requested == 0 || requested > ceiling {
		return ceiling
	}
	return requested
}
