package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hochfrequenz/workorder-orchestrator/internal/eventbus"
	"github.com/hochfrequenz/workorder-orchestrator/internal/orderstore"
	"github.com/hochfrequenz/workorder-orchestrator/internal/sandbox"
)

const shutdownGrace = 10 * time.Second

// Orchestrator schedules work order execution
type Orchestrator interface {
	Submit(orderID string) error
	Resume(orderID string) error
	Cancel(orderID string)
	ActiveSlots() int
}

// Server is the HTTP API server
type Server struct {
	store      *orderstore.Store
	dispatcher Orchestrator
	sandboxes  *sandbox.Manager
	bus        *eventbus.Bus
	addr       string
	mux        *http.ServeMux
	sseHub     *SSEHub
}

// NewServer creates a new API server
func NewServer(store *orderstore.Store, dispatcher Orchestrator, sandboxes *sandbox.Manager, bus *eventbus.Bus, addr string) *Server {
	s := &Server{
		store:      store,
		dispatcher: dispatcher,
		sandboxes:  sandboxes,
		bus:        bus,
		addr:       addr,
		mux:        http.NewServeMux(),
		sseHub:     NewSSEHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/workorders", s.collectionHandler())
	s.mux.HandleFunc("/api/workorders/", s.itemHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
}

// Run serves HTTP until ctx is cancelled, then drains connections
func (s *Server) Run(ctx context.Context) error {
	go s.sseHub.Run(ctx)
	go s.pumpEvents(ctx)

	srv := &http.Server{Addr: s.addr, Handler: s.mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler exposes the route table for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// pumpEvents forwards bus traffic to the SSE hub
func (s *Server) pumpEvents(ctx context.Context) {
	if s.bus == nil {
		return
	}
	entries, cancel := s.bus.Subscribe(eventbus.AllOrders)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-entries:
			s.sseHub.Broadcast(SSEEvent{Type: e.Event, Data: e})
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
