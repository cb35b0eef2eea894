package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ticketbot/internal/domain"
	"ticketbot/internal/responder"
	"ticketbot/internal/storage/sqlite"
)

type TicketProcessor interface {
	ProcessTicket(ctx context.Context, ticket domain.Ticket) (domain.TicketResult, error)
	ProcessQuery(ctx context.Context, query, ticketID string) (domain.TicketResult, error)
}

// Server exposes ticket processing over HTTP. db may be nil, in which case
// the ticket store endpoints answer 503 and results are not persisted.
type Server struct {
	processor TicketProcessor
	db        *sql.DB
	router    *chi.Mux
}

func NewServer(processor TicketProcessor, db *sql.DB) *Server {
	s := &Server{processor: processor, db: db}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tickets/respond", s.handleRespond)
		r.Post("/query", s.handleQuery)
		r.Post("/tickets", s.handleAddTicket)
		r.Get("/tickets", s.handleListTickets)
		r.Get("/tickets/{id}", s.handleGetTicket)
		r.Get("/tickets/{id}/result", s.handleTicketResult)
		r.Get("/stats", s.handleStats)
		r.Get("/topics", s.handleTopics)
		r.Get("/routing", s.handleRouting)
	})

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("api listening addr=%s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Println("api shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// POST /api/v1/tickets/respond
func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var ticket domain.Ticket
	if err := json.NewDecoder(r.Body).Decode(&ticket); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.processor.ProcessTicket(r.Context(), ticket)
	if err != nil {
		writeProcessError(w, err)
		return
	}
	s.store(result)
	writeJSON(w, http.StatusOK, result)
}

type queryRequest struct {
	Query    string `json:"query"`
	TicketID string `json:"ticket_id,omitempty"`
}

// POST /api/v1/query
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.processor.ProcessQuery(r.Context(), req.Query, req.TicketID)
	if err != nil {
		writeProcessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// POST /api/v1/tickets
func (s *Server) handleAddTicket(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "ticket store not configured")
		return
	}
	var ticket domain.Ticket
	if err := json.NewDecoder(r.Body).Decode(&ticket); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := domain.ValidateTicket(ticket); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := sqlite.InsertTicket(s.db, ticket); err != nil {
		if errors.Is(err, sqlite.ErrDuplicateTicket) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		log.Printf("api add ticket id=%s error: %v", ticket.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to store ticket")
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

// GET /api/v1/tickets
func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "ticket store not configured")
		return
	}
	list := sqlite.ListTickets
	if r.URL.Query().Get("pending") == "true" {
		list = sqlite.ListUnprocessedTickets
	}
	tickets, err := list(s.db)
	if err != nil {
		log.Printf("api list tickets error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list tickets")
		return
	}
	if tickets == nil {
		tickets = []domain.Ticket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

// GET /api/v1/tickets/{id}
func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "ticket store not configured")
		return
	}
	ticket, err := sqlite.GetTicket(s.db, chi.URLParam(r, "id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "ticket not found")
		return
	}
	if err != nil {
		log.Printf("api get ticket error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load ticket")
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// GET /api/v1/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "ticket store not configured")
		return
	}
	counts, err := sqlite.TopicCounts(s.db)
	if err != nil {
		log.Printf("api stats error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_results": total,
		"topics":        counts,
	})
}

// GET /api/v1/tickets/{id}/result
func (s *Server) handleTicketResult(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "ticket store not configured")
		return
	}
	result, err := sqlite.LatestResult(s.db, chi.URLParam(r, "id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "no result for ticket")
		return
	}
	if err != nil {
		log.Printf("api ticket result error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load result")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type topicInfo struct {
	Topic           domain.Topic `json:"topic"`
	Description     string       `json:"description"`
	SearchSupported bool         `json:"search_supported"`
}

// GET /api/v1/topics
func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	topics := make([]topicInfo, 0, len(domain.Topics))
	for _, t := range domain.Topics {
		topics = append(topics, topicInfo{Topic: t, Description: t.Description(), SearchSupported: t.SearchSupported()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"topics":           topics,
		"search_supported": domain.SearchSupportedTopics,
	})
}

// GET /api/v1/routing?topic=Connector
func (s *Server) handleRouting(w http.ResponseWriter, r *http.Request) {
	topic, ok := domain.ParseTopic(r.URL.Query().Get("topic"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown topic")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"topic":            topic,
		"search_supported": topic.SearchSupported(),
		"routing_info":     responder.RoutingInfoFor(topic),
	})
}

func (s *Server) store(result domain.TicketResult) {
	if s.db == nil {
		return
	}
	if err := sqlite.SaveResults(s.db, uuid.NewString(), time.Now(), []domain.TicketResult{result}); err != nil {
		log.Printf("api save result ticket=%s error: %v", result.TicketID, err)
	}
}

func writeProcessError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrInvalidTicket) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Printf("api process error: %v", err)
	writeError(w, http.StatusInternalServerError, "processing failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api encode response error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
