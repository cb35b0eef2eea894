package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ticketbot/internal/domain"
	"ticketbot/internal/responder"
	"ticketbot/internal/storage/sqlite"
)

type stubProcessor struct{}

func (stubProcessor) ProcessTicket(ctx context.Context, ticket domain.Ticket) (domain.TicketResult, error) {
	if err := domain.ValidateTicket(ticket); err != nil {
		return domain.TicketResult{}, err
	}
	c := domain.Classification{TopicTag: domain.TopicConnector, Sentiment: domain.SentimentNeutral, Priority: domain.PriorityP1}
	env := &domain.ResponseEnvelope{
		TicketID:         ticket.ID,
		Subject:          ticket.Subject,
		InternalAnalysis: domain.AnalysisOf(c),
		FinalResponse:    domain.NewRoutingResponse(responder.Routing(domain.TopicConnector)),
		GeneratedAt:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	return domain.TicketResult{
		TicketID:       ticket.ID,
		Subject:        ticket.Subject,
		Classification: domain.ClassificationResult{TicketID: ticket.ID, Subject: ticket.Subject, Classification: c, Status: domain.StatusSuccess},
		Response:       env,
		Success:        true,
	}, nil
}

func (p stubProcessor) ProcessQuery(ctx context.Context, query, ticketID string) (domain.TicketResult, error) {
	if ticketID == "" {
		ticketID = "QUERY-1"
	}
	return p.ProcessTicket(ctx, domain.Ticket{ID: ticketID, Subject: query, Body: query})
}

func newTestServer(t *testing.T) (*httptest.Server, *sql.DB) {
	t.Helper()
	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	srv := httptest.NewServer(NewServer(stubProcessor{}, db).Handler())
	t.Cleanup(srv.Close)
	return srv, db
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestRespondStoresResult(t *testing.T) {
	srv, db := newTestServer(t)

	resp := post(t, srv.URL+"/api/v1/tickets/respond", `{"id":"TICKET-1","subject":"Crawler fails","body":"Snowflake connection broken"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var result domain.TicketResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.ResponseType() != domain.ResponseRouting {
		t.Fatalf("unexpected response type %q", result.ResponseType())
	}

	stored, err := sqlite.LatestResult(db, "TICKET-1")
	if err != nil {
		t.Fatalf("LatestResult: %v", err)
	}
	if stored.TicketID != "TICKET-1" {
		t.Fatalf("unexpected stored result %+v", stored)
	}

	resp = get(t, srv.URL+"/api/v1/tickets/TICKET-1/result")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("result status = %d", resp.StatusCode)
	}
	resp = get(t, srv.URL+"/api/v1/tickets/NOPE/result")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing result status = %d", resp.StatusCode)
	}
}

func TestRespondRejectsInvalidTicket(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"id":`},
		{"missing body", `{"id":"T-1","subject":"s"}`},
		{"blank subject", `{"id":"T-1","subject":"  ","body":"b"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv.URL+"/api/v1/tickets/respond", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestQueryEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := post(t, srv.URL+"/api/v1/query", `{"query":"How do I set up SSO?"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var result domain.TicketResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.TicketID != "QUERY-1" {
		t.Fatalf("unexpected ticket id %q", result.TicketID)
	}

	resp = post(t, srv.URL+"/api/v1/query", `{"query":""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty query status = %d, want 400", resp.StatusCode)
	}
}

func TestAddAndListTickets(t *testing.T) {
	srv, _ := newTestServer(t)

	for i := 1; i <= 2; i++ {
		resp := post(t, srv.URL+"/api/v1/tickets", fmt.Sprintf(`{"id":"T-%d","subject":"s","body":"b"}`, i))
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("add T-%d status = %d", i, resp.StatusCode)
		}
	}
	resp := post(t, srv.URL+"/api/v1/tickets", `{"id":"T-1","subject":"s","body":"b"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", resp.StatusCode)
	}

	resp = get(t, srv.URL+"/api/v1/tickets")
	var tickets []domain.Ticket
	if err := json.NewDecoder(resp.Body).Decode(&tickets); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tickets) != 2 {
		t.Fatalf("expected 2 tickets, got %d", len(tickets))
	}

	post(t, srv.URL+"/api/v1/tickets/respond", `{"id":"T-1","subject":"s","body":"b"}`)
	resp = get(t, srv.URL+"/api/v1/tickets?pending=true")
	tickets = nil
	if err := json.NewDecoder(resp.Body).Decode(&tickets); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tickets) != 1 || tickets[0].ID != "T-2" {
		t.Fatalf("expected only T-2 pending, got %+v", tickets)
	}
}

func TestGetTicketAndStats(t *testing.T) {
	srv, _ := newTestServer(t)

	post(t, srv.URL+"/api/v1/tickets", `{"id":"T-1","subject":"Crawler fails","body":"b"}`)
	resp := get(t, srv.URL+"/api/v1/tickets/T-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get ticket status = %d", resp.StatusCode)
	}
	var ticket domain.Ticket
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ticket.Subject != "Crawler fails" {
		t.Fatalf("unexpected ticket %+v", ticket)
	}
	if resp := get(t, srv.URL+"/api/v1/tickets/NOPE"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing ticket status = %d", resp.StatusCode)
	}

	post(t, srv.URL+"/api/v1/tickets/respond", `{"id":"T-1","subject":"Crawler fails","body":"b"}`)
	post(t, srv.URL+"/api/v1/tickets/respond", `{"id":"T-2","subject":"Crawler fails","body":"b"}`)
	resp = get(t, srv.URL+"/api/v1/stats")
	var stats struct {
		TotalResults int            `json:"total_results"`
		Topics       map[string]int `json:"topics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalResults != 2 || stats.Topics["Connector"] != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestTopicsAndRouting(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := get(t, srv.URL+"/api/v1/topics")
	var topics struct {
		Topics          []topicInfo    `json:"topics"`
		SearchSupported []domain.Topic `json:"search_supported"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&topics); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(topics.Topics) != len(domain.Topics) || len(topics.SearchSupported) != 5 {
		t.Fatalf("unexpected topics payload: %+v", topics)
	}

	tests := []struct {
		topic      string
		wantStatus int
		wantTeam   string
	}{
		{"Connector", http.StatusOK, "Technical Support Team - Database Connections"},
		{"sensitive data", http.StatusOK, "Security Team - Data Privacy & Compliance"},
		{"How-to", http.StatusOK, "General Support Team"},
		{"Billing", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			resp := get(t, srv.URL+"/api/v1/routing?topic="+strings.ReplaceAll(tt.topic, " ", "+"))
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var body struct {
				RoutingInfo domain.RoutingInfo `json:"routing_info"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.RoutingInfo.Team != tt.wantTeam {
				t.Fatalf("team = %q, want %q", body.RoutingInfo.Team, tt.wantTeam)
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	if resp := get(t, srv.URL+"/healthz"); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	if resp := get(t, srv.URL+"/metrics"); resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
}

func TestStoreEndpointsWithoutDB(t *testing.T) {
	srv := httptest.NewServer(NewServer(stubProcessor{}, nil).Handler())
	defer srv.Close()

	if resp := get(t, srv.URL+"/api/v1/tickets"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if resp := post(t, srv.URL+"/api/v1/tickets/respond", `{"id":"T","subject":"s","body":"b"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("respond without db status = %d", resp.StatusCode)
	}
}
