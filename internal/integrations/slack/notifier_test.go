package slackbot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"ticketbot/internal/domain"
	"ticketbot/internal/report"
	"ticketbot/internal/responder"
)

type postRecorder struct {
	mu    sync.Mutex
	posts []map[string]string
}

func newSlackServer(t *testing.T) (*httptest.Server, *postRecorder) {
	t.Helper()
	rec := &postRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat.postMessage") {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		rec.mu.Lock()
		rec.posts = append(rec.posts, map[string]string{
			"channel": r.FormValue("channel"),
			"text":    r.FormValue("text"),
		})
		rec.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1700000000.000100"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func routedEnvelope() domain.ResponseEnvelope {
	c := domain.Classification{TopicTag: domain.TopicConnector, Sentiment: domain.SentimentFrustrated, Priority: domain.PriorityP0}
	return domain.ResponseEnvelope{
		TicketID:         "TICKET-245",
		Subject:          "Snowflake crawler fails",
		InternalAnalysis: domain.AnalysisOf(c),
		FinalResponse:    domain.NewRoutingResponse(responder.Routing(domain.TopicConnector)),
		GeneratedAt:      time.Now(),
	}
}

func TestNotifyRoutedPostsToChannel(t *testing.T) {
	srv, rec := newSlackServer(t)
	n := New(slack.New("xoxb-test", slack.OptionAPIURL(srv.URL+"/api/")), "C1")

	if err := n.NotifyRouted(context.Background(), routedEnvelope()); err != nil {
		t.Fatalf("NotifyRouted: %v", err)
	}
	if len(rec.posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(rec.posts))
	}
	post := rec.posts[0]
	if post["channel"] != "C1" {
		t.Fatalf("unexpected channel %q", post["channel"])
	}
	if !strings.Contains(post["text"], "Technical Support Team - Database Connections") || !strings.Contains(post["text"], "TICKET-245") {
		t.Fatalf("unexpected text %q", post["text"])
	}
}

func TestNotifyRoutedSkipsAnswers(t *testing.T) {
	srv, rec := newSlackServer(t)
	n := New(slack.New("xoxb-test", slack.OptionAPIURL(srv.URL+"/api/")), "C1")

	env := routedEnvelope()
	env.FinalResponse = domain.NewAnswerResponse(domain.AnswerResponse{Answer: "a", KnowledgeBase: domain.DocsKnowledgeBase})
	if err := n.NotifyRouted(context.Background(), env); err != nil {
		t.Fatalf("NotifyRouted: %v", err)
	}
	if len(rec.posts) != 0 {
		t.Fatalf("expected no posts, got %d", len(rec.posts))
	}

	var nilNotifier *Notifier
	if err := nilNotifier.NotifyRouted(context.Background(), routedEnvelope()); err != nil {
		t.Fatalf("nil notifier should be a no-op, got %v", err)
	}
}

func TestPostSummary(t *testing.T) {
	srv, rec := newSlackServer(t)
	n := New(slack.New("xoxb-test", slack.OptionAPIURL(srv.URL+"/api/")), "C1")

	r := report.Build("run-1", time.Now(), nil, []domain.RejectedTicket{{TicketID: "X", Reason: "missing body"}})
	if err := n.PostSummary(context.Background(), r); err != nil {
		t.Fatalf("PostSummary: %v", err)
	}
	if len(rec.posts) != 1 || !strings.Contains(rec.posts[0]["text"], "1 ticket(s) rejected") {
		t.Fatalf("unexpected posts: %+v", rec.posts)
	}
}
