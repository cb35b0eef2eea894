package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ticketbot/internal/domain"
	"ticketbot/internal/httpx"
)

type fakeCompleter struct {
	replies []string
	err     error
	calls   int
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", nil
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return reply, nil
}

func (f *fakeCompleter) Provider() string { return "fake" }
func (f *fakeCompleter) Model() string    { return "fake-model" }

var testTicket = domain.Ticket{
	ID:      "TICKET-245",
	Subject: "Connecting Snowflake to Atlan - required permissions?",
	Body:    "Hi team, we're trying to set up our primary Snowflake production database. What permissions does the service account need?",
}

func TestClassifySuccess(t *testing.T) {
	fc := &fakeCompleter{replies: []string{`Here you go:
{"topic_tag": "Connector", "sentiment": "Curious", "priority": "P0 (High)",
 "reasoning": {"topic_reasoning": "Snowflake connection", "sentiment_reasoning": "asking", "priority_reasoning": "production"}}`}}
	c := NewClassifier(fc, nil)

	got := c.Classify(context.Background(), testTicket)
	if got.Status != domain.StatusSuccess {
		t.Fatalf("status = %s, want success", got.Status)
	}
	if got.TicketID != testTicket.ID || got.Subject != testTicket.Subject {
		t.Fatalf("ticket identity not carried: %+v", got)
	}
	cl := got.Classification
	if cl.TopicTag != domain.TopicConnector || cl.Sentiment != domain.SentimentCurious || cl.Priority != domain.PriorityP0 {
		t.Fatalf("unexpected classification: %+v", cl)
	}
	if cl.Reasoning.TopicReasoning != "Snowflake connection" {
		t.Fatalf("reasoning not parsed: %+v", cl.Reasoning)
	}
	if !strings.Contains(fc.prompts[0], testTicket.Subject) || !strings.Contains(fc.prompts[0], "Sensitive data") {
		t.Fatalf("prompt missing ticket or taxonomy: %s", fc.prompts[0])
	}
}

func TestClassifyFallbackOnUnparseableReply(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		want  domain.Classification
	}{
		{
			name:  "prose",
			reply: "This is about Lineage and the user is frustrated, it is urgent.",
			want:  domain.Classification{TopicTag: domain.TopicLineage, Sentiment: domain.SentimentFrustrated, Priority: domain.PriorityP0},
		},
		{
			name:  "missing key",
			reply: `{"topic_tag": "SSO", "sentiment": "Neutral"}`,
			want:  domain.Classification{TopicTag: domain.TopicSSO, Sentiment: domain.SentimentNeutral, Priority: domain.PriorityP1},
		},
		{
			name:  "label outside enumeration",
			reply: `{"topic_tag": "Billing", "sentiment": "Curious", "priority": "P2"}`,
			want:  domain.Classification{TopicTag: domain.TopicProduct, Sentiment: domain.SentimentCurious, Priority: domain.PriorityP2},
		},
		{
			name:  "empty",
			reply: "",
			want:  domain.Classification{TopicTag: domain.TopicProduct, Sentiment: domain.SentimentNeutral, Priority: domain.PriorityP1},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewClassifier(&fakeCompleter{replies: []string{tc.reply}}, nil)
			got := c.Classify(context.Background(), testTicket)
			if got.Status != domain.StatusFallback {
				t.Fatalf("status = %s, want fallback", got.Status)
			}
			cl := got.Classification
			if cl.TopicTag != tc.want.TopicTag || cl.Sentiment != tc.want.Sentiment || cl.Priority != tc.want.Priority {
				t.Fatalf("got %s/%s/%s want %s/%s/%s", cl.TopicTag, cl.Sentiment, cl.Priority, tc.want.TopicTag, tc.want.Sentiment, tc.want.Priority)
			}
			if cl.Reasoning.TopicReasoning != extractedReasoning {
				t.Fatalf("unexpected reasoning %q", cl.Reasoning.TopicReasoning)
			}
			if !cl.Valid() {
				t.Fatalf("fallback produced invalid labels: %+v", cl)
			}
		})
	}
}

func TestClassifyTransportErrorUsesDefault(t *testing.T) {
	c := NewClassifier(&fakeCompleter{err: errors.New("connection refused")}, nil)
	got := c.Classify(context.Background(), testTicket)
	if got.Status != domain.StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if got.Classification != domain.DefaultClassification() {
		t.Fatalf("expected default classification, got %+v", got.Classification)
	}
}

func TestClassifyWithoutCompleterUsesDefault(t *testing.T) {
	got := NewClassifier(nil, nil).Classify(context.Background(), testTicket)
	if got.Status != domain.StatusError || got.Classification.TopicTag != domain.TopicProduct {
		t.Fatalf("unexpected result without completer: %+v", got)
	}
}

func TestClassifyIsIdempotent(t *testing.T) {
	reply := `{"topic_tag": "API/SDK", "sentiment": "Neutral", "priority": "P2"}`
	c := NewClassifier(&fakeCompleter{replies: []string{reply}}, nil)
	first := c.Classify(context.Background(), testTicket)
	second := c.Classify(context.Background(), testTicket)
	if first != second {
		t.Fatalf("classification not idempotent:\n%+v\n%+v", first, second)
	}
}

func TestExtractClassificationKeywordOrder(t *testing.T) {
	cases := []struct {
		text      string
		topic     domain.Topic
		sentiment domain.Sentiment
		priority  domain.Priority
	}{
		{"how-to set up a glossary", domain.TopicHowTo, domain.SentimentNeutral, domain.PriorityP1},
		{"angry about this huge problem, it is critical", domain.TopicProduct, domain.SentimentAngry, domain.PriorityP0},
		{"I'm curious to explore api/sdk options, low priority", domain.TopicAPISDK, domain.SentimentCurious, domain.PriorityP2},
		{"worried about sensitive data exposure", domain.TopicSensitiveData, domain.SentimentConcerned, domain.PriorityP1},
	}
	for _, tc := range cases {
		got := ExtractClassification(tc.text, nil)
		if got.TopicTag != tc.topic || got.Sentiment != tc.sentiment || got.Priority != tc.priority {
			t.Fatalf("ExtractClassification(%q) = %s/%s/%s want %s/%s/%s", tc.text, got.TopicTag, got.Sentiment, got.Priority, tc.topic, tc.sentiment, tc.priority)
		}
	}
}

func TestGlossaryOverridesKeywords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glossary.yaml")
	content := `
topics:
  - phrase: "snowflake"
    topic: "Connector"
  - phrase: "ignored"
    topic: "Billing"
sentiments:
  - phrase: "thanks a lot"
    sentiment: "Positive"
priorities:
  - phrase: "production down"
    priority: "P0"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write glossary: %v", err)
	}
	g, err := LoadKeywordGlossary(path)
	if err != nil {
		t.Fatalf("LoadKeywordGlossary: %v", err)
	}

	got := ExtractClassification("Product question: snowflake production down, thanks a lot", g)
	if got.TopicTag != domain.TopicConnector || got.Sentiment != domain.SentimentPositive || got.Priority != domain.PriorityP0 {
		t.Fatalf("glossary not applied: %+v", got)
	}

	if err := AppendTopicTerm(path, "Okta", domain.TopicSSO); err != nil {
		t.Fatalf("AppendTopicTerm: %v", err)
	}
	if err := AppendTopicTerm(path, "okta ", domain.TopicSSO); err != nil {
		t.Fatalf("AppendTopicTerm duplicate: %v", err)
	}
	g, err = LoadKeywordGlossary(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(g.Topics) != 3 {
		t.Fatalf("expected 3 topic terms after append, got %d", len(g.Topics))
	}
}

func TestOptimizeUsesModelReply(t *testing.T) {
	o := NewOptimizer(&fakeCompleter{replies: []string{`{"optimized_query": "Snowflake connector service account permissions"}`}})
	got := o.Optimize(context.Background(), testTicket.Query(), domain.TopicHowTo)
	if !got.Optimized || got.Query != "Snowflake connector service account permissions" {
		t.Fatalf("unexpected optimized query: %+v", got)
	}
}

func TestOptimizeFallbackBoundary(t *testing.T) {
	failing := NewOptimizer(&fakeCompleter{err: errors.New("down")})

	exact := strings.Repeat("a", 400)
	got := failing.Optimize(context.Background(), exact, domain.TopicProduct)
	if got.Optimized || got.Query != exact {
		t.Fatalf("400-char query should pass unchanged, got %d chars", len(got.Query))
	}

	over := strings.Repeat("b", 401)
	got = failing.Optimize(context.Background(), over, domain.TopicProduct)
	want := strings.Repeat("b", 397) + "..."
	if got.Query != want {
		t.Fatalf("401-char query should clip to 397+..., got %d chars", len(got.Query))
	}

	empty := NewOptimizer(&fakeCompleter{replies: []string{`{"optimized_query": "  "}`}})
	if got := empty.Optimize(context.Background(), "short", domain.TopicSSO); got.Optimized || got.Query != "short" {
		t.Fatalf("empty reply should fall back, got %+v", got)
	}
}

func TestOptimizeRejectsMalformedReplies(t *testing.T) {
	raw := testTicket.Query()
	tests := []struct {
		name  string
		reply string
	}{
		{"unquoted key", "{\n  optimized_query: snowflake crawler permissions\n}"},
		{"truncated json", `{"optimized_query": "snowflake crawler`},
		{"punctuation only", "```\n---\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewOptimizer(&fakeCompleter{replies: []string{tt.reply}}).Optimize(context.Background(), raw, domain.TopicHowTo)
			if got.Optimized || got.Query != domain.ClipQuery(raw) {
				t.Fatalf("expected raw query fallback, got %+v", got)
			}
		})
	}

	prose := NewOptimizer(&fakeCompleter{replies: []string{"\n\"snowflake service account permissions\"\n"}})
	if got := prose.Optimize(context.Background(), raw, domain.TopicHowTo); !got.Optimized || got.Query != "snowflake service account permissions" {
		t.Fatalf("plain-text reply should be used, got %+v", got)
	}
}

func TestEnhanceAcceptanceChain(t *testing.T) {
	raw := "Grant USAGE on the warehouse."
	hits := []domain.SearchHit{
		{Title: "Snowflake setup", Content: strings.Repeat("x", 800), URL: "https://docs.atlan.com/snowflake"},
	}

	longer := `{"enhanced_answer": "Grant USAGE on the warehouse and database, then SELECT on schemas.", "summary": ""}`
	got := NewEnhancer(&fakeCompleter{replies: []string{longer}}).Enhance(context.Background(), raw, "q", domain.TopicHowTo, hits)
	if got.Source != EnhancedByLLM || !strings.HasPrefix(got.Text, "Grant USAGE on the warehouse and database") {
		t.Fatalf("expected llm answer, got %+v", got)
	}

	shorterWithSummary := `{"enhanced_answer": "Grant it.", "summary": "Grant USAGE on the warehouse plus SELECT on every schema."}`
	got = NewEnhancer(&fakeCompleter{replies: []string{shorterWithSummary}}).Enhance(context.Background(), raw, "q", domain.TopicHowTo, hits)
	if got.Source != EnhancedBySummary {
		t.Fatalf("expected summary, got %+v", got)
	}

	sameLength := `{"enhanced_answer": "Grant USAGE on the warehouse."}`
	got = NewEnhancer(&fakeCompleter{replies: []string{sameLength}}).Enhance(context.Background(), raw, "q", domain.TopicHowTo, hits)
	if got.Source != EnhancedByContext {
		t.Fatalf("equal-length reply must be rejected, got %+v", got)
	}
	if !strings.HasPrefix(got.Text, raw) {
		t.Fatalf("context answer must start with raw answer: %q", got.Text)
	}
	appended := strings.TrimPrefix(got.Text, raw+"\n\nAdditional context from the documentation:\n")
	if len([]rune(appended)) > maxAppendedContext {
		t.Fatalf("appended context too long: %d", len([]rune(appended)))
	}

	got = NewEnhancer(&fakeCompleter{err: errors.New("down")}).Enhance(context.Background(), raw, "q", domain.TopicHowTo, nil)
	if got.Source != EnhancedByNone || got.Text != raw {
		t.Fatalf("expected raw answer, got %+v", got)
	}
}

func TestEnhanceTakesProseReply(t *testing.T) {
	prose := "## Answer\nGrant USAGE on the warehouse, database and schemas to the Atlan role."
	got := NewEnhancer(&fakeCompleter{replies: []string{prose}}).Enhance(context.Background(), "Grant USAGE.", "q", domain.TopicHowTo, nil)
	if got.Source != EnhancedByLLM || got.Text != prose {
		t.Fatalf("expected prose reply accepted, got %+v", got)
	}
}

func TestEnhanceEmptyAnswerUsesSummary(t *testing.T) {
	reply := `{"enhanced_answer": "", "summary": "Grant USAGE on the warehouse and database, then SELECT on each schema."}`
	got := NewEnhancer(&fakeCompleter{replies: []string{reply}}).Enhance(context.Background(), "Grant permissions.", "q", domain.TopicHowTo, nil)
	if got.Source != EnhancedBySummary {
		t.Fatalf("expected summary source, got %+v", got)
	}
	if strings.Contains(got.Text, "enhanced_answer") {
		t.Fatalf("raw JSON leaked into answer: %q", got.Text)
	}

	bothEmpty := `{"enhanced_answer": "", "summary": ""}`
	got = NewEnhancer(&fakeCompleter{replies: []string{bothEmpty}}).Enhance(context.Background(), "Grant permissions.", "q", domain.TopicHowTo, nil)
	if got.Source != EnhancedByNone || got.Text != "Grant permissions." {
		t.Fatalf("expected raw answer, got %+v", got)
	}
}

func TestBuildSearchContextLimits(t *testing.T) {
	var hits []domain.SearchHit
	for i := 0; i < 7; i++ {
		hits = append(hits, domain.SearchHit{Title: "t", Content: strings.Repeat("c", 600), URL: "https://docs.atlan.com/x"})
	}
	ctxBlock := buildSearchContext(hits)
	if strings.Count(ctxBlock, "URL: ") != maxContextHits {
		t.Fatalf("expected %d hits in context, got %d", maxContextHits, strings.Count(ctxBlock, "URL: "))
	}
	if strings.Contains(ctxBlock, strings.Repeat("c", 501)) {
		t.Fatal("hit content not clipped to 500 chars")
	}
}

func TestChatClientRequestAndRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gsk-test" {
			t.Errorf("missing bearer token")
		}
		body, _ := io.ReadAll(r.Body)
		var req openAIRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Model != "gemma2-9b-it" || req.Temperature != 0.1 || req.MaxTokens != 500 {
			t.Errorf("unexpected request: %+v", req)
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hello"}}],"usage":{"prompt_tokens":3,"completion_tokens":1}}`))
	}))
	defer srv.Close()

	var waits []time.Duration
	policy := httpx.DefaultRetryPolicy()
	policy.Sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	c := NewChatClient("gsk-test", "", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()), WithRetryPolicy(policy))

	got, err := c.Complete(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "hello" {
		t.Fatalf("Complete = %q", got)
	}
	if calls != 2 || len(waits) != 1 || waits[0] != time.Second {
		t.Fatalf("expected one 1s backoff, calls=%d waits=%v", calls, waits)
	}
}

func TestChatClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"message":"model not found"}}`))
	}))
	defer srv.Close()

	c := NewChatClient("k", "m", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	if _, err := c.Complete(context.Background(), "hi"); err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestClassifierOverHTTPFallsBackOnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClassifier(NewChatClient("bad", "", WithBaseURL(srv.URL), WithHTTPClient(srv.Client())), nil)
	got := c.Classify(context.Background(), testTicket)
	if got.Status != domain.StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
}
