package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"unicode"

	"ticketbot/internal/domain"
)

type OptimizedQuery struct {
	Query     string `json:"query"`
	Optimized bool   `json:"optimized"`
}

// Optimizer rewrites ticket text into a short documentation search query.
type Optimizer struct {
	completer Completer
}

func NewOptimizer(completer Completer) *Optimizer {
	return &Optimizer{completer: completer}
}

func (o *Optimizer) Optimize(ctx context.Context, rawQuery string, topic domain.Topic) OptimizedQuery {
	text, err := complete(ctx, o.completer, "optimize", buildOptimizePrompt(rawQuery, topic))
	if err != nil {
		return OptimizedQuery{Query: domain.ClipQuery(rawQuery)}
	}
	q := parseOptimizedQuery(text)
	if q == "" {
		log.Printf("optimize topic=%s empty reply, using raw query", topic)
		return OptimizedQuery{Query: domain.ClipQuery(rawQuery)}
	}
	log.Printf("optimize topic=%s raw_chars=%d optimized_chars=%d", topic, len(rawQuery), len(q))
	return OptimizedQuery{Query: domain.ClipQuery(q), Optimized: true}
}

// parseOptimizedQuery returns "" for a reply that looks like JSON but does
// not parse, so the caller keeps the raw query.
func parseOptimizedQuery(text string) string {
	if span, ok := jsonSpan(text); ok {
		var reply struct {
			OptimizedQuery string `json:"optimized_query"`
		}
		if err := json.Unmarshal([]byte(span), &reply); err != nil {
			return ""
		}
		return strings.TrimSpace(reply.OptimizedQuery)
	}
	if strings.HasPrefix(strings.TrimSpace(text), "{") {
		return ""
	}
	// Plain-text replies: take the first line that has any words in it.
	for _, line := range strings.Split(text, "\n") {
		line = strings.Trim(strings.TrimSpace(line), `"`)
		if hasLetterOrDigit(line) {
			return line
		}
	}
	return ""
}

func hasLetterOrDigit(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func buildOptimizePrompt(rawQuery string, topic domain.Topic) string {
	return fmt.Sprintf(`Rewrite the support question below into a concise search query for the Atlan documentation.

Topic: %s
Question: %s

Rules:
- Keep the product terms, feature names and error messages that matter.
- Use Atlan terminology (assets, connectors, crawlers, lineage, glossary, personas, purposes).
- Drop greetings, pleasantries and account details.
- Stay under 300 characters.

Respond with JSON only (no markdown):
{"optimized_query": "..."}`, topic, rawQuery)
}
