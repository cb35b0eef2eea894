package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"ticketbot/internal/domain"
	"ticketbot/internal/metrics"
)

const (
	maxContextHits     = 5
	maxHitContentChars = 500
	maxAppendedContext = 1000
)

type EnhancementSource string

const (
	EnhancedByLLM     EnhancementSource = "llm"
	EnhancedBySummary EnhancementSource = "summary"
	EnhancedByContext EnhancementSource = "context"
	EnhancedByNone    EnhancementSource = "raw"
)

type EnhancedAnswer struct {
	Text   string            `json:"text"`
	Source EnhancementSource `json:"source"`
}

// Enhancer turns a terse search answer into a structured, cited response.
type Enhancer struct {
	completer Completer
}

func NewEnhancer(completer Completer) *Enhancer {
	return &Enhancer{completer: completer}
}

// Enhance accepts the model's rewrite only when it is strictly longer than
// the raw answer. Otherwise it tries the reply's summary, then appends search
// context to the raw answer, then returns the raw answer as is.
func (e *Enhancer) Enhance(ctx context.Context, rawAnswer, originalQuery string, topic domain.Topic, hits []domain.SearchHit) EnhancedAnswer {
	contextBlock := buildSearchContext(hits)
	rawLen := utf8.RuneCountInString(rawAnswer)

	text, err := complete(ctx, e.completer, "enhance", buildEnhancePrompt(rawAnswer, originalQuery, topic, contextBlock))
	if err == nil {
		reply := parseEnhanceReply(text)
		if utf8.RuneCountInString(reply.EnhancedAnswer) > rawLen {
			return record(EnhancedAnswer{Text: reply.EnhancedAnswer, Source: EnhancedByLLM})
		}
		if reply.Summary != "" && utf8.RuneCountInString(reply.Summary) > rawLen {
			return record(EnhancedAnswer{Text: reply.Summary, Source: EnhancedBySummary})
		}
		log.Printf("enhance topic=%s rejected reply chars=%d raw_chars=%d", topic, utf8.RuneCountInString(reply.EnhancedAnswer), rawLen)
	}

	if contextBlock != "" {
		text := strings.TrimSpace(rawAnswer) + "\n\nAdditional context from the documentation:\n" + clipRunes(contextBlock, maxAppendedContext)
		return record(EnhancedAnswer{Text: text, Source: EnhancedByContext})
	}
	return record(EnhancedAnswer{Text: rawAnswer, Source: EnhancedByNone})
}

func record(a EnhancedAnswer) EnhancedAnswer {
	metrics.RecordEnhancement(string(a.Source))
	return a
}

type enhanceReply struct {
	EnhancedAnswer string `json:"enhanced_answer"`
	Summary        string `json:"summary"`
}

func parseEnhanceReply(text string) enhanceReply {
	if span, ok := jsonSpan(text); ok {
		var reply enhanceReply
		if err := json.Unmarshal([]byte(span), &reply); err == nil {
			reply.EnhancedAnswer = strings.TrimSpace(reply.EnhancedAnswer)
			reply.Summary = strings.TrimSpace(reply.Summary)
			return reply
		}
	}
	return enhanceReply{EnhancedAnswer: strings.TrimSpace(text)}
}

func buildSearchContext(hits []domain.SearchHit) string {
	var b strings.Builder
	for i, h := range hits {
		if i == maxContextHits {
			break
		}
		fmt.Fprintf(&b, "Source %d: %s\n%s\nURL: %s\n\n", i+1, h.Title, clipRunes(strings.TrimSpace(h.Content), maxHitContentChars), h.URL)
	}
	return strings.TrimSpace(b.String())
}

func clipRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func buildEnhancePrompt(rawAnswer, originalQuery string, topic domain.Topic, contextBlock string) string {
	return fmt.Sprintf(`You are an Atlan support engineer. Improve the draft answer to the customer's question using the documentation excerpts.

Topic: %s
Question: %s

Draft answer:
%s

Documentation excerpts:
%s

Write a complete answer that:
- starts with a direct answer to the question
- gives numbered steps where the task has steps
- names the exact features, settings and configuration fields involved
- includes short examples or code snippets where relevant
- lists prerequisites and common troubleshooting tips
- cites the documentation URLs it relied on
Use headings and bullet points. Do not invent features that the excerpts do not mention.

Respond with JSON only (no markdown fences):
{"enhanced_answer": "...", "summary": "two or three sentence summary"}`, topic, originalQuery, rawAnswer, contextBlock)
}
