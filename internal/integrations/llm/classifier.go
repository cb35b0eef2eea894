package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"ticketbot/internal/domain"
	"ticketbot/internal/metrics"
)

const extractedReasoning = "Extracted from content keywords"

var sentimentKeywords = []struct {
	sentiment domain.Sentiment
	words     []string
}{
	{domain.SentimentFrustrated, []string{"frustrated", "frustrating", "blocked", "urgent"}},
	{domain.SentimentAngry, []string{"angry", "infuriating", "huge problem"}},
	{domain.SentimentCurious, []string{"curious", "explore", "understand"}},
	{domain.SentimentConcerned, []string{"concerned", "worried", "security"}},
}

var priorityKeywords = []struct {
	priority domain.Priority
	words    []string
}{
	{domain.PriorityP0, []string{"urgent", "critical", "blocking", "asap", "p0"}},
	{domain.PriorityP2, []string{"low", "p2", "general"}},
}

// Classifier labels tickets with topic, sentiment and priority. It holds no
// per-ticket state, so one instance is safe to share across workers.
type Classifier struct {
	completer Completer
	glossary  *KeywordGlossary
}

func NewClassifier(completer Completer, glossary *KeywordGlossary) *Classifier {
	return &Classifier{completer: completer, glossary: glossary}
}

// Classify never fails: a transport error yields the default labels with
// status error, and an unparseable reply yields keyword-extracted labels with
// status fallback.
func (c *Classifier) Classify(ctx context.Context, ticket domain.Ticket) domain.ClassificationResult {
	result := domain.ClassificationResult{
		TicketID: ticket.ID,
		Subject:  ticket.Subject,
	}

	text, err := complete(ctx, c.completer, "classify", buildClassificationPrompt(ticket))
	switch {
	case err != nil:
		log.Printf("classify ticket=%s status=error err=%v", ticket.ID, err)
		result.Classification = domain.DefaultClassification()
		result.Status = domain.StatusError
	default:
		if parsed, ok := parseClassification(text); ok {
			result.Classification = parsed
			result.Status = domain.StatusSuccess
		} else {
			log.Printf("classify ticket=%s status=fallback response_chars=%d", ticket.ID, len(text))
			result.Classification = ExtractClassification(text, c.glossary)
			result.Status = domain.StatusFallback
		}
	}

	metrics.RecordClassification(string(result.Status), string(result.Classification.TopicTag))
	log.Printf("classify ticket=%s topic=%s sentiment=%s priority=%s status=%s",
		ticket.ID, result.Classification.TopicTag, result.Classification.Sentiment, result.Classification.Priority, result.Status)
	return result
}

type classificationReply struct {
	TopicTag  *string           `json:"topic_tag"`
	Sentiment *string           `json:"sentiment"`
	Priority  *string           `json:"priority"`
	Reasoning *domain.Reasoning `json:"reasoning"`
}

func parseClassification(text string) (domain.Classification, bool) {
	span, ok := jsonSpan(text)
	if !ok {
		return domain.Classification{}, false
	}
	var reply classificationReply
	if err := json.Unmarshal([]byte(span), &reply); err != nil {
		return domain.Classification{}, false
	}
	if reply.TopicTag == nil || reply.Sentiment == nil || reply.Priority == nil {
		return domain.Classification{}, false
	}
	topic, ok := domain.ParseTopic(*reply.TopicTag)
	if !ok {
		return domain.Classification{}, false
	}
	sentiment, ok := domain.ParseSentiment(*reply.Sentiment)
	if !ok {
		return domain.Classification{}, false
	}
	priority, ok := domain.ParsePriority(*reply.Priority)
	if !ok {
		return domain.Classification{}, false
	}
	c := domain.Classification{TopicTag: topic, Sentiment: sentiment, Priority: priority}
	if reply.Reasoning != nil {
		c.Reasoning = *reply.Reasoning
	}
	return c, true
}

// ExtractClassification derives labels from free text by keyword matching.
// Glossary phrases win over built-in keywords; each dimension falls back to
// Product, Neutral and P1.
func ExtractClassification(text string, glossary *KeywordGlossary) domain.Classification {
	lower := strings.ToLower(text)

	topic, ok := glossary.topicFor(lower)
	if !ok {
		topic = domain.TopicProduct
		for _, t := range domain.Topics {
			if strings.Contains(lower, strings.ToLower(string(t))) {
				topic = t
				break
			}
		}
	}

	sentiment, ok := glossary.sentimentFor(lower)
	if !ok {
		sentiment = keywordSentiment(lower)
	}

	priority, ok := glossary.priorityFor(lower)
	if !ok {
		priority = keywordPriority(lower)
	}

	return domain.Classification{
		TopicTag:  topic,
		Sentiment: sentiment,
		Priority:  priority,
		Reasoning: domain.Reasoning{
			TopicReasoning:     extractedReasoning,
			SentimentReasoning: extractedReasoning,
			PriorityReasoning:  extractedReasoning,
		},
	}
}

func keywordSentiment(lower string) domain.Sentiment {
	for _, group := range sentimentKeywords {
		for _, w := range group.words {
			if strings.Contains(lower, w) {
				return group.sentiment
			}
		}
	}
	return domain.SentimentNeutral
}

func keywordPriority(lower string) domain.Priority {
	for _, group := range priorityKeywords {
		for _, w := range group.words {
			if strings.Contains(lower, w) {
				return group.priority
			}
		}
	}
	return domain.PriorityP1
}

func buildClassificationPrompt(ticket domain.Ticket) string {
	var topics, sentiments, priorities strings.Builder
	for _, t := range domain.Topics {
		fmt.Fprintf(&topics, "   - %s: %s\n", t, t.Description())
	}
	for _, s := range domain.Sentiments {
		fmt.Fprintf(&sentiments, "   - %s: %s\n", s, s.Description())
	}
	for _, p := range domain.Priorities {
		fmt.Fprintf(&priorities, "   - %s: %s\n", p, p.Description())
	}

	return fmt.Sprintf(`You classify Atlan customer support tickets. Analyze the ticket below and classify it on three dimensions.

TICKET:
Subject: %s
Body: %s

1. TOPIC (pick exactly one):
%s
2. SENTIMENT (pick exactly one):
%s
3. PRIORITY (pick exactly one, answer with the bare level such as "P1"):
%s
Respond with JSON only (no markdown):
{
  "topic_tag": "...",
  "sentiment": "...",
  "priority": "...",
  "reasoning": {
    "topic_reasoning": "one sentence",
    "sentiment_reasoning": "one sentence",
    "priority_reasoning": "one sentence"
  }
}`, ticket.Subject, ticket.Body, topics.String(), sentiments.String(), priorities.String())
}
