package responder

import (
	"context"
	"fmt"
	"log"
	"time"

	"ticketbot/internal/domain"
	"ticketbot/internal/integrations/llm"
	"ticketbot/internal/metrics"
)

type QueryOptimizer interface {
	Optimize(ctx context.Context, rawQuery string, topic domain.Topic) llm.OptimizedQuery
}

type Searcher interface {
	Search(ctx context.Context, query string, topic domain.Topic) domain.SearchResult
}

type AnswerEnhancer interface {
	Enhance(ctx context.Context, rawAnswer, originalQuery string, topic domain.Topic, hits []domain.SearchHit) llm.EnhancedAnswer
}

// Generator turns a classified ticket into a customer-facing response:
// a documentation answer for search-supported topics, a team routing
// otherwise.
type Generator struct {
	optimizer QueryOptimizer
	searcher  Searcher
	enhancer  AnswerEnhancer
	now       func() time.Time
}

func NewGenerator(optimizer QueryOptimizer, searcher Searcher, enhancer AnswerEnhancer) *Generator {
	return &Generator{
		optimizer: optimizer,
		searcher:  searcher,
		enhancer:  enhancer,
		now:       time.Now,
	}
}

// WithClock overrides the timestamp source.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

func (g *Generator) GenerateResponse(ctx context.Context, ticket domain.Ticket, classification domain.Classification) domain.ResponseEnvelope {
	topic := classification.TopicTag
	var final domain.FinalResponse
	if topic.SearchSupported() {
		final = g.answer(ctx, ticket, topic)
	} else {
		final = domain.NewRoutingResponse(Routing(topic))
	}

	metrics.RecordResponse(string(final.Type()))
	log.Printf("respond ticket=%s topic=%s type=%s", ticket.ID, topic, final.Type())
	return domain.ResponseEnvelope{
		TicketID:         ticket.ID,
		Subject:          ticket.Subject,
		InternalAnalysis: domain.AnalysisOf(classification),
		FinalResponse:    final,
		GeneratedAt:      g.now().UTC(),
	}
}

func (g *Generator) answer(ctx context.Context, ticket domain.Ticket, topic domain.Topic) domain.FinalResponse {
	query := ticket.Query()
	optimized := g.optimizer.Optimize(ctx, query, topic)

	result := g.searcher.Search(ctx, optimized.Query, topic)
	if !result.Success {
		return domain.NewErrorResponse(domain.ErrorResponse{
			Message:  fmt.Sprintf("Unable to generate answer: %s", result.Error),
			Fallback: fmt.Sprintf("This ticket has been classified as a '%s' issue. Please contact support for assistance.", topic),
		})
	}

	enhanced := g.enhancer.Enhance(ctx, result.Answer, query, topic, result.Results)
	log.Printf("respond ticket=%s optimized=%t fallback_search=%t not_found=%t enhanced_by=%s",
		ticket.ID, optimized.Optimized, result.UsedFallback, result.NotFound, enhanced.Source)
	return domain.NewAnswerResponse(domain.AnswerResponse{
		Answer:        enhanced.Text,
		Sources:       result.Sources,
		KnowledgeBase: domain.KnowledgeBaseFor(topic),
	})
}

var teams = map[domain.Topic]string{
	domain.TopicConnector:     "Technical Support Team - Database Connections",
	domain.TopicLineage:       "Data Engineering Team - Data Lineage",
	domain.TopicGlossary:      "Data Governance Team - Metadata Management",
	domain.TopicSensitiveData: "Security Team - Data Privacy & Compliance",
	domain.TopicProduct:       "Product Team - Feature Requests",
}

const defaultTeam = "General Support Team"

// Routing describes where a ticket on topic goes when it is not answered
// directly.
func Routing(topic domain.Topic) domain.RoutingResponse {
	return domain.RoutingResponse{
		Message:     fmt.Sprintf("This ticket has been classified as a '%s' issue and routed to the appropriate team.", topic),
		RoutingInfo: RoutingInfoFor(topic),
	}
}

func RoutingInfoFor(topic domain.Topic) domain.RoutingInfo {
	team, ok := teams[topic]
	if !ok {
		team = defaultTeam
	}
	priority := "Medium"
	if topic == domain.TopicSensitiveData || topic == domain.TopicConnector {
		priority = "High"
	}
	return domain.RoutingInfo{Team: team, Category: string(topic), Priority: priority}
}
