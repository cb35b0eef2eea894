package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ticketbot/internal/domain"
	"ticketbot/internal/httpx"
	"ticketbot/internal/report"
)

type Classifier interface {
	Classify(ctx context.Context, ticket domain.Ticket) domain.ClassificationResult
}

type ResponseGenerator interface {
	GenerateResponse(ctx context.Context, ticket domain.Ticket, classification domain.Classification) domain.ResponseEnvelope
}

// Notifier is told about tickets that were routed to a team.
type Notifier interface {
	NotifyRouted(ctx context.Context, env domain.ResponseEnvelope) error
}

// Processor runs tickets through classification and response generation.
// Each ticket is handled start to finish by one goroutine; with more than one
// worker, different tickets run concurrently.
type Processor struct {
	classifier Classifier
	generator  ResponseGenerator
	notifier   Notifier
	delay      time.Duration
	workers    int
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
	newRunID   func() string
}

type Option func(*Processor)

// WithDelay sets the pause between tickets in sequential mode.
func WithDelay(d time.Duration) Option {
	return func(p *Processor) { p.delay = d }
}

func WithWorkers(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Processor) { p.sleep = sleep }
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func WithNotifier(n Notifier) Option {
	return func(p *Processor) { p.notifier = n }
}

func WithRunIDs(newRunID func() string) Option {
	return func(p *Processor) { p.newRunID = newRunID }
}

func New(classifier Classifier, generator ResponseGenerator, opts ...Option) *Processor {
	p := &Processor{
		classifier: classifier,
		generator:  generator,
		delay:      500 * time.Millisecond,
		workers:    1,
		sleep:      httpx.SleepContext,
		now:        time.Now,
		newRunID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessTicket classifies the ticket and always goes on to generate a
// response, using the default labels if classification failed.
func (p *Processor) ProcessTicket(ctx context.Context, ticket domain.Ticket) (domain.TicketResult, error) {
	if err := domain.ValidateTicket(ticket); err != nil {
		return domain.TicketResult{}, err
	}
	return p.process(ctx, ticket, true), nil
}

// ProcessQuery treats a free-form question as a ticket whose subject and
// body are both the question.
func (p *Processor) ProcessQuery(ctx context.Context, query, ticketID string) (domain.TicketResult, error) {
	if ticketID == "" {
		ticketID = QueryTicketID(query)
	}
	return p.ProcessTicket(ctx, domain.Ticket{ID: ticketID, Subject: query, Body: query})
}

// QueryTicketID derives a stable id for an ad-hoc query.
func QueryTicketID(query string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(query))
	return fmt.Sprintf("QUERY-%d", h.Sum32()%10000)
}

// ProcessBatch validates, classifies and answers every ticket. Invalid
// tickets are rejected up front and listed in the report. Result order
// matches input order regardless of worker count.
func (p *Processor) ProcessBatch(ctx context.Context, tickets []domain.Ticket) report.Report {
	return p.run(ctx, tickets, true)
}

// ClassifyBatch is ProcessBatch without response generation.
func (p *Processor) ClassifyBatch(ctx context.Context, tickets []domain.Ticket) report.Report {
	return p.run(ctx, tickets, false)
}

func (p *Processor) run(ctx context.Context, tickets []domain.Ticket, respond bool) report.Report {
	runID := p.newRunID()
	valid, rejected := partition(tickets)
	log.Printf("batch run=%s tickets=%d valid=%d rejected=%d workers=%d respond=%t", runID, len(tickets), len(valid), len(rejected), p.workers, respond)

	results := make([]domain.TicketResult, len(valid))
	started := make([]bool, len(valid))
	if p.workers <= 1 {
		for i, t := range valid {
			if i > 0 && p.delay > 0 {
				if err := p.sleep(ctx, p.delay); err != nil {
					log.Printf("batch run=%s delay interrupted: %v", runID, err)
					break
				}
			}
			if ctx.Err() != nil {
				break
			}
			started[i] = true
			results[i] = p.process(ctx, t, respond)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(p.workers)
		for i, t := range valid {
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				started[i] = true
				results[i] = p.process(ctx, t, respond)
				return nil
			})
		}
		_ = g.Wait()
	}

	// Tickets never started are left out so a later run picks them up.
	attempted := results[:0]
	for i, res := range results {
		if started[i] {
			attempted = append(attempted, res)
		}
	}
	if skipped := len(valid) - len(attempted); skipped > 0 {
		log.Printf("batch run=%s cancelled, skipped=%d", runID, skipped)
	}

	r := report.Build(runID, p.now(), attempted, rejected)
	log.Printf("batch run=%s %s", runID, report.Summarize(r))
	return r
}

func partition(tickets []domain.Ticket) ([]domain.Ticket, []domain.RejectedTicket) {
	var valid []domain.Ticket
	var rejected []domain.RejectedTicket
	seen := make(map[string]bool, len(tickets))
	for _, t := range tickets {
		if err := domain.ValidateTicket(t); err != nil {
			rejected = append(rejected, domain.RejectedTicket{TicketID: t.ID, Reason: err.Error()})
			continue
		}
		if seen[t.ID] {
			rejected = append(rejected, domain.RejectedTicket{TicketID: t.ID, Reason: "duplicate ticket id"})
			continue
		}
		seen[t.ID] = true
		valid = append(valid, t)
	}
	return valid, rejected
}

func (p *Processor) process(ctx context.Context, ticket domain.Ticket, respond bool) domain.TicketResult {
	classification := p.classifier.Classify(ctx, ticket)
	result := domain.TicketResult{
		TicketID:       ticket.ID,
		Subject:        ticket.Subject,
		Classification: classification,
		Success:        classification.Status == domain.StatusSuccess,
	}
	if classification.Status == domain.StatusError {
		result.Error = "classification failed, default labels applied"
	}
	if !respond {
		return result
	}

	env := p.generator.GenerateResponse(ctx, ticket, classification.Classification)
	result.Response = &env
	if f := env.FinalResponse.Failure; f != nil {
		result.Error = f.Message
	}
	if p.notifier != nil && env.FinalResponse.Type() == domain.ResponseRouting {
		if err := p.notifier.NotifyRouted(ctx, env); err != nil {
			log.Printf("notify ticket=%s error: %v", ticket.ID, err)
		}
	}
	return result
}
