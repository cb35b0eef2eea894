package slackbot

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/slack-go/slack"

	"ticketbot/internal/config"
	"ticketbot/internal/domain"
	"ticketbot/internal/report"
)

// Notifier posts routed tickets and batch summaries to one channel.
type Notifier struct {
	api       *slack.Client
	channelID string
}

func New(api *slack.Client, channelID string) *Notifier {
	return &Notifier{api: api, channelID: channelID}
}

// NewFromConfig returns nil when Slack is not configured.
func NewFromConfig(cfg config.Config) *Notifier {
	if !cfg.SlackConfigured() {
		return nil
	}
	return New(slack.New(cfg.SlackBotToken), cfg.SlackChannelID)
}

func (n *Notifier) NotifyRouted(ctx context.Context, env domain.ResponseEnvelope) error {
	if n == nil {
		return nil
	}
	routing := env.FinalResponse.Routing
	if routing == nil {
		return nil
	}
	_, _, err := n.api.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionText(FormatRouted(env), false),
	)
	if err != nil {
		return fmt.Errorf("post routed ticket %s: %w", env.TicketID, err)
	}
	log.Printf("slack routed ticket=%s team=%q", env.TicketID, routing.RoutingInfo.Team)
	return nil
}

func (n *Notifier) PostSummary(ctx context.Context, r report.Report) error {
	if n == nil {
		return nil
	}
	_, _, err := n.api.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionText(FormatSummary(r), false),
	)
	if err != nil {
		return fmt.Errorf("post batch summary: %w", err)
	}
	return nil
}

func FormatRouted(env domain.ResponseEnvelope) string {
	info := env.FinalResponse.Routing.RoutingInfo
	a := env.InternalAnalysis
	var b strings.Builder
	fmt.Fprintf(&b, ":inbox_tray: *%s* %s\n", env.TicketID, env.Subject)
	fmt.Fprintf(&b, "Team: %s\n", info.Team)
	fmt.Fprintf(&b, "Topic: %s | Sentiment: %s | Priority: %s (%s)", a.Topic, a.Sentiment, a.Priority, info.Priority)
	return b.String()
}

func FormatSummary(r report.Report) string {
	var b strings.Builder
	b.WriteString(report.Summarize(r))
	s := r.Summary
	if s.ResponseFailures > 0 {
		fmt.Fprintf(&b, "\n%d response(s) failed and need manual follow-up.", s.ResponseFailures)
	}
	if s.RejectedTickets > 0 {
		fmt.Fprintf(&b, "\n%d ticket(s) rejected at ingestion.", s.RejectedTickets)
	}
	return b.String()
}
