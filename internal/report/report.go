package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ticketbot/internal/domain"
)

type Summary struct {
	TotalTickets              int    `json:"total_tickets"`
	SuccessfulClassifications int    `json:"successful_classifications"`
	FailedClassifications     int    `json:"failed_classifications"`
	FallbackClassifications   int    `json:"fallback_classifications"`
	ResponseFailures          int    `json:"response_failures"`
	RejectedTickets           int    `json:"rejected_tickets"`
	SuccessRate               string `json:"success_rate"`
}

type Distributions struct {
	Topics     map[string]int `json:"topics"`
	Sentiments map[string]int `json:"sentiments"`
	Priorities map[string]int `json:"priorities"`
}

type Report struct {
	RunID           string                  `json:"run_id"`
	GeneratedAt     time.Time               `json:"generated_at"`
	Summary         Summary                 `json:"summary"`
	Distributions   Distributions           `json:"distributions"`
	DetailedResults []domain.TicketResult   `json:"detailed_results"`
	Rejected        []domain.RejectedTicket `json:"rejected,omitempty"`
}

// Build aggregates per-ticket results. It runs after all workers are done,
// so counting needs no locking.
func Build(runID string, generatedAt time.Time, results []domain.TicketResult, rejected []domain.RejectedTicket) Report {
	r := Report{
		RunID:       runID,
		GeneratedAt: generatedAt.UTC(),
		Distributions: Distributions{
			Topics:     map[string]int{},
			Sentiments: map[string]int{},
			Priorities: map[string]int{},
		},
		DetailedResults: results,
		Rejected:        rejected,
	}
	if r.DetailedResults == nil {
		r.DetailedResults = []domain.TicketResult{}
	}

	for _, res := range results {
		switch res.Classification.Status {
		case domain.StatusSuccess:
			r.Summary.SuccessfulClassifications++
		case domain.StatusFallback:
			r.Summary.FallbackClassifications++
		}
		if res.ResponseType() == domain.ResponseError {
			r.Summary.ResponseFailures++
		}
		c := res.Classification.Classification
		r.Distributions.Topics[string(c.TopicTag)]++
		r.Distributions.Sentiments[string(c.Sentiment)]++
		r.Distributions.Priorities[string(c.Priority)]++
	}
	r.Summary.TotalTickets = len(results)
	r.Summary.FailedClassifications = r.Summary.TotalTickets - r.Summary.SuccessfulClassifications
	r.Summary.RejectedTickets = len(rejected)

	rate := 0.0
	if r.Summary.TotalTickets > 0 {
		rate = float64(r.Summary.SuccessfulClassifications) / float64(r.Summary.TotalTickets) * 100
	}
	r.Summary.SuccessRate = fmt.Sprintf("%.1f%%", rate)
	return r
}

var csvHeader = []string{
	"ticket_id", "subject", "topic_tag", "sentiment", "priority", "status", "response_type",
	"topic_reasoning", "sentiment_reasoning", "priority_reasoning",
}

// Rows flattens the report into one CSV-ready row per ticket.
func Rows(r Report) [][]string {
	rows := make([][]string, 0, len(r.DetailedResults))
	for _, res := range r.DetailedResults {
		c := res.Classification.Classification
		rows = append(rows, []string{
			res.TicketID,
			res.Subject,
			string(c.TopicTag),
			string(c.Sentiment),
			string(c.Priority),
			string(res.Classification.Status),
			string(res.ResponseType()),
			c.Reasoning.TopicReasoning,
			c.Reasoning.SentimentReasoning,
			c.Reasoning.PriorityReasoning,
		})
	}
	return rows
}

func WriteJSON(path string, r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func WriteCSV(path string, r Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	if err := w.WriteAll(Rows(r)); err != nil {
		return err
	}
	return f.Close()
}

type Files struct {
	JSON     string
	CSV      string
	Markdown string
}

// WriteReportFiles writes the JSON, CSV and Markdown renditions into outputDir.
func WriteReportFiles(outputDir string, r Report) (Files, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return Files{}, err
	}
	base := fmt.Sprintf("tickets_%s", r.GeneratedAt.Format("20060102_150405"))
	if r.RunID != "" {
		base += "_" + shortID(r.RunID)
	}
	files := Files{
		JSON:     filepath.Join(outputDir, base+".json"),
		CSV:      filepath.Join(outputDir, base+".csv"),
		Markdown: filepath.Join(outputDir, base+".md"),
	}
	if err := WriteJSON(files.JSON, r); err != nil {
		return files, err
	}
	if err := WriteCSV(files.CSV, r); err != nil {
		return files, err
	}
	return files, os.WriteFile(files.Markdown, []byte(Markdown(r)), 0644)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Summarize is a one-line digest for logs and chat.
func Summarize(r Report) string {
	s := r.Summary
	msg := fmt.Sprintf("Processed %d tickets: %d classified (%s), %d fallback, %d response failures",
		s.TotalTickets, s.SuccessfulClassifications, s.SuccessRate, s.FallbackClassifications, s.ResponseFailures)
	if s.RejectedTickets > 0 {
		msg += fmt.Sprintf(", %d rejected", s.RejectedTickets)
	}
	return msg + "."
}

// Markdown renders a human-readable report.
func Markdown(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Ticket classification report %s\n\n", r.GeneratedAt.Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "%s\n\n", Summarize(r))

	writeDistribution(&b, "Topics", r.Distributions.Topics)
	writeDistribution(&b, "Sentiments", r.Distributions.Sentiments)
	writeDistribution(&b, "Priorities", r.Distributions.Priorities)

	b.WriteString("## Tickets\n\n")
	for _, res := range r.DetailedResults {
		c := res.Classification.Classification
		fmt.Fprintf(&b, "- **%s** %s | %s / %s / %s | %s\n", res.TicketID, res.Subject, c.TopicTag, c.Sentiment, c.Priority, res.ResponseType())
	}
	if len(r.Rejected) > 0 {
		b.WriteString("\n## Rejected\n\n")
		for _, rej := range r.Rejected {
			fmt.Fprintf(&b, "- %s: %s\n", rej.TicketID, rej.Reason)
		}
	}
	return b.String()
}

func writeDistribution(b *strings.Builder, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	fmt.Fprintf(b, "## %s\n\n", title)
	for _, k := range keys {
		fmt.Fprintf(b, "- %s: %d\n", k, counts[k])
	}
	b.WriteString("\n")
}
