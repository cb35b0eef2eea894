package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"ticketbot/internal/config"
	"ticketbot/internal/domain"
	"ticketbot/internal/report"
	"ticketbot/internal/storage/sqlite"
	"ticketbot/internal/storage/ticketfile"
)

type BatchProcessor interface {
	ProcessBatch(ctx context.Context, tickets []domain.Ticket) report.Report
}

type SummaryPoster interface {
	PostSummary(ctx context.Context, r report.Report) error
}

// Runner processes a batch, stores the results and writes report files.
type Runner struct {
	DB          *sql.DB
	Processor   BatchProcessor
	ReportDir   string
	TicketsFile string
	Summary     SummaryPoster
}

// BatchResult tracks what one run did.
type BatchResult struct {
	Imported int
	Invalid  int
	Pending  int
	Report   *report.Report
	Files    report.Files
	Errors   []string
}

// Run processes the given tickets and persists the outcome.
func (r Runner) Run(ctx context.Context, tickets []domain.Ticket) (BatchResult, error) {
	result := BatchResult{Pending: len(tickets)}
	if len(tickets) == 0 {
		return result, nil
	}

	rep := r.Processor.ProcessBatch(ctx, tickets)
	result.Report = &rep

	// A cancelled run may hold default labels from aborted LLM calls; storing
	// them would hide those tickets from the next run.
	if err := ctx.Err(); err != nil {
		log.Printf("batch run=%s interrupted, results not stored: %v", rep.RunID, err)
		return result, fmt.Errorf("batch %s interrupted: %w", rep.RunID, err)
	}

	if r.DB != nil {
		if err := sqlite.SaveResults(r.DB, rep.RunID, rep.GeneratedAt, rep.DetailedResults); err != nil {
			log.Printf("batch save results run=%s error: %v", rep.RunID, err)
			result.Errors = append(result.Errors, fmt.Sprintf("store: %v", err))
		}
	}
	if r.ReportDir != "" {
		files, err := report.WriteReportFiles(r.ReportDir, rep)
		if err != nil {
			log.Printf("batch write report run=%s error: %v", rep.RunID, err)
			result.Errors = append(result.Errors, fmt.Sprintf("report: %v", err))
		}
		result.Files = files
	}
	if r.Summary != nil {
		if err := r.Summary.PostSummary(ctx, rep); err != nil {
			log.Printf("batch summary post error: %v", err)
		}
	}

	if len(result.Errors) > 0 {
		return result, fmt.Errorf("batch %s finished with errors: %s", rep.RunID, strings.Join(result.Errors, "; "))
	}
	return result, nil
}

// RunPending imports the configured ticket file, then processes every stored
// ticket that has no result yet.
func (r Runner) RunPending(ctx context.Context) (BatchResult, error) {
	if r.DB == nil {
		return BatchResult{}, fmt.Errorf("no ticket store configured")
	}

	imported, invalid := 0, 0
	if r.TicketsFile != "" {
		tickets, err := ticketfile.Load(r.TicketsFile)
		if err != nil {
			return BatchResult{}, err
		}
		valid := make([]domain.Ticket, 0, len(tickets))
		for _, t := range tickets {
			if err := domain.ValidateTicket(t); err != nil {
				log.Printf("batch import skipped: %v", err)
				invalid++
				continue
			}
			valid = append(valid, t)
		}
		imported, err = sqlite.InsertTickets(r.DB, valid)
		if err != nil {
			return BatchResult{}, fmt.Errorf("import tickets: %w", err)
		}
		log.Printf("batch import file=%s tickets=%d new=%d invalid=%d", r.TicketsFile, len(tickets), imported, invalid)
	}

	pending, err := sqlite.ListUnprocessedTickets(r.DB)
	if err != nil {
		return BatchResult{Imported: imported}, fmt.Errorf("list pending tickets: %w", err)
	}
	result, err := r.Run(ctx, pending)
	result.Imported = imported
	result.Invalid = invalid
	return result, err
}

// FormatBatchSummary returns a human-readable summary of a BatchResult.
func FormatBatchSummary(result BatchResult) string {
	if result.Report == nil {
		msg := "No pending tickets."
		if result.Imported > 0 {
			msg = fmt.Sprintf("Imported %d tickets, none pending.", result.Imported)
		}
		if result.Invalid > 0 {
			msg += fmt.Sprintf(" Skipped %d invalid tickets in the ticket file.", result.Invalid)
		}
		return msg
	}
	msg := report.Summarize(*result.Report)
	if result.Imported > 0 {
		msg = fmt.Sprintf("Imported %d new tickets. %s", result.Imported, msg)
	}
	if result.Invalid > 0 {
		msg += fmt.Sprintf("\nSkipped %d invalid tickets in the ticket file.", result.Invalid)
	}
	if result.Files.JSON != "" {
		msg += fmt.Sprintf("\nReport: %s", result.Files.JSON)
	}
	if len(result.Errors) > 0 {
		msg += fmt.Sprintf("\nWarnings:\n%s", strings.Join(result.Errors, "\n"))
	}
	return msg
}

// ParseSchedule parses a standard 5-field cron expression
// (minute hour day-of-month month day-of-week).
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// StartBatchScheduler runs RunPending on the batch_schedule cron expression
// until ctx is cancelled. Examples: "*/15 * * * *", "0 9 * * 1-5".
func StartBatchScheduler(ctx context.Context, cfg config.Config, runner Runner) {
	schedule := strings.TrimSpace(cfg.BatchSchedule)
	if schedule == "" {
		log.Println("Batch scheduler disabled (batch_schedule not set)")
		return
	}
	sched, err := ParseSchedule(schedule)
	if err != nil {
		log.Printf("Invalid batch_schedule '%s': %v, scheduler disabled", schedule, err)
		return
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	log.Printf("Batch processing scheduled (cron: %s)", schedule)

	go func() {
		for {
			now := time.Now().In(loc)
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next batch at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Second))

			select {
			case <-ctx.Done():
				log.Println("Batch scheduler stopped")
				return
			case <-time.After(wait):
			}

			result, runErr := runner.RunPending(ctx)
			if runErr != nil {
				log.Printf("Batch error: %v", runErr)
			}
			log.Printf("Batch complete: %s", FormatBatchSummary(result))
		}
	}()
}
