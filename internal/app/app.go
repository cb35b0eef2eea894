package app

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ticketbot/internal/config"
	"ticketbot/internal/httpx"
	"ticketbot/internal/integrations/llm"
	slackbot "ticketbot/internal/integrations/slack"
	"ticketbot/internal/integrations/tavily"
	"ticketbot/internal/pipeline"
	"ticketbot/internal/responder"
	"ticketbot/internal/scheduler"
	"ticketbot/internal/storage/sqlite"
)

func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// services is everything a command needs, built once from Config.
type services struct {
	cfg       config.Config
	processor *pipeline.Processor
	notifier  *slackbot.Notifier
}

func buildServices(cfg config.Config, workers int) services {
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	if workers <= 0 {
		workers = cfg.Workers
	}
	log.Printf(
		"Config loaded. LLMProvider=%s LLMModel=%s Workers=%d InterTicketDelay=%s LLMGlossaryPath=%s ExternalHTTPTimeout=%s",
		cfg.LLMProvider,
		cfg.LLMModel,
		workers,
		cfg.InterTicketDelay(),
		cfg.LLMGlossaryPath,
		appliedHTTPTimeout,
	)

	completer := llm.NewCompleter(cfg, httpx.NewLimiter(cfg.LLMRequestsPerMinute))
	if completer == nil {
		log.Printf("llm disabled provider=%s: no API key, using fallback classification", cfg.LLMProvider)
	}

	var glossary *llm.KeywordGlossary
	if cfg.LLMGlossaryPath != "" {
		g, err := llm.LoadKeywordGlossary(cfg.LLMGlossaryPath)
		if err != nil {
			log.Printf("keyword glossary load error path=%s: %v", cfg.LLMGlossaryPath, err)
		} else {
			glossary = g
		}
	}

	searcher := tavily.NewFromConfig(cfg, httpx.NewLimiter(cfg.SearchRequestsPerMinute))
	generator := responder.NewGenerator(llm.NewOptimizer(completer), searcher, llm.NewEnhancer(completer))

	opts := []pipeline.Option{
		pipeline.WithDelay(cfg.InterTicketDelay()),
		pipeline.WithWorkers(workers),
	}
	notifier := slackbot.NewFromConfig(cfg)
	if notifier != nil {
		opts = append(opts, pipeline.WithNotifier(notifier))
		log.Printf("slack notifications enabled channel=%s", cfg.SlackChannelID)
	}

	return services{
		cfg:       cfg,
		processor: pipeline.New(llm.NewClassifier(completer, glossary), generator, opts...),
		notifier:  notifier,
	}
}

func (s services) runner(db *sql.DB) scheduler.Runner {
	r := scheduler.Runner{
		DB:          db,
		Processor:   s.processor,
		ReportDir:   s.cfg.ReportOutputDir,
		TicketsFile: s.cfg.TicketsFile,
	}
	if s.notifier != nil {
		r.Summary = s.notifier
	}
	return r
}

func openDB(cfg config.Config) (*sql.DB, error) {
	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	log.Printf("Database initialized at %s", cfg.DBPath)
	return db, nil
}
