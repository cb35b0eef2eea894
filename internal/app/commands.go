package app

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ticketbot/internal/api"
	"ticketbot/internal/config"
	"ticketbot/internal/domain"
	"ticketbot/internal/integrations/llm"
	"ticketbot/internal/report"
	"ticketbot/internal/scheduler"
	"ticketbot/internal/storage/sqlite"
	"ticketbot/internal/storage/ticketfile"
)

func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "ticketbot",
		Short:        "Classify support tickets and answer or route them",
		SilenceUsage: true,
	}
	root.AddCommand(
		newProcessCommand(),
		newClassifyCommand(),
		newAskCommand(),
		newAddCommand(),
		newGlossaryCommand(),
		newServeCommand(),
	)
	return root
}

func newProcessCommand() *cobra.Command {
	var file string
	var workers int
	var noStore bool
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Classify and respond to a batch of tickets",
		Long:  "Process tickets from --file, or every stored ticket without a result when no file is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			svc := buildServices(cfg, workers)

			var runner scheduler.Runner
			if noStore {
				runner = svc.runner(nil)
			} else {
				db, err := openDB(cfg)
				if err != nil {
					return fmt.Errorf("init database: %w", err)
				}
				defer db.Close()
				runner = svc.runner(db)
			}

			var result scheduler.BatchResult
			var err error
			if file != "" {
				tickets, loadErr := ticketfile.Load(file)
				if loadErr != nil {
					return loadErr
				}
				result, err = runner.Run(cmd.Context(), tickets)
			} else {
				result, err = runner.RunPending(cmd.Context())
			}
			fmt.Fprintln(cmd.OutOrStdout(), scheduler.FormatBatchSummary(result))
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with an array of tickets")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent tickets (default from config)")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "do not read or write the ticket database")
	return cmd
}

func newClassifyCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify a batch of tickets without generating responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			if file == "" {
				file = cfg.TicketsFile
			}
			if file == "" {
				return fmt.Errorf("no ticket file: pass --file or set tickets_file")
			}
			tickets, err := ticketfile.Load(file)
			if err != nil {
				return err
			}
			svc := buildServices(cfg, 0)
			rep := svc.processor.ClassifyBatch(cmd.Context(), tickets)
			files, err := report.WriteReportFiles(cfg.ReportOutputDir, rep)
			if err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, report.Summarize(rep))
			fmt.Fprintf(out, "Report: %s\nCSV: %s\n", files.JSON, files.CSV)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with an array of tickets")
	return cmd
}

func newAskCommand() *cobra.Command {
	var ticketID string
	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Classify and answer a single free-form question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			svc := buildServices(cfg, 1)
			result, err := svc.processor.ProcessQuery(cmd.Context(), strings.Join(args, " "), ticketID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result.Response)
		},
	}
	cmd.Flags().StringVar(&ticketID, "id", "", "ticket id (derived from the question when empty)")
	return cmd
}

func newAddCommand() *cobra.Command {
	var t domain.Ticket
	var file string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a ticket to the store, or to a ticket file with --file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := domain.ValidateTicket(t); err != nil {
				return err
			}
			if file != "" {
				if err := ticketfile.Append(file, t); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s to %s\n", t.ID, file)
				return nil
			}
			cfg := config.LoadConfig()
			db, err := openDB(cfg)
			if err != nil {
				return fmt.Errorf("init database: %w", err)
			}
			defer db.Close()
			if err := sqlite.InsertTicket(db, t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", t.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&t.ID, "id", "", "ticket id")
	cmd.Flags().StringVar(&t.Subject, "subject", "", "ticket subject")
	cmd.Flags().StringVar(&t.Body, "body", "", "ticket body")
	cmd.Flags().StringVarP(&file, "file", "f", "", "append to this JSON ticket file instead of the database")
	return cmd
}

func newGlossaryCommand() *cobra.Command {
	glossary := &cobra.Command{
		Use:   "glossary",
		Short: "Manage the keyword glossary used by fallback classification",
	}
	var phrase, topic string
	add := &cobra.Command{
		Use:   "add",
		Short: "Map a phrase to a topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			if cfg.LLMGlossaryPath == "" {
				return fmt.Errorf("llm_glossary_path is not set")
			}
			parsed, ok := domain.ParseTopic(topic)
			if !ok {
				return fmt.Errorf("unknown topic %q", topic)
			}
			if err := llm.AppendTopicTerm(cfg.LLMGlossaryPath, phrase, parsed); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Mapped %q to %s\n", phrase, parsed)
			return nil
		},
	}
	add.Flags().StringVar(&phrase, "phrase", "", "phrase to match (case-insensitive)")
	add.Flags().StringVar(&topic, "topic", "", "topic to assign")
	_ = add.MarkFlagRequired("phrase")
	_ = add.MarkFlagRequired("topic")
	glossary.AddCommand(add)
	return glossary
}

func newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the batch scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			if addr == "" {
				addr = cfg.HTTPAddr
			}
			svc := buildServices(cfg, 0)
			db, err := openDB(cfg)
			if err != nil {
				return fmt.Errorf("init database: %w", err)
			}
			defer db.Close()

			ctx := cmd.Context()
			scheduler.StartBatchScheduler(ctx, cfg, svc.runner(db))

			return api.NewServer(svc.processor, db).ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
