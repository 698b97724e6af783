package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"CNDataBundle/internal/bundle"
	"CNDataBundle/internal/config"
	"CNDataBundle/internal/loader"
	"CNDataBundle/internal/scheduler"
	"CNDataBundle/internal/store"
)

func newUpdateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Refresh the cached portal symbol list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			symbols, err := a.refreshSymbols(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d symbols cached\n", len(symbols))
			return nil
		},
	}
}

func newIngestCmd(a *app) *cobra.Command {
	var (
		start, end   string
		dbPath       string
		showProgress bool
		dryRun       bool
	)
	cmd := &cobra.Command{
		Use:   "ingest <bundle>",
		Short: "Ingest a registered bundle into the SQLite store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := a.validateBundle(name); err != nil {
				if errors.Is(err, config.ErrMissingEnv) {
					log.Fatalf("[FATAL] %s bundle: %v", name, err)
				}
				return err
			}
			startDate, err := parseDateFlag("start", start)
			if err != nil {
				return err
			}
			endDate, err := parseDateFlag("end", end)
			if err != nil {
				return err
			}

			cal, err := a.calendar()
			if err != nil {
				return err
			}
			reg, err := a.registry()
			if err != nil {
				return err
			}
			if _, ok := reg.Lookup(name); !ok {
				return fmt.Errorf("unknown bundle %q, registered: %v", name, reg.Names())
			}
			window, err := bundle.ResolveWindow(cal, startDate, endDate)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ingestArgs := bundle.IngestArgs{
				Env:          environ(),
				Calendar:     cal,
				ShowProgress: showProgress,
				OutputDir:    filepath.Join(a.cfg.DataRoot(), name),
			}
			if dryRun {
				ingestArgs.Writers = store.Discard()
				_, err := reg.Ingest(ctx, name, ingestArgs, window.Start, window.End)
				return err
			}

			if dbPath == "" {
				dbPath = a.cfg.Database.SQLitePath
			}
			if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
				return fmt.Errorf("create database dir: %w", err)
			}
			st, err := store.NewSQLiteStore(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			run, err := st.Begin(name, window)
			if err != nil {
				return err
			}
			ingestArgs.Writers = run.Writers()
			started := time.Now()
			_, ingestErr := reg.Ingest(ctx, name, ingestArgs, window.Start, window.End)
			if err := run.Finish(ingestErr); err != nil {
				log.Printf("[ERROR] finish ingestion %s: %v", run.ID, err)
			}
			if ingestErr != nil {
				return ingestErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %s %s..%s as %s in %s\n",
				name, window.Start.Format(time.DateOnly), window.End.Format(time.DateOnly),
				run.ID, time.Since(started).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first session (YYYY-MM-DD), default the calendar start")
	cmd.Flags().StringVar(&end, "end", "", "last session (YYYY-MM-DD), default the calendar end")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path, default database.sqlite_path")
	cmd.Flags().BoolVar(&showProgress, "show-progress", false, "log progress while writing bars")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "read the sources but discard all output")
	return cmd
}

func newMarketDataCmd(a *app) *cobra.Command {
	var symbol string
	cmd := &cobra.Command{
		Use:   "market-data",
		Short: "Ensure benchmark returns and treasury curves are cached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if symbol == "" {
				symbol = a.cfg.Benchmark.Symbol
			}
			md, err := a.ensureMarketData(cmd.Context(), symbol)
			if err != nil {
				return err
			}
			render(cmd.OutOrStdout(), marketDataTable(symbol, md))
			return nil
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "benchmark symbol, default benchmark.symbol")
	return cmd
}

func (a *app) ensureMarketData(ctx context.Context, symbol string) (*loader.MarketData, error) {
	cal, err := a.calendar()
	if err != nil {
		return nil, err
	}
	return a.marketLoader().LoadMarketData(ctx, cal, symbol, a.cfg.Benchmark.TradingDayBefore, a.now())
}

func newInspectCmd(a *app) *cobra.Command {
	var (
		dbPath string
		sid    int
	)
	cmd := &cobra.Command{
		Use:   "inspect <bundle>",
		Short: "Show the latest ingestion of a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				dbPath = a.cfg.Database.SQLitePath
			}
			st, err := store.NewSQLiteStore(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			name := args[0]
			out := cmd.OutOrStdout()
			if sid >= 0 {
				bars, err := st.Bars(name, sid)
				if err != nil {
					return err
				}
				render(out, barsTable(sid, bars))
				return nil
			}
			in, err := st.LatestIngestion(name)
			if err != nil {
				return err
			}
			equities, err := st.Equities(name)
			if err != nil {
				return err
			}
			render(out, ingestionTable(in, equities))
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path, default database.sqlite_path")
	cmd.Flags().IntVar(&sid, "sid", -1, "print the bars of one sid instead of the equities")
	return cmd
}

func newScheduleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the cron refresher until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sched := scheduler.NewScheduler(ctx)
			if err := registerTasks(a, sched); err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()

			if a.cfg.Schedule.RunOnStart {
				log.Println("[INFO] RUN_ON_START enabled, refreshing symbols now")
				go sched.RunNow(taskRefreshSymbols)
			}

			log.Println("[INFO] cnbundle scheduler is running. Press Ctrl+C to stop.")
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-sigCh:
				log.Println("[INFO] shutdown signal received, stopping...")
			case <-ctx.Done():
			}
			cancel()
			return nil
		},
	}
}

const (
	taskRefreshSymbols = "refresh-symbols"
	taskMarketData     = "market-data"
)

func registerTasks(a *app, sched *scheduler.Scheduler) error {
	if err := sched.Register(taskRefreshSymbols, a.cfg.Schedule.RefreshCron, func(ctx context.Context) error {
		_, err := a.refreshSymbols(ctx)
		return err
	}); err != nil {
		return err
	}
	if a.cfg.Schedule.MarketDataCron == "" {
		return nil
	}
	return sched.Register(taskMarketData, a.cfg.Schedule.MarketDataCron, func(ctx context.Context) error {
		_, err := a.ensureMarketData(ctx, a.cfg.Benchmark.Symbol)
		return err
	})
}

// parseDateFlag parses an optional YYYY-MM-DD flag value.
func parseDateFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}
