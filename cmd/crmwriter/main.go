// Command crmwriter writes CSV tables to the HubSpot CRM API.
//
// Exit codes: 0 all rows accepted, 1 finished with error records, 2 fatal error.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ryabkov82/crm-writer/internal/client"
	"github.com/ryabkov82/crm-writer/internal/config"
	"github.com/ryabkov82/crm-writer/internal/endpoint"
	"github.com/ryabkov82/crm-writer/internal/exception"
	"github.com/ryabkov82/crm-writer/internal/ingest"
	"github.com/ryabkov82/crm-writer/internal/job"
	"github.com/ryabkov82/crm-writer/internal/logging"
	"github.com/ryabkov82/crm-writer/internal/metrics"
	"github.com/ryabkov82/crm-writer/internal/operation"
	"github.com/ryabkov82/crm-writer/internal/sink"
	"github.com/ryabkov82/crm-writer/internal/version"
)

const (
	exitOK      = 0
	exitRecords = 1
	exitFatal   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

// tableRun is the outcome of one input table.
type tableRun struct {
	runID     string
	operation string
	records   []sink.ErrorRecord
}

func run(ctx context.Context, args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("crmwriter", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("CRMW_CONFIG"), "YAML or Keboola JSON config file")
	envFile := fs.String("env-file", "", ".env file to load (default ./.env if present)")
	opName := fs.String("operation", "", "operation to run, overrides the config")
	showVersion := fs.Bool("version", false, "print version and exit")
	listOps := fs.Bool("list-operations", false, "print the supported operations and exit")
	if err := fs.Parse(args); err != nil {
		return exitFatal
	}

	if *showVersion {
		fmt.Fprintln(stdout, version.String())
		return exitOK
	}
	if *listOps {
		for _, name := range endpoint.Names() {
			fmt.Fprintln(stdout, name)
		}
		return exitOK
	}

	if *opName != "" {
		os.Setenv("CRMW_OPERATION", *opName)
	}
	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return exitFatal
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("configuration loaded",
		"version", version.Version,
		"operation", cfg.Operation,
		"tables_dir", cfg.Input.TablesDir,
		"batch_size", cfg.BatchPolicy().Size,
	)

	recorder := metrics.NewRecorder()
	defer func() {
		if err := recorder.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warn("failed to write metrics textfile", "path", cfg.Metrics.Textfile, "error", err)
		}
	}()

	runs, err := execute(ctx, cfg, recorder, logger)
	if werr := writeErrors(ctx, cfg, runs, logger); werr != nil {
		logger.Error("failed to write error records", "error", werr)
		if err == nil {
			err = werr
		}
	}
	if err != nil {
		logger.Error("write aborted", "kind", exception.KindOf(err), "error", err)
		return exitFatal
	}

	for _, r := range runs {
		if len(r.records) > 0 {
			return exitRecords
		}
	}
	return exitOK
}

// execute writes every input table and returns what each table produced.
func execute(ctx context.Context, cfg *config.Config, recorder *metrics.Recorder, logger *slog.Logger) ([]tableRun, error) {
	s := sink.New()
	dispatcher, err := client.NewDispatcher(cfg.Client(), s, client.WithRecorder(recorder), client.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	handler, err := operation.NewFactory(dispatcher, cfg.BatchPolicy(), cfg.PreferEmail, recorder, logger).Build(cfg.Operation)
	if err != nil {
		return nil, err
	}
	op := handler.Operation()

	tables, err := inputTables(cfg)
	if err != nil {
		return nil, err
	}

	runner := job.NewRunner(job.NewStore(), dispatcher, handler, s, logger)
	defer func() {
		logger.Info("runs finished", "summary", runner.Store().Summary())
	}()

	var runs []tableRun
	for _, path := range tables {
		if err := checkManifest(op, path); err != nil {
			return runs, err
		}

		src, err := ingest.OpenCSV(path, cfg.CSVOptions())
		if err != nil {
			return runs, exception.Configuration("cli", fmt.Sprintf("cannot read %s", path), err)
		}
		res, err := runner.Execute(ctx, filepath.Base(path), src)
		src.Close()

		runs = append(runs, tableRun{runID: res.RunID, operation: op.Name, records: res.Errors})
		if err != nil {
			return runs, err
		}
	}
	return runs, nil
}

func inputTables(cfg *config.Config) ([]string, error) {
	if len(cfg.Input.Tables) == 0 {
		tables, err := ingest.ListTables(cfg.Input.TablesDir)
		if err != nil {
			return nil, exception.Configuration("cli", "cannot list input tables", err)
		}
		if len(tables) == 0 {
			return nil, exception.Configuration("cli", fmt.Sprintf("no *.csv tables in %s", cfg.Input.TablesDir), nil)
		}
		return tables, nil
	}

	tables := make([]string, 0, len(cfg.Input.Tables))
	for _, name := range cfg.Input.Tables {
		path, err := ingest.ResolveTablePath(cfg.Input.TablesDir, name)
		if err != nil {
			return nil, exception.Configuration("cli", fmt.Sprintf("invalid input table %q", name), err)
		}
		tables = append(tables, path)
	}
	return tables, nil
}

// checkManifest validates the columns a sidecar manifest declares, if there is one.
func checkManifest(op endpoint.Operation, path string) error {
	m, err := ingest.ReadManifest(path)
	if err != nil {
		return exception.Configuration("cli", "invalid table manifest", err)
	}
	if m == nil {
		return nil
	}
	return ingest.CheckColumns(op, m.Columns)
}

// writeErrors persists the captured records: to Postgres when configured,
// otherwise to the errors CSV, which is written even when empty.
func writeErrors(ctx context.Context, cfg *config.Config, runs []tableRun, logger *slog.Logger) error {
	total := 0
	for _, r := range runs {
		total += len(r.records)
	}

	if cfg.Output.PostgresURL != "" {
		// Error records must land even after SIGINT.
		ctx := context.WithoutCancel(ctx)
		pool, err := sink.Connect(ctx, cfg.Output.PostgresURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		for _, r := range runs {
			w := sink.NewPostgresWriter(pool, cfg.Output.PostgresTable, r.runID, r.operation)
			if err := w.Write(ctx, r.records); err != nil {
				return err
			}
		}
		logger.Info("error records written", "destination", "postgres", "records", total)
		return nil
	}

	var all []sink.ErrorRecord
	for _, r := range runs {
		all = append(all, r.records...)
	}
	if err := sink.NewCSVWriter(cfg.Output.ErrorsPath).Write(ctx, all); err != nil {
		return err
	}
	logger.Info("error records written", "destination", cfg.Output.ErrorsPath, "records", total)
	return nil
}
