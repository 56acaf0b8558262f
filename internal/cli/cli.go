package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/st3v3nmw/quorumcheck/internal/attest"
	"github.com/st3v3nmw/quorumcheck/internal/cluster"
	"github.com/st3v3nmw/quorumcheck/internal/config"
	"github.com/st3v3nmw/quorumcheck/internal/metrics"
	"github.com/st3v3nmw/quorumcheck/internal/registry"
	_ "github.com/st3v3nmw/quorumcheck/scenarios"
	commands "github.com/urfave/cli/v3"
)

// ErrScenariosFailed is returned by run when any scenario failed or was skipped.
var ErrScenariosFailed = errors.New("one or more scenarios failed")

var bold = color.New(color.Bold).SprintFunc()

// Command returns the quorumcheck command tree.
func Command() *commands.Command {
	return &commands.Command{
		Name:  "quorumcheck",
		Usage: "Exercise quorum behavior of a keeper ensemble",
		Commands: []*commands.Command{
			{
				Name:      "run",
				Usage:     "Run scenarios against the configured ensemble",
				ArgsUsage: "[group | scenario | group/scenario]...",
				Flags: []commands.Flag{
					&commands.StringFlag{
						Name:    "config",
						Usage:   "Path to the run configuration",
						Aliases: []string{"c"},
						Value:   config.DefaultPath,
					},
					&commands.BoolFlag{
						Name:    "verbose",
						Usage:   "Log member, session and retry details",
						Aliases: []string{"v"},
						Value:   false,
					},
					&commands.StringFlag{
						Name:  "log-format",
						Usage: "Log format: text or json",
						Value: "text",
					},
					&commands.StringFlag{
						Name:  "metrics-addr",
						Usage: "Serve Prometheus metrics on this address while running",
					},
					&commands.StringFlag{
						Name:  "report",
						Usage: "Write a YAML run report to this file",
					},
				},
				Action: RunScenarios,
			},
			{
				Name:   "list",
				Usage:  "Show available scenarios",
				Action: ListScenarios,
			},
			{
				Name:      "init",
				Usage:     "Write an example configuration",
				ArgsUsage: "[path]",
				Action:    InitConfig,
			},
		},
	}
}

func RunScenarios(ctx context.Context, cmd *commands.Command) error {
	out := cmd.Root().Writer

	logger, err := newLogger(cmd.Root().ErrWriter, cmd.String("log-format"), cmd.Bool("verbose"))
	if err != nil {
		return err
	}

	// Load configuration
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	scenarios, minMembers, err := registry.Select(cmd.Args().Slice())
	if err != nil {
		return err
	}
	if len(cfg.Members) < minMembers {
		return fmt.Errorf("the selected scenarios need at least %d members, %s has %d",
			minMembers, cmd.String("config"), len(cfg.Members))
	}

	opts, err := cfg.ClusterOptions()
	if err != nil {
		return err
	}
	harness, err := cfg.Harness()
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger = logger.With(slog.String("run_id", runID))
	slog.SetDefault(logger)

	reg := metrics.NewRegistry()
	opts.Logger = logger
	opts.Metrics = reg
	opts.Node.RunDir = filepath.Join(cfg.RunDir, fmt.Sprintf("run-%s", time.Now().Format("20060102-150405")))

	if addr := cmd.String("metrics-addr"); addr != "" {
		stop, err := serveMetrics(addr, reg, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	// Start the ensemble
	fixture, err := cluster.New(cfg.Specs(), opts)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Starting %d members (run %s)\n\n", len(cfg.Members), runID)
	if err := fixture.Start(ctx); err != nil {
		return fmt.Errorf("failed to start cluster: %w\nMember output is in %s", err, opts.Node.RunDir)
	}
	defer func() {
		if err := fixture.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("cluster shutdown failed", slog.Any("error", err))
		}
	}()

	// Run scenarios
	report := attest.New(fixture.Cluster()).
		WithConfig(harness).
		WithLogger(logger).
		WithMetrics(reg).
		WithOutput(out).
		Add(scenarios...).
		Run(ctx)

	if path := cmd.String("report"); path != "" {
		if err := writeReport(path, newReportFile(runID, report)); err != nil {
			return err
		}
		fmt.Fprintf(out, "Report written to %s\n", path)
	}

	if !report.Passed() {
		return ErrScenariosFailed
	}

	return nil
}

// serveMetrics exposes reg on addr until the returned stop is called.
func serveMetrics(addr string, reg *metrics.Registry, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func ListScenarios(ctx context.Context, cmd *commands.Command) error {
	out := cmd.Root().Writer

	fmt.Fprintln(out, "Available scenarios:")
	fmt.Fprintln(out)

	for _, group := range registry.All() {
		fmt.Fprintf(out, "%s - %s (%d members)\n", bold(group.Key), group.Name, group.MinMembers)
		for _, entry := range group.Entries() {
			fmt.Fprintf(out, "  %-20s - %s\n", entry.Key, entry.Name)
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, "Run with: quorumcheck run [scenario...]")

	return nil
}

func InitConfig(ctx context.Context, cmd *commands.Command) error {
	out := cmd.Root().Writer

	path := config.DefaultPath
	if cmd.NArg() > 0 {
		path = cmd.Args().First()
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := config.SaveTo(config.Example(), path); err != nil {
		return err
	}

	fmt.Fprintf(out, "Created %s\n", path)
	fmt.Fprintln(out, "Point each member's command, client_addr and config_files at your ensemble,")
	fmt.Fprintln(out, "then run 'quorumcheck run'.")

	return nil
}
