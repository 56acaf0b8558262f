package attest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/st3v3nmw/quorumcheck/internal/keeper"
	"github.com/st3v3nmw/quorumcheck/internal/metrics"
	"github.com/st3v3nmw/quorumcheck/internal/node"
)

var (
	green     = color.New(color.FgGreen).SprintFunc()
	red       = color.New(color.FgRed).SprintFunc()
	yellow    = color.New(color.FgYellow).SprintFunc()
	bold      = color.New(color.Bold).SprintFunc()
	checkMark = green("✓")
	crossMark = red("✗")
	skipMark  = yellow("-")
)

var errNoRunningMember = errors.New("no running member")

// Suite runs scenarios one at a time against a cluster.
type Suite struct {
	cluster   *Cluster
	scenarios []*Scenario
	config    *Config
	log       *slog.Logger
	metrics   *metrics.Registry
	out       io.Writer
}

// Result is the outcome of one scenario.
type Result struct {
	Key     string
	Name    string
	Passed  bool
	Skipped bool
	Elapsed time.Duration
	Err     *ScenarioError
}

// Report collects the results of a suite run.
type Report struct {
	Started time.Time
	Elapsed time.Duration
	Results []Result
}

// Passed reports whether every scenario ran and passed.
func (r *Report) Passed() bool {
	for _, res := range r.Results {
		if !res.Passed {
			return false
		}
	}

	return true
}

// New creates a suite for cluster with the default configuration.
func New(cluster *Cluster) *Suite {
	return &Suite{
		cluster: cluster,
		config:  DefaultConfig(),
		log:     slog.Default(),
		out:     os.Stdout,
	}
}

// WithConfig sets the configuration, filling unset fields with defaults.
func (s *Suite) WithConfig(config *Config) *Suite {
	s.config = merge(config)
	return s
}

// WithLogger sets the structured logger.
func (s *Suite) WithLogger(log *slog.Logger) *Suite {
	s.log = log
	return s
}

// WithMetrics records scenario outcomes in r.
func (s *Suite) WithMetrics(r *metrics.Registry) *Suite {
	s.metrics = r
	return s
}

// WithOutput sets where progress lines are printed.
func (s *Suite) WithOutput(w io.Writer) *Suite {
	s.out = w
	return s
}

// Add appends scenarios to the suite.
func (s *Suite) Add(scenarios ...*Scenario) *Suite {
	s.scenarios = append(s.scenarios, scenarios...)
	return s
}

// Run executes the scenarios in order. A scenario whose cleanup failed
// leaves the cluster in an unknown state, so the remaining ones are skipped.
func (s *Suite) Run(ctx context.Context) *Report {
	report := &Report{Started: time.Now()}
	created := make(map[string]struct{})

	var dirty bool
	for _, sc := range s.scenarios {
		if dirty || ctx.Err() != nil {
			report.Results = append(report.Results, Result{Key: sc.Key, Name: sc.Name, Skipped: true})
			fmt.Fprintf(s.out, "%s %s\n", skipMark, sc.Name)
			continue
		}

		res := s.runScenario(ctx, sc, created)
		report.Results = append(report.Results, res)
		s.metrics.RecordScenario(sc.Key, res.Passed, res.Elapsed)

		elapsed := yellow(fmt.Sprintf("(%s)", res.Elapsed.Round(time.Millisecond)))
		if res.Passed {
			fmt.Fprintf(s.out, "%s %s %s\n", checkMark, sc.Name, elapsed)
			continue
		}

		fmt.Fprintf(s.out, "%s %s %s\n", crossMark, sc.Name, elapsed)
		fmt.Fprintf(s.out, "\n%s\n\n", res.Err)
		if res.Err.CleanupFailed() {
			dirty = true
		}
	}
	report.Elapsed = time.Since(report.Started)

	if report.Passed() {
		fmt.Fprintf(s.out, "\n%s %s\n", bold("PASSED"), checkMark)
	} else {
		fmt.Fprintf(s.out, "\n%s %s\n", bold("FAILED"), crossMark)
	}

	return report
}

func (s *Suite) runScenario(ctx context.Context, sc *Scenario, created map[string]struct{}) Result {
	do := newDo(ctx, s.cluster, s.config, s.log, sc.Key)
	do.log.Info("scenario started", slog.String("name", sc.Name))

	err := capture(do.markAll)
	if err == nil {
		err = s.checkResidual(do, created)
	}
	if err == nil && sc.body != nil {
		err = capture(func() { sc.body(do) })
	}
	if err != nil {
		do.log.Error("scenario body failed", slog.Any("error", err))
	}

	// Cleanup must run even when the run was interrupted.
	do.cancel()
	do.ctx, do.cancel = context.WithCancel(context.WithoutCancel(ctx))
	defer do.cancel()

	var cleanup []error
	for i, step := range sc.cleanups {
		if stepErr := capture(func() { step(do) }); stepErr != nil {
			do.log.Error("cleanup step failed", slog.Int("step", i+1), slog.Any("error", stepErr))
			cleanup = append(cleanup, stepErr)
		}
	}
	cleanup = append(cleanup, s.enforce(do)...)

	for _, path := range do.ledger.createdPaths() {
		created[path] = struct{}{}
	}

	res := Result{Key: sc.Key, Name: sc.Name, Elapsed: do.elapsed()}
	if err == nil && len(cleanup) == 0 {
		res.Passed = true
		do.log.Info("scenario passed", slog.Duration("elapsed", res.Elapsed))
		return res
	}

	res.Err = &ScenarioError{Scenario: sc.Key, Err: err, Cleanup: cleanup, Elapsed: res.Elapsed}
	return res
}

// checkResidual verifies that no path created by an earlier scenario is
// still present.
func (s *Suite) checkResidual(do *Do, created map[string]struct{}) error {
	if len(created) == 0 {
		return nil
	}

	var member string
	for _, m := range s.cluster.Members {
		if m.State() == node.StateRunning {
			member = m.Name()
			break
		}
	}
	if member == "" {
		return &OpError{Op: "residual check", Elapsed: do.elapsed(), Err: errNoRunningMember}
	}

	c, err := s.cluster.Connect(do.ctx, member, do.config.ConnectTimeout)
	if err != nil {
		return &OpError{Op: "residual check", Member: member, Elapsed: do.elapsed(), Err: err}
	}
	defer func() { _ = keeper.Release(c) }()

	var residual []string
	for path := range created {
		exists, err := c.Exists(path)
		if err != nil {
			return &OpError{Op: "residual check", Member: member, Elapsed: do.elapsed(), Err: err}
		}
		if exists {
			residual = append(residual, path)
		}
	}
	if len(residual) > 0 {
		slices.Sort(residual)
		return &ResidualPathError{Paths: residual}
	}

	return nil
}

// enforce repairs whatever the scenario's own cleanup left behind: open
// sessions, rewritten config files, stopped members and created paths.
// Repairs are logged; only failed repairs are returned.
func (s *Suite) enforce(do *Do) []error {
	var errs []error

	for _, c := range do.ledger.takeSessions() {
		do.log.Warn("releasing leftover session", slog.String("member", c.Member()))
		if err := keeper.Release(c); err != nil {
			errs = append(errs, &OpError{Op: "release", Member: c.Member(), Elapsed: do.elapsed(), Err: err})
		}
	}

	restart := make(map[string]bool)
	for _, m := range s.cluster.Members {
		drift, err := m.ConfigDrift()
		if err != nil {
			errs = append(errs, &OpError{Op: "config drift", Member: m.Name(), Elapsed: do.elapsed(), Err: err})
			continue
		}
		if len(drift) == 0 {
			continue
		}

		do.log.Warn("restoring drifted config", slog.String("member", m.Name()), slog.String("files", strings.Join(drift, ",")))
		if err := m.RestoreConfig(); err != nil {
			errs = append(errs, &OpError{Op: "restore config", Member: m.Name(), Elapsed: do.elapsed(), Err: err})
			continue
		}
		restart[m.Name()] = m.State() != node.StateStopped
	}

	var bring []string
	for _, m := range s.cluster.Members {
		if _, ok := restart[m.Name()]; ok || m.State() != node.StateRunning {
			bring = append(bring, m.Name())
		}
	}
	if len(bring) > 0 {
		do.log.Warn("bringing members back", slog.Any("members", bring))
		err := s.cluster.Pool.Run(do.ctx, bring, func(ctx context.Context, name string) error {
			m, _ := s.cluster.member(name)
			if restart[name] {
				return m.Restart(ctx)
			}
			return m.Start(ctx)
		})
		if err != nil {
			errs = append(errs, &OpError{Op: "start", Member: strings.Join(bring, ","), Elapsed: do.elapsed(), Err: err})
			return errs
		}
	}

	paths, owners := do.ledger.pendingPaths()
	for _, path := range paths {
		do.log.Warn("deleting leftover path", slog.String("path", path), slog.String("member", owners[path]))
		if err := s.cluster.Deleter.DeleteWithRetry(do.ctx, owners[path], path); err != nil {
			errs = append(errs, &OpError{Op: "delete " + path, Member: owners[path], Elapsed: do.elapsed(), Err: err})
			continue
		}
		do.ledger.dropPath(path)
	}

	return errs
}
