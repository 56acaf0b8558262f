// Package node controls the process of a single cluster member: starting,
// stopping and restarting it, exposing its log text and mutating its
// configuration files between runs.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/st3v3nmw/quorumcheck/internal/backoff"
	"github.com/st3v3nmw/quorumcheck/internal/metrics"
)

var killGroup = syscall.Kill

// State is the lifecycle state of a member process.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Probe reports whether the member listening on addr is ready to serve.
type Probe func(ctx context.Context, addr string) error

// TCPProbe succeeds as soon as addr accepts a TCP connection.
func TCPProbe(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	return conn.Close()
}

// Spec describes how to run one member.
type Spec struct {
	Name    string
	Command string
	Args    []string
	Env     []string
	Dir     string

	// ClientAddr is the host:port of the coordination endpoint.
	ClientAddr string

	// ServerLog is a log file the member writes itself, scanned in addition
	// to the captured stdout/stderr.
	ServerLog string
	LogFormat LogFormat
	// MessageField is the gjson path of the message in JSON log lines.
	MessageField string

	// ConfigFiles maps an alias to a configuration file owned by the member.
	ConfigFiles map[string]string
}

// Options tune process control.
type Options struct {
	// RunDir receives <name>.log with the captured process output.
	RunDir string

	StartTimeout    time.Duration
	ShutdownTimeout time.Duration
	RestartDelay    time.Duration
	PollInterval    time.Duration

	Probe   Probe
	Logger  *slog.Logger
	Metrics *metrics.Registry
}

func (o *Options) setDefaults() {
	if o.StartTimeout == 0 {
		o.StartTimeout = 60 * time.Second
	}
	if o.ShutdownTimeout == 0 {
		o.ShutdownTimeout = 10 * time.Second
	}
	if o.PollInterval == 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.Probe == nil {
		o.Probe = TCPProbe
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Handle controls one member. Lifecycle operations are serialized; State and
// the log accessors never block on them.
type Handle struct {
	spec Spec
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	state   atomic.Int32
	cmd     *exec.Cmd
	exited  chan struct{}
	logFile *os.File
	logPath string

	snapshots map[string][]byte
}

// New creates a stopped handle and snapshots the member's config files.
func New(spec Spec, opts Options) (*Handle, error) {
	if spec.Name == "" {
		return nil, errors.New("member name cannot be empty")
	}
	if spec.Command == "" {
		return nil, fmt.Errorf("member %s: command cannot be empty", spec.Name)
	}
	if spec.MessageField == "" {
		spec.MessageField = "message"
	}
	if spec.LogFormat == "" {
		spec.LogFormat = LogFormatText
	}
	opts.setDefaults()

	if opts.RunDir != "" {
		if err := os.MkdirAll(opts.RunDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create run directory: %w", err)
		}
	}

	h := &Handle{
		spec:      spec,
		opts:      opts,
		log:       opts.Logger.With(slog.String("member", spec.Name)),
		logPath:   filepath.Join(opts.RunDir, spec.Name+".log"),
		snapshots: make(map[string][]byte, len(spec.ConfigFiles)),
	}

	for alias, path := range spec.ConfigFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("member %s: failed to read config %s: %w", spec.Name, alias, err)
		}
		h.snapshots[alias] = data
	}

	return h, nil
}

// Name returns the member name.
func (h *Handle) Name() string { return h.spec.Name }

// Ready runs the readiness probe once against the member.
func (h *Handle) Ready(ctx context.Context) error {
	return h.opts.Probe(ctx, h.spec.ClientAddr)
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

func (h *Handle) setState(s State) {
	h.state.Store(int32(s))
}

// Start launches the member and blocks until it is connectable or the start
// timeout elapses. Starting a running member is a no-op.
func (h *Handle) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.State() == StateRunning && h.alive() {
		return nil
	}

	err := h.startLocked(ctx)
	h.opts.Metrics.RecordTransition(h.spec.Name, "start", err)
	return err
}

// Spawn launches the member without waiting for readiness. The member stays
// in the starting state until a later Start confirms it.
func (h *Handle) Spawn(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.alive() {
		return nil
	}

	h.release()
	if err := h.spawn(); err != nil {
		return err
	}
	h.setState(StateStarting)
	h.log.Info("member spawned")

	return nil
}

// Stop terminates the member. Stopping a stopped member is a no-op.
func (h *Handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cmd == nil {
		h.setState(StateStopped)
		return nil
	}

	err := h.stop()
	if err == nil {
		h.setState(StateStopped)
	}
	h.opts.Metrics.RecordTransition(h.spec.Name, "stop", err)
	return err
}

// Restart stops and starts the member as one transition: observers see it go
// from running to starting and back, never stopped.
func (h *Handle) Restart(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.State()
	h.setState(StateStarting)

	var err error
	if h.cmd != nil {
		err = h.stop()
	}

	switch {
	case err != nil:
		h.setState(prev)
	case !backoff.Sleep(ctx, h.opts.RestartDelay):
		h.setState(StateStopped)
		err = fmt.Errorf("restart of member %s cancelled: %w", h.spec.Name, ctx.Err())
	default:
		err = h.startLocked(ctx)
	}

	h.opts.Metrics.RecordTransition(h.spec.Name, "restart", err)
	return err
}

func (h *Handle) startLocked(ctx context.Context) error {
	start := time.Now()
	h.setState(StateStarting)

	if !h.alive() {
		h.release()
		if err := h.spawn(); err != nil {
			h.setState(StateStopped)
			return err
		}
	}

	if err := h.waitReady(ctx, start); err != nil {
		h.log.Warn("member did not become ready", slog.Duration("elapsed", time.Since(start)), slog.String("error", err.Error()))
		if serr := h.stop(); serr != nil {
			return errors.Join(err, serr)
		}
		h.setState(StateStopped)
		return err
	}

	h.setState(StateRunning)
	h.opts.Metrics.RecordStart(h.spec.Name, time.Since(start))
	h.log.Info("member running", slog.Duration("elapsed", time.Since(start)))

	return nil
}

// spawn starts the process in its own group with output appended to the log.
func (h *Handle) spawn() error {
	logFile, err := os.OpenFile(h.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	cmd := exec.Command(h.spec.Command, h.spec.Args...)
	cmd.Dir = h.spec.Dir
	cmd.Env = append(os.Environ(), h.spec.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("failed to start member %s: %w", h.spec.Name, err)
	}

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	h.cmd = cmd
	h.exited = exited
	h.logFile = logFile
	h.log.Debug("process started", slog.Int("pid", cmd.Process.Pid))

	return nil
}

// waitReady polls the probe until it succeeds, the process exits or the
// start timeout elapses.
func (h *Handle) waitReady(ctx context.Context, start time.Time) error {
	deadline := start.Add(h.opts.StartTimeout)

	for {
		select {
		case <-h.exited:
			return &StartupTimeoutError{Member: h.spec.Name, Addr: h.spec.ClientAddr, Elapsed: time.Since(start), Cause: ErrProcessExited}
		default:
		}

		probeCtx, cancel := context.WithDeadline(ctx, deadline)
		lastErr := h.opts.Probe(probeCtx, h.spec.ClientAddr)
		cancel()
		if lastErr == nil {
			return nil
		}

		if ctx.Err() != nil {
			return &StartupTimeoutError{Member: h.spec.Name, Addr: h.spec.ClientAddr, Elapsed: time.Since(start), Cause: ctx.Err()}
		}
		if !time.Now().Add(h.opts.PollInterval).Before(deadline) {
			return &StartupTimeoutError{Member: h.spec.Name, Addr: h.spec.ClientAddr, Elapsed: time.Since(start), Cause: lastErr}
		}

		select {
		case <-ctx.Done():
		case <-h.exited:
		case <-time.After(h.opts.PollInterval):
		}
	}
}

// stop sends SIGTERM to the process group, then SIGKILL after the shutdown
// timeout.
func (h *Handle) stop() error {
	if h.cmd == nil {
		return nil
	}

	if !h.alive() {
		h.release()
		return nil
	}

	// The process is kept on a failed SIGTERM so a later Stop can retry.
	pgid := h.cmd.Process.Pid
	if err := killGroup(-pgid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("failed to stop member %s: %w", h.spec.Name, err)
	}

	select {
	case <-h.exited:
	case <-time.After(h.opts.ShutdownTimeout):
		h.log.Warn("member ignored SIGTERM, killing", slog.Duration("timeout", h.opts.ShutdownTimeout))
		_ = killGroup(-pgid, syscall.SIGKILL)
		<-h.exited
	}

	h.release()
	h.log.Info("member stopped")
	return nil
}

func (h *Handle) release() {
	if h.logFile != nil {
		h.logFile.Close()
		h.logFile = nil
	}
	h.cmd = nil
	h.exited = nil
}

func (h *Handle) alive() bool {
	if h.cmd == nil || h.exited == nil {
		return false
	}

	select {
	case <-h.exited:
		return false
	default:
		return true
	}
}
