// Package controller owns the OS handles of running children and the
// per-child supervision loops. Authoritative state lives in the registry;
// the controller only writes transitions through it.
package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/hezky/lab-heartbeat/internal/logging"
	"github.com/hezky/lab-heartbeat/internal/registry"
)

// ErrAlreadyRunning is returned by Start for a record already in
// StateRunning.
var ErrAlreadyRunning = errors.New("process is already running")

// ErrSpawn wraps child creation failures; the record is moved to StateFailed
// before it is returned.
var ErrSpawn = errors.New("failed to spawn process")

// child tracks a spawned OS process and its captured output.
type child struct {
	cmd    *exec.Cmd
	stdout *outputRing
	stderr *outputRing

	// exited is closed by the waiter goroutine once the process is reaped;
	// exitCode is valid after that.
	exited   chan struct{}
	exitCode int
}

// Controller spawns and terminates children and runs their supervision
// loops.
type Controller struct {
	registry *registry.Registry

	gracefulTimeout time.Duration
	pollInterval    time.Duration
	backoff         []time.Duration
	restartPause    time.Duration

	mu       sync.Mutex
	children map[string]*child
	loops    map[string]*superviseHandle
	starting map[string]bool
}

// Option tweaks controller timing, mainly for tests.
type Option func(*Controller)

// WithGracefulTimeout overrides how long a graceful stop waits before the
// kill escalation.
func WithGracefulTimeout(d time.Duration) Option {
	return func(c *Controller) { c.gracefulTimeout = d }
}

// WithPollInterval overrides the supervision loop poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) { c.pollInterval = d }
}

// WithBackoff overrides the restart backoff schedule.
func WithBackoff(backoff []time.Duration) Option {
	return func(c *Controller) { c.backoff = backoff }
}

// WithRestartPause overrides the pause between stop and start in Restart.
func WithRestartPause(d time.Duration) Option {
	return func(c *Controller) { c.restartPause = d }
}

// New creates a controller writing through the given registry.
func New(reg *registry.Registry, opts ...Option) *Controller {
	c := &Controller{
		registry:        reg,
		gracefulTimeout: 10 * time.Second,
		pollInterval:    2 * time.Second,
		backoff: []time.Duration{
			1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
			16 * time.Second, 30 * time.Second, 60 * time.Second,
		},
		restartPause: 1 * time.Second,
		children:     make(map[string]*child),
		loops:        make(map[string]*superviseHandle),
		starting:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start spawns the child for a registered process. The record must exist and
// not be running. On success the record is in StateRunning with the child's
// pid and, unless the restart policy is never, a supervision loop owns the
// child's exit. A manual start begins a fresh restart budget.
func (c *Controller) Start(ctx context.Context, id string) error {
	return c.start(ctx, id, 0)
}

// start spawns one child life. attempt is the supervision attempt within the
// current restart chain: 0 for a manual start, incremented by the loop on
// each supervised restart.
func (c *Controller) start(ctx context.Context, id string, attempt int) error {
	info, err := c.registry.Get(ctx, id)
	if err != nil {
		return err
	}
	if info.State == registry.StateRunning {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}

	// Serialize concurrent starts of the same id; the registry's STARTING
	// transition alone would let two callers through (it is idempotent).
	c.mu.Lock()
	if c.starting[id] {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is starting", ErrAlreadyRunning, id)
	}
	c.starting[id] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.starting, id)
		c.mu.Unlock()
	}()

	if err := c.registry.UpdateState(ctx, id, registry.StateStarting, nil, ""); err != nil {
		return err
	}

	argv, err := BuildArgv(info.Config)
	if err != nil {
		return c.failSpawn(ctx, id, err)
	}

	workdir := info.Config.Workdir
	if !filepath.IsAbs(workdir) {
		if workdir, err = filepath.Abs(workdir); err != nil {
			return c.failSpawn(ctx, id, fmt.Errorf("failed to resolve workdir: %w", err))
		}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workdir
	cmd.Env = buildEnv(os.Environ(), info.Config)
	// Detach from the supervisor's process group so a Ctrl-C at the terminal
	// does not reach children the user did not intend to kill.
	setChildProcAttr(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return c.failSpawn(ctx, id, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return c.failSpawn(ctx, id, err)
	}

	ch := &child{
		cmd:    cmd,
		stdout: newOutputRing(defaultRingCapacity),
		stderr: newOutputRing(defaultRingCapacity),
		exited: make(chan struct{}),
	}

	logging.Info("starting process",
		"id", id, "argv", argv, "workdir", workdir, "port", info.Config.PrimaryPort())

	if err := cmd.Start(); err != nil {
		return c.failSpawn(ctx, id, err)
	}

	go ch.stdout.collect(stdoutPipe)
	go ch.stderr.collect(stderrPipe)
	go func() {
		err := cmd.Wait()
		ch.exitCode = exitCodeOf(err)
		close(ch.exited)
	}()

	c.mu.Lock()
	c.children[id] = ch
	c.mu.Unlock()

	pid := cmd.Process.Pid
	if err := c.registry.UpdateState(ctx, id, registry.StateRunning, &pid, ""); err != nil {
		logging.Warn("failed to record running state", "id", id, "error", err)
	}

	if info.Config.RestartPolicy != registry.RestartNever {
		c.startSupervision(id, ch, info.Config, attempt)
	}

	logging.Info("started process", "id", id, "pid", pid)
	return nil
}

// failSpawn records a spawn failure and returns it.
func (c *Controller) failSpawn(ctx context.Context, id string, cause error) error {
	logging.Error("failed to start process", "id", id, "error", cause)
	if err := c.registry.UpdateState(ctx, id, registry.StateFailed, nil, cause.Error()); err != nil {
		logging.Warn("failed to record spawn failure", "id", id, "error", err)
	}
	return fmt.Errorf("%w: %v", ErrSpawn, cause)
}

// Stop terminates a running child. Stopping an already-terminal record is a
// successful no-op that clears any residual handle. With force the child is
// killed outright; otherwise it gets a termination signal and the graceful
// timeout before the kill escalation.
func (c *Controller) Stop(ctx context.Context, id string, force bool) error {
	info, err := c.registry.Get(ctx, id)
	if err != nil {
		return err
	}

	if info.State.Terminal() {
		c.mu.Lock()
		delete(c.children, id)
		c.mu.Unlock()
		logging.Info("process already stopped", "id", id, "state", string(info.State))
		return nil
	}

	if info.State != registry.StateRunning {
		return fmt.Errorf("cannot stop process %s in state %s", id, info.State)
	}

	// Cancel the supervision loop before signalling so its exit detection
	// does not race the intentional termination.
	c.cancelSupervision(id)

	if err := c.registry.UpdateState(ctx, id, registry.StateStopping, nil, ""); err != nil {
		return err
	}

	c.mu.Lock()
	ch := c.children[id]
	c.mu.Unlock()

	if ch == nil && info.PID != nil {
		// The child was spawned by another supervisor invocation; all we
		// have is its pid.
		c.terminateByPID(id, *info.PID, force)
	}

	if ch != nil {
		if err := c.terminate(id, ch, force); err != nil {
			logging.Error("failed to stop process", "id", id, "error", err)
			if uerr := c.registry.UpdateState(ctx, id, registry.StateStopped, nil, err.Error()); uerr != nil {
				logging.Warn("failed to record stop failure", "id", id, "error", uerr)
			}
			return err
		}
	}

	c.mu.Lock()
	delete(c.children, id)
	c.mu.Unlock()

	if err := c.registry.UpdateState(ctx, id, registry.StateStopped, nil, ""); err != nil {
		return err
	}

	logging.Info("stopped process", "id", id, "force", force)
	return nil
}

// terminate delivers the signals and waits for the child to be reaped.
func (c *Controller) terminate(id string, ch *child, force bool) error {
	select {
	case <-ch.exited:
		// Already gone.
		return nil
	default:
	}

	if force {
		if err := ch.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("failed to kill process: %w", err)
		}
		<-ch.exited
		return nil
	}

	if err := ch.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to signal process: %w", err)
	}

	select {
	case <-ch.exited:
		return nil
	case <-time.After(c.gracefulTimeout):
		logging.Warn("process did not terminate gracefully, killing", "id", id)
		if err := ch.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("failed to kill process: %w", err)
		}
		<-ch.exited
		return nil
	}
}

// terminateByPID signals a child we hold no handle for and waits for the
// pid to disappear, escalating after the graceful timeout.
func (c *Controller) terminateByPID(id string, pid int, force bool) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}

	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	if err := proc.Signal(sig); err != nil {
		logging.Warn("failed to signal process by pid", "id", id, "pid", pid, "error", err)
		return
	}

	deadline := time.Now().Add(c.gracefulTimeout)
	for time.Now().Before(deadline) {
		if proc.Signal(syscall.Signal(0)) != nil {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}

	if !force {
		logging.Warn("process did not terminate gracefully, killing", "id", id, "pid", pid)
		if err := proc.Signal(syscall.SIGKILL); err != nil {
			logging.Warn("failed to kill process by pid", "id", id, "pid", pid, "error", err)
		}
	}
}

// Restart stops the child if running, pauses briefly so the OS can release
// its ports, and starts it again.
func (c *Controller) Restart(ctx context.Context, id string) error {
	info, err := c.registry.Get(ctx, id)
	if err != nil {
		return err
	}

	if info.State == registry.StateRunning {
		if err := c.Stop(ctx, id, false); err != nil {
			return err
		}
		select {
		case <-time.After(c.restartPause):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return c.Start(ctx, id)
}

// Output returns the last n lines of captured stdout and stderr. It tails
// the in-memory rings without draining the child's pipes, so it is safe on a
// still-running child. A process with no tracked handle yields empty output.
func (c *Controller) Output(id string, n int) (stdout, stderr []string) {
	c.mu.Lock()
	ch := c.children[id]
	c.mu.Unlock()

	if ch == nil {
		return nil, nil
	}
	return ch.stdout.Tail(n), ch.stderr.Tail(n)
}

// StopAll stops every tracked child.
func (c *Controller) StopAll(ctx context.Context) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.children))
	for id := range c.children {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		if err := c.Stop(ctx, id, false); err != nil {
			logging.Warn("failed to stop process", "id", id, "error", err)
		}
	}
}

// Cleanup stops every child and joins every supervision loop.
func (c *Controller) Cleanup(ctx context.Context) {
	c.StopAll(ctx)
	c.JoinLoops()
}

// JoinLoops cancels and joins every supervision loop without touching the
// children themselves. Loops caught mid-restart hand off to successors, so
// keep draining until none remains.
func (c *Controller) JoinLoops() {
	for {
		c.mu.Lock()
		loops := make([]*superviseHandle, 0, len(c.loops))
		for _, h := range c.loops {
			loops = append(loops, h)
		}
		c.loops = make(map[string]*superviseHandle)
		c.mu.Unlock()

		if len(loops) == 0 {
			return
		}
		for _, h := range loops {
			h.cancel()
			<-h.done
		}
	}
}

// exitCodeOf extracts the exit code from cmd.Wait's error. A killed child
// reports -1.
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
