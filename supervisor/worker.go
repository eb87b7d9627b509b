package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/edgeorder/labelreader/log"
)

// Role identifies a managed worker.
type Role string

const (
	RoleProducer Role = "producer"
	RoleConsumer Role = "consumer"
)

// WorkerConfig configures one worker process.
type WorkerConfig struct {
	// Role selects the worker subcommand.
	Role Role
	// Path is the binary to execute, normally the running executable.
	Path string
	// Args are passed to the binary before the role subcommand.
	Args []string
	// Env is the worker environment. Nil inherits the supervisor's.
	Env []string
	// GracePeriod is how long Terminate waits after SIGTERM before SIGKILL.
	GracePeriod time.Duration
	// Logger receives the worker's stderr lines.
	Logger *log.Logger
}

// ExitResult describes how a worker exited.
type ExitResult struct {
	ExitCode int
	// Signaled is true when the process was killed by a signal.
	Signaled bool
}

// Worker is a managed worker process.
//
// The worker's stdout carries mailbox requests and its stdin carries the
// replies; stderr is reserved for logs.
type Worker interface {
	Start(ctx context.Context) error
	// Requests returns the stream of mailbox requests from the worker.
	Requests() io.Reader
	// Replies returns the stream the supervisor answers on.
	Replies() io.Writer
	Wait() (*ExitResult, error)
	Terminate() error
	Pid() int
}

// WorkerFactory creates a Worker. Used for test injection.
type WorkerFactory func(config *WorkerConfig) Worker

// ExecWorker runs a worker as a child process of the supervisor.
type ExecWorker struct {
	config *WorkerConfig
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	stderrDone chan struct{}
	exited     chan struct{}
	exitOnce   sync.Once
}

var _ Worker = (*ExecWorker)(nil)

// NewExecWorker creates a worker that re-executes config.Path.
func NewExecWorker(config *WorkerConfig) Worker {
	return &ExecWorker{
		config:     config,
		stderrDone: make(chan struct{}),
		exited:     make(chan struct{}),
	}
}

// Start launches `<path> <args...> <role>`.
// Cancelling ctx sends SIGTERM to the worker.
func (w *ExecWorker) Start(ctx context.Context) error {
	args := append(append([]string{}, w.config.Args...), string(w.config.Role))
	w.cmd = exec.CommandContext(ctx, w.config.Path, args...)
	w.cmd.Env = w.config.Env
	w.cmd.Cancel = func() error {
		return w.cmd.Process.Signal(syscall.SIGTERM)
	}
	w.cmd.WaitDelay = w.gracePeriod()

	stdin, err := w.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	w.stdin = stdin

	stdout, err := w.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	w.stdout = stdout

	stderr, err := w.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	w.stderr = stderr

	if err := w.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s worker: %w", w.config.Role, err)
	}

	go w.forwardStderr()
	return nil
}

func (w *ExecWorker) gracePeriod() time.Duration {
	if w.config.GracePeriod > 0 {
		return w.config.GracePeriod
	}
	return 5 * time.Second
}

// forwardStderr relays worker log lines until the pipe closes.
func (w *ExecWorker) forwardStderr() {
	defer close(w.stderrDone)
	logger := w.config.Logger
	scanner := bufio.NewScanner(w.stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if logger != nil {
			logger.Info("worker output", map[string]any{
				"role": string(w.config.Role),
				"line": scanner.Text(),
			})
		}
	}
}

// Requests returns the worker's stdout.
func (w *ExecWorker) Requests() io.Reader {
	return w.stdout
}

// Replies returns the worker's stdin.
func (w *ExecWorker) Replies() io.Writer {
	return w.stdin
}

// Pid returns the worker's process id, or 0 before Start.
func (w *ExecWorker) Pid() int {
	if w.cmd == nil || w.cmd.Process == nil {
		return 0
	}
	return w.cmd.Process.Pid
}

// Wait waits for the worker to exit. Must be called after Start, once the
// request stream has been drained.
func (w *ExecWorker) Wait() (*ExitResult, error) {
	if w.cmd == nil {
		return nil, errors.New("worker not started")
	}

	<-w.stderrDone
	err := w.cmd.Wait()
	w.exitOnce.Do(func() { close(w.exited) })
	_ = w.stdin.Close()

	result := &ExitResult{}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s worker wait failed: %w", w.config.Role, err)
		}
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			result.ExitCode = status.ExitStatus()
			result.Signaled = status.Signaled()
		} else {
			result.ExitCode = -1
		}
	}
	return result, nil
}

// Terminate sends SIGTERM and escalates to SIGKILL after the grace period.
// It does not wait for the worker to be reaped.
func (w *ExecWorker) Terminate() error {
	if w.cmd == nil || w.cmd.Process == nil {
		return nil
	}
	if err := w.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("failed to signal %s worker: %w", w.config.Role, err)
	}

	select {
	case <-w.exited:
		return nil
	case <-time.After(w.gracePeriod()):
	}

	if err := w.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill %s worker: %w", w.config.Role, err)
	}
	return nil
}
