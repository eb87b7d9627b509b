// Package supervisor owns the frame mailbox and the lifecycle of the producer
// and consumer worker processes, and answers remote admin commands.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/edgeorder/labelreader/log"
	"github.com/edgeorder/labelreader/mailbox"
)

// TerminateAttempts is how many times Stop tries to terminate a worker
// before giving up with a FatalError.
const TerminateAttempts = 3

// ErrNotInitialized is returned when Start is called before Initialize.
var ErrNotInitialized = errors.New("supervisor not initialized")

// FatalError reports a worker that could not be terminated.
// The supervisor cannot guarantee a single producer and consumer afterwards.
type FatalError struct {
	Role     Role
	Attempts int
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("could not terminate %s worker after %d attempts: %v", e.Role, e.Attempts, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Config configures a Supervisor.
type Config struct {
	// Executable is the binary workers are started from.
	Executable string
	// Args precede the role subcommand on every worker command line.
	Args []string
	// Env is the worker environment. Nil inherits the supervisor's.
	Env []string
	// LockTimeout bounds mailbox lock acquisition.
	LockTimeout time.Duration
	// GracePeriod is how long a terminated worker may take to exit.
	GracePeriod time.Duration
	// WorkerFactory overrides worker creation (for testing).
	WorkerFactory WorkerFactory
}

// Supervisor starts, stops and restarts the two workers.
type Supervisor struct {
	config Config
	logger *log.Logger

	mu      sync.Mutex
	ctx     context.Context
	box     *mailbox.Mailbox
	workers map[Role]*managedWorker
	admin   Sender
}

type managedWorker struct {
	role   Role
	worker Worker
	done   chan struct{}
	result *ExitResult
	err    error
}

func (m *managedWorker) alive() bool {
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// New creates a supervisor. Call Initialize before Start.
func New(config Config, logger *log.Logger) *Supervisor {
	if config.WorkerFactory == nil {
		config.WorkerFactory = NewExecWorker
	}
	if config.GracePeriod <= 0 {
		config.GracePeriod = 5 * time.Second
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Supervisor{
		config:  config,
		logger:  logger,
		workers: make(map[Role]*managedWorker),
	}
}

// Initialize binds the supervisor to ctx, which bounds every worker's
// lifetime, and to the admin reply channel (may be nil).
func (s *Supervisor) Initialize(ctx context.Context, admin Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	s.admin = admin
	s.logger.Info("supervisor initialized", nil)
}

// Start spawns the producer and then the consumer over a fresh mailbox.
// It returns false if either worker is still alive or spawning failed.
func (s *Supervisor) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		s.logger.Error("start failed", map[string]any{"error": ErrNotInitialized.Error()})
		return false
	}
	for _, role := range []Role{RoleProducer, RoleConsumer} {
		if m := s.workers[role]; m != nil && m.alive() {
			s.logger.Info("worker already running", map[string]any{"role": string(role), "pid": m.worker.Pid()})
			return false
		}
	}

	box := mailbox.New(s.config.LockTimeout)
	started := make([]*managedWorker, 0, 2)
	for _, role := range []Role{RoleProducer, RoleConsumer} {
		m, err := s.spawn(role, box)
		if err != nil {
			s.logger.Error("failed to start worker", map[string]any{"role": string(role), "error": err.Error()})
			for _, prev := range started {
				_ = prev.worker.Terminate()
			}
			box.Close()
			return false
		}
		started = append(started, m)
	}

	s.box = box
	for _, m := range started {
		s.workers[m.role] = m
	}
	s.logger.Info("workers started", map[string]any{
		"producer_pid": s.workers[RoleProducer].worker.Pid(),
		"consumer_pid": s.workers[RoleConsumer].worker.Pid(),
	})
	return true
}

func (s *Supervisor) spawn(role Role, box *mailbox.Mailbox) (*managedWorker, error) {
	worker := s.config.WorkerFactory(&WorkerConfig{
		Role:        role,
		Path:        s.config.Executable,
		Args:        s.config.Args,
		Env:         s.config.Env,
		GracePeriod: s.config.GracePeriod,
		Logger:      s.logger.Named(string(role)),
	})
	if err := worker.Start(s.ctx); err != nil {
		return nil, err
	}

	m := &managedWorker{role: role, worker: worker, done: make(chan struct{})}
	go s.supervise(m, box)
	return m, nil
}

// supervise serves the worker's mailbox requests and reaps it on exit.
func (s *Supervisor) supervise(m *managedWorker, box *mailbox.Mailbox) {
	defer close(m.done)

	server := mailbox.NewServer(box, s.logger)
	if err := server.Serve(s.ctx, m.worker.Requests(), m.worker.Replies()); err != nil {
		s.logger.Warn("mailbox stream failed", map[string]any{"role": string(m.role), "error": err.Error()})
		_ = m.worker.Terminate()
	}

	m.result, m.err = m.worker.Wait()
	fields := map[string]any{"role": string(m.role)}
	if m.err != nil {
		fields["error"] = m.err.Error()
	} else {
		fields["exit_code"] = m.result.ExitCode
		fields["signaled"] = m.result.Signaled
	}
	s.logger.Info("worker exited", fields)
}

// Stop terminates every alive worker and closes the mailbox.
//
// Each worker gets TerminateAttempts tries; a worker that cannot be
// terminated yields a *FatalError. The remaining workers are still stopped
// and the mailbox is closed regardless.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, role := range []Role{RoleProducer, RoleConsumer} {
		m := s.workers[role]
		if m == nil || !m.alive() {
			continue
		}
		if err := s.terminate(m); err != nil {
			s.logger.Error("could not terminate worker", map[string]any{"role": string(role), "error": err.Error()})
			errs = append(errs, err)
			continue
		}
		delete(s.workers, role)
		s.logger.Info("worker stopped", map[string]any{"role": string(role)})
	}

	if s.box != nil {
		s.box.Close()
	}
	s.logger.Info("mailbox closed", nil)

	return errors.Join(errs...)
}

func (s *Supervisor) terminate(m *managedWorker) error {
	var lastErr error
	for attempt := 1; attempt <= TerminateAttempts; attempt++ {
		if err := m.worker.Terminate(); err != nil {
			lastErr = err
			s.logger.Warn("terminate attempt failed", map[string]any{
				"role":    string(m.role),
				"attempt": attempt,
				"error":   err.Error(),
			})
			continue
		}

		select {
		case <-m.done:
		case <-time.After(s.config.GracePeriod + time.Second):
			s.logger.Warn("worker not reaped after terminate", map[string]any{"role": string(m.role)})
		}
		return nil
	}
	return &FatalError{Role: m.role, Attempts: TerminateAttempts, Err: lastErr}
}

// Restart stops then starts the workers. A failed Stop short-circuits.
func (s *Supervisor) Restart() (bool, error) {
	if err := s.Stop(); err != nil {
		return false, err
	}
	return s.Start(), nil
}

// Alive reports whether the worker with role is running.
func (s *Supervisor) Alive(role Role) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.workers[role]
	return m != nil && m.alive()
}

// Exited returns a channel closed when the worker with role exits, or nil
// if no such worker was started.
func (s *Supervisor) Exited(role Role) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.workers[role]; m != nil {
		return m.done
	}
	return nil
}

// Mailbox returns the current mailbox, or nil before the first Start.
func (s *Supervisor) Mailbox() *mailbox.Mailbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.box
}
