package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/edgeorder/labelreader/mailbox"
	"github.com/edgeorder/labelreader/types"
)

// fakeWorker stands in for a worker process. Its mailbox client talks to
// the supervisor over in-memory pipes.
type fakeWorker struct {
	config *WorkerConfig
	pid    int

	reqR *io.PipeReader
	reqW *io.PipeWriter
	repR *io.PipeReader
	repW *io.PipeWriter

	exited   chan struct{}
	exitOnce sync.Once

	mu             sync.Mutex
	startErr       error
	terminateFails int // negative fails forever
	terminateCalls int
}

func newFakeWorker(config *WorkerConfig, pid int) *fakeWorker {
	reqR, reqW := io.Pipe()
	repR, repW := io.Pipe()
	return &fakeWorker{
		config: config,
		pid:    pid,
		reqR:   reqR,
		reqW:   reqW,
		repR:   repR,
		repW:   repW,
		exited: make(chan struct{}),
	}
}

func (w *fakeWorker) Start(context.Context) error { return w.startErr }
func (w *fakeWorker) Requests() io.Reader         { return w.reqR }
func (w *fakeWorker) Replies() io.Writer          { return w.repW }
func (w *fakeWorker) Pid() int                    { return w.pid }

func (w *fakeWorker) Wait() (*ExitResult, error) {
	<-w.exited
	return &ExitResult{Signaled: true}, nil
}

func (w *fakeWorker) Terminate() error {
	w.mu.Lock()
	w.terminateCalls++
	if w.terminateFails != 0 {
		if w.terminateFails > 0 {
			w.terminateFails--
		}
		w.mu.Unlock()
		return errors.New("signal refused")
	}
	w.mu.Unlock()
	w.exit()
	return nil
}

// exit simulates the process ending.
func (w *fakeWorker) exit() {
	w.exitOnce.Do(func() {
		close(w.exited)
		w.reqW.Close()
		w.repR.Close()
	})
}

func (w *fakeWorker) client() *mailbox.Client {
	return mailbox.NewClient(w.repR, w.reqW)
}

func (w *fakeWorker) calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.terminateCalls
}

type fakeFactory struct {
	mu      sync.Mutex
	workers []*fakeWorker
	prepare func(*fakeWorker)
}

func (f *fakeFactory) create(config *WorkerConfig) Worker {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := newFakeWorker(config, 1000+len(f.workers))
	if f.prepare != nil {
		f.prepare(w)
	}
	f.workers = append(f.workers, w)
	return w
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.workers)
}

func (f *fakeFactory) byRole(role Role) *fakeWorker {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.workers) - 1; i >= 0; i-- {
		if f.workers[i].config.Role == role {
			return f.workers[i]
		}
	}
	return nil
}

type recordingSender struct {
	mu       sync.Mutex
	messages [][]byte
}

func (r *recordingSender) Send(payload []byte, _ bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, payload)
	return true
}

func (r *recordingSender) responses(t *testing.T) []types.AdminResponse {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.AdminResponse, 0, len(r.messages))
	for _, m := range r.messages {
		var resp types.AdminResponse
		if err := json.Unmarshal(m, &resp); err != nil {
			t.Fatalf("invalid response %s: %v", m, err)
		}
		out = append(out, resp)
	}
	return out
}

func newTestSupervisor(t *testing.T, factory *fakeFactory) (*Supervisor, *recordingSender) {
	t.Helper()
	sup := New(Config{
		LockTimeout:   100 * time.Millisecond,
		GracePeriod:   100 * time.Millisecond,
		WorkerFactory: factory.create,
	}, nil)
	sender := &recordingSender{}
	sup.Initialize(t.Context(), sender)
	return sup, sender
}

func TestSupervisor_StartIsIdempotent(t *testing.T) {
	factory := &fakeFactory{}
	sup, _ := newTestSupervisor(t, factory)

	if !sup.Start() {
		t.Fatal("first Start should return true")
	}
	if sup.Start() {
		t.Error("second Start should return false while workers are alive")
	}
	if factory.count() != 2 {
		t.Errorf("expected 2 workers spawned, got %d", factory.count())
	}
	if !sup.Alive(RoleProducer) || !sup.Alive(RoleConsumer) {
		t.Error("expected both workers alive")
	}
	if factory.workers[0].config.Role != RoleProducer || factory.workers[1].config.Role != RoleConsumer {
		t.Error("expected producer to be spawned before consumer")
	}
}

func TestSupervisor_StartBeforeInitialize(t *testing.T) {
	factory := &fakeFactory{}
	sup := New(Config{WorkerFactory: factory.create}, nil)
	if sup.Start() {
		t.Error("Start before Initialize should fail")
	}
	if factory.count() != 0 {
		t.Errorf("expected no workers, got %d", factory.count())
	}
}

func TestSupervisor_WorkersShareMailbox(t *testing.T) {
	factory := &fakeFactory{}
	sup, _ := newTestSupervisor(t, factory)
	if !sup.Start() {
		t.Fatal("Start failed")
	}

	producer := factory.byRole(RoleProducer).client()
	consumer := factory.byRole(RoleConsumer).client()

	producer.Put(types.Frame{CorrelationID: "old"})
	producer.Put(types.Frame{CorrelationID: "new"})

	got, ok := consumer.Take()
	if !ok || got.CorrelationID != "new" {
		t.Errorf("expected consumer to take newest frame, got %q ok=%v", got.CorrelationID, ok)
	}
}

func TestSupervisor_StopClosesMailbox(t *testing.T) {
	factory := &fakeFactory{}
	sup, _ := newTestSupervisor(t, factory)
	sup.Start()
	box := sup.Mailbox()

	if err := sup.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if sup.Alive(RoleProducer) || sup.Alive(RoleConsumer) {
		t.Error("expected workers stopped")
	}
	if !box.Closed() {
		t.Error("expected mailbox closed")
	}
	for _, w := range factory.workers {
		if w.calls() != 1 {
			t.Errorf("%s: expected 1 terminate call, got %d", w.config.Role, w.calls())
		}
	}
}

func TestSupervisor_StopWithoutWorkers(t *testing.T) {
	sup, _ := newTestSupervisor(t, &fakeFactory{})
	if err := sup.Stop(); err != nil {
		t.Errorf("Stop with no workers should succeed, got %v", err)
	}
}

func TestSupervisor_TerminateRetriesThenSucceeds(t *testing.T) {
	factory := &fakeFactory{prepare: func(w *fakeWorker) { w.terminateFails = 2 }}
	sup, _ := newTestSupervisor(t, factory)
	sup.Start()

	if err := sup.Stop(); err != nil {
		t.Fatalf("Stop should succeed on third attempt, got %v", err)
	}
	for _, w := range factory.workers {
		if w.calls() != 3 {
			t.Errorf("%s: expected 3 terminate calls, got %d", w.config.Role, w.calls())
		}
	}
}

func TestSupervisor_TerminateExhaustedIsFatal(t *testing.T) {
	factory := &fakeFactory{prepare: func(w *fakeWorker) { w.terminateFails = -1 }}
	sup, _ := newTestSupervisor(t, factory)
	sup.Start()
	box := sup.Mailbox()

	err := sup.Stop()
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected *FatalError, got %v", err)
	}
	if fatal.Attempts != TerminateAttempts {
		t.Errorf("expected %d attempts, got %d", TerminateAttempts, fatal.Attempts)
	}
	if factory.byRole(RoleProducer).calls() != TerminateAttempts {
		t.Errorf("expected %d terminate calls, got %d", TerminateAttempts, factory.byRole(RoleProducer).calls())
	}
	if factory.byRole(RoleConsumer).calls() != TerminateAttempts {
		t.Error("expected consumer to be stopped even after producer failure")
	}
	if !box.Closed() {
		t.Error("mailbox must be closed even when stop fails")
	}

	ok, err := sup.Restart()
	if ok || err == nil {
		t.Errorf("Restart should fail when Stop fails, got ok=%v err=%v", ok, err)
	}
	if factory.count() != 2 {
		t.Errorf("Restart must not start new workers after failed stop, got %d workers", factory.count())
	}
}

func TestSupervisor_Restart(t *testing.T) {
	factory := &fakeFactory{}
	sup, _ := newTestSupervisor(t, factory)
	sup.Start()
	first := sup.Mailbox()

	ok, err := sup.Restart()
	if err != nil || !ok {
		t.Fatalf("Restart failed: ok=%v err=%v", ok, err)
	}
	if factory.count() != 4 {
		t.Errorf("expected 4 workers after restart, got %d", factory.count())
	}
	if sup.Mailbox() == first {
		t.Error("expected a fresh mailbox after restart")
	}
	if !first.Closed() {
		t.Error("expected old mailbox closed")
	}
}

func TestSupervisor_StartAfterWorkerExit(t *testing.T) {
	factory := &fakeFactory{}
	sup, _ := newTestSupervisor(t, factory)
	sup.Start()

	factory.byRole(RoleConsumer).exit()
	select {
	case <-sup.Exited(RoleConsumer):
	case <-time.After(5 * time.Second):
		t.Fatal("consumer exit not observed")
	}

	// Producer is still alive.
	if sup.Start() {
		t.Error("Start should refuse while producer is alive")
	}
	factory.byRole(RoleProducer).exit()
	<-sup.Exited(RoleProducer)

	if !sup.Start() {
		t.Error("Start should succeed once both workers exited")
	}
}

func TestSupervisor_StartFailureCleansUp(t *testing.T) {
	factory := &fakeFactory{prepare: func(w *fakeWorker) {
		if w.config.Role == RoleConsumer {
			w.startErr = errors.New("exec failed")
		}
	}}
	sup, _ := newTestSupervisor(t, factory)

	if sup.Start() {
		t.Fatal("Start should fail when consumer cannot spawn")
	}
	if factory.byRole(RoleProducer).calls() != 1 {
		t.Error("expected already-started producer to be terminated")
	}
	if sup.Alive(RoleProducer) {
		t.Error("producer should not be tracked after failed start")
	}
}

func TestHandleAdminMessage(t *testing.T) {
	factory := &fakeFactory{}
	sup, sender := newTestSupervisor(t, factory)

	messages := []string{
		`{"type":"request","command":"start"}`,
		`{"type":"request","command":"start"}`,
		`{"type":"request","command":"restart"}`,
		`{"type":"request","command":"stop"}`,
		`{"type":"request","command":"selfdestruct"}`,
		`{"type":"response","command":"start","status":"success"}`,
		` Error relaying the message to the client - no clients`,
	}
	for _, m := range messages {
		sup.HandleAdminMessage([]byte(m))
	}

	got := sender.responses(t)
	want := []types.AdminResponse{
		{Command: "start", Status: "success", Type: "response"},
		{Command: "start", Status: "success", Type: "response"},
		{Command: "restart", Status: "success", Type: "response"},
		{Command: "stop", Status: "success", Type: "response"},
		{Command: "selfdestruct", Status: "error", Type: "response"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d responses, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("response %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
	if factory.count() != 4 {
		t.Errorf("expected 4 workers (start + restart), got %d", factory.count())
	}
}

func TestHandleAdminMessage_StopFailureReportsError(t *testing.T) {
	factory := &fakeFactory{prepare: func(w *fakeWorker) { w.terminateFails = -1 }}
	sup, sender := newTestSupervisor(t, factory)
	sup.Start()

	sup.HandleAdminMessage([]byte(`{"type":"request","command":"stop"}`))

	got := sender.responses(t)
	if len(got) != 1 || got[0].Status != types.AdminStatusError {
		t.Errorf("expected one error response, got %+v", got)
	}
}
