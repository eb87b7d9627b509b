package channel

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type testServer struct {
	*httptest.Server
	received chan string
	conns    atomic.Int32
	// onConnect runs for each accepted connection; returning false closes it.
	onConnect func(n int32, conn *websocket.Conn) bool
}

func newTestServer(t *testing.T, onConnect func(n int32, conn *websocket.Conn) bool) *testServer {
	t.Helper()
	ts := &testServer{received: make(chan string, 16), onConnect: onConnect}
	upgrader := websocket.Upgrader{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := ts.conns.Add(1)
		if ts.onConnect != nil && !ts.onConnect(n, conn) {
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ts.received <- string(data)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func newTestDuplex(t *testing.T, url string) *Duplex {
	t.Helper()
	d := New(Config{URL: url, ReconnectInterval: 10 * time.Millisecond, LockTimeout: time.Second}, nil)
	t.Cleanup(func() { d.Close() })
	return d
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDuplex_OpenAndSend(t *testing.T) {
	ts := newTestServer(t, nil)
	d := newTestDuplex(t, ts.wsURL())

	if !d.Open() {
		t.Fatal("Open returned false")
	}
	if d.State() != StateConnected {
		t.Fatalf("State = %v, want connected", d.State())
	}
	if !d.Open() {
		t.Error("Open on a connected channel should succeed")
	}
	if d.Generation() != 1 {
		t.Errorf("Generation = %d, want 1", d.Generation())
	}

	if !d.Send([]byte(`{"type":"request","command":"start"}`), false) {
		t.Fatal("Send returned false")
	}
	select {
	case got := <-ts.received:
		if got != `{"type":"request","command":"start"}` {
			t.Errorf("server received %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive message")
	}
}

func TestDuplex_SendReconnectsAfterTransportDrop(t *testing.T) {
	ts := newTestServer(t, nil)
	d := newTestDuplex(t, ts.wsURL())

	if !d.Open() {
		t.Fatal("Open returned false")
	}
	before := d.Generation()

	d.mu.Lock()
	d.conn.Close()
	d.mu.Unlock()
	waitFor(t, "transport down", func() bool { return d.State() != StateConnected })

	if !d.Send([]byte("after-drop"), true) {
		t.Fatal("Send after drop returned false")
	}
	if got := d.Reconnects(); got != 1 {
		t.Errorf("Reconnects = %d, want 1", got)
	}
	if after := d.Generation(); after == before {
		t.Errorf("Generation unchanged after reconnect (%d)", after)
	}

	select {
	case got := <-ts.received:
		if got != "after-drop" {
			t.Errorf("server received %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive message after reconnect")
	}
	if n := ts.conns.Load(); n != 2 {
		t.Errorf("server saw %d connections, want 2", n)
	}
}

func TestDuplex_ConcurrentSendersShareOneReconnect(t *testing.T) {
	ts := newTestServer(t, nil)
	d := New(Config{URL: ts.wsURL(), ReconnectInterval: 100 * time.Millisecond, LockTimeout: time.Second}, nil)
	t.Cleanup(func() { d.Close() })

	if !d.Open() {
		t.Fatal("Open returned false")
	}
	d.mu.Lock()
	d.conn.Close()
	d.mu.Unlock()
	waitFor(t, "transport down", func() bool { return d.State() != StateConnected })

	const senders = 4
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		ok    atomic.Int32
	)
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if d.Send([]byte("burst"), false) {
				ok.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := ok.Load(); got != senders {
		t.Errorf("%d of %d sends succeeded", got, senders)
	}
	if got := d.Reconnects(); got != 1 {
		t.Errorf("Reconnects = %d, want 1", got)
	}
	if got := d.Generation(); got != 2 {
		t.Errorf("Generation = %d, want 2", got)
	}
	if n := ts.conns.Load(); n != 2 {
		t.Errorf("server saw %d connections, want 2", n)
	}
}

func TestDuplex_SendFailsWhenReconnectFails(t *testing.T) {
	ts := newTestServer(t, nil)
	d := newTestDuplex(t, ts.wsURL())
	if !d.Open() {
		t.Fatal("Open returned false")
	}

	ts.Close()
	d.mu.Lock()
	d.conn.Close()
	d.mu.Unlock()
	waitFor(t, "transport down", func() bool { return d.State() != StateConnected })

	if d.Send([]byte("lost"), false) {
		t.Error("Send should fail when the endpoint is gone")
	}
}

func TestDuplex_StartDispatchIdempotent(t *testing.T) {
	ts := newTestServer(t, nil)
	d := newTestDuplex(t, ts.wsURL())
	d.Open()

	if !d.StartDispatch() {
		t.Error("first StartDispatch should start the loop")
	}
	if d.StartDispatch() {
		t.Error("second StartDispatch should be a no-op")
	}
}

func TestDuplex_DispatchDeliversMessages(t *testing.T) {
	ts := newTestServer(t, func(n int32, conn *websocket.Conn) bool {
		conn.WriteMessage(websocket.TextMessage, []byte("one"))
		conn.WriteMessage(websocket.TextMessage, []byte("two"))
		return true
	})
	d := newTestDuplex(t, ts.wsURL())

	got := make(chan string, 4)
	d.OnMessage(func(data []byte) { got <- string(data) })
	if !d.Open() {
		t.Fatal("Open returned false")
	}
	d.StartDispatch()

	for _, want := range []string{"one", "two"} {
		select {
		case msg := <-got:
			if msg != want {
				t.Errorf("got %q, want %q", msg, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestDuplex_DispatchReconnectsAfterServerClose(t *testing.T) {
	ts := newTestServer(t, func(n int32, conn *websocket.Conn) bool {
		if n == 1 {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
			return false
		}
		return true
	})
	d := newTestDuplex(t, ts.wsURL())
	if !d.Open() {
		t.Fatal("Open returned false")
	}
	d.StartDispatch()

	waitFor(t, "second connection", func() bool {
		return d.Generation() >= 2 && d.State() == StateConnected
	})
	if d.Reconnects() == 0 {
		t.Error("expected at least one reconnect")
	}
}

func TestDuplex_DispatchRecoversFromHandlerPanic(t *testing.T) {
	ts := newTestServer(t, func(n int32, conn *websocket.Conn) bool {
		conn.WriteMessage(websocket.TextMessage, []byte("boom"))
		return true
	})
	d := newTestDuplex(t, ts.wsURL())

	var calls atomic.Int32
	d.OnMessage(func(data []byte) {
		if calls.Add(1) == 1 {
			panic("handler failure")
		}
	})
	d.Open()
	d.StartDispatch()

	waitFor(t, "redelivery on new connection", func() bool { return calls.Load() >= 2 })
	if d.Generation() < 2 {
		t.Errorf("Generation = %d, want reconnect after panic", d.Generation())
	}
}

func TestDuplex_ClosedChannel(t *testing.T) {
	ts := newTestServer(t, nil)
	d := newTestDuplex(t, ts.wsURL())
	d.Open()

	if err := d.Close(); err != nil {
		t.Logf("Close: %v", err)
	}
	if d.State() != StateClosed {
		t.Errorf("State = %v, want closed", d.State())
	}
	if d.Send([]byte("x"), false) {
		t.Error("Send on closed channel should fail")
	}
	if d.Open() {
		t.Error("Open on closed channel should fail")
	}
}

func TestState_String(t *testing.T) {
	if StateReconnecting.String() != "reconnecting" {
		t.Errorf("got %q", StateReconnecting.String())
	}
	if State(42).String() != "state(42)" {
		t.Errorf("got %q", State(42).String())
	}
}
