package realtime

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
)

var errRefused = errors.New("connection refused")

type fakeConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out connections according to next; a nil next always
// refuses.
type fakeDialer struct {
	mu    sync.Mutex
	dials int
	next  func(n int) (Conn, error)
	block bool
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	next := d.next
	block := d.block
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if next == nil {
		return nil, errRefused
	}
	return next(n)
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) set(next func(n int) (Conn, error)) {
	d.mu.Lock()
	d.next = next
	d.mu.Unlock()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestClient(d Dialer, max int, delay time.Duration) *Client {
	return New(Options{
		URL:                  "ws://test/sensors",
		ReconnectDelay:       delay,
		MaxReconnectAttempts: max,
		Dialer:               d,
		Logger:               zerolog.Nop(),
	})
}

func TestClient_DeliversEventsInOrder(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}

	var mu sync.Mutex
	var got []string
	c := newTestClient(d, 5, time.Millisecond)
	c.opts.OnEvent = func(ev domain.UpdateEvent) {
		mu.Lock()
		got = append(got, ev.SensorID)
		mu.Unlock()
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	conn.frames <- []byte(`{"type":"sensor_update","sensorId":"s1","data":{"temperature":21}}`)
	conn.frames <- []byte(`not json`)
	conn.frames <- []byte(`{"type":"sensor_update","sensorId":"s2","data":{"humidity":55}}`)
	conn.frames <- []byte(`{"type":"sensor_update","sensorId":"s3","data":{"temperature":19}}`)

	waitFor(t, "three events", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	if got[0] != "s1" || got[1] != "s2" || got[2] != "s3" {
		t.Errorf("events out of order: %v", got)
	}
	if !c.Connected() {
		t.Error("undecodable frame should not close the connection")
	}
	if c.LastError() != nil {
		t.Errorf("LastError = %v, want nil after decode failure", c.LastError())
	}
	last, ok := c.LastEvent()
	if !ok || last.SensorID != "s3" {
		t.Errorf("LastEvent = %+v, %v", last, ok)
	}
	if d.count() != 1 {
		t.Errorf("dials = %d, want 1", d.count())
	}
}

func TestClient_RetryBudgetExhausted(t *testing.T) {
	d := &fakeDialer{}
	var mu sync.Mutex
	var states []State
	c := newTestClient(d, 5, time.Millisecond)
	c.opts.OnStateChange = func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	if err := c.Connect(context.Background()); !errors.Is(err, errRefused) {
		t.Fatalf("Connect err = %v, want %v", err, errRefused)
	}

	waitFor(t, "failed state", func() bool { return c.State() == StateFailed })

	// Settle: nothing else may be scheduled once the client gave up.
	time.Sleep(20 * time.Millisecond)
	if n := d.count(); n != 6 {
		t.Errorf("dials = %d, want 1 initial + 5 retries", n)
	}
	if c.Attempts() != 5 {
		t.Errorf("Attempts = %d, want 5", c.Attempts())
	}
	if !errors.Is(c.LastError(), ErrMaxAttempts) {
		t.Errorf("LastError = %v, want %v", c.LastError(), ErrMaxAttempts)
	}
	if c.LastError().Error() != "maximum reconnect attempts reached" {
		t.Errorf("unexpected message %q", c.LastError().Error())
	}

	mu.Lock()
	defer mu.Unlock()
	if states[0] != StateConnecting || states[len(states)-1] != StateFailed {
		t.Errorf("state sequence = %v", states)
	}

	// A manual Connect from Failed restarts the budget.
	conn := newFakeConn()
	d.set(func(int) (Conn, error) { return conn, nil })
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("manual Connect failed: %v", err)
	}
	if c.State() != StateConnected || c.Attempts() != 0 || c.LastError() != nil {
		t.Errorf("after manual connect: state=%v attempts=%d err=%v", c.State(), c.Attempts(), c.LastError())
	}
	c.Disconnect()
}

func TestClient_ZeroBudgetFailsImmediately(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(d, 0, time.Millisecond)

	_ = c.Connect(context.Background())

	if c.State() != StateFailed {
		t.Fatalf("state = %v, want failed", c.State())
	}
	time.Sleep(10 * time.Millisecond)
	if d.count() != 1 {
		t.Errorf("dials = %d, want 1", d.count())
	}
}

func TestClient_AttemptsResetOnSuccess(t *testing.T) {
	conns := []*fakeConn{newFakeConn(), newFakeConn()}
	d := &fakeDialer{}
	d.set(func(n int) (Conn, error) {
		switch n {
		case 1, 2:
			return nil, errRefused
		case 3:
			return conns[0], nil
		default:
			return conns[1], nil
		}
	})
	c := newTestClient(d, 3, time.Millisecond)
	defer c.Disconnect()

	_ = c.Connect(context.Background())
	waitFor(t, "connect after two failures", c.Connected)
	if c.Attempts() != 0 {
		t.Errorf("Attempts = %d after success, want 0", c.Attempts())
	}

	// Remote close: the client reconnects on its own with a fresh budget.
	close(conns[0].frames)
	waitFor(t, "reconnect after remote close", func() bool { return d.count() == 4 && c.Connected() })
	if !conns[0].isClosed() {
		t.Error("dead connection was not closed")
	}
	if c.Attempts() != 0 {
		t.Errorf("Attempts = %d after reconnect, want 0", c.Attempts())
	}
}

func TestClient_DisconnectCancelsPendingReconnect(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(d, 5, time.Hour)

	_ = c.Connect(context.Background())
	if c.Attempts() != 1 {
		t.Fatalf("Attempts = %d, want a pending reconnect", c.Attempts())
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Disconnect()
		}()
	}
	wg.Wait()

	if c.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", c.State())
	}
	c.mu.Lock()
	pending := c.timer != nil
	c.mu.Unlock()
	if pending {
		t.Error("reconnect timer still pending after Disconnect")
	}
	if d.count() != 1 {
		t.Errorf("dials = %d, want 1", d.count())
	}
}

func TestClient_DisconnectAbortsDial(t *testing.T) {
	d := &fakeDialer{block: true}
	c := newTestClient(d, 5, time.Millisecond)

	errc := make(chan error, 1)
	go func() { errc <- c.Connect(context.Background()) }()
	waitFor(t, "dial in flight", func() bool { return d.count() == 1 })

	c.Disconnect()

	select {
	case err := <-errc:
		if err == nil {
			t.Error("Connect returned nil after its dial was aborted")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after Disconnect")
	}
	time.Sleep(10 * time.Millisecond)
	if c.State() != StateDisconnected || d.count() != 1 {
		t.Errorf("state=%v dials=%d, want disconnected with no retry", c.State(), d.count())
	}
}

func TestClient_DisconnectClosesLiveConnection(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	c := newTestClient(d, 5, time.Millisecond)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.Disconnect()
	c.Disconnect()

	if !conn.isClosed() {
		t.Error("connection left open")
	}
	time.Sleep(20 * time.Millisecond)
	if d.count() != 1 {
		t.Errorf("dials = %d, a planned close must not reconnect", d.count())
	}
}

func TestClient_Send(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	c := newTestClient(d, 5, time.Millisecond)

	if err := c.Send(map[string]string{"type": "hello"}); err != nil {
		t.Errorf("Send while disconnected = %v, want nil", err)
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()
	if err := c.Send(map[string]string{"type": "hello"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.written) != 1 || string(conn.written[0]) != `{"type":"hello"}` {
		t.Errorf("written = %q", conn.written)
	}
}

func TestClient_ConnectWhileConnectedIsNoop(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	c := newTestClient(d, 5, time.Millisecond)
	defer c.Disconnect()

	for i := 0; i < 3; i++ {
		if err := c.Connect(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if d.count() != 1 {
		t.Errorf("dials = %d, want 1", d.count())
	}
}

func TestState_String(t *testing.T) {
	if StateFailed.String() != "failed" || State(42).String() != "unknown" {
		t.Error("unexpected state names")
	}
}
