package direwolf

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/graywave-core/internal/process"
	"github.com/nerrad567/graywave-core/internal/settings"
)

// fakeProcess stands in for the direwolf binary.
type fakeProcess struct {
	mu     sync.Mutex
	cfg    process.Config
	starts int
	stops  int
}

func (p *fakeProcess) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	return nil
}

func (p *fakeProcess) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *fakeProcess) Stats() process.Stats {
	return process.Stats{Name: "direwolf", Status: process.StatusRunning}
}

func (p *fakeProcess) counts() (starts, stops int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts, p.stops
}

// pipeDialer fails the first fails dials, then hands out in-memory
// connections whose far ends are delivered on servers.
type pipeDialer struct {
	mu      sync.Mutex
	fails   int
	calls   int
	servers chan net.Conn
}

func newPipeDialer(fails int) *pipeDialer {
	return &pipeDialer{fails: fails, servers: make(chan net.Conn, 8)}
}

func (d *pipeDialer) dial(_ context.Context, _, address string) (net.Conn, error) {
	d.mu.Lock()
	d.calls++
	fail := d.calls <= d.fails
	d.mu.Unlock()

	if fail {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	}
	if !strings.HasPrefix(address, "localhost:") {
		return nil, errors.New("unexpected address " + address)
	}
	client, server := net.Pipe()
	d.servers <- server
	return client, nil
}

func (d *pipeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// syncBuffer is a goroutine-safe writer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func nextServer(t *testing.T, d *pipeDialer) net.Conn {
	t.Helper()
	select {
	case conn := <-d.servers:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a connection")
		return nil
	}
}

func newTestManager(t *testing.T, d *pipeDialer) (*Manager, *fakeProcess, *settings.Store) {
	t.Helper()

	store := settings.NewStore(nil)
	if err := store.Set(context.Background(), KeyCallsign, "N0CALL"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	m := NewManager(Config{
		TempDir:      t.TempDir(),
		ConnectDelay: time.Millisecond,
	}, store)

	proc := &fakeProcess{}
	m.newProcess = func(cfg process.Config) processRunner {
		proc.cfg = cfg
		return proc
	}
	m.dial = d.dial

	t.Cleanup(func() { m.Stop() }) //nolint:errcheck // Test cleanup
	return m, proc, store
}

func TestNewManagerDefaults(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(Config{TempDir: dir}, settings.NewStore(nil))

	if m.config.Binary != "direwolf" {
		t.Errorf("Binary = %q, want direwolf", m.config.Binary)
	}
	if m.config.ConnectAttempts != DefaultConnectAttempts {
		t.Errorf("ConnectAttempts = %d, want %d", m.config.ConnectAttempts, DefaultConnectAttempts)
	}
	if m.config.ConnectDelay != DefaultConnectDelay {
		t.Errorf("ConnectDelay = %v, want %v", m.config.ConnectDelay, DefaultConnectDelay)
	}
	if m.State() != StateCreated {
		t.Errorf("State() = %s, want created", m.State())
	}

	if !strings.HasPrefix(m.ConfigPath(), dir+"/direwolf_") || !strings.HasSuffix(m.ConfigPath(), ".conf") {
		t.Errorf("ConfigPath() = %q", m.ConfigPath())
	}
	other := NewManager(Config{TempDir: dir}, settings.NewStore(nil))
	if other.ConfigPath() == m.ConfigPath() {
		t.Error("two instances share a config path")
	}
}

func TestArgs(t *testing.T) {
	m := NewManager(Config{TempDir: "/tmp"}, settings.NewStore(nil))

	want := []string{"-c", m.ConfigPath(), "-r", "48000", "-t", "0", "-q", "d", "-q", "h"}
	got := m.Args()
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("Args() = %v, want %v", got, want)
	}
}

func TestStartStreamsToWriter(t *testing.T) {
	d := newPipeDialer(0)
	m, proc, _ := newTestManager(t, d)

	out := &syncBuffer{}
	m.SetWriter(out)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if m.State() != StateRunning {
		t.Errorf("State() = %s, want running", m.State())
	}

	data, err := os.ReadFile(m.ConfigPath())
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}
	if !strings.Contains(string(data), "MYCALL N0CALL\n") {
		t.Errorf("config missing callsign:\n%s", data)
	}
	if !strings.Contains(string(data), "KISSPORT "+strconv.Itoa(m.Port())+"\n") {
		t.Errorf("config missing KISS port %d:\n%s", m.Port(), data)
	}

	if proc.cfg.Name != "direwolf" || proc.cfg.Binary != "direwolf" {
		t.Errorf("process config = %+v", proc.cfg)
	}

	server := nextServer(t, d)
	if _, err := server.Write([]byte("\xc0\x00frame\xc0")); err != nil {
		t.Fatalf("server write: %v", err)
	}
	waitFor(t, "frame at writer", func() bool { return strings.Contains(out.String(), "frame") })

	stats := m.Stats()
	if stats.Port != m.Port() || !stats.Connected || stats.ConnectAttempts != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestWriterSetAfterConnect(t *testing.T) {
	d := newPipeDialer(0)
	m, _, _ := newTestManager(t, d)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	server := nextServer(t, d)

	// Data arriving before a writer exists is held for it.
	written := make(chan error, 1)
	go func() {
		_, err := server.Write([]byte("early"))
		written <- err
	}()

	out := &syncBuffer{}
	m.SetWriter(out)

	if err := <-written; err != nil {
		t.Fatalf("server write: %v", err)
	}
	waitFor(t, "early data at writer", func() bool { return out.String() == "early" })
}

func TestConnectSucceedsOnLastAttempt(t *testing.T) {
	d := newPipeDialer(20)
	m, _, _ := newTestManager(t, d)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v, want success on attempt 21", err)
	}
	if d.Calls() != 21 {
		t.Errorf("dial calls = %d, want 21", d.Calls())
	}
	if m.Stats().ConnectAttempts != 21 {
		t.Errorf("ConnectAttempts = %d, want 21", m.Stats().ConnectAttempts)
	}
}

func TestConnectRetriesExhausted(t *testing.T) {
	d := newPipeDialer(21)
	m, proc, _ := newTestManager(t, d)

	err := m.Start(context.Background())
	if !errors.Is(err, ErrConnectRetriesExhausted) {
		t.Fatalf("Start() error = %v, want ErrConnectRetriesExhausted", err)
	}
	if d.Calls() != 21 {
		t.Errorf("dial calls = %d, want 21", d.Calls())
	}
	if m.State() != StateFailed {
		t.Errorf("State() = %s, want failed", m.State())
	}
	if !errors.Is(m.LastError(), ErrConnectRetriesExhausted) {
		t.Errorf("LastError() = %v", m.LastError())
	}
	if _, stops := proc.counts(); stops != 1 {
		t.Errorf("process stops = %d, want 1 after failed connect", stops)
	}
}

func TestStopAfterFailureCleansUp(t *testing.T) {
	d := newPipeDialer(100)
	m, _, store := newTestManager(t, d)

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail")
	}
	if _, err := os.Stat(m.ConfigPath()); err != nil {
		t.Fatalf("config file missing before Stop: %v", err)
	}
	if store.SubscriptionCount() != 1 {
		t.Fatalf("store subscriptions = %d, want 1 while started", store.SubscriptionCount())
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if _, err := os.Stat(m.ConfigPath()); !os.IsNotExist(err) {
		t.Errorf("config file still present after Stop: %v", err)
	}
	if store.SubscriptionCount() != 0 {
		t.Errorf("store subscriptions = %d after Stop, want 0", store.SubscriptionCount())
	}
	if m.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", m.State())
	}
	if err := m.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestConfigChangeRestartsAndKeepsWriter(t *testing.T) {
	d := newPipeDialer(0)
	m, proc, store := newTestManager(t, d)

	out := &syncBuffer{}
	m.SetWriter(out)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	first := nextServer(t, d)
	port := m.Port()

	if err := store.Set(context.Background(), KeyCallsign, "G0ABC"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	second := nextServer(t, d)
	waitFor(t, "running after restart", func() bool { return m.State() == StateRunning })

	if starts, stops := proc.counts(); starts != 2 || stops != 1 {
		t.Errorf("process starts/stops = %d/%d, want 2/1", starts, stops)
	}
	if m.Port() != port {
		t.Errorf("port changed across restart: %d -> %d", port, m.Port())
	}

	data, err := os.ReadFile(m.ConfigPath())
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}
	if !strings.Contains(string(data), "MYCALL G0ABC\n") {
		t.Errorf("config not re-rendered:\n%s", data)
	}

	if _, err := first.Write([]byte("x")); err == nil {
		t.Error("old connection still open after restart")
	}
	if _, err := second.Write([]byte("after")); err != nil {
		t.Fatalf("server write: %v", err)
	}
	waitFor(t, "data from new connection", func() bool { return out.String() == "after" })
}

func TestUnrelatedSettingDoesNotRestart(t *testing.T) {
	d := newPipeDialer(0)
	m, proc, store := newTestManager(t, d)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := store.Set(context.Background(), "receiver_name", "attic"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// Give a wrongly queued restart time to happen.
	time.Sleep(50 * time.Millisecond)
	if starts, _ := proc.counts(); starts != 1 {
		t.Errorf("process starts = %d, want 1", starts)
	}
}

func TestExplicitRestart(t *testing.T) {
	d := newPipeDialer(0)
	m, proc, _ := newTestManager(t, d)

	if err := m.Restart(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Restart() before Start error = %v, want ErrNotRunning", err)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}

	if err := m.Restart(context.Background()); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if starts, _ := proc.counts(); starts != 2 {
		t.Errorf("process starts = %d, want 2", starts)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := m.Restart(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Restart() after Stop error = %v, want ErrStopped", err)
	}
}

func TestStopBeforeStart(t *testing.T) {
	m := NewManager(Config{TempDir: t.TempDir()}, settings.NewStore(nil))

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if m.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", m.State())
	}
	if err := m.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start() after Stop error = %v, want ErrStopped", err)
	}
}

func TestStopInterruptsConnect(t *testing.T) {
	d := newPipeDialer(1000)
	store := settings.NewStore(nil)
	m := NewManager(Config{
		TempDir:         t.TempDir(),
		ConnectAttempts: 1000,
		ConnectDelay:    10 * time.Millisecond,
	}, store)
	m.newProcess = func(process.Config) processRunner { return &fakeProcess{} }
	m.dial = d.dial

	errCh := make(chan error, 1)
	go func() { errCh <- m.Start(context.Background()) }()

	waitFor(t, "connect attempts", func() bool { return d.Calls() > 2 })
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("Start() succeeded after Stop")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after Stop")
	}
}

func TestLifecycleEvents(t *testing.T) {
	d := newPipeDialer(2)

	var mu sync.Mutex
	var events []string
	m := NewManager(Config{
		TempDir:         t.TempDir(),
		ConnectAttempts: 3,
		ConnectDelay:    time.Millisecond,
		OnEvent: func(event string, attempts int) {
			mu.Lock()
			events = append(events, event+"/"+strconv.Itoa(attempts))
			mu.Unlock()
		},
	}, settings.NewStore(nil))
	m.newProcess = func(process.Config) processRunner { return &fakeProcess{} }
	m.dial = d.dial
	t.Cleanup(func() { m.Stop() }) //nolint:errcheck // Test cleanup

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Restart(context.Background()); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}

	mu.Lock()
	got := strings.Join(events, ",")
	mu.Unlock()
	if got != "started/3,restarted/1" {
		t.Errorf("events = %s, want started/3,restarted/1", got)
	}
}

func TestConnectionLost(t *testing.T) {
	d := newPipeDialer(0)

	var mu sync.Mutex
	var events []string
	m, proc, _ := newTestManager(t, d)
	m.config.OnEvent = func(event string, _ int) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	server := nextServer(t, d)
	server.Close() //nolint:errcheck // direwolf going away

	waitFor(t, "connection_lost event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	})

	if m.State() != StateFailed {
		t.Errorf("State() = %s, want %s", m.State(), StateFailed)
	}
	if !errors.Is(m.LastError(), ErrConnectionLost) {
		t.Errorf("LastError() = %v, want %v", m.LastError(), ErrConnectionLost)
	}
	stats := m.Stats()
	if stats.Connected {
		t.Error("Stats().Connected = true after the connection dropped")
	}
	if stats.LastError == "" {
		t.Error("Stats().LastError is empty")
	}
	if _, stops := proc.counts(); stops != 1 {
		t.Errorf("process stops = %d, want 1", stops)
	}

	mu.Lock()
	got := strings.Join(events, ",")
	mu.Unlock()
	if got != "started,connection_lost" {
		t.Errorf("events = %s, want started,connection_lost", got)
	}
}

func TestRestartAfterConnectionLost(t *testing.T) {
	d := newPipeDialer(0)
	m, _, _ := newTestManager(t, d)

	out := &syncBuffer{}
	m.SetWriter(out)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	nextServer(t, d).Close() //nolint:errcheck // direwolf going away
	waitFor(t, "failed state", func() bool { return m.State() == StateFailed })

	if err := m.Restart(context.Background()); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if m.State() != StateRunning {
		t.Fatalf("State() = %s, want %s", m.State(), StateRunning)
	}
	if m.LastError() != nil {
		t.Errorf("LastError() = %v, want nil", m.LastError())
	}

	server := nextServer(t, d)
	go server.Write([]byte("back")) //nolint:errcheck // checked through the writer
	waitFor(t, "data after restart", func() bool { return out.String() == "back" })
}
