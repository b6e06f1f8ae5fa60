package process

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// lineSink collects the lines written by captureOutput.
type lineSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *lineSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func (s *lineSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{
		Name:   "test-proc",
		Binary: "/usr/bin/test",
		Args:   []string{"--flag"},
	})

	if m.config.RestartDelay != 5*time.Second {
		t.Errorf("RestartDelay = %v, want %v", m.config.RestartDelay, 5*time.Second)
	}
	if m.config.MaxRestartDelay != 5*time.Minute {
		t.Errorf("MaxRestartDelay = %v, want %v", m.config.MaxRestartDelay, 5*time.Minute)
	}
	if m.config.StableThreshold != 2*time.Minute {
		t.Errorf("StableThreshold = %v, want %v", m.config.StableThreshold, 2*time.Minute)
	}
	if m.config.GracefulTimeout != 10*time.Second {
		t.Errorf("GracefulTimeout = %v, want %v", m.config.GracefulTimeout, 10*time.Second)
	}
}

func TestDefaultConfig_Function(t *testing.T) {
	cfg := DefaultConfig("dumphfdl", "/usr/bin/dumphfdl", []string{"--iq-file", "-"})

	if cfg.Name != "dumphfdl" || cfg.Binary != "/usr/bin/dumphfdl" {
		t.Errorf("Name/Binary = %q/%q", cfg.Name, cfg.Binary)
	}
	if len(cfg.Args) != 2 {
		t.Errorf("Args = %v, want 2 entries", cfg.Args)
	}
	if !cfg.RestartOnFailure {
		t.Error("RestartOnFailure = false, want true")
	}
	if cfg.MaxRestartAttempts != 10 {
		t.Errorf("MaxRestartAttempts = %d, want 10", cfg.MaxRestartAttempts)
	}
}

func TestManager_InitialState(t *testing.T) {
	m := NewManager(Config{Name: "test", Binary: "/bin/true"})

	if m.Status() != StatusStopped {
		t.Errorf("initial Status() = %q, want %q", m.Status(), StatusStopped)
	}
	if m.IsRunning() {
		t.Error("IsRunning() = true, want false")
	}
	if m.PID() != 0 {
		t.Errorf("PID() = %d, want 0", m.PID())
	}

	stats := m.Stats()
	if stats.Name != "test" || stats.Status != StatusStopped || stats.RestartCount != 0 || stats.LastError != "" {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestManager_StopWhenNotRunning(t *testing.T) {
	m := NewManager(Config{Name: "test", Binary: "/bin/true"})

	if err := m.Stop(); err != nil {
		t.Errorf("Stop() on stopped process error = %v, want nil", err)
	}
}

func TestManager_StartAlreadyRunning(t *testing.T) {
	m := NewManager(Config{Name: "test", Binary: "/bin/sleep", Args: []string{"10"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("first Start() error: %v", err)
	}
	defer m.Stop() //nolint:errcheck // Test cleanup

	if err := m.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestManager_StartAndStop(t *testing.T) {
	m := NewManager(Config{
		Name:            "test-sleep",
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !m.IsRunning() || m.PID() == 0 {
		t.Errorf("after Start(): IsRunning() = %v, PID() = %d", m.IsRunning(), m.PID())
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() after Stop() = %q, want %q", m.Status(), StatusStopped)
	}
}

func TestManager_Restart(t *testing.T) {
	starts := 0
	m := NewManager(Config{
		Name:            "restart-test",
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
		OnStart:         func() { starts++ },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer m.Stop() //nolint:errcheck // Test cleanup
	firstPID := m.PID()

	if err := m.Restart(ctx); err != nil {
		t.Fatalf("Restart() error: %v", err)
	}
	if !m.IsRunning() {
		t.Error("IsRunning() = false after Restart()")
	}
	if m.PID() == firstPID {
		t.Errorf("PID unchanged after Restart(): %d", firstPID)
	}
	if starts != 2 {
		t.Errorf("OnStart called %d times, want 2", starts)
	}
}

func TestManager_RestartPropagatesStartError(t *testing.T) {
	m := NewManager(Config{Name: "bad", Binary: "/nonexistent/binary"})

	if err := m.Restart(context.Background()); err == nil {
		t.Fatal("Restart() with invalid binary expected error, got nil")
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
}

func TestManager_StartWithInvalidBinary(t *testing.T) {
	m := NewManager(Config{Name: "bad-binary", Binary: "/nonexistent/binary"})

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start() with invalid binary expected error, got nil")
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() after failed start = %v", err)
	}
}

func TestManager_OutputLines(t *testing.T) {
	stdout := &lineSink{}
	stderr := &lineSink{}
	m := NewManager(Config{
		Name:   "echo",
		Binary: "/bin/sh",
		Args:   []string{"-c", "echo one; echo two; echo oops >&2"},
		Stdout: stdout,
		Stderr: stderr,
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if !waitFor(t, 5*time.Second, func() bool { return len(stdout.Lines()) == 2 && len(stderr.Lines()) == 1 }) {
		t.Fatalf("stdout = %v, stderr = %v", stdout.Lines(), stderr.Lines())
	}
	if got := stdout.Lines(); got[0] != "one" || got[1] != "two" {
		t.Errorf("stdout lines = %v, want [one two]", got)
	}
	if got := stderr.Lines(); got[0] != "oops" {
		t.Errorf("stderr lines = %v, want [oops]", got)
	}
}

func TestManager_StdinPump(t *testing.T) {
	stdout := &lineSink{}
	m := NewManager(Config{
		Name:             "cat",
		Binary:           "/bin/cat",
		Stdin:            strings.NewReader("alpha\nbeta\n"),
		Stdout:           stdout,
		RestartOnFailure: true,
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// cat exits once its input is closed; exhausted input is not restarted.
	if !waitFor(t, 5*time.Second, func() bool { return m.Status() == StatusStopped }) {
		t.Fatalf("Status() = %q, want %q", m.Status(), StatusStopped)
	}
	if got := stdout.Lines(); len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Errorf("stdout lines = %v, want [alpha beta]", got)
	}
	if m.RestartCount() != 0 {
		t.Errorf("RestartCount() = %d, want 0", m.RestartCount())
	}
}

func TestManager_RestartOnFailure(t *testing.T) {
	var mu sync.Mutex
	var attempts []int
	m := NewManager(Config{
		Name:               "crasher",
		Binary:             "/bin/sh",
		Args:               []string{"-c", "exit 3"},
		RestartOnFailure:   true,
		RestartDelay:       time.Millisecond,
		MaxRestartDelay:    5 * time.Millisecond,
		MaxRestartAttempts: 3,
		OnRestart: func(attempt int) {
			mu.Lock()
			attempts = append(attempts, attempt)
			mu.Unlock()
		},
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	done := waitFor(t, 5*time.Second, func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return !m.active
	})
	if !done {
		t.Fatal("monitor did not give up after max restart attempts")
	}

	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
	if m.RestartCount() != 3 {
		t.Errorf("RestartCount() = %d, want 3", m.RestartCount())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 3 {
		t.Errorf("OnRestart attempts = %v, want [1 2 3]", attempts)
	}
	if m.LastError() == nil {
		t.Error("LastError() = nil after crashes")
	}
}

func TestManager_StopDuringBackoff(t *testing.T) {
	m := NewManager(Config{
		Name:             "crasher",
		Binary:           "/bin/sh",
		Args:             []string{"-c", "exit 1"},
		RestartOnFailure: true,
		RestartDelay:     time.Hour,
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !waitFor(t, 5*time.Second, func() bool { return m.Status() == StatusFailed }) {
		t.Fatalf("Status() = %q, want %q", m.Status(), StatusFailed)
	}

	stopped := make(chan error, 1)
	go func() { stopped <- m.Stop() }()

	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() blocked during restart backoff")
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusStopped)
	}
}

func TestCalculateBackoffDelay(t *testing.T) {
	m := NewManager(Config{
		Name:            "test",
		Binary:          "/bin/true",
		RestartDelay:    1 * time.Second,
		MaxRestartDelay: 30 * time.Second,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{7, 30 * time.Second},
		{100, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := m.calculateBackoffDelay(tt.attempt); got != tt.want {
			t.Errorf("calculateBackoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestManager_Done(t *testing.T) {
	m := NewManager(Config{
		Name:   "true",
		Binary: "/bin/sh",
		Args:   []string{"-c", "exit 0"},
		Stdin:  strings.NewReader(""),
	})

	if m.Done() != nil {
		t.Fatal("Done() before Start should be nil")
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done() not closed after input ran out")
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusStopped)
	}
}

func TestManager_OverlongLineKeepsDraining(t *testing.T) {
	stdout := &lineSink{}
	m := NewManager(Config{
		Name:   "overlong",
		Binary: "/bin/sh",
		Args: []string{"-c",
			"head -c 3145728 /dev/zero | tr '\\000' x; echo; echo short; echo done"},
		Stdout: stdout,
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	select {
	case <-m.Done():
	case <-time.After(10 * time.Second):
		m.Stop() //nolint:errcheck // Test cleanup
		t.Fatal("child still running: stdout not drained after overlong line")
	}

	if !waitFor(t, 2*time.Second, func() bool { return len(stdout.Lines()) == 2 }) {
		t.Fatalf("lines = %d, want 2", len(stdout.Lines()))
	}
	got := stdout.Lines()
	if got[0] != "short" || got[1] != "done" {
		t.Errorf("lines = %q, want [short done]", got)
	}
}

func TestManager_LongLineWithinLimit(t *testing.T) {
	stdout := &lineSink{}
	m := NewManager(Config{
		Name:   "long",
		Binary: "/bin/sh",
		Args:   []string{"-c", "head -c 200000 /dev/zero | tr '\\000' y; echo"},
		Stdout: stdout,
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !waitFor(t, 5*time.Second, func() bool { return len(stdout.Lines()) == 1 }) {
		m.Stop() //nolint:errcheck // Test cleanup
		t.Fatalf("lines = %d, want 1", len(stdout.Lines()))
	}
	if got := stdout.Lines()[0]; len(got) != 200000 || strings.Trim(got, "y") != "" {
		t.Errorf("line length = %d, want 200000 bytes of y", len(got))
	}
}
