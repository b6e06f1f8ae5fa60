package process

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
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

const (
	// maxOutputLine bounds a single line of captured stdout/stderr.
	maxOutputLine = 1 << 20

	// outputReadSize is the read buffer of the output capture.
	outputReadSize = 64 * 1024

	// stdinChunkSize is the read size when pumping Stdin into the child.
	stdinChunkSize = 32 * 1024
)

// ErrAlreadyRunning is returned by Start while a process is supervised.
var ErrAlreadyRunning = errors.New("process: already running")

// Config holds configuration for a managed subprocess.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// WorkDir is the working directory for the process.
	WorkDir string

	// Stdin, if set, is pumped into the child's standard input. A single
	// pump outlives restarts, so the stream continues into the next child.
	// When Stdin is exhausted the child's input is closed and the process
	// is not restarted after it exits.
	Stdin io.Reader

	// Stdout and Stderr receive the child's output one complete line per
	// Write call, newline included. When nil, lines are logged at debug.
	Stdout io.Writer
	Stderr io.Writer

	// RestartOnFailure enables automatic restart when the process exits unexpectedly.
	RestartOnFailure bool

	// RestartDelay is the base delay before restarting after a failure.
	// It doubles with every consecutive failure up to MaxRestartDelay.
	RestartDelay time.Duration

	// MaxRestartDelay caps the exponential restart backoff.
	MaxRestartDelay time.Duration

	// StableThreshold is how long a process must run before its
	// consecutive failure count is reset.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restart attempts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long to wait for graceful shutdown before SIGKILL.
	GracefulTimeout time.Duration

	// OnStart is called every time the process starts successfully.
	OnStart func()

	// OnStop is called when the process stops (either normally or due to failure).
	OnStop func(err error)

	// OnRestart is called before each automatic restart attempt.
	OnRestart func(attempt int)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:               name,
		Binary:             binary,
		Args:               args,
		RestartOnFailure:   true,
		RestartDelay:       5 * time.Second,
		MaxRestartDelay:    5 * time.Minute,
		StableThreshold:    2 * time.Minute,
		MaxRestartAttempts: 10,
		GracefulTimeout:    10 * time.Second,
	}
}

// Logger defines the logging interface for the process manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager manages the lifecycle of a subprocess.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	output        sync.WaitGroup
	status        Status
	restartCount  int
	failures      int
	lastError     error
	startTime     time.Time
	active        bool
	stopRequested bool
	inputDone     bool

	stopCh    chan struct{}
	done      chan struct{}
	stdinOnce sync.Once
}

// NewManager creates a new process manager with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.MaxRestartDelay == 0 {
		cfg.MaxRestartDelay = 5 * time.Minute
	}
	if cfg.StableThreshold == 0 {
		cfg.StableThreshold = 2 * time.Minute
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the subprocess and begins monitoring it.
// The process will be automatically restarted on failure if configured.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.failures = 0
	m.mu.Unlock()

	if err := m.startProcess(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.active = true
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	stopCh, done := m.stopCh, m.done
	m.mu.Unlock()

	go m.monitor(ctx, stopCh, done)

	if m.config.Stdin != nil {
		m.stdinOnce.Do(func() { go m.pumpStdin() })
	}

	return nil
}

// Restart stops the running process (if any) and starts it again.
// Errors from the new start are returned to the caller.
func (m *Manager) Restart(ctx context.Context) error {
	if err := m.Stop(); err != nil {
		return fmt.Errorf("stopping %s for restart: %w", m.config.Name, err)
	}
	m.logger.Info("restarting process", "name", m.config.Name)
	return m.Start(ctx)
}

func (m *Manager) startProcess(ctx context.Context) error {
	m.logger.Info("starting process",
		"name", m.config.Name,
		"binary", m.config.Binary,
		"args", m.config.Args,
	)

	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // Binary comes from validated config

	// New process group so shutdown signals reach the decoder's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}
	if m.config.WorkDir != "" {
		cmd.Dir = m.config.WorkDir
	}

	var stdin io.WriteCloser
	if m.config.Stdin != nil {
		var err error
		if stdin, err = cmd.StdinPipe(); err != nil {
			return fmt.Errorf("creating stdin pipe: %w", err)
		}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.stdin = stdin
	m.status = StatusRunning
	m.startTime = time.Now()
	if m.inputDone && stdin != nil {
		stdin.Close() //nolint:errcheck // input already exhausted
	}
	m.mu.Unlock()

	m.output.Add(2)
	go m.captureOutput("stdout", stdout, m.config.Stdout)
	go m.captureOutput("stderr", stderr, m.config.Stderr)

	m.logger.Info("process started",
		"name", m.config.Name,
		"pid", cmd.Process.Pid,
	)

	if m.config.OnStart != nil {
		m.config.OnStart()
	}

	return nil
}

// captureOutput splits the stream into lines and forwards each one.
// Lines longer than maxOutputLine are dropped whole and the pipe keeps
// draining, so the child never blocks on a full stdout.
func (m *Manager) captureOutput(stream string, r io.Reader, w io.Writer) {
	defer m.output.Done()

	reader := bufio.NewReaderSize(r, outputReadSize)
	var line []byte
	overlong := false
	for {
		chunk, isPrefix, err := reader.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				m.logger.Debug("output stream closed",
					"name", m.config.Name,
					"stream", stream,
					"error", err,
				)
			}
			return
		}

		if !overlong {
			if len(line)+len(chunk) > maxOutputLine {
				overlong = true
				line = line[:0]
				m.logger.Warn("dropping overlong output line",
					"name", m.config.Name,
					"stream", stream,
					"limit", maxOutputLine,
				)
			} else {
				line = append(line, chunk...)
			}
		}
		if isPrefix {
			continue
		}

		if overlong {
			overlong = false
			continue
		}
		m.forwardLine(stream, line, w)
		line = line[:0]
	}
}

func (m *Manager) forwardLine(stream string, line []byte, w io.Writer) {
	if w == nil {
		m.logger.Debug("process output",
			"name", m.config.Name,
			"stream", stream,
			"line", string(line),
		)
		return
	}
	buf := make([]byte, len(line)+1)
	copy(buf, line)
	buf[len(line)] = '\n'
	if _, err := w.Write(buf); err != nil {
		m.logger.Warn("output sink rejected line",
			"name", m.config.Name,
			"stream", stream,
			"error", err,
		)
	}
}

// pumpStdin copies Stdin into whichever child is current. Chunks read
// while no child is running are dropped.
func (m *Manager) pumpStdin() {
	buf := make([]byte, stdinChunkSize)
	for {
		n, err := m.config.Stdin.Read(buf)
		if n > 0 {
			m.mu.RLock()
			w := m.stdin
			m.mu.RUnlock()
			if w != nil {
				if _, werr := w.Write(buf[:n]); werr != nil {
					m.logger.Debug("dropping input chunk", "name", m.config.Name, "error", werr)
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				m.logger.Warn("input stream failed", "name", m.config.Name, "error", err)
			}
			m.mu.Lock()
			m.inputDone = true
			if m.stdin != nil {
				m.stdin.Close() //nolint:errcheck // signals EOF to the child
			}
			m.mu.Unlock()
			return
		}
	}
}

// wait blocks until the child exits and its output has been drained.
func (m *Manager) wait(cmd *exec.Cmd) error {
	m.output.Wait()
	return cmd.Wait()
}

// calculateBackoffDelay returns RestartDelay doubled for every previous
// consecutive failure, capped at MaxRestartDelay.
func (m *Manager) calculateBackoffDelay(attempt int) time.Duration {
	delay := m.config.RestartDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.config.MaxRestartDelay {
			return m.config.MaxRestartDelay
		}
	}
	if delay > m.config.MaxRestartDelay {
		return m.config.MaxRestartDelay
	}
	return delay
}

// monitor watches the process and handles restarts.
func (m *Manager) monitor(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer func() {
		m.mu.Lock()
		m.active = false
		m.mu.Unlock()
		close(done)
	}()

	for {
		m.mu.RLock()
		cmd := m.cmd
		m.mu.RUnlock()

		err := m.wait(cmd)

		m.mu.Lock()
		stopRequested := m.stopRequested
		inputDone := m.inputDone
		m.stdin = nil
		if time.Since(m.startTime) >= m.config.StableThreshold {
			m.failures = 0
		}
		m.mu.Unlock()

		if stopRequested || inputDone {
			if inputDone && !stopRequested {
				m.logger.Info("input exhausted, process finished", "name", m.config.Name, "error", err)
			} else {
				m.logger.Info("process stopped as requested", "name", m.config.Name)
			}
			m.setStatus(StatusStopped)
			if m.config.OnStop != nil {
				m.config.OnStop(nil)
			}
			return
		}

		m.logger.Warn("process exited unexpectedly",
			"name", m.config.Name,
			"error", err,
		)

		m.mu.Lock()
		m.lastError = err
		m.status = StatusFailed
		m.mu.Unlock()

		if m.config.OnStop != nil {
			m.config.OnStop(err)
		}

		if !m.config.RestartOnFailure {
			m.logger.Info("restart disabled, not restarting", "name", m.config.Name)
			return
		}

		if !m.restartWithBackoff(ctx, stopCh) {
			return
		}
	}
}

// restartWithBackoff retries startProcess until it succeeds. It returns
// false when restarting was abandoned.
func (m *Manager) restartWithBackoff(ctx context.Context, stopCh <-chan struct{}) bool {
	for {
		m.mu.Lock()
		m.failures++
		attempt := m.failures
		if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
			m.mu.Unlock()
			m.logger.Error("max restart attempts reached",
				"name", m.config.Name,
				"attempts", attempt-1,
			)
			return false
		}
		m.restartCount++
		m.mu.Unlock()

		delay := m.calculateBackoffDelay(attempt)
		m.logger.Info("restarting process",
			"name", m.config.Name,
			"attempt", attempt,
			"delay", delay,
		)

		if m.config.OnRestart != nil {
			m.config.OnRestart(attempt)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.Info("context cancelled, not restarting", "name", m.config.Name)
			return false
		case <-stopCh:
			timer.Stop()
			m.setStatus(StatusStopped)
			return false
		case <-timer.C:
		}

		err := m.startProcess(ctx)
		if err == nil {
			// Stop may have raced the restart while the status was failed.
			m.mu.RLock()
			stop := m.stopRequested
			pid := m.cmd.Process.Pid
			m.mu.RUnlock()
			if stop {
				syscall.Kill(-pid, syscall.SIGKILL) //nolint:errcheck // best effort
			}
			return true
		}
		m.logger.Error("failed to restart process",
			"name", m.config.Name,
			"error", err,
		)
		m.mu.Lock()
		m.lastError = err
		m.mu.Unlock()
	}
}

// Stop gracefully stops the subprocess and its automatic restarts.
// It sends SIGTERM to the process group, then SIGKILL after GracefulTimeout.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.active || m.stopRequested {
		done := m.done
		active := m.active
		m.mu.Unlock()
		if active && done != nil {
			<-done
		}
		return nil
	}
	m.stopRequested = true
	close(m.stopCh)
	cmd := m.cmd
	done := m.done
	running := m.status == StatusRunning
	m.mu.Unlock()

	if !running || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping process", "name", m.config.Name, "pid", pid)

	// Negative PID signals the whole process group created via Setpgid.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("failed to send SIGTERM to process group", "name", m.config.Name, "error", err)
	}

	timer := time.NewTimer(m.config.GracefulTimeout)
	defer timer.Stop()

	select {
	case <-done:
		m.logger.Info("process stopped gracefully", "name", m.config.Name)
		return nil
	case <-timer.C:
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", m.config.Name,
			"timeout", m.config.GracefulTimeout,
		)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", m.config.Name, err)
	}

	<-done
	m.logger.Info("process killed", "name", m.config.Name)

	return nil
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// Status returns the current status of the managed process.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the process is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the last error that caused the process to exit.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// Done returns a channel that is closed once supervision ends: after Stop,
// when the input stream is exhausted, or when restarting is abandoned. It
// is nil before the first successful Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// RestartCount returns the number of automatic restarts so far.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// PID returns the process ID, or 0 if not running.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats returns statistics about the managed process.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
	}

	if m.status == StatusRunning {
		if m.cmd != nil && m.cmd.Process != nil {
			stats.PID = m.cmd.Process.Pid
		}
		stats.Uptime = time.Since(m.startTime)
	}

	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}

	return stats
}
