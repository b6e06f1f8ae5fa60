package direwolf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/graywave-core/internal/portalloc"
	"github.com/nerrad567/graywave-core/internal/process"
	"github.com/nerrad567/graywave-core/internal/settings"
)

// Defaults for the connection to the KISS port.
const (
	// DefaultConnectAttempts is how often the KISS port is dialled after start.
	DefaultConnectAttempts = 21

	// DefaultConnectDelay is the pause between two connection attempts.
	DefaultConnectDelay = 500 * time.Millisecond

	// dialTimeout bounds a single connection attempt.
	dialTimeout = 500 * time.Millisecond

	// configFileMode is the permission mode of the rendered configuration.
	configFileMode = 0600

	// sampleRate is the audio rate direwolf expects on stdin.
	sampleRate = "48000"
)

// State is the lifecycle state of a Manager.
type State string

const (
	StateCreated       State = "created"
	StateConfigWritten State = "config_written"
	StateStarting      State = "starting"
	StateRunning       State = "running"
	StateRestarting    State = "restarting"
	StateStopped       State = "stopped"
	StateFailed        State = "failed"
)

// Logger defines the logging interface for the direwolf manager.
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

// Config contains settings for a direwolf instance.
type Config struct {
	// Binary is the direwolf executable.
	Binary string

	// Service renders the igate block when the igate is enabled.
	Service bool

	// TempDir holds the generated configuration file.
	TempDir string

	// ConnectAttempts and ConnectDelay bound the wait for the KISS port.
	ConnectAttempts int
	ConnectDelay    time.Duration

	// GracefulTimeout is how long to wait for direwolf to exit before SIGKILL.
	GracefulTimeout time.Duration

	// Audio is fed to direwolf's stdin: signed 16-bit mono at 48 kHz.
	Audio io.Reader

	// Output receives direwolf's informational stdout/stderr lines.
	// When nil they are logged at debug level.
	Output io.Writer

	// OnEvent, if set, is called after every lifecycle transition worth
	// recording: "started", "restarted", "connect_failed" and
	// "connection_lost", together with the number of connection attempts
	// made.
	OnEvent func(event string, attempts int)
}

// processRunner is the part of process.Manager the supervisor uses.
type processRunner interface {
	Start(ctx context.Context) error
	Stop() error
	Stats() process.Stats
}

type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type request struct {
	restart bool
	reply   chan error
}

// Manager supervises one direwolf process.
//
// All lifecycle transitions run on a single actor goroutine started by
// Start. Config change notifications are queued into the actor's inbox
// and coalesced, so a burst of changes costs at most one extra restart.
type Manager struct {
	config   Config
	store    Reader
	notifier *settings.Notifier
	ports    *portalloc.Allocator
	logger   Logger

	id         string
	configPath string

	// Replaced in tests.
	dial       dialFunc
	newProcess func(process.Config) processRunner

	inbox    chan request
	changed  chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
	exited   chan struct{}

	mu       sync.RWMutex
	state    State
	writer   io.Writer
	source   *Source
	proc     processRunner
	token    settings.Token
	wired    bool
	attempts int
	lastErr  error
	stopErr  error
	started  bool
}

// NewManager creates a direwolf manager reading its settings from store.
func NewManager(cfg Config, store *settings.Store) *Manager {
	if cfg.Binary == "" {
		cfg.Binary = "direwolf"
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = DefaultConnectAttempts
	}
	if cfg.ConnectDelay <= 0 {
		cfg.ConnectDelay = DefaultConnectDelay
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}

	id := uuid.NewString()
	dialer := &net.Dialer{Timeout: dialTimeout}

	return &Manager{
		config:     cfg,
		store:      store,
		notifier:   settings.NewNotifier(store, ConfigKeys...),
		ports:      portalloc.New(),
		logger:     noopLogger{},
		id:         id,
		configPath: filepath.Join(cfg.TempDir, fmt.Sprintf("direwolf_%s.conf", id)),
		dial:       dialer.DialContext,
		newProcess: func(pc process.Config) processRunner { return process.NewManager(pc) },
		inbox:      make(chan request),
		changed:    make(chan struct{}, 1),
		quit:       make(chan struct{}),
		exited:     make(chan struct{}),
		state:      StateCreated,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
	m.notifier.SetLogger(logger)
}

// Args returns the direwolf command line.
func (m *Manager) Args() []string {
	return []string{"-c", m.configPath, "-r", sampleRate, "-t", "0", "-q", "d", "-q", "h"}
}

// ConfigPath returns the path of the generated configuration file.
func (m *Manager) ConfigPath() string {
	return m.configPath
}

// Port returns the KISS port, allocating it on first use.
func (m *Manager) Port() int {
	return m.ports.Port()
}

// Start writes the configuration, launches direwolf and connects to its
// KISS port. It blocks until the connection is established or the connect
// retries are exhausted, in which case ErrConnectRetriesExhausted is
// returned. ctx bounds the whole lifetime of the instance.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	select {
	case <-m.quit:
		m.mu.Unlock()
		return ErrStopped
	default:
	}
	m.started = true
	m.mu.Unlock()

	go m.run(ctx)
	return m.call(ctx, request{})
}

// Restart rewrites the configuration and restarts direwolf, reconnecting
// the writer once the KISS port accepts connections again.
func (m *Manager) Restart(ctx context.Context) error {
	m.mu.RLock()
	started := m.started
	m.mu.RUnlock()
	if !started {
		return ErrNotRunning
	}
	return m.call(ctx, request{restart: true})
}

// OnConfigChanged queues a restart. It implements settings.Subscriber and
// never blocks.
func (m *Manager) OnConfigChanged() error {
	select {
	case m.changed <- struct{}{}:
		m.logger.Debug("direwolf config changed, restart queued")
	default:
	}
	return nil
}

// SetWriter sets the destination of the KISS stream. The writer is kept
// across restarts and attached to every new connection.
func (m *Manager) SetWriter(w io.Writer) {
	m.mu.Lock()
	m.writer = w
	source := m.source
	m.mu.Unlock()

	if source != nil {
		source.SetWriter(w)
	}
}

// Stop terminates direwolf, deletes the configuration file and stops
// listening for config changes. Cleanup happens regardless of earlier
// failures. Stop is idempotent.
func (m *Manager) Stop() error {
	m.quitOnce.Do(func() { close(m.quit) })

	m.mu.RLock()
	started := m.started
	m.mu.RUnlock()

	if started {
		<-m.exited
	} else {
		m.cleanup()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopErr
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastError returns the error of the last failed start or restart.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Stats holds statistics about a direwolf instance.
type Stats struct {
	State           State         `json:"state"`
	Port            int           `json:"port"`
	ConfigPath      string        `json:"config_path"`
	ConnectAttempts int           `json:"connect_attempts"`
	Connected       bool          `json:"connected"`
	Process         process.Stats `json:"process"`
	LastError       string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the instance.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		State:           m.state,
		ConfigPath:      m.configPath,
		ConnectAttempts: m.attempts,
		Connected:       m.source != nil,
	}
	if m.ports.Allocated() {
		stats.Port = m.ports.Port()
	}
	if m.proc != nil {
		stats.Process = m.proc.Stats()
	} else {
		stats.Process = process.Stats{Name: "direwolf", Status: process.StatusStopped}
	}
	if m.lastErr != nil {
		stats.LastError = m.lastErr.Error()
	}
	return stats
}

// call hands req to the actor and waits for its reply.
func (m *Manager) call(ctx context.Context, req request) error {
	req.reply = make(chan error, 1)

	select {
	case m.inbox <- req:
	case <-m.exited:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-m.exited:
		return ErrStopped
	}
}

// run is the actor loop. It owns every lifecycle transition.
func (m *Manager) run(ctx context.Context) {
	defer close(m.exited)
	defer m.cleanup()

	for {
		select {
		case req := <-m.inbox:
			var err error
			if req.restart {
				err = m.restart(ctx)
			} else {
				err = m.start(ctx)
			}
			req.reply <- err

		case <-m.changed:
			if err := m.restart(ctx); err != nil {
				m.logger.Error("direwolf restart after config change failed", "error", err)
			}

		case <-m.sourceDone():
			m.connectionLost()

		case <-m.quit:
			return

		case <-ctx.Done():
			return
		}
	}
}

// sourceDone returns the Done channel of the current connection, or nil
// when there is none. Only the actor replaces the source, so a closed
// channel seen here means direwolf went away.
func (m *Manager) sourceDone() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.source == nil {
		return nil
	}
	return m.source.Done()
}

// connectionLost moves a running instance whose KISS connection dropped to
// StateFailed. The child is stopped; Restart or a config change brings it
// back.
func (m *Manager) connectionLost() {
	m.closeSource()
	m.logger.Error("direwolf closed the kiss connection", "port", m.Port())

	if err := m.stopProcess(); err != nil {
		m.logger.Warn("error stopping direwolf after lost connection", "error", err)
	}
	m.fail(ErrConnectionLost) //nolint:errcheck // recorded in LastError
	m.emit("connection_lost")
}

func (m *Manager) start(ctx context.Context) error {
	if err := m.launch(ctx); err != nil {
		return err
	}
	m.emit("started")
	return nil
}

// launch brings direwolf from any state to running.
func (m *Manager) launch(ctx context.Context) error {
	m.mu.Lock()
	if !m.wired {
		m.token = m.notifier.Wire(m)
		m.wired = true
	}
	m.mu.Unlock()

	if err := m.writeConfig(); err != nil {
		return m.fail(err)
	}
	m.setState(StateConfigWritten)

	m.setState(StateStarting)

	// One process manager for the lifetime of the instance keeps a single
	// audio pump running across restarts.
	m.mu.RLock()
	proc := m.proc
	m.mu.RUnlock()
	if proc == nil {
		proc = m.newProcess(m.processConfig())
		if l, ok := proc.(interface{ SetLogger(process.Logger) }); ok {
			l.SetLogger(m.logger)
		}
		m.mu.Lock()
		m.proc = proc
		m.mu.Unlock()
	}

	if err := proc.Start(ctx); err != nil {
		return m.fail(fmt.Errorf("starting direwolf: %w", err))
	}

	conn, err := m.connect(ctx)
	if err != nil {
		if stopErr := proc.Stop(); stopErr != nil {
			m.logger.Warn("error stopping direwolf after failed connect", "error", stopErr)
		}
		if errors.Is(err, ErrConnectRetriesExhausted) {
			m.emit("connect_failed")
		}
		return m.fail(err)
	}

	source := newSource(conn, m.logger)
	m.mu.Lock()
	m.source = source
	m.state = StateRunning
	m.lastErr = nil
	w := m.writer
	m.mu.Unlock()
	source.SetWriter(w)

	m.logger.Info("direwolf running", "port", m.Port(), "config", m.configPath)
	return nil
}

func (m *Manager) processConfig() process.Config {
	return process.Config{
		Name:            "direwolf",
		Binary:          m.config.Binary,
		Args:            m.Args(),
		Stdin:           m.config.Audio,
		Stdout:          m.config.Output,
		Stderr:          m.config.Output,
		GracefulTimeout: m.config.GracefulTimeout,
		OnStop: func(err error) {
			if err != nil {
				m.logger.Warn("direwolf exited", "error", err)
			}
		},
	}
}

func (m *Manager) restart(ctx context.Context) error {
	m.setState(StateRestarting)
	m.logger.Info("restarting direwolf")

	m.closeSource()
	if err := m.stopProcess(); err != nil {
		m.logger.Warn("error stopping direwolf for restart", "error", err)
	}

	if err := m.launch(ctx); err != nil {
		return err
	}
	m.emit("restarted")
	return nil
}

// connect dials the KISS port until it answers or the attempts run out.
func (m *Manager) connect(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort("localhost", strconv.Itoa(m.Port()))

	var lastErr error
	for attempt := 1; attempt <= m.config.ConnectAttempts; attempt++ {
		m.mu.Lock()
		m.attempts = attempt
		m.mu.Unlock()

		conn, err := m.dial(ctx, "tcp", addr)
		if err == nil {
			m.logger.Debug("connected to direwolf", "address", addr, "attempt", attempt)
			return conn, nil
		}
		lastErr = err

		if attempt == m.config.ConnectAttempts {
			break
		}

		timer := time.NewTimer(m.config.ConnectDelay)
		select {
		case <-timer.C:
		case <-m.quit:
			timer.Stop()
			return nil, ErrStopped
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("waiting for direwolf: %w", ctx.Err())
		}
	}

	m.logger.Error("maximum number of connection attempts reached, did direwolf start up correctly?",
		"address", addr,
		"attempts", m.config.ConnectAttempts,
	)
	return nil, fmt.Errorf("%w: %s after %d attempts: %w",
		ErrConnectRetriesExhausted, addr, m.config.ConnectAttempts, lastErr)
}

func (m *Manager) writeConfig() error {
	config := Render(SnapshotFrom(m.store), m.Port(), m.config.Service, m.logger)
	if err := os.WriteFile(m.configPath, []byte(config), configFileMode); err != nil {
		return fmt.Errorf("writing direwolf config: %w", err)
	}
	return nil
}

func (m *Manager) emit(event string) {
	if m.config.OnEvent == nil {
		return
	}
	m.mu.RLock()
	attempts := m.attempts
	m.mu.RUnlock()
	m.config.OnEvent(event, attempts)
}

func (m *Manager) fail(err error) error {
	m.mu.Lock()
	m.state = StateFailed
	m.lastErr = err
	m.mu.Unlock()
	return err
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) closeSource() {
	m.mu.Lock()
	source := m.source
	m.source = nil
	m.mu.Unlock()

	if source != nil {
		source.Close() //nolint:errcheck // connection is being discarded
	}
}

func (m *Manager) stopProcess() error {
	m.mu.RLock()
	proc := m.proc
	m.mu.RUnlock()

	if proc == nil {
		return nil
	}
	return proc.Stop()
}

// cleanup releases everything the instance holds. It runs on every exit
// path, including after failed starts.
func (m *Manager) cleanup() {
	m.closeSource()
	stopErr := m.stopProcess()
	if stopErr != nil {
		m.logger.Warn("error stopping direwolf", "error", stopErr)
	}

	if err := os.Remove(m.configPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("removing direwolf config", "path", m.configPath, "error", err)
	}

	m.mu.Lock()
	if m.wired {
		m.notifier.Unwire(m.token)
		m.wired = false
	}
	m.state = StateStopped
	m.stopErr = stopErr
	m.mu.Unlock()

	m.logger.Info("direwolf stopped")
}
