package hfdl

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/graywave-core/internal/process"
)

// Sample format of the IQ stream on dumphfdl's stdin.
const (
	SampleFormat = "CF32"
	SampleRate   = 12000
)

// Logger defines the logging interface for the HFDL module.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config contains settings for the dumphfdl process.
type Config struct {
	// Binary is the dumphfdl executable.
	Binary string

	// IQ is fed to dumphfdl's stdin as interleaved 32-bit float I/Q pairs.
	// When it is exhausted dumphfdl is allowed to finish and not restarted.
	IQ io.Reader

	// Stderr receives dumphfdl's diagnostic output. When nil it is logged
	// at debug level.
	Stderr io.Writer

	RestartOnFailure   bool
	RestartDelay       time.Duration
	MaxRestartAttempts int
	GracefulTimeout    time.Duration

	// OnEvent, if set, is called with "started" and "restarted" together
	// with the restart attempt number.
	OnEvent func(event string, attempt int)
}

// Module supervises dumphfdl and feeds its output to a Parser.
type Module struct {
	config Config
	parser *Parser
	proc   *process.Manager
}

// Args returns the dumphfdl command line. The trailing 0 is the channel
// centre frequency offset of the already tuned IQ stream.
func Args() []string {
	return []string{
		"--iq-file", "-",
		"--sample-format", SampleFormat,
		"--sample-rate", fmt.Sprint(SampleRate),
		"--output", "decoded:json:file:path=-",
		"0",
	}
}

// NewModule creates a module whose decoded output goes to parser.
func NewModule(cfg Config, parser *Parser) *Module {
	if cfg.Binary == "" {
		cfg.Binary = "dumphfdl"
	}

	m := &Module{
		config: cfg,
		parser: parser,
	}

	restarts := 0
	m.proc = process.NewManager(process.Config{
		Name:               "dumphfdl",
		Binary:             cfg.Binary,
		Args:               Args(),
		Stdin:              cfg.IQ,
		Stdout:             parser,
		Stderr:             cfg.Stderr,
		RestartOnFailure:   cfg.RestartOnFailure,
		RestartDelay:       cfg.RestartDelay,
		MaxRestartAttempts: cfg.MaxRestartAttempts,
		GracefulTimeout:    cfg.GracefulTimeout,
		OnStart: func() {
			if cfg.OnEvent == nil {
				return
			}
			if restarts == 0 {
				cfg.OnEvent("started", 0)
			} else {
				cfg.OnEvent("restarted", restarts)
			}
		},
		OnRestart: func(attempt int) {
			restarts = attempt
		},
	})

	return m
}

// SetLogger sets the logger for the module, its process and its parser.
func (m *Module) SetLogger(logger Logger) {
	m.proc.SetLogger(logger)
	m.parser.SetLogger(logger)
}

// Start launches dumphfdl.
func (m *Module) Start(ctx context.Context) error {
	if err := m.proc.Start(ctx); err != nil {
		return fmt.Errorf("starting dumphfdl: %w", err)
	}
	return nil
}

// Stop terminates dumphfdl and its automatic restarts.
func (m *Module) Stop() error {
	return m.proc.Stop()
}

// Wait blocks until dumphfdl has finished for good: its input ran out,
// restarting was abandoned or Stop was called. It returns the last
// process error, if any.
func (m *Module) Wait(ctx context.Context) error {
	done := m.proc.Done()
	if done == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}
	if m.proc.Status() == process.StatusFailed {
		return m.proc.LastError()
	}
	return nil
}

// Stats holds statistics about the HFDL module.
type Stats struct {
	Process process.Stats `json:"process"`
	Parser  ParserStats   `json:"parser"`
}

// Stats returns current statistics for the module.
func (m *Module) Stats() Stats {
	return Stats{
		Process: m.proc.Stats(),
		Parser:  m.parser.Stats(),
	}
}
