package pipewire

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/stripdeck/stripdeck/internal/errors"
	"github.com/stripdeck/stripdeck/internal/logging"
)

// Session is a long-lived control channel into the PipeWire daemon.
// Objects loaded through it (filter-chain modules in particular) live only as
// long as the session process, so the session must be supervised: a one-shot
// invocation would destroy its creations on exit.
type Session interface {
	Start() error
	// Submit writes one command line to the session. Writes are serialized.
	Submit(command string) error
	// LoadFilterChain loads a filter-chain module with the given flattened
	// SPA-JSON arguments.
	LoadFilterChain(args string) error
	// CreateNode issues an adapter create-node with the given properties.
	CreateNode(factory, props string) error
	Healthy() bool
	Close() error
}

// CLISession supervises an interactive pw-cli process. The process is
// restarted if it dies unexpectedly; anything it had loaded is gone after a
// restart, which the engine handles by rebuilding chains.
type CLISession struct {
	mu       sync.Mutex // serializes writes and guards process state
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	closed   bool
	healthy  bool
	restarts int
	log      *slog.Logger
}

const maxSessionRestarts = 5

// NewCLISession returns an unstarted session.
func NewCLISession() *CLISession {
	return &CLISession{log: logging.ForService("pipewire-session")}
}

// Start launches the interactive pw-cli process and its supervisor.
func (s *CLISession) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Newf("session already closed").
			Component("pipewire").
			Category(errors.CategoryState).
			Build()
	}
	return s.startLocked()
}

func (s *CLISession) startLocked() error {
	cmd := exec.Command("pw-cli")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.New(err).
			Component("pipewire").
			Category(errors.CategorySession).
			Context("operation", "stdin_pipe").
			Build()
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return errors.New(err).
			Component("pipewire").
			Category(errors.CategorySession).
			Context("operation", "start_pw_cli").
			Build()
	}

	s.cmd = cmd
	s.stdin = stdin
	s.healthy = true
	s.log.Info("control session started", "pid", cmd.Process.Pid)

	go s.supervise(cmd)
	return nil
}

// supervise waits for the session process and restarts it if the exit was
// not requested through Close.
func (s *CLISession) supervise(cmd *exec.Cmd) {
	err := cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != cmd {
		// A newer process has already replaced this one.
		return
	}
	s.healthy = false
	if s.closed {
		return
	}

	s.log.Warn("control session died unexpectedly", "error", err, "restarts", s.restarts)
	if s.restarts >= maxSessionRestarts {
		s.log.Error("control session restart budget exhausted, staying down")
		return
	}
	s.restarts++
	time.Sleep(time.Duration(s.restarts) * 200 * time.Millisecond)
	if err := s.startLocked(); err != nil {
		s.log.Error("control session restart failed", "error", err)
	}
}

// Submit writes one command line into the session.
func (s *CLISession) Submit(command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.healthy || s.stdin == nil {
		return errors.Newf("control session not available").
			Component("pipewire").
			Category(errors.CategorySession).
			Context("closed", s.closed).
			Context("healthy", s.healthy).
			Build()
	}
	if _, err := io.WriteString(s.stdin, command+"\n"); err != nil {
		s.healthy = false
		return errors.New(err).
			Component("pipewire").
			Category(errors.CategorySession).
			Context("operation", "submit").
			Build()
	}
	return nil
}

// LoadFilterChain loads a filter-chain module with flattened SPA-JSON args.
// pw-cli gives no acknowledgement for module loads; callers must confirm the
// resulting node through discovery.
func (s *CLISession) LoadFilterChain(args string) error {
	return s.Submit("load-module libpipewire-module-filter-chain " + args)
}

// CreateNode issues an adapter create-node through the session.
func (s *CLISession) CreateNode(factory, props string) error {
	return s.Submit(fmt.Sprintf("create-node %s %s", factory, props))
}

// Healthy reports whether the session process is believed to be running.
func (s *CLISession) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy && !s.closed
}

// Close terminates the session. Idempotent; safe to call before Start.
func (s *CLISession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.healthy = false

	if s.stdin != nil {
		_ = s.stdin.Close()
		s.stdin = nil
	}
	if s.cmd != nil && s.cmd.Process != nil {
		// Closing stdin makes pw-cli exit; the kill is a fallback for a
		// wedged process.
		done := s.cmd.Process
		go func() {
			time.Sleep(2 * time.Second)
			_ = done.Kill()
		}()
	}
	s.log.Info("control session closed")
	return nil
}
