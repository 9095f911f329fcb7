// SPDX-License-Identifier: Apache-2.0
// Package supervisor launches the target executable and sees it through to
// exit: stdio wired through, termination signals forwarded to the child with
// a grace window before escalating to a forced kill.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
)

// ErrLaunchFailed means the child could not be spawned at all (missing
// file, permission denied). A child that starts and then exits non-zero is
// not an error; that is a normal Exited result.
var ErrLaunchFailed = errors.New("failed to launch process")

// DefaultGraceWindow is how long after forwarding a signal a second signal
// escalates to a forced kill.
const DefaultGraceWindow = 10 * time.Second

// LaunchSpec fully describes one child process. Built once, consumed once.
type LaunchSpec struct {
	Path string   // executable path
	Args []string // arguments, not including argv[0]
	Env  []string // complete environment, no inheritance beyond it
	Dir  string   // working directory
}

// ProcessResult reports how the child ended.
type ProcessResult struct {
	ExitCode int
	Signal   string // non-empty when the child was killed by a signal
}

// State tracks the supervised child through its lifecycle.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateExited
	StateKilled
	StateLaunchFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	case StateLaunchFailed:
		return "launch-failed"
	default:
		return "unknown"
	}
}

// childProcess abstracts the spawned process so tests can supervise a fake
// instead of a real long-lived executable.
type childProcess interface {
	Start() error
	Wait() ProcessResult
	Signal(sig os.Signal) error
	Kill() error
}

// Supervisor runs one child process per Launch call.
type Supervisor struct {
	GraceWindow time.Duration

	logger hclog.Logger

	// newChild and notifySignals are replaceable in tests.
	newChild      func(spec LaunchSpec) childProcess
	notifySignals func() (<-chan os.Signal, func())

	state State
}

// New creates a supervisor with the real process backend.
func New(logger hclog.Logger) *Supervisor {
	return &Supervisor{
		GraceWindow: DefaultGraceWindow,
		logger:      logger,
		newChild:    newExecChild,
		notifySignals: func() (<-chan os.Signal, func()) {
			ch := make(chan os.Signal, 2)
			signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
			return ch, func() { signal.Stop(ch) }
		},
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return s.state
}

// Launch starts the child described by spec and blocks until it exits.
// While the child runs, a termination signal is forwarded to it and the
// supervisor keeps waiting; a second signal within the grace window
// escalates to a forced kill. Context cancellation is treated like a
// termination request.
func (s *Supervisor) Launch(ctx context.Context, spec LaunchSpec) (ProcessResult, error) {
	child := s.newChild(spec)

	s.logger.Info("🚀 Launching", "path", spec.Path)
	s.logger.Debug("🎯 Launch details", "args", spec.Args, "cwd", spec.Dir)

	if err := child.Start(); err != nil {
		s.state = StateLaunchFailed
		return ProcessResult{}, fmt.Errorf("%w: %s: %v", ErrLaunchFailed, spec.Path, err)
	}
	s.state = StateRunning

	done := make(chan ProcessResult, 1)
	go func() {
		done <- child.Wait()
	}()

	sigCh, stopSignals := s.notifySignals()
	defer stopSignals()

	// Timer gating the escalation window; idle until the first signal.
	grace := time.NewTimer(time.Hour)
	grace.Stop()
	defer grace.Stop()

	forwarded := false
	ctxDone := ctx.Done()

	for {
		select {
		case result := <-done:
			if result.Signal != "" {
				s.state = StateKilled
				s.logger.Info("⏹️ Child killed by signal", "signal", result.Signal)
			} else {
				s.state = StateExited
				s.logger.Info("⏹️ Child exited", "code", result.ExitCode)
			}
			return result, nil

		case sig := <-sigCh:
			if forwarded {
				// Second signal inside the grace window: stop waiting.
				s.logger.Warn("💀 Second signal within grace window, force-killing child")
				if err := child.Kill(); err != nil {
					s.logger.Error("Failed to kill child", "error", err)
				}
				continue
			}
			s.logger.Info("✋ Forwarding signal to child, waiting for graceful exit",
				"signal", sig, "grace", s.GraceWindow)
			if err := child.Signal(sig); err != nil {
				s.logger.Error("Failed to forward signal", "error", err)
			}
			forwarded = true
			grace.Reset(s.GraceWindow)

		case <-ctxDone:
			ctxDone = nil // fire once
			if !forwarded {
				s.logger.Info("🛑 Run cancelled, asking child to terminate")
				if err := child.Signal(syscall.SIGTERM); err != nil {
					s.logger.Error("Failed to signal child", "error", err)
				}
				forwarded = true
				grace.Reset(s.GraceWindow)
			}

		case <-grace.C:
			// Window closed without the child exiting: further signals
			// start a fresh forward-then-escalate cycle.
			forwarded = false
		}
	}
}

// execChild is the real child process behind os/exec.
type execChild struct {
	cmd *exec.Cmd
}

func newExecChild(spec LaunchSpec) childProcess {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return &execChild{cmd: cmd}
}

func (c *execChild) Start() error {
	return c.cmd.Start()
}

func (c *execChild) Wait() ProcessResult {
	err := c.cmd.Wait()
	if err == nil {
		return ProcessResult{ExitCode: 0}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return ProcessResult{
				ExitCode: 128 + int(ws.Signal()),
				Signal:   ws.Signal().String(),
			}
		}
		return ProcessResult{ExitCode: exitErr.ExitCode()}
	}

	// Wait itself failed; treat as an abnormal exit.
	return ProcessResult{ExitCode: -1}
}

func (c *execChild) Signal(sig os.Signal) error {
	return c.cmd.Process.Signal(sig)
}

func (c *execChild) Kill() error {
	return c.cmd.Process.Kill()
}
