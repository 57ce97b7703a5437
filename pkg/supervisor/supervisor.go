// Package supervisor spawns, polls, kills, and drains the OS processes that
// run benchmark wrappers. Grounded on the teacher's
// test/framework/process.go (its Process/LogBuffer lifecycle helper),
// generalized from a single long-lived fixture into a short-lived process
// spawned per scheduled start action.
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/SharkGamerZ/CRAB/pkg/log"
	"github.com/SharkGamerZ/CRAB/pkg/metrics"
	"github.com/SharkGamerZ/CRAB/pkg/types"
	"github.com/SharkGamerZ/CRAB/pkg/wlmanager"
	"github.com/SharkGamerZ/CRAB/pkg/wrapper"
)

// Status is the outcome of a Poll call.
type Status int

const (
	StatusRunning Status = iota
	StatusExited
)

// handle implements types.ProcessHandle and owns the underlying *exec.Cmd
// plus captured stdout/stderr, mirroring the teacher's Process/LogBuffer
// split but scoped to one spawn-to-exit lifetime instead of a persistent
// test fixture.
type handle struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc

	mu       sync.Mutex
	stdout   bytes.Buffer
	stderr   bytes.Buffer
	exited   bool
	exitCode int
}

func (h *handle) PID() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return -1
	}
	return h.cmd.Process.Pid
}

func (h *handle) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.exited
}

// Supervisor owns no per-app state; every operation takes the
// types.AppInstance it acts on, matching the stateless shape spec.md
// requires of the schedule executor's collaborators.
type Supervisor struct {
	logger zerolog.Logger
}

func New() *Supervisor {
	return &Supervisor{logger: log.WithComponent("supervisor")}
}

// Spawn renders the app's launch command through adapter and starts it,
// capturing stdout/stderr. Fails if the app has zero nodes — callers (the
// schedule executor) must never reach this with an empty node list.
func (s *Supervisor) Spawn(ctx context.Context, app *types.AppInstance, adapter wlmanager.Adapter, ppn int) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SpawnDuration)

	if len(app.Nodes) == 0 {
		return fmt.Errorf("supervisor: app %d has zero allocated nodes", app.ID())
	}

	w, err := wrapper.New(app.Parsed.Spec.Path, app.Parsed.Spec.Args)
	if err != nil {
		return fmt.Errorf("supervisor: app %d: %w", app.ID(), err)
	}
	w.SetNodes(app.Nodes)
	app.Metrics = w.Metadata()

	inner := w.BuildCommand()
	if inner == "" {
		// Binary absent: the wrapper is a documented no-op, not an error.
		s.logger.Warn().Int("app_id", app.ID()).Msg("wrapper build_command empty, spawning no-op")
		app.Process = &handle{exited: true}
		return nil
	}

	launch, err := adapter.RenderLaunch(app.Nodes, ppn, inner)
	if err != nil {
		return fmt.Errorf("supervisor: app %d: render launch: %w", app.ID(), err)
	}

	s.logger.Debug().Int("app_id", app.ID()).Str("command", commandPreview(launch)).Msg("spawning")

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", launch)
	h := &handle{cmd: cmd, cancel: cancel}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("supervisor: app %d: stdout pipe: %w", app.ID(), err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("supervisor: app %d: stderr pipe: %w", app.ID(), err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("supervisor: app %d: start: %w", app.ID(), err)
	}

	go captureInto(&h.mu, &h.stdout, stdout)
	go captureInto(&h.mu, &h.stderr, stderr)
	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.exited = true
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				h.exitCode = exitErr.ExitCode()
			} else {
				h.exitCode = -1
			}
		}
		h.mu.Unlock()
	}()

	app.Process = h
	metrics.ProcessesSpawned.WithLabelValues(app.Parsed.Spec.Path).Inc()
	return nil
}

func captureInto(mu *sync.Mutex, buf *bytes.Buffer, r interface{ Read([]byte) (int, error) }) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			mu.Lock()
			buf.Write(chunk[:n])
			mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Poll reports whether app's process is still running or has exited.
func (s *Supervisor) Poll(app *types.AppInstance) (Status, error) {
	h, ok := app.Process.(*handle)
	if !ok || h == nil {
		return StatusExited, fmt.Errorf("supervisor: app %d has no process handle", app.ID())
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited {
		return StatusExited, nil
	}
	return StatusRunning, nil
}

// ExitCode returns the last observed exit code for app; only meaningful
// after Poll/AwaitWithTimeout report StatusExited.
func (s *Supervisor) ExitCode(app *types.AppInstance) int {
	h, ok := app.Process.(*handle)
	if !ok || h == nil {
		return -1
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Drain copies captured output onto the app. Safe to call only after exit.
func (s *Supervisor) Drain(app *types.AppInstance) {
	h, ok := app.Process.(*handle)
	if !ok || h == nil {
		return
	}
	h.mu.Lock()
	app.Stdout = h.stdout.String()
	app.Stderr = h.stderr.String()
	h.mu.Unlock()
}

// Kill forcefully terminates app's process (SIGKILL) then drains it. The
// "graceful terminate" schedule action calls this same path — see
// SPEC_FULL.md's note on that still-open design question.
func (s *Supervisor) Kill(app *types.AppInstance) {
	h, ok := app.Process.(*handle)
	if !ok || h == nil {
		return
	}
	if h.cmd != nil && h.cmd.Process != nil {
		_ = h.cmd.Process.Signal(syscall.SIGKILL)
	}
	if h.cancel != nil {
		h.cancel()
	}
	s.waitExited(h, 2*time.Second)
	s.Drain(app)
	metrics.ProcessesKilled.WithLabelValues("kill").Inc()
}

func (s *Supervisor) waitExited(h *handle, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		exited := h.exited
		h.mu.Unlock()
		if exited {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// AwaitWithTimeout blocks until app's process exits or timeout elapses. On
// timeout it kills and drains the process and reports timedOut=true.
func (s *Supervisor) AwaitWithTimeout(app *types.AppInstance, timeout time.Duration) (timedOut bool) {
	h, ok := app.Process.(*handle)
	if !ok || h == nil {
		return false
	}

	deadline := time.Now().Add(timeout)
	for {
		h.mu.Lock()
		exited := h.exited
		h.mu.Unlock()
		if exited {
			s.Drain(app)
			return false
		}
		if time.Now().After(deadline) {
			s.Kill(app)
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// commandPreview is a small helper used in log lines to avoid dumping an
// entire launch string at info level.
func commandPreview(cmd string) string {
	const max = 120
	if len(cmd) <= max {
		return cmd
	}
	return strings.TrimSpace(cmd[:max]) + "..."
}
