package shim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	tasktypes "github.com/containerd/containerd/api/types/task"
	"github.com/containerd/log"
)

// Holds the init process stopped until the task is started. The pid stays
// the same across the exec.
const startStoppedScript = `#!/bin/sh
kill -STOP $$
exec "$@"
`

const startStoppedFilename = "start-stopped.sh"

const commandWaitDelay = 100 * time.Millisecond

// initProcess is the interpreter process of one task.
type initProcess struct {
	pid int
	cmd *exec.Cmd

	// done is cancelled once the process has been reaped.
	done       context.Context
	markDone   func()
	exitedAt   time.Time
	exitStatus int

	started bool
	paused  bool

	stdin  string
	stdout string
	stderr string
	// Closed after the process exits. stdinCloser may be closed earlier by
	// CloseIO.
	closers     []io.Closer
	stdinCloser io.Closer
}

func (p *initProcess) String() string {
	if p.exited() {
		return fmt.Sprintf("pid:%d, exitedAt:%s, exitStatus:%d", p.pid, p.exitedAt.Format(time.RFC3339), p.exitStatus)
	}
	return fmt.Sprintf("pid:%d running", p.pid)
}

func (p *initProcess) exited() bool {
	return p.done.Err() != nil
}

func (p *initProcess) status() tasktypes.Status {
	switch {
	case p.exited():
		return tasktypes.Status_STOPPED
	case !p.started:
		return tasktypes.Status_CREATED
	case p.paused:
		return tasktypes.Status_PAUSED
	default:
		return tasktypes.Status_RUNNING
	}
}

func (p *initProcess) signal(sig syscall.Signal) error {
	if p.exited() || p.pid <= 0 {
		return nil
	}
	if err := syscall.Kill(p.pid, sig); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("sending %s to init process %d: %w", sig, p.pid, err)
	}
	return nil
}

// exitStatus follows the shell convention for signalled processes.
func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return 255
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return exitCodeSignal + int(ws.Signal())
	}
	return state.ExitCode()
}

// reap waits for the process of task id, records its exit and shuts the shim
// down once no task is left running.
func (s *taskService) reap(ctx context.Context, id string, p *initProcess) {
	if err := p.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
		case errors.Is(err, exec.ErrWaitDelay):
			log.G(ctx).Debugf("stdio of init process %d still open after exit", p.pid)
		default:
			log.G(ctx).WithError(err).Errorf("failed to wait for init process %d", p.pid)
		}
	}
	status := exitStatus(p.cmd.ProcessState)
	log.G(ctx).WithFields(log.Fields{"id": id, "pid": p.pid, "status": status}).Debug("init process exited")

	for _, c := range p.closers {
		c.Close()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p.exitStatus = status
	p.exitedAt = time.Now()
	p.markDone()

	if _, ok := s.tasks[id]; !ok {
		log.G(ctx).Warnf("task %s was removed before its init process exited", id)
	}

	for _, t := range s.tasks {
		if !t.exited() {
			return
		}
	}
	log.G(ctx).Debug("all init processes exited, shutting down")
	s.shutdown.Shutdown()
}
