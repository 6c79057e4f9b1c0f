package shim

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	taskAPI "github.com/containerd/containerd/api/runtime/task/v2"
	tasktypes "github.com/containerd/containerd/api/types/task"
	"github.com/containerd/containerd/protobuf"
	ptypes "github.com/containerd/containerd/v2/pkg/protobuf/types"
	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/containerd/v2/pkg/shutdown"
	"github.com/containerd/containerd/v2/plugins"
	"github.com/containerd/errdefs"
	"github.com/containerd/fifo"
	"github.com/containerd/log"
	"github.com/containerd/plugin"
	"github.com/containerd/plugin/registry"
	"github.com/containerd/ttrpc"
	"google.golang.org/protobuf/types/known/anypb"
)

func init() {
	registry.Register(&plugin.Registration{
		Type: plugins.TTRPCPlugin,
		ID:   "task",
		Requires: []plugin.Type{
			plugins.InternalPlugin,
		},
		InitFn: func(ic *plugin.InitContext) (interface{}, error) {
			ss, err := ic.GetByID(plugins.InternalPlugin, "shutdown")
			if err != nil {
				return nil, err
			}
			return newTaskService(ss.(shutdown.Service)), nil
		},
	})
}

// taskService runs one interpreter process per task.
type taskService struct {
	mu       sync.RWMutex
	tasks    map[string]*initProcess
	shutdown shutdown.Service

	// Command line of the interpreter, the bundle arguments are appended.
	command func(ctx context.Context, b *Bundle, bundleDir string) (*exec.Cmd, error)
}

var (
	_ taskAPI.TaskService = &taskService{}
	_ shim.TTRPCService   = &taskService{}
)

func newTaskService(sd shutdown.Service) *taskService {
	return &taskService{
		tasks:    make(map[string]*initProcess, 1),
		shutdown: sd,
		command:  stoppedCommand,
	}
}

// RegisterTTRPC allows TTRPC services to be registered with the underlying server
func (s *taskService) RegisterTTRPC(server *ttrpc.Server) error {
	taskAPI.RegisterTaskService(server, s)
	return nil
}

// stoppedCommand runs the brainfuck subcommand of this binary behind the
// start-stopped script.
func stoppedCommand(ctx context.Context, b *Bundle, bundleDir string) (*exec.Cmd, error) {
	script := filepath.Join(bundleDir, startStoppedFilename)
	if err := os.WriteFile(script, []byte(startStoppedScript), 0755); err != nil {
		return nil, fmt.Errorf("writing %s: %w", startStoppedFilename, err)
	}
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("getting executable of current process: %w", err)
	}
	args := append([]string{script, self}, b.Args()...)
	// Not tied to the request context, the process outlives the Create call.
	cmd := exec.Command("/bin/sh", args...)
	cmd.Env = b.Env(os.Environ())
	return cmd, nil
}

func (s *taskService) get(id string) (*initProcess, error) {
	p, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s not created: %w", id, errdefs.ErrNotFound)
	}
	return p, nil
}

func openFifo(ctx context.Context, path string, flag int) (io.ReadWriteCloser, error) {
	ok, err := fifo.IsFifo(path)
	if err != nil {
		return nil, fmt.Errorf("checking whether %s is a fifo: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s is not a fifo: %w", path, errdefs.ErrInvalidArgument)
	}
	f, err := fifo.OpenFifo(ctx, path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("opening fifo %s: %w", path, err)
	}
	return f, nil
}

// Create a new container
func (s *taskService) Create(ctx context.Context, r *taskAPI.CreateTaskRequest) (_ *taskAPI.CreateTaskResponse, retErr error) {
	log.G(ctx).WithField("id", r.ID).Debug("create")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[r.ID]; ok {
		return nil, fmt.Errorf("task %s: %w", r.ID, errdefs.ErrAlreadyExists)
	}
	if r.Terminal {
		return nil, errdefs.ErrNotImplemented.WithMessage("terminal")
	}

	bundle, err := ReadBundle(r.Bundle)
	if err != nil {
		return nil, fmt.Errorf("reading bundle: %w", err)
	}

	cmd, err := s.command(ctx, bundle, r.Bundle)
	if err != nil {
		return nil, err
	}
	cmd.Dir = bundle.Root
	cmd.WaitDelay = commandWaitDelay

	p := &initProcess{
		cmd:    cmd,
		stdin:  r.Stdin,
		stdout: r.Stdout,
		stderr: r.Stderr,
	}
	defer func() {
		if retErr != nil {
			for _, c := range p.closers {
				c.Close()
			}
		}
	}()

	// The fifos outlive the request.
	fifoCtx := context.WithoutCancel(ctx)
	if r.Stdout != "" {
		w, err := openFifo(fifoCtx, r.Stdout, syscall.O_WRONLY)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, w)
		cmd.Stdout = w
	}
	switch {
	case r.Stderr != "" && r.Stderr != r.Stdout:
		w, err := openFifo(fifoCtx, r.Stderr, syscall.O_WRONLY)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, w)
		cmd.Stderr = w
	default:
		cmd.Stderr = cmd.Stdout
	}
	if r.Stdin != "" {
		rd, err := openFifo(fifoCtx, r.Stdin, syscall.O_RDONLY)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, rd)
		p.stdinCloser = rd
		cmd.Stdin = rd
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("running init command: %w", err)
	}
	p.pid = cmd.Process.Pid
	p.done, p.markDone = context.WithCancel(context.Background())

	if err := writePidFile(filepath.Join(r.Bundle, pidFilename), p.pid); err != nil {
		log.G(ctx).WithError(err).Warn("init process can not be stopped without a shim")
	}

	s.tasks[r.ID] = p
	go s.reap(context.WithoutCancel(ctx), r.ID, p)

	return &taskAPI.CreateTaskResponse{
		Pid: uint32(p.pid),
	}, nil
}

// Start the primary user process inside the container
func (s *taskService) Start(ctx context.Context, r *taskAPI.StartRequest) (*taskAPI.StartResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("start")

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	if p.started {
		return nil, errdefs.ErrFailedPrecondition.WithMessage(fmt.Sprintf("task %s already started", r.ID))
	}
	if err := p.signal(syscall.SIGCONT); err != nil {
		return nil, err
	}
	p.started = true

	return &taskAPI.StartResponse{
		Pid: uint32(p.pid),
	}, nil
}

// Delete a process or container
func (s *taskService) Delete(ctx context.Context, r *taskAPI.DeleteRequest) (*taskAPI.DeleteResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("delete")

	if r.ExecID != "" {
		return nil, fmt.Errorf("exec %s: %w", r.ExecID, errdefs.ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	if !p.exited() {
		return nil, errdefs.ErrFailedPrecondition.WithMessage(fmt.Sprintf("init process %d is not done yet", p.pid))
	}
	delete(s.tasks, r.ID)

	return &taskAPI.DeleteResponse{
		Pid:        uint32(p.pid),
		ExitStatus: uint32(p.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(p.exitedAt),
	}, nil
}

// Exec an additional process inside the container
func (s *taskService) Exec(ctx context.Context, r *taskAPI.ExecProcessRequest) (*ptypes.Empty, error) {
	return nil, errdefs.ErrNotImplemented.WithMessage("exec")
}

// ResizePty of a process
func (s *taskService) ResizePty(ctx context.Context, r *taskAPI.ResizePtyRequest) (*ptypes.Empty, error) {
	return &ptypes.Empty{}, nil
}

// State returns runtime state of a process
func (s *taskService) State(ctx context.Context, r *taskAPI.StateRequest) (*taskAPI.StateResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}

	resp := &taskAPI.StateResponse{
		ID:     r.ID,
		Pid:    uint32(p.pid),
		Status: p.status(),
		Stdin:  p.stdin,
		Stdout: p.stdout,
		Stderr: p.stderr,
	}
	if p.exited() {
		resp.ExitStatus = uint32(p.exitStatus)
		resp.ExitedAt = protobuf.ToTimestamp(p.exitedAt)
	}
	return resp, nil
}

// Pause the container
func (s *taskService) Pause(ctx context.Context, r *taskAPI.PauseRequest) (*ptypes.Empty, error) {
	return s.setPaused(ctx, r.ID, true)
}

// Resume the container
func (s *taskService) Resume(ctx context.Context, r *taskAPI.ResumeRequest) (*ptypes.Empty, error) {
	return s.setPaused(ctx, r.ID, false)
}

func (s *taskService) setPaused(ctx context.Context, id string, paused bool) (*ptypes.Empty, error) {
	log.G(ctx).WithFields(log.Fields{"id": id, "paused": paused}).Debug("pause")

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if !p.started || p.exited() {
		return nil, errdefs.ErrFailedPrecondition.WithMessage(fmt.Sprintf("task %s is not running", id))
	}
	sig := syscall.SIGCONT
	if paused {
		sig = syscall.SIGSTOP
	}
	if err := p.signal(sig); err != nil {
		return nil, err
	}
	p.paused = paused
	return &ptypes.Empty{}, nil
}

// Kill a process
func (s *taskService) Kill(ctx context.Context, r *taskAPI.KillRequest) (*ptypes.Empty, error) {
	log.G(ctx).WithFields(log.Fields{"id": r.ID, "signal": r.Signal}).Debug("kill")

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	if p.exited() {
		log.G(ctx).Warnf("task %s already exited: %s", r.ID, p)
		return &ptypes.Empty{}, nil
	}

	sig := syscall.Signal(r.Signal)
	// A stopped process keeps other signals pending until it is continued.
	if sig == 0 || !p.started || p.paused {
		sig = syscall.SIGKILL
	}
	if err := p.signal(sig); err != nil {
		log.G(ctx).WithError(err).Errorf("failed to kill task %s", r.ID)
		return nil, err
	}
	return &ptypes.Empty{}, nil
}

// Pids returns all pids inside the container
func (s *taskService) Pids(ctx context.Context, r *taskAPI.PidsRequest) (*taskAPI.PidsResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	return &taskAPI.PidsResponse{
		Processes: []*tasktypes.ProcessInfo{{Pid: uint32(p.pid)}},
	}, nil
}

// CloseIO closes the stdin of the program, its next read fails.
func (s *taskService) CloseIO(ctx context.Context, r *taskAPI.CloseIORequest) (*ptypes.Empty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	if r.Stdin && p.stdinCloser != nil {
		if err := p.stdinCloser.Close(); err != nil {
			return nil, fmt.Errorf("closing stdin of task %s: %w", r.ID, err)
		}
		p.stdinCloser = nil
	}
	return &ptypes.Empty{}, nil
}

// Checkpoint the container
func (s *taskService) Checkpoint(ctx context.Context, r *taskAPI.CheckpointTaskRequest) (*ptypes.Empty, error) {
	return nil, errdefs.ErrNotImplemented.WithMessage("checkpoint")
}

// Connect returns shim information of the underlying service
func (s *taskService) Connect(ctx context.Context, r *taskAPI.ConnectRequest) (*taskAPI.ConnectResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	return &taskAPI.ConnectResponse{
		ShimPid: uint32(os.Getpid()),
		TaskPid: uint32(p.pid),
		Version: Version,
	}, nil
}

// Shutdown is called after the underlying resources of the shim are cleaned
// up and the service can be stopped. It is ignored while tasks remain.
func (s *taskService) Shutdown(ctx context.Context, r *taskAPI.ShutdownRequest) (*ptypes.Empty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.tasks) > 0 {
		log.G(ctx).WithField("tasks", len(s.tasks)).Debug("shutdown requested with tasks left")
		return &ptypes.Empty{}, nil
	}
	s.shutdown.Shutdown()
	return &ptypes.Empty{}, nil
}

// Stats returns container level system stats for a container and its processes
func (s *taskService) Stats(ctx context.Context, r *taskAPI.StatsRequest) (*taskAPI.StatsResponse, error) {
	return &taskAPI.StatsResponse{
		Stats: &anypb.Any{},
	}, nil
}

// Update the live container
func (s *taskService) Update(ctx context.Context, r *taskAPI.UpdateTaskRequest) (*ptypes.Empty, error) {
	return nil, errdefs.ErrNotImplemented.WithMessage("update")
}

// Wait for a process to exit
func (s *taskService) Wait(ctx context.Context, r *taskAPI.WaitRequest) (*taskAPI.WaitResponse, error) {
	s.mu.RLock()
	p, err := s.get(r.ID)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done.Done():
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return &taskAPI.WaitResponse{
		ExitStatus: uint32(p.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(p.exitedAt),
	}, nil
}
