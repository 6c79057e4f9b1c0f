package shim

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	apitypes "github.com/containerd/containerd/api/types"
	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/log"
)

// Exit status of a process killed by a signal, 128 + signal number.
// https://pubs.opengroup.org/onlinepubs/9699919799/utilities/V3_chap02.html#tag_18_21_18
const exitCodeSignal = 128

const pidFilename = "bfvm.pid"

const Version = "v0.2.0"

// comptime override for debug flag
// set with `-ldflags="-X 'github.com/MarcinKonowalczyk/bfvm/shim.debug=true'"`
var debug string

type manager struct {
	name string
}

func NewManager(name string) shim.Manager {
	return manager{name: name}
}

var _ shim.Manager = manager{}

func (m manager) Name() string {
	return m.name
}

// Start re-executes the current binary as the long running shim server
// listening on a per-task socket.
func (m manager) Start(ctx context.Context, id string, opts shim.StartOpts) (params shim.BootstrapParams, retErr error) {
	log.G(ctx).WithField("id", id).Debug("start shim")

	self, err := os.Executable()
	if err != nil {
		return params, fmt.Errorf("getting executable of current process: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return params, fmt.Errorf("getting current working directory: %w", err)
	}

	var args []string
	if opts.Debug || debug != "" {
		args = append(args, "-debug")
	}

	cmd, err := shim.Command(ctx, &shim.CommandConfig{
		Runtime:      self,
		Address:      opts.Address,
		TTRPCAddress: opts.TTRPCAddress,
		Path:         cwd,
		Args:         args,
	})
	if err != nil {
		return params, fmt.Errorf("creating shim command: %w", err)
	}

	address, err := shim.SocketAddress(ctx, opts.Address, id, opts.Debug)
	if err != nil {
		return params, fmt.Errorf("getting a socket address: %w", err)
	}
	socket, err := shim.NewSocket(address)
	if err != nil {
		return params, fmt.Errorf("creating socket: %w", err)
	}
	defer func() {
		if retErr != nil {
			socket.Close()
			_ = shim.RemoveSocket(address)
		}
	}()

	f, err := socket.File()
	if err != nil {
		return params, fmt.Errorf("getting shim socket file descriptor: %w", err)
	}
	cmd.ExtraFiles = append(cmd.ExtraFiles, f)

	// The child inherits the thread's attributes, so keep them stable while
	// it is forked.
	runtime.LockOSThread()
	err = cmd.Start()
	runtime.UnlockOSThread()
	f.Close()
	if err != nil {
		return params, fmt.Errorf("starting shim command: %w", err)
	}

	go func() {
		if err := cmd.Wait(); err != nil {
			if _, ok := err.(*exec.ExitError); !ok {
				log.G(ctx).WithError(err).Errorf("failed to wait for shim process %d", cmd.Process.Pid)
			}
		}
	}()

	if err := shim.AdjustOOMScore(cmd.Process.Pid); err != nil {
		return params, fmt.Errorf("adjusting shim process OOM score: %w", err)
	}

	return shim.BootstrapParams{
		Version:  2,
		Address:  address,
		Protocol: "ttrpc",
	}, nil
}

// Stop kills the init process of a task whose shim has gone away.
func (m manager) Stop(ctx context.Context, id string) (shim.StopStatus, error) {
	log.G(ctx).WithField("id", id).Debug("stop shim")

	path, err := pidPath(id)
	if err != nil {
		return shim.StopStatus{}, err
	}
	pid, err := readPidFile(path)
	if err != nil {
		return shim.StopStatus{}, fmt.Errorf("reading pid file: %w", err)
	}

	if pid > 0 && alive(pid) {
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
			log.G(ctx).WithError(err).Warnf("failed to kill init process %d", pid)
		}
	}

	return shim.StopStatus{
		Pid:        pid,
		ExitedAt:   time.Now(),
		ExitStatus: exitCodeSignal + int(syscall.SIGKILL),
	}, nil
}

func (m manager) Info(ctx context.Context, optionsR io.Reader) (*apitypes.RuntimeInfo, error) {
	return &apitypes.RuntimeInfo{
		Name: m.name,
		Version: &apitypes.RuntimeVersion{
			Version: Version,
		},
	}, nil
}

// alive sends the null signal, which only checks that pid exists.
func alive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

// pidPath is the pid file of task id. The shim runs in the bundle of its
// first task, and bundles of a namespace are siblings.
func pidPath(id string) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current working directory: %w", err)
	}
	return filepath.Join(filepath.Dir(cwd), id, pidFilename), nil
}

func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return -1, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// writePidFile records the init process so that Stop can find it when
// containerd cleans up without a running shim.
func writePidFile(path string, pid int) error {
	if err := shim.WritePidFile(path, pid); err != nil {
		return fmt.Errorf("writing pid file of init process: %w", err)
	}
	if err := os.Chmod(path, 0644); err != nil {
		return fmt.Errorf("changing pid file permissions: %w", err)
	}
	return nil
}
