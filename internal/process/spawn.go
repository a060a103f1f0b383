package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// ErrInvalidPID is returned when process creation yields an implausible id.
var ErrInvalidPID = errors.New("implausible process id")

// SpawnOptions describes a detached process launch.
type SpawnOptions struct {
	Binary  string
	Args    []string
	Dir     string
	LogPath string
	Env     []string
}

// Process is a spawned child. Spawn never waits; callers that need the exit
// status join explicitly with Wait.
type Process struct {
	Handle

	cmd     *exec.Cmd
	logFile *os.File
	once    sync.Once
	done    chan struct{}
	err     error
}

// Spawn starts opts.Binary in its own session with stdout and stderr appended
// to opts.LogPath, and returns as soon as the process exists.
func Spawn(opts SpawnOptions) (*Process, error) {
	if opts.Binary == "" {
		return nil, errors.New("spawn: binary is required")
	}
	logFile, err := os.OpenFile(opts.LogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open process log: %w", err)
	}

	cmd := exec.Command(opts.Binary, opts.Args...) //nolint:gosec
	cmd.Dir = opts.Dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	detach(cmd)

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("start %s: %w", opts.Binary, err)
	}
	pid := 0
	if cmd.Process != nil {
		pid = cmd.Process.Pid
	}
	if !ValidPID(pid) {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
			_, _ = cmd.Process.Wait()
		}
		_ = logFile.Close()
		return nil, fmt.Errorf("%w: %d", ErrInvalidPID, pid)
	}

	return &Process{
		Handle:  Handle{PID: pid, StartedAt: startTime(pid)},
		cmd:     cmd,
		logFile: logFile,
		done:    make(chan struct{}),
	}, nil
}

// Wait blocks until the process exits and returns its exit error. It is safe
// to call from several goroutines; all of them observe the same result.
func (p *Process) Wait() error {
	p.once.Do(func() {
		p.err = p.cmd.Wait()
		_ = p.logFile.Close()
		close(p.done)
	})
	<-p.done
	return p.err
}

// Done is closed once Wait has collected the exit status.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Kill terminates the process and everything in its session.
func (p *Process) Kill() error {
	if err := syscall.Kill(-p.PID, syscall.SIGKILL); err != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}

// ExitCode extracts the process exit code from a Wait error. It returns 0 for
// nil and -1 when the error carries no exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func detach(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
}
