package watchdog

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// Process is a running child.
type Process interface {
	// Wait blocks until exit and returns the exit code. A child killed by
	// a signal reports -1.
	Wait() (int, error)
	Signal(sig os.Signal) error
	Kill() error
}

// Launcher starts a new child.
type Launcher interface {
	Start(ctx context.Context) (Process, error)
}

// ExecLauncher runs a binary with inherited stdio.
type ExecLauncher struct {
	Path string
	Args []string
	Env  []string
}

// Start spawns the child. It is not tied to ctx; the supervisor owns
// shutdown.
func (l ExecLauncher) Start(context.Context) (Process, error) {
	cmd := exec.Command(l.Path, l.Args...)
	cmd.Stdin = nil
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = l.Env
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return -1, nil
		}
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }

func (p *execProcess) Kill() error { return p.cmd.Process.Kill() }
