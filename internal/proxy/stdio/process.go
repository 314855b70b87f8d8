package stdio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Process wraps the language server subprocess with access to its stdin/stdout.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File

	exited   chan struct{}
	waitErr  error
	exitCode int
}

// ProcessOption configures how the subprocess is started.
type ProcessOption func(*exec.Cmd)

// WithStderr sets where the subprocess's stderr goes. It defaults to our stderr.
func WithStderr(w io.Writer) ProcessOption {
	return func(c *exec.Cmd) { c.Stderr = w }
}

// WithDir sets the working directory of the subprocess.
func WithDir(dir string) ProcessOption {
	return func(c *exec.Cmd) { c.Dir = dir }
}

// WithEnv sets the environment of the subprocess.
func WithEnv(env []string) ProcessOption {
	return func(c *exec.Cmd) { c.Env = env }
}

// StartProcess launches the server subprocess and returns handles to its pipes.
//
// Stdout is an os.Pipe rather than cmd.StdoutPipe so that reaping the process
// does not close the read end before buffered output has been drained.
func StartProcess(name string, args []string, opts ...ProcessOption) (*Process, error) {
	cmd := exec.Command(name, args...)
	cmd.Stderr = os.Stderr
	for _, opt := range opts {
		opt(cmd)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("starting subprocess %q: %w", name, err)
	}
	// The child holds its own copy of the write end.
	stdoutW.Close()

	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdoutR,
		exited: make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	p.waitErr = p.cmd.Wait()
	p.exitCode = exitCode(p.cmd.ProcessState)
	close(p.exited)
}

// exitCode reports the exit status, or minus the signal number when the
// process was killed by a signal.
func exitCode(ps *os.ProcessState) int {
	if ps == nil {
		return -1
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return ps.ExitCode()
}

// Pid returns the process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Exited is closed once the subprocess has exited and been reaped.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// ExitCode returns the exit code. It is only meaningful after Exited is closed.
func (p *Process) ExitCode() int {
	<-p.exited
	return p.exitCode
}

// Wait waits for the subprocess to exit.
func (p *Process) Wait() error {
	<-p.exited
	return p.waitErr
}

// Terminate asks the subprocess to exit.
func (p *Process) Terminate() error {
	return p.signal(syscall.SIGTERM)
}

// Kill terminates the subprocess immediately.
func (p *Process) Kill() error {
	return p.signal(syscall.SIGKILL)
}

func (p *Process) signal(sig os.Signal) error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	if err := p.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Stop terminates the subprocess, killing it if it has not exited within timeout.
func (p *Process) Stop(timeout time.Duration) error {
	if err := p.Terminate(); err != nil {
		return fmt.Errorf("terminating subprocess: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.exited:
		return nil
	case <-timer.C:
	}

	if err := p.Kill(); err != nil {
		return fmt.Errorf("killing subprocess: %w", err)
	}
	<-p.exited
	return nil
}

// Stdin returns the write end of the subprocess stdin.
func (p *Process) Stdin() io.WriteCloser { return p.stdin }

// Stdout returns the read end of the subprocess stdout.
func (p *Process) Stdout() *os.File { return p.stdout }
