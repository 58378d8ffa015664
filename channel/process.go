package channel

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/wippyai/wasm-wallet/errors"
)

// ShutdownGrace is how long Close waits for a host process to exit after its
// stdin is closed before killing it.
var ShutdownGrace = 5 * time.Second

// Process is a Conn to an execution host running as a child process, talking
// over the child's stdin and stdout. When the child dies, Recv reports its
// exit status as a host failure.
type Process struct {
	*Stream
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	waitErr  error
	waitOnce sync.Once
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Spawn starts cmd and connects to it. The child's stderr is inherited unless
// cmd.Stderr is already set.
func Spawn(cmd *exec.Cmd) (*Process, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseTransport, errors.KindFailed, err, "stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseTransport, errors.KindFailed, err, "stdout pipe")
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(errors.PhaseTransport, errors.KindFailed, err, "start host process")
	}

	p := &Process{cmd: cmd, stdin: stdin}
	p.Stream = newStream(stdout, stdin, closerFunc(p.shutdown), p.exitStatus)
	return p, nil
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

func (p *Process) wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

func (p *Process) exitStatus() error {
	if err := p.wait(); err != nil {
		return errors.HostFailure(err)
	}
	return nil
}

func (p *Process) shutdown() error {
	_ = p.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- p.wait() }()

	timer := time.NewTimer(ShutdownGrace)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		_ = p.cmd.Process.Kill()
		<-done
		return nil
	}
}
