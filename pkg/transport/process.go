package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// processGrace is how long Close waits for a child to exit after its stdin is
// closed before killing it
const processGrace = 2 * time.Second

// Process is a Stream over a child process' stdin and stdout
type Process struct {
	*Stream
	cmd *exec.Cmd

	waitOnce sync.Once
	waitErr  error
	exited   chan struct{}
}

// StartProcess starts cmd and returns a transport speaking to it over its
// standard streams. The child's stderr goes to this process' stderr unless
// cmd.Stderr is already set. Cancelling ctx closes the transport and stops
// the child.
func StartProcess(ctx context.Context, cmd *exec.Cmd) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cmd.Path, err)
	}

	p := &Process{
		Stream: NewStream(stdout, stdin, stdin),
		cmd:    cmd,
		exited: make(chan struct{}),
	}

	// Wait closes stdout, so it runs only after the reader has drained it
	go func() {
		_ = p.Stream.Wait()
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = p.Close()
		case <-p.exited:
		}
	}()

	return p, nil
}

// Pid returns the child's process id
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Close closes the child's stdin, which asks it to exit, then waits briefly
// before killing it.
func (p *Process) Close() error {
	closeErr := p.Stream.Close()

	p.waitOnce.Do(func() {
		select {
		case <-p.exited:
		case <-time.After(processGrace):
			_ = p.cmd.Process.Kill()
			<-p.exited
		}
	})

	var exitErr *exec.ExitError
	if p.waitErr != nil && !errors.As(p.waitErr, &exitErr) {
		return errors.Join(closeErr, p.waitErr)
	}
	return closeErr
}
