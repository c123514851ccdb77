package backend

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// stderrTailBytes bounds how much of a process's stderr is retained.
const stderrTailBytes = 8 << 10

// Process is a long-running command with piped stdin and stdout.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader

	// StderrTail returns the last bytes the process wrote to stderr.
	StderrTail() string

	// Wait blocks until the process exits. Stdout must be drained first.
	Wait() error

	// Kill terminates the process immediately.
	Kill() error
}

// CommandRunner is the interface for starting commands.
type CommandRunner interface {
	Start(name string, args []string) (Process, error)
}

// ExecCommandRunner uses os/exec.
type ExecCommandRunner struct{}

// Start starts name with piped stdio. The process outlives any request context and is
// ended through Kill or by closing its stdin.
func (ExecCommandRunner) Start(name string, args []string) (Process, error) {
	cmd := exec.Command(name, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	tail := &tailBuffer{max: stderrTailBytes}
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: tail}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr *tailBuffer
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) StderrTail() string    { return p.stderr.String() }
func (p *execProcess) Wait() error           { return p.cmd.Wait() }
func (p *execProcess) Kill() error           { return p.cmd.Process.Kill() }

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// Executor starts one binary and carries the per-call timeout of its requests.
type Executor struct {
	runner     CommandRunner
	binaryPath string
	timeout    time.Duration
}

// NewExecutor creates an executor. binaryPath may be a bare name resolved through PATH.
func NewExecutor(binaryPath string, timeout time.Duration) (*Executor, error) {
	resolved, err := exec.LookPath(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("binary not found: %w", err)
	}

	return &Executor{
		binaryPath: resolved,
		timeout:    timeout,
		runner:     ExecCommandRunner{},
	}, nil
}

// NewExecutorWithRunner creates an executor with a custom runner.
func NewExecutorWithRunner(binaryPath string, timeout time.Duration, runner CommandRunner) *Executor {
	return &Executor{
		binaryPath: binaryPath,
		timeout:    timeout,
		runner:     runner,
	}
}

// BinaryPath returns the resolved binary.
func (e *Executor) BinaryPath() string {
	return e.binaryPath
}

// Timeout returns the per-call timeout. Zero means none.
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

// Start starts the binary with args.
func (e *Executor) Start(args []string) (Process, error) {
	p, err := e.runner.Start(e.binaryPath, args)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", e.binaryPath, err)
	}
	return p, nil
}
