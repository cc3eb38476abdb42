// Package process spawns short-lived tool subprocesses.
//
// A Runner starts a command with a scrubbed environment, wires its
// stdin/stdout for line-oriented protocols, and captures stderr into a
// bounded ring buffer. The caller's context bounds the process lifetime:
// on cancellation the child gets SIGINT, then SIGKILL after a grace period.
package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultStderrLines bounds captured stderr per process.
const DefaultStderrLines = 200

// baseEnv is the allowlist of parent variables a tool process inherits.
var baseEnv = []string{"PATH", "HOME", "LANG", "LC_ALL", "TMPDIR", "TZ", "SYSTEMROOT"}

// Spec describes one process to run.
type Spec struct {
	Command string
	Args    []string
	Env     map[string]string
	Dir     string
}

// Runner starts tool processes.
type Runner struct {
	stderrLines int
	grace       time.Duration
}

// NewRunner creates a runner keeping stderrLines lines of stderr and
// allowing grace between interrupt and kill.
func NewRunner(stderrLines int, grace time.Duration) *Runner {
	if stderrLines <= 0 {
		stderrLines = DefaultStderrLines
	}
	if grace <= 0 {
		grace = 2 * time.Second
	}
	return &Runner{stderrLines: stderrLines, grace: grace}
}

// Proc is a running tool process.
type Proc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr *LogBuffer

	done    chan struct{}
	waitErr error
	once    sync.Once
}

// Start launches spec. The process is killed when ctx ends.
func (r *Runner) Start(ctx context.Context, spec Spec) (*Proc, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, errors.New("empty command")
	}
	bin, err := exec.LookPath(spec.Command)
	if err != nil {
		return nil, fmt.Errorf("command %q not found: %w", spec.Command, err)
	}

	cmd := exec.CommandContext(ctx, bin, spec.Args...)
	cmd.Env = scrubEnv(spec.Env)
	cmd.Dir = spec.Dir
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = r.grace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	// stdout is a plain pipe owned by us so Wait never closes it under a
	// pending read.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	stderrBuf := NewLogBuffer(r.stderrLines)
	cmd.Stderr = &lineWriter{buf: stderrBuf, stream: "stderr"}

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("failed to start %s: %w", spec.Command, err)
	}
	stdoutW.Close()

	p := &Proc{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReaderSize(stdoutR, 64*1024),
		stderr: stderrBuf,
		done:   make(chan struct{}),
	}

	log.Debug().
		Str("command", spec.Command).
		Int("pid", cmd.Process.Pid).
		Msg("Tool process started")

	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
		stdoutR.Close()
		log.Debug().
			Str("command", spec.Command).
			Int("pid", cmd.Process.Pid).
			Err(p.waitErr).
			Msg("Tool process exited")
	}()

	return p, nil
}

// Stdin is the process's standard input.
func (p *Proc) Stdin() io.Writer { return p.stdin }

// Stdout reads the process's standard output.
func (p *Proc) Stdout() *bufio.Reader { return p.stdout }

// Stderr returns the retained stderr tail.
func (p *Proc) Stderr() string {
	entries := p.stderr.Recent(0)
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.Line
	}
	return strings.Join(lines, "\n")
}

// Done is closed once the process has exited.
func (p *Proc) Done() <-chan struct{} { return p.done }

// Err is the exit error; valid after Done is closed.
func (p *Proc) Err() error { return p.waitErr }

// Stop closes stdin, waits up to grace for a clean exit, then kills.
func (p *Proc) Stop(grace time.Duration) error {
	p.once.Do(func() { _ = p.stdin.Close() })

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(os.Interrupt)
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		<-p.done
		return errors.New("tool process killed after grace period")
	}
}

// lineWriter feeds complete lines into a LogBuffer.
type lineWriter struct {
	buf     *LogBuffer
	stream  string
	pending []byte
}

func (w *lineWriter) Write(b []byte) (int, error) {
	w.pending = append(w.pending, b...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.buf.Write(w.stream, strings.TrimRight(string(w.pending[:i]), "\r"))
		w.pending = w.pending[i+1:]
	}
	if len(w.pending) > maxLineBytes {
		w.buf.Write(w.stream, string(w.pending))
		w.pending = w.pending[:0]
	}
	return len(b), nil
}

// scrubEnv builds the child environment from the allowlist plus extra.
func scrubEnv(extra map[string]string) []string {
	env := make([]string, 0, len(baseEnv)+len(extra))
	for _, k := range baseEnv {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	for k, v := range extra {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
