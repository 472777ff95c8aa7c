// Package launch starts a test runner process.
//
// Start never fails synchronously: a process which can't be started is
// represented by a Process whose Wait reports the spawn error, so the
// caller consumes it the same way as any other process exit.
//
// Reading Stdout and Stderr must finish before Wait is called, the same
// rule os/exec applies to its pipes.
package launch

import (
	"errors"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
)

const (
	FilterFlag   = "--filter="
	ReporterFlag = "-o"
)

// Spec is everything needed to start a test runner.
type Spec struct {
	Executable string
	Filters    []string // already validated filter/include/exclude specs
	Files      []string
	ExtraArgs  []string
	Reporter   string // machine readable report sink, passed via -o
	Dir        string
	Env        map[string]string // overlay on top of the current environment
}

// Args builds the argument vector
//
//	[--filter=<f> ...] -o <reporter> [extra ...] [files ...]
//
// When shellQuote is true, filter tokens containing a space or a double
// quote are wrapped in double quotes with inner quotes escaped.
func Args(spec Spec, shellQuote bool) []string {
	args := make([]string, 0, len(spec.Filters)+2+len(spec.ExtraArgs)+len(spec.Files))
	for _, f := range spec.Filters {
		token := FilterFlag + f
		if shellQuote {
			token = quote(token)
		}
		args = append(args, token)
	}
	args = append(args, ReporterFlag, spec.Reporter)
	args = append(args, spec.ExtraArgs...)
	args = append(args, spec.Files...)
	return args
}

func quote(token string) string {
	if !strings.ContainsAny(token, " \"") {
		return token
	}
	return `"` + strings.ReplaceAll(token, `"`, `\"`) + `"`
}

// Exit describes how a process ended.
type Exit struct {
	Code     *int  // nil when the process did not exit normally
	SpawnErr error // the process never started
	Err      error // Wait failure other than a non zero exit code
}

// ExitCode normalizes an unknown exit code to 1.
func (e Exit) ExitCode() int {
	if e.SpawnErr != nil || e.Code == nil {
		return 1
	}
	return *e.Code
}

// Process is a started (or failed to start) test runner. It is safe for
// concurrent use.
type Process struct {
	cmd      *exec.Cmd
	stdout   io.Reader
	stderr   io.Reader
	spawnErr error

	waitOnce sync.Once
	exit     Exit

	mx           sync.Mutex
	done         bool
	terminations int
}

// Start starts spec.Executable with arguments built by Args.
func Start(spec Spec) *Process {
	cmd := command(spec.Executable, Args(spec, shellQuoting))
	cmd.Dir = spec.Dir
	cmd.Env = environ(os.Environ(), spec.Env)
	prepare(cmd)

	p := &Process{cmd: cmd}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return p.failed(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return p.failed(err)
	}
	if err := cmd.Start(); err != nil {
		return p.failed(err)
	}
	p.stdout = stdout
	p.stderr = stderr
	return p
}

func (p *Process) failed(err error) *Process {
	p.spawnErr = err
	p.stdout = strings.NewReader("")
	p.stderr = strings.NewReader("")
	return p
}

func (p *Process) Stdout() io.Reader { return p.stdout }
func (p *Process) Stderr() io.Reader { return p.stderr }

// SpawnErr returns non nil if the process never started.
func (p *Process) SpawnErr() error { return p.spawnErr }

// Pid returns 0 for a process which never started.
func (p *Process) Pid() int {
	if p.spawnErr != nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Wait waits for the process to exit. It can be called many times and
// always returns the same Exit.
func (p *Process) Wait() Exit {
	p.waitOnce.Do(func() {
		if p.spawnErr != nil {
			p.exit = Exit{SpawnErr: p.spawnErr}
		} else {
			if awaitExit(p.cmd.Process) {
				p.markDone()
			}
			err := p.cmd.Wait()
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				err = nil
			}
			p.exit = Exit{Err: err}
			if state := p.cmd.ProcessState; state != nil && state.Exited() {
				code := state.ExitCode()
				p.exit.Code = &code
			}
		}
		p.markDone()
	})
	return p.exit
}

func (p *Process) markDone() {
	p.mx.Lock()
	p.done = true
	p.mx.Unlock()
}

// Terminate forcibly stops the process and its children. Only the first
// call on a running process has an effect and returns true; calls after
// the process ended or on a process which never started are no-ops.
func (p *Process) Terminate() bool {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.spawnErr != nil || p.done || p.terminations > 0 {
		return false
	}
	p.terminations++
	if err := kill(p.cmd.Process); err != nil {
		slog.Warn("terminating test runner", "pid", p.cmd.Process.Pid, "error", err)
	}
	return true
}

// Terminations returns how many Terminate calls had an effect.
func (p *Process) Terminations() int {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.terminations
}

func environ(base []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return base
	}
	ret := make([]string, 0, len(base)+len(overlay))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := overlay[k]; ok {
			continue
		}
		ret = append(ret, kv)
	}
	for _, k := range slices.Sorted(maps.Keys(overlay)) {
		ret = append(ret, k+"="+overlay[k])
	}
	return ret
}
