// Package run orchestrates a single test runner invocation.
//
// A run owns one launch.Process and one Session. A pump goroutine reads
// the standard output line by line and the standard error in raw chunks,
// bumping the idle watchdog on every read, then waits for the process
// and publishes its exit. A single coordinating loop consumes
//
//   - classified stdout lines
//   - stderr chunks
//   - the process exit (or spawn failure)
//   - the watchdog fire
//   - context cancellation
//
// in that order of arrival. The first terminal event finalizes the
// session, everything after it is ignored.
package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/CZERTAINLY/Herald/internal/launch"
	"github.com/CZERTAINLY/Herald/internal/log"
	"github.com/CZERTAINLY/Herald/internal/model"
	"github.com/CZERTAINLY/Herald/internal/protocol"
	"github.com/CZERTAINLY/Herald/internal/watchdog"
)

// DefaultGrace is how long a finalized run waits for its readers.
const DefaultGrace = 5 * time.Second

// Outcome is the result of Run.
type Outcome struct {
	ID      uuid.UUID
	State   model.RunState
	Code    int
	Success int
	Fail    int
	Started time.Time
	Stopped time.Time
	Err     error // spawn failure or a wait error

	// Terminations is 1 when the runner had to be killed
	Terminations int
}

type Orchestrator struct {
	sink     model.Sink
	resolver model.Resolver
	notifier model.Notifier
	logger   *slog.Logger
	metrics  Metrics
	period   time.Duration
	grace    time.Duration
}

type Option func(*Orchestrator)

// WithNotifier sets who is told about a runner which can't be started.
func WithNotifier(n model.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithWatchdogPeriod changes how often the idle time is checked.
func WithWatchdogPeriod(d time.Duration) Option {
	return func(o *Orchestrator) { o.period = d }
}

// WithGrace changes DefaultGrace.
func WithGrace(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.grace = d
		}
	}
}

func New(sink model.Sink, resolver model.Resolver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sink:     sink,
		resolver: resolver,
		logger:   slog.Default(),
		metrics:  nopMetrics{},
		period:   watchdog.DefaultPeriod,
		grace:    DefaultGrace,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type events struct {
	lines  chan protocol.Line
	chunks chan string
	exited chan launch.Exit
	fired  chan struct{}
	quit   chan struct{}
	pumped chan struct{}
}

// Run starts the runner described by spec and blocks until the run is
// finalized by the process exit, a spawn failure, idleTimeout without
// any output or ctx cancellation. A non positive idleTimeout disables
// the watchdog.
func (o *Orchestrator) Run(ctx context.Context, spec launch.Spec, idleTimeout time.Duration) Outcome {
	return o.RunID(ctx, uuid.New(), spec, idleTimeout)
}

// RunID is Run with a caller chosen run id.
func (o *Orchestrator) RunID(ctx context.Context, id uuid.UUID, spec launch.Spec, idleTimeout time.Duration) Outcome {
	out := Outcome{
		ID:      id,
		Started: time.Now().UTC(),
	}
	ctx = log.ContextAttrs(ctx, slog.String("run_id", out.ID.String()))

	session := NewSession()
	agg := NewAggregator(session, o.sink, o.resolver, o.logger, o.metrics)

	ev := events{
		lines:  make(chan protocol.Line),
		chunks: make(chan string),
		exited: make(chan launch.Exit, 1),
		fired:  make(chan struct{}, 1),
		quit:   make(chan struct{}),
		pumped: make(chan struct{}),
	}

	o.logger.InfoContext(ctx, "starting test runner", "executable", spec.Executable, "args", launch.Args(spec, false), "dir", spec.Dir)
	proc := launch.Start(spec)
	wd := watchdog.Start(proc, idleTimeout, func() {
		select {
		case ev.fired <- struct{}{}:
		default:
		}
	}, watchdog.WithPeriod(o.period))

	go func() {
		defer close(ev.pumped)
		o.pump(ctx, proc, wd, ev)
	}()

	for {
		var done bool
		select {
		case line := <-ev.lines:
			switch line.Kind {
			case protocol.Structured:
				agg.Handle(ctx, line.Report)
			case protocol.Malformed:
				agg.Malformed(ctx, line.Text, line.Err)
			default:
				agg.Passthrough(ctx, line.Text)
			}
		case chunk := <-ev.chunks:
			agg.Stderr(ctx, chunk)
		case exit := <-ev.exited:
			// the watchdog is stopped before exit is published
			if wd.Fired() {
				done = o.timedOut(ctx, session, idleTimeout)
			} else {
				done = o.exited(ctx, session, spec, exit, &out)
			}
		case <-ev.fired:
			done = o.timedOut(ctx, session, idleTimeout)
		case <-ctx.Done():
			o.logger.InfoContext(ctx, "run cancelled", "cause", context.Cause(ctx))
			done = session.Finalize(model.StateCancelled, 1)
		}
		if done {
			break
		}
	}

	close(ev.quit)
	proc.Terminate()
	wd.Stop()
	select {
	case <-ev.pumped:
	case <-time.After(o.grace):
		o.logger.WarnContext(ctx, "test runner output not closed", "pid", proc.Pid(), "grace", o.grace)
	}

	out.State, out.Code, _ = session.Terminal()
	out.Success, out.Fail = session.Counts()
	out.Stopped = time.Now().UTC()
	out.Terminations = proc.Terminations()

	summary := Summary(out.State, out.Code, out.Success, out.Fail, out.Err)
	o.sink.AppendOutput(summary+"\n", nil, nil)
	o.logger.InfoContext(ctx, "run finished",
		"state", out.State,
		"code", out.Code,
		"success", out.Success,
		"fail", out.Fail,
		"terminations", out.Terminations,
	)
	o.metrics.RunFinished(out.State, out.Stopped.Sub(out.Started))
	return out
}

func (o *Orchestrator) exited(ctx context.Context, session *Session, spec launch.Spec, exit launch.Exit, out *Outcome) bool {
	if exit.SpawnErr != nil {
		out.Err = exit.SpawnErr
		o.logger.ErrorContext(ctx, "test runner can't be started", "executable", spec.Executable, "error", exit.SpawnErr)
		if !session.Finalize(model.StateSpawnFailed, 1) {
			return true
		}
		if o.notifier != nil {
			o.notifier.NotifyError(fmt.Sprintf("Failed to start %s: %v", spec.Executable, exit.SpawnErr))
		}
		return true
	}
	if exit.Err != nil {
		out.Err = exit.Err
		o.logger.ErrorContext(ctx, "waiting for test runner", "error", exit.Err)
	}
	session.Finalize(model.StateCompleted, exit.ExitCode())
	return true
}

// timedOut reads the test in flight at the time of the fire.
func (o *Orchestrator) timedOut(ctx context.Context, session *Session, idleTimeout time.Duration) bool {
	if !session.Finalize(model.StateTimedOut, 1) {
		return true
	}
	o.metrics.WatchdogFired()
	msg := TimeoutMessage(idleTimeout)
	active := session.Active()
	o.logger.ErrorContext(ctx, "test runner timed out", "idle_timeout", idleTimeout, "active", activeID(active))
	if active != nil {
		o.sink.Errored(*active, model.TestMessage{Text: msg}, idleTimeout)
		o.metrics.TestFinished(model.TestErrored)
	}
	return true
}

// pump must finish reading stdout and stderr before calling Wait, the
// same rule os/exec imposes on its pipes.
func (o *Orchestrator) pump(ctx context.Context, proc *launch.Process, wd *watchdog.Watchdog, ev events) {
	var g errgroup.Group
	g.Go(func() error {
		stdout := wd.Reader(proc.Stdout())
		for line, err := range protocol.Lines(stdout) {
			if err != nil {
				// keep the pipe flowing so the runner does not block on a
				// transient read error
				_, _ = io.Copy(io.Discard, stdout)
				return fmt.Errorf("reading stdout: %w", err)
			}
			select {
			case ev.lines <- line:
			case <-ev.quit:
				return nil
			}
		}
		return nil
	})
	g.Go(func() error {
		stderr := wd.Reader(proc.Stderr())
		buf := make([]byte, 32*1024)
		for {
			n, err := stderr.Read(buf)
			if n > 0 {
				select {
				case ev.chunks <- string(buf[:n]):
				case <-ev.quit:
					return nil
				}
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading stderr: %w", err)
			}
		}
	})
	if err := g.Wait(); err != nil {
		o.logger.ErrorContext(ctx, "reading test runner output", "error", err)
	}
	// a runner may close its output and keep running, the watchdog
	// guards it until it is reaped
	exit := proc.Wait()
	wd.Stop()
	ev.exited <- exit
}

// Summary formats the last line of a run output.
func Summary(state model.RunState, code, success, fail int, err error) string {
	verb := "finished"
	if code != 0 {
		verb = "failed"
	}
	s := fmt.Sprintf("Tests %s (code %d): success: %d and fails: %d", verb, code, success, fail)
	switch state {
	case model.StateTimedOut:
		s += ", timed out"
	case model.StateCancelled:
		s += ", cancelled"
	case model.StateSpawnFailed:
		s += ", spawn failed"
		if err != nil {
			s += ": " + err.Error()
		}
	}
	return s
}

// TimeoutMessage is the error of a test in flight when the watchdog fires.
func TimeoutMessage(idleTimeout time.Duration) string {
	return fmt.Sprintf("Test timed out after %dms without output", idleTimeout.Milliseconds())
}

func activeID(t *model.TestID) string {
	if t == nil {
		return ""
	}
	return t.ID
}
