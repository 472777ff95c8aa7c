package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/acarl005/stripansi"

	"github.com/CZERTAINLY/Herald/internal/message"
	"github.com/CZERTAINLY/Herald/internal/model"
	"github.com/CZERTAINLY/Herald/internal/protocol"
)

// Aggregator maps decoded reports to sink calls and session counters.
// It is not safe for concurrent use: reports must be handled one at a
// time in the order the runner emitted them.
type Aggregator struct {
	session  *Session
	sink     model.Sink
	resolver model.Resolver
	logger   *slog.Logger
	metrics  Metrics
}

func NewAggregator(session *Session, sink model.Sink, resolver model.Resolver, logger *slog.Logger, metrics Metrics) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Aggregator{
		session:  session,
		sink:     sink,
		resolver: resolver,
		logger:   logger,
		metrics:  metrics,
	}
}

// Handle processes one structured report.
func (a *Aggregator) Handle(ctx context.Context, r protocol.Report) {
	switch r.Kind {
	case protocol.KindTestStart:
		a.testStart(ctx, r)
	case protocol.KindTestEnd:
		a.testEnd(ctx, r)
	case protocol.KindError:
		a.topLevelError(ctx, r)
	default:
		a.logger.WarnContext(ctx, "unknown report type", "type", r.Type, "test", r.TestName)
		a.session.AddFail()
	}
}

func (a *Aggregator) testStart(ctx context.Context, r protocol.Report) {
	test, ok := a.resolver.Resolve(r.TestName)
	if !ok {
		a.logger.DebugContext(ctx, "test not resolved", "test", r.TestName)
		a.sink.AppendOutput("run: "+protocol.ShortName(r.TestName)+"\n", nil, nil)
		return
	}
	a.sink.Started(test)
	a.session.SetActive(test)
	a.sink.AppendOutput("run: "+protocol.ShortName(r.TestName)+"\n", nil, &test)
}

func (a *Aggregator) testEnd(ctx context.Context, r protocol.Report) {
	a.session.ClearActive()
	line := fmt.Sprintf("end: %s (%s)\n", protocol.ShortName(r.TestName), r.Status)

	test, ok := a.resolver.Resolve(r.TestName)
	if !ok {
		a.logger.DebugContext(ctx, "test not resolved", "test", r.TestName, "status", r.Status)
		a.sink.AppendOutput(line, nil, nil)
		return
	}
	a.sink.AppendOutput(line, nil, &test)

	switch r.Status {
	case protocol.StatusSuccess:
		a.sink.Passed(test, r.Elapsed())
		a.session.AddSuccess()
		a.metrics.TestFinished(model.TestPassed)
	case protocol.StatusFailure:
		a.sink.Failed(test, message.Build(r, test), r.Elapsed())
		a.session.AddFail()
		a.metrics.TestFinished(model.TestFailed)
	case protocol.StatusPending:
		a.sink.Skipped(test)
		a.metrics.TestFinished(model.TestSkipped)
	case protocol.StatusError:
		a.sink.Errored(test, message.Build(r, test), r.Elapsed())
		a.session.AddFail()
		a.metrics.TestFinished(model.TestErrored)
	default:
		a.logger.WarnContext(ctx, "unknown test status", "test", r.TestName, "status", r.Status)
	}
}

func (a *Aggregator) topLevelError(ctx context.Context, r protocol.Report) {
	a.session.AddFail()
	text := message.UnknownError
	if r.Message != nil && *r.Message != "" {
		text = *r.Message
	}
	a.logger.ErrorContext(ctx, "test runner reported an error", "message", stripansi.Strip(text))
	a.sink.AppendOutput(text+"\n", nil, a.session.Active())
}

// Passthrough forwards a non structured stdout line.
func (a *Aggregator) Passthrough(ctx context.Context, text string) {
	a.logger.DebugContext(ctx, "stdout", "line", stripansi.Strip(text))
	a.sink.AppendOutput(text+"\n", nil, a.session.Active())
}

// Stderr forwards a raw chunk of the standard error.
func (a *Aggregator) Stderr(ctx context.Context, chunk string) {
	a.logger.DebugContext(ctx, "stderr", "chunk", stripansi.Strip(chunk))
	a.sink.AppendOutput(chunk, nil, a.session.Active())
}

// Malformed logs a structured line which could not be decoded, or an
// output line skipped for being too long.
func (a *Aggregator) Malformed(ctx context.Context, text string, err error) {
	if errors.Is(err, protocol.ErrLineTooLong) {
		a.logger.WarnContext(ctx, "skipping overlong output line", "preview", stripansi.Strip(text), "error", err)
		return
	}
	a.logger.ErrorContext(ctx, "malformed report", "line", stripansi.Strip(text), "error", err)
	a.metrics.Malformed()
}
