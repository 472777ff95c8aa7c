package run_test

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CZERTAINLY/Herald/internal/model"
	"github.com/CZERTAINLY/Herald/internal/protocol"
)

type output struct {
	Text string
	Test string // empty when not attributed
}

type event struct {
	Method   string
	Test     string
	Msg      model.TestMessage
	Duration time.Duration
}

// recorder is a model.Sink remembering every call.
type recorder struct {
	mx      sync.Mutex
	outputs []output
	events  []event
	started chan string
}

func newRecorder() *recorder {
	return &recorder{started: make(chan string, 16)}
}

func (r *recorder) AppendOutput(text string, _ *model.Location, test *model.TestID) {
	r.mx.Lock()
	defer r.mx.Unlock()
	o := output{Text: text}
	if test != nil {
		o.Test = test.ID
	}
	r.outputs = append(r.outputs, o)
}

func (r *recorder) add(e event) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Started(test model.TestID) {
	r.add(event{Method: "started", Test: test.ID})
	select {
	case r.started <- test.ID:
	default:
	}
}

func (r *recorder) Passed(test model.TestID, d time.Duration) {
	r.add(event{Method: "passed", Test: test.ID, Duration: d})
}

func (r *recorder) Failed(test model.TestID, msg model.TestMessage, d time.Duration) {
	r.add(event{Method: "failed", Test: test.ID, Msg: msg, Duration: d})
}

func (r *recorder) Skipped(test model.TestID) {
	r.add(event{Method: "skipped", Test: test.ID})
}

func (r *recorder) Errored(test model.TestID, msg model.TestMessage, d time.Duration) {
	r.add(event{Method: "errored", Test: test.ID, Msg: msg, Duration: d})
}

func (r *recorder) Outputs() []output {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]output(nil), r.outputs...)
}

func (r *recorder) Events() []event {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]event(nil), r.events...)
}

func (r *recorder) Methods(method string) []event {
	var ret []event
	for _, e := range r.Events() {
		if e.Method == method {
			ret = append(ret, e)
		}
	}
	return ret
}

// Passthrough returns outputs which are not run:, end: or the summary.
func (r *recorder) Passthrough() []output {
	var ret []output
	for _, o := range r.Outputs() {
		if strings.HasPrefix(o.Text, "run: ") || strings.HasPrefix(o.Text, "end: ") || strings.HasPrefix(o.Text, "Tests ") {
			continue
		}
		ret = append(ret, o)
	}
	return ret
}

func (r *recorder) Last() output {
	r.mx.Lock()
	defer r.mx.Unlock()
	if len(r.outputs) == 0 {
		return output{}
	}
	return r.outputs[len(r.outputs)-1]
}

// resolver knows every name except those starting with "unknown".
type resolver struct{}

func (resolver) Resolve(name string) (model.TestID, bool) {
	if strings.HasPrefix(name, "unknown") {
		return model.TestID{}, false
	}
	return model.TestID{
		ID:    name,
		Label: protocol.ShortName(name),
		URI:   "file:///tests/" + strings.Split(name, "::")[0],
	}, true
}

type notifier struct {
	mx   sync.Mutex
	msgs []string
}

func (n *notifier) NotifyError(msg string) {
	n.mx.Lock()
	defer n.mx.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *notifier) Messages() []string {
	n.mx.Lock()
	defer n.mx.Unlock()
	return append([]string(nil), n.msgs...)
}

type metrics struct {
	tests     atomic.Int32
	malformed atomic.Int32
	fired     atomic.Int32
	runs      atomic.Int32
}

func (m *metrics) TestFinished(model.TestStatus)             { m.tests.Add(1) }
func (m *metrics) Malformed()                                { m.malformed.Add(1) }
func (m *metrics) WatchdogFired()                            { m.fired.Add(1) }
func (m *metrics) RunFinished(model.RunState, time.Duration) { m.runs.Add(1) }

func ptr[T any](v T) *T {
	return &v
}
