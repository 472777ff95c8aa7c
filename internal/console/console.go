// Package console is a run sink writing test runner output to a terminal.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/CZERTAINLY/Herald/internal/model"
)

// Sink implements model.Sink and model.Notifier. Output goes to out,
// notifications to errOut. Every line is prefixed by "[<prefix>] " when
// prefix is not empty, which keeps output of parallel runs apart.
type Sink struct {
	mx      sync.Mutex
	out     io.Writer
	errOut  io.Writer
	prefix  string
	partial bool // last output did not end with a newline
	order   []string
	results map[string]*model.TestResult
}

func New(out, errOut io.Writer, prefix string) *Sink {
	return &Sink{
		out:     out,
		errOut:  errOut,
		prefix:  prefix,
		results: make(map[string]*model.TestResult),
	}
}

func (s *Sink) AppendOutput(text string, _ *model.Location, _ *model.TestID) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.prefix == "" {
		_, _ = io.WriteString(s.out, text)
		return
	}
	var b strings.Builder
	for line := range strings.SplitAfterSeq(text, "\n") {
		if line == "" {
			continue
		}
		if !s.partial {
			b.WriteString("[" + s.prefix + "] ")
		}
		b.WriteString(line)
		s.partial = !strings.HasSuffix(line, "\n")
	}
	_, _ = io.WriteString(s.out, b.String())
}

func (s *Sink) Started(test model.TestID) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.result(test)
}

func (s *Sink) Passed(test model.TestID, duration time.Duration) {
	s.finish(test, model.TestPassed, duration, "")
}

func (s *Sink) Failed(test model.TestID, msg model.TestMessage, duration time.Duration) {
	s.finish(test, model.TestFailed, duration, Format(msg))
}

func (s *Sink) Skipped(test model.TestID) {
	s.finish(test, model.TestSkipped, 0, "")
}

func (s *Sink) Errored(test model.TestID, msg model.TestMessage, duration time.Duration) {
	s.finish(test, model.TestErrored, duration, Format(msg))
}

// NotifyError writes msg to errOut.
func (s *Sink) NotifyError(msg string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.prefix != "" {
		msg = "[" + s.prefix + "] " + msg
	}
	_, _ = fmt.Fprintln(s.errOut, msg)
}

// Results returns finished and running tests in the order they were
// first seen.
func (s *Sink) Results() []model.TestResult {
	s.mx.Lock()
	defer s.mx.Unlock()
	ret := make([]model.TestResult, 0, len(s.order))
	for _, id := range s.order {
		ret = append(ret, *s.results[id])
	}
	return ret
}

func (s *Sink) result(test model.TestID) *model.TestResult {
	r, ok := s.results[test.ID]
	if !ok {
		r = &model.TestResult{ID: test.ID, Label: test.Label}
		s.results[test.ID] = r
		s.order = append(s.order, test.ID)
	}
	return r
}

func (s *Sink) finish(test model.TestID, status model.TestStatus, duration time.Duration, msg string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	r := s.result(test)
	r.Status = status
	r.Duration = duration
	r.Message = msg
}

// Format renders a test message as plain text.
func Format(msg model.TestMessage) string {
	var b strings.Builder
	b.WriteString(msg.Text)
	if msg.IsDiff {
		fmt.Fprintf(&b, "\nexpected: %s\nactual:   %s", msg.Expected, msg.Actual)
	}
	if msg.Location != nil {
		fmt.Fprintf(&b, "\nat %s:%d", msg.Location.URI, msg.Location.Line+1)
	}
	return b.String()
}

// Table renders the per test results of reports.
func Table(w io.Writer, reports ...model.RunReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Profile", "Test", "Status", "Duration", "Message"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Profile", AutoMerge: true},
		{Name: "Test", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Message", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})

	var success, fail int
	for _, r := range reports {
		for _, test := range r.Tests {
			status := string(test.Status)
			if status == "" {
				status = "running"
			}
			t.AppendRow(table.Row{
				r.Profile,
				test.Label,
				status,
				formatDuration(test.Duration),
				test.Message,
			})
		}
		t.AppendRow(table.Row{r.Profile, "", string(r.State), "", fmt.Sprintf("code %d", r.Code)})
		t.AppendSeparator()
		success += r.Success
		fail += r.Fail
	}
	t.AppendFooter(table.Row{"TOTAL", "", fmt.Sprintf("%d passed", success), "", fmt.Sprintf("%d failed", fail)})
	t.SetStyle(table.StyleLight)
	t.Render()
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.3fs", d.Seconds())
}
