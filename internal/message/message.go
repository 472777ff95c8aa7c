// Package message turns failure details reported by a test runner into
// messages understood by a run sink.
package message

import (
	"regexp"
	"strings"

	"github.com/CZERTAINLY/Herald/internal/model"
	"github.com/CZERTAINLY/Herald/internal/protocol"
)

const UnknownError = "Unknown error"

// Message is either a Diff or a Plain text.
type Message interface {
	isMessage()
}

// Diff is an assertion failure with expected and actual values.
type Diff struct {
	Label    string
	Expected string
	Actual   string
}

// Plain is any other failure text.
type Plain struct {
	Text string
}

func (Diff) isMessage()  {}
func (Plain) isMessage() {}

// <label>\nPassed in:\n<actual>\nExpected:\n<expected>
var diffRx = regexp.MustCompile(`(?s)^(.*?)\r?\nPassed in:\r?\n(.*?)\r?\nExpected:\r?\n(.*)$`)

// Classify detects the assertion diff layout in text.
func Classify(text string) Message {
	m := diffRx.FindStringSubmatch(text)
	if m == nil {
		return Plain{Text: text}
	}
	return Diff{
		Label:    strings.TrimSpace(m[1]),
		Actual:   m[2],
		Expected: strings.TrimRight(m[3], "\r\n"),
	}
}

// Build creates a test message for a failure report of test. A source
// location is attached only when both the test URI and the reported line
// are known.
func Build(r protocol.Report, test model.TestID) model.TestMessage {
	var ret model.TestMessage
	if r.Message == nil || *r.Message == "" {
		ret.Text = UnknownError
	} else {
		switch m := Classify(*r.Message).(type) {
		case Diff:
			ret.Text = m.Label
			ret.Expected = m.Expected
			ret.Actual = m.Actual
			ret.IsDiff = true
		case Plain:
			ret.Text = m.Text
		}
	}

	if test.URI != "" && r.SourceLine != nil {
		ret.Location = &model.Location{
			URI:  test.URI,
			Line: *r.SourceLine - 1,
		}
	}
	return ret
}
