package protocol_test

import (
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/CZERTAINLY/Herald/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	t.Run("passthrough", func(t *testing.T) {
		for _, text := range []string{"", "hello", "  " + protocol.Marker + " {}", "##herald-report"} {
			line := protocol.Classify(text)
			require.Equal(t, protocol.Passthrough, line.Kind, text)
			require.Equal(t, text, line.Text)
		}
	})

	t.Run("test start", func(t *testing.T) {
		line := protocol.Classify(protocol.Marker + ` {"type":"testStart","test":"a.vader::suite::works"}`)
		require.Equal(t, protocol.Structured, line.Kind)
		require.NoError(t, line.Err)
		require.Equal(t, protocol.KindTestStart, line.Report.Kind)
		require.Equal(t, "a.vader::suite::works", line.Report.TestName)
	})

	t.Run("test end", func(t *testing.T) {
		line := protocol.Classify(protocol.Marker + `	{"type":"testEnd","test":"x","status":"failure","duration":12.5,"message":"boom","line":7}`)
		require.Equal(t, protocol.Structured, line.Kind)
		r := line.Report
		require.Equal(t, protocol.KindTestEnd, r.Kind)
		require.Equal(t, protocol.StatusFailure, r.Status)
		require.Equal(t, 12500*time.Microsecond, r.Elapsed())
		require.Equal(t, "boom", *r.Message)
		require.Equal(t, 7, *r.SourceLine)
	})

	t.Run("top level error", func(t *testing.T) {
		line := protocol.Classify(protocol.Marker + ` {"type":"error","message":"E492: Not an editor command"}`)
		require.Equal(t, protocol.Structured, line.Kind)
		require.Equal(t, protocol.KindError, line.Report.Kind)
		require.Nil(t, line.Report.Duration)
		require.Zero(t, line.Report.Elapsed())
	})

	t.Run("unknown kind", func(t *testing.T) {
		line := protocol.Classify(protocol.Marker + ` {"type":"suiteStart","test":"x"}`)
		require.Equal(t, protocol.Structured, line.Kind)
		require.Equal(t, protocol.KindUnknown, line.Report.Kind)
		require.Equal(t, "suiteStart", line.Report.Type)
	})

	malformed := map[string]string{
		"no payload":       protocol.Marker,
		"separator only":   protocol.Marker + " ",
		"invalid json":     protocol.Marker + ` {"type":"testEnd",`,
		"not an object":    protocol.Marker + ` [1,2]`,
		"null":             protocol.Marker + ` null`,
		"missing type":     protocol.Marker + ` {"test":"x"}`,
		"missing test":     protocol.Marker + ` {"type":"testStart"}`,
		"empty test":       protocol.Marker + ` {"type":"testStart","test":""}`,
		"missing status":   protocol.Marker + ` {"type":"testEnd","test":"x"}`,
		"bad status":       protocol.Marker + ` {"type":"testEnd","test":"x","status":"flaky"}`,
		"line not integer": protocol.Marker + ` {"type":"error","line":1.5}`,
		"line zero":        protocol.Marker + ` {"type":"error","line":0}`,
	}
	for name, text := range malformed {
		t.Run("malformed "+name, func(t *testing.T) {
			line := protocol.Classify(text)
			require.Equal(t, protocol.Malformed, line.Kind)
			require.ErrorIs(t, line.Err, protocol.ErrMalformed)
			require.Equal(t, text, line.Text)
		})
	}
}

func TestLines(t *testing.T) {
	t.Parallel()
	input := strings.Join([]string{
		"plain output",
		protocol.Marker + ` {"type":"testStart","test":"a"}`,
		protocol.Marker + ` {broken`,
		"windows\r",
		protocol.Marker + ` {"type":"testEnd","test":"a","status":"success"}`,
		"no newline at end",
	}, "\n")

	var kinds []protocol.LineKind
	var texts []string
	for line, err := range protocol.Lines(strings.NewReader(input)) {
		require.NoError(t, err)
		kinds = append(kinds, line.Kind)
		texts = append(texts, line.Text)
	}
	require.Equal(t, []protocol.LineKind{
		protocol.Passthrough,
		protocol.Structured,
		protocol.Malformed,
		protocol.Passthrough,
		protocol.Structured,
		protocol.Passthrough,
	}, kinds)
	require.Equal(t, "windows", texts[3])
	require.Equal(t, "no newline at end", texts[5])
}

func TestLinesTooLong(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", protocol.MaxLineSize+1)
	input := strings.Join([]string{
		"ok",
		long,
		protocol.Marker + ` {"type":"testStart","test":"a"}`,
		strings.Repeat("y", protocol.MaxLineSize),
		long,
	}, "\n")

	var lines []protocol.Line
	for line, err := range protocol.Lines(strings.NewReader(input)) {
		require.NoError(t, err)
		lines = append(lines, line)
	}
	require.Len(t, lines, 5)

	require.Equal(t, protocol.Passthrough, lines[0].Kind)

	require.Equal(t, protocol.Malformed, lines[1].Kind)
	require.ErrorIs(t, lines[1].Err, protocol.ErrLineTooLong)
	require.ErrorContains(t, lines[1].Err, "1048578 bytes")
	require.Len(t, lines[1].Text, protocol.PreviewSize)

	require.Equal(t, protocol.Structured, lines[2].Kind)
	require.Equal(t, "a", lines[2].Report.TestName)

	require.Equal(t, protocol.Passthrough, lines[3].Kind, "exactly MaxLineSize is accepted")
	require.Len(t, lines[3].Text, protocol.MaxLineSize)

	// last line without a newline
	require.ErrorIs(t, lines[4].Err, protocol.ErrLineTooLong)
	require.ErrorContains(t, lines[4].Err, "1048577 bytes")
}

func TestLinesReadError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	r := io.MultiReader(strings.NewReader("one\ntwo"), iotest.ErrReader(boom))

	var texts []string
	var errs []error
	for line, err := range protocol.Lines(r) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		texts = append(texts, line.Text)
	}
	require.Equal(t, []string{"one", "two"}, texts)
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], boom)
}

func TestElapsed(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name     string
		payload  string
		expected time.Duration
	}{
		{"fraction", `{"type":"testEnd","test":"a","status":"success","duration":0.5}`, 500 * time.Microsecond},
		{"huge", `{"type":"testEnd","test":"a","status":"success","duration":1e300}`, math.MaxInt64},
		{"just above the limit", `{"type":"testEnd","test":"a","status":"success","duration":9223372036854.776}`, math.MaxInt64},
		{"zero", `{"type":"testEnd","test":"a","status":"success","duration":0}`, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r, err := protocol.Decode([]byte(tc.payload))
			require.NoError(t, err)
			require.Equal(t, tc.expected, r.Elapsed())
		})
	}

	negative := -1.0
	require.Zero(t, protocol.Report{Duration: &negative}.Elapsed())
}

func TestShortName(t *testing.T) {
	t.Parallel()
	require.Equal(t, "works", protocol.ShortName("test/a.vader::suite::works"))
	require.Equal(t, "plain", protocol.ShortName("plain"))
	require.Equal(t, "", protocol.ShortName("trailing::"))
}
