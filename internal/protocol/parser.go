package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
)

// Marker starts every structured line. It is followed by a single
// separating character and a JSON payload.
const Marker = "##herald-report##"

// MaxLineSize is the longest line Lines accepts.
const MaxLineSize = 1024 * 1024

// PreviewSize is how much of an overlong line is kept.
const PreviewSize = 256

var ErrLineTooLong = errors.New("line too long")

// LineKind classifies a line of the runner's standard output.
type LineKind int

const (
	Passthrough LineKind = iota
	Structured
	Malformed
)

func (k LineKind) String() string {
	switch k {
	case Passthrough:
		return "passthrough"
	case Structured:
		return "structured"
	case Malformed:
		return "malformed"
	default:
		return fmt.Sprintf("LineKind(%d)", int(k))
	}
}

// Line is a classified line. Report is valid for Structured, Err
// for Malformed lines.
type Line struct {
	Kind   LineKind
	Text   string
	Report Report
	Err    error
}

// Classify decides whether a line without its terminating newline
// carries a structured report.
func Classify(text string) Line {
	rest, ok := strings.CutPrefix(text, Marker)
	if !ok {
		return Line{Kind: Passthrough, Text: text}
	}
	if len(rest) < 2 {
		return Line{Kind: Malformed, Text: text, Err: fmt.Errorf("%w: empty payload", ErrMalformed)}
	}
	report, err := Decode([]byte(rest[1:]))
	if err != nil {
		return Line{Kind: Malformed, Text: text, Err: err}
	}
	return Line{Kind: Structured, Text: text, Report: report}
}

// Lines classifies r line by line in order. A line longer than
// MaxLineSize is skipped up to its newline and yielded as Malformed with
// ErrLineTooLong and the first PreviewSize bytes as Text; the lines after
// it are processed as usual. A read error is yielded once as the last
// element.
func Lines(r io.Reader) iter.Seq2[Line, error] {
	return func(yield func(Line, error) bool) {
		br := bufio.NewReaderSize(r, 64*1024)
		var buf []byte
		for {
			var err error
			var chunk []byte
			size, tooLong := 0, false
			buf = buf[:0]
			for {
				chunk, err = br.ReadSlice('\n')
				size += len(chunk)
				if !tooLong {
					buf = append(buf, chunk...)
					// one extra byte for the newline
					if len(buf) > MaxLineSize+1 {
						tooLong = true
						buf = buf[:PreviewSize]
					}
				}
				if !errors.Is(err, bufio.ErrBufferFull) {
					break
				}
			}
			if size == 0 {
				if err != nil && !errors.Is(err, io.EOF) {
					yield(Line{}, err)
				}
				return
			}

			text := strings.TrimSuffix(string(buf), "\n")
			if !tooLong && len(text) > MaxLineSize {
				tooLong = true
				text = text[:PreviewSize]
			}
			var line Line
			if tooLong {
				line = Line{
					Kind: Malformed,
					Text: text,
					Err:  fmt.Errorf("%w: %d bytes", ErrLineTooLong, size),
				}
			} else {
				line = Classify(strings.TrimSuffix(text, "\r"))
			}
			if !yield(line, nil) {
				return
			}

			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(Line{}, err)
				}
				return
			}
		}
	}
}
