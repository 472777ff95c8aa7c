package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	_ "embed"

	jss "github.com/kaptinlin/jsonschema"
)

// Kind is a type of a structured report.
type Kind string

const (
	KindTestStart Kind = "testStart"
	KindTestEnd   Kind = "testEnd"
	KindError     Kind = "error"
	KindUnknown   Kind = "unknown"
)

// Status is a final status carried by testEnd.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusPending Status = "pending"
	StatusError   Status = "error"
)

var ErrMalformed = errors.New("malformed report")

// Report is a decoded structured record.
type Report struct {
	Kind       Kind
	Type       string // type as received, differs from Kind for KindUnknown
	TestName   string
	Status     Status
	Duration   *float64 // milliseconds
	Message    *string
	SourceLine *int // 1-based
}

// Elapsed returns the reported duration, zero when absent or negative.
// Durations too long for time.Duration are clamped.
func (r Report) Elapsed() time.Duration {
	if r.Duration == nil || *r.Duration <= 0 {
		return 0
	}
	ns := *r.Duration * float64(time.Millisecond)
	if ns >= math.MaxInt64 {
		return math.MaxInt64
	}
	return time.Duration(ns)
}

type wireReport struct {
	Type     string   `json:"type"`
	Test     string   `json:"test"`
	Status   string   `json:"status"`
	Duration *float64 `json:"duration"`
	Message  *string  `json:"message"`
	Line     *int     `json:"line"`
}

//go:embed report.schema.json
var schemaSource []byte

var reportSchema *jss.Schema

func init() {
	compiler := jss.NewCompiler()
	s, err := compiler.Compile(schemaSource)
	if err != nil {
		panic(fmt.Errorf("compiling report schema: %w", err))
	}
	reportSchema = s
}

// Decode parses and validates a JSON payload of a structured line.
// Any error wraps ErrMalformed.
func Decode(payload []byte) (Report, error) {
	payload = bytes.TrimSpace(payload)
	var generic map[string]any
	if err := json.Unmarshal(payload, &generic); err != nil {
		return Report{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if generic == nil {
		return Report{}, fmt.Errorf("%w: payload is not an object", ErrMalformed)
	}

	res := reportSchema.Validate(generic)
	if !res.Valid {
		msgs := make([]string, 0, len(res.Errors))
		for _, e := range res.Errors {
			msgs = append(msgs, fmt.Sprintf("%s: %s", e.Keyword, e.Error()))
		}
		slices.Sort(msgs)
		return Report{}, fmt.Errorf("%w: %s", ErrMalformed, strings.Join(msgs, "; "))
	}

	var w wireReport
	if err := json.Unmarshal(payload, &w); err != nil {
		return Report{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	r := Report{
		Kind:       Kind(w.Type),
		Type:       w.Type,
		TestName:   w.Test,
		Status:     Status(w.Status),
		Duration:   w.Duration,
		Message:    w.Message,
		SourceLine: w.Line,
	}
	switch r.Kind {
	case KindTestStart, KindTestEnd, KindError:
	default:
		r.Kind = KindUnknown
	}
	return r, nil
}

// ShortName returns the last "::" separated segment of a test name.
func ShortName(name string) string {
	if i := strings.LastIndex(name, "::"); i >= 0 {
		return name[i+2:]
	}
	return name
}
