package model

import "time"

// TestID is an addressable test identity owned by the Resolver.
type TestID struct {
	ID    string // the name as reported by the test runner
	Label string // short human readable name
	URI   string // file the test is defined in, empty if unknown
}

// Location is a 0-based line position inside a file.
type Location struct {
	URI  string
	Line int
}

// TestMessage describes a test failure. Expected and Actual are set
// only for assertion diffs.
type TestMessage struct {
	Text     string
	Expected string
	Actual   string
	IsDiff   bool
	Location *Location
}

// Sink consumes lifecycle calls and raw output of a single run.
type Sink interface {
	AppendOutput(text string, loc *Location, test *TestID)
	Started(test TestID)
	Passed(test TestID, duration time.Duration)
	Failed(test TestID, msg TestMessage, duration time.Duration)
	Skipped(test TestID)
	Errored(test TestID, msg TestMessage, duration time.Duration)
}

// Resolver maps a reported test name to an existing identity. It must be
// safe for concurrent use and is never mutated by a run.
type Resolver interface {
	Resolve(name string) (TestID, bool)
}

// Notifier shows a message to the user outside the run output.
type Notifier interface {
	NotifyError(msg string)
}
