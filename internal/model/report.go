package model

import "time"

// RunState is a terminal state of a run.
type RunState string

const (
	StateCompleted   RunState = "completed"
	StateTimedOut    RunState = "timed_out"
	StateSpawnFailed RunState = "spawn_failed"
	StateCancelled   RunState = "cancelled"
)

// TestStatus is a final status of a single test.
type TestStatus string

const (
	TestPassed  TestStatus = "passed"
	TestFailed  TestStatus = "failed"
	TestSkipped TestStatus = "skipped"
	TestErrored TestStatus = "errored"
)

// RunReport is the published result of one orchestrated run.
type RunReport struct {
	ID      string       `json:"id"`
	Profile string       `json:"profile"`
	State   RunState     `json:"state"`
	Code    int          `json:"code"`
	Success int          `json:"success"`
	Fail    int          `json:"fail"`
	Started time.Time    `json:"started"`
	Stopped time.Time    `json:"stopped"`
	Tests   []TestResult `json:"tests,omitempty"`
	Err     string       `json:"error,omitempty"`
}

type TestResult struct {
	ID       string        `json:"id"`
	Label    string        `json:"label"`
	Status   TestStatus    `json:"status"`
	Duration time.Duration `json:"duration,omitempty"`
	Message  string        `json:"message,omitempty"`
}
