// Package service implements supervision and execution of test runs.
//
// Overview
// The Supervisor owns an event loop, a Runner and a list of uploaders.
// Start triggers come from Do itself in manual mode, or from a gocron
// scheduler in timer mode.
//
// A Job runs the selected configuration profiles. Every profile is one
// orchestrated run of the test runner (package run) writing to its own
// console sink. Profiles run in parallel up to service.parallel and each
// run is recorded to the history database when configured.
//
// Runner is a thin guard around a Job:
//   - starts the job in a goroutine
//   - refuses a second start with model.ErrRunInProgress
//   - exposes a channel of Result values
//
// Data flow:
//
//	Supervisor            Runner                  Job
//	    |                    |                       |
//	    | Start() ---------->| Start() ------------->| Run()
//	    |                    |                       | parallel.Map over profiles
//	    |                    |                       |   run.Orchestrator per profile
//	    |                    |<------ reports -------|
//	    |<------ Result -----|                       |
//	    | upload JSON
//
// Invariants:
//   - At most one Job execution at a time.
//   - Each execution produces one terminal Result.
//   - Results are uploaded only when the execution did not fail.
//
// internal/service/service_test.go is the best source about how to properly use
// Supervisor struct.
package service
