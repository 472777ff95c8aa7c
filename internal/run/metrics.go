package run

import (
	"time"

	"github.com/CZERTAINLY/Herald/internal/model"
)

// Metrics observes a run. See package metrics for the prometheus
// implementation.
type Metrics interface {
	TestFinished(status model.TestStatus)
	Malformed()
	WatchdogFired()
	RunFinished(state model.RunState, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) TestFinished(model.TestStatus)             {}
func (nopMetrics) Malformed()                                {}
func (nopMetrics) WatchdogFired()                            {}
func (nopMetrics) RunFinished(model.RunState, time.Duration) {}
