// Package watchdog kills a test runner which stopped producing output.
package watchdog

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultPeriod = time.Second

// Terminator is implemented by launch.Process.
type Terminator interface {
	Terminate() bool
}

type Option func(*Watchdog)

// WithPeriod changes how often the idle time is checked.
func WithPeriod(d time.Duration) Option {
	return func(w *Watchdog) {
		if d > 0 {
			w.period = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Watchdog) {
		w.now = now
	}
}

// Watchdog polls the time elapsed since the last Bump. When it reaches
// the timeout, onTimeout is called exactly once, then the process gets
// terminated and polling stops.
//
// onTimeout runs on the watchdog goroutine while Stop is blocked, so it
// must be short and must not call Stop. Anything it needs to know about
// the run must be read at that moment, not captured when the watchdog
// was started.
type Watchdog struct {
	term      Terminator
	timeout   time.Duration
	period    time.Duration
	onTimeout func()
	now       func() time.Time

	last atomic.Int64

	mx       sync.Mutex
	stopped  bool
	fired    bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Start begins monitoring. A non positive timeout disables the watchdog.
func Start(term Terminator, timeout time.Duration, onTimeout func(), opts ...Option) *Watchdog {
	w := &Watchdog{
		term:      term,
		timeout:   timeout,
		period:    DefaultPeriod,
		onTimeout: onTimeout,
		now:       time.Now,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.Bump()

	if timeout <= 0 {
		w.stopped = true
		close(w.done)
		return w
	}
	go w.loop()
	return w
}

// Bump records output activity.
func (w *Watchdog) Bump() {
	w.last.Store(w.now().UnixNano())
}

// Stop ends monitoring and waits for the polling goroutine. It is safe to
// call many times. Once Stop returns the watchdog never fires.
func (w *Watchdog) Stop() {
	w.mx.Lock()
	w.stopped = true
	w.mx.Unlock()
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

// Fired reports whether the timeout has been reached.
func (w *Watchdog) Fired() bool {
	w.mx.Lock()
	defer w.mx.Unlock()
	return w.fired
}

// Idle returns the time since the last activity.
func (w *Watchdog) Idle() time.Duration {
	return w.now().Sub(time.Unix(0, w.last.Load()))
}

func (w *Watchdog) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if w.check() {
				return
			}
		}
	}
}

// check returns true when polling should end
func (w *Watchdog) check() bool {
	if w.Idle() < w.timeout {
		return false
	}

	w.mx.Lock()
	if w.stopped {
		w.mx.Unlock()
		return true
	}
	w.stopped = true
	w.fired = true
	if w.onTimeout != nil {
		w.onTimeout()
	}
	w.mx.Unlock()

	w.term.Terminate()
	return true
}

// Reader bumps the watchdog on every non empty read from r.
func (w *Watchdog) Reader(r io.Reader) io.Reader {
	return activityReader{r: r, w: w}
}

type activityReader struct {
	r io.Reader
	w *Watchdog
}

func (a activityReader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if n > 0 {
		a.w.Bump()
	}
	return n, err
}
