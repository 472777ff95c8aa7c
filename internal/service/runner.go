package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/CZERTAINLY/Herald/internal/model"
)

var ErrRunNotStarted = errors.New("run not started")

// Result of one Job execution.
type Result struct {
	Started time.Time
	Stopped time.Time
	Reports []model.RunReport
	Err     error
}

// Code returns the highest exit code of all reports, 1 on error.
func (r Result) Code() int {
	if r.Err != nil && len(r.Reports) == 0 {
		return 1
	}
	return MaxCode(r.Reports)
}

// Runner ensures a single execution of a Job is active.
type Runner struct {
	job interface {
		Run(context.Context) ([]model.RunReport, error)
	}

	mx      sync.Mutex
	running bool
	cancel  context.CancelFunc
	result  Result
	results chan Result
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func NewRunner(job *Job) *Runner {
	return &Runner{
		job:     job,
		result:  Result{Err: ErrRunNotStarted},
		results: make(chan Result, 1),
		done:    make(chan struct{}),
	}
}

// Start runs the job in a new goroutine. It returns model.ErrRunInProgress
// if a previous execution has not finished yet. The result is delivered
// via ResultsChan.
func (r *Runner) Start(ctx context.Context) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	select {
	case <-r.done:
		return errors.New("runner closed")
	default:
	}
	if r.running {
		return model.ErrRunInProgress
	}
	r.running = true
	r.result = Result{Started: time.Now().UTC()}
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Go(func() {
		reports, err := r.job.Run(ctx)
		r.finish(reports, err)
	})
	return nil
}

func (r *Runner) finish(reports []model.RunReport, err error) {
	r.mx.Lock()
	r.running = false
	r.cancel()
	r.result.Stopped = time.Now().UTC()
	r.result.Reports = reports
	r.result.Err = err
	res := r.result
	r.mx.Unlock()

	select {
	case r.results <- res:
	case <-r.done:
	}
}

// ResultsChan returns the channel with results of finished executions.
func (r *Runner) ResultsChan() <-chan Result {
	return r.results
}

// LastResult returns a last result, a result with ErrRunNotStarted
// if nothing has been executed yet or a zero Err while in progress.
func (r *Runner) LastResult() Result {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.result
}

// Close cancels a running execution and waits for it.
func (r *Runner) Close() {
	r.once.Do(func() {
		close(r.done)
	})
	r.mx.Lock()
	if r.running {
		r.cancel()
	}
	r.mx.Unlock()
	r.wg.Wait()
}
