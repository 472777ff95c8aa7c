package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/CZERTAINLY/Herald/internal/model"
)

type Supervisor struct {
	runner    *Runner
	start     chan struct{}
	uploaders []model.Uploader
	oneshot   bool
	scheduler gocron.Scheduler
	metrics   http.Handler
	listen    string
}

// NewSupervisor prepares a supervisor of job according to the service
// configuration.
func NewSupervisor(ctx context.Context, cfg model.Service, job *Job) (*Supervisor, error) {
	uploaders, err := uploaders(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing uploaders: %w", err)
	}

	var supervisor = &Supervisor{}
	var scheduler gocron.Scheduler
	if cfg.Mode == model.ServiceModeTimer {
		scheduler, err = newScheduler(ctx, cfg.Schedule, supervisor.Start)
		if err != nil {
			supervisor.uploaders = uploaders
			supervisor.closeUploaders(ctx)
			return nil, fmt.Errorf("timer mode failed: %w", err)
		}
	}

	supervisor.runner = NewRunner(job)
	supervisor.uploaders = uploaders
	supervisor.oneshot = cfg.Mode != model.ServiceModeTimer
	supervisor.scheduler = scheduler
	supervisor.start = make(chan struct{}, 1)
	return supervisor, nil
}

// WithUploaders replaces uploaders of an initialized Supervisor.
// This method exists for a unit testing only.
func (s *Supervisor) WithUploaders(ctx context.Context, uploaders ...model.Uploader) *Supervisor {
	s.closeUploaders(ctx)
	s.uploaders = uploaders
	return s
}

// WithMetrics serves h on addr under /metrics while Do is running.
func (s *Supervisor) WithMetrics(addr string, h http.Handler) *Supervisor {
	s.listen = addr
	s.metrics = h
	return s
}

// Start tells supervisor to start a new run - this hints as a signal, so
// this ends immediately and without any error. A trigger is dropped when
// another one is already pending.
func (s *Supervisor) Start() {
	select {
	case s.start <- struct{}{}:
	default:
	}
}

// LastResult returns the result of the last run. It is final once Do
// returns.
func (s *Supervisor) LastResult() Result {
	return s.runner.LastResult()
}

// Do runs the supervisor event loop.
// It multiplexes three concerns:
//  1. Start triggers (received on s.start) - Runner starts the Job or reports model.ErrRunInProgress.
//  2. Job results (from the Runner) - reports are encoded as JSON and uploaded.
//  3. Context cancellation - terminates the loop and begins shutdown.
//
// Modes:
//   - Oneshot (manual): a start is triggered once on entry; the first start, run or upload error is returned.
//   - Timer: errors are only logged; the loop runs until ctx is cancelled.
//
// Shutdown (deferred order): stop scheduler -> stop metrics server -> close runner -> close uploaders.
func (s *Supervisor) Do(ctx context.Context) error {
	slog.DebugContext(ctx, "starting a supervisor", "oneshot", s.oneshot)

	defer s.closeUploaders(ctx)
	defer s.runner.Close()

	if s.listen != "" && s.metrics != nil {
		stop, err := s.serveMetrics(ctx)
		if err != nil {
			return err
		}
		defer stop()
	}

	if s.scheduler != nil {
		s.scheduler.Start()
		defer func() {
			err := s.scheduler.Shutdown()
			if err != nil {
				slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
			}
		}()
	}

	if s.oneshot {
		s.Start()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.start:
			err := s.runner.Start(ctx)
			if err != nil {
				if s.oneshot {
					return err
				}
				slog.ErrorContext(ctx, "start returned", "error", err)
			}
		case result := <-s.runner.ResultsChan():
			if result.Err != nil {
				slog.ErrorContext(ctx, "run have failed", "error", result.Err)
				if s.oneshot {
					return result.Err
				}
				continue
			}
			slog.DebugContext(ctx, "run finished: uploading", "code", result.Code())
			err := s.upload(ctx, result)
			if s.oneshot {
				return err
			}
			if err != nil {
				slog.ErrorContext(ctx, "upload failed", "error", err)
			}
		}
	}
}

func (s *Supervisor) serveMetrics(ctx context.Context) (func(), error) {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return nil, fmt.Errorf("listening for metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		slog.InfoContext(ctx, "serving metrics", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "metrics server failed", "error", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "shutting down metrics server", "error", err)
		}
		<-done
	}, nil
}

func (s *Supervisor) closeUploaders(ctx context.Context) {
	for _, uploader := range s.uploaders {
		if closer, ok := uploader.(model.UploadCloser); ok {
			err := closer.Close()
			if err != nil {
				slog.ErrorContext(ctx, "closing uploader have failed", "error", err)
			}
		}
	}
}

func (s *Supervisor) upload(ctx context.Context, result Result) error {
	if len(s.uploaders) == 0 {
		return nil
	}
	raw, err := json.MarshalIndent(result.Reports, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run reports: %w", err)
	}
	raw = append(raw, '\n')

	var errs []error
	for _, u := range s.uploaders {
		err := u.Upload(ctx, raw)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newScheduler(ctx context.Context, cfgp *model.TimerSchedule, startFunc func()) (gocron.Scheduler, error) {
	if cfgp == nil {
		return nil, fmt.Errorf("service.schedule is nil")
	}
	cfg := *cfgp
	var job gocron.JobDefinition
	switch {
	case cfg.Cron != "":
		_, err := model.ParseCron(cfg.Cron)
		if err != nil {
			return nil, fmt.Errorf("parsing service.schedule.cron: %w", err)
		}
		job = gocron.CronJob(cfg.Cron, false)
		slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron)
	case cfg.Duration != "":
		d, err := model.ParseISODuration(cfg.Duration)
		if err != nil {
			return nil, fmt.Errorf("parsing service.schedule.duration: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("service.schedule.duration must be positive: got %s", cfg.Duration)
		}
		slog.DebugContext(ctx, "successfully parsed", "duration", d.String())
		job = gocron.DurationJob(d)
	default:
		return nil, errors.New("both cron and duration are empty")
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(startFunc),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return s, nil
}
