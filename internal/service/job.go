package service

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/Herald/internal/console"
	"github.com/CZERTAINLY/Herald/internal/history"
	"github.com/CZERTAINLY/Herald/internal/launch"
	"github.com/CZERTAINLY/Herald/internal/model"
	"github.com/CZERTAINLY/Herald/internal/parallel"
	"github.com/CZERTAINLY/Herald/internal/resolve"
	"github.com/CZERTAINLY/Herald/internal/run"
	"github.com/CZERTAINLY/Herald/internal/walk"
)

// Job runs the selected profiles of a configuration, each as one
// orchestrated run of the test runner.
type Job struct {
	cfg      model.Config
	profiles []model.Profile
	filters  []string
	files    []string
	resolver model.Resolver
	out      io.Writer
	errOut   io.Writer
	metrics  run.Metrics
	db       *sql.DB
	logger   *slog.Logger
	period   time.Duration
}

type JobOption func(*Job)

// WithFilters adds filters to every profile.
func WithFilters(filters ...string) JobOption {
	return func(j *Job) { j.filters = append(j.filters, filters...) }
}

// WithFiles adds files to every profile.
func WithFiles(files ...string) JobOption {
	return func(j *Job) { j.files = append(j.files, files...) }
}

func WithResolver(r model.Resolver) JobOption {
	return func(j *Job) { j.resolver = r }
}

// WithOutput redirects the run output and notifications.
func WithOutput(out, errOut io.Writer) JobOption {
	return func(j *Job) {
		j.out = out
		j.errOut = errOut
	}
}

func WithRunMetrics(m run.Metrics) JobOption {
	return func(j *Job) { j.metrics = m }
}

// WithHistory records every run to db.
func WithHistory(db *sql.DB) JobOption {
	return func(j *Job) { j.db = db }
}

func WithLogger(l *slog.Logger) JobOption {
	return func(j *Job) { j.logger = l }
}

// WithWatchdogPeriod exists for tests only.
func WithWatchdogPeriod(d time.Duration) JobOption {
	return func(j *Job) { j.period = d }
}

// NewJob selects profiles by name, no names selects all of them.
func NewJob(cfg model.Config, names []string, opts ...JobOption) (*Job, error) {
	profiles, err := cfg.SelectProfiles(names...)
	if err != nil {
		return nil, err
	}
	j := &Job{
		cfg:      cfg,
		profiles: profiles,
		out:      os.Stdout,
		errOut:   os.Stderr,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.resolver == nil {
		root := cfg.Runner.Dir
		if root == "" {
			root, _ = os.Getwd()
		}
		j.resolver = resolve.Passthrough{Root: root}
	}
	return j, nil
}

// Profiles returns names of selected profiles.
func (j *Job) Profiles() []string {
	ret := make([]string, len(j.profiles))
	for i, p := range j.profiles {
		ret[i] = p.Name
	}
	return ret
}

// Spec builds the launch spec of a profile.
func (j *Job) Spec(p model.Profile) launch.Spec {
	r := j.cfg.Runner
	env := maps.Clone(r.Env)
	if env == nil && len(p.Env) > 0 {
		env = make(map[string]string, len(p.Env))
	}
	maps.Copy(env, p.Env)
	return launch.Spec{
		Executable: r.Executable,
		Filters:    slices.Concat(p.Filters, j.filters),
		Files:      slices.Concat(p.Files, j.files),
		ExtraArgs:  slices.Concat(r.Args, p.Args),
		Reporter:   r.Reporter,
		Dir:        r.Dir,
		Env:        env,
	}
}

// Run runs all profiles with at most service.parallel of them at once
// and returns their reports in the profile order.
func (j *Job) Run(ctx context.Context) ([]model.RunReport, error) {
	limit := j.cfg.Service.Parallel
	reports := make([]model.RunReport, 0, len(j.profiles))
	for report, err := range parallel.Map(ctx, limit, slices.Values(j.profiles), j.runProfile) {
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, ctx.Err()
}

func (j *Job) runProfile(ctx context.Context, p model.Profile) (model.RunReport, error) {
	prefix := ""
	if len(j.profiles) > 1 {
		prefix = p.Name
	}
	sink := console.New(j.out, j.errOut, prefix)
	opts := []run.Option{
		run.WithNotifier(sink),
		run.WithLogger(j.logger.With("profile", p.Name)),
		run.WithMetrics(j.metrics),
	}
	if j.period > 0 {
		opts = append(opts, run.WithWatchdogPeriod(j.period))
	}
	orch := run.New(sink, j.resolver, opts...)

	id := uuid.New()
	if j.db != nil {
		if err := history.Start(ctx, j.db, id.String(), p.Name, time.Now().UTC()); err != nil {
			j.logger.ErrorContext(ctx, "recording run start", "run_id", id, "error", err)
		}
	}

	spec := j.Spec(p)
	spec.Files = j.expand(ctx, spec.Files)
	out := orch.RunID(ctx, id, spec, j.cfg.IdleTimeout())
	report := model.RunReport{
		ID:      out.ID.String(),
		Profile: p.Name,
		State:   out.State,
		Code:    out.Code,
		Success: out.Success,
		Fail:    out.Fail,
		Started: out.Started,
		Stopped: out.Stopped,
		Tests:   sink.Results(),
	}
	if out.Err != nil {
		report.Err = out.Err.Error()
	}

	if j.db != nil {
		// the run may have been cancelled, recording it must not be
		if err := history.Finish(context.WithoutCancel(ctx), j.db, report); err != nil {
			j.logger.ErrorContext(ctx, "recording run finish", "run_id", id, "error", err)
		}
	}
	return report, nil
}

// expand replaces directories in files by the files matching
// runner.pattern. Entries which can't be expanded are kept.
func (j *Job) expand(ctx context.Context, files []string) []string {
	pattern := j.cfg.Runner.Pattern
	if pattern == "" {
		return files
	}
	ret := make([]string, 0, len(files))
	for _, f := range files {
		dir := f
		if !filepath.IsAbs(dir) && j.cfg.Runner.Dir != "" {
			dir = filepath.Join(j.cfg.Runner.Dir, dir)
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			ret = append(ret, f)
			continue
		}
		root, err := os.OpenRoot(dir)
		if err != nil {
			j.logger.WarnContext(ctx, "expanding files", "path", f, "error", err)
			ret = append(ret, f)
			continue
		}
		for path, err := range walk.FS(ctx, root.FS(), f, pattern) {
			if err != nil {
				j.logger.WarnContext(ctx, "expanding files", "path", path, "error", err)
				continue
			}
			ret = append(ret, path)
		}
		_ = root.Close()
	}
	return ret
}

// MaxCode returns the highest exit code of reports, 0 for none.
func MaxCode(reports []model.RunReport) int {
	code := 0
	for _, r := range reports {
		code = max(code, r.Code)
	}
	return code
}
