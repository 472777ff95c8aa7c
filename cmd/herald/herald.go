package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/Herald/internal/console"
	"github.com/CZERTAINLY/Herald/internal/history"
	"github.com/CZERTAINLY/Herald/internal/log"
	"github.com/CZERTAINLY/Herald/internal/metrics"
	"github.com/CZERTAINLY/Herald/internal/model"
	"github.com/CZERTAINLY/Herald/internal/service"
)

var (
	flagFilters  []string
	flagProfiles []string
	flagSummary  bool
	flagLimit    int
)

func init() {
	runCmd.Flags().StringArrayVar(&flagFilters, "filter", nil, "additional --filter passed to the test runner, can be repeated")
	runCmd.Flags().StringSliceVar(&flagProfiles, "profile", nil, "profiles to run, all by default")
	runCmd.Flags().BoolVar(&flagSummary, "summary", false, "print a table of test results")
	historyCmd.Flags().IntVar(&flagLimit, "limit", 20, "number of runs to show, 0 shows all")
}

var runCmd = &cobra.Command{
	Use:   "run [files...]",
	Short: "run executes the test runner for selected profiles and reports results",
	RunE:  doRun,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "history lists recent runs",
	Args:  cobra.NoArgs,
	RunE:  doHistory,
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("herald",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	opts := []service.JobOption{
		service.WithFilters(flagFilters...),
		service.WithFiles(args...),
		service.WithOutput(cmd.OutOrStdout(), cmd.ErrOrStderr()),
		service.WithLogger(slog.Default()),
	}

	if config.Service.History != "" {
		db, err := history.InitDB(ctx, config.Service.History)
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		defer func() {
			_ = db.Close()
		}()
		opts = append(opts, service.WithHistory(db))
	}

	var m *metrics.Metrics
	if config.Service.Metrics != "" {
		m = metrics.New(prometheus.NewRegistry())
		opts = append(opts, service.WithRunMetrics(m))
	}

	job, err := service.NewJob(config, flagProfiles, opts...)
	if err != nil {
		return err
	}
	supervisor, err := service.NewSupervisor(ctx, config.Service, job)
	if err != nil {
		return err
	}
	if m != nil {
		supervisor = supervisor.WithMetrics(config.Service.Metrics, m.Handler())
	}

	if err := supervisor.Do(ctx); err != nil {
		return err
	}

	result := supervisor.LastResult()
	if flagSummary && len(result.Reports) > 0 {
		console.Table(cmd.OutOrStdout(), result.Reports...)
	}
	if config.Service.Mode == model.ServiceModeManual {
		if code := result.Code(); code != 0 {
			return exitCodeError{code: code}
		}
	}
	return nil
}

func doHistory(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if config.Service.History == "" {
		return fmt.Errorf("service.history is not configured in %s", configPath)
	}
	db, err := history.InitDB(ctx, config.Service.History)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	rows, err := history.List(ctx, db, flagLimit)
	if err != nil {
		return err
	}
	renderHistory(cmd, rows)
	return nil
}

func renderHistory(cmd *cobra.Command, rows []history.RunRow) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Run", "Profile", "Started", "Duration", "State", "Code", "Success", "Fail"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Code", Align: text.AlignRight},
		{Name: "Success", Align: text.AlignRight},
		{Name: "Fail", Align: text.AlignRight},
	})
	for _, r := range rows {
		state, code, duration := "running", "", ""
		if r.State != nil {
			state = string(*r.State)
		}
		if r.Code != nil {
			code = fmt.Sprint(*r.Code)
		}
		if r.Stopped != nil {
			duration = r.Stopped.Sub(r.Started).Round(time.Millisecond).String()
		}
		t.AppendRow(table.Row{
			r.UUID,
			r.Profile,
			r.Started.Local().Format(time.DateTime),
			duration,
			state,
			code,
			r.Success,
			r.Fail,
		})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}
