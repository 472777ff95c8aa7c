package model_test

import (
	"testing"
	"time"

	"github.com/CZERTAINLY/Herald/internal/model"
	"github.com/stretchr/testify/require"
)

func TestParseISODuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"PT30S", 30 * time.Second},
		{"PT1M30S", 90 * time.Second},
		{"PT0.5S", 500 * time.Millisecond},
		{"PT0,25S", 250 * time.Millisecond},
		{"P1D", 24 * time.Hour},
		{"P1DT2H", 26 * time.Hour},
		{"PT2H5M", 2*time.Hour + 5*time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := model.ParseISODuration(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "P", "PT", "P1DT", "30s", "P1Y", "P2M", "PT-1S", "PT0.1234567891S"} {
		t.Run("invalid "+bad, func(t *testing.T) {
			_, err := model.ParseISODuration(bad)
			require.ErrorIs(t, err, model.ErrISOFormat)
		})
	}
}

func TestTimerScheduleInterval(t *testing.T) {
	t.Parallel()

	d, err := model.TimerSchedule{Cron: "*/5 * * * *"}.Interval()
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, d)

	d, err = model.TimerSchedule{Cron: "@hourly"}.Interval()
	require.NoError(t, err)
	require.Equal(t, time.Hour, d)

	d, err = model.TimerSchedule{Duration: "PT15M"}.Interval()
	require.NoError(t, err)
	require.Equal(t, 15*time.Minute, d)

	_, err = model.TimerSchedule{}.Interval()
	require.Error(t, err)
	_, err = model.TimerSchedule{Cron: "* * *"}.Interval()
	require.Error(t, err)
	_, err = model.TimerSchedule{Cron: "@hourly", Duration: "PT1M"}.Interval()
	require.Error(t, err)
	_, err = model.TimerSchedule{Duration: "PT0S"}.Interval()
	require.Error(t, err)
}
