package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04:05.999", value, time.UTC)
	require.NoError(t, err)
	return ts
}

func TestWeeklyPeriod(t *testing.T) {
	cal := NewCalendar(ModeWeekly, time.UTC)
	week := []string{"2024-06-10", "2024-06-11", "2024-06-12", "2024-06-13"}
	cases := []struct {
		name string
		now  string
		want []string
	}{
		{"monday", "2024-06-10 00:00:00", week},
		{"wednesday", "2024-06-12 09:15:00", week},
		{"thursday late", "2024-06-13 23:59:59", week},
		{"friday", "2024-06-14 08:00:00", week},
		{"saturday", "2024-06-15 12:00:00", week},
		{"sunday goes back to previous monday", "2024-06-16 10:00:00", week},
		{"next monday", "2024-06-17 00:00:00", []string{"2024-06-17", "2024-06-18", "2024-06-19", "2024-06-20"}},
		{"across month end", "2024-07-02 07:00:00", []string{"2024-07-01", "2024-07-02", "2024-07-03", "2024-07-04"}},
		{"across year end", "2025-01-01 07:00:00", []string{"2024-12-30", "2024-12-31", "2025-01-01", "2025-01-02"}},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, cal.Period(at(t, tt.now)))
		})
	}
}

func TestDailyPeriod(t *testing.T) {
	cal := NewCalendar(ModeDaily, time.UTC)
	require.Equal(t, []string{"2024-06-16"}, cal.Period(at(t, "2024-06-16 10:00:00")))
	require.Equal(t, "2024-06-16", cal.PeriodStart(at(t, "2024-06-16 10:00:00")).Format(DateLayout))
	require.Equal(t, "0 0 * * *", cal.ResetSpec())
}

func TestPeriodStartUsesCalendarLocation(t *testing.T) {
	loc := time.FixedZone("ECT", -5*60*60)
	cal := NewCalendar(ModeWeekly, loc)
	// 03:00 UTC on Monday is still Sunday evening in UTC-5.
	now := at(t, "2024-06-17 03:00:00")
	require.Equal(t, "2024-06-16", cal.Today(now))
	require.Equal(t, "2024-06-10", cal.PeriodStart(now).Format(DateLayout))
	require.Equal(t, "0 0 * * 1", cal.ResetSpec())
}

func TestClassifyBoundary(t *testing.T) {
	policy, err := ParseCutoff(DefaultCutoff, time.UTC)
	require.NoError(t, err)

	cases := []struct {
		now  string
		want Status
	}{
		{"2024-06-10 00:00:00", StatusPresent},
		{"2024-06-10 07:29:59", StatusPresent},
		{"2024-06-10 07:30:00", StatusPresent},
		{"2024-06-10 07:30:00.5", StatusLate},
		{"2024-06-10 07:30:01", StatusLate},
		{"2024-06-10 23:59:59", StatusLate},
		{"2024-06-11 07:00:00", StatusPresent},
	}
	for _, tt := range cases {
		t.Run(tt.now, func(t *testing.T) {
			require.Equal(t, tt.want, policy.Classify(at(t, tt.now)))
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	policy, err := ParseCutoff("07:30", time.UTC)
	require.NoError(t, err)
	now := at(t, "2024-06-10 07:45:00")
	first := policy.Classify(now)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, policy.Classify(now))
	}
}

func TestParseCutoff(t *testing.T) {
	p, err := ParseCutoff("08:05", nil)
	require.NoError(t, err)
	require.Equal(t, 8, p.Hour)
	require.Equal(t, 5, p.Minute)
	require.Equal(t, 0, p.Second)

	_, err = ParseCutoff("7.30", time.UTC)
	require.Error(t, err)
	_, err = ParseCutoff("25:00:00", time.UTC)
	require.Error(t, err)
}

func TestParseStatusAcceptsLegacyLabels(t *testing.T) {
	require.Equal(t, StatusPresent, ParseStatus("Presente"))
	require.Equal(t, StatusLate, ParseStatus("Atrasado"))
	require.Equal(t, StatusNotAttended, ParseStatus("No ha Asistido"))
	require.Equal(t, StatusPresent, ParseStatus("Present"))
	require.Equal(t, StatusNotAttended, ParseStatus(""))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Weekly")
	require.NoError(t, err)
	require.Equal(t, ModeWeekly, m)
	_, err = ParseMode("monthly")
	require.Error(t, err)
}
