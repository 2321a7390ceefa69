package attendance_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"rollcall/internal/attendance"
	"rollcall/internal/store"
)

func legacyRoster() *store.Memory {
	return store.NewMemory(
		store.Document{Cedula: "1", Name: "Ana"},
		store.Document{Cedula: "2", Name: "Beto", Attendance: "Presente"},
		store.Document{Cedula: "3", Name: "Carla", Attendance: map[string]any{"date": "2024-06-10"}},
		store.Document{Cedula: "4", Name: "Dani", Attendance: []attendance.Record{{Date: "2024-06-10", Status: attendance.StatusLate}}},
		store.Document{Cedula: "5", Name: "Eva", Attendance: []attendance.Record{{Status: attendance.StatusLate}}},
	)
}

func TestRepairNormalizesMalformedFields(t *testing.T) {
	ctx := context.Background()
	mem := legacyRoster()

	report, err := attendance.Repair(ctx, mem, quiet)
	require.NoError(t, err)
	require.Equal(t, 4, report.Scanned)
	require.Equal(t, 3, report.Repaired)
	require.Empty(t, report.Failed)

	for _, id := range []string{"2", "3", "5"} {
		doc, _ := mem.Get(id)
		require.Equal(t, []attendance.Record{}, doc.Attendance, id)
	}
	untouched, _ := mem.Get("1")
	require.Nil(t, untouched.Attendance)
	valid, _ := mem.Get("4")
	require.Equal(t, []attendance.Record{{Date: "2024-06-10", Status: attendance.StatusLate}}, valid.Attendance)
}

func TestRepairIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := legacyRoster()

	_, err := attendance.Repair(ctx, mem, quiet)
	require.NoError(t, err)
	writes := mem.Writes()

	report, err := attendance.Repair(ctx, mem, nil)
	require.NoError(t, err)
	require.Zero(t, report.Repaired)
	require.Equal(t, writes, mem.Writes())
}

// flakyStore fails updates for one student.
type flakyStore struct {
	*store.Memory
	failOn string
}

func (f flakyStore) UpdateOne(ctx context.Context, flt attendance.Filter, p attendance.Patch) (bool, error) {
	if flt.Cedula == f.failOn {
		return false, errors.New("write timeout")
	}
	return f.Memory.UpdateOne(ctx, flt, p)
}

func TestRepairContinuesPastFailures(t *testing.T) {
	mem := legacyRoster()
	report, err := attendance.Repair(context.Background(), flakyStore{Memory: mem, failOn: "2"}, quiet)
	require.NoError(t, err)
	require.Equal(t, 2, report.Repaired)
	require.Len(t, report.Failed, 1)
	require.Equal(t, "2", report.Failed[0].Cedula)
	require.ErrorIs(t, report.Failed[0].Err, attendance.ErrStore)

	doc, _ := mem.Get("3")
	require.Equal(t, []attendance.Record{}, doc.Attendance)
}

// snapshotStore lists students as they were before a mark-in healed them.
type snapshotStore struct {
	*store.Memory
	snapshot []attendance.Student
}

func (s snapshotStore) FindAll(context.Context) ([]attendance.Student, error) {
	return s.snapshot, nil
}

func TestRepairKeepsLogHealedSinceScan(t *testing.T) {
	rec := attendance.Record{Date: "2024-06-10", Status: attendance.StatusPresent}
	mem := store.NewMemory(store.Document{Cedula: "1", Name: "Ana", Attendance: []attendance.Record{rec}})
	stale := snapshotStore{
		Memory:   mem,
		snapshot: []attendance.Student{{Cedula: "1", Name: "Ana", Attendance: attendance.MalformedLog("Presente")}},
	}

	report, err := attendance.Repair(context.Background(), stale, quiet)
	require.NoError(t, err)
	require.Equal(t, 1, report.Scanned)
	require.Zero(t, report.Repaired)
	require.Empty(t, report.Failed)
	require.Zero(t, mem.Writes())

	doc, _ := mem.Get("1")
	require.Equal(t, []attendance.Record{rec}, doc.Attendance)
}

func TestRepairFailsWhenListingFails(t *testing.T) {
	_, err := attendance.Repair(context.Background(), failingStore{}, quiet)
	require.ErrorIs(t, err, attendance.ErrStore)
}

func TestResetClearsEveryStudent(t *testing.T) {
	ctx := context.Background()

	t.Run("weekly", func(t *testing.T) {
		mem := legacyRoster()
		n, err := attendance.Reset(ctx, mem, attendance.ModeWeekly)
		require.NoError(t, err)
		require.EqualValues(t, 5, n)

		svc := newService(t, attendance.ModeWeekly, mem, nil)
		roster, err := svc.ListForDisplay(ctx, day("12:00:00"))
		require.NoError(t, err)
		for _, row := range roster.Students {
			for _, s := range row.Statuses {
				require.Equal(t, attendance.StatusNotAttended, s, row.Cedula)
			}
		}
		doc, _ := mem.Get("1")
		require.Equal(t, []attendance.Record{}, doc.Attendance)
	})

	t.Run("daily", func(t *testing.T) {
		mem := store.NewMemory(
			store.Document{Cedula: "1", Name: "Ana", Status: "Present"},
			store.Document{Cedula: "2", Name: "Beto", Status: "Atrasado"},
			store.Document{Cedula: "3", Name: "Carla"},
		)
		n, err := attendance.Reset(ctx, mem, attendance.ModeDaily)
		require.NoError(t, err)
		require.EqualValues(t, 3, n)

		svc := newService(t, attendance.ModeDaily, mem, nil)
		roster, err := svc.ListForDisplay(ctx, day("12:00:00"))
		require.NoError(t, err)
		for _, row := range roster.Students {
			require.Equal(t, []attendance.Status{attendance.StatusNotAttended}, row.Statuses)
		}
		doc, _ := mem.Get("2")
		require.Equal(t, "not-attended", doc.Status)

		// A student reset mid-day can mark again.
		_, err = svc.MarkAttendance(ctx, "2", day("12:30:00"))
		require.NoError(t, err)
	})
}
