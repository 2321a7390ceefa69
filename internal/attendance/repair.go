package attendance

import (
	"context"
	"log/slog"
)

// RepairFailure is a student whose attendance field could not be normalized.
type RepairFailure struct {
	Cedula string
	Err    error
}

// RepairReport summarizes one repair pass.
type RepairReport struct {
	Scanned  int
	Repaired int
	Failed   []RepairFailure
}

// Repair replaces every malformed attendance field with an empty list.
// Documents without the field and documents that already hold a record list
// are left alone, and the write re-checks the shape in the store, so running
// it again, or next to a live API, is a no-op for valid logs. A failed update is logged
// and reported; it does not stop the pass. Only a failure to list students
// is returned as an error.
func Repair(ctx context.Context, store Store, logger *slog.Logger) (RepairReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	students, err := store.FindAll(ctx)
	if err != nil {
		return RepairReport{}, StoreError("find all", err)
	}

	var report RepairReport
	for _, st := range students {
		if st.Attendance.Absent() {
			continue
		}
		report.Scanned++
		if !st.Attendance.Malformed() {
			continue
		}
		logger.Info("fixing attendance field",
			slog.String("cedula", st.Cedula),
			slog.String("raw", st.Attendance.Raw()))
		fixed, err := store.UpdateOne(ctx, Filter{Cedula: st.Cedula, AttendanceMalformed: true}, SetAttendance(nil))
		if err != nil {
			logger.Error("fix attendance field",
				slog.String("cedula", st.Cedula),
				slog.Any("error", err))
			report.Failed = append(report.Failed, RepairFailure{Cedula: st.Cedula, Err: StoreError("normalize attendance", err)})
			continue
		}
		if !fixed {
			// Healed by a mark-in since the scan.
			continue
		}
		report.Repaired++
	}
	return report, nil
}

// Reset clears attendance state for every student: the status field in daily
// mode, the attendance log in weekly mode. It is unconditional.
func Reset(ctx context.Context, store Store, mode Mode) (int64, error) {
	patch := SetAttendance(nil)
	if mode == ModeDaily {
		patch = SetStatus(StatusNotAttended)
	}
	n, err := store.UpdateMany(ctx, Filter{}, patch)
	if err != nil {
		return n, StoreError("reset", err)
	}
	return n, nil
}
