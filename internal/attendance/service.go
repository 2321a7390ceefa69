package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rollcall/internal/metrics"
)

// Service coordinates mark-ins and the roster view. It keeps no student
// state between calls; the store is the only source of truth.
type Service struct {
	store    Store
	calendar Calendar
	policy   Policy
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Options configures a Service.
type Options struct {
	Calendar Calendar
	Policy   Policy
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// NewService creates a service backed by a store.
func NewService(store Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Calendar.Mode == "" {
		opts.Calendar.Mode = ModeWeekly
	}
	if opts.Policy == (Policy{}) {
		opts.Policy, _ = ParseCutoff(DefaultCutoff, opts.Calendar.Location)
	}
	return &Service{
		store:    store,
		calendar: opts.Calendar,
		policy:   opts.Policy,
		logger:   logger,
		metrics:  opts.Metrics,
	}
}

// Mode reports the configured attendance mode.
func (s *Service) Mode() Mode { return s.calendar.Mode }

// ListForDisplay returns every student with one status per date of the
// period containing now. Missing records read as StatusNotAttended.
func (s *Service) ListForDisplay(ctx context.Context, now time.Time) (Roster, error) {
	students, err := s.store.FindAll(ctx)
	if err != nil {
		return Roster{}, StoreError("find all", err)
	}
	dates := s.calendar.Period(now)
	roster := Roster{
		Today:       s.calendar.Today(now),
		PeriodDates: dates,
		Students:    make([]Row, 0, len(students)),
	}
	for _, st := range students {
		row := Row{Cedula: st.Cedula, Name: st.Name, Statuses: make([]Status, 0, len(dates))}
		for _, date := range dates {
			row.Statuses = append(row.Statuses, s.statusOn(st, date))
		}
		roster.Students = append(roster.Students, row)
	}
	return roster, nil
}

func (s *Service) statusOn(st Student, date string) Status {
	if s.calendar.Mode == ModeDaily {
		if st.Status.Marked() {
			return st.Status
		}
		return StatusNotAttended
	}
	if rec, ok := st.Attendance.On(date); ok {
		return rec.Status
	}
	return StatusNotAttended
}

// MarkAttendance records the student identified by cedula as present or late
// for now's date. A second mark on the same date fails with
// *AlreadyMarkedError; the stored status is never overwritten.
func (s *Service) MarkAttendance(ctx context.Context, cedula string, now time.Time) (Confirmation, error) {
	conf, err := s.mark(ctx, strings.TrimSpace(cedula), now)
	s.observe(ctx, conf, err)
	return conf, err
}

func (s *Service) mark(ctx context.Context, cedula string, now time.Time) (Confirmation, error) {
	if cedula == "" {
		return Confirmation{}, ErrStudentNotFound
	}
	byID := Filter{Cedula: cedula}
	student, err := s.store.FindOne(ctx, byID)
	if err != nil {
		return Confirmation{}, StoreError("find student", err)
	}

	if s.calendar.Mode == ModeWeekly && student.Attendance.Malformed() {
		if err := s.heal(ctx, student); err != nil {
			return Confirmation{}, err
		}
		student.Attendance = ValidLog([]Record{})
	}

	today := s.calendar.Today(now)
	if existing, ok := s.existing(student, today); ok {
		return Confirmation{}, &AlreadyMarkedError{Name: student.Name, Date: today, Status: existing}
	}

	status := s.policy.Classify(now)
	var guard Filter
	var patch Patch
	if s.calendar.Mode == ModeWeekly {
		guard = Filter{Cedula: cedula, NoRecordOn: today}
		patch = PushRecord(Record{Date: today, Status: status})
	} else {
		guard = Filter{Cedula: cedula, StatusUnmarked: true}
		patch = SetStatus(status)
	}
	applied, err := s.store.UpdateOne(ctx, guard, patch)
	if err != nil {
		return Confirmation{}, StoreError("record attendance", err)
	}
	if !applied {
		return Confirmation{}, s.lostRace(ctx, byID, today)
	}

	s.logger.InfoContext(ctx, "attendance marked",
		slog.String("cedula", cedula),
		slog.String("date", today),
		slog.String("status", string(status)))
	return Confirmation{Cedula: cedula, StudentName: student.Name, Date: today, Status: status}, nil
}

func (s *Service) existing(st Student, today string) (Status, bool) {
	if s.calendar.Mode == ModeDaily {
		return st.Status, st.Status.Marked()
	}
	rec, ok := st.Attendance.On(today)
	return rec.Status, ok
}

// heal replaces a malformed attendance field with an empty list. The write
// only applies while the field is still malformed, so a log another caller
// healed and marked in the meantime is left alone.
func (s *Service) heal(ctx context.Context, st Student) error {
	s.logger.WarnContext(ctx, "normalizing attendance field",
		slog.String("cedula", st.Cedula),
		slog.String("raw", st.Attendance.Raw()),
		slog.Any("error", ErrMalformedAttendance))
	healed, err := s.store.UpdateOne(ctx, Filter{Cedula: st.Cedula, AttendanceMalformed: true}, SetAttendance(nil))
	if err != nil {
		return StoreError("normalize attendance", err)
	}
	if healed {
		s.metrics.AddRepaired(1)
	}
	return nil
}

// lostRace explains a conditional write that matched nothing: another mark
// landed first, or the student disappeared in between.
func (s *Service) lostRace(ctx context.Context, byID Filter, today string) error {
	student, err := s.store.FindOne(ctx, byID)
	if err != nil {
		return StoreError("reload student", err)
	}
	if status, ok := s.existing(student, today); ok {
		return &AlreadyMarkedError{Name: student.Name, Date: today, Status: status}
	}
	return fmt.Errorf("%w: conditional write for %s on %s was not applied", ErrStore, byID.Cedula, today)
}

func (s *Service) observe(ctx context.Context, conf Confirmation, err error) {
	var already *AlreadyMarkedError
	switch {
	case err == nil && conf.Status == StatusPresent:
		s.metrics.ObserveMark(metrics.OutcomePresent)
	case err == nil:
		s.metrics.ObserveMark(metrics.OutcomeLate)
	case errors.As(err, &already):
		s.metrics.ObserveMark(metrics.OutcomeAlreadyMarked)
	case errors.Is(err, ErrStudentNotFound):
		s.metrics.ObserveMark(metrics.OutcomeNotFound)
	default:
		s.metrics.ObserveMark(metrics.OutcomeError)
		s.logger.ErrorContext(ctx, "mark attendance", slog.Any("error", err))
	}
}
