package attendance

import (
	"errors"
	"fmt"
)

var (
	// ErrStudentNotFound means the identifier matches no student.
	ErrStudentNotFound = errors.New("student not found")
	// ErrStore wraps every failure of the underlying store.
	ErrStore = errors.New("store unavailable")
	// ErrMalformedAttendance marks a stored attendance field that is not a record list.
	ErrMalformedAttendance = errors.New("malformed attendance field")
)

// AlreadyMarkedError is returned when the student already has a status for the date.
type AlreadyMarkedError struct {
	Name   string
	Date   string
	Status Status
}

func (e *AlreadyMarkedError) Error() string {
	return fmt.Sprintf("%s already marked %s on %s", e.Name, e.Status, e.Date)
}

// StoreError tags err as a store failure unless it is one already.
func StoreError(op string, err error) error {
	if err == nil || errors.Is(err, ErrStore) || errors.Is(err, ErrStudentNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
