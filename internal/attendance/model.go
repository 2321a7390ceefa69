package attendance

import (
	"fmt"
	"strings"
)

// Status is the attendance label shown for a student on a date.
type Status string

const (
	StatusPresent     Status = "Present"
	StatusLate        Status = "Late"
	StatusNotAttended Status = "not-attended"
)

// ParseStatus maps a stored label onto a Status. Labels written by older
// deployments ("Presente", "Atrasado", "No ha Asistido") are accepted.
// Unknown or empty labels read as StatusNotAttended.
func ParseStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "present", "presente":
		return StatusPresent
	case "late", "atrasado":
		return StatusLate
	default:
		return StatusNotAttended
	}
}

// Marked reports whether s records an actual mark-in.
func (s Status) Marked() bool {
	return s == StatusPresent || s == StatusLate
}

// Mode selects how attendance state is kept on a student document.
type Mode string

const (
	// ModeDaily keeps a single status field that resets every midnight.
	ModeDaily Mode = "daily"
	// ModeWeekly keeps a per-date log for Monday through Thursday, reset every Monday.
	ModeWeekly Mode = "weekly"
)

// ParseMode validates a configured mode name.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeDaily:
		return ModeDaily, nil
	case ModeWeekly:
		return ModeWeekly, nil
	}
	return "", fmt.Errorf("attendance: unknown mode %q", raw)
}

// Record is one entry of the weekly log.
type Record struct {
	Date   string `json:"date" bson:"date"`
	Status Status `json:"status" bson:"status"`
}

type logState uint8

const (
	logAbsent logState = iota
	logValid
	logMalformed
)

// Log is the weekly attendance field as found in the store. It is either
// absent, a valid list of records, or a malformed value kept only so the
// defect can be reported before it is discarded.
type Log struct {
	state   logState
	records []Record
	raw     string
}

// AbsentLog is a document without an attendance field.
func AbsentLog() Log { return Log{state: logAbsent} }

// ValidLog wraps a well-formed record list.
func ValidLog(records []Record) Log {
	return Log{state: logValid, records: records}
}

// MalformedLog wraps a value that is not a record list.
func MalformedLog(raw string) Log {
	return Log{state: logMalformed, raw: raw}
}

func (l Log) Absent() bool    { return l.state == logAbsent }
func (l Log) Malformed() bool { return l.state == logMalformed }

// Raw describes the malformed value, for logs.
func (l Log) Raw() string { return l.raw }

// Records returns the record list; absent and malformed logs have none.
func (l Log) Records() []Record {
	if l.state != logValid {
		return nil
	}
	return l.records
}

// On returns the record for date, if any.
func (l Log) On(date string) (Record, bool) {
	for _, rec := range l.Records() {
		if rec.Date == date {
			return rec, true
		}
	}
	return Record{}, false
}

// Student is a roster entry. Documents are created by the roster process;
// this package only touches Status and Attendance.
type Student struct {
	Cedula     string
	Name       string
	Status     Status
	Attendance Log
}

// Confirmation is returned for a successful mark-in.
type Confirmation struct {
	Cedula      string
	StudentName string
	Date        string
	Status      Status
}

// Row is one student as displayed for the current period.
type Row struct {
	Cedula   string
	Name     string
	Statuses []Status
}

// Roster is the display model for the current period.
type Roster struct {
	Today       string
	PeriodDates []string
	Students    []Row
}
