package attendance

import "context"

// Filter selects student documents. Zero fields do not constrain.
type Filter struct {
	// Cedula matches one student.
	Cedula string
	// HasAttendance matches documents carrying an attendance field of any shape.
	HasAttendance bool
	// AttendanceMalformed matches documents whose attendance field is present
	// but is not a list of records each carrying a non-empty string date.
	AttendanceMalformed bool
	// NoRecordOn matches documents whose attendance log has no entry for the date.
	NoRecordOn string
	// StatusUnmarked matches documents whose status is missing or is not one of MarkedLabels.
	StatusUnmarked bool
}

// MarkedLabels are the stored status strings that record a mark-in. Any other
// value, or a missing status field, reads as not attended.
var MarkedLabels = []string{string(StatusPresent), string(StatusLate), "Presente", "Atrasado"}

// PatchKind enumerates the updates a store must support.
type PatchKind uint8

const (
	PatchSetStatus PatchKind = iota + 1
	PatchSetAttendance
	PatchPushRecord
)

// Patch is a single-field update.
type Patch struct {
	Kind    PatchKind
	Status  Status
	Records []Record
	Record  Record
}

// SetStatus sets the daily status field.
func SetStatus(s Status) Patch { return Patch{Kind: PatchSetStatus, Status: s} }

// SetAttendance replaces the attendance field; nil is written as an empty list.
func SetAttendance(records []Record) Patch {
	if records == nil {
		records = []Record{}
	}
	return Patch{Kind: PatchSetAttendance, Records: records}
}

// PushRecord appends one record to the attendance list, creating it when absent.
func PushRecord(rec Record) Patch { return Patch{Kind: PatchPushRecord, Record: rec} }

// Store is the record store adapter. Filters given to UpdateOne and
// UpdateMany are evaluated atomically with the write, so a filter doubles as
// the write's precondition.
type Store interface {
	FindAll(ctx context.Context) ([]Student, error)
	// FindOne returns ErrStudentNotFound when nothing matches.
	FindOne(ctx context.Context, f Filter) (Student, error)
	// UpdateOne reports whether a document matched the filter and was updated.
	UpdateOne(ctx context.Context, f Filter, p Patch) (bool, error)
	UpdateMany(ctx context.Context, f Filter, p Patch) (int64, error)
}
