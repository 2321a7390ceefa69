package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"rollcall/internal/attendance"
)

const schema = `
CREATE TABLE IF NOT EXISTS students (
	cedula     TEXT PRIMARY KEY,
	nombre     TEXT NOT NULL DEFAULT '',
	status     TEXT,
	attendance JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Postgres keeps student documents in a table whose attendance column holds
// the weekly log as JSONB. A NULL column is an absent field.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open connection.
func NewPostgres(db *DB) *Postgres {
	return &Postgres{db: db.Client}
}

// EnsureSchema creates the students table when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store/postgres: schema: %w", err)
	}
	return nil
}

func (p *Postgres) FindAll(ctx context.Context) ([]attendance.Student, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT cedula, nombre, status, attendance FROM students ORDER BY created_at, cedula`)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: find all: %w", err)
	}
	defer rows.Close()

	var students []attendance.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("store/postgres: scan: %w", err)
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

func (p *Postgres) FindOne(ctx context.Context, f attendance.Filter) (attendance.Student, error) {
	where, args := pgWhere(f, nil)
	row := p.db.QueryRowContext(ctx, `SELECT cedula, nombre, status, attendance FROM students`+where+` LIMIT 1`, args...)
	st, err := scanStudent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attendance.Student{}, attendance.ErrStudentNotFound
		}
		return attendance.Student{}, fmt.Errorf("store/postgres: find one: %w", err)
	}
	return st, nil
}

// UpdateOne applies p to at most one row. Cedula is the primary key, so a
// filter naming it addresses a single row.
func (p *Postgres) UpdateOne(ctx context.Context, f attendance.Filter, patch attendance.Patch) (bool, error) {
	set, args, err := pgSet(patch)
	if err != nil {
		return false, err
	}
	where, args := pgWhere(f, args)
	query := `UPDATE students SET ` + set + ` WHERE ctid = (SELECT ctid FROM students` + where + ` LIMIT 1 FOR UPDATE)`
	if f.Cedula != "" {
		query = `UPDATE students SET ` + set + where
	}
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("store/postgres: update one: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store/postgres: rows affected: %w", err)
	}
	return n > 0, nil
}

func (p *Postgres) UpdateMany(ctx context.Context, f attendance.Filter, patch attendance.Patch) (int64, error) {
	set, args, err := pgSet(patch)
	if err != nil {
		return 0, err
	}
	where, args := pgWhere(f, args)
	res, err := p.db.ExecContext(ctx, `UPDATE students SET `+set+where, args...)
	if err != nil {
		return 0, fmt.Errorf("store/postgres: update many: %w", err)
	}
	return res.RowsAffected()
}

func placeholder(args []any) string { return "$" + strconv.Itoa(len(args)) }

// pgMalformed mirrors decodeJSONLog. CASE keeps jsonb_array_elements
// away from non-array values.
const pgMalformed = `attendance IS NOT NULL AND CASE
	WHEN jsonb_typeof(attendance) <> 'array' THEN true
	ELSE EXISTS (
		SELECT 1 FROM jsonb_array_elements(attendance) AS rec
		WHERE jsonb_typeof(rec) <> 'object'
			OR jsonb_typeof(rec->'date') IS DISTINCT FROM 'string'
			OR rec->>'date' = ''
	)
END`

// pgWhere renders f as a WHERE clause, numbering its parameters after args.
func pgWhere(f attendance.Filter, args []any) (string, []any) {
	var clauses []string
	if f.Cedula != "" {
		args = append(args, f.Cedula)
		clauses = append(clauses, "cedula = "+placeholder(args))
	}
	if f.HasAttendance {
		clauses = append(clauses, "attendance IS NOT NULL")
	}
	if f.AttendanceMalformed {
		clauses = append(clauses, "("+pgMalformed+")")
	}
	if f.NoRecordOn != "" {
		args = append(args, f.NoRecordOn)
		clauses = append(clauses,
			"jsonb_typeof(COALESCE(attendance, '[]'::jsonb)) = 'array'",
			"NOT (COALESCE(attendance, '[]'::jsonb) @> jsonb_build_array(jsonb_build_object('date', "+placeholder(args)+"::text)))")
	}
	if f.StatusUnmarked {
		args = append(args, attendance.MarkedLabels)
		clauses = append(clauses, "(status IS NULL OR status <> ALL("+placeholder(args)+"::text[]))")
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func pgSet(p attendance.Patch) (string, []any, error) {
	switch p.Kind {
	case attendance.PatchSetStatus:
		return "status = $1", []any{string(p.Status)}, nil
	case attendance.PatchSetAttendance:
		records := p.Records
		if records == nil {
			records = []attendance.Record{}
		}
		b, err := json.Marshal(records)
		if err != nil {
			return "", nil, fmt.Errorf("store/postgres: encode attendance: %w", err)
		}
		return "attendance = $1::jsonb", []any{string(b)}, nil
	case attendance.PatchPushRecord:
		b, err := json.Marshal(p.Record)
		if err != nil {
			return "", nil, fmt.Errorf("store/postgres: encode record: %w", err)
		}
		return "attendance = COALESCE(attendance, '[]'::jsonb) || jsonb_build_array($1::jsonb)", []any{string(b)}, nil
	}
	return "", nil, fmt.Errorf("store/postgres: unsupported patch kind %d", p.Kind)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStudent(row scanner) (attendance.Student, error) {
	var (
		st     attendance.Student
		status sql.NullString
		raw    []byte
	)
	if err := row.Scan(&st.Cedula, &st.Name, &status, &raw); err != nil {
		return attendance.Student{}, err
	}
	st.Status = attendance.ParseStatus(status.String)
	st.Attendance = decodeJSONLog(raw)
	return st, nil
}

type jsonRecord struct {
	Date   *string `json:"date"`
	Status string  `json:"status"`
}

// decodeJSONLog classifies a JSONB attendance value. SQL NULL is absent; any
// JSON value other than an array of {date, status} objects is malformed,
// including JSON null.
func decodeJSONLog(raw []byte) attendance.Log {
	if raw == nil {
		return attendance.AbsentLog()
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil || elems == nil {
		return attendance.MalformedLog(string(raw))
	}
	records := make([]attendance.Record, 0, len(elems))
	for _, elem := range elems {
		var rec jsonRecord
		if err := json.Unmarshal(elem, &rec); err != nil || rec.Date == nil || *rec.Date == "" {
			return attendance.MalformedLog(string(raw))
		}
		records = append(records, attendance.Record{Date: *rec.Date, Status: attendance.ParseStatus(rec.Status)})
	}
	return attendance.ValidLog(records)
}
