package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"rollcall/internal/attendance"
)

// Document is a student as held by the in-memory store. Attendance is nil
// when the field is absent, a []attendance.Record when well formed, and any
// other value to represent legacy data.
type Document struct {
	Cedula     string
	Name       string
	Status     string
	Attendance any
}

// Memory is a process-local store for development and tests. Every call runs
// under one lock, so filters are evaluated atomically with their writes.
type Memory struct {
	mu     sync.Mutex
	docs   []*Document
	writes int
}

// NewMemory returns a store seeded with docs, kept in insertion order.
func NewMemory(docs ...Document) *Memory {
	m := &Memory{}
	for _, d := range docs {
		m.Insert(d)
	}
	return m
}

// Insert adds a document as the roster process would.
func (m *Memory) Insert(doc Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := cloneDocument(doc)
	m.docs = append(m.docs, &d)
}

// Get returns a copy of the document with the given cedula.
func (m *Memory) Get(cedula string) (Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if d.Cedula == cedula {
			return cloneDocument(*d), true
		}
	}
	return Document{}, false
}

// Writes counts documents modified since creation.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) FindAll(ctx context.Context) ([]attendance.Student, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]attendance.Student, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d.student())
	}
	return out, nil
}

func (m *Memory) FindOne(ctx context.Context, f attendance.Filter) (attendance.Student, error) {
	if err := ctx.Err(); err != nil {
		return attendance.Student{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if d.matches(f) {
			return d.student(), nil
		}
	}
	return attendance.Student{}, attendance.ErrStudentNotFound
}

func (m *Memory) UpdateOne(ctx context.Context, f attendance.Filter, p attendance.Patch) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if !d.matches(f) {
			continue
		}
		if err := d.apply(p); err != nil {
			return false, err
		}
		m.writes++
		return true, nil
	}
	return false, nil
}

func (m *Memory) UpdateMany(ctx context.Context, f attendance.Filter, p attendance.Patch) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, d := range m.docs {
		if !d.matches(f) {
			continue
		}
		if err := d.apply(p); err != nil {
			return n, err
		}
		m.writes++
		n++
	}
	return n, nil
}

func (d *Document) matches(f attendance.Filter) bool {
	if f.Cedula != "" && d.Cedula != f.Cedula {
		return false
	}
	if f.HasAttendance && d.Attendance == nil {
		return false
	}
	if f.AttendanceMalformed && !d.malformed() {
		return false
	}
	if f.NoRecordOn != "" {
		if records, ok := d.Attendance.([]attendance.Record); ok {
			for _, rec := range records {
				if rec.Date == f.NoRecordOn {
					return false
				}
			}
		}
	}
	if f.StatusUnmarked && slices.Contains(attendance.MarkedLabels, d.Status) {
		return false
	}
	return true
}

func (d *Document) apply(p attendance.Patch) error {
	switch p.Kind {
	case attendance.PatchSetStatus:
		d.Status = string(p.Status)
	case attendance.PatchSetAttendance:
		d.Attendance = append([]attendance.Record{}, p.Records...)
	case attendance.PatchPushRecord:
		switch records := d.Attendance.(type) {
		case nil:
			d.Attendance = []attendance.Record{p.Record}
		case []attendance.Record:
			d.Attendance = append(append([]attendance.Record{}, records...), p.Record)
		default:
			return fmt.Errorf("store/memory: cannot push onto attendance of type %T", d.Attendance)
		}
	default:
		return fmt.Errorf("store/memory: unsupported patch kind %d", p.Kind)
	}
	return nil
}

func (d *Document) student() attendance.Student {
	st := attendance.Student{
		Cedula: d.Cedula,
		Name:   d.Name,
		Status: attendance.ParseStatus(d.Status),
	}
	switch {
	case d.Attendance == nil:
		st.Attendance = attendance.AbsentLog()
	case d.malformed():
		st.Attendance = attendance.MalformedLog(fmt.Sprintf("%v", d.Attendance))
	default:
		st.Attendance = attendance.ValidLog(append([]attendance.Record{}, d.Attendance.([]attendance.Record)...))
	}
	return st
}

// malformed reports a present attendance value that is not a dated record list.
func (d *Document) malformed() bool {
	switch v := d.Attendance.(type) {
	case nil:
		return false
	case []attendance.Record:
		for _, rec := range v {
			if rec.Date == "" {
				return true
			}
		}
		return false
	}
	return true
}

func cloneDocument(d Document) Document {
	if records, ok := d.Attendance.([]attendance.Record); ok {
		d.Attendance = append([]attendance.Record{}, records...)
	}
	return d
}
