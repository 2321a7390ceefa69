package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rollcall/internal/attendance"
)

// Mongo stores student documents in a MongoDB collection.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongo connects and pings the server.
func NewMongo(ctx context.Context, uri, database, collection string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetConnectTimeout(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("store/mongo: connect: %w", err)
	}
	m := &Mongo{client: client, coll: client.Database(database).Collection(collection)}
	if err := m.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return m, nil
}

// Ping verifies the primary is reachable.
func (m *Mongo) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("store/mongo: ping: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

func (m *Mongo) FindAll(ctx context.Context) ([]attendance.Student, error) {
	cur, err := m.coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("store/mongo: find: %w", err)
	}
	defer cur.Close(ctx)

	var students []attendance.Student
	for cur.Next(ctx) {
		students = append(students, decodeStudent(cur.Current))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("store/mongo: cursor: %w", err)
	}
	return students, nil
}

func (m *Mongo) FindOne(ctx context.Context, f attendance.Filter) (attendance.Student, error) {
	raw, err := m.coll.FindOne(ctx, mongoFilter(f)).Raw()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return attendance.Student{}, attendance.ErrStudentNotFound
		}
		return attendance.Student{}, fmt.Errorf("store/mongo: find one: %w", err)
	}
	return decodeStudent(raw), nil
}

func (m *Mongo) UpdateOne(ctx context.Context, f attendance.Filter, p attendance.Patch) (bool, error) {
	update, err := mongoUpdate(p)
	if err != nil {
		return false, err
	}
	res, err := m.coll.UpdateOne(ctx, mongoFilter(f), update)
	if err != nil {
		return false, fmt.Errorf("store/mongo: update one: %w", err)
	}
	return res.MatchedCount > 0, nil
}

func (m *Mongo) UpdateMany(ctx context.Context, f attendance.Filter, p attendance.Patch) (int64, error) {
	update, err := mongoUpdate(p)
	if err != nil {
		return 0, err
	}
	res, err := m.coll.UpdateMany(ctx, mongoFilter(f), update)
	if err != nil {
		return 0, fmt.Errorf("store/mongo: update many: %w", err)
	}
	return res.MatchedCount, nil
}

func mongoFilter(f attendance.Filter) bson.D {
	filter := bson.D{}
	if f.Cedula != "" {
		filter = append(filter, bson.E{Key: "cedula", Value: cedulaMatch(f.Cedula)})
	}
	if f.HasAttendance {
		filter = append(filter, bson.E{Key: "attendance", Value: bson.M{"$exists": true}})
	}
	if f.AttendanceMalformed {
		filter = append(filter, bson.E{Key: "$or", Value: mongoMalformed})
	}
	if f.NoRecordOn != "" {
		filter = append(filter, bson.E{Key: "attendance.date", Value: bson.M{"$ne": f.NoRecordOn}})
	}
	if f.StatusUnmarked {
		// $nin also matches documents without the field.
		filter = append(filter, bson.E{Key: "status", Value: bson.M{"$nin": attendance.MarkedLabels}})
	}
	return filter
}

// mongoMalformed mirrors decodeLog: a present field that is not an
// array, or an array holding a non-document or a record without a string date.
var mongoMalformed = bson.A{
	bson.M{"attendance": bson.M{"$exists": true, "$not": bson.M{"$type": "array"}}},
	bson.M{"attendance": bson.M{"$elemMatch": bson.M{"$not": bson.M{"$type": "object"}}}},
	bson.M{"attendance": bson.M{"$elemMatch": bson.M{"date": bson.M{"$not": bson.M{"$type": "string"}}}}},
	bson.M{"attendance.date": ""},
}

// cedulaMatch also matches identifiers that older imports stored as numbers.
func cedulaMatch(cedula string) any {
	n, err := strconv.ParseInt(cedula, 10, 64)
	if err != nil || strconv.FormatInt(n, 10) != cedula {
		return cedula
	}
	return bson.M{"$in": bson.A{cedula, n}}
}

func mongoUpdate(p attendance.Patch) (bson.M, error) {
	switch p.Kind {
	case attendance.PatchSetStatus:
		return bson.M{"$set": bson.M{"status": string(p.Status)}}, nil
	case attendance.PatchSetAttendance:
		records := p.Records
		if records == nil {
			records = []attendance.Record{}
		}
		return bson.M{"$set": bson.M{"attendance": records}}, nil
	case attendance.PatchPushRecord:
		return bson.M{"$push": bson.M{"attendance": p.Record}}, nil
	}
	return nil, fmt.Errorf("store/mongo: unsupported patch kind %d", p.Kind)
}

func decodeStudent(raw bson.Raw) attendance.Student {
	st := attendance.Student{
		Cedula: rawString(raw.Lookup("cedula")),
		Name:   rawString(raw.Lookup("nombre")),
		Status: attendance.ParseStatus(rawString(raw.Lookup("status"))),
	}
	v, err := raw.LookupErr("attendance")
	if err != nil {
		st.Attendance = attendance.AbsentLog()
		return st
	}
	st.Attendance = decodeLog(v)
	return st
}

func decodeLog(v bson.RawValue) attendance.Log {
	arr, ok := v.ArrayOK()
	if !ok {
		return attendance.MalformedLog(v.String())
	}
	values, err := arr.Values()
	if err != nil {
		return attendance.MalformedLog(v.String())
	}
	records := make([]attendance.Record, 0, len(values))
	for _, elem := range values {
		doc, ok := elem.DocumentOK()
		if !ok {
			return attendance.MalformedLog(v.String())
		}
		date, ok := doc.Lookup("date").StringValueOK()
		if !ok || date == "" {
			return attendance.MalformedLog(v.String())
		}
		records = append(records, attendance.Record{
			Date:   date,
			Status: attendance.ParseStatus(rawString(doc.Lookup("status"))),
		})
	}
	return attendance.ValidLog(records)
}

func rawString(v bson.RawValue) string {
	switch v.Type {
	case bson.TypeString:
		return v.StringValue()
	case bson.TypeInt32:
		return strconv.FormatInt(int64(v.Int32()), 10)
	case bson.TypeInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case bson.TypeDouble:
		return strconv.FormatFloat(v.Double(), 'f', -1, 64)
	}
	return ""
}
