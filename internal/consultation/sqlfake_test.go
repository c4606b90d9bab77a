package consultation

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeTable is an in-memory consultations table reached through
// database/sql, so postgresRepo runs its real statements against it.
type fakeTable struct {
	mu       sync.Mutex
	rows     map[string]fakeRow
	nextRead func()
}

type fakeRow struct {
	id, phase, urgency, diagnosis string
	info, history                 []byte
	createdAt, updatedAt          time.Time
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: make(map[string]fakeRow)}
}

func (f *fakeTable) open(t *testing.T) *sql.DB {
	t.Helper()
	db := sql.OpenDB(fakeConnector{f})
	t.Cleanup(func() { db.Close() })
	return db
}

// holdNextRead runs fn inside the next single-row SELECT, after the row has
// been read from the table but before it is returned.
func (f *fakeTable) holdNextRead(fn func()) {
	f.mu.Lock()
	f.nextRead = fn
	f.mu.Unlock()
}

func (f *fakeTable) exec(query string, args []driver.NamedValue) (driver.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch q := normalize(query); {
	case strings.HasPrefix(q, "INSERT INTO consultations"):
		row := fakeRow{
			id:        str(args[0]),
			phase:     str(args[1]),
			urgency:   str(args[2]),
			diagnosis: str(args[3]),
			info:      raw(args[4]),
			history:   raw(args[5]),
			createdAt: args[6].Value.(time.Time),
			updatedAt: args[7].Value.(time.Time),
		}
		if _, ok := f.rows[row.id]; ok {
			return nil, errors.New(`pq: duplicate key value violates unique constraint "consultations_pkey"`)
		}
		f.rows[row.id] = row
		return driver.RowsAffected(1), nil

	case strings.HasPrefix(q, "UPDATE consultations"):
		row, ok := f.rows[str(args[0])]
		if !ok {
			return driver.RowsAffected(0), nil
		}
		row.phase = str(args[1])
		row.urgency = str(args[2])
		row.diagnosis = str(args[3])
		row.info = raw(args[4])
		row.history = raw(args[5])
		row.updatedAt = args[6].Value.(time.Time)
		f.rows[row.id] = row
		return driver.RowsAffected(1), nil

	case q == "DELETE FROM consultations WHERE id = $1 AND updated_at < $2":
		row, ok := f.rows[str(args[0])]
		if !ok || !row.updatedAt.Before(args[1].Value.(time.Time)) {
			return driver.RowsAffected(0), nil
		}
		delete(f.rows, row.id)
		return driver.RowsAffected(1), nil

	case q == "DELETE FROM consultations WHERE id = $1":
		if _, ok := f.rows[str(args[0])]; !ok {
			return driver.RowsAffected(0), nil
		}
		delete(f.rows, str(args[0]))
		return driver.RowsAffected(1), nil
	}
	return nil, fmt.Errorf("fake table: unsupported exec %q", query)
}

func (f *fakeTable) query(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	switch q := normalize(query); {
	case strings.HasPrefix(q, "SELECT id, phase"):
		f.mu.Lock()
		row, ok := f.rows[str(args[0])]
		hold := f.nextRead
		f.nextRead = nil
		f.mu.Unlock()

		if hold != nil {
			hold()
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := &fakeRows{cols: []string{"id", "phase", "urgency", "working_diagnosis", "patient_info", "history", "created_at", "updated_at"}}
		if ok {
			out.vals = append(out.vals, []driver.Value{
				row.id, row.phase, row.urgency, row.diagnosis, row.info, row.history, row.createdAt, row.updatedAt,
			})
		}
		return out, nil

	case q == "SELECT id FROM consultations WHERE updated_at < $1":
		f.mu.Lock()
		defer f.mu.Unlock()
		before := args[0].Value.(time.Time)
		out := &fakeRows{cols: []string{"id"}}
		for _, row := range f.rows {
			if row.updatedAt.Before(before) {
				out.vals = append(out.vals, []driver.Value{row.id})
			}
		}
		return out, nil

	case q == "SELECT count(*) FROM consultations":
		f.mu.Lock()
		defer f.mu.Unlock()
		return &fakeRows{cols: []string{"count"}, vals: [][]driver.Value{{int64(len(f.rows))}}}, nil
	}
	return nil, fmt.Errorf("fake table: unsupported query %q", query)
}

func normalize(query string) string { return strings.Join(strings.Fields(query), " ") }

func str(v driver.NamedValue) string { return v.Value.(string) }

func raw(v driver.NamedValue) []byte { return append([]byte(nil), v.Value.([]byte)...) }

type fakeConnector struct{ table *fakeTable }

func (c fakeConnector) Connect(context.Context) (driver.Conn, error) { return &fakeConn{c.table}, nil }

func (c fakeConnector) Driver() driver.Driver { return fakeDriver{} }

type fakeDriver struct{}

func (fakeDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("fake driver: use the connector")
}

type fakeConn struct{ table *fakeTable }

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return nil, errors.New("fake driver: prepared statements not supported")
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) {
	return nil, errors.New("fake driver: transactions not supported")
}

func (c *fakeConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	return c.table.exec(query, args)
}

func (c *fakeConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	return c.table.query(ctx, query, args)
}

func (c *fakeConn) Ping(ctx context.Context) error { return nil }

type fakeRows struct {
	cols []string
	vals [][]driver.Value
	pos  int
}

func (r *fakeRows) Columns() []string { return r.cols }

func (r *fakeRows) Close() error { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.vals) {
		return io.EOF
	}
	copy(dest, r.vals[r.pos])
	r.pos++
	return nil
}
