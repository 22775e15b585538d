// Package sqlmock provides a scripted database/sql driver for repository tests.
// Each expected operation is consumed in order; a mismatch fails the call.
package sqlmock

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type opType int

const (
	opExec opType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

func (t opType) String() string {
	switch t {
	case opExec:
		return "exec"
	case opQuery:
		return "query"
	case opBegin:
		return "begin"
	case opCommit:
		return "commit"
	case opRollback:
		return "rollback"
	default:
		return "unknown"
	}
}

// Op is one expected driver call.
type Op struct {
	typ    opType
	query  string
	result Result
	rows   Rows
	err    error
	args   []driver.Value
}

// WithErr makes the operation fail with err.
func (o Op) WithErr(err error) Op {
	o.err = err
	return o
}

// WithArgs makes the operation also check the bound arguments.
func (o Op) WithArgs(args ...driver.Value) Op {
	o.args = args
	return o
}

// Result is returned by Exec operations.
type Result struct {
	LastInsertID int64
	RowsAffected int64
}

// driverResult adapts Result to driver.Result.
type driverResult struct{ r Result }

func (d driverResult) LastInsertId() (int64, error) { return d.r.LastInsertID, nil }
func (d driverResult) RowsAffected() (int64, error) { return d.r.RowsAffected, nil }

// Rows is returned by Query operations.
type Rows struct {
	Columns []string
	Values  [][]driver.Value
}

// Exec expects an ExecContext call with query.
func Exec(query string, result Result) Op {
	return Op{typ: opExec, query: query, result: result}
}

// Query expects a QueryContext call with query.
func Query(query string, rows Rows) Op {
	return Op{typ: opQuery, query: query, rows: rows}
}

// Begin expects a transaction start.
func Begin() Op { return Op{typ: opBegin} }

// Commit expects a transaction commit.
func Commit() Op { return Op{typ: opCommit} }

// Rollback expects a transaction rollback.
func Rollback() Op { return Op{typ: opRollback} }

// Driver replays the scripted operations.
type Driver struct {
	mu  sync.Mutex
	ops []Op
	idx int32
}

var driverSeq atomic.Int32

// New registers a fresh driver and opens a single-connection *sql.DB on it.
func New(t *testing.T, ops ...Op) (*sql.DB, *Driver) {
	t.Helper()

	drv := &Driver{ops: ops}
	name := fmt.Sprintf("sqlmock-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

// AssertConsumed fails the test when scripted operations were left over.
func (d *Driver) AssertConsumed(t *testing.T) {
	t.Helper()

	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

// Open implements driver.Driver.
func (d *Driver) Open(string) (driver.Conn, error) {
	return &conn{driver: d}, nil
}

func (d *Driver) next(expected opType, query string, args []driver.NamedValue) (*Op, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected %s operation", expected)
	}
	op := &d.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %s, got %s", op.typ, expected)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.query != "" {
		want := Normalize(op.query)
		got := Normalize(query)
		if want != got {
			return nil, fmt.Errorf("unexpected query. want %q got %q", want, got)
		}
	}
	if op.args != nil {
		if len(op.args) != len(args) {
			return nil, fmt.Errorf("unexpected argument count. want %d got %d", len(op.args), len(args))
		}
		for i, arg := range args {
			if fmt.Sprint(op.args[i]) != fmt.Sprint(arg.Value) {
				return nil, fmt.Errorf("unexpected argument %d. want %v got %v", i, op.args[i], arg.Value)
			}
		}
	}
	return op, nil
}

type conn struct {
	driver *Driver
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "", nil)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &tx{driver: c.driver}, nil
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query, args)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return driverResult{op.result}, nil
}

func (c *conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query, args)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &rows{columns: op.rows.Columns, values: op.rows.Values}, nil
}

// CheckNamedValue accepts every argument as-is so sql.Null* values reach the script.
func (c *conn) CheckNamedValue(nv *driver.NamedValue) error {
	if valuer, ok := nv.Value.(driver.Valuer); ok {
		v, err := valuer.Value()
		if err != nil {
			return err
		}
		nv.Value = v
	}
	return nil
}

func (c *conn) Ping(context.Context) error { return nil }

type tx struct {
	driver *Driver
}

func (t *tx) Commit() error {
	op, err := t.driver.next(opCommit, "", nil)
	if err != nil {
		return err
	}
	return op.err
}

func (t *tx) Rollback() error {
	op, err := t.driver.next(opRollback, "", nil)
	if err != nil {
		return err
	}
	return op.err
}

type rows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *rows) Columns() []string { return r.columns }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

// Normalize collapses whitespace so scripted queries can be written across lines.
func Normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
