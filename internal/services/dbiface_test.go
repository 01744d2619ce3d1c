package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type (
	execFunc     func(ctx context.Context, sql string, args ...any) (CommandTag, error)
	queryFunc    func(ctx context.Context, sql string, args ...any) (Rows, error)
	queryRowFunc func(ctx context.Context, sql string, args ...any) Row
)

var errUnscripted = errors.New("fake: call not scripted")

type fakeCommandTag struct {
	rowsAffected int64
}

func (f fakeCommandTag) RowsAffected() int64 {
	return f.rowsAffected
}

// fakeRow scans through scanFunc; a nil scanFunc reports errUnscripted.
type fakeRow struct {
	scanFunc func(dest ...any) error
}

func (f fakeRow) Scan(dest ...any) error {
	if f.scanFunc == nil {
		return errUnscripted
	}
	return f.scanFunc(dest...)
}

// rowFromValues scans values into the destinations in order.
func rowFromValues(values ...any) Row {
	return fakeRow{scanFunc: func(dest ...any) error {
		return assignRow(dest, values)
	}}
}

// errRow fails every scan with err.
func errRow(err error) Row {
	return fakeRow{scanFunc: func(...any) error { return err }}
}

func noRows() Row {
	return errRow(pgx.ErrNoRows)
}

// pgError is what the driver returns for a constraint violation.
func pgError(code string) error {
	return &pgconn.PgError{Code: code}
}

type fakeRows struct {
	rows   [][]any
	idx    int
	err    error
	closed bool
}

func (f *fakeRows) Close()     { f.closed = true }
func (f *fakeRows) Err() error { return f.err }

func (f *fakeRows) Next() bool {
	if f.idx >= len(f.rows) {
		return false
	}
	f.idx++
	return true
}

func (f *fakeRows) Scan(dest ...any) error {
	if f.idx == 0 || f.idx > len(f.rows) {
		return fmt.Errorf("scan called without active row")
	}
	return assignRow(dest, f.rows[f.idx-1])
}

func runExec(fn execFunc, ctx context.Context, sql string, args []any) (CommandTag, error) {
	if fn == nil {
		return fakeCommandTag{}, nil
	}
	return fn(ctx, sql, args...)
}

func runQuery(fn queryFunc, ctx context.Context, sql string, args []any) (Rows, error) {
	if fn == nil {
		return &fakeRows{}, nil
	}
	return fn(ctx, sql, args...)
}

func runQueryRow(fn queryRowFunc, ctx context.Context, sql string, args []any) Row {
	if fn == nil {
		return errRow(errUnscripted)
	}
	return fn(ctx, sql, args...)
}

type fakeDB struct {
	ExecFunc     execFunc
	QueryFunc    queryFunc
	QueryRowFunc queryRowFunc
	BeginFunc    func(ctx context.Context) (Tx, error)
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	return runExec(f.ExecFunc, ctx, sql, args)
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return runQuery(f.QueryFunc, ctx, sql, args)
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return runQueryRow(f.QueryRowFunc, ctx, sql, args)
}

func (f *fakeDB) Begin(ctx context.Context) (Tx, error) {
	if f.BeginFunc == nil {
		return nil, errUnscripted
	}
	return f.BeginFunc(ctx)
}

// fakeTx commits and rolls back successfully unless told otherwise.
type fakeTx struct {
	ExecFunc     execFunc
	QueryFunc    queryFunc
	QueryRowFunc queryRowFunc
	CommitFunc   func(ctx context.Context) error
	RollbackFunc func(ctx context.Context) error
}

func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	return runExec(f.ExecFunc, ctx, sql, args)
}

func (f *fakeTx) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return runQuery(f.QueryFunc, ctx, sql, args)
}

func (f *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return runQueryRow(f.QueryRowFunc, ctx, sql, args)
}

func (f *fakeTx) Commit(ctx context.Context) error {
	if f.CommitFunc == nil {
		return nil
	}
	return f.CommitFunc(ctx)
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	if f.RollbackFunc == nil {
		return nil
	}
	return f.RollbackFunc(ctx)
}

// assignRow copies values into pointer destinations, converting between
// compatible types the way the driver would (int32 columns into int, and so on).
func assignRow(dest []any, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan dest mismatch: got %d want %d", len(dest), len(values))
	}
	for i, value := range values {
		dv := reflect.ValueOf(dest[i])
		if dv.Kind() != reflect.Pointer || dv.IsNil() {
			return fmt.Errorf("dest %d not pointer", i)
		}
		target := dv.Elem()
		if value == nil {
			target.SetZero()
			continue
		}
		vv := reflect.ValueOf(value)
		switch {
		case vv.Type().AssignableTo(target.Type()):
			target.Set(vv)
		case vv.Type().ConvertibleTo(target.Type()):
			target.Set(vv.Convert(target.Type()))
		default:
			return fmt.Errorf("cannot assign %T to %s", value, target.Type())
		}
	}
	return nil
}
