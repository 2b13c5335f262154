package rqlite

import (
	"fmt"
	"reflect"

	orm "github.com/medatechnology/polyorm"
	"github.com/rqlite/gorqlite"
)

// rows adapts a gorqlite.QueryResult, which is fully buffered by the time
// the node answers, to orm.Rows.
type rows struct {
	qr      gorqlite.QueryResult
	columns []string
	current map[string]interface{}
	err     error
	closed  bool
}

var _ orm.Rows = (*rows)(nil)

func newRows(qr gorqlite.QueryResult) *rows {
	return &rows{qr: qr, columns: qr.Columns()}
}

func (r *rows) Columns() ([]string, error) {
	return append([]string(nil), r.columns...), nil
}

func (r *rows) Next() bool {
	if r.closed || r.err != nil {
		return false
	}
	if !r.qr.Next() { // gorqlite needs Next before Map
		return false
	}
	m, err := r.qr.Map()
	if err != nil {
		r.err = err
		return false
	}
	r.current = m
	return true
}

// Scan copies the current row into dest in column order, converting with
// orm.AssignValue.
func (r *rows) Scan(dest ...interface{}) error {
	if r.current == nil {
		return fmt.Errorf("rqlite: Scan called without a successful Next")
	}
	if len(dest) != len(r.columns) {
		return fmt.Errorf("rqlite: expected %d destination arguments in Scan, got %d", len(r.columns), len(dest))
	}
	for i, col := range r.columns {
		dv := reflect.ValueOf(dest[i])
		if dv.Kind() != reflect.Pointer || dv.IsNil() {
			return fmt.Errorf("rqlite: destination %d is not a non-nil pointer", i)
		}
		if err := orm.AssignValue(dv.Elem(), r.current[col]); err != nil {
			return fmt.Errorf("rqlite: column %s: %w", col, err)
		}
	}
	return nil
}

func (r *rows) Err() error { return r.err }

func (r *rows) Close() error {
	r.closed = true
	r.current = nil
	return nil
}
