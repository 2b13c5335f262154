package orm

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// IdentifierName is the conventional name of the identifier field.
const IdentifierName = "Id"

// Column describes one persisted field of T: its column name and how to read
// and write it on a *T.
type Column[T any] struct {
	Name string
	Get  func(*T) interface{}
	Set  func(*T, interface{}) error
}

// Mapping is the type-erased view of an Entity that providers work with.
// Columns are in the canonical order used for every generated statement.
// Identifier is empty when the type has no Id field.
type Mapping struct {
	Table      string
	Columns    []string
	Identifier string
}

// HasIdentifier reports whether the mapped type exposes an Id field.
func (m Mapping) HasIdentifier() bool { return m.Identifier != "" }

// IdentifierColumn is the column used in WHERE clauses: the mapped identifier,
// or the conventional name when the type has none.
func (m Mapping) IdentifierColumn() string {
	if m.Identifier != "" {
		return m.Identifier
	}
	return IdentifierName
}

// Entity is a field-descriptor table for T, built once and reused for every
// call. Build one with DescribeEntity or EntityOf.
type Entity[T any] struct {
	table   string
	columns []Column[T]
	index   map[string]int // lower-cased column name -> position
	idIndex int            // -1 when there is no identifier
}

// DescribeEntity registers T explicitly, without reflection. The identifier is
// the column named Id, matched exactly first and then case-insensitively.
func DescribeEntity[T any](table string, cols ...Column[T]) (*Entity[T], error) {
	if err := ValidateTableName(table); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s has no columns", ErrInvalidEntity, table)
	}

	e := &Entity[T]{
		table:   table,
		columns: append([]Column[T](nil), cols...),
		index:   make(map[string]int, len(cols)),
		idIndex: -1,
	}
	for i, c := range e.columns {
		if err := ValidateColumnName(c.Name); err != nil {
			return nil, fmt.Errorf("%w: column %d of %s: %v", ErrInvalidEntity, i, table, err)
		}
		if c.Get == nil || c.Set == nil {
			return nil, fmt.Errorf("%w: column %s of %s needs both Get and Set", ErrInvalidEntity, c.Name, table)
		}
		key := strings.ToLower(c.Name)
		if _, dup := e.index[key]; dup {
			return nil, fmt.Errorf("%w: duplicate column %s in %s", ErrInvalidEntity, c.Name, table)
		}
		e.index[key] = i
		if c.Name == IdentifierName {
			e.idIndex = i
		}
	}
	if e.idIndex < 0 {
		if i, ok := e.index[strings.ToLower(IdentifierName)]; ok {
			e.idIndex = i
		}
	}
	return e, nil
}

var entityCache sync.Map // reflect.Type -> *Entity[T]

// EntityOf derives the descriptor of struct type T from its exported fields in
// declaration order, naming the table after the type. The result is cached
// per type.
func EntityOf[T any]() (*Entity[T], error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if cached, ok := entityCache.Load(t); ok {
		return cached.(*Entity[T]), nil
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct", ErrInvalidEntity, t)
	}

	var cols []Column[T]
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Anonymous {
			continue
		}
		cols = append(cols, reflectColumn[T](f.Name, i))
	}

	e, err := DescribeEntity(t.Name(), cols...)
	if err != nil {
		return nil, err
	}
	actual, _ := entityCache.LoadOrStore(t, e)
	return actual.(*Entity[T]), nil
}

// MustEntityOf is EntityOf that panics, for package-level descriptors.
func MustEntityOf[T any]() *Entity[T] {
	e, err := EntityOf[T]()
	if err != nil {
		panic(err)
	}
	return e
}

func reflectColumn[T any](name string, field int) Column[T] {
	return Column[T]{
		Name: name,
		Get: func(v *T) interface{} {
			return reflect.ValueOf(v).Elem().Field(field).Interface()
		},
		Set: func(v *T, value interface{}) error {
			return AssignValue(reflect.ValueOf(v).Elem().Field(field), value)
		},
	}
}

func (e *Entity[T]) Table() string { return e.table }

// Columns returns the column names in canonical order.
func (e *Entity[T]) Columns() []string {
	names := make([]string, len(e.columns))
	for i, c := range e.columns {
		names[i] = c.Name
	}
	return names
}

func (e *Entity[T]) Mapping() Mapping {
	m := Mapping{Table: e.table, Columns: e.Columns()}
	if e.idIndex >= 0 {
		m.Identifier = e.columns[e.idIndex].Name
	}
	return m
}

// Column looks a column up by name, case-insensitively.
func (e *Entity[T]) Column(name string) (Column[T], bool) {
	i, ok := e.index[strings.ToLower(name)]
	if !ok {
		return Column[T]{}, false
	}
	return e.columns[i], true
}

// Values returns the field values of v in column order.
func (e *Entity[T]) Values(v *T) []interface{} {
	values := make([]interface{}, len(e.columns))
	for i, c := range e.columns {
		values[i] = c.Get(v)
	}
	return values
}

// Record converts v into a DBRecord keyed by column name.
func (e *Entity[T]) Record(v *T) DBRecord {
	rec := DBRecord{TableName: e.table, Data: make(map[string]interface{}, len(e.columns))}
	for _, c := range e.columns {
		rec.Data[c.Name] = c.Get(v)
	}
	return rec
}

// Records converts a slice of values.
func (e *Entity[T]) Records(vs []T) DBRecords {
	recs := make(DBRecords, 0, len(vs))
	for i := range vs {
		recs = append(recs, e.Record(&vs[i]))
	}
	return recs
}

// Identifier returns the Id value of v, or ErrMissingIdentifierField.
func (e *Entity[T]) Identifier(v *T) (interface{}, error) {
	if e.idIndex < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingIdentifierField, e.table)
	}
	return e.columns[e.idIndex].Get(v), nil
}

// SetIdentifier assigns id to the Id field of v, converting as needed.
func (e *Entity[T]) SetIdentifier(v *T, id interface{}) error {
	if e.idIndex < 0 {
		return fmt.Errorf("%w: %s", ErrMissingIdentifierField, e.table)
	}
	return e.columns[e.idIndex].Set(v, id)
}

// FromRecord builds a new T from rec. Columns are matched case-insensitively;
// columns unknown to T are ignored and fields missing from rec stay zero.
func (e *Entity[T]) FromRecord(rec DBRecord) (T, error) {
	var v T
	for name, value := range rec.Data {
		i, ok := e.index[strings.ToLower(name)]
		if !ok {
			continue
		}
		if err := e.columns[i].Set(&v, value); err != nil {
			return v, fmt.Errorf("column %s: %w", e.columns[i].Name, err)
		}
	}
	return v, nil
}

// FromRecords builds one T per record.
func (e *Entity[T]) FromRecords(recs DBRecords) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		v, err := e.FromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
