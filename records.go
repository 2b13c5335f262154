package orm

import (
	"fmt"
	"sort"
	"strings"
)

type DBRecord struct {
	TableName string
	Data      map[string]interface{}
}

type DBRecords []DBRecord

// Append adds a new DBRecord to the DBRecords slice.
func (d *DBRecords) Append(rec DBRecord) {
	*d = append(*d, rec)
}

// Get looks a column up case-insensitively, since engines disagree on the
// case they report column names in.
func (d DBRecord) Get(column string) (interface{}, bool) {
	if v, ok := d.Data[column]; ok {
		return v, true
	}
	for k, v := range d.Data {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return nil, false
}

// Columns returns the record's column names sorted, for a stable order when
// no Mapping is available.
func (d DBRecord) Columns() []string {
	cols := make([]string, 0, len(d.Data))
	for k := range d.Data {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func (d DBRecord) values(cols []string) []interface{} {
	values := make([]interface{}, len(cols))
	for i, c := range cols {
		v, _ := d.Get(c)
		values[i] = NullValue(v)
	}
	return values
}

func checkMapping(m Mapping) error {
	if err := ValidateTableName(m.Table); err != nil {
		return err
	}
	if len(m.Columns) == 0 {
		return fmt.Errorf("%w: %s has no columns", ErrInvalidEntity, m.Table)
	}
	return nil
}

// BuildSelectByID renders SELECT * FROM {T} WHERE Id = @Id.
func BuildSelectByID(m Mapping, ph PlaceholderFunc, id interface{}) (ParametereizedSQL, error) {
	if err := ValidateTableName(m.Table); err != nil {
		return ParametereizedSQL{}, err
	}
	idCol := m.IdentifierColumn()
	return ParametereizedSQL{
		Query:  fmt.Sprintf("SELECT * FROM %s WHERE %s = %s", m.Table, idCol, ph(idCol, 1)),
		Values: []interface{}{NullValue(id)},
		Names:  []string{idCol},
	}, nil
}

// BuildSelectAll renders SELECT * FROM {T}.
func BuildSelectAll(m Mapping) (ParametereizedSQL, error) {
	if err := ValidateTableName(m.Table); err != nil {
		return ParametereizedSQL{}, err
	}
	return ParametereizedSQL{Query: "SELECT * FROM " + m.Table}, nil
}

// BuildInsert renders INSERT INTO {T} (cols) VALUES (@cols), binding every
// mapped column including the identifier.
func BuildInsert(m Mapping, ph PlaceholderFunc, rec DBRecord) (ParametereizedSQL, error) {
	if err := checkMapping(m); err != nil {
		return ParametereizedSQL{}, err
	}
	marks := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		marks[i] = ph(c, i+1)
	}
	return ParametereizedSQL{
		Query: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			m.Table, strings.Join(m.Columns, ", "), strings.Join(marks, ", ")),
		Values: rec.values(m.Columns),
		Names:  append([]string(nil), m.Columns...),
	}, nil
}

// BuildUpdate renders UPDATE {T} SET c=@c, ... WHERE Id=@Id. Every mapped
// column is rewritten, the identifier included.
func BuildUpdate(m Mapping, ph PlaceholderFunc, rec DBRecord) (ParametereizedSQL, error) {
	if err := checkMapping(m); err != nil {
		return ParametereizedSQL{}, err
	}
	if !m.HasIdentifier() {
		return ParametereizedSQL{}, fmt.Errorf("%w: %s", ErrMissingIdentifierField, m.Table)
	}
	sets := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		sets[i] = c + "=" + ph(c, i+1)
	}
	id, _ := rec.Get(m.Identifier)
	return ParametereizedSQL{
		Query: fmt.Sprintf("UPDATE %s SET %s WHERE %s=%s",
			m.Table, strings.Join(sets, ", "), m.Identifier, ph(m.Identifier, len(m.Columns)+1)),
		Values: append(rec.values(m.Columns), NullValue(id)),
		Names:  append(append([]string(nil), m.Columns...), m.Identifier),
	}, nil
}

// BuildDelete renders DELETE FROM {T} WHERE Id=@Id.
func BuildDelete(m Mapping, ph PlaceholderFunc, rec DBRecord) (ParametereizedSQL, error) {
	if err := ValidateTableName(m.Table); err != nil {
		return ParametereizedSQL{}, err
	}
	if !m.HasIdentifier() {
		return ParametereizedSQL{}, fmt.Errorf("%w: %s", ErrMissingIdentifierField, m.Table)
	}
	id, _ := rec.Get(m.Identifier)
	return ParametereizedSQL{
		Query:  fmt.Sprintf("DELETE FROM %s WHERE %s=%s", m.Table, m.Identifier, ph(m.Identifier, 1)),
		Values: []interface{}{NullValue(id)},
		Names:  []string{m.Identifier},
	}, nil
}

// ScanRecords drains rows into records tagged with table and closes rows.
// Text columns returned as []byte are copied into strings.
func ScanRecords(rows Rows, table string) (DBRecords, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	records := DBRecords{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		rec := DBRecord{TableName: table, Data: make(map[string]interface{}, len(cols))}
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				rec.Data[col] = string(b)
				continue
			}
			rec.Data[col] = values[i]
		}
		records.Append(rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// ToInsertSQLParameterized converts records of one table into batched
// multi-row INSERT statements of at most MAX_MULTIPLE_INSERTS rows each.
// Columns come from the first record, sorted; a record missing one of them
// inserts NULL there.
func (records DBRecords) ToInsertSQLParameterized(ph PlaceholderFunc) ([]ParametereizedSQL, error) {
	if len(records) == 0 || len(records[0].Data) == 0 {
		return nil, nil
	}

	tableName := records[0].TableName
	if err := ValidateTableName(tableName); err != nil {
		return nil, err
	}
	columns := records[0].Columns()
	for _, col := range columns {
		if err := ValidateColumnName(col); err != nil {
			return nil, err
		}
	}
	batch := MAX_MULTIPLE_INSERTS
	if batch < 1 {
		batch = DEFAULT_MAX_MULTIPLE_INSERTS
	}
	numFields := len(columns)
	columnsSQL := fmt.Sprintf("(%s)", strings.Join(columns, ", "))

	numStatements := (len(records) + batch - 1) / batch
	paramStatements := make([]ParametereizedSQL, 0, numStatements)

	for i := 0; i < len(records); i += batch {
		end := i + batch
		if end > len(records) {
			end = len(records)
		}
		currentBatch := records[i:end]

		placeholderGroups := make([]string, 0, len(currentBatch))
		values := make([]interface{}, 0, len(currentBatch)*numFields)
		names := make([]string, 0, len(currentBatch)*numFields)

		for _, record := range currentBatch {
			placeholders := make([]string, 0, numFields)
			for _, col := range columns {
				pos := len(values) + 1
				name := fmt.Sprintf("%s_%d", col, pos)
				placeholders = append(placeholders, ph(name, pos))
				names = append(names, name)
				v, _ := record.Get(col)
				values = append(values, NullValue(v))
			}
			placeholderGroups = append(placeholderGroups, fmt.Sprintf("(%s)", strings.Join(placeholders, ", ")))
		}

		paramStatements = append(paramStatements, ParametereizedSQL{
			Query:  fmt.Sprintf("INSERT INTO %s %s VALUES %s", tableName, columnsSQL, strings.Join(placeholderGroups, ", ")),
			Values: values,
			Names:  names,
		})
	}

	return paramStatements, nil
}
