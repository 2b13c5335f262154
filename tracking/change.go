package tracking

import (
	"fmt"

	orm "github.com/medatechnology/polyorm"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Kind is what a staged change does to the store.
type Kind int

const (
	KindAdd Kind = iota
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindAdd:
		return "add"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Change is one staged write. Record holds a private copy of the data.
type Change struct {
	Kind    Kind
	Mapping orm.Mapping
	Record  orm.DBRecord
}

func newChange(kind Kind, m orm.Mapping, rec orm.DBRecord) (Change, error) {
	if err := orm.ValidateTableName(m.Table); err != nil {
		return Change{}, err
	}
	if len(m.Columns) == 0 {
		return Change{}, fmt.Errorf("%w: %s has no columns", orm.ErrInvalidEntity, m.Table)
	}
	if kind != KindAdd && !m.HasIdentifier() {
		return Change{}, fmt.Errorf("%w: %s", orm.ErrMissingIdentifierField, m.Table)
	}
	data := make(map[string]interface{}, len(m.Columns))
	for _, c := range m.Columns {
		v, _ := rec.Get(c)
		data[c] = orm.NullValue(v)
	}
	return Change{Kind: kind, Mapping: m, Record: orm.DBRecord{TableName: m.Table, Data: data}}, nil
}

func (c Change) identifier() interface{} {
	return c.Record.Data[c.Mapping.Identifier]
}

// apply runs the change on tx and returns the rows it affected.
func (c Change) apply(tx *gorm.DB) (int64, error) {
	var res *gorm.DB
	switch c.Kind {
	case KindAdd:
		res = tx.Table(c.Mapping.Table).Create(c.Record.Data)
	case KindUpdate:
		res = tx.Table(c.Mapping.Table).
			Where(clause.Eq{Column: clause.Column{Name: c.Mapping.Identifier}, Value: c.identifier()}).
			Updates(c.Record.Data)
	case KindDelete:
		res = tx.Exec("DELETE FROM ? WHERE ? = ?",
			clause.Table{Name: c.Mapping.Table}, clause.Column{Name: c.Mapping.Identifier}, c.identifier())
	default:
		return 0, fmt.Errorf("tracking: unknown change kind %d", c.Kind)
	}
	return res.RowsAffected, res.Error
}

func (c Change) operation() string {
	switch c.Kind {
	case KindAdd:
		return "INSERT"
	case KindUpdate:
		return "UPDATE"
	default:
		return "DELETE"
	}
}
