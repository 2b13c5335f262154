package orm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	DEFAULT_PAGINATION_LIMIT     = 50
	DEFAULT_MAX_MULTIPLE_INSERTS = 100 // Maximum number of rows to insert in a single SQL statement
)

var (
	// Some global vars are needed so we can change this on the fly later on.
	MAX_MULTIPLE_INSERTS int = DEFAULT_MAX_MULTIPLE_INSERTS

	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// PlaceholderFunc renders the bind marker for a parameter. position is 1-based.
type PlaceholderFunc func(name string, position int) string

// QuestionPlaceholder renders "?" (mysql, rqlite).
func QuestionPlaceholder(string, int) string { return "?" }

// DollarPlaceholder renders "$n" (postgres).
func DollarPlaceholder(_ string, position int) string { return "$" + strconv.Itoa(position) }

// AtPlaceholder renders "@name" (sqlite named parameters).
func AtPlaceholder(name string, _ int) string { return "@" + name }

// ColonPlaceholder renders ":name" (sqlx named statements).
func ColonPlaceholder(name string, _ int) string { return ":" + name }

// ParametereizedSQL is a statement with its arguments. Names lines up with
// Values and carries the parameter name of each bind marker.
type ParametereizedSQL struct {
	Query  string        `json:"query"`
	Values []interface{} `json:"values,omitempty"`
	Names  []string      `json:"names,omitempty"`
}

// Parameters pairs Names with Values.
func (p ParametereizedSQL) Parameters() []Parameter {
	params := make([]Parameter, len(p.Values))
	for i, v := range p.Values {
		name := ""
		if i < len(p.Names) {
			name = p.Names[i]
		}
		params[i] = Parameter{Name: name, Value: v}
	}
	return params
}

// ValidateTableName accepts a plain identifier or a schema-qualified one
// (schema.table). Names are interpolated into SQL text, so nothing else passes.
func ValidateTableName(name string) error {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return fmt.Errorf("%w: %q", ErrInvalidTableName, name)
	}
	for _, p := range parts {
		if !identifierPattern.MatchString(p) {
			return fmt.Errorf("%w: %q", ErrInvalidTableName, name)
		}
	}
	return nil
}

// ValidateColumnName accepts a plain identifier.
func ValidateColumnName(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidColumnName, name)
	}
	return nil
}

// Condition struct for query filtering with JSON and DB tags
// This struct is used to define conditions for filtering data in queries.
// It supports various operations like AND, OR, and nested conditions.
// Sample usage:
//
//	// Simple condition
//	condition := Condition{
//	  Field:    "age",
//	  Operator: ">",
//	  Value:    18,
//	}
//	// Output: WHERE age > ?
//
//	// Nested condition with AND logic
//	condition := Condition{
//	  Logic: "AND",
//	  Nested: []Condition{
//	    Condition{Field: "age", Operator: ">", Value: 18},
//	    Condition{Field: "status", Operator: "=", Value: "active"},
//	  },
//	}
//	// Output: WHERE (age > ?) AND (status = ?)
//
// Field names are checked with ValidateColumnName and operators against a
// fixed list before they reach SQL text.
type Condition struct {
	Field    string      `json:"field,omitempty"        db:"field"`
	Operator string      `json:"operator,omitempty"     db:"operator"`
	Value    interface{} `json:"value,omitempty"        db:"value"`
	Logic    string      `json:"logic,omitempty"        db:"logic"`    // "AND" or "OR"
	Nested   []Condition `json:"nested,omitempty"       db:"nested"`   // For nested conditions
	OrderBy  []string    `json:"order_by,omitempty"     db:"order_by"` // Fields to order by
	GroupBy  []string    `json:"group_by,omitempty"     db:"group_by"` // Fields to group by
	Limit    int         `json:"limit,omitempty"        db:"limit"`    // Limit for pagination
	Offset   int         `json:"offset,omitempty"       db:"offset"`   // Offset for pagination
}

var allowedOperators = map[string]bool{
	"=": true, "<>": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
	"LIKE": true, "NOT LIKE": true, "IS": true, "IS NOT": true,
}

// Eq is shorthand for a single equality condition.
func Eq(field string, value interface{}) *Condition {
	return &Condition{Field: field, Operator: "=", Value: value}
}

// And creates a new Condition with AND logic for the given conditions.
func (c *Condition) And(conditions ...Condition) *Condition {
	return &Condition{
		Logic:  "AND",
		Nested: conditions,
	}
}

// Or creates a new Condition with OR logic for the given conditions.
func (c *Condition) Or(conditions ...Condition) *Condition {
	return &Condition{
		Logic:  "OR",
		Nested: conditions,
	}
}

// Validate checks every field name and operator in the tree.
func (c *Condition) Validate() error {
	if c.Field != "" {
		if err := ValidateColumnName(c.Field); err != nil {
			return err
		}
		if !allowedOperators[strings.ToUpper(strings.TrimSpace(c.Operator))] {
			return fmt.Errorf("orm: unsupported operator %q", c.Operator)
		}
	}
	for i := range c.Nested {
		if err := c.Nested[i].Validate(); err != nil {
			return err
		}
	}
	for _, f := range append(append([]string(nil), c.OrderBy...), c.GroupBy...) {
		col := strings.Fields(f)
		if len(col) == 0 || len(col) > 2 {
			return fmt.Errorf("%w: %q", ErrInvalidColumnName, f)
		}
		if err := ValidateColumnName(col[0]); err != nil {
			return err
		}
		if len(col) == 2 {
			dir := strings.ToUpper(col[1])
			if dir != "ASC" && dir != "DESC" {
				return fmt.Errorf("orm: invalid sort direction %q", col[1])
			}
		}
	}
	return nil
}

// ToWhereString converts a Condition struct into a WHERE clause string with
// "?" markers and the parameter values.
func (c *Condition) ToWhereString() (string, []interface{}) {
	clause, _, args := c.ToWhereStringWith(QuestionPlaceholder)
	return clause, args
}

// ToWhereStringWith renders the WHERE clause with the given placeholder style.
// Parameters are named p1, p2, ... in order of appearance.
func (c *Condition) ToWhereStringWith(ph PlaceholderFunc) (string, []string, []interface{}) {
	var names []string
	var args []interface{}
	clause := c.where(ph, &names, &args)
	return clause, names, args
}

func (c *Condition) where(ph PlaceholderFunc, names *[]string, args *[]interface{}) string {
	if c.Field != "" {
		pos := len(*args) + 1
		name := "p" + strconv.Itoa(pos)
		*names = append(*names, name)
		*args = append(*args, NullValue(c.Value))
		return fmt.Sprintf("%s %s %s", c.Field, strings.ToUpper(strings.TrimSpace(c.Operator)), ph(name, pos))
	}

	logic := strings.ToUpper(strings.TrimSpace(c.Logic))
	if logic != "OR" {
		logic = "AND"
	}
	clauses := make([]string, 0, len(c.Nested))
	for i := range c.Nested {
		sub := c.Nested[i].where(ph, names, args)
		if sub != "" {
			clauses = append(clauses, "("+sub+")")
		}
	}
	return strings.Join(clauses, " "+logic+" ")
}

// ToSelectString generates a complete SELECT SQL query string with WHERE, GROUP BY, ORDER BY,
// and LIMIT/OFFSET clauses based on the Condition struct, using "?" markers.
func (c *Condition) ToSelectString(tableName string) (string, []interface{}) {
	stmt := c.ToSelectStringWith(tableName, QuestionPlaceholder)
	return stmt.Query, stmt.Values
}

// ToSelectStringWith is ToSelectString for a dialect's placeholder style.
func (c *Condition) ToSelectStringWith(tableName string, ph PlaceholderFunc) ParametereizedSQL {
	whereClause, names, values := c.ToWhereStringWith(ph)

	parts := []string{"SELECT * FROM " + tableName}
	if strings.TrimSpace(whereClause) != "" {
		parts = append(parts, "WHERE "+whereClause)
	}
	if len(c.GroupBy) > 0 {
		parts = append(parts, "GROUP BY "+strings.Join(c.GroupBy, ", "))
	}
	if len(c.OrderBy) > 0 {
		parts = append(parts, "ORDER BY "+strings.Join(c.OrderBy, ", "))
	}

	// if offset has value but limit is not, then use default limit
	limit := c.Limit
	if c.Offset > 0 && limit < 1 {
		limit = DEFAULT_PAGINATION_LIMIT
	}
	if limit > 0 {
		parts = append(parts, fmt.Sprintf("LIMIT %d", limit))
		if c.Offset > 0 {
			parts = append(parts, fmt.Sprintf("OFFSET %d", c.Offset))
		}
	}

	return ParametereizedSQL{Query: strings.Join(parts, " "), Values: values, Names: names}
}
