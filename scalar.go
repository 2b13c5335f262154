package orm

import "context"

// Scalar runs a scalar query and coerces the result to T: numeric widening
// and narrowing with overflow checks, text to numbers, []byte to string and
// sql.Scanner or encoding.TextUnmarshaler targets.
func Scalar[T any](ctx context.Context, db Database, query string, params ...Parameter) (T, error) {
	var zero T
	v, err := db.ExecuteScalar(ctx, query, params...)
	if err != nil {
		return zero, err
	}
	out, err := ConvertTo[T](v)
	if err != nil {
		return zero, WrapErrorWithQuery(err, "SCALAR", "", query)
	}
	return out, nil
}
