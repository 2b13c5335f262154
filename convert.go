package orm

import (
	"database/sql"
	"encoding"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var (
	scannerType         = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
	timeType            = reflect.TypeOf(time.Time{})
	bytesType           = reflect.TypeOf([]byte(nil))
)

// Layouts tried, in order, when a driver hands back a time as text.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NullValue normalises a value for binding: nil and typed-nil pointers, maps,
// slices and interfaces become nil, which every driver binds as NULL.
func NullValue(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
	case reflect.Slice:
		if rv.IsNil() && rv.Type() != bytesType {
			return nil
		}
	}
	return v
}

// ConvertTo coerces a driver value into T using the AssignValue rules.
func ConvertTo[T any](src interface{}) (T, error) {
	var out T
	err := AssignValue(reflect.ValueOf(&out).Elem(), src)
	return out, err
}

// AssignValue stores src into dst, converting between the representations
// drivers hand back (int64, float64, []byte, string, time.Time, bool) and the
// field's Go type. A nil src zeroes dst.
func AssignValue(dst reflect.Value, src interface{}) error {
	if !dst.CanSet() {
		return fmt.Errorf("orm: cannot assign to %s", dst.Type())
	}
	if src == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}

	if dst.Type() == timeType {
		t, err := asTime(src)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(t))
		return nil
	}

	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(dst.Type()) {
		dst.Set(sv)
		return nil
	}

	if dst.CanAddr() {
		addr := dst.Addr()
		if addr.Type().Implements(scannerType) {
			return addr.Interface().(sql.Scanner).Scan(src)
		}
		if addr.Type().Implements(textUnmarshalerType) {
			if text, ok := asText(src); ok {
				return addr.Interface().(encoding.TextUnmarshaler).UnmarshalText(text)
			}
		}
	}

	if dst.Kind() == reflect.Pointer {
		elem := reflect.New(dst.Type().Elem())
		if err := AssignValue(elem.Elem(), src); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	switch dst.Kind() {
	case reflect.String:
		dst.SetString(asString(src))
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := asInt64(src)
		if err != nil {
			return err
		}
		if dst.OverflowInt(n) {
			return fmt.Errorf("orm: value %d overflows %s", n, dst.Type())
		}
		dst.SetInt(n)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := asInt64(src)
		if err != nil {
			return err
		}
		if n < 0 || dst.OverflowUint(uint64(n)) {
			return fmt.Errorf("orm: value %d overflows %s", n, dst.Type())
		}
		dst.SetUint(uint64(n))
		return nil

	case reflect.Float32, reflect.Float64:
		f, err := asFloat64(src)
		if err != nil {
			return err
		}
		dst.SetFloat(f)
		return nil

	case reflect.Bool:
		b, err := asBool(src)
		if err != nil {
			return err
		}
		dst.SetBool(b)
		return nil

	case reflect.Slice:
		if dst.Type().Elem().Kind() == reflect.Uint8 {
			if text, ok := asText(src); ok {
				dst.SetBytes(append([]byte(nil), text...))
				return nil
			}
		}

	case reflect.Interface:
		if sv.Type().Implements(dst.Type()) {
			dst.Set(sv)
			return nil
		}
	}

	if sv.Type().ConvertibleTo(dst.Type()) && sv.Kind() != reflect.String {
		dst.Set(sv.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("orm: cannot convert %T to %s", src, dst.Type())
}

func asText(src interface{}) ([]byte, bool) {
	switch v := src.(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	}
	return nil, false
}

func asString(src interface{}) string {
	switch v := src.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(src)
}

func asInt64(src interface{}) (int64, error) {
	switch v := src.(type) {
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(v)), 10, 64)
	}
	rv := reflect.ValueOf(src)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("orm: value %d overflows int64", u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) {
			return 0, fmt.Errorf("orm: value %v is not an integer", f)
		}
		return int64(f), nil
	}
	return 0, fmt.Errorf("orm: cannot convert %T to an integer", src)
}

func asFloat64(src interface{}) (float64, error) {
	switch v := src.(type) {
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
	}
	rv := reflect.ValueOf(src)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return 0, fmt.Errorf("orm: cannot convert %T to a float", src)
}

func asBool(src interface{}) (bool, error) {
	switch v := src.(type) {
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(v))
	case []byte:
		return strconv.ParseBool(strings.TrimSpace(string(v)))
	}
	n, err := asInt64(src)
	if err != nil {
		return false, fmt.Errorf("orm: cannot convert %T to bool", src)
	}
	return n != 0, nil
}

func asTime(src interface{}) (time.Time, error) {
	switch v := src.(type) {
	case time.Time:
		return v, nil
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case string, []byte:
		text := strings.TrimSpace(asString(v))
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, text); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("orm: cannot parse %q as a time", text)
	}
	return time.Time{}, fmt.Errorf("orm: cannot convert %T to time.Time", src)
}

// IdentifierString renders an identifier in its canonical text form, the form
// string-keyed strategies bind and compare. Text marshalers and Stringers
// (uuid.UUID among them) use their own encoding.
func IdentifierString(id interface{}) (string, error) {
	switch v := id.(type) {
	case nil:
		return "", fmt.Errorf("%w: nil identifier", ErrMissingIdentifierField)
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case encoding.TextMarshaler:
		text, err := v.MarshalText()
		if err != nil {
			return "", err
		}
		return string(text), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	rv := reflect.ValueOf(id)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Pointer:
		if rv.IsNil() {
			return "", fmt.Errorf("%w: nil identifier", ErrMissingIdentifierField)
		}
		return IdentifierString(rv.Elem().Interface())
	}
	return "", fmt.Errorf("orm: unsupported identifier type %T", id)
}
