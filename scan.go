package echorm

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// scanInto scans one row into a pointer-to-struct following the table's
// column order. sql.ErrNoRows maps to ErrNotFound.
func scanInto(row rowScanner, info *TableInfo, dest any) error {
	v := reflect.ValueOf(dest).Elem()
	targets := make([]any, len(info.Columns))
	for i, col := range info.Columns {
		targets[i] = scanTarget(col.fieldValue(v))
	}
	if err := row.Scan(targets...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("echorm: scan %s: %w", info.Name, err)
	}
	return nil
}

// scanTarget picks a scan destination for a struct field. Fields implementing
// sql.Scanner are used directly; time, bool, and pointer fields get coercing
// wrappers because drivers disagree on their wire representations.
func scanTarget(f reflect.Value) any {
	addr := f.Addr().Interface()
	if _, ok := addr.(sql.Scanner); ok {
		return addr
	}
	switch addr.(type) {
	case *time.Time, *bool:
		return &fieldDest{f: f}
	}
	if f.Kind() == reflect.Pointer {
		return &fieldDest{f: f}
	}
	return addr
}

// fieldDest coerces driver values into field types database/sql will not
// convert on its own (notably sqlite's int64 booleans and text timestamps).
type fieldDest struct {
	f reflect.Value
}

func (d *fieldDest) Scan(src any) error {
	f := d.f
	if f.Kind() == reflect.Pointer {
		if src == nil {
			f.SetZero()
			return nil
		}
		if f.IsNil() {
			f.Set(reflect.New(f.Type().Elem()))
		}
		f = f.Elem()
	}
	if src == nil {
		f.SetZero()
		return nil
	}

	switch f.Interface().(type) {
	case time.Time:
		ts, err := parseTime(src)
		if err != nil {
			return err
		}
		f.Set(reflect.ValueOf(ts))
		return nil
	case bool:
		b, err := parseBool(src)
		if err != nil {
			return err
		}
		f.SetBool(b)
		return nil
	}

	sv := reflect.ValueOf(src)
	switch {
	case sv.Type().AssignableTo(f.Type()):
		f.Set(sv)
	case sv.Type().ConvertibleTo(f.Type()):
		f.Set(sv.Convert(f.Type()))
	default:
		return fmt.Errorf("echorm: cannot scan %T into %s", src, f.Type())
	}
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(src any) (time.Time, error) {
	switch v := src.(type) {
	case time.Time:
		return v, nil
	case string:
		return parseTimeString(v)
	case []byte:
		return parseTimeString(string(v))
	case int64:
		return time.Unix(v, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("echorm: cannot scan %T into time.Time", src)
}

func parseTimeString(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("echorm: unrecognized time value %q", s)
}

func parseBool(src any) (bool, error) {
	switch v := src.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case string:
		return strconv.ParseBool(v)
	case []byte:
		return strconv.ParseBool(string(v))
	}
	return false, fmt.Errorf("echorm: cannot scan %T into bool", src)
}
