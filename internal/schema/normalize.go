package schema

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pantryhq/pantry/internal/domain"
)

// Normalize maps a value read from storage onto the Go type used for t, so
// records look the same whichever driver produced them. SQLite returns
// booleans as integers and JSON as text; PostgreSQL returns dates as
// time.Time and numerics as text.
func Normalize(t Type, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil
	}

	switch t {
	case TypeBoolean:
		switch x := v.(type) {
		case int64:
			return x != 0
		case string:
			return x == "1" || x == "t" || strings.EqualFold(x, "true")
		}
	case TypeInteger:
		switch x := v.(type) {
		case float64:
			if x == math.Trunc(x) {
				return int64(x)
			}
		case string:
			if i, err := strconv.ParseInt(x, 10, 64); err == nil {
				return i
			}
		}
	case TypeReal:
		switch x := v.(type) {
		case int64:
			return float64(x)
		case string:
			if f, err := strconv.ParseFloat(x, 64); err == nil {
				return f
			}
		}
	case TypeDate:
		switch x := v.(type) {
		case time.Time:
			return x.Format(time.DateOnly)
		case string:
			if len(x) > len(time.DateOnly) {
				if ts, err := time.Parse(time.RFC3339Nano, x); err == nil {
					return ts.Format(time.DateOnly)
				}
			}
		}
	case TypeTimestamp:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC().Format(time.RFC3339Nano)
		}
	case TypeJSON:
		if s, ok := v.(string); ok {
			var decoded any
			if err := json.Unmarshal([]byte(s), &decoded); err == nil {
				return decoded
			}
		}
	}
	return v
}

// Normalize applies Normalize to every declared column present in rec, in
// place, and returns rec.
func (t Table) Normalize(rec domain.Record) domain.Record {
	for _, col := range t.Columns {
		if v, ok := rec[col.Name]; ok {
			rec[col.Name] = Normalize(col.Type, v)
		}
	}
	return rec
}
