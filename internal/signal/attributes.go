package signal

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// AttributeFromAny converts an arbitrary Go value into an attribute, falling
// back to its fmt representation for types without a native attribute kind.
func AttributeFromAny(key string, v any) attribute.KeyValue {
	k := attribute.Key(key)
	switch val := v.(type) {
	case nil:
		return k.String("")
	case string:
		return k.String(val)
	case bool:
		return k.Bool(val)
	case int:
		return k.Int(val)
	case int8:
		return k.Int64(int64(val))
	case int16:
		return k.Int64(int64(val))
	case int32:
		return k.Int64(int64(val))
	case int64:
		return k.Int64(val)
	case uint8:
		return k.Int64(int64(val))
	case uint16:
		return k.Int64(int64(val))
	case uint32:
		return k.Int64(int64(val))
	case float32:
		return k.Float64(float64(val))
	case float64:
		return k.Float64(val)
	case []string:
		return k.StringSlice(val)
	case []int:
		return k.IntSlice(val)
	case []int64:
		return k.Int64Slice(val)
	case []float64:
		return k.Float64Slice(val)
	case []bool:
		return k.BoolSlice(val)
	case time.Duration:
		return k.String(val.String())
	case time.Time:
		return k.String(val.Format(time.RFC3339Nano))
	case error:
		return k.String(val.Error())
	case fmt.Stringer:
		return k.String(val.String())
	default:
		return k.String(fmt.Sprint(val))
	}
}

// UpsertAttributes merges kvs into attrs. Existing keys are replaced in place so
// the first-insertion order is kept; new keys are appended until limit is
// reached (limit <= 0 means unlimited). It returns the merged slice and the
// number of attributes that did not fit.
func UpsertAttributes(attrs []attribute.KeyValue, limit int, kvs ...attribute.KeyValue) ([]attribute.KeyValue, int) {
	dropped := 0
	for _, kv := range kvs {
		if !kv.Valid() {
			dropped++
			continue
		}
		replaced := false
		for i := range attrs {
			if attrs[i].Key == kv.Key {
				attrs[i] = kv
				replaced = true
				break
			}
		}
		if replaced {
			continue
		}
		if limit > 0 && len(attrs) >= limit {
			dropped++
			continue
		}
		attrs = append(attrs, kv)
	}
	return attrs, dropped
}
