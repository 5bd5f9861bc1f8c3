package sandbox

// MapToDict converts a session-style JSON-value map (string, bool,
// int/int64/float64, []any, map[string]any, nil) into a Dict, so the
// orchestrator's session memory can be bound as the sandbox's `memory`
// global.
func MapToDict(m map[string]any) *Dict {
	d := NewDict()
	for k, v := range m {
		d.Set(k, AnyToValue(v))
	}
	return d
}

// AnyToValue converts one JSON-ish Go value into a sandbox Value.
func AnyToValue(v any) Value {
	switch val := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(val)
	case string:
		return Str(val)
	case int:
		return Int(int64(val))
	case int64:
		return Int(val)
	case float64:
		return Float(val)
	case []any:
		items := make([]Value, len(val))
		for i, item := range val {
			items[i] = AnyToValue(item)
		}
		return List(items)
	case map[string]any:
		return DictVal(MapToDict(val))
	default:
		return Null()
	}
}

// DictToMap converts a Dict back into a session-style JSON-value map,
// the inverse of MapToDict, used to snapshot memory_before/memory_after
// on each node and to merge memory back into the session.
func DictToMap(d *Dict) map[string]any {
	if d == nil {
		return map[string]any{}
	}
	out := make(map[string]any, d.Len())
	for _, k := range d.Keys() {
		v, _ := d.Get(k)
		out[k] = ValueToAny(v)
	}
	return out
}

// ValueToAny converts one sandbox Value into a JSON-ish Go value.
func ValueToAny(v Value) any {
	switch v.Tag {
	case TagNull:
		return nil
	case TagBool:
		return v.Bool
	case TagInt:
		return v.Int
	case TagFloat:
		return v.Float
	case TagString:
		return v.Str
	case TagList:
		out := make([]any, len(v.List))
		for i, item := range v.List {
			out[i] = ValueToAny(item)
		}
		return out
	case TagDict:
		return DictToMap(v.Dict)
	default:
		return nil
	}
}
