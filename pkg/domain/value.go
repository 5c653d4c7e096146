package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// ValueKind tags an encoded property value with its Go type.
type ValueKind string

// Supported value kinds.
const (
	KindNull   ValueKind = "null"
	KindString ValueKind = "string"
	KindBool   ValueKind = "bool"
	KindInt    ValueKind = "int"
	KindInt64  ValueKind = "int64"
	KindFloat  ValueKind = "float64"
	KindTime   ValueKind = "time"
	KindBytes  ValueKind = "bytes"
	KindID     ValueKind = "id"
)

// TaggedValue is the flattened, type-preserving form of a property value.
type TaggedValue struct {
	Kind ValueKind       `json:"kind"`
	Raw  json.RawMessage `json:"raw,omitempty"`
}

// EncodeValue converts a supported property value into its tagged form.
func EncodeValue(v any) (TaggedValue, error) {
	var kind ValueKind
	switch v.(type) {
	case nil:
		return TaggedValue{Kind: KindNull}, nil
	case string:
		kind = KindString
	case bool:
		kind = KindBool
	case int:
		kind = KindInt
	case int64:
		kind = KindInt64
	case float64:
		kind = KindFloat
	case time.Time:
		kind = KindTime
	case []byte:
		kind = KindBytes
	case ObjectID:
		kind = KindID
	default:
		return TaggedValue{}, fmt.Errorf("domain: unsupported value type %T", v)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return TaggedValue{}, fmt.Errorf("encode %s value: %w", kind, err)
	}
	return TaggedValue{Kind: kind, Raw: raw}, nil
}

// DecodeValue restores a value produced by EncodeValue.
func DecodeValue(tv TaggedValue) (any, error) {
	switch tv.Kind {
	case KindNull, "":
		return nil, nil
	case KindString:
		return decodeAs[string](tv)
	case KindBool:
		return decodeAs[bool](tv)
	case KindInt:
		return decodeAs[int](tv)
	case KindInt64:
		return decodeAs[int64](tv)
	case KindFloat:
		return decodeAs[float64](tv)
	case KindTime:
		return decodeAs[time.Time](tv)
	case KindBytes:
		return decodeAs[[]byte](tv)
	case KindID:
		return decodeAs[ObjectID](tv)
	default:
		return nil, fmt.Errorf("domain: unknown value kind %q", tv.Kind)
	}
}

func decodeAs[T any](tv TaggedValue) (any, error) {
	var out T
	if err := json.Unmarshal(tv.Raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s value: %w", tv.Kind, err)
	}
	return out, nil
}

// EncodeValues encodes every entry of a value map.
func EncodeValues(values map[string]any) (map[string]TaggedValue, error) {
	out := make(map[string]TaggedValue, len(values))
	for name, v := range values {
		tv, err := EncodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
		out[name] = tv
	}
	return out, nil
}

// DecodeValues is the inverse of EncodeValues.
func DecodeValues(values map[string]TaggedValue) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for name, tv := range values {
		v, err := DecodeValue(tv)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// ValuesEqual compares two property values. Times compare by instant and
// byte slices by content; everything else falls back to reflect.DeepEqual.
func ValuesEqual(a, b any) bool {
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	}
	return reflect.DeepEqual(a, b)
}
