package tfrecord

import (
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the tf.Example protos.
const (
	exampleFeatures = 1 // Example.features
	featuresFeature = 1 // Features.feature (map<string, Feature>)
	mapKey          = 1
	mapValue        = 2
	bytesList       = 1 // Feature.bytes_list
	floatList       = 2 // Feature.float_list
	int64List       = 3 // Feature.int64_list
	listValue       = 1 // *List.value
)

// Feature is one named tf.train.Feature. Exactly one list is set.
type Feature struct {
	Bytes  [][]byte
	Floats []float32
	Ints   []int64
}

// BytesFeature wraps byte strings.
func BytesFeature(v ...[]byte) Feature { return Feature{Bytes: v} }

// FloatFeature wraps floats.
func FloatFeature(v ...float32) Feature { return Feature{Floats: v} }

// Int64Feature wraps integers.
func Int64Feature(v ...int64) Feature { return Feature{Ints: v} }

// Example is a tf.train.Example feature map.
type Example map[string]Feature

// Marshal encodes e as a serialized tf.train.Example. Keys are written in
// sorted order so the output is deterministic.
func (e Example) Marshal() []byte {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var features []byte
	for _, k := range keys {
		var entry []byte
		entry = protowire.AppendTag(entry, mapKey, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, mapValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, e[k].marshal())

		features = protowire.AppendTag(features, featuresFeature, protowire.BytesType)
		features = protowire.AppendBytes(features, entry)
	}

	var out []byte
	out = protowire.AppendTag(out, exampleFeatures, protowire.BytesType)
	out = protowire.AppendBytes(out, features)
	return out
}

func (f Feature) marshal() []byte {
	var list []byte
	var field protowire.Number
	switch {
	case f.Floats != nil:
		field = floatList
		var packed []byte
		for _, v := range f.Floats {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		list = appendPacked(list, packed)
	case f.Ints != nil:
		field = int64List
		var packed []byte
		for _, v := range f.Ints {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		list = appendPacked(list, packed)
	default:
		field = bytesList
		for _, v := range f.Bytes {
			list = protowire.AppendTag(list, listValue, protowire.BytesType)
			list = protowire.AppendBytes(list, v)
		}
	}
	var out []byte
	out = protowire.AppendTag(out, field, protowire.BytesType)
	out = protowire.AppendBytes(out, list)
	return out
}

func appendPacked(b, packed []byte) []byte {
	b = protowire.AppendTag(b, listValue, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// UnmarshalExample decodes a serialized tf.train.Example.
func UnmarshalExample(b []byte) (Example, error) {
	out := Example{}
	err := eachField(b, func(num protowire.Number, v []byte) error {
		if num != exampleFeatures {
			return nil
		}
		return eachField(v, func(num protowire.Number, entry []byte) error {
			if num != featuresFeature {
				return nil
			}
			var key string
			var feat Feature
			err := eachField(entry, func(num protowire.Number, v []byte) error {
				switch num {
				case mapKey:
					key = string(v)
				case mapValue:
					f, err := unmarshalFeature(v)
					if err != nil {
						return err
					}
					feat = f
				}
				return nil
			})
			if err != nil {
				return err
			}
			out[key] = feat
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func unmarshalFeature(b []byte) (Feature, error) {
	var f Feature
	err := eachField(b, func(kind protowire.Number, list []byte) error {
		return eachField(list, func(num protowire.Number, v []byte) error {
			if num != listValue {
				return nil
			}
			switch kind {
			case bytesList:
				f.Bytes = append(f.Bytes, append([]byte(nil), v...))
			case floatList:
				for len(v) > 0 {
					bits, n := protowire.ConsumeFixed32(v)
					if n < 0 {
						return fmt.Errorf("float list: %w: %w", ErrCorrupt, protowire.ParseError(n))
					}
					f.Floats = append(f.Floats, math.Float32frombits(bits))
					v = v[n:]
				}
			case int64List:
				for len(v) > 0 {
					x, n := protowire.ConsumeVarint(v)
					if n < 0 {
						return fmt.Errorf("int64 list: %w: %w", ErrCorrupt, protowire.ParseError(n))
					}
					f.Ints = append(f.Ints, int64(x))
					v = v[n:]
				}
			}
			return nil
		})
	})
	return f, err
}

// eachField walks the length-delimited fields of a message. Other wire
// types are skipped.
func eachField(b []byte, fn func(protowire.Number, []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("tag: %w: %w", ErrCorrupt, protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("field %d: %w: %w", num, ErrCorrupt, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return fmt.Errorf("field %d: %w: %w", num, ErrCorrupt, protowire.ParseError(n))
		}
		if err := fn(num, v); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
