package task

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Mode selects how a task's parameters are canonicalized.
type Mode int

const (
	// ModeNormal is used for wire/API serialization: every field is
	// included, including ones at their backward-compatible default.
	ModeNormal Mode = iota
	// ModeHash is used for id derivation: fields tagged hash_exclude,
	// or holding their declared compat default, are dropped, so adding
	// a backward-compatible field with a default does not change the
	// id of tasks that predate it.
	ModeHash
)

// fieldTag controls how a single struct field behaves under ModeHash,
// parsed from a `stardag:"..."` struct tag. Example:
//
//	Loudness int `json:"loudness" stardag:"compat=0"`
//	Internal string `json:"-" stardag:"hash_exclude"`
type fieldTag struct {
	compatDefault string
	hasCompat     bool
	hashExclude   bool
}

func parseFieldTag(tag string) fieldTag {
	var ft fieldTag
	if tag == "" {
		return ft
	}
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "hash_exclude":
			ft.hashExclude = true
		case strings.HasPrefix(part, "compat="):
			ft.compatDefault = strings.TrimPrefix(part, "compat=")
			ft.hasCompat = true
		}
	}
	return ft
}

// CanonicalJSON returns t's canonical wire representation: the
// discriminator pair plus its parameters, serialized deterministically
// (sorted map keys, fixed struct field order) so identical inputs always
// produce byte-identical output. In ModeHash, any task nested inside
// Params is collapsed to its own id rather than its full representation,
// and fields tagged hash_exclude or holding their compat default are
// dropped — but t itself is always expanded in full, since that
// expansion is the thing being serialized.
func CanonicalJSON(t Task, mode Mode) ([]byte, error) {
	v, err := expandTask(t, mode)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// expandTask fully serializes t: its discriminator pair, version (hash
// mode omits it, since version is not part of a task's content identity)
// and parameters. Used both for the task being addressed and, in
// ModeNormal, for any task nested within another task's parameters.
// ModeHash never calls this for a nested task — canonicalTaskValue
// collapses those to {"id": ...} instead.
func expandTask(t Task, mode Mode) (any, error) {
	params, err := canonicalValue(reflect.ValueOf(t.Params()), mode)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"__ns__":     t.Namespace(),
		"__name__":   t.Name(),
		"parameters": params,
	}
	if mode == ModeNormal {
		out["version"] = t.Version()
	}
	return out, nil
}

// canonicalTaskValue is canonicalValue's handling of a Task value
// encountered while walking another task's parameters: hash mode
// collapses it to its own id, normal mode expands it in full.
func canonicalTaskValue(t Task, mode Mode) (any, error) {
	if mode == ModeHash {
		id, err := ID(t)
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": id}, nil
	}
	return expandTask(t, mode)
}

func canonicalValue(v reflect.Value, mode Mode) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}

	// Check Task-ness at every level of indirection before dereferencing
	// further: Task methods are typically declared on a pointer
	// receiver, so the assertion must run on the pointer itself, not
	// the struct value it points to.
	for {
		if v.CanInterface() {
			if t, ok := v.Interface().(Task); ok {
				return canonicalTaskValue(t, mode)
			}
		}
		if v.Kind() != reflect.Ptr && v.Kind() != reflect.Interface {
			break
		}
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		return canonicalStruct(v, mode)
	case reflect.Map:
		out := map[string]any{}
		iter := v.MapRange()
		for iter.Next() {
			key := fmt.Sprintf("%v", iter.Key().Interface())
			val, err := canonicalValue(iter.Value(), mode)
			if err != nil {
				return nil, err
			}
			out[key] = val
		}
		return out, nil
	case reflect.Slice, reflect.Array:
		n := v.Len()
		out := make([]any, n)
		for i := 0; i < n; i++ {
			val, err := canonicalValue(v.Index(i), mode)
			if err != nil {
				return nil, err
			}
			out[i] = val
		}
		return out, nil
	default:
		return v.Interface(), nil
	}
}

func canonicalStruct(v reflect.Value, mode Mode) (any, error) {
	t := v.Type()
	out := map[string]any{}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.PkgPath != "" {
			continue // unexported
		}

		jsonTag := sf.Tag.Get("json")
		name := sf.Name
		if jsonTag != "" {
			parts := strings.Split(jsonTag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
		}

		ft := parseFieldTag(sf.Tag.Get("stardag"))

		fv, err := canonicalValue(v.Field(i), mode)
		if err != nil {
			return nil, err
		}

		if mode == ModeHash {
			if ft.hashExclude {
				continue
			}
			if ft.hasCompat {
				encoded, err := json.Marshal(fv)
				if err != nil {
					return nil, err
				}
				if string(encoded) == ft.compatDefault {
					continue
				}
			}
		}

		out[name] = fv
	}
	return out, nil
}
