// Package merge orders matched rules and folds their annotations into one
// mapping.
package merge

import (
	"encoding/json"
	"reflect"
	"slices"
	"strings"

	"github.com/starford/ansuz/internal/models"
)

// Sort returns the rules in application order: least specific first, then
// oldest first, then by id. The input is not modified.
func Sort(rules []models.AnnotationRule) []models.AnnotationRule {
	out := slices.Clone(rules)
	slices.SortStableFunc(out, func(a, b models.AnnotationRule) int {
		if d := a.AppliesTo.Specificity() - b.AppliesTo.Specificity(); d != 0 {
			return d
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Merge folds already-sorted rules into a fresh mapping, applying each rule's
// strategy against what earlier rules contributed. It never fails: an
// addition between incompatible values falls back to override.
func Merge(rules []models.AnnotationRule) map[string]any {
	out := make(map[string]any)
	for _, r := range rules {
		strategy := r.MergeStrategy.Normalize()
		for k, v := range r.Annotation {
			existing, present := out[k]
			switch strategy {
			case models.MergeOverride:
				out[k] = v
			case models.MergeAddition:
				if present {
					out[k] = Combine(existing, v)
				} else {
					out[k] = v
				}
			default:
				if !present {
					out[k] = v
				}
			}
		}
	}
	return out
}

// Combine is the addition rule for a key present on both sides: sequences
// concatenate (existing first), numbers sum, anything else is replaced by
// incoming.
func Combine(existing, incoming any) any {
	if a, ok := number(existing); ok {
		if b, ok := number(incoming); ok {
			return sum(a, b)
		}
		return incoming
	}
	if joined, ok := concat(existing, incoming); ok {
		return joined
	}
	return incoming
}

// num keeps integers exact and only widens to float when either side is one.
type num struct {
	i       int64
	f       float64
	isFloat bool
	isInt   bool
}

func number(v any) (num, bool) {
	switch n := v.(type) {
	case int:
		return num{i: int64(n), isInt: true}, true
	case int8:
		return num{i: int64(n)}, true
	case int16:
		return num{i: int64(n)}, true
	case int32:
		return num{i: int64(n)}, true
	case int64:
		return num{i: n}, true
	case uint:
		return num{i: int64(n)}, true
	case uint8:
		return num{i: int64(n)}, true
	case uint16:
		return num{i: int64(n)}, true
	case uint32:
		return num{i: int64(n)}, true
	case uint64:
		return num{i: int64(n)}, true
	case float32:
		return num{f: float64(n), isFloat: true}, true
	case float64:
		return num{f: n, isFloat: true}, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return num{i: i}, true
		}
		if f, err := n.Float64(); err == nil {
			return num{f: f, isFloat: true}, true
		}
	}
	return num{}, false
}

func (n num) float() float64 {
	if n.isFloat {
		return n.f
	}
	return float64(n.i)
}

func sum(a, b num) any {
	switch {
	case a.isFloat || b.isFloat:
		return a.float() + b.float()
	case a.isInt && b.isInt:
		return int(a.i + b.i)
	}
	return a.i + b.i
}

func concat(a, b any) (any, bool) {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !isSeq(va) || !isSeq(vb) {
		return nil, false
	}
	if va.Type() == vb.Type() && va.Kind() == reflect.Slice {
		out := reflect.MakeSlice(va.Type(), 0, va.Len()+vb.Len())
		out = reflect.AppendSlice(out, va)
		out = reflect.AppendSlice(out, vb)
		return out.Interface(), true
	}
	out := make([]any, 0, va.Len()+vb.Len())
	for _, v := range []reflect.Value{va, vb} {
		for i := 0; i < v.Len(); i++ {
			out = append(out, v.Index(i).Interface())
		}
	}
	return out, true
}

func isSeq(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.Slice:
		return v.Type() != reflect.TypeOf([]byte(nil))
	case reflect.Array:
		return true
	}
	return false
}
