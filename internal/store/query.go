package store

import (
	"reflect"
	"sort"
)

// Matches reports whether a record in the query's collection satisfies
// every filter.
func (q Query) Matches(rec Record) bool {
	for _, f := range q.Filters {
		if !f.matches(rec.Fields[f.Field]) {
			return false
		}
	}
	return true
}

func (f Filter) matches(got any) bool {
	switch f.Op {
	case OpEqual:
		return ValueEqual(got, f.Value)
	case OpNotEqual:
		return !ValueEqual(got, f.Value)
	case OpGTE:
		return numeric(got) >= numeric(f.Value)
	case OpIn:
		set, ok := f.Value.([]string)
		if !ok {
			return false
		}
		s, ok := got.(string)
		if !ok {
			return false
		}
		for _, v := range set {
			if v == s {
				return true
			}
		}
		return false
	case OpContains:
		arr, ok := got.([]any)
		if !ok {
			return false
		}
		for _, v := range arr {
			if ValueEqual(v, f.Value) {
				return true
			}
		}
		return false
	}
	return false
}

// SortDesc orders records by the named numeric field, newest first,
// with the record id as tie-breaker so results are deterministic.
func SortDesc(recs []Record, field string) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := numeric(recs[i].Fields[field]), numeric(recs[j].Fields[field])
		if a != b {
			return a > b
		}
		return recs[i].Path > recs[j].Path
	})
}

// ValueEqual compares two field values. Array membership is by value,
// not identity, so a pending-request entry can be removed by an exact
// copy of it.
func ValueEqual(a, b any) bool {
	if na, ok := asNumber(a); ok {
		if nb, ok := asNumber(b); ok {
			return na == nb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// UnionValue appends v to arr unless an equal element already exists.
func UnionValue(arr []any, v any) []any {
	for _, e := range arr {
		if ValueEqual(e, v) {
			return arr
		}
	}
	return append(arr, v)
}

// RemoveValue drops every element of arr equal to v.
func RemoveValue(arr []any, v any) []any {
	out := arr[:0]
	for _, e := range arr {
		if !ValueEqual(e, v) {
			out = append(out, e)
		}
	}
	return out
}

func numeric(v any) int64 {
	n, _ := asNumber(v)
	return n
}

func asNumber(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	}
	return 0, false
}
