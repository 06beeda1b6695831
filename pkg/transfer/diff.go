package transfer

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// FloatTolerance is the largest difference at which two numbers still compare
// equal.
const FloatTolerance = 0.001

// Diff returns the fields of desired whose value differs from remote. Only
// fields present in desired are compared; when fields is non-empty the
// comparison is further restricted to those names.
func Diff(desired, remote map[string]any, fields []string) map[string]any {
	changes := make(map[string]any)

	compare := func(name string) {
		want, ok := desired[name]
		if !ok {
			return
		}
		if !valuesEqual(want, remote[name]) {
			changes[name] = want
		}
	}

	if len(fields) == 0 {
		for name := range desired {
			compare(name)
		}
		return changes
	}

	for _, name := range fields {
		compare(name)
	}
	return changes
}

// ChangedFields lists the keys of a diff in a stable order
func ChangedFields(changes map[string]any) []string {
	names := make([]string, 0, len(changes))
	for name := range changes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func valuesEqual(val1, val2 interface{}) bool {
	// Child tables are written on create and never diffed field by field
	switch val1.(type) {
	case []map[string]any, []any:
		return true
	}

	// Absent, null and empty string are the same to the ERP
	if isBlank(val1) && isBlank(val2) {
		return true
	}
	if isBlank(val1) || isBlank(val2) {
		return false
	}

	// Strings on both sides compare as text so codes like "007" keep their
	// leading zeros
	_, s1 := val1.(string)
	_, s2 := val2.(string)
	if !s1 || !s2 {
		if f1, ok := toFloat(val1); ok {
			if f2, ok := toFloat(val2); ok {
				return math.Abs(f1-f2) <= FloatTolerance
			}
		}
	}

	switch v1 := val1.(type) {
	case string:
		v2, ok := val2.(string)
		return ok && v1 == v2
	case bool:
		v2, ok := val2.(bool)
		return ok && v1 == v2
	default:
		return fmt.Sprintf("%v", val1) == fmt.Sprintf("%v", val2)
	}
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// toFloat reads numeric values, including numeric strings the ERP returns
// for some currency fields.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		if n == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
