// pkg/cleaner/cleaner.go
package cleaner

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/David-Botos/erp-ingress/pkg/model"
)

// Kind selects the cleaning applied to a field
type Kind int

const (
	KindText Kind = iota
	KindLower
	KindNumber
	KindFloat
	KindInt
	KindPhone
	KindDate
	KindEnum
)

// ValidationError drops a record before it reaches the ERP
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// IsValidation reports whether err is a *ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// FieldSpec maps one source column to one record field
type FieldSpec struct {
	Name     string
	Column   int
	Kind     Kind
	Required bool
	Default  any     // used when the cell is blank
	Lookup   *Lookup // KindEnum only
	MaxLen   int     // text kinds, in runes
	Extra    bool    // kept off the ERP payload
	OmitZero bool    // leave the field out when the cleaned value is empty or zero
}

// Normalizer turns source rows into records for one dataset
type Normalizer struct {
	dataset      string
	keyField     string
	fields       []FieldSpec
	constants    map[string]any
	headerLabels []string
}

// NewNormalizer creates a normalizer. keyField names the field holding the
// natural key; it is always required.
func NewNormalizer(dataset, keyField string, fields []FieldSpec) *Normalizer {
	return &Normalizer{
		dataset:   dataset,
		keyField:  keyField,
		fields:    fields,
		constants: map[string]any{},
	}
}

// WithConstants adds fixed values to every record
func (n *Normalizer) WithConstants(constants map[string]any) *Normalizer {
	for k, v := range constants {
		n.constants[k] = v
	}
	return n
}

// WithHeaderLabels rejects rows whose key repeats a header label
func (n *Normalizer) WithHeaderLabels(labels ...string) *Normalizer {
	n.headerLabels = append(n.headerLabels, labels...)
	return n
}

// KeyField returns the natural key field name
func (n *Normalizer) KeyField() string {
	return n.keyField
}

// Normalize cleans a row. A missing required field yields a *ValidationError
// along with a record carrying only the row's identity; cleaning operations
// describe every value that was materially changed.
func (n *Normalizer) Normalize(row model.SourceRow) (model.Record, []model.CleaningOperation, error) {
	rec := model.Record{
		Dataset: n.dataset,
		Sheet:   row.Sheet,
		Row:     row.Number,
		Fields:  make(map[string]any, len(n.fields)+len(n.constants)),
		Extra:   make(map[string]any),
	}

	var key string
	for _, f := range n.fields {
		if f.Name == n.keyField {
			key = Text(row.Col(f.Column))
		}
	}
	rowID := key
	if rowID == "" {
		rowID = fmt.Sprintf("row %d", row.Number)
	}
	rejected := model.Record{Dataset: n.dataset, Key: key, Sheet: row.Sheet, Row: row.Number}

	var ops []model.CleaningOperation
	for _, f := range n.fields {
		ctx := model.CleaningContext{
			Dataset:       n.dataset,
			Sheet:         row.Sheet,
			FieldName:     f.Name,
			RowIdentifier: rowID,
		}

		raw := row.Col(f.Column)
		value, fieldOps := n.clean(f, raw, ctx)
		ops = append(ops, fieldOps...)

		if isEmpty(value) {
			if f.Required || f.Name == n.keyField {
				return rejected, ops, &ValidationError{
					Field:  f.Name,
					Reason: fmt.Sprintf("Row %d: missing %s", row.Number, f.Name),
				}
			}
			if f.OmitZero {
				continue
			}
		}

		if f.Name == n.keyField {
			key, _ := value.(string)
			if IsHeaderLike(key, n.headerLabels...) {
				return rejected, nil, &ValidationError{
					Field:  f.Name,
					Reason: fmt.Sprintf("Row %d: repeated header row", row.Number),
				}
			}
			rec.Key = key
		}

		if f.Extra {
			rec.Extra[f.Name] = value
		} else {
			rec.Fields[f.Name] = value
		}
	}

	for k, v := range n.constants {
		if _, ok := rec.Fields[k]; !ok {
			rec.Fields[k] = v
		}
	}

	return rec, ops, nil
}

func (n *Normalizer) clean(f FieldSpec, raw string, ctx model.CleaningContext) (any, []model.CleaningOperation) {
	trimmed := Text(raw)
	if trimmed == "" && f.Default != nil {
		return f.Default, []model.CleaningOperation{
			ctx.Op(raw, fmt.Sprint(f.Default), "default_applied", "blank_cell"),
		}
	}

	var ops []model.CleaningOperation
	switch f.Kind {
	case KindLower:
		return truncate(toLower(trimmed), f.MaxLen, raw, ctx, &ops), ops

	case KindNumber, KindFloat, KindInt:
		var v any
		var zero bool
		switch f.Kind {
		case KindNumber:
			num := Number(trimmed)
			v, zero = num, num == 0
		case KindFloat:
			num := Float(trimmed)
			v, zero = num, num == 0
		default:
			num := Int(trimmed)
			v, zero = num, num == 0
		}
		if zero && trimmed != "" && !looksZero(trimmed) {
			ops = append(ops, ctx.Op(raw, "0", "number_unparseable", "not_a_number"))
		}
		return v, ops

	case KindPhone:
		return Phone(trimmed), nil

	case KindDate:
		d := Date(trimmed)
		if d == nil {
			if trimmed != "" {
				ops = append(ops, ctx.Op(raw, "", "date_unparseable", "no_matching_format"))
			}
			return nil, ops
		}
		return *d, nil

	case KindEnum:
		if f.Lookup == nil {
			return trimmed, nil
		}
		canonical, matched := f.Lookup.Resolve(trimmed)
		switch {
		case !matched:
			ops = append(ops, ctx.Op(raw, canonical, "default_applied", "unknown_enum_value"))
		case canonical != trimmed:
			ops = append(ops, ctx.Op(raw, canonical, "enum_remapped", "synonym_match"))
		}
		return canonical, ops

	default:
		return truncate(trimmed, f.MaxLen, raw, ctx, &ops), ops
	}
}

func truncate(v string, maxLen int, raw string, ctx model.CleaningContext, ops *[]model.CleaningOperation) string {
	out := Truncate(v, maxLen)
	if out != v {
		*ops = append(*ops, ctx.Op(raw, out, "truncated", "max_length_"+strconv.Itoa(maxLen)))
	}
	return out
}

// looksZero reports whether the text genuinely spells a zero amount
func looksZero(s string) bool {
	for _, r := range s {
		switch {
		case r == '0', r == '.', r == ',', r == ' ', r == '-', r == '+':
		case r == '£', r == '$', r == '€':
		default:
			return false
		}
	}
	return true
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case float64:
		return val == 0
	case int:
		return val == 0
	default:
		return false
	}
}
