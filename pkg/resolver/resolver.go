// pkg/resolver/resolver.go
package resolver

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/David-Botos/erp-ingress/pkg/erp"
	"github.com/David-Botos/erp-ingress/pkg/model"
)

// Lister is the bulk read the index is built from
type Lister interface {
	ListAll(ctx context.Context, doctype string, opts erp.ListOptions) ([]erp.Doc, error)
}

// Fallback rewrites a key for a second lookup attempt
type Fallback func(key string) string

// RemoveSpaces drops every space
func RemoveSpaces(key string) string {
	return strings.ReplaceAll(key, " ", "")
}

// UpperCase upper-cases the key
func UpperCase(key string) string {
	return strings.ToUpper(key)
}

// WithSuffix appends a suffix such as " - SBS" when it is missing
func WithSuffix(suffix string) Fallback {
	return func(key string) string {
		if strings.HasSuffix(key, suffix) {
			return key
		}
		return key + suffix
	}
}

// TrimSuffix removes a suffix
func TrimSuffix(suffix string) Fallback {
	return func(key string) string {
		return strings.TrimSuffix(key, suffix)
	}
}

// Duplicate is a key that more than one remote document carries
type Duplicate struct {
	Key     string
	Kept    string
	Ignored []string
}

// KeySeparator joins the parts of a composite key
const KeySeparator = " | "

// KeyOf builds the natural key of a document or record from keyFields. A
// single field gives its trimmed value; several give the values joined by
// KeySeparator, with blank parts kept so positions stay aligned. A composite
// key whose parts are all blank is "".
func KeyOf(fields map[string]any, keyFields []string) string {
	if len(keyFields) == 1 {
		return keyString(fields[keyFields[0]])
	}
	parts := make([]string, len(keyFields))
	blank := true
	for i, f := range keyFields {
		parts[i] = keyString(fields[f])
		if parts[i] != "" {
			blank = false
		}
	}
	if blank {
		return ""
	}
	return strings.TrimSpace(strings.Join(parts, KeySeparator))
}

// Index maps natural keys to remote documents. It is built once per run and
// only grows through Remember.
type Index struct {
	doctype   string
	keyFields []string
	byKey     map[string]model.RemoteRecord
	compact   map[string]string
	dups      map[string]*Duplicate
	order     []string
	logger    *zap.Logger
}

// NewIndex creates an empty index keyed by keyFields
func NewIndex(doctype string, keyFields []string, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		doctype:   doctype,
		keyFields: keyFields,
		byKey:     map[string]model.RemoteRecord{},
		compact:   map[string]string{},
		dups:      map[string]*Duplicate{},
		logger:    logger.Named("resolver").With(zap.String("doctype", doctype)),
	}
}

// Load builds an index from one bulk list. When several documents share a
// key, the first in remote order wins and the rest are reported as duplicates.
func Load(ctx context.Context, l Lister, doctype string, keyFields []string, opts erp.ListOptions, logger *zap.Logger) (*Index, error) {
	if len(keyFields) == 0 {
		return nil, fmt.Errorf("no key fields for %s index", doctype)
	}
	opts.Fields = withRequired(opts.Fields, append([]string{"name", "docstatus"}, keyFields...)...)

	docs, err := l.ListAll(ctx, doctype, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s index: %w", doctype, err)
	}

	idx := NewIndex(doctype, keyFields, logger)
	for _, d := range docs {
		idx.add(d)
	}

	for _, key := range idx.order {
		if dup, ok := idx.dups[key]; ok {
			idx.logger.Warn("Multiple remote documents share a key, keeping the first",
				zap.String("key", dup.Key),
				zap.String("kept", dup.Kept),
				zap.Strings("ignored", dup.Ignored))
		}
	}

	idx.logger.Info("Loaded identity index",
		zap.Int("documents", len(docs)),
		zap.Int("keys", len(idx.byKey)),
		zap.Int("duplicates", len(idx.dups)))

	return idx, nil
}

func (i *Index) add(d erp.Doc) {
	name, _ := d["name"].(string)
	key := KeyOf(d, i.keyFields)
	if key == "" && len(i.keyFields) == 1 {
		key = name
	}
	if key == "" {
		return
	}

	if existing, ok := i.byKey[key]; ok {
		dup, seen := i.dups[key]
		if !seen {
			dup = &Duplicate{Key: key, Kept: existing.Name}
			i.dups[key] = dup
		}
		dup.Ignored = append(dup.Ignored, name)
		return
	}

	fields := make(map[string]any, len(d))
	for k, v := range d {
		if k == "name" || k == "docstatus" {
			continue
		}
		fields[k] = v
	}

	i.put(key, model.RemoteRecord{
		Name:      name,
		Key:       key,
		DocStatus: erp.DocStatus(d),
		Fields:    fields,
	})
}

func (i *Index) put(key string, rec model.RemoteRecord) {
	if _, ok := i.byKey[key]; !ok {
		i.order = append(i.order, key)
	}
	i.byKey[key] = rec
	c := compactKey(key)
	if _, ok := i.compact[c]; !ok {
		i.compact[c] = key
	}
	if rec.Name != "" && rec.Name != key {
		if _, ok := i.compact[compactKey(rec.Name)]; !ok {
			i.compact[compactKey(rec.Name)] = key
		}
	}
}

// Resolve finds the remote document for key: exact match first, then each
// fallback in order, then the space-insensitive, case-insensitive form.
func (i *Index) Resolve(key string, fallbacks ...Fallback) (model.RemoteRecord, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return model.RemoteRecord{}, false
	}
	if rec, ok := i.byKey[key]; ok {
		return rec, true
	}
	for _, fb := range fallbacks {
		alt := fb(key)
		if alt == key {
			continue
		}
		if rec, ok := i.byKey[alt]; ok {
			return rec, true
		}
		if orig, ok := i.compact[compactKey(alt)]; ok {
			return i.byKey[orig], true
		}
	}
	if orig, ok := i.compact[compactKey(key)]; ok {
		return i.byKey[orig], true
	}
	return model.RemoteRecord{}, false
}

// Remember records a document created or updated during the run so later
// rows with the same key resolve to it
func (i *Index) Remember(key string, rec model.RemoteRecord) {
	if key == "" {
		return
	}
	rec.Key = key
	i.put(key, rec)
}

// Duplicates returns keys with more than one remote candidate
func (i *Index) Duplicates() []Duplicate {
	out := make([]Duplicate, 0, len(i.dups))
	for _, key := range i.order {
		if d, ok := i.dups[key]; ok {
			out = append(out, *d)
		}
	}
	return out
}

// Len is the number of distinct keys
func (i *Index) Len() int {
	return len(i.byKey)
}

// Doctype indexed
func (i *Index) Doctype() string {
	return i.doctype
}

func compactKey(key string) string {
	return strings.ToLower(strings.Join(strings.Fields(key), ""))
}

func keyString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

func withRequired(fields []string, required ...string) []string {
	out := append([]string(nil), fields...)
	for _, r := range required {
		found := false
		for _, f := range out {
			if f == r {
				found = true
				break
			}
		}
		if !found {
			out = append(out, r)
		}
	}
	return out
}
