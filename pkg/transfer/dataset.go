package transfer

import (
	"fmt"

	"github.com/David-Botos/erp-ingress/pkg/cleaner"
	"github.com/David-Botos/erp-ingress/pkg/erp"
	"github.com/David-Botos/erp-ingress/pkg/model"
	"github.com/David-Botos/erp-ingress/pkg/resolver"
	"github.com/David-Botos/erp-ingress/pkg/source"
)

// Link points a record field at another doctype. The field carries the
// linked document's natural key and is rewritten to its remote name. A link
// with no Field only loads the index for use by Finalize.
type Link struct {
	Field     string
	Doctype   string
	KeyField  string
	Fields    []string
	Filters   []erp.Filter
	Fallbacks []resolver.Fallback
	Required  bool
	// Ensure returns the document to create when the reference is not
	// found, making the link resolvable for this and later records.
	Ensure func(ref string) map[string]any
}

// Links holds the loaded indexes for a dataset's links, keyed by doctype
type Links map[string]*resolver.Index

// Dataset describes how one source dataset maps onto one ERP doctype
type Dataset struct {
	Name     string
	Doctype  string
	KeyField string
	// KeyFields replaces KeyField with a composite identity. The record key
	// is rebuilt from these fields once links resolve, so link fields hold
	// remote names on both sides.
	KeyFields []string

	// ListFields are fetched when indexing remote documents. DiffFields
	// restricts the comparison on update; empty compares every desired field.
	ListFields []string
	DiffFields []string
	Filters    []erp.Filter

	Sources    []source.Spec
	Normalizer *cleaner.Normalizer
	// SheetNormalizers override Normalizer for sheets laid out differently
	SheetNormalizers map[string]*cleaner.Normalizer
	Fallbacks        []resolver.Fallback
	Links            []Link

	// Prepare runs over all normalized records, e.g. to group order lines.
	Prepare func(records []model.Record) ([]model.Record, []model.SkipRecord)
	// Finalize runs per record after links resolve and may return warnings.
	// A ValidationError skips the record; any other error fails it.
	Finalize func(rec *model.Record, links Links) ([]string, error)
	// Dependents lists documents created after the parent is created
	Dependents func(rec model.Record, parent string) []model.Dependent

	// Submit submits every created or draft document. SubmitWhen decides per
	// record when Submit is off.
	Submit     bool
	SubmitWhen func(rec model.Record) bool
}

func (d *Dataset) submits(rec model.Record) bool {
	return d.Submit || (d.SubmitWhen != nil && d.SubmitWhen(rec))
}

// Validate checks that the dataset can run
func (d *Dataset) Validate() error {
	switch {
	case d.Name == "":
		return &ConfigError{Reason: "dataset has no name"}
	case d.Doctype == "":
		return &ConfigError{Reason: fmt.Sprintf("dataset %s has no doctype", d.Name)}
	case d.KeyField == "" && len(d.KeyFields) == 0:
		return &ConfigError{Reason: fmt.Sprintf("dataset %s has no key field", d.Name)}
	case d.Normalizer == nil:
		return &ConfigError{Reason: fmt.Sprintf("dataset %s has no normalizer", d.Name)}
	case len(d.Sources) == 0:
		return &ConfigError{Reason: fmt.Sprintf("dataset %s has no source ranges", d.Name)}
	}
	for _, l := range d.Links {
		if l.Doctype == "" || l.KeyField == "" {
			return &ConfigError{Reason: fmt.Sprintf("dataset %s has an incomplete link on %q", d.Name, l.Field)}
		}
	}
	return nil
}

// identity lists the fields the dataset's documents are keyed by
func (d *Dataset) identity() []string {
	if len(d.KeyFields) > 0 {
		return d.KeyFields
	}
	return []string{d.KeyField}
}

func (d *Dataset) composite() bool {
	return len(d.KeyFields) > 0
}

func (d *Dataset) normalizer(sheet string) *cleaner.Normalizer {
	if n, ok := d.SheetNormalizers[sheet]; ok {
		return n
	}
	return d.Normalizer
}

// sources returns the specs to read, restricted to sheets when given
func (d *Dataset) sources(sheets []string) ([]source.Spec, error) {
	if len(sheets) == 0 {
		return d.Sources, nil
	}

	known := make(map[string]source.Spec, len(d.Sources))
	for _, s := range d.Sources {
		known[s.Sheet] = s
	}

	specs := make([]source.Spec, 0, len(sheets))
	for _, name := range sheets {
		s, ok := known[name]
		if !ok {
			return nil, &ConfigError{Reason: fmt.Sprintf("dataset %s has no sheet %q", d.Name, name)}
		}
		specs = append(specs, s)
	}
	return specs, nil
}

// listFields merges the fields needed to index and diff remote documents
func (d *Dataset) listFields() []string {
	seen := make(map[string]bool)
	var out []string
	for _, group := range [][]string{d.ListFields, d.DiffFields} {
		for _, f := range group {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}
