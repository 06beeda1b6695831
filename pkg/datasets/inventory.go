package datasets

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/David-Botos/erp-ingress/pkg/cleaner"
	"github.com/David-Botos/erp-ingress/pkg/erp"
	"github.com/David-Botos/erp-ingress/pkg/model"
	"github.com/David-Botos/erp-ingress/pkg/resolver"
	"github.com/David-Botos/erp-ingress/pkg/source"
	"github.com/David-Botos/erp-ingress/pkg/transfer"
)

const (
	SheetInventory = "Inventory"

	materialReceipt = "Material Receipt"
	// OpeningStockRemarks marks the stock entries this dataset owns
	OpeningStockRemarks = "Opening stock from the Inventory sheet"
)

// inventoryDataset books opening stock as one submitted Material Receipt per
// warehouse. Entries are matched on their warehouse, so a re-run leaves
// booked stock alone.
func inventoryDataset(l Lookups, today time.Time) *transfer.Dataset {
	n := cleaner.NewNormalizer(Inventory, "item_code", []cleaner.FieldSpec{
		{Name: "item_code", Column: col("C")},
		{Name: "qty", Column: col("L"), Kind: cleaner.KindFloat, Extra: true},
		{Name: "location", Column: col("N"), Extra: true},
	}).WithHeaderLabels("SBS SKU", "SKU")

	locations := cleaner.NewLookup(l.Locations, l.DefaultWarehouse)
	postingDate := today.Format("2006-01-02")
	company := l.Company
	suffix := " - " + l.CompanyAbbr

	return &transfer.Dataset{
		Name:       Inventory,
		Doctype:    "Stock Entry",
		KeyFields:  []string{"stock_entry_type", "to_warehouse"},
		DiffFields: []string{"company"},
		Filters: []erp.Filter{
			{"remarks", "=", OpeningStockRemarks},
			{"docstatus", "!=", 2},
		},
		Sources:    []source.Spec{{Sheet: SheetInventory, Range: "A2:O5000"}},
		Normalizer: n,
		Links: []transfer.Link{
			{
				Field:     "to_warehouse",
				Doctype:   "Warehouse",
				KeyField:  "warehouse_name",
				Required:  true,
				Fallbacks: []resolver.Fallback{resolver.TrimSuffix(suffix)},
				Ensure: func(ref string) map[string]any {
					return map[string]any{
						"warehouse_name": strings.TrimSuffix(ref, suffix),
						"company":        company,
						"is_group":       0,
					}
				},
			},
			{Doctype: "Item", KeyField: "item_code", Fields: []string{"valuation_rate", "standard_rate"}},
		},
		Prepare: func(records []model.Record) ([]model.Record, []model.SkipRecord) {
			return groupStock(records, locations, postingDate, company)
		},
		Finalize: func(rec *model.Record, links transfer.Links) ([]string, error) {
			return valueStock(rec, links["Item"])
		},
		Submit: true,
	}
}

// groupStock folds stock rows into one entry per destination warehouse,
// ordered by warehouse name
func groupStock(records []model.Record, locations *cleaner.Lookup, postingDate, company string) ([]model.Record, []model.SkipRecord) {
	var skips []model.SkipRecord
	byWarehouse := make(map[string]*model.Record)

	for _, rec := range records {
		qty, _ := rec.Extra["qty"].(float64)
		if qty <= 0 {
			skips = append(skips, model.SkipRecord{
				Sheet:  rec.Sheet,
				Row:    rec.Row,
				Key:    rec.Key,
				Reason: fmt.Sprintf("Row %d: zero or negative stock: %g", rec.Row, qty),
			})
			continue
		}

		warehouse, _ := locations.Resolve(rec.String("location"))
		entry, ok := byWarehouse[warehouse]
		if !ok {
			entry = &model.Record{
				Dataset: rec.Dataset,
				Key:     warehouse,
				Sheet:   rec.Sheet,
				Row:     rec.Row,
				Fields: map[string]any{
					"stock_entry_type": materialReceipt,
					"purpose":          materialReceipt,
					"posting_date":     postingDate,
					"company":          company,
					"to_warehouse":     warehouse,
					"remarks":          OpeningStockRemarks,
				},
				Extra: map[string]any{},
			}
			byWarehouse[warehouse] = entry
		}
		lines, _ := entry.Fields["items"].([]map[string]any)
		entry.Fields["items"] = append(lines, map[string]any{"item_code": rec.Key, "qty": qty})
	}

	warehouses := make([]string, 0, len(byWarehouse))
	for wh := range byWarehouse {
		warehouses = append(warehouses, wh)
	}
	sort.Strings(warehouses)

	out := make([]model.Record, 0, len(warehouses))
	for _, wh := range warehouses {
		out = append(out, *byWarehouse[wh])
	}
	return out, skips
}

// valueStock prices each line at the item's valuation rate, falling back to
// its standard rate, and targets the entry's warehouse
func valueStock(rec *model.Record, items *resolver.Index) ([]string, error) {
	lines, _ := rec.Fields["items"].([]map[string]any)
	warehouse := rec.String("to_warehouse")

	var warnings []string
	valid := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		code, _ := line["item_code"].(string)
		item, ok := items.Resolve(code)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("item %s not found, line dropped", code))
			continue
		}

		rate := toFloat(item.Fields["valuation_rate"])
		if rate <= 0 {
			rate = toFloat(item.Fields["standard_rate"])
		}
		out := map[string]any{
			"item_code":   item.Name,
			"qty":         line["qty"],
			"basic_rate":  rate,
			"t_warehouse": warehouse,
		}
		if rate <= 0 {
			out["allow_zero_valuation_rate"] = 1
		}
		valid = append(valid, out)
	}

	if len(valid) == 0 {
		return warnings, errNoValidItems
	}
	rec.Fields["items"] = valid
	return warnings, nil
}
