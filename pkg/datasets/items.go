package datasets

import (
	"time"

	"github.com/David-Botos/erp-ingress/pkg/cleaner"
	"github.com/David-Botos/erp-ingress/pkg/model"
	"github.com/David-Botos/erp-ingress/pkg/source"
	"github.com/David-Botos/erp-ingress/pkg/transfer"
)

// itemsDataset reads the product master. Data starts below an eight-row
// banner on the Masterfile tab.
func itemsDataset(l Lookups, _ time.Time) *transfer.Dataset {
	groups := cleaner.NewValueLookup(l.ItemGroups, l.DefaultItemGroup)

	n := cleaner.NewNormalizer(Items, "item_code", []cleaner.FieldSpec{
		{Name: "item_code", Column: col("A")},
		{Name: "item_name", Column: col("C"), Required: true, MaxLen: 140},
		{Name: "description", Column: col("D")},
		{Name: "custom_finish", Column: col("F")},
		{Name: "valuation_rate", Column: col("G"), Kind: cleaner.KindNumber},
		{Name: "standard_rate", Column: col("H"), Kind: cleaner.KindNumber},
		{Name: "custom_cbm", Column: col("I"), Kind: cleaner.KindFloat},
		{Name: "custom_packing_size", Column: col("AH")},
		{Name: "weight_per_unit", Column: col("AL"), Kind: cleaner.KindFloat, OmitZero: true},
		{Name: "item_group", Column: col("AU"), Kind: cleaner.KindEnum, Lookup: groups},
	}).WithConstants(map[string]any{
		"stock_uom":                     "Nos",
		"is_stock_item":                 1,
		"include_item_in_manufacturing": 0,
	}).WithHeaderLabels("SKU", "ITEM CODE")

	diff := []string{
		"item_name", "description", "item_group", "valuation_rate", "standard_rate",
		"custom_cbm", "custom_finish", "custom_packing_size", "weight_per_unit",
	}

	return &transfer.Dataset{
		Name:       Items,
		Doctype:    "Item",
		KeyField:   "item_code",
		DiffFields: diff,
		Sources:    []source.Spec{{Sheet: "Masterfile", Range: "A9:AU5000"}},
		Normalizer: n,
		Prepare:    prepareItems,
	}
}

// prepareItems sets the weight unit on items that carry a weight
func prepareItems(records []model.Record) ([]model.Record, []model.SkipRecord) {
	for _, rec := range records {
		if _, ok := rec.Fields["weight_per_unit"]; ok {
			rec.Fields["weight_uom"] = "Kg"
		}
	}
	return records, nil
}
