package datasets

import (
	"fmt"
	"strings"
	"time"

	"github.com/David-Botos/erp-ingress/pkg/cleaner"
	"github.com/David-Botos/erp-ingress/pkg/erp"
	"github.com/David-Botos/erp-ingress/pkg/model"
	"github.com/David-Botos/erp-ingress/pkg/resolver"
	"github.com/David-Botos/erp-ingress/pkg/source"
	"github.com/David-Botos/erp-ingress/pkg/transfer"
)

// Allocation sheets and the status their rows take
const (
	SheetAllocation     = "Allocation"
	SheetTempAllocation = "Temp Allocation"

	forManufacture = "for manufacture"
	showroom       = "showroom"
)

var allocationStatus = map[string]string{
	SheetAllocation:     "Fulfilled",
	SheetTempAllocation: "Reserved",
}

// allocationsDataset pre-allocates container stock to sales orders. A row is
// identified by its sales order, item and container; confirmed allocations
// come from the Allocation sheet and reservations from Temp Allocation.
func allocationsDataset(_ Lookups, today time.Time) *transfer.Dataset {
	confirmed := cleaner.NewNormalizer(Allocations, "sales_order", []cleaner.FieldSpec{
		{Name: "sales_order", Column: col("C")},
		{Name: "customer", Column: col("D"), Extra: true},
		{Name: "item_code", Column: col("F")},
		{Name: "batch", Column: col("H"), Extra: true},
		{Name: "container", Column: col("J"), OmitZero: true},
		{Name: "qty", Column: col("K"), Kind: cleaner.KindFloat},
	}).WithHeaderLabels("ORDER NO", "ORDER")

	reserved := cleaner.NewNormalizer(Allocations, "sales_order", []cleaner.FieldSpec{
		{Name: "sales_order", Column: col("B")},
		{Name: "customer", Column: col("C"), Extra: true},
		{Name: "item_code", Column: col("D")},
		{Name: "batch", Column: col("F"), Extra: true},
		{Name: "container", Column: col("H"), OmitZero: true},
		{Name: "qty", Column: col("I"), Kind: cleaner.KindFloat},
	}).WithHeaderLabels("REF")

	allocationDate := today.Format("2006-01-02")

	return &transfer.Dataset{
		Name:       Allocations,
		Doctype:    "Container Pre-Allocation",
		KeyFields:  []string{"sales_order", "item_code", "container"},
		DiffFields: []string{"qty", "status"},
		Sources: []source.Spec{
			{Sheet: SheetAllocation, Range: "A2:L10000"},
			{Sheet: SheetTempAllocation, Range: "A2:J5000", Optional: true},
		},
		Normalizer:       confirmed,
		SheetNormalizers: map[string]*cleaner.Normalizer{SheetTempAllocation: reserved},
		Links: []transfer.Link{
			{
				Field:    "sales_order",
				Doctype:  "Sales Order",
				KeyField: "po_no",
				Filters:  []erp.Filter{{"docstatus", "!=", 2}},
				Required: true,
			},
			{Field: "item_code", Doctype: "Item", KeyField: "item_code", Required: true},
			{
				Field:     "container",
				Doctype:   "Container",
				KeyField:  "container_name",
				Fallbacks: []resolver.Fallback{resolver.RemoveSpaces},
			},
		},
		Prepare: func(records []model.Record) ([]model.Record, []model.SkipRecord) {
			return prepareAllocations(records, allocationDate)
		},
	}
}

// prepareAllocations drops rows without an item, skips rows that allocate
// nothing or belong to the showroom, and keeps the first row of each sales
// order, item and container.
func prepareAllocations(records []model.Record, allocationDate string) ([]model.Record, []model.SkipRecord) {
	var skips []model.SkipRecord
	skip := func(rec model.Record, reason string) {
		skips = append(skips, model.SkipRecord{Sheet: rec.Sheet, Row: rec.Row, Key: rec.Key, Reason: reason})
	}

	seen := make(map[string]model.Record)
	out := make([]model.Record, 0, len(records))
	for _, rec := range records {
		sku := rec.String("item_code")
		if sku == "" {
			continue
		}
		qty, _ := rec.Fields["qty"].(float64)
		if qty <= 0 {
			skip(rec, fmt.Sprintf("Row %d: zero or negative qty: %g", rec.Row, qty))
			continue
		}
		if strings.EqualFold(rec.Key, showroom) {
			skip(rec, fmt.Sprintf("Row %d: showroom allocation (internal use)", rec.Row))
			continue
		}

		container := rec.String("container")
		if strings.EqualFold(container, forManufacture) {
			delete(rec.Fields, "container")
			container = ""
		}

		dedupe := strings.Join([]string{rec.Key, strings.ToUpper(sku), strings.ToUpper(resolver.RemoveSpaces(container))}, "\x00")
		if first, ok := seen[dedupe]; ok {
			skip(rec, fmt.Sprintf("Row %d: duplicate of %s row %d", rec.Row, first.Sheet, first.Row))
			continue
		}
		seen[dedupe] = rec

		rec.Fields["status"] = allocationStatus[rec.Sheet]
		rec.Fields["allocation_date"] = allocationDate
		rec.Fields["notes"] = fmt.Sprintf("Migrated from %s sheet. Original order: %s", rec.Sheet, rec.Key)
		out = append(out, rec)
	}
	return out, skips
}
