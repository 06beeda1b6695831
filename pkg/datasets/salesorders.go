package datasets

import (
	"errors"
	"fmt"
	"time"

	"github.com/David-Botos/erp-ingress/pkg/cleaner"
	"github.com/David-Botos/erp-ingress/pkg/erp"
	"github.com/David-Botos/erp-ingress/pkg/model"
	"github.com/David-Botos/erp-ingress/pkg/resolver"
	"github.com/David-Botos/erp-ingress/pkg/source"
	"github.com/David-Botos/erp-ingress/pkg/transfer"
)

// Sales sheets and the status their orders take
const (
	SheetSales              = "Sales"
	SheetForDespatch        = "For Despatch"
	SheetPartiallyShipped   = "Partially Shipped"
	defaultDeliveryLeadDays = 14
)

// sheetPriority decides which sheet's copy of an order wins
var sheetPriority = map[string]int{
	SheetPartiallyShipped: 3,
	SheetForDespatch:      2,
	SheetSales:            1,
}

var sheetStatus = map[string]string{
	SheetSales:            "draft",
	SheetForDespatch:      "submitted",
	SheetPartiallyShipped: "partial",
}

// errNoValidItems fails an order none of whose lines name a known item
var errNoValidItems = errors.New("no valid items found")

// salesOrdersDataset builds orders from line rows on the sales sheets. Orders
// from For Despatch and Partially Shipped are submitted.
func salesOrdersDataset(l Lookups, today time.Time) *transfer.Dataset {
	n := cleaner.NewNormalizer(SalesOrders, "po_no", []cleaner.FieldSpec{
		{Name: "po_no", Column: col("B")},
		{Name: "transaction_date", Column: col("C"), Kind: cleaner.KindDate},
		{Name: "customer", Column: col("H"), OmitZero: true},
		{Name: "email", Column: col("I"), Kind: cleaner.KindLower, Extra: true},
		{Name: "phone", Column: col("J"), Kind: cleaner.KindPhone, Extra: true},
		{Name: "sku", Column: col("P"), Extra: true},
		{Name: "qty", Column: col("Q"), Kind: cleaner.KindInt, Extra: true},
		{Name: "rate", Column: col("R"), Kind: cleaner.KindFloat, Extra: true},
		{Name: "custom_allocated_container", Column: col("V"), OmitZero: true},
		{Name: "eta", Column: col("W"), Kind: cleaner.KindDate, Extra: true},
	}).WithConstants(map[string]any{
		"company": l.Company,
	}).WithHeaderLabels("ORDER NO", "ORDER NUMBER", "ORDER")

	sheets := []source.Spec{
		{Sheet: SheetSales, Range: "A2:W5000"},
		{Sheet: SheetForDespatch, Range: "A2:W5000", Optional: true},
		{Sheet: SheetPartiallyShipped, Range: "A2:W5000", Optional: true},
	}

	orderDate := today.Format("2006-01-02")
	deliveryDate := today.AddDate(0, 0, defaultDeliveryLeadDays).Format("2006-01-02")
	warehouse := l.DefaultWarehouse

	return &transfer.Dataset{
		Name:       SalesOrders,
		Doctype:    "Sales Order",
		KeyField:   "po_no",
		ListFields: []string{"customer", "custom_allocated_container"},
		DiffFields: []string{"customer", "custom_allocated_container"},
		Filters:    []erp.Filter{{"docstatus", "!=", 2}},
		Sources:    sheets,
		Normalizer: n,
		Links: []transfer.Link{
			{Field: "customer", Doctype: "Customer", KeyField: "customer_name", Required: true},
			{Doctype: "Item", KeyField: "item_code", Fields: []string{"standard_rate"}},
		},
		Prepare: func(records []model.Record) ([]model.Record, []model.SkipRecord) {
			return groupOrders(records, orderDate, deliveryDate)
		},
		Finalize: func(rec *model.Record, links transfer.Links) ([]string, error) {
			return validateLines(rec, links["Item"], warehouse)
		},
		SubmitWhen: func(rec model.Record) bool {
			status, _ := rec.Extra["status"].(string)
			return status == "submitted" || status == "partial"
		},
	}
}

type order struct {
	rec      model.Record
	lines    []map[string]any
	priority int
}

// groupOrders folds line rows into one record per order number. Header
// fields come from the order's first row on a sheet; when an order appears on
// several sheets the higher-priority sheet's copy replaces the others.
func groupOrders(records []model.Record, orderDate, deliveryDate string) ([]model.Record, []model.SkipRecord) {
	type sheetKey struct{ sheet, key string }

	perSheet := make(map[sheetKey]*order)
	var sheetOrder []sheetKey

	for _, rec := range records {
		k := sheetKey{rec.Sheet, rec.Key}
		o, ok := perSheet[k]
		if !ok {
			o = &order{rec: rec, priority: sheetPriority[rec.Sheet]}
			perSheet[k] = o
			sheetOrder = append(sheetOrder, k)
		}

		sku := rec.String("sku")
		qty, _ := rec.Extra["qty"].(int)
		if sku == "" || qty <= 0 {
			continue
		}
		rate, _ := rec.Extra["rate"].(float64)
		o.lines = append(o.lines, map[string]any{"item_code": sku, "qty": qty, "rate": rate})
	}

	merged := make(map[string]*order)
	var keys []string
	for _, k := range sheetOrder {
		o := perSheet[k]
		existing, ok := merged[k.key]
		if !ok {
			merged[k.key] = o
			keys = append(keys, k.key)
			continue
		}
		if o.priority > existing.priority {
			merged[k.key] = o
		}
	}

	out := make([]model.Record, 0, len(keys))
	for _, key := range keys {
		o := merged[key]
		rec := o.rec

		fields := make(map[string]any, len(rec.Fields)+3)
		for k, v := range rec.Fields {
			fields[k] = v
		}
		if d, _ := fields["transaction_date"].(string); d == "" {
			fields["transaction_date"] = orderDate
		}
		if eta := rec.String("eta"); eta != "" {
			fields["delivery_date"] = eta
		} else {
			fields["delivery_date"] = deliveryDate
		}
		fields["items"] = o.lines

		extra := make(map[string]any, len(rec.Extra)+1)
		for k, v := range rec.Extra {
			extra[k] = v
		}
		extra["status"] = sheetStatus[rec.Sheet]

		rec.Fields = fields
		rec.Extra = extra
		out = append(out, rec)
	}
	return out, nil
}

// validateLines keeps lines whose item exists, filling a missing rate from
// the item's standard rate
func validateLines(rec *model.Record, items *resolver.Index, warehouse string) ([]string, error) {
	lines, _ := rec.Fields["items"].([]map[string]any)

	var warnings []string
	valid := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		code, _ := line["item_code"].(string)
		item, ok := items.Resolve(code)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("item %s not found, line dropped", code))
			continue
		}

		rate, _ := line["rate"].(float64)
		if rate <= 0 {
			rate = toFloat(item.Fields["standard_rate"])
		}
		valid = append(valid, map[string]any{
			"item_code": item.Name,
			"qty":       line["qty"],
			"rate":      rate,
			"warehouse": warehouse,
		})
	}

	if len(valid) == 0 {
		return warnings, errNoValidItems
	}
	rec.Fields["items"] = valid
	return warnings, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
