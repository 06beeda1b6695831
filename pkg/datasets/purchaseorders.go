package datasets

import (
	"fmt"
	"time"

	"github.com/David-Botos/erp-ingress/pkg/cleaner"
	"github.com/David-Botos/erp-ingress/pkg/erp"
	"github.com/David-Botos/erp-ingress/pkg/model"
	"github.com/David-Botos/erp-ingress/pkg/resolver"
	"github.com/David-Botos/erp-ingress/pkg/source"
	"github.com/David-Botos/erp-ingress/pkg/transfer"
)

const (
	SheetSuppliers  = "4orm4"
	UnknownSupplier = "Unknown Supplier"
)

// purchaseOrdersDataset raises one purchase order per supplier and container
// from the container column of the Inventory sheet. Suppliers and costs come
// from the 4orm4 sheet; a supplier missing from the ERP is created.
func purchaseOrdersDataset(l Lookups, today time.Time) *transfer.Dataset {
	lines := cleaner.NewNormalizer(PurchaseOrders, "item_code", []cleaner.FieldSpec{
		{Name: "item_code", Column: col("C")},
		{Name: "qty", Column: col("G"), Kind: cleaner.KindFloat, Extra: true},
		{Name: "container", Column: col("O"), Extra: true},
	}).WithHeaderLabels("SBS SKU", "SKU")

	suppliers := cleaner.NewNormalizer(PurchaseOrders, "item_code", []cleaner.FieldSpec{
		{Name: "item_code", Column: col("C")},
		{Name: "cost", Column: col("F"), Kind: cleaner.KindNumber, Extra: true},
		{Name: "supplier", Column: col("R"), Extra: true},
	}).WithHeaderLabels("SBS SKU", "SKU")

	orderDate := today.Format("2006-01-02")
	company := l.Company
	warehouse := l.DefaultWarehouse

	return &transfer.Dataset{
		Name:       PurchaseOrders,
		Doctype:    "Purchase Order",
		KeyFields:  []string{"supplier", "custom_container"},
		DiffFields: []string{"schedule_date", "custom_destination_warehouse"},
		Filters:    []erp.Filter{{"docstatus", "!=", 2}},
		Sources: []source.Spec{
			{Sheet: SheetInventory, Range: "A2:O5000"},
			{Sheet: SheetSuppliers, Range: "A2:T5000"},
		},
		Normalizer:       lines,
		SheetNormalizers: map[string]*cleaner.Normalizer{SheetSuppliers: suppliers},
		Links: []transfer.Link{
			{
				Field:    "supplier",
				Doctype:  "Supplier",
				KeyField: "supplier_name",
				Required: true,
				Ensure: func(ref string) map[string]any {
					return map[string]any{
						"supplier_name":  ref,
						"supplier_group": "All Supplier Groups",
						"supplier_type":  "Company",
					}
				},
			},
			{Doctype: "Container", KeyField: "container_name", Fields: []string{"eta", "shipped_to"}},
		},
		Prepare: func(records []model.Record) ([]model.Record, []model.SkipRecord) {
			return groupPurchases(records, orderDate, company), nil
		},
		Finalize: func(rec *model.Record, links transfer.Links) ([]string, error) {
			return schedulePurchase(rec, links["Container"], orderDate, warehouse), nil
		},
	}
}

type supplierTerms struct {
	supplier string
	cost     float64
}

type purchaseLine struct {
	sku, container string
	qty            float64
	row            int
}

// groupPurchases sums container stock per SKU and groups it by supplier and
// container. Rows without a container or quantity are not on order.
func groupPurchases(records []model.Record, orderDate, company string) []model.Record {
	terms := make(map[string]supplierTerms)
	for _, rec := range records {
		if rec.Sheet != SheetSuppliers {
			continue
		}
		supplier := rec.String("supplier")
		if supplier == "" {
			supplier = UnknownSupplier
		}
		cost, _ := rec.Extra["cost"].(float64)
		terms[rec.Key] = supplierTerms{supplier: supplier, cost: cost}
	}

	type lineKey struct{ sku, container string }
	byLine := make(map[lineKey]*purchaseLine)
	var lineOrder []lineKey
	for _, rec := range records {
		if rec.Sheet == SheetSuppliers {
			continue
		}
		container := rec.String("container")
		qty, _ := rec.Extra["qty"].(float64)
		if container == "" || qty <= 0 {
			continue
		}
		k := lineKey{rec.Key, container}
		if existing, ok := byLine[k]; ok {
			existing.qty += qty
			continue
		}
		byLine[k] = &purchaseLine{sku: rec.Key, container: container, qty: qty, row: rec.Row}
		lineOrder = append(lineOrder, k)
	}

	type orderKey struct{ supplier, container string }
	orders := make(map[orderKey]*model.Record)
	var keys []orderKey
	for _, k := range lineOrder {
		line := byLine[k]
		t, known := terms[line.sku]
		if !known {
			t = supplierTerms{supplier: UnknownSupplier}
		}

		key := orderKey{t.supplier, line.container}
		rec, exists := orders[key]
		if !exists {
			rec = &model.Record{
				Dataset: PurchaseOrders,
				Key:     t.supplier + resolver.KeySeparator + line.container,
				Sheet:   SheetInventory,
				Row:     line.row,
				Fields: map[string]any{
					"supplier":         t.supplier,
					"custom_container": line.container,
					"transaction_date": orderDate,
					"company":          company,
					"items":            []map[string]any{},
				},
				Extra: map[string]any{},
			}
			orders[key] = rec
			keys = append(keys, key)
		}
		if !known {
			unknown, _ := rec.Extra["unknown_skus"].([]string)
			rec.Extra["unknown_skus"] = append(unknown, line.sku)
		}
		items := rec.Fields["items"].([]map[string]any)
		rec.Fields["items"] = append(items, map[string]any{"item_code": line.sku, "qty": line.qty, "rate": t.cost})
	}

	out := make([]model.Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, *orders[k])
	}
	return out
}

// schedulePurchase dates the order at the container's ETA and delivers it to
// the container's destination warehouse, when the container is known
func schedulePurchase(rec *model.Record, containers *resolver.Index, orderDate, defaultWarehouse string) []string {
	var warnings []string
	for _, sku := range stringList(rec.Extra["unknown_skus"]) {
		warnings = append(warnings, fmt.Sprintf("no supplier for %s, ordered from %s", sku, UnknownSupplier))
	}

	scheduleDate := orderDate
	warehouse := defaultWarehouse
	if c, ok := containers.Resolve(rec.String("custom_container"), resolver.RemoveSpaces); ok {
		rec.Fields["custom_container"] = c.Name
		if eta, _ := c.Fields["eta"].(string); eta != "" {
			scheduleDate = eta
		}
		if wh, _ := c.Fields["shipped_to"].(string); wh != "" {
			warehouse = wh
		}
	}

	rec.Fields["schedule_date"] = scheduleDate
	rec.Fields["custom_destination_warehouse"] = warehouse
	lines, _ := rec.Fields["items"].([]map[string]any)
	for _, line := range lines {
		line["warehouse"] = warehouse
		line["schedule_date"] = scheduleDate
	}
	return warnings
}

func stringList(v any) []string {
	list, _ := v.([]string)
	return list
}
