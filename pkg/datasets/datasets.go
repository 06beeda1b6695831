// Package datasets defines the spreadsheet datasets synced into the ERP.
package datasets

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/David-Botos/erp-ingress/pkg/config"
	"github.com/David-Botos/erp-ingress/pkg/resolver"
	"github.com/David-Botos/erp-ingress/pkg/source"
	"github.com/David-Botos/erp-ingress/pkg/transfer"
)

// Dataset names in dependency order
const (
	Items          = "items"
	Customers      = "customers"
	Containers     = "containers"
	Inventory      = "inventory"
	SalesOrders    = "sales-orders"
	PurchaseOrders = "purchase-orders"
	Allocations    = "allocations"
)

var runOrder = []string{Items, Customers, Containers, Inventory, SalesOrders, PurchaseOrders, Allocations}

// submittable datasets write documents with a draft/submitted workflow.
// Inventory always submits its opening stock entries.
var submittable = map[string]bool{SalesOrders: true, PurchaseOrders: true}

// Submittable reports whether --submit applies to the dataset
func Submittable(name string) bool {
	return submittable[name]
}

// Lookups are the tables injected into the normalizers
type Lookups struct {
	Company          string
	CompanyAbbr      string
	Warehouses       map[string]string // sheet reference -> warehouse name
	Locations        map[string]string // inventory location -> warehouse name
	DefaultWarehouse string
	ItemGroups       []string
	DefaultItemGroup string
	CompanyKeywords  []string
	DefaultCountry   string
}

// DefaultLookups returns the tables for the Soundbox Store ERP
func DefaultLookups(companyAbbr string) Lookups {
	if companyAbbr == "" {
		companyAbbr = "SBS"
	}
	return Lookups{
		Company:          "Soundbox Store",
		CompanyAbbr:      companyAbbr,
		Warehouses:       map[string]string{},
		Locations:        defaultLocations(companyAbbr),
		DefaultWarehouse: "Stores - " + companyAbbr,
		ItemGroups: []string{
			"Booth", "Acoustic Panel", "Acoustic Slat", "Furniture",
			"Accessory", "Moss", "Spare Glass", "Spare Packaging",
		},
		DefaultItemGroup: "Booth",
		CompanyKeywords: []string{
			"ltd", "limited", "inc", "incorporated", "plc", "llc", "corp", "corporation",
			"gmbh", "srl", "company", "group", "academy", "school", "university",
			"college", "council",
		},
		DefaultCountry: "United Kingdom",
	}
}

// defaultLocations maps the Inventory sheet's CURRENT LOCATION values
func defaultLocations(abbr string) map[string]string {
	wh := func(name string) string { return name + " - " + abbr }
	return map[string]string{
		"FOR MANUFACTURE":                   wh("For Manufacture"),
		"ON WATER":                          wh("Goods on Water"),
		"BEACONSFIELD OFFICE":               wh("Beaconsfield Office"),
		"BEACONSFIELD SHOWROOM":             wh("Beaconsfield Showroom"),
		"GRAFANOLA SHOWROOM":                wh("Grafanola Showroom"),
		"STOCK IN UBI - HODDESDON":          wh("Stock In UBI Hoddesdon"),
		"STOCK IN UBI - WARRINGTON":         wh("Stock In UBI Warrington"),
		"STOCK IN WAREHOUSE - ES":           wh("Stock In Warehouse ES"),
		"STOCK IN WAREHOUSE - ES - GRADE A": wh("Stock In Warehouse ES Grade A"),
		"STOCK IN WAREHOUSE - UK - FSL":     wh("Stock In Warehouse UK FSL"),
		"STOCK IN WAREHOUSE - UK - MAR":     wh("Stock In Warehouse UK MAR"),
		"STOCK IN WAREHOUSE - UK - PRIM":    wh("Stock In Warehouse UK PRIM"),
		"WAITING CLEARANCE":                 wh("Waiting Clearance"),
	}
}

// apply overlays non-empty override values
func (l Lookups) apply(o config.LookupOverrides) Lookups {
	if len(o.Warehouses) > 0 {
		l.Warehouses = o.Warehouses
	}
	if len(o.Locations) > 0 {
		l.Locations = o.Locations
	}
	if o.DefaultWarehouse != "" {
		l.DefaultWarehouse = o.DefaultWarehouse
	}
	if len(o.ItemGroups) > 0 {
		l.ItemGroups = o.ItemGroups
	}
	if o.DefaultItemGroup != "" {
		l.DefaultItemGroup = o.DefaultItemGroup
	}
	if len(o.CompanyKeywords) > 0 {
		l.CompanyKeywords = o.CompanyKeywords
	}
	if o.DefaultCountry != "" {
		l.DefaultCountry = o.DefaultCountry
	}
	return l
}

// warehouseAlias maps a sheet reference through the warehouse table
func (l Lookups) warehouseAlias() resolver.Fallback {
	aliases := make(map[string]string, len(l.Warehouses))
	for ref, name := range l.Warehouses {
		aliases[strings.ToLower(strings.TrimSpace(ref))] = name
	}
	return func(key string) string {
		if name, ok := aliases[strings.ToLower(strings.TrimSpace(key))]; ok {
			return name
		}
		return key
	}
}

type builder func(Lookups, time.Time) *transfer.Dataset

var builders = map[string]builder{
	Items:          itemsDataset,
	Customers:      customersDataset,
	Containers:     containersDataset,
	Inventory:      inventoryDataset,
	SalesOrders:    salesOrdersDataset,
	PurchaseOrders: purchaseOrdersDataset,
	Allocations:    allocationsDataset,
}

// Registry builds datasets with lookups and file overrides applied
type Registry struct {
	lookups   Lookups
	overrides map[string]config.DatasetOverride
	now       func() time.Time
}

// NewRegistry creates a registry. Overrides naming unknown datasets are
// rejected.
func NewRegistry(companyAbbr string, overrides *config.DatasetOverrides) (*Registry, error) {
	r := &Registry{
		lookups:   DefaultLookups(companyAbbr),
		overrides: map[string]config.DatasetOverride{},
		now:       time.Now,
	}
	if overrides == nil {
		return r, nil
	}

	r.lookups = r.lookups.apply(overrides.Lookups)
	for name, o := range overrides.Datasets {
		if _, ok := builders[name]; !ok {
			return nil, fmt.Errorf("datasets file names unknown dataset %q (known: %s)", name, strings.Join(runOrder, ", "))
		}
		r.overrides[name] = o
	}
	return r, nil
}

// WithClock fixes "today" for date defaults
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Names lists datasets in the order they must run
func (r *Registry) Names() []string {
	return append([]string(nil), runOrder...)
}

// Lookups in effect
func (r *Registry) Lookups() Lookups {
	return r.lookups
}

// Dataset builds the named dataset
func (r *Registry) Dataset(name string) (*transfer.Dataset, error) {
	build, ok := builders[name]
	if !ok {
		known := make([]string, 0, len(builders))
		for n := range builders {
			known = append(known, n)
		}
		sort.Strings(known)
		return nil, &transfer.ConfigError{Reason: fmt.Sprintf("unknown dataset %q (known: %s)", name, strings.Join(known, ", "))}
	}

	ds := build(r.lookups, r.now())

	if o, ok := r.overrides[name]; ok {
		if len(o.Sheets) > 0 {
			ds.Sources = make([]source.Spec, 0, len(o.Sheets))
			for _, s := range o.Sheets {
				ds.Sources = append(ds.Sources, source.Spec{Sheet: s.Name, Range: s.Range, Optional: s.Optional})
			}
		}
		if o.Submit != nil {
			ds.Submit = *o.Submit
		}
	}

	return ds, nil
}

// col converts a column letter to its index; names are constants in this
// package so a bad one is a programming error
func col(name string) int {
	idx, err := source.ColumnIndex(name)
	if err != nil {
		panic(err)
	}
	return idx
}
