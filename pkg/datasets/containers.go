package datasets

import (
	"time"

	"github.com/David-Botos/erp-ingress/pkg/cleaner"
	"github.com/David-Botos/erp-ingress/pkg/resolver"
	"github.com/David-Botos/erp-ingress/pkg/source"
	"github.com/David-Botos/erp-ingress/pkg/transfer"
)

// containersDataset tracks shipping containers. The status is only set when
// a container is created so later manual progress is kept.
func containersDataset(l Lookups, _ time.Time) *transfer.Dataset {
	n := cleaner.NewNormalizer(Containers, "container_name", []cleaner.FieldSpec{
		{Name: "container_name", Column: col("A")},
		{Name: "container_no", Column: col("B")},
		{Name: "capacity", Column: col("C")},
		{Name: "shipped_to", Column: col("D"), OmitZero: true},
		{Name: "agent", Column: col("E")},
		{Name: "provider", Column: col("F")},
		{Name: "etd", Column: col("G"), Kind: cleaner.KindDate, OmitZero: true},
		{Name: "eta", Column: col("H"), Kind: cleaner.KindDate, OmitZero: true},
	}).WithConstants(map[string]any{
		"status": "In Transit",
	}).WithHeaderLabels("CONTAINER NAME", "NAME", "CONTAINER")

	return &transfer.Dataset{
		Name:       Containers,
		Doctype:    "Container",
		KeyField:   "container_name",
		DiffFields: []string{"container_no", "capacity", "shipped_to", "agent", "provider", "etd", "eta"},
		Sources:    []source.Spec{{Sheet: "Container Status", Range: "A2:V500"}},
		Normalizer: n,
		Links: []transfer.Link{{
			Field:    "shipped_to",
			Doctype:  "Warehouse",
			KeyField: "name",
			Fallbacks: []resolver.Fallback{
				l.warehouseAlias(),
				resolver.WithSuffix(" - " + l.CompanyAbbr),
			},
		}},
	}
}
