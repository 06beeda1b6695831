package cleaner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/David-Botos/erp-ingress/pkg/model"
)

func itemNormalizer() *Normalizer {
	groups := NewValueLookup([]string{"Booth", "Acoustic Panel"}, "Booth")
	return NewNormalizer("items", "item_code", []FieldSpec{
		{Name: "item_code", Column: 0},
		{Name: "item_name", Column: 2, Required: true, MaxLen: 10},
		{Name: "item_group", Column: 4, Kind: KindEnum, Lookup: groups},
		{Name: "standard_rate", Column: 7, Kind: KindNumber},
		{Name: "weight_per_unit", Column: 37, Kind: KindFloat, OmitZero: true},
		{Name: "launch_date", Column: 5, Kind: KindDate},
		{Name: "supplier_sku", Column: 6, Extra: true},
	}).WithConstants(map[string]any{"stock_uom": "Nos", "is_stock_item": 1})
}

func TestNormalizeShortRow(t *testing.T) {
	row := model.SourceRow{Sheet: "Masterfile", Number: 9, Cells: []string{" SKU-1 ", "", "Booth One"}}

	rec, ops, err := itemNormalizer().Normalize(row)
	require.NoError(t, err)

	assert.Equal(t, "SKU-1", rec.Key)
	assert.Equal(t, 9, rec.Row)
	assert.Equal(t, "Booth One", rec.Fields["item_name"])
	assert.Equal(t, "Booth", rec.Fields["item_group"])
	assert.Equal(t, 0.0, rec.Fields["standard_rate"])
	assert.Nil(t, rec.Fields["launch_date"])
	assert.NotContains(t, rec.Fields, "weight_per_unit")
	assert.Equal(t, "Nos", rec.Fields["stock_uom"])
	assert.Equal(t, "", rec.Extra["supplier_sku"])
	assert.NotContains(t, rec.Fields, "supplier_sku")

	require.Len(t, ops, 1)
	assert.Equal(t, "default_applied", ops[0].CleaningOperation)
	assert.Equal(t, "item_group", ops[0].FieldName)
	assert.Equal(t, "SKU-1", ops[0].RowIdentifier)
}

func TestNormalizeFullRow(t *testing.T) {
	cells := make([]string, 40)
	cells[0] = "SKU-2"
	cells[2] = "A very long product name"
	cells[4] = "acoustic panel"
	cells[5] = "25 Dec 2024"
	cells[6] = "SUP-9"
	cells[7] = "£1,486.00"
	cells[37] = "12.5"

	rec, ops, err := itemNormalizer().Normalize(model.SourceRow{Sheet: "Masterfile", Number: 10, Cells: cells})
	require.NoError(t, err)

	assert.Equal(t, "A very lon", rec.Fields["item_name"])
	assert.Equal(t, "Acoustic Panel", rec.Fields["item_group"])
	assert.Equal(t, 1486.0, rec.Fields["standard_rate"])
	assert.Equal(t, 12.5, rec.Fields["weight_per_unit"])
	assert.Equal(t, "2024-12-25", rec.Fields["launch_date"])
	assert.Equal(t, "SUP-9", rec.String("supplier_sku"))

	var kinds []string
	for _, op := range ops {
		kinds = append(kinds, op.CleaningOperation)
	}
	assert.ElementsMatch(t, []string{"truncated", "enum_remapped"}, kinds)
}

func TestNormalizeMissingRequired(t *testing.T) {
	rec, _, err := itemNormalizer().Normalize(model.SourceRow{Sheet: "Masterfile", Number: 12, Cells: []string{" SKU-3 "}})

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "item_name", ve.Field)
	assert.Equal(t, "Row 12: missing item_name", ve.Error())
	assert.True(t, IsValidation(err))

	assert.Equal(t, "SKU-3", rec.Key, "a rejected row keeps its key for the skip report")
	assert.Equal(t, "Masterfile", rec.Sheet)
	assert.Equal(t, 12, rec.Row)
	assert.Empty(t, rec.Fields)
}

func TestNormalizeMissingKey(t *testing.T) {
	_, _, err := itemNormalizer().Normalize(model.SourceRow{Number: 13, Cells: []string{"", "", "Orphan"}})

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "item_code", ve.Field)
}

func TestNormalizeHeaderRow(t *testing.T) {
	n := NewNormalizer("containers", "container_name", []FieldSpec{
		{Name: "container_name", Column: 0},
	}).WithHeaderLabels("CONTAINER NAME", "NAME")

	rejected, _, err := n.Normalize(model.SourceRow{Number: 40, Cells: []string{"Container Name"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "header")
	assert.Equal(t, "Container Name", rejected.Key)

	rec, _, err := n.Normalize(model.SourceRow{Number: 41, Cells: []string{"C-01"}})
	require.NoError(t, err)
	assert.Equal(t, "C-01", rec.Key)
}

func TestNormalizeDefaultsAndUnparseable(t *testing.T) {
	n := NewNormalizer("customers", "customer_name", []FieldSpec{
		{Name: "customer_name", Column: 0},
		{Name: "country", Column: 1, Default: "United Kingdom"},
		{Name: "qty", Column: 2, Kind: KindInt},
		{Name: "eta", Column: 3, Kind: KindDate},
		{Name: "email", Column: 4, Kind: KindLower},
		{Name: "phone", Column: 5, Kind: KindPhone},
	})

	rec, ops, err := n.Normalize(model.SourceRow{Number: 2, Cells: []string{"Jane", "", "lots", "soon", "JANE@X.TEST", "07700 900123"}})
	require.NoError(t, err)

	assert.Equal(t, "United Kingdom", rec.Fields["country"])
	assert.Equal(t, 0, rec.Fields["qty"])
	assert.Nil(t, rec.Fields["eta"])
	assert.Equal(t, "jane@x.test", rec.Fields["email"])
	assert.Equal(t, "07700900123", rec.Fields["phone"])

	var kinds []string
	for _, op := range ops {
		kinds = append(kinds, op.CleaningOperation)
	}
	assert.ElementsMatch(t, []string{"default_applied", "number_unparseable", "date_unparseable"}, kinds)
}

func TestNormalizeExplicitZeroIsNotFlagged(t *testing.T) {
	n := NewNormalizer("items", "item_code", []FieldSpec{
		{Name: "item_code", Column: 0},
		{Name: "standard_rate", Column: 1, Kind: KindNumber},
	})

	_, ops, err := n.Normalize(model.SourceRow{Number: 2, Cells: []string{"SKU", "£0.00"}})
	require.NoError(t, err)
	assert.Empty(t, ops)
}
