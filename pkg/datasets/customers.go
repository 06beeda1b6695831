package datasets

import (
	"fmt"
	"time"

	"github.com/David-Botos/erp-ingress/pkg/cleaner"
	"github.com/David-Botos/erp-ingress/pkg/model"
	"github.com/David-Botos/erp-ingress/pkg/source"
	"github.com/David-Botos/erp-ingress/pkg/transfer"
)

// customersDataset derives customers from despatched orders. A customer is
// the first row seen for an email address.
func customersDataset(l Lookups, _ time.Time) *transfer.Dataset {
	n := cleaner.NewNormalizer(Customers, "customer_name", []cleaner.FieldSpec{
		{Name: "customer_name", Column: col("H")},
		{Name: "email_id", Column: col("I"), Kind: cleaner.KindLower, Required: true},
		{Name: "mobile_no", Column: col("J"), Kind: cleaner.KindPhone, OmitZero: true},
		{Name: "address", Column: col("K"), Extra: true},
		{Name: "city", Column: col("L"), Extra: true},
		{Name: "pincode", Column: col("M"), Extra: true},
		{Name: "country", Column: col("N"), Extra: true, Default: l.DefaultCountry},
	}).WithConstants(map[string]any{
		"customer_group": "All Customer Groups",
		"territory":      "All Territories",
	}).WithHeaderLabels("CUSTOMER", "CUSTOMER NAME", "NAME")

	keywords := cleaner.NewKeywords(l.CompanyKeywords...)

	return &transfer.Dataset{
		Name:       Customers,
		Doctype:    "Customer",
		KeyField:   "customer_name",
		DiffFields: []string{"customer_type", "customer_group", "territory"},
		Sources:    []source.Spec{{Sheet: "Despatched", Range: "A2:N10000"}},
		Normalizer: n,
		Prepare: func(records []model.Record) ([]model.Record, []model.SkipRecord) {
			return prepareCustomers(records, keywords)
		},
		Dependents: customerDependents,
	}
}

// prepareCustomers keeps the first row per email and classifies the
// customer type from its name
func prepareCustomers(records []model.Record, keywords *cleaner.Keywords) ([]model.Record, []model.SkipRecord) {
	firstRow := make(map[string]int, len(records))
	out := make([]model.Record, 0, len(records))
	var skips []model.SkipRecord

	for _, rec := range records {
		email := rec.String("email_id")
		if row, seen := firstRow[email]; seen {
			skips = append(skips, model.SkipRecord{
				Sheet:  rec.Sheet,
				Row:    rec.Row,
				Key:    rec.Key,
				Reason: fmt.Sprintf("Row %d: %s already taken from row %d", rec.Row, email, row),
			})
			continue
		}
		firstRow[email] = rec.Row

		rec.Fields["customer_type"] = customerType(rec.Key, keywords)
		out = append(out, rec)
	}
	return out, skips
}

func customerType(name string, keywords *cleaner.Keywords) string {
	if keywords.Match(name) {
		return "Company"
	}
	return "Individual"
}

// customerDependents creates a billing address when the row has one and a
// contact carrying the email and phone
func customerDependents(rec model.Record, parent string) []model.Dependent {
	links := []map[string]any{{"link_doctype": "Customer", "link_name": parent}}
	email := rec.String("email_id")
	phone := rec.String("mobile_no")
	address := rec.String("address")
	city := rec.String("city")

	var deps []model.Dependent
	if address != "" || city != "" {
		line1 := address
		if line1 == "" {
			line1 = city
		}
		if city == "" {
			city = "Not specified"
		}
		deps = append(deps, model.Dependent{
			Doctype: "Address",
			Label:   "billing address",
			Fields: map[string]any{
				"address_title": rec.Key,
				"address_type":  "Billing",
				"address_line1": line1,
				"city":          city,
				"pincode":       rec.String("pincode"),
				"country":       rec.String("country"),
				"phone":         phone,
				"email_id":      email,
				"links":         links,
			},
		})
	}

	if email != "" || phone != "" {
		contact := map[string]any{
			"first_name": rec.Key,
			"links":      links,
		}
		if email != "" {
			contact["email_ids"] = []map[string]any{{"email_id": email, "is_primary": 1}}
		}
		if phone != "" {
			contact["phone_nos"] = []map[string]any{{"phone": phone, "is_primary_mobile_no": 1}}
		}
		deps = append(deps, model.Dependent{Doctype: "Contact", Label: "contact", Fields: contact})
	}

	return deps
}
