package catalog

import (
	"context"
	"errors"
	"fmt"
)

// ContactFieldSpecs defines the starter catalog for contact imports.
// Aliases mirror the header spellings seen in real-world exports.
var ContactFieldSpecs = []FieldSpec{
	{FieldKey: "email", Label: "Email", Type: TypeEmail, Category: "identity", Aliases: []string{"email_address", "e_mail"}},
	{FieldKey: "first_name", Label: "First Name", Type: TypeText, Category: "identity", Aliases: []string{"given_name", "forename"}},
	{FieldKey: "last_name", Label: "Last Name", Type: TypeText, Category: "identity", Aliases: []string{"surname", "family_name"}},
	{FieldKey: "phone", Label: "Phone", Type: TypeTel, Category: "contact", Aliases: []string{"telephone", "mobile"}},
	{FieldKey: "company", Label: "Company", Type: TypeText, Category: "contact", Aliases: []string{"organization", "employer"}},
	{FieldKey: "job_title", Label: "Job Title", Type: TypeText, Category: "contact", Aliases: []string{"title", "position"}},
	{FieldKey: "date_of_birth", Label: "Date of Birth", Type: TypeDate, Category: "personal", Aliases: []string{"birth_date"}},
}

// AddressFieldSpecs defines the starter catalog for postal address data.
var AddressFieldSpecs = []FieldSpec{
	{FieldKey: "address_line_1", Label: "Address Line 1", Type: TypeText, Category: "address", Aliases: []string{"street", "address"}},
	{FieldKey: "address_line_2", Label: "Address Line 2", Type: TypeText, Category: "address", Aliases: []string{"street_2", "apartment"}},
	{FieldKey: "city", Label: "City", Type: TypeText, Category: "address", Aliases: []string{"town"}},
	{FieldKey: "state", Label: "State", Type: TypeText, Category: "address", Aliases: []string{"province", "region"}},
	{FieldKey: "zip_code", Label: "ZIP Code", Type: TypeText, Category: "address", Aliases: []string{"postal_code", "postcode"}},
	{FieldKey: "country", Label: "Country", Type: TypeText, Category: "address", Aliases: []string{"country_code"}},
}

// Seed creates every spec missing from the catalog. Fields that already
// exist are left untouched, so seeding is safe to repeat. Returns how
// many fields were created.
func Seed(ctx context.Context, cat Catalog, specs []FieldSpec) (int, error) {
	created := 0
	for _, spec := range specs {
		if _, err := cat.CreateField(ctx, spec); err != nil {
			var dup *DuplicateKeyError
			if errors.As(err, &dup) {
				continue
			}
			return created, fmt.Errorf("seed field %q: %w", spec.FieldKey, err)
		}
		created++
	}
	return created, nil
}

// SeedDefaults installs the full starter catalog.
func SeedDefaults(ctx context.Context, cat Catalog) (int, error) {
	return Seed(ctx, cat, append(append([]FieldSpec{}, ContactFieldSpecs...), AddressFieldSpecs...))
}
