package catalog

import (
	"context"
	"encoding/json"
	"testing"
)

// ============================================================================
// NormalizeKey Tests
// ============================================================================

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple label", "First Name", "first_name"},
		{"already normalized", "first_name", "first_name"},
		{"hyphens", "e-mail-address", "e_mail_address"},
		{"special characters dropped", "SSN (last 4)", "ssn_last_4"},
		{"collapsed underscores", "a__b___c", "a_b_c"},
		{"leading and trailing separators", "_Name_", "name"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeKey(tt.input); got != tt.want {
				t.Errorf("NormalizeKey(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// ============================================================================
// CanonicalField JSON shape Tests
// ============================================================================

func TestCanonicalFieldUnmarshal_AcceptsBothTypeKeys(t *testing.T) {
	tests := []struct {
		name string
		json string
		want FieldType
	}{
		{
			name: "type key",
			json: `{"field_key":"email","label":"Email","type":"email"}`,
			want: TypeEmail,
		},
		{
			name: "field_type key",
			json: `{"field_key":"email","label":"Email","field_type":"email"}`,
			want: TypeEmail,
		},
		{
			name: "type wins when both present",
			json: `{"field_key":"email","type":"email","field_type":"text"}`,
			want: TypeEmail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f CanonicalField
			if err := json.Unmarshal([]byte(tt.json), &f); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if f.Type != tt.want {
				t.Errorf("Type = %q, want %q", f.Type, tt.want)
			}
		})
	}
}

// ============================================================================
// MemoryCatalog Tests
// ============================================================================

func TestMemoryCatalog_CreateAndList(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog(
		CanonicalField{FieldKey: "email", Label: "Email", Type: TypeEmail},
		CanonicalField{FieldKey: "first_name", Label: "First Name", Type: TypeText},
	)

	created, err := c.CreateField(ctx, FieldSpec{FieldKey: "notes", Label: "Notes", Type: TypeTextarea})
	if err != nil {
		t.Fatalf("CreateField: %v", err)
	}
	if created.FieldKey != "notes" {
		t.Errorf("created key = %q, want notes", created.FieldKey)
	}

	fields, err := c.ListFields(ctx)
	if err != nil {
		t.Fatalf("ListFields: %v", err)
	}
	wantOrder := []string{"email", "first_name", "notes"}
	if len(fields) != len(wantOrder) {
		t.Fatalf("got %d fields, want %d", len(fields), len(wantOrder))
	}
	for i, key := range wantOrder {
		if fields[i].FieldKey != key {
			t.Errorf("field[%d] = %q, want %q (insertion order must be preserved)", i, fields[i].FieldKey, key)
		}
	}
}

func TestMemoryCatalog_DuplicateKey(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog(CanonicalField{FieldKey: "email", Type: TypeEmail})

	_, err := c.CreateField(ctx, FieldSpec{FieldKey: "email", Type: TypeEmail})
	if !IsDuplicateKey(err) {
		t.Fatalf("expected DuplicateKeyError, got %v", err)
	}
}

func TestMemoryCatalog_RejectsInvalidSpec(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog()

	if _, err := c.CreateField(ctx, FieldSpec{FieldKey: "Bad Key", Type: TypeText}); err == nil {
		t.Error("expected error for unnormalized key")
	}
	if _, err := c.CreateField(ctx, FieldSpec{FieldKey: "ok", Type: "bogus"}); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestMemoryCatalog_IncrementUsage(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog(
		CanonicalField{FieldKey: "email", Type: TypeEmail},
		CanonicalField{FieldKey: "phone", Type: TypeTel},
	)

	if err := c.IncrementUsage(ctx, []string{"email", "missing"}); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}

	fields, _ := c.ListFields(ctx)
	if fields[0].UsageCount != 1 {
		t.Errorf("email usage = %d, want 1", fields[0].UsageCount)
	}
	if fields[1].UsageCount != 0 {
		t.Errorf("phone usage = %d, want 0", fields[1].UsageCount)
	}
}

// ============================================================================
// NextAvailableKey Tests
// ============================================================================

func TestNextAvailableKey(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog(
		CanonicalField{FieldKey: "notes", Type: TypeText},
		CanonicalField{FieldKey: "notes_2", Type: TypeText},
	)

	got, err := NextAvailableKey(ctx, c, "notes")
	if err != nil {
		t.Fatalf("NextAvailableKey: %v", err)
	}
	if got != "notes_3" {
		t.Errorf("NextAvailableKey = %q, want notes_3", got)
	}

	got, err = NextAvailableKey(ctx, c, "status")
	if err != nil {
		t.Fatalf("NextAvailableKey: %v", err)
	}
	if got != "status" {
		t.Errorf("NextAvailableKey = %q, want status (untaken base)", got)
	}
}

// ============================================================================
// Seed Tests
// ============================================================================

func TestSeedDefaults(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog()

	created, err := SeedDefaults(ctx, c)
	if err != nil {
		t.Fatalf("SeedDefaults: %v", err)
	}
	want := len(ContactFieldSpecs) + len(AddressFieldSpecs)
	if created != want {
		t.Errorf("created = %d, want %d", created, want)
	}

	// Repeat seeding must not duplicate or error.
	created, err = SeedDefaults(ctx, c)
	if err != nil {
		t.Fatalf("second SeedDefaults: %v", err)
	}
	if created != 0 {
		t.Errorf("second seed created = %d, want 0", created)
	}

	fields, err := c.ListFields(ctx)
	if err != nil {
		t.Fatalf("ListFields: %v", err)
	}
	if len(fields) != want {
		t.Errorf("fields = %d, want %d", len(fields), want)
	}
}

func TestSeed_PartiallyPopulatedCatalog(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog(
		CanonicalField{FieldKey: "email", Label: "Email", Type: TypeEmail},
	)

	created, err := Seed(ctx, c, ContactFieldSpecs)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if created != len(ContactFieldSpecs)-1 {
		t.Errorf("created = %d, want %d", created, len(ContactFieldSpecs)-1)
	}
}

func TestSeed_RejectsInvalidSpec(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog()

	_, err := Seed(ctx, c, []FieldSpec{{FieldKey: "Bad Key", Label: "Bad", Type: TypeText}})
	if err == nil {
		t.Fatal("expected error for unnormalized key")
	}
}
