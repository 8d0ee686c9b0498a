package ingest

import (
	"errors"
	"testing"
)

// ============================================================================
// Parse Tests
// ============================================================================

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantHeaders []string
		wantRows    []map[string]string
		wantErr     error
	}{
		{
			name:        "simple table",
			input:       "Email,First Name\njohn@example.com,John",
			wantHeaders: []string{"Email", "First Name"},
			wantRows: []map[string]string{
				{"Email": "john@example.com", "First Name": "John"},
			},
		},
		{
			name:        "blank lines discarded",
			input:       "\n\nEmail,Name\n\njohn@example.com,John\n\n",
			wantHeaders: []string{"Email", "Name"},
			wantRows: []map[string]string{
				{"Email": "john@example.com", "Name": "John"},
			},
		},
		{
			name:        "CRLF line endings",
			input:       "a,b\r\n1,2\r\n",
			wantHeaders: []string{"a", "b"},
			wantRows: []map[string]string{
				{"a": "1", "b": "2"},
			},
		},
		{
			name:        "short row leaves trailing fields empty",
			input:       "a,b,c\n1,2",
			wantHeaders: []string{"a", "b", "c"},
			wantRows: []map[string]string{
				{"a": "1", "b": "2", "c": ""},
			},
		},
		{
			name:        "extra cells ignored",
			input:       "a,b\n1,2,3",
			wantHeaders: []string{"a", "b"},
			wantRows: []map[string]string{
				{"a": "1", "b": "2"},
			},
		},
		{
			name:        "cells trimmed",
			input:       "  a , b \n 1 ,2  ",
			wantHeaders: []string{"a", "b"},
			wantRows: []map[string]string{
				{"a": "1", "b": "2"},
			},
		},
		{
			name:        "no quote handling: comma always splits",
			input:       "name,address\nJohn,\"123 Main St, Apt 4\"",
			wantHeaders: []string{"name", "address"},
			wantRows: []map[string]string{
				{"name": "John", "address": "\"123 Main St"},
			},
		},
		{
			name:        "header only",
			input:       "Email,Name",
			wantHeaders: []string{"Email", "Name"},
			wantRows:    nil,
		},
		{
			name:        "fully empty data row skipped",
			input:       "a,b\n,\n1,2",
			wantHeaders: []string{"a", "b"},
			wantRows: []map[string]string{
				{"a": "1", "b": "2"},
			},
		},
		{
			name:        "BOM stripped from header",
			input:       "\xEF\xBB\xBFEmail,Name\nx@y.com,X",
			wantHeaders: []string{"Email", "Name"},
			wantRows: []map[string]string{
				{"Email": "x@y.com", "Name": "X"},
			},
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: ErrMalformedInput,
		},
		{
			name:    "whitespace only",
			input:   "  \n\t\n  ",
			wantErr: ErrMalformedInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Parse() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() unexpected error: %v", err)
			}

			if len(got.Headers) != len(tt.wantHeaders) {
				t.Fatalf("Parse() headers = %v, want %v", got.Headers, tt.wantHeaders)
			}
			for i, h := range tt.wantHeaders {
				if got.Headers[i] != h {
					t.Errorf("header[%d] = %q, want %q", i, got.Headers[i], h)
				}
			}

			if len(got.Rows) != len(tt.wantRows) {
				t.Fatalf("Parse() got %d rows, want %d", len(got.Rows), len(tt.wantRows))
			}
			for i, wantRow := range tt.wantRows {
				for k, want := range wantRow {
					if got.Rows[i][k] != want {
						t.Errorf("row %d [%q] = %q, want %q", i, k, got.Rows[i][k], want)
					}
				}
			}
		})
	}
}

func TestParse_InvalidUTF8Replaced(t *testing.T) {
	got, err := Parse("name\ncaf\xe9")
	if err != nil {
		t.Fatalf("Parse() unexpected error: %v", err)
	}
	if got.Rows[0]["name"] != "caf�" {
		t.Errorf("invalid byte not replaced: %q", got.Rows[0]["name"])
	}
}
