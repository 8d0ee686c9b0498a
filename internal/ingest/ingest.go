// Package ingest parses raw delimited text into a header list and row
// records keyed by header name. It is the first phase of the import
// pipeline and performs no I/O.
package ingest

import (
	"bytes"
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrMalformedInput indicates the source text contains no header line.
var ErrMalformedInput = errors.New("malformed input: no header line found")

// Table is the parsed form of a delimited source file.
type Table struct {
	Headers []string
	Rows    []map[string]string
}

// Parse splits raw text into a header list and row records.
//
// The first non-blank line is the header; every following non-blank
// line is comma-split and zipped positionally against the headers.
// Quoted or escaped delimiters are not supported: a comma always
// splits, a quote is just a character. Rows with fewer cells than
// headers leave the trailing fields empty; extra cells are ignored.
func Parse(raw string) (*Table, error) {
	raw = string(sanitizeUTF8(stripBOM([]byte(raw))))

	var headers []string
	table := &Table{}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		cells := splitCells(line)

		if headers == nil {
			headers = cells
			table.Headers = headers
			continue
		}

		row := make(map[string]string, len(headers))
		empty := true
		for i, h := range headers {
			var v string
			if i < len(cells) {
				v = cells[i]
			}
			if v != "" {
				empty = false
			}
			row[h] = v
		}
		if empty {
			continue
		}
		table.Rows = append(table.Rows, row)
	}

	if headers == nil {
		return nil, ErrMalformedInput
	}
	return table, nil
}

// splitCells splits a line on commas and trims each cell.
func splitCells(line string) []string {
	parts := strings.Split(line, ",")
	cells := make([]string, len(parts))
	for i, p := range parts {
		cells[i] = strings.TrimSpace(p)
	}
	return cells
}

// stripBOM removes a leading UTF-8 byte order mark if present.
// Excel on Windows commonly prepends one when exporting CSV.
func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

// sanitizeUTF8 replaces invalid byte sequences with the Unicode
// replacement character so downstream string handling stays safe.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('�')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}
