// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

// Package table reads and writes the header-named tables the pipeline
// consumes and produces. Spreadsheets (.xlsx, .xlsm) go through excelize;
// .csv files through encoding/csv. Cells read from disk are strings and are
// coerced by the pipeline; cells written may be strings, numbers or booleans.
package table

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrUnsupportedFormat is returned for file extensions other than
// .xlsx, .xlsm and .csv.
var ErrUnsupportedFormat = errors.New("unsupported table format")

// Row maps a header to its cell value. A header with no cell is absent.
type Row map[string]interface{}

// Table is an ordered header list plus rows in input order.
type Table struct {
	Headers []string
	Rows    []Row
}

// AddColumn appends header unless it is already present.
func (t *Table) AddColumn(header string) {
	for _, h := range t.Headers {
		if h == header {
			return
		}
	}
	t.Headers = append(t.Headers, header)
}

type format int

const (
	formatXLSX format = iota
	formatCSV
)

func detectFormat(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return formatXLSX, nil
	case ".csv":
		return formatCSV, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Read loads the table at path. sheet selects a worksheet by name or by
// zero-based index ("0" or "" is the first sheet) and is ignored for csv.
func Read(path, sheet string) (*Table, error) {
	f, err := detectFormat(path)
	if err != nil {
		return nil, err
	}
	if f == formatCSV {
		return readCSV(path)
	}
	return readXLSX(path, sheet)
}

// Write saves t to path in the format implied by its extension,
// replacing any existing file.
func Write(path string, t *Table) error {
	f, err := detectFormat(path)
	if err != nil {
		return err
	}
	if f == formatCSV {
		return writeCSV(path, t)
	}
	return writeXLSX(path, t)
}

// fromRecords turns raw records (header first) into a Table. Records that
// are entirely blank are dropped; short records leave trailing headers absent.
func fromRecords(records [][]string) *Table {
	t := &Table{}
	if len(records) == 0 {
		return t
	}
	t.Headers = uniqueHeaders(records[0])

	for _, rec := range records[1:] {
		if isBlank(rec) {
			continue
		}
		row := make(Row, len(t.Headers))
		for i, h := range t.Headers {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// uniqueHeaders suffixes repeated header names with _2, _3, ... so every
// column keeps its own key in a Row. Suffixes never take a name that
// another header already has.
func uniqueHeaders(headers []string) []string {
	seen := make(map[string]bool, len(headers))
	for _, h := range headers {
		seen[h] = true
	}
	used := make(map[string]bool, len(headers))
	out := make([]string, len(headers))
	for i, h := range headers {
		name := h
		for n := 2; used[name]; n++ {
			if candidate := fmt.Sprintf("%s_%d", h, n); !seen[candidate] && !used[candidate] {
				name = candidate
			}
		}
		used[name] = true
		out[i] = name
	}
	return out
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// formatCell renders a cell for text output.
func formatCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
