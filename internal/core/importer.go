package core

// importer.go turns delimited text into typed records.
//
// The importer is deliberately line-oriented: every physical line is parsed on
// its own so that a failure can always quote the exact line it came from.
// Quoted fields may contain the delimiter but never a line break.
//
// Structural problems (unknown charset, a required column missing from the
// header, duplicate column keys) abort the whole import. Everything else is a
// row-level failure collected into the ImportReport.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// DefaultCharset is the encoding the authority publishes its extracts in.
const DefaultCharset = "windows-1250"

// DefaultDelimiter separates cells when ImportOptions leaves it unset.
const DefaultDelimiter = ';'

var (
	// ErrDuplicateColumnKey is a configuration error: two specs share a key.
	ErrDuplicateColumnKey = errors.New("duplicate column key")

	// ErrUnknownCharset is returned for charset names the IANA index cannot resolve.
	ErrUnknownCharset = errors.New("unknown charset")

	// ErrInvalidDelimiter is returned for delimiters the CSV parser cannot use.
	ErrInvalidDelimiter = errors.New("invalid delimiter")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// MissingColumnError reports a required column none of whose aliases
// appear in the header.
type MissingColumnError struct {
	Key     ColumnKey
	Aliases []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("missing required column %s (accepted headers: %s)",
		e.Key, strings.Join(e.Aliases, ", "))
}

// LineNumbered records learn the physical line they were mapped from.
type LineNumbered[T any] interface {
	AtLine(line int) T
}

// ImportOptions controls how raw bytes are decoded and split.
type ImportOptions struct {
	Charset   string // IANA name, defaults to DefaultCharset
	Delimiter rune   // defaults to DefaultDelimiter
}

func (o ImportOptions) withDefaults() ImportOptions {
	if strings.TrimSpace(o.Charset) == "" {
		o.Charset = DefaultCharset
	}
	if o.Delimiter == 0 {
		o.Delimiter = DefaultDelimiter
	}
	return o
}

// Import decodes data, resolves the header against specs and maps every
// non-blank data line through mapper.
//
// Returned errors are structural; row problems are recorded in the report.
// Line numbers in failures are 1-based physical lines with the header on line 1.
func Import[T any](data []byte, opts ImportOptions, specs []ColumnSpec, mapper RowMapper[T]) (*ImportReport[T], error) {
	opts = opts.withDefaults()

	if err := validateSpecs(specs); err != nil {
		return nil, err
	}
	if !validDelimiter(opts.Delimiter) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDelimiter, opts.Delimiter)
	}

	text, err := DecodeCharset(data, opts.Charset)
	if err != nil {
		return nil, err
	}

	report := &ImportReport[T]{}
	if strings.TrimSpace(text) == "" {
		return report, nil
	}
	lines := splitLines(text)

	header, err := parseLine(lines[0], opts.Delimiter)
	if err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}

	columns, err := ResolveColumns(header, specs)
	if err != nil {
		return nil, err
	}

	for i, line := range lines[1:] {
		lineNo := i + 2
		if strings.TrimSpace(line) == "" {
			continue
		}
		report.totalRows++

		cells, err := parseLine(line, opts.Delimiter)
		if err != nil {
			report.failures = append(report.failures, RowFailure{
				Line:    lineNo,
				Reason:  ParseError,
				RawLine: line,
				Detail:  err.Error(),
			})
			continue
		}

		outcome := mapper(columns.Row(cells), line)
		if failure, failed := outcome.Failure(); failed {
			failure.Line = lineNo
			if failure.RawLine == "" {
				failure.RawLine = line
			}
			report.failures = append(report.failures, failure)
			continue
		}
		record := outcome.Record()
		if numbered, ok := any(record).(LineNumbered[T]); ok {
			record = numbered.AtLine(lineNo)
		}
		report.successes = append(report.successes, record)
	}

	return report, nil
}

func validateSpecs(specs []ColumnSpec) error {
	seen := make(map[ColumnKey]struct{}, len(specs))
	for _, spec := range specs {
		if _, dup := seen[spec.Key]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateColumnKey, spec.Key)
		}
		seen[spec.Key] = struct{}{}
	}
	return nil
}

func validDelimiter(r rune) bool {
	return r != '"' && r != '\r' && r != '\n' && r != utf8.RuneError && utf8.ValidRune(r)
}

// DecodeCharset converts data from the named charset to a Go string.
// A leading UTF-8 byte order mark is dropped before decoding.
func DecodeCharset(data []byte, charset string) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	name := strings.TrimSpace(charset)
	if name == "" {
		name = DefaultCharset
	}
	if isUTF8(name) {
		return strings.ToValidUTF8(string(data), "\uFFFD"), nil
	}

	enc, err := lookupEncoding(name)
	if err != nil {
		return "", err
	}

	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", name, err)
	}
	return string(out), nil
}

// ValidCharset reports whether name resolves to a supported decoder.
func ValidCharset(name string) bool {
	if isUTF8(name) {
		return true
	}
	_, err := lookupEncoding(name)
	return err == nil
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCharset, name)
	}
	return enc, nil
}

func isUTF8(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "utf-8", "utf8":
		return true
	}
	return false
}

// splitLines splits on \n and drops a trailing \r from each line.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// parseLine splits a single physical line honoring quotes.
func parseLine(line string, delimiter rune) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = delimiter
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	record, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// resolvedColumn binds a column key to a header position.
type resolvedColumn struct {
	key   ColumnKey
	index int
}

// ColumnIndex is the header resolution produced by ResolveColumns.
type ColumnIndex struct {
	columns []resolvedColumn
}

// ResolveColumns matches specs against header cells.
// Each spec takes the position of its first alias present in the header.
// A required spec with no matching alias yields *MissingColumnError.
func ResolveColumns(header []string, specs []ColumnSpec) (ColumnIndex, error) {
	fold := cases.Fold()

	positions := make(map[string]int, len(header))
	for i, cell := range header {
		name := fold.String(CleanCell(cell))
		if _, exists := positions[name]; !exists {
			positions[name] = i
		}
	}

	idx := ColumnIndex{columns: make([]resolvedColumn, 0, len(specs))}
	for _, spec := range specs {
		pos := -1
		for _, alias := range spec.Aliases {
			if p, ok := positions[fold.String(strings.TrimSpace(alias))]; ok {
				pos = p
				break
			}
		}
		if pos < 0 {
			if spec.Required {
				return ColumnIndex{}, &MissingColumnError{Key: spec.Key, Aliases: spec.Aliases}
			}
			continue
		}
		idx.columns = append(idx.columns, resolvedColumn{key: spec.Key, index: pos})
	}
	return idx, nil
}


// Row builds a LogicalRow from parsed cells. Blank and out-of-range cells are absent.
func (c ColumnIndex) Row(cells []string) LogicalRow {
	row := make(LogicalRow, len(c.columns))
	for _, col := range c.columns {
		if col.index >= len(cells) {
			continue
		}
		if v := CleanCell(cells[col.index]); v != "" {
			row[col.key] = v
		}
	}
	return row
}
