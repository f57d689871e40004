// Package psv parses NGDP's "pipe-separated-values" catalog tables: a typed,
// columnar text format with a tagged header, optional "## key = value"
// metadata comment lines, and rows separated by "|".
package psv

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
)

// ErrMalformedHeader is returned when the header line cannot be parsed.
var ErrMalformedHeader = errors.New("psv: malformed header")

// RowError reports a malformed data row, naming the 1-based row number in
// which the parse failed.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("psv: row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Column describes one header field, "Name!TYPE:N".
type Column struct {
	Name string
	Type string
	Size int
}

// Row maps column name to string value for one data row, preserving the
// header's column order via Document.Header.
type Row map[string]string

// Document is a parsed PSV table.
type Document struct {
	Header []Column
	Seqn   int64 // 0 if absent
	Rows   []Row
}

// Get returns the value of a column, and whether the column was present.
func (r Row) Get(name string) (string, bool) {
	v, ok := r[name]
	return v, ok
}

// Parse reads a full PSV document from r.
//
// Malformed headers fail hard. Malformed rows fail with a *RowError naming
// the offending row number. Empty trailing lines are ignored.
func Parse(r io.Reader) (*Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	doc := &Document{}
	headerSeen := false
	rowNum := 0

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "##") {
			if seqn, ok := parseSeqn(line); ok {
				doc.Seqn = seqn
			}
			continue
		}

		if strings.HasPrefix(line, "#") {
			// Plain comment line, not a metadata directive; ignored.
			continue
		}

		if !headerSeen {
			cols, err := parseHeader(line)
			if err != nil {
				return nil, err
			}
			doc.Header = cols
			headerSeen = true
			continue
		}

		rowNum++
		row, err := parseRow(doc.Header, line)
		if err != nil {
			return nil, &RowError{Row: rowNum, Err: err}
		}
		doc.Rows = append(doc.Rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("psv: %w", err)
	}
	if !headerSeen {
		return nil, ErrMalformedHeader
	}
	return doc, nil
}

// RowsSeq returns an iterator over the document's rows, preserving file
// order.
func (d *Document) RowsSeq() iter.Seq[Row] {
	return func(yield func(Row) bool) {
		for _, row := range d.Rows {
			if !yield(row) {
				return
			}
		}
	}
}

// parseSeqn recognizes "## seqn = N" metadata lines.
func parseSeqn(line string) (int64, bool) {
	body := strings.TrimPrefix(line, "##")
	parts := strings.SplitN(body, "=", 2)
	if len(parts) != 2 {
		return 0, false
	}
	if strings.TrimSpace(parts[0]) != "seqn" {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseHeader parses "Name!TYPE:N|Name!TYPE:N|...".
func parseHeader(line string) ([]Column, error) {
	fields := strings.Split(line, "|")
	cols := make([]Column, 0, len(fields))
	for _, f := range fields {
		col, err := parseColumn(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
		}
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		return nil, ErrMalformedHeader
	}
	return cols, nil
}

func parseColumn(field string) (Column, error) {
	bang := strings.IndexByte(field, '!')
	if bang < 0 {
		return Column{}, fmt.Errorf("missing '!' in column %q", field)
	}
	name := field[:bang]
	rest := field[bang+1:]

	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return Column{}, fmt.Errorf("missing ':' in column %q", field)
	}
	typ := rest[:colon]
	sizeStr := rest[colon+1:]

	size, err := strconv.Atoi(sizeStr)
	if err != nil {
		return Column{}, fmt.Errorf("bad size in column %q: %w", field, err)
	}
	if name == "" || typ == "" {
		return Column{}, fmt.Errorf("empty name or type in column %q", field)
	}
	return Column{Name: name, Type: typ, Size: size}, nil
}

func parseRow(header []Column, line string) (Row, error) {
	values := strings.Split(line, "|")
	if len(values) != len(header) {
		return nil, fmt.Errorf("expected %d fields, got %d", len(header), len(values))
	}
	row := make(Row, len(header))
	for i, col := range header {
		row[col.Name] = values[i]
	}
	return row, nil
}

// Serialize writes rows back out in PSV form, for round-trip testing.
// Cell values must not contain "|" or "\n".
func Serialize(w io.Writer, header []Column, rows []Row) error {
	headerParts := make([]string, len(header))
	for i, col := range header {
		headerParts[i] = fmt.Sprintf("%s!%s:%d", col.Name, col.Type, col.Size)
	}
	if _, err := io.WriteString(w, strings.Join(headerParts, "|")+"\n"); err != nil {
		return err
	}

	for _, row := range rows {
		if _, err := io.WriteString(w, SerializeRow(header, row)+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// SerializeRow renders one row as a single pipe-joined line, in header
// column order, without a header line of its own. Used to cache a row's
// text form independent of the document it came from.
func SerializeRow(header []Column, row Row) string {
	parts := make([]string, len(header))
	for i, col := range header {
		parts[i] = row[col.Name]
	}
	return strings.Join(parts, "|")
}
