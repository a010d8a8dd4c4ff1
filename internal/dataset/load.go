package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/xuri/excelize/v2"
)

// Format is a supported upload format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// FormatOf maps a filename extension to a format
func FormatOf(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".xlsx", ".xls":
		return FormatXLSX, nil
	default:
		return "", apperrors.Unsupportedf("Unsupported file format")
	}
}

// Load parses r according to the extension of filename
func Load(filename string, r io.Reader) (*Frame, error) {
	format, err := FormatOf(filename)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatCSV:
		return LoadCSV(r)
	case FormatJSON:
		return LoadJSON(r)
	default:
		return LoadXLSX(r)
	}
}

// LoadCSV reads a header row followed by data rows
func LoadCSV(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, apperrors.Invalidf("file is empty")
	}
	if err != nil {
		return nil, apperrors.Invalidf("invalid CSV: %v", err).Wrap(err)
	}
	f, err := frameFromHeader(header)
	if err != nil {
		return nil, err
	}
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.Invalidf("invalid CSV: %v", err).Wrap(err)
		}
		appendRaw(f, rec)
	}
	return f, nil
}

func frameFromHeader(header []string) (*Frame, error) {
	f := NewFrame()
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		if err := f.AddColumn(name, nil); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func appendRaw(f *Frame, rec []string) {
	for i, c := range f.columns {
		var v interface{}
		if i < len(rec) {
			v = ParseCell(rec[i])
		}
		c.Values = append(c.Values, v)
	}
}

// LoadJSON accepts an array of records, an object of equally long column
// arrays, or a single (possibly nested) object which becomes one row.
func LoadJSON(r io.Reader) (*Frame, error) {
	var doc interface{}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, apperrors.Invalidf("invalid JSON: %v", err).Wrap(err)
	}
	switch t := doc.(type) {
	case []interface{}:
		records := make([]map[string]interface{}, 0, len(t))
		for i, item := range t {
			obj, ok := item.(map[string]interface{})
			if !ok {
				return nil, apperrors.Invalidf("record %d is not an object", i)
			}
			records = append(records, obj)
		}
		return FromRecords(records), nil
	case map[string]interface{}:
		if f, ok := columnar(t); ok {
			return f, nil
		}
		return FromRecords([]map[string]interface{}{t}), nil
	default:
		return nil, apperrors.Invalidf("JSON document must be an object or an array of objects")
	}
}

func columnar(obj map[string]interface{}) (*Frame, bool) {
	if len(obj) == 0 {
		return nil, false
	}
	n := -1
	for _, v := range obj {
		arr, ok := v.([]interface{})
		if !ok || (n >= 0 && len(arr) != n) {
			return nil, false
		}
		n = len(arr)
	}
	names := make([]string, 0, len(obj))
	for k := range obj {
		names = append(names, k)
	}
	sort.Strings(names)
	f := NewFrame()
	for _, name := range names {
		arr := obj[name].([]interface{})
		vals := make([]interface{}, len(arr))
		for i, v := range arr {
			vals[i] = normalizeValue(v)
		}
		f.addColumn(&Column{Name: name, Values: vals})
	}
	return f, true
}

// LoadXLSX reads the first worksheet with its first row as header
func LoadXLSX(r io.Reader) (*Frame, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperrors.Invalidf("invalid spreadsheet: %v", err).Wrap(err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, apperrors.Invalidf("spreadsheet has no sheets")
	}
	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, apperrors.Invalidf("invalid spreadsheet: %v", err).Wrap(err)
	}
	if len(rows) == 0 {
		return nil, apperrors.Invalidf("file is empty")
	}
	f, err := frameFromHeader(rows[0])
	if err != nil {
		return nil, err
	}
	for _, row := range rows[1:] {
		appendRaw(f, row)
	}
	return f, nil
}

// WriteCSV writes the frame with a header row
func WriteCSV(w io.Writer, f *Frame) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.Names()); err != nil {
		return err
	}
	row := make([]string, f.Width())
	for i := 0; i < f.Len(); i++ {
		for j, c := range f.columns {
			row[j] = FormatValue(c.Values[i])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
