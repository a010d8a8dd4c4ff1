package reports

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"strings"
	"time"

	"github.com/Aidin1998/analytics/internal/dataset"
	"github.com/go-pdf/fpdf"
	"github.com/microcosm-cc/bluemonday"
)

// Export formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatHTML = "html"
	FormatPDF  = "pdf"
)

var exportFormats = []string{FormatPDF, FormatHTML, FormatJSON, FormatCSV}

type field struct {
	Name  string
	Value string
}

type renderedSection struct {
	ID     string
	Title  string
	Fields []field
}

// document is a stored report prepared for rendering
type document struct {
	report   Report
	sections []renderedSection
	raw      []byte
}

func newDocument(raw []byte) (*document, error) {
	var r Report
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("failed to decode stored report: %w", err)
	}
	d := &document{report: r, raw: raw}
	for _, id := range sectionOrder {
		v, ok := r.ReportContent.Sections[id]
		if !ok {
			continue
		}
		sec := renderedSection{ID: id, Title: sectionTitles[id]}
		if m, ok := v.(map[string]interface{}); ok {
			if t, ok := m["title"].(string); ok {
				sec.Title = t
			}
			for _, k := range sortedKeys(m) {
				if k != "title" {
					flattenValue(k, m[k], &sec.Fields)
				}
			}
		}
		d.sections = append(d.sections, sec)
	}
	return d, nil
}

func scalar(v interface{}) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", true
	case string:
		return t, true
	case float64, bool:
		return dataset.FormatValue(t), true
	}
	return "", false
}

// flattenValue turns nested values into dotted field names. Lists of
// scalars become one "; " joined field.
func flattenValue(prefix string, v interface{}, out *[]field) {
	if s, ok := scalar(v); ok {
		*out = append(*out, field{Name: prefix, Value: s})
		return
	}
	switch t := v.(type) {
	case map[string]interface{}:
		if len(t) == 0 {
			*out = append(*out, field{Name: prefix})
		}
		for _, k := range sortedKeys(t) {
			flattenValue(prefix+"."+k, t[k], out)
		}
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := scalar(item)
			if !ok {
				parts = nil
				break
			}
			parts = append(parts, s)
		}
		if parts != nil || len(t) == 0 {
			*out = append(*out, field{Name: prefix, Value: strings.Join(parts, "; ")})
			return
		}
		for i, item := range t {
			flattenValue(fmt.Sprintf("%s[%d]", prefix, i), item, out)
		}
	}
}

func writeJSON(d *document, path string) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, d.raw, "", "  "); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func writeCSV(d *document, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(out)
	meta := d.report.ReportMetadata
	rows := [][]string{
		{"section", "field", "value"},
		{"metadata", "report_id", meta.ReportID},
		{"metadata", "report_type", meta.ReportType},
		{"metadata", "generated_at", meta.GeneratedAt.Format(time.RFC3339)},
	}
	for _, sec := range d.sections {
		for _, f := range sec.Fields {
			rows = append(rows, []string{sec.ID, f.Name, f.Value})
		}
	}
	werr := w.WriteAll(rows)
	if cerr := out.Close(); werr == nil {
		werr = cerr
	}
	return werr
}

var htmlBody = template.Must(template.New("body").Parse(`<h1>{{.Title}}</h1>
<p>Report {{.Meta.ReportID}} generated {{.Meta.GeneratedAt.Format "2006-01-02 15:04 MST"}} covering {{.Meta.DateRange.Start.Format "2006-01-02"}} to {{.Meta.DateRange.End.Format "2006-01-02"}}</p>
{{range .Sections}}<h2>{{.Title}}</h2>
<table>
<thead><tr><th>Field</th><th>Value</th></tr></thead>
<tbody>{{range .Fields}}
<tr><td>{{.Name}}</td><td>{{.Value}}</td></tr>{{end}}
</tbody>
</table>
{{end}}{{if .Attachment}}<h2>Attachment: report data</h2>
<pre>{{.Attachment}}</pre>
{{end}}`))

var htmlShell = template.Must(template.New("shell").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body{font-family:sans-serif;margin:2em;color:#222}
table{border-collapse:collapse;margin-bottom:1.5em}
td,th{border:1px solid #ccc;padding:4px 8px;text-align:left;vertical-align:top}
th{background:#f2f2f2}
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// reportPolicy allows the markup the body template emits
func reportPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("table", "thead", "tbody", "tr", "td", "th", "pre")
	return p
}

func writeHTML(d *document, path string, attach bool) error {
	data := struct {
		Title      string
		Meta       Metadata
		Sections   []renderedSection
		Attachment string
	}{Title: d.report.ReportContent.Title, Meta: d.report.ReportMetadata, Sections: d.sections}
	if attach {
		var buf bytes.Buffer
		if err := json.Indent(&buf, d.raw, "", "  "); err != nil {
			return err
		}
		data.Attachment = buf.String()
	}
	var body bytes.Buffer
	if err := htmlBody.Execute(&body, data); err != nil {
		return err
	}
	clean := reportPolicy().SanitizeBytes(body.Bytes())

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	werr := htmlShell.Execute(out, struct {
		Title string
		Body  template.HTML
	}{Title: data.Title, Body: template.HTML(clean)})
	if cerr := out.Close(); werr == nil {
		werr = cerr
	}
	return werr
}

func writePDF(d *document, path string, attach bool) error {
	meta := d.report.ReportMetadata
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(d.report.ReportContent.Title, true)
	pdf.SetCreator("analytics-service", true)
	pdf.SetCreationDate(meta.GeneratedAt)
	pdf.SetAutoPageBreak(true, 15)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, tr(d.report.ReportContent.Title), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("Report %s, generated %s", meta.ReportID, meta.GeneratedAt.Format("2006-01-02 15:04 MST"))), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Period %s to %s", meta.DateRange.Start.Format("2006-01-02"), meta.DateRange.End.Format("2006-01-02")), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	for _, sec := range d.sections {
		pdf.SetFont("Helvetica", "B", 13)
		pdf.CellFormat(0, 8, tr(sec.Title), "B", 1, "L", false, 0, "")
		pdf.Ln(1)
		for _, f := range sec.Fields {
			pdf.SetFont("Helvetica", "B", 9)
			pdf.CellFormat(65, 5, tr(f.Name), "", 0, "L", false, 0, "")
			pdf.SetFont("Helvetica", "", 9)
			pdf.MultiCell(0, 5, tr(f.Value), "", "L", false)
		}
		pdf.Ln(3)
	}
	if attach {
		pdf.AddPage()
		pdf.SetFont("Helvetica", "B", 13)
		pdf.CellFormat(0, 8, "Attachment: report data", "B", 1, "L", false, 0, "")
		pdf.SetFont("Courier", "", 7)
		var buf bytes.Buffer
		if err := json.Indent(&buf, d.raw, "", "  "); err != nil {
			return err
		}
		pdf.MultiCell(0, 3.5, tr(buf.String()), "", "L", false)
	}
	return pdf.OutputFileAndClose(path)
}
