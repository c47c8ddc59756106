package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
)

const reportSheet = "Auditoria"

var reportColumns = []string{"Data", "Usuário", "Ação", "Entidade", "ID", "Descrição", "Valores anteriores", "Valores novos", "Metadados"}

// Exporter renders reports as CSV or XLSX. The filter and generator are written
// ahead of the rows so a file always states what it contains.
type Exporter struct {
	Location *time.Location
}

// NewExporter builds an Exporter that formats timestamps in loc.
func NewExporter(loc *time.Location) *Exporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Exporter{Location: loc}
}

// WriteCSV serialises the report to CSV.
func (x *Exporter) WriteCSV(w io.Writer, r Report) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	for _, record := range x.preamble(r) {
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	if err := writer.Write(nil); err != nil {
		return err
	}
	if err := writer.Write(reportColumns); err != nil {
		return err
	}
	for _, e := range r.Entries {
		if err := writer.Write(x.row(e)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteXLSX serialises the report to a single-sheet workbook.
func (x *Exporter) WriteXLSX(w io.Writer, r Report) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(reportSheet)
	if err != nil {
		return fmt.Errorf("audit: create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("audit: drop default sheet: %w", err)
	}

	line := 1
	writeRow := func(values []string) error {
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, line)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(reportSheet, cell, value); err != nil {
				return err
			}
		}
		line++
		return nil
	}
	for _, record := range x.preamble(r) {
		if err := writeRow(record); err != nil {
			return err
		}
	}
	line++
	if err := writeRow(reportColumns); err != nil {
		return err
	}
	for _, e := range r.Entries {
		if err := writeRow(x.row(e)); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(reportSheet, "A", "A", 20)
	_ = f.SetColWidth(reportSheet, "B", "B", 24)
	_ = f.SetColWidth(reportSheet, "F", "I", 40)
	return f.Write(w)
}

func (x *Exporter) preamble(r Report) [][]string {
	filter := r.Filter
	records := [][]string{
		{"Relatório de auditoria"},
		{"Gerado por", r.GeneratorName, strconv.FormatInt(r.GeneratedBy, 10)},
		{"Gerado em", x.format(r.GeneratedAt)},
		{"Entidade", labelOrAll(filter.EntityType)},
		{"ID da entidade", orAll(filter.EntityID)},
		{"Usuário", userOrAll(filter.UserID)},
		{"De", x.formatOrEmpty(filter.From)},
		{"Até", x.formatOrEmpty(filter.To)},
		{"Limite", strconv.Itoa(filter.Limit)},
		{"Registros", strconv.Itoa(len(r.Entries))},
	}
	return records
}

func (x *Exporter) row(e Entry) []string {
	return []string{
		x.format(e.CreatedAt),
		e.UserName,
		e.Action.Label(),
		e.EntityType.Label(),
		e.EntityID,
		e.EntityDescription,
		encodeValues(e.OldValues),
		encodeValues(e.NewValues),
		encodeValues(e.Metadata),
	}
}

func (x *Exporter) format(t time.Time) string {
	loc := x.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02/01/2006 15:04:05")
}

func (x *Exporter) formatOrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return x.format(t)
}

func encodeValues(values map[string]any) string {
	if len(values) == 0 {
		return ""
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return ""
	}
	return string(raw)
}

func labelOrAll(e EntityType) string {
	if e == "" {
		return "Todas"
	}
	return e.Label()
}

func orAll(v string) string {
	if v == "" {
		return "Todos"
	}
	return v
}

func userOrAll(id int64) string {
	if id == 0 {
		return "Todos"
	}
	return strconv.FormatInt(id, 10)
}
