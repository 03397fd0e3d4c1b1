package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/sawpanic/riskengine/internal/domain"
)

const (
	SummarySheet = "Summary"
	RecordsSheet = "Records"
)

var bucketOrder = []domain.MatchStatus{
	domain.MatchMatched,
	domain.MatchValueMismatch,
	domain.MatchMissingInBooks,
	domain.MatchMissingIn2B,
}

// WriteReconciliationWorkbook renders a reconciliation run as an XLSX workbook
// with a bucket summary sheet and one row per match record
func WriteReconciliationWorkbook(w io.Writer, summary *domain.ReconciliationSummary) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(RecordsSheet); err != nil {
		return fmt.Errorf("failed to create records sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeSummary(f, summary, bold); err != nil {
		return err
	}
	if err := writeRecords(f, summary.Records, bold); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, summary *domain.ReconciliationSummary, header int) error {
	rows := [][]interface{}{
		{"Period", summary.PeriodID},
		{"Run", summary.RunID},
		{"Completed", summary.CompletedAt.UTC().Format(time.RFC3339)},
		{},
		{"Status", "Count", "Taxable", "Tax"},
	}
	for _, status := range bucketOrder {
		b := summary.Bucket(status)
		rows = append(rows, []interface{}{string(status), b.Count, b.Taxable.InexactFloat64(), b.Tax.InexactFloat64()})
	}

	if err := setRows(f, SummarySheet, rows); err != nil {
		return err
	}
	if err := f.SetCellStyle(SummarySheet, "A1", "A3", header); err != nil {
		return fmt.Errorf("failed to style summary labels: %w", err)
	}
	if err := f.SetCellStyle(SummarySheet, "A5", "D5", header); err != nil {
		return fmt.Errorf("failed to style summary header: %w", err)
	}
	return f.SetColWidth(SummarySheet, "A", "A", 18)
}

func writeRecords(f *excelize.File, records []domain.MatchRecord, header int) error {
	rows := [][]interface{}{
		{"Record", "Status", "Statement Entry", "Ledger Entry", "Taxable", "Tax", "Differences"},
	}
	for _, rec := range records {
		rows = append(rows, []interface{}{
			rec.ID,
			string(rec.Status),
			deref(rec.StatementEntryID),
			deref(rec.LedgerEntryID),
			rec.TaxableAmount.InexactFloat64(),
			rec.TaxAmount.InexactFloat64(),
			formatDiff(rec.Diff),
		})
	}

	if err := setRows(f, RecordsSheet, rows); err != nil {
		return err
	}
	if err := f.SetCellStyle(RecordsSheet, "A1", "G1", header); err != nil {
		return fmt.Errorf("failed to style records header: %w", err)
	}
	return f.SetColWidth(RecordsSheet, "A", "D", 38)
}

func setRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		for j, value := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return fmt.Errorf("failed to set %s!%s: %w", sheet, cell, err)
			}
		}
	}
	return nil
}

func formatDiff(diff []domain.FieldDiff) string {
	parts := make([]string, 0, len(diff))
	for _, d := range diff {
		parts = append(parts, fmt.Sprintf("%s: %s vs %s", d.Field, d.Self.StringFixed(2), d.Counterparty.StringFixed(2)))
	}
	return strings.Join(parts, "; ")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
