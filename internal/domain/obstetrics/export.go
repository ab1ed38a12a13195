package obstetrics

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	HistorySheet = "History"
	SummarySheet = "Summary"
)

// HistoryHeader is the column layout of the History sheet.
var HistoryHeader = []string{
	"#",
	"Outcome",
	"Year",
	"LMP",
	"Gestation (weeks)",
	"Delivery Mode",
	"Birth Weight",
	"Birth Weight (g)",
	"Gender",
	"Baby Status",
	"Complications",
	"Remarks",
}

var historyColumnWidths = []float64{5, 14, 8, 12, 18, 15, 14, 16, 10, 12, 40, 40}

// WriteHistoryWorkbook renders records (already in display order) and the
// summary into an xlsx workbook written to w.
func WriteHistoryWorkbook(w io.Writer, pc *PatientCase, records []*PregnancyRecord, summary *ObstetricSummary) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", HistorySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F3E6FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := writeHistorySheet(f, headerStyle, records); err != nil {
		return err
	}
	if err := writeSummarySheet(f, headerStyle, pc, summary); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeHistorySheet(f *excelize.File, headerStyle int, records []*PregnancyRecord) error {
	header := make([]interface{}, len(HistoryHeader))
	for i, h := range HistoryHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(HistorySheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	last, _ := excelize.ColumnNumberToName(len(HistoryHeader))
	if err := f.SetCellStyle(HistorySheet, "A1", last+"1", headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	for i, width := range historyColumnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(HistorySheet, col, col, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := historyRow(i+1, r)
		if err := f.SetSheetRow(HistorySheet, cell, &row); err != nil {
			return fmt.Errorf("write record %s: %w", r.ID, err)
		}
	}
	return nil
}

func historyRow(n int, r *PregnancyRecord) []interface{} {
	row := []interface{}{n, string(r.Outcome), "", "", "", string(r.DeliveryMode), "", "", string(r.Gender), string(r.BabyStatus),
		strings.Join(r.Complications, ", "), r.Remarks}
	if r.Year != nil {
		row[2] = *r.Year
	}
	if r.LMPDate != nil {
		row[3] = r.LMPDate.String()
	}
	if r.GestationWeeks != nil {
		row[4] = *r.GestationWeeks
	}
	if r.BirthWeight != nil {
		row[6] = r.BirthWeight.String()
		g, _ := r.BirthWeight.Grams().Round(0).Float64()
		row[7] = g
	}
	return row
}

func writeSummarySheet(f *excelize.File, headerStyle int, pc *PatientCase, s *ObstetricSummary) error {
	rows := [][]interface{}{
		{"Field", "Value"},
		{"Case", pc.ID.String()},
		{"Patient", pc.PatientID.String()},
		{"Category", strings.ToUpper(string(pc.Category))},
		{"As of", s.AsOf.String()},
		{"GTPAL", s.GTPAL.String()},
		{"Gravida", s.GTPAL.G},
		{"Term", s.GTPAL.T},
		{"Preterm", s.GTPAL.P},
		{"Abortion", s.GTPAL.A},
		{"Living", s.GTPAL.L},
	}
	if s.GTPAL.Unclassified > 0 {
		rows = append(rows, []interface{}{"Unclassified", s.GTPAL.Unclassified})
	}
	if a := s.ActivePregnancy; a != nil {
		rows = append(rows,
			[]interface{}{"LMP", a.LMPDate.String()},
			[]interface{}{"Gestational age", a.GestationalAge.String()},
			[]interface{}{"EDD", a.EDD.String()},
		)
	}
	for i, w := range s.Warnings {
		rows = append(rows, []interface{}{"Warning " + strconv.Itoa(i+1), w})
	}

	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SummarySheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("write summary row %d: %w", i+1, err)
		}
	}
	if err := f.SetCellStyle(SummarySheet, "A1", "B1", headerStyle); err != nil {
		return fmt.Errorf("style summary header: %w", err)
	}
	if err := f.SetColWidth(SummarySheet, "A", "A", 18); err != nil {
		return err
	}
	return f.SetColWidth(SummarySheet, "B", "B", 60)
}
