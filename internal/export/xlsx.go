package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kalambet/threadmark/internal/domain"
)

const (
	annotationsSheet = "Annotations"
	summarySheet     = "Summary"
)

var summaryHeader = []string{"Thread ID", "Thread Title", "Annotations", "Good", "Bad", "Last Annotated"}

// WriteXLSX writes a workbook with the annotation rows on one sheet and a
// per-thread tally on another.
func WriteXLSX(w io.Writer, threads []domain.Thread) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", annotationsSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("creating summary sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	if err := writeRow(f, annotationsSheet, 1, toAny(Header)); err != nil {
		return err
	}
	for i, r := range Rows(threads) {
		row := []any{r.ThreadID, r.ThreadTitle, r.Index, string(r.Rating), r.Notes, strings.Join(r.Tags, ";"), r.timestamp()}
		if err := writeRow(f, annotationsSheet, i+2, row); err != nil {
			return err
		}
	}

	if err := writeRow(f, summarySheet, 1, toAny(summaryHeader)); err != nil {
		return err
	}
	for i, t := range threads {
		good, bad := 0, 0
		last := ""
		for _, a := range t.Annotations {
			switch a.Rating {
			case domain.RatingGood:
				good++
			case domain.RatingBad:
				bad++
			}
			if !a.Timestamp.IsZero() {
				last = a.Timestamp.UTC().Format("2006-01-02 15:04:05")
			}
		}
		row := []any{t.ID, t.Title, len(t.Annotations), good, bad, last}
		if err := writeRow(f, summarySheet, i+2, row); err != nil {
			return err
		}
	}

	for _, sheet := range []string{annotationsSheet, summarySheet} {
		if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
			return fmt.Errorf("styling %s header: %w", sheet, err)
		}
	}
	f.SetActiveSheet(0)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("writing %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
