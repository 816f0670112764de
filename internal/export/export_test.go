package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kalambet/threadmark/internal/domain"
)

func sampleThreads() []domain.Thread {
	ts := domain.At(time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC))
	return []domain.Thread{
		{
			ID:    "t1",
			Title: `Say "hi", please`,
			Annotations: domain.Annotations{
				{Rating: domain.RatingGood, Notes: `said "hello"`, Tags: []string{"greeting", "polite"}, Timestamp: ts},
				{Rating: domain.RatingBad, Notes: "", Tags: nil},
			},
		},
		{ID: "t2", Title: "unannotated"},
		{
			ID:          "t3",
			Annotations: domain.Annotations{{Rating: domain.RatingBad, Notes: "line1\nline2", Tags: []string{"x"}, Timestamp: ts}},
		},
	}
}

func TestConvertAnnotationsToCSV(t *testing.T) {
	got := ConvertAnnotationsToCSV(sampleThreads())
	want := strings.Join([]string{
		"Thread ID,Thread Title,Annotation Index,Rating,Notes,Tags,Timestamp",
		`t1,"Say ""hi"", please",0,good,"said ""hello""","greeting;polite",2025-02-03T04:05:06Z`,
		`t1,"Say ""hi"", please",1,bad,"","",`,
		"t3,\"\",0,bad,\"line1\nline2\",\"x\",2025-02-03T04:05:06Z",
		"",
	}, "\n")
	if got != want {
		t.Errorf("CSV mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestConvertAnnotationsToCSV_Empty(t *testing.T) {
	got := ConvertAnnotationsToCSV(nil)
	if got != strings.Join(Header, ",")+"\n" {
		t.Errorf("got %q, want header only", got)
	}
}

func TestRows(t *testing.T) {
	rows := Rows(sampleThreads())
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}
	if rows[1].ThreadID != "t1" || rows[1].Index != 1 {
		t.Errorf("rows[1] = %+v", rows[1])
	}
	if rows[2].ThreadID != "t3" || rows[2].Index != 0 {
		t.Errorf("rows[2] = %+v", rows[2])
	}
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, sampleThreads()); err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 2 || sheets[0] != annotationsSheet || sheets[1] != summarySheet {
		t.Fatalf("sheets = %v", sheets)
	}

	rows, err := f.GetRows(annotationsSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("annotation rows = %d, want 4 (header + 3)", len(rows))
	}
	if rows[1][4] != `said "hello"` || rows[1][5] != "greeting;polite" {
		t.Errorf("row 1 = %v", rows[1])
	}

	summary, err := f.GetRows(summarySheet)
	if err != nil {
		t.Fatalf("GetRows(summary): %v", err)
	}
	if len(summary) != 4 {
		t.Fatalf("summary rows = %d, want 4", len(summary))
	}
	if summary[1][2] != "2" || summary[1][3] != "1" || summary[1][4] != "1" {
		t.Errorf("t1 summary = %v", summary[1])
	}
	if summary[2][2] != "0" {
		t.Errorf("t2 summary = %v", summary[2])
	}
}
