// Package export renders annotations as CSV and XLSX reports.
package export

import (
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/threadmark/internal/domain"
)

// Header is the first row of every annotation report.
var Header = []string{"Thread ID", "Thread Title", "Annotation Index", "Rating", "Notes", "Tags", "Timestamp"}

// Row is one (thread, annotation) pair.
type Row struct {
	ThreadID    string
	ThreadTitle string
	Index       int
	Rating      domain.Rating
	Notes       string
	Tags        []string
	Timestamp   time.Time
}

// Rows flattens threads into one row per annotation, in thread then
// annotation order. Threads without annotations produce no rows.
func Rows(threads []domain.Thread) []Row {
	var rows []Row
	for _, t := range threads {
		for i, a := range t.Annotations {
			rows = append(rows, Row{
				ThreadID:    t.ID,
				ThreadTitle: t.Title,
				Index:       i,
				Rating:      a.Rating,
				Notes:       a.Notes,
				Tags:        a.Tags,
				Timestamp:   a.Timestamp.Time,
			})
		}
	}
	return rows
}

func (r Row) timestamp() string {
	if r.Timestamp.IsZero() {
		return ""
	}
	return r.Timestamp.UTC().Format(time.RFC3339)
}

// ConvertAnnotationsToCSV renders the annotation report. Title, Notes and
// Tags are always quoted with embedded quotes doubled; tags are joined by
// ";". Rows end with "\n".
func ConvertAnnotationsToCSV(threads []domain.Thread) string {
	var b strings.Builder
	b.WriteString(strings.Join(Header, ","))
	b.WriteByte('\n')
	for _, r := range Rows(threads) {
		b.WriteString(plain(r.ThreadID))
		b.WriteByte(',')
		b.WriteString(quote(r.ThreadTitle))
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(r.Index))
		b.WriteByte(',')
		b.WriteString(plain(string(r.Rating)))
		b.WriteByte(',')
		b.WriteString(quote(r.Notes))
		b.WriteByte(',')
		b.WriteString(quote(strings.Join(r.Tags, ";")))
		b.WriteByte(',')
		b.WriteString(r.timestamp())
		b.WriteByte('\n')
	}
	return b.String()
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// plain quotes a field only when it would otherwise break the row.
func plain(s string) string {
	if strings.ContainsAny(s, ",\"\r\n") {
		return quote(s)
	}
	return s
}
