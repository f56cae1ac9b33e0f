package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"

	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate *template.Template

func init() {
	content, err := templateFS.ReadFile("templates/report.html")
	if err != nil {
		panic("export: missing report template: " + err.Error())
	}
	reportTemplate = template.Must(template.New("report").Parse(string(content)))
}

// ReportData feeds the printable workload report.
type ReportData struct {
	GeneratedAt time.Time
	ClerkName   string
	Total       int
	Pending     int
	InProgress  int
	Completed   int
	Cancelled   int
	Summary     string
	Records     []ReportRow
}

// ReportRow is one record line in the report table.
type ReportRow struct {
	Date         string
	CustomerName string
	ServiceType  string
	Documents    string
	ReturnDate   string
	Status       string
	Note         string
}

// PDFReport renders the workload report for the given records and converts
// it to PDF with headless Chrome.
func PDFReport(records []store.Record, counts map[string]int, summary, clerkName string) (*Result, error) {
	data := ReportData{
		GeneratedAt: time.Now(),
		ClerkName:   clerkName,
		Total:       len(records),
		Pending:     counts[store.StatusPending],
		InProgress:  counts[store.StatusProcessing],
		Completed:   counts[store.StatusCompleted],
		Cancelled:   counts[store.StatusCancelled],
		Summary:     summary,
	}
	for _, rec := range records {
		data.Records = append(data.Records, ReportRow{
			Date:         rec.Date,
			CustomerName: rec.CustomerName,
			ServiceType:  rec.ServiceType,
			Documents:    strings.Join(rec.ProvidedDocuments, ", "),
			ReturnDate:   rec.ReturnDate,
			Status:       rec.Status,
			Note:         rec.Note,
		})
	}

	html, err := renderReportHTML(data)
	if err != nil {
		return nil, err
	}
	return renderPDF(html, "bao_cao_ho_so_"+time.Now().Format("2006-01-02"))
}

func renderReportHTML(data ReportData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
