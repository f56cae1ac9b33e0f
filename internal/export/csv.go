package export

import (
	"strings"
	"time"

	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/store"
)

// csvHeader matches the column order clerks expect when opening the file in
// a Vietnamese-locale spreadsheet.
var csvHeader = []string{"Ngày nhận", "Khách hàng", "Dịch vụ", "Giấy tờ", "Hẹn trả", "Trạng thái", "Ghi chú"}

// CSV renders records as a spreadsheet-friendly CSV file. The output starts
// with a UTF-8 BOM so Excel detects the encoding, and every field is quoted
// with internal quotes doubled.
func CSV(records []store.Record) *Result {
	var b strings.Builder
	b.WriteString("\uFEFF")
	writeCSVRow(&b, csvHeader)
	for _, rec := range records {
		writeCSVRow(&b, []string{
			rec.Date,
			rec.CustomerName,
			rec.ServiceType,
			strings.Join(rec.ProvidedDocuments, ", "),
			rec.ReturnDate,
			rec.Status,
			rec.Note,
		})
	}
	return &Result{
		Data:     []byte(b.String()),
		Filename: "ho_so_" + time.Now().Format("2006-01-02") + ".csv",
		MimeType: "text/csv; charset=utf-8",
	}
}

func writeCSVRow(b *strings.Builder, fields []string) {
	for i, field := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(field, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
}
