package app

import (
	"sort"
	"strings"

	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/store"
)

// filterRecords keeps records whose customer name or service type contains
// the query, case-insensitively. An empty query keeps everything.
func filterRecords(records []store.Record, query string) []store.Record {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return records
	}
	out := make([]store.Record, 0, len(records))
	for _, rec := range records {
		if strings.Contains(strings.ToLower(rec.CustomerName), query) ||
			strings.Contains(strings.ToLower(rec.ServiceType), query) {
			out = append(out, rec)
		}
	}
	return out
}

// sortRecords orders cancelled records after everything else, then by intake
// date descending. Dates are YYYY-MM-DD so string comparison is fine.
func sortRecords(records []store.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		iCancelled := records[i].Status == store.StatusCancelled
		jCancelled := records[j].Status == store.StatusCancelled
		if iCancelled != jCancelled {
			return !iCancelled
		}
		return records[i].Date > records[j].Date
	})
}
