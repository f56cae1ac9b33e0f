package store

import "time"

// Record statuses are stored with their Vietnamese display values, matching
// the labels the office works with.
const (
	StatusPending    = "Chờ xử lý"
	StatusProcessing = "Đang xử lý"
	StatusCompleted  = "Đã hoàn thành"
	StatusCancelled  = "Đã hủy"
)

// Record is one customer's service request. The JSON shape doubles as the
// API payload, the export format and the restore format.
type Record struct {
	ID                string    `json:"id"`
	Date              string    `json:"date"` // intake date, YYYY-MM-DD
	CustomerName      string    `json:"customerName"`
	ServiceType       string    `json:"serviceType"`
	ProvidedDocuments []string  `json:"providedDocuments"`
	DocumentLink      string    `json:"documentLink,omitempty"`
	ReturnDate        string    `json:"returnDate,omitempty"` // YYYY-MM-DD
	Status            string    `json:"status"`
	Note              string    `json:"note,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// ServiceEntry is a government service the office offers.
type ServiceEntry struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Icon      string    `json:"icon"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"createdAt"`
}

// DocCatalog is the ordered list of documents a service requires. It is
// keyed by the stable service id, not the display name, so renaming a
// service cannot orphan its checklist.
type DocCatalog struct {
	ServiceID string    `json:"serviceId"`
	Documents []string  `json:"documents"`
	UpdatedAt time.Time `json:"updatedAt"`
}
