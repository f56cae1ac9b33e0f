package search

// RecordDoc is the slice of a record we index for searching.
type RecordDoc struct {
	ID           string `json:"id"`
	CustomerName string `json:"customerName"`
	ServiceType  string `json:"serviceType"`
	Date         string `json:"date"`
	Status       string `json:"status"`
}

// Query describes a record search request.
type Query struct {
	Text  string
	Limit int
}

// Searcher can resolve a query to matching record ids.
type Searcher interface {
	Search(q Query) ([]string, error)
	Healthy() bool
}
