package search

import "log"

// Service is the facade that tries Meilisearch first and falls back to a
// PostgreSQL ILIKE scan.
type Service struct {
	meili  *Meili
	pglike *PgLike
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pglike *PgLike) *Service {
	return &Service{meili: meili, pglike: pglike}
}

// Search resolves the query to record ids, Meilisearch first.
func (s *Service) Search(q Query) ([]string, error) {
	if s.meili != nil && s.meili.Healthy() {
		ids, err := s.meili.Search(q)
		if err == nil {
			return ids, nil
		}
		log.Printf("search: meilisearch error, falling back to pglike: %v", err)
	}
	return s.pglike.Search(q)
}

// IndexRecord indexes one record (fire-and-forget to Meilisearch).
func (s *Service) IndexRecord(doc RecordDoc) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexRecord(doc); err != nil {
			log.Printf("search: index record %s: %v", doc.ID, err)
		}
	}()
}

// DeleteRecord removes a record from the index (fire-and-forget).
func (s *Service) DeleteRecord(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteRecord(id); err != nil {
			log.Printf("search: delete record %s: %v", id, err)
		}
	}()
}

// ReindexAll upserts the given records into the index; called on bootstrap
// and after a restore. Entries for records that no longer exist may linger,
// which is fine: hits are resolved against the live record set at query time.
func (s *Service) ReindexAll(docs []RecordDoc) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexRecords(docs); err != nil {
			log.Printf("search: reindex records: %v", err)
		}
	}()
}
