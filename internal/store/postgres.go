package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const recordColumns = `id, date, customer_name, service_type, provided_documents, document_link, return_date, status, note, created_at, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var record Record
	var docsRaw []byte
	err := row.Scan(
		&record.ID,
		&record.Date,
		&record.CustomerName,
		&record.ServiceType,
		&docsRaw,
		&record.DocumentLink,
		&record.ReturnDate,
		&record.Status,
		&record.Note,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	if len(docsRaw) > 0 {
		if err := json.Unmarshal(docsRaw, &record.ProvidedDocuments); err != nil {
			return Record{}, fmt.Errorf("decode provided documents for %s: %w", record.ID, err)
		}
	}
	if record.ProvidedDocuments == nil {
		record.ProvidedDocuments = []string{}
	}
	return record, nil
}

func marshalDocs(docs []string) ([]byte, error) {
	if docs == nil {
		docs = []string{}
	}
	raw, err := json.Marshal(docs)
	if err != nil {
		return nil, fmt.Errorf("encode documents: %w", err)
	}
	return raw, nil
}

// ListRecords returns every record ordered by intake date descending; ties
// fall back to insertion recency.
func (s *PostgresStore) ListRecords(ctx context.Context) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records ORDER BY date DESC, created_at DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// SearchRecords is the ILIKE fallback used when Meilisearch is absent:
// case-insensitive substring match over customer name or service type.
func (s *PostgresStore) SearchRecords(ctx context.Context, q string) ([]Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM records
		WHERE customer_name ILIKE '%' || $1 || '%' OR service_type ILIKE '%' || $1 || '%'
		ORDER BY date DESC, created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, q)
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE id=$1`
	return scanRecord(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) InsertRecord(ctx context.Context, record Record) error {
	docsRaw, err := marshalDocs(record.ProvidedDocuments)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (id, date, customer_name, service_type, provided_documents, document_link, return_date, status, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, record.ID, record.Date, record.CustomerName, record.ServiceType, docsRaw, record.DocumentLink, record.ReturnDate, record.Status, record.Note)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// UpdateRecord overwrites every non-id field of an existing record.
func (s *PostgresStore) UpdateRecord(ctx context.Context, record Record) error {
	docsRaw, err := marshalDocs(record.ProvidedDocuments)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE records
		SET date=$2, customer_name=$3, service_type=$4, provided_documents=$5,
		    document_link=$6, return_date=$7, status=$8, note=$9, updated_at=NOW()
		WHERE id=$1
	`, record.ID, record.Date, record.CustomerName, record.ServiceType, docsRaw, record.DocumentLink, record.ReturnDate, record.Status, record.Note)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateRecordStatus(ctx context.Context, id, status string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE records SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return fmt.Errorf("update record status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record status: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteRecord(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ReplaceRecords swaps the entire record set for the given one inside a
// single transaction. Used by backup restore.
func (s *PostgresStore) ReplaceRecords(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	for _, record := range records {
		docsRaw, err := marshalDocs(record.ProvidedDocuments)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO records (id, date, customer_name, service_type, provided_documents, document_link, return_date, status, note)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, record.ID, record.Date, record.CustomerName, record.ServiceType, docsRaw, record.DocumentLink, record.ReturnDate, record.Status, record.Note); err != nil {
			return fmt.Errorf("insert restored record %s: %w", record.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListServices(ctx context.Context) ([]ServiceEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, icon, color, created_at FROM services ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	services := []ServiceEntry{}
	for rows.Next() {
		var entry ServiceEntry
		if err := rows.Scan(&entry.ID, &entry.Name, &entry.Icon, &entry.Color, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		services = append(services, entry)
	}
	return services, rows.Err()
}

func (s *PostgresStore) GetService(ctx context.Context, id string) (ServiceEntry, error) {
	var entry ServiceEntry
	err := s.db.QueryRowContext(ctx, `SELECT id, name, icon, color, created_at FROM services WHERE id=$1`, id).
		Scan(&entry.ID, &entry.Name, &entry.Icon, &entry.Color, &entry.CreatedAt)
	if err != nil {
		return ServiceEntry{}, err
	}
	return entry, nil
}

func (s *PostgresStore) GetServiceByName(ctx context.Context, name string) (ServiceEntry, error) {
	var entry ServiceEntry
	err := s.db.QueryRowContext(ctx, `SELECT id, name, icon, color, created_at FROM services WHERE name=$1`, name).
		Scan(&entry.ID, &entry.Name, &entry.Icon, &entry.Color, &entry.CreatedAt)
	if err != nil {
		return ServiceEntry{}, err
	}
	return entry, nil
}

// UpsertService inserts a service, leaving any existing row with the same id
// untouched. Seeding races between instances are therefore harmless.
func (s *PostgresStore) UpsertService(ctx context.Context, entry ServiceEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO services (id, name, icon, color)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, entry.ID, entry.Name, entry.Icon, entry.Color)
	if err != nil {
		return fmt.Errorf("upsert service: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDocCatalogs(ctx context.Context) ([]DocCatalog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT service_id, documents, updated_at FROM doc_catalogs`)
	if err != nil {
		return nil, fmt.Errorf("list doc catalogs: %w", err)
	}
	defer rows.Close()

	catalogs := []DocCatalog{}
	for rows.Next() {
		var catalog DocCatalog
		var docsRaw []byte
		if err := rows.Scan(&catalog.ServiceID, &docsRaw, &catalog.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan doc catalog: %w", err)
		}
		if len(docsRaw) > 0 {
			if err := json.Unmarshal(docsRaw, &catalog.Documents); err != nil {
				return nil, fmt.Errorf("decode doc catalog %s: %w", catalog.ServiceID, err)
			}
		}
		if catalog.Documents == nil {
			catalog.Documents = []string{}
		}
		catalogs = append(catalogs, catalog)
	}
	return catalogs, rows.Err()
}

func (s *PostgresStore) GetDocCatalog(ctx context.Context, serviceID string) (DocCatalog, error) {
	var catalog DocCatalog
	var docsRaw []byte
	err := s.db.QueryRowContext(ctx, `SELECT service_id, documents, updated_at FROM doc_catalogs WHERE service_id=$1`, serviceID).
		Scan(&catalog.ServiceID, &docsRaw, &catalog.UpdatedAt)
	if err != nil {
		return DocCatalog{}, err
	}
	if len(docsRaw) > 0 {
		if err := json.Unmarshal(docsRaw, &catalog.Documents); err != nil {
			return DocCatalog{}, fmt.Errorf("decode doc catalog %s: %w", serviceID, err)
		}
	}
	if catalog.Documents == nil {
		catalog.Documents = []string{}
	}
	return catalog, nil
}

// SetDocCatalog overwrites the full document list for a service. Catalog
// writes are whole-list replacements, never merges.
func (s *PostgresStore) SetDocCatalog(ctx context.Context, serviceID string, documents []string) error {
	docsRaw, err := marshalDocs(documents)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO doc_catalogs (service_id, documents, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (service_id) DO UPDATE SET documents=EXCLUDED.documents, updated_at=NOW()
	`, serviceID, docsRaw)
	if err != nil {
		return fmt.Errorf("set doc catalog: %w", err)
	}
	return nil
}

// StatusCounts returns record counts grouped by status.
func (s *PostgresStore) StatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
