package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/assist"
	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/auth"
	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/backup"
	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/config"
	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/export"
	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/notify"
	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/search"
	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/session"
	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/store"
	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/util"
)

// Session is the authenticated clerk context attached to a request.
type Session struct {
	Token        string
	RefreshToken string
	ClerkName    string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error
	ListRecords(ctx context.Context) ([]store.Record, error)
	GetRecord(ctx context.Context, id string) (store.Record, error)
	InsertRecord(ctx context.Context, record store.Record) error
	UpdateRecord(ctx context.Context, record store.Record) error
	UpdateRecordStatus(ctx context.Context, id, status string) error
	DeleteRecord(ctx context.Context, id string) error
	ReplaceRecords(ctx context.Context, records []store.Record) error
	ListServices(ctx context.Context) ([]store.ServiceEntry, error)
	GetService(ctx context.Context, id string) (store.ServiceEntry, error)
	GetServiceByName(ctx context.Context, name string) (store.ServiceEntry, error)
	UpsertService(ctx context.Context, entry store.ServiceEntry) error
	ListDocCatalogs(ctx context.Context) ([]store.DocCatalog, error)
	GetDocCatalog(ctx context.Context, serviceID string) (store.DocCatalog, error)
	SetDocCatalog(ctx context.Context, serviceID string, documents []string) error
	StatusCounts(ctx context.Context) (map[string]int, error)
}

type sessionStore interface {
	Save(ctx context.Context, tokenHash, clerkName string, expiresAt time.Time) error
	Lookup(ctx context.Context, tokenHash string) (string, error)
	Revoke(ctx context.Context, tokenHash string) error
}

type assistClient interface {
	Configured() bool
	Summarize(ctx context.Context, records []assist.RecordBrief) (string, error)
	SuggestDocuments(ctx context.Context, serviceName string) ([]string, error)
}

type recordSearcher interface {
	Search(q search.Query) ([]string, error)
	IndexRecord(doc search.RecordDoc)
	DeleteRecord(id string)
	ReindexAll(docs []search.RecordDoc)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	feed      *notify.Feed
	searcher  recordSearcher
	assist    assistClient
	backups   *backup.Service
	clerkHash string
}

// NewService wires the domain service. feed is required; sessions, searcher,
// assist and backups may be nil and the affected features degrade.
func NewService(cfg config.Config, st dataStore, sessions sessionStore, feed *notify.Feed, searcher recordSearcher, assistClient assistClient, backups *backup.Service) (*Service, error) {
	s := &Service{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		feed:     feed,
		searcher: searcher,
		assist:   assistClient,
		backups:  backups,
	}
	if cfg.ClerkPassword != "" {
		hash, err := auth.HashPassword(cfg.ClerkPassword)
		if err != nil {
			return nil, fmt.Errorf("hash clerk password: %w", err)
		}
		s.clerkHash = hash
	}
	return s, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// defaultServices are the six fixed offerings seeded on first boot.
var defaultServices = []store.ServiceEntry{
	{ID: "1", Name: "Đăng ký Khai sinh", Icon: "👶", Color: "bg-blue-600"},
	{ID: "2", Name: "Cấp đổi Hộ chiếu", Icon: "✈️", Color: "bg-indigo-600"},
	{ID: "3", Name: "Đăng ký Kết hôn", Icon: "💍", Color: "bg-pink-600"},
	{ID: "4", Name: "Xác nhận Cư trú", Icon: "🏠", Color: "bg-emerald-600"},
	{ID: "5", Name: "Thừa kế - Di chúc", Icon: "📜", Color: "bg-amber-600"},
	{ID: "6", Name: "Lý lịch tư pháp", Icon: "⚖️", Color: "bg-slate-600"},
}

// Bootstrap seeds the default services when the table is empty and warms the
// search index. Seeding is per-id idempotent, so racing instances are safe.
func (s *Service) Bootstrap(ctx context.Context) error {
	services, err := s.store.ListServices(ctx)
	if err != nil {
		return fmt.Errorf("list services: %w", err)
	}
	if len(services) == 0 {
		for _, entry := range defaultServices {
			if err := s.store.UpsertService(ctx, entry); err != nil {
				return fmt.Errorf("seed service %s: %w", entry.Name, err)
			}
		}
		log.Printf("bootstrap: seeded %d default services", len(defaultServices))
	}

	if s.searcher != nil {
		records, err := s.store.ListRecords(ctx)
		if err != nil {
			return fmt.Errorf("list records for index warmup: %w", err)
		}
		s.searcher.ReindexAll(searchDocs(records))
	}
	return nil
}

// ---------------- Sessions ----------------

// Login checks the shared clerk credentials and issues a token pair. With no
// password configured the office runs in open dev mode and any password is
// accepted.
func (s *Service) Login(ctx context.Context, name, password string) (Session, error) {
	if strings.TrimSpace(name) == "" || name != s.cfg.ClerkName {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Sai tên đăng nhập hoặc mật khẩu", nil)
	}
	if s.clerkHash != "" && !auth.CheckPassword(s.clerkHash, password) {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Sai tên đăng nhập hoặc mật khẩu", nil)
	}
	return s.issueSession(ctx, name)
}

func (s *Service) issueSession(ctx context.Context, name string) (Session, error) {
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Name: name,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue access token: %w", err)
	}

	refreshToken := util.NewID("rt")
	if s.sessions != nil {
		refreshExpiry := time.Now().Add(s.cfg.RefreshTTL)
		if err := s.sessions.Save(ctx, auth.HashToken(refreshToken), name, refreshExpiry); err != nil {
			return Session{}, fmt.Errorf("save refresh session: %w", err)
		}
	}

	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		ClerkName:    name,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// Refresh rotates a refresh token into a fresh session pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if s.sessions == nil {
		return Session{}, domainError(http.StatusServiceUnavailable, "SESSIONS_UNAVAILABLE", "Session store not configured", nil)
	}
	hash := auth.HashToken(refreshToken)
	name, err := s.sessions.Lookup(ctx, hash)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
		}
		return Session{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	if err := s.sessions.Revoke(ctx, hash); err != nil {
		return Session{}, fmt.Errorf("revoke refresh session: %w", err)
	}
	return s.issueSession(ctx, name)
}

// Logout revokes the presented refresh token; unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if s.sessions == nil || refreshToken == "" {
		return nil
	}
	return s.sessions.Revoke(ctx, auth.HashToken(refreshToken))
}

// SessionFromToken validates a bearer token into a session context.
func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		ClerkName: claims.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// ---------------- Records ----------------

// RecordView is a record enriched with the derived list-view fields.
type RecordView struct {
	store.Record
	Completeness Completeness `json:"completeness"`
	Deadline     *Deadline    `json:"deadline"`
}

// ListRecords returns the filtered, sorted list view. The in-memory
// substring filter is authoritative; when Meilisearch is reachable its
// matches are added on top so typo-tolerant hits still show.
func (s *Service) ListRecords(ctx context.Context, query string) ([]RecordView, error) {
	records, err := s.store.ListRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	filtered := filterRecords(records, query)
	if query != "" && s.searcher != nil {
		filtered = s.addSearchMatches(records, filtered, query)
	}
	sortRecords(filtered)

	catalogDocs, err := s.catalogByServiceName(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	views := make([]RecordView, 0, len(filtered))
	for _, rec := range filtered {
		views = append(views, RecordView{
			Record:       rec,
			Completeness: ClassifyCompleteness(rec.ProvidedDocuments, catalogDocs[rec.ServiceType]),
			Deadline:     ComputeDeadline(rec.ReturnDate, now),
		})
	}
	return views, nil
}

func (s *Service) addSearchMatches(all, filtered []store.Record, query string) []store.Record {
	ids, err := s.searcher.Search(search.Query{Text: query})
	if err != nil {
		log.Printf("records: search backend error: %v", err)
		return filtered
	}
	if len(ids) == 0 {
		return filtered
	}
	seen := make(map[string]struct{}, len(filtered))
	for _, rec := range filtered {
		seen[rec.ID] = struct{}{}
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	for _, rec := range all {
		if _, hit := wanted[rec.ID]; !hit {
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		filtered = append(filtered, rec)
	}
	return filtered
}

// catalogByServiceName resolves id-keyed catalogs to the display names that
// records carry.
func (s *Service) catalogByServiceName(ctx context.Context) (map[string][]string, error) {
	services, err := s.store.ListServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	catalogs, err := s.store.ListDocCatalogs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list catalogs: %w", err)
	}
	byID := make(map[string][]string, len(catalogs))
	for _, cat := range catalogs {
		byID[cat.ServiceID] = cat.Documents
	}
	byName := make(map[string][]string, len(services))
	for _, svc := range services {
		if docs, ok := byID[svc.ID]; ok {
			byName[svc.Name] = docs
		}
	}
	return byName, nil
}

// RecordInput is the client payload for create and full update.
type RecordInput struct {
	Date              string   `json:"date"`
	CustomerName      string   `json:"customerName"`
	ServiceType       string   `json:"serviceType"`
	ProvidedDocuments []string `json:"providedDocuments"`
	DocumentLink      string   `json:"documentLink"`
	ReturnDate        string   `json:"returnDate"`
	Status            string   `json:"status"`
	Note              string   `json:"note"`
}

func (in RecordInput) validate() error {
	if strings.TrimSpace(in.CustomerName) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "customerName is required", nil)
	}
	if strings.TrimSpace(in.ServiceType) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "serviceType is required", nil)
	}
	if in.Status != "" && !validStatus(in.Status) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown status", map[string]any{"status": in.Status})
	}
	return nil
}

func validStatus(status string) bool {
	switch status {
	case store.StatusPending, store.StatusProcessing, store.StatusCompleted, store.StatusCancelled:
		return true
	}
	return false
}

func (in RecordInput) toRecord(id string) store.Record {
	docs := make([]string, 0, len(in.ProvidedDocuments))
	for _, doc := range in.ProvidedDocuments {
		if doc = strings.TrimSpace(doc); doc != "" {
			docs = append(docs, doc)
		}
	}
	status := in.Status
	if status == "" {
		status = store.StatusPending
	}
	date := in.Date
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	return store.Record{
		ID:                id,
		Date:              date,
		CustomerName:      strings.TrimSpace(in.CustomerName),
		ServiceType:       strings.TrimSpace(in.ServiceType),
		ProvidedDocuments: docs,
		DocumentLink:      strings.TrimSpace(in.DocumentLink),
		ReturnDate:        strings.TrimSpace(in.ReturnDate),
		Status:            status,
		Note:              in.Note,
	}
}

func (s *Service) CreateRecord(ctx context.Context, in RecordInput) (store.Record, error) {
	if err := in.validate(); err != nil {
		return store.Record{}, err
	}
	record := in.toRecord(util.NewID("rec"))
	if err := s.store.InsertRecord(ctx, record); err != nil {
		return store.Record{}, fmt.Errorf("insert record: %w", err)
	}
	s.indexRecord(record)
	s.publishRecords(ctx)
	return record, nil
}

// UpdateRecord overwrites every non-id field of an existing record.
func (s *Service) UpdateRecord(ctx context.Context, id string, in RecordInput) (store.Record, error) {
	if err := in.validate(); err != nil {
		return store.Record{}, err
	}
	if _, err := s.store.GetRecord(ctx, id); err != nil {
		return store.Record{}, err
	}
	record := in.toRecord(id)
	if err := s.store.UpdateRecord(ctx, record); err != nil {
		return store.Record{}, err
	}
	s.indexRecord(record)
	s.publishRecords(ctx)
	return record, nil
}

func (s *Service) UpdateRecordStatus(ctx context.Context, id, status string) error {
	if !validStatus(status) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown status", map[string]any{"status": status})
	}
	if err := s.store.UpdateRecordStatus(ctx, id, status); err != nil {
		return err
	}
	if record, err := s.store.GetRecord(ctx, id); err == nil {
		s.indexRecord(record)
	}
	s.publishRecords(ctx)
	return nil
}

// DeleteRecord is pessimistic: the store delete is acknowledged before the
// change feed publishes.
func (s *Service) DeleteRecord(ctx context.Context, id string) error {
	if err := s.store.DeleteRecord(ctx, id); err != nil {
		return err
	}
	if s.searcher != nil {
		s.searcher.DeleteRecord(id)
	}
	s.publishRecords(ctx)
	return nil
}

func (s *Service) indexRecord(record store.Record) {
	if s.searcher == nil {
		return
	}
	s.searcher.IndexRecord(search.RecordDoc{
		ID:           record.ID,
		CustomerName: record.CustomerName,
		ServiceType:  record.ServiceType,
		Date:         record.Date,
		Status:       record.Status,
	})
}

func searchDocs(records []store.Record) []search.RecordDoc {
	docs := make([]search.RecordDoc, 0, len(records))
	for _, rec := range records {
		docs = append(docs, search.RecordDoc{
			ID:           rec.ID,
			CustomerName: rec.CustomerName,
			ServiceType:  rec.ServiceType,
			Date:         rec.Date,
			Status:       rec.Status,
		})
	}
	return docs
}

// ---------------- Services ----------------

func (s *Service) ListServices(ctx context.Context) ([]store.ServiceEntry, error) {
	return s.store.ListServices(ctx)
}

// CreateService adds a new offering with the fixed sparkle accent. The
// accent is deterministic, not random, so every client renders the same.
func (s *Service) CreateService(ctx context.Context, name string) (store.ServiceEntry, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.ServiceEntry{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if _, err := s.store.GetServiceByName(ctx, name); err == nil {
		return store.ServiceEntry{}, domainError(http.StatusConflict, "SERVICE_EXISTS", "Dịch vụ đã tồn tại", nil)
	}
	entry := store.ServiceEntry{
		ID:    util.NewID("svc"),
		Name:  name,
		Icon:  "✨",
		Color: "bg-indigo-500",
	}
	if err := s.store.UpsertService(ctx, entry); err != nil {
		return store.ServiceEntry{}, fmt.Errorf("insert service: %w", err)
	}
	s.publishServices(ctx)
	return entry, nil
}

// ---------------- Document catalogs ----------------

// CatalogView pairs the id-keyed checklist with the display name.
type CatalogView struct {
	ServiceID   string   `json:"serviceId"`
	ServiceName string   `json:"serviceName"`
	Documents   []string `json:"documents"`
}

func (s *Service) ListCatalogs(ctx context.Context) ([]CatalogView, error) {
	services, err := s.store.ListServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	catalogs, err := s.store.ListDocCatalogs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list catalogs: %w", err)
	}
	byID := make(map[string][]string, len(catalogs))
	for _, cat := range catalogs {
		byID[cat.ServiceID] = cat.Documents
	}
	views := make([]CatalogView, 0, len(services))
	for _, svc := range services {
		docs := byID[svc.ID]
		if docs == nil {
			docs = []string{}
		}
		views = append(views, CatalogView{ServiceID: svc.ID, ServiceName: svc.Name, Documents: docs})
	}
	return views, nil
}

// SetCatalog overwrites the full checklist for a service.
func (s *Service) SetCatalog(ctx context.Context, serviceID string, documents []string) error {
	if _, err := s.store.GetService(ctx, serviceID); err != nil {
		return err
	}
	cleaned := make([]string, 0, len(documents))
	for _, doc := range documents {
		if doc = strings.TrimSpace(doc); doc != "" {
			cleaned = append(cleaned, doc)
		}
	}
	if err := s.store.SetDocCatalog(ctx, serviceID, cleaned); err != nil {
		return err
	}
	s.publishCatalogs(ctx)
	return nil
}

// AddCatalogDocument appends one name if absent; duplicates are no-ops.
func (s *Service) AddCatalogDocument(ctx context.Context, serviceID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if _, err := s.store.GetService(ctx, serviceID); err != nil {
		return err
	}
	catalog, err := s.catalogOrEmpty(ctx, serviceID)
	if err != nil {
		return err
	}
	for _, existing := range catalog.Documents {
		if existing == name {
			return nil
		}
	}
	docs := append(catalog.Documents, name)
	if err := s.store.SetDocCatalog(ctx, serviceID, docs); err != nil {
		return err
	}
	s.publishCatalogs(ctx)
	return nil
}

// RemoveCatalogDocument removes one name; absent names are no-ops.
func (s *Service) RemoveCatalogDocument(ctx context.Context, serviceID, name string) error {
	catalog, err := s.catalogOrEmpty(ctx, serviceID)
	if err != nil {
		return err
	}
	docs := make([]string, 0, len(catalog.Documents))
	removed := false
	for _, existing := range catalog.Documents {
		if existing == name {
			removed = true
			continue
		}
		docs = append(docs, existing)
	}
	if !removed {
		return nil
	}
	if err := s.store.SetDocCatalog(ctx, serviceID, docs); err != nil {
		return err
	}
	s.publishCatalogs(ctx)
	return nil
}

// SuggestCatalogDocuments asks the assistant for the papers a service
// usually requires and merges them into the checklist as an ordered,
// case-sensitive union. Any assistant failure yields an empty suggestion
// list and leaves the catalog untouched.
func (s *Service) SuggestCatalogDocuments(ctx context.Context, serviceID string) ([]string, error) {
	service, err := s.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if s.assist == nil || !s.assist.Configured() {
		return []string{}, nil
	}

	suggested, err := s.assist.SuggestDocuments(ctx, service.Name)
	if err != nil {
		log.Printf("catalog: suggestion failed for %s: %v", service.Name, err)
		return []string{}, nil
	}
	if len(suggested) == 0 {
		return []string{}, nil
	}

	catalog, err := s.catalogOrEmpty(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	merged := mergeDocuments(catalog.Documents, suggested)
	if err := s.store.SetDocCatalog(ctx, serviceID, merged); err != nil {
		return nil, err
	}
	s.publishCatalogs(ctx)
	return suggested, nil
}

// catalogOrEmpty treats a service without a stored checklist as an empty
// one, since the first manual add or suggestion merge creates the row.
func (s *Service) catalogOrEmpty(ctx context.Context, serviceID string) (store.DocCatalog, error) {
	catalog, err := s.store.GetDocCatalog(ctx, serviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DocCatalog{ServiceID: serviceID, Documents: []string{}}, nil
	}
	return catalog, err
}

// mergeDocuments unions two ordered lists, case-sensitively, existing first.
func mergeDocuments(existing, suggested []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(suggested))
	merged := make([]string, 0, len(existing)+len(suggested))
	for _, doc := range existing {
		if _, dup := seen[doc]; dup {
			continue
		}
		seen[doc] = struct{}{}
		merged = append(merged, doc)
	}
	for _, doc := range suggested {
		if _, dup := seen[doc]; dup {
			continue
		}
		seen[doc] = struct{}{}
		merged = append(merged, doc)
	}
	return merged
}

// ---------------- Stats ----------------

// ChartSlice is one wedge of the dashboard status chart.
type ChartSlice struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
	Color string `json:"color"`
}

// Stats is the dashboard payload.
type Stats struct {
	Total      int            `json:"total"`
	Pending    int            `json:"pending"`
	Processing int            `json:"processing"`
	Completed  int            `json:"completed"`
	Cancelled  int            `json:"cancelled"`
	Chart      []ChartSlice   `json:"chart"`
	Recent     []store.Record `json:"recent"`
}

var chartColors = []struct {
	status string
	color  string
}{
	{store.StatusPending, "#f59e0b"},
	{store.StatusProcessing, "#3b82f6"},
	{store.StatusCompleted, "#10b981"},
	{store.StatusCancelled, "#6b7280"},
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	counts, err := s.store.StatusCounts(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("status counts: %w", err)
	}

	stats := Stats{
		Pending:    counts[store.StatusPending],
		Processing: counts[store.StatusProcessing],
		Completed:  counts[store.StatusCompleted],
		Cancelled:  counts[store.StatusCancelled],
	}
	stats.Total = stats.Pending + stats.Processing + stats.Completed + stats.Cancelled

	for _, slice := range chartColors {
		if counts[slice.status] == 0 {
			continue
		}
		stats.Chart = append(stats.Chart, ChartSlice{Name: slice.status, Value: counts[slice.status], Color: slice.color})
	}

	records, err := s.store.ListRecords(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list records: %w", err)
	}
	recent := records
	if len(recent) > 8 {
		recent = recent[:8]
	}
	// Store order is newest first; the dashboard shows oldest first.
	stats.Recent = make([]store.Record, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		stats.Recent = append(stats.Recent, recent[i])
	}
	return stats, nil
}

// ---------------- Export / restore / backup ----------------

// filteredForExport reuses the list-view filter and sort so exports match
// what the clerk sees.
func (s *Service) filteredForExport(ctx context.Context, query string) ([]store.Record, error) {
	records, err := s.store.ListRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	filtered := filterRecords(records, query)
	sortRecords(filtered)
	return filtered, nil
}

func (s *Service) ExportCSV(ctx context.Context, query string) (*export.Result, error) {
	records, err := s.filteredForExport(ctx, query)
	if err != nil {
		return nil, err
	}
	return export.CSV(records), nil
}

func (s *Service) ExportJSON(ctx context.Context, query string) (*export.Result, error) {
	records, err := s.filteredForExport(ctx, query)
	if err != nil {
		return nil, err
	}
	return export.JSON(records)
}

func (s *Service) ExportPDF(ctx context.Context, clerkName string) (*export.Result, error) {
	records, err := s.filteredForExport(ctx, "")
	if err != nil {
		return nil, err
	}
	counts, err := s.store.StatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	summary := ""
	if s.assist != nil && s.assist.Configured() {
		if text, err := s.assist.Summarize(ctx, recordBriefs(records)); err == nil {
			summary = text
		}
	}
	return export.PDFReport(records, counts, summary, clerkName)
}

// Restore replaces the entire record set transactionally, then republishes
// and reindexes. The payload has already been decoded and confirmed.
func (s *Service) Restore(ctx context.Context, records []store.Record) error {
	for i := range records {
		if records[i].ID == "" {
			records[i].ID = util.NewID("rec")
		}
		if records[i].Status == "" {
			records[i].Status = store.StatusPending
		}
	}
	if err := s.store.ReplaceRecords(ctx, records); err != nil {
		return fmt.Errorf("replace records: %w", err)
	}
	if s.searcher != nil {
		s.searcher.ReindexAll(searchDocs(records))
	}
	s.publishRecords(ctx)
	return nil
}

// CreateBackup snapshots the whole datastore into the backup archive.
func (s *Service) CreateBackup(ctx context.Context, author, message string) (backup.Info, error) {
	if s.backups == nil {
		return backup.Info{}, domainError(http.StatusServiceUnavailable, "BACKUPS_UNAVAILABLE", "Backup archive not configured", nil)
	}
	records, err := s.store.ListRecords(ctx)
	if err != nil {
		return backup.Info{}, fmt.Errorf("list records: %w", err)
	}
	services, err := s.store.ListServices(ctx)
	if err != nil {
		return backup.Info{}, fmt.Errorf("list services: %w", err)
	}
	catalogs, err := s.store.ListDocCatalogs(ctx)
	if err != nil {
		return backup.Info{}, fmt.Errorf("list catalogs: %w", err)
	}
	if message == "" {
		message = "Sao lưu dữ liệu"
	}
	return s.backups.Create(backup.Snapshot{Records: records, Services: services, Catalogs: catalogs}, author, message)
}

func (s *Service) ListBackups(ctx context.Context, limit int) ([]backup.Info, error) {
	if s.backups == nil {
		return nil, domainError(http.StatusServiceUnavailable, "BACKUPS_UNAVAILABLE", "Backup archive not configured", nil)
	}
	return s.backups.List(limit)
}

// ---------------- AI summary ----------------

func recordBriefs(records []store.Record) []assist.RecordBrief {
	briefs := make([]assist.RecordBrief, 0, len(records))
	for _, rec := range records {
		briefs = append(briefs, assist.RecordBrief{
			Date:         rec.Date,
			CustomerName: rec.CustomerName,
			ServiceType:  rec.ServiceType,
			ReturnDate:   rec.ReturnDate,
			Status:       rec.Status,
		})
	}
	return briefs
}

// Summarize returns the assistant's workload digest, or the fixed fallback
// with ok=false when the assistant is unreachable or unconfigured.
func (s *Service) Summarize(ctx context.Context) (text string, ok bool) {
	if s.assist == nil || !s.assist.Configured() {
		return assist.FallbackSummary, false
	}
	records, err := s.store.ListRecords(ctx)
	if err != nil {
		log.Printf("summary: list records: %v", err)
		return assist.FallbackSummary, false
	}
	text, err = s.assist.Summarize(ctx, recordBriefs(records))
	if err != nil {
		log.Printf("summary: assistant call failed: %v", err)
		return assist.FallbackSummary, false
	}
	return text, true
}

// ---------------- Change feed ----------------

// SnapshotJSON marshals the current full state of one collection. Used for
// the initial SSE burst and after every write.
func (s *Service) SnapshotJSON(ctx context.Context, collection string) (json.RawMessage, error) {
	switch collection {
	case notify.CollectionRecords:
		records, err := s.store.ListRecords(ctx)
		if err != nil {
			return nil, err
		}
		if records == nil {
			records = []store.Record{}
		}
		return json.Marshal(records)
	case notify.CollectionServices:
		services, err := s.store.ListServices(ctx)
		if err != nil {
			return nil, err
		}
		if services == nil {
			services = []store.ServiceEntry{}
		}
		return json.Marshal(services)
	case notify.CollectionCatalogs:
		catalogs, err := s.ListCatalogs(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(catalogs)
	}
	return nil, fmt.Errorf("unknown collection %q", collection)
}

func (s *Service) Feed() *notify.Feed {
	return s.feed
}

func (s *Service) publishRecords(ctx context.Context)  { s.publish(ctx, notify.CollectionRecords) }
func (s *Service) publishServices(ctx context.Context) { s.publish(ctx, notify.CollectionServices) }
func (s *Service) publishCatalogs(ctx context.Context) { s.publish(ctx, notify.CollectionCatalogs) }

func (s *Service) publish(ctx context.Context, collection string) {
	if s.feed == nil {
		return
	}
	snapshot, err := s.SnapshotJSON(ctx, collection)
	if err != nil {
		log.Printf("feed: snapshot %s: %v", collection, err)
		return
	}
	s.feed.Publish(ctx, collection, snapshot)
}
