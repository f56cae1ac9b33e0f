package app

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/assist"
	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/config"
	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/notify"
	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/store"
)

// fakeStore is an in-memory dataStore for tests.
type fakeStore struct {
	mu       sync.Mutex
	records  []store.Record
	services []store.ServiceEntry
	catalogs map[string][]string
	pingErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{catalogs: map[string][]string{}}
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeStore) ListRecords(ctx context.Context) ([]store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Record, len(f.records))
	copy(out, f.records)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}

func (f *fakeStore) GetRecord(ctx context.Context, id string) (store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return store.Record{}, sql.ErrNoRows
}

func (f *fakeStore) InsertRecord(ctx context.Context, record store.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *fakeStore) UpdateRecord(ctx context.Context, record store.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, rec := range f.records {
		if rec.ID == record.ID {
			f.records[i] = record
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) UpdateRecordStatus(ctx context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, rec := range f.records {
		if rec.ID == id {
			f.records[i].Status = status
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) DeleteRecord(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, rec := range f.records {
		if rec.ID == id {
			f.records = append(f.records[:i], f.records[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) ReplaceRecords(ctx context.Context, records []store.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append([]store.Record(nil), records...)
	return nil
}

func (f *fakeStore) ListServices(ctx context.Context) ([]store.ServiceEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.ServiceEntry(nil), f.services...), nil
}

func (f *fakeStore) GetService(ctx context.Context, id string) (store.ServiceEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, svc := range f.services {
		if svc.ID == id {
			return svc, nil
		}
	}
	return store.ServiceEntry{}, sql.ErrNoRows
}

func (f *fakeStore) GetServiceByName(ctx context.Context, name string) (store.ServiceEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, svc := range f.services {
		if svc.Name == name {
			return svc, nil
		}
	}
	return store.ServiceEntry{}, sql.ErrNoRows
}

func (f *fakeStore) UpsertService(ctx context.Context, entry store.ServiceEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, svc := range f.services {
		if svc.ID == entry.ID {
			return nil
		}
	}
	f.services = append(f.services, entry)
	return nil
}

func (f *fakeStore) ListDocCatalogs(ctx context.Context) ([]store.DocCatalog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.DocCatalog, 0, len(f.catalogs))
	for id, docs := range f.catalogs {
		out = append(out, store.DocCatalog{ServiceID: id, Documents: docs})
	}
	return out, nil
}

func (f *fakeStore) GetDocCatalog(ctx context.Context, serviceID string) (store.DocCatalog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs, ok := f.catalogs[serviceID]
	if !ok {
		return store.DocCatalog{}, sql.ErrNoRows
	}
	return store.DocCatalog{ServiceID: serviceID, Documents: docs}, nil
}

func (f *fakeStore) SetDocCatalog(ctx context.Context, serviceID string, documents []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.catalogs[serviceID] = documents
	return nil
}

func (f *fakeStore) StatusCounts(ctx context.Context) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[string]int{}
	for _, rec := range f.records {
		counts[rec.Status]++
	}
	return counts, nil
}

// fakeAssist scripts the assistant responses.
type fakeAssist struct {
	summary    string
	summaryErr error
	docs       []string
	docsErr    error
}

func (f *fakeAssist) Configured() bool { return true }

func (f *fakeAssist) Summarize(ctx context.Context, records []assist.RecordBrief) (string, error) {
	return f.summary, f.summaryErr
}

func (f *fakeAssist) SuggestDocuments(ctx context.Context, serviceName string) ([]string, error) {
	return f.docs, f.docsErr
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		ClerkName:  "Quản trị viên",
	}
}

func newTestService(t *testing.T, st dataStore, assistClient assistClient) *Service {
	t.Helper()
	feed := notify.New(nil)
	t.Cleanup(feed.Close)
	svc, err := NewService(testConfig(), st, nil, feed, nil, assistClient, nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func TestBootstrapSeedsDefaultsOnce(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(t, st, nil)

	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if len(st.services) != 6 {
		t.Fatalf("seeded %d services, want 6", len(st.services))
	}
	if st.services[0].Name != "Đăng ký Khai sinh" || st.services[0].Icon != "👶" {
		t.Errorf("unexpected first default: %+v", st.services[0])
	}

	// Seeding again must not duplicate or alter entries.
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("second Bootstrap() error = %v", err)
	}
	if len(st.services) != 6 {
		t.Errorf("after reseed: %d services, want 6", len(st.services))
	}
}

func TestBootstrapKeepsExistingServices(t *testing.T) {
	st := newFakeStore()
	st.services = []store.ServiceEntry{{ID: "custom", Name: "Dịch vụ riêng"}}
	svc := newTestService(t, st, nil)

	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if len(st.services) != 1 {
		t.Errorf("non-empty catalog must not be reseeded, got %d services", len(st.services))
	}
}

func TestCreateRecordValidatesAndDefaults(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(t, st, nil)

	if _, err := svc.CreateRecord(context.Background(), RecordInput{ServiceType: "X"}); err == nil {
		t.Error("expected validation error without customerName")
	}
	if _, err := svc.CreateRecord(context.Background(), RecordInput{CustomerName: "An"}); err == nil {
		t.Error("expected validation error without serviceType")
	}
	if _, err := svc.CreateRecord(context.Background(), RecordInput{
		CustomerName: "An", ServiceType: "X", Status: "Sai trạng thái",
	}); err == nil {
		t.Error("expected validation error for unknown status")
	}

	record, err := svc.CreateRecord(context.Background(), RecordInput{
		CustomerName:      "Nguyễn Văn An",
		ServiceType:       "Đăng ký Khai sinh",
		ProvidedDocuments: []string{"Tờ khai", "", "  "},
	})
	if err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}
	if record.ID == "" {
		t.Error("expected assigned id")
	}
	if record.Status != store.StatusPending {
		t.Errorf("default status = %q, want pending", record.Status)
	}
	if len(record.ProvidedDocuments) != 1 {
		t.Errorf("blank documents must be dropped, got %v", record.ProvidedDocuments)
	}
	if record.Date == "" {
		t.Error("expected defaulted intake date")
	}
}

func TestUpdateRecordOverwritesAllFields(t *testing.T) {
	st := newFakeStore()
	st.records = []store.Record{{
		ID: "rec_1", CustomerName: "An", ServiceType: "X",
		Note: "ghi chú cũ", Status: store.StatusProcessing,
	}}
	svc := newTestService(t, st, nil)

	updated, err := svc.UpdateRecord(context.Background(), "rec_1", RecordInput{
		Date:         "2026-08-01",
		CustomerName: "An",
		ServiceType:  "X",
		Status:       store.StatusCompleted,
	})
	if err != nil {
		t.Fatalf("UpdateRecord() error = %v", err)
	}
	if updated.Note != "" {
		t.Errorf("full overwrite must clear omitted note, got %q", updated.Note)
	}
	if st.records[0].Status != store.StatusCompleted {
		t.Errorf("status = %q", st.records[0].Status)
	}

	if _, err := svc.UpdateRecord(context.Background(), "missing", RecordInput{
		CustomerName: "An", ServiceType: "X",
	}); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("updating a missing record: err = %v, want sql.ErrNoRows", err)
	}
}

func TestListRecordsAttachesCompletenessAndDeadline(t *testing.T) {
	st := newFakeStore()
	st.services = []store.ServiceEntry{{ID: "3", Name: "Đăng ký Kết hôn"}}
	st.catalogs["3"] = []string{"CMND", "Giấy khai sinh", "Sổ hộ khẩu"}
	st.records = []store.Record{{
		ID:                "rec_1",
		Date:              "2026-08-20",
		CustomerName:      "Nguyễn Văn An",
		ServiceType:       "Đăng ký Kết hôn",
		ProvidedDocuments: []string{"CMND", "Giấy khai sinh"},
		ReturnDate:        time.Now().AddDate(0, 0, 3).Format("2006-01-02"),
		Status:            store.StatusPending,
	}}
	svc := newTestService(t, st, nil)

	views, err := svc.ListRecords(context.Background(), "")
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("views = %d, want 1", len(views))
	}
	if views[0].Completeness.Missing != 1 || views[0].Completeness.Label != "THIẾU 1" {
		t.Errorf("completeness = %+v", views[0].Completeness)
	}
	if views[0].Deadline == nil || views[0].Deadline.Overdue {
		t.Errorf("deadline = %+v", views[0].Deadline)
	}
}

func TestCreateServiceUsesFixedAccent(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(t, st, nil)

	entry, err := svc.CreateService(context.Background(), "Cấp phép Xây dựng")
	if err != nil {
		t.Fatalf("CreateService() error = %v", err)
	}
	if entry.Icon != "✨" || entry.Color != "bg-indigo-500" {
		t.Errorf("accent = %s %s, want sparkle indigo", entry.Icon, entry.Color)
	}

	if _, err := svc.CreateService(context.Background(), "Cấp phép Xây dựng"); err == nil {
		t.Error("expected conflict for duplicate service name")
	}
}

func TestSuggestCatalogDocumentsMergesUnion(t *testing.T) {
	st := newFakeStore()
	st.services = []store.ServiceEntry{{ID: "1", Name: "Đăng ký Khai sinh"}}
	st.catalogs["1"] = []string{"Tờ khai", "CMND"}
	svc := newTestService(t, st, &fakeAssist{docs: []string{"CMND", "cmnd", "Giấy chứng sinh"}})

	suggested, err := svc.SuggestCatalogDocuments(context.Background(), "1")
	if err != nil {
		t.Fatalf("SuggestCatalogDocuments() error = %v", err)
	}
	if len(suggested) != 3 {
		t.Errorf("suggested = %v", suggested)
	}

	// Case-sensitive union, existing order preserved, suggestions appended.
	want := []string{"Tờ khai", "CMND", "cmnd", "Giấy chứng sinh"}
	got := st.catalogs["1"]
	if len(got) != len(want) {
		t.Fatalf("merged = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("merged[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSuggestCatalogDocumentsFailureLeavesCatalogUntouched(t *testing.T) {
	st := newFakeStore()
	st.services = []store.ServiceEntry{{ID: "1", Name: "Đăng ký Khai sinh"}}
	st.catalogs["1"] = []string{"Tờ khai"}
	svc := newTestService(t, st, &fakeAssist{docsErr: errors.New("network down")})

	suggested, err := svc.SuggestCatalogDocuments(context.Background(), "1")
	if err != nil {
		t.Fatalf("assistant failure must not surface an error, got %v", err)
	}
	if len(suggested) != 0 {
		t.Errorf("suggested = %v, want empty", suggested)
	}
	if len(st.catalogs["1"]) != 1 || st.catalogs["1"][0] != "Tờ khai" {
		t.Errorf("catalog modified on failure: %v", st.catalogs["1"])
	}
}

func TestRestoreReplacesRecordSet(t *testing.T) {
	st := newFakeStore()
	st.records = []store.Record{{ID: "old_1"}, {ID: "old_2"}}
	svc := newTestService(t, st, nil)

	err := svc.Restore(context.Background(), []store.Record{{
		ID: "9", Date: "2024-01-01", CustomerName: "An", ServiceType: "X",
	}})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if len(st.records) != 1 || st.records[0].ID != "9" {
		t.Errorf("records after restore = %+v", st.records)
	}
	if st.records[0].Status != store.StatusPending {
		t.Errorf("missing status must default to pending, got %q", st.records[0].Status)
	}
}

func TestSummarizeFallsBackOnFailure(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(t, st, &fakeAssist{summaryErr: errors.New("quota")})

	text, ok := svc.Summarize(context.Background())
	if ok {
		t.Error("expected ok=false on assistant failure")
	}
	if text != assist.FallbackSummary {
		t.Errorf("text = %q, want fallback", text)
	}
}

func TestSummarizeReturnsAssistantText(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(t, st, &fakeAssist{summary: "Văn phòng đang xử lý tốt."})

	text, ok := svc.Summarize(context.Background())
	if !ok || text != "Văn phòng đang xử lý tốt." {
		t.Errorf("got (%q, %v)", text, ok)
	}
}

func TestStatsCountsAndRecent(t *testing.T) {
	st := newFakeStore()
	for i := 0; i < 10; i++ {
		st.records = append(st.records, store.Record{
			ID:     string(rune('a' + i)),
			Date:   time.Date(2026, 8, 1+i, 0, 0, 0, 0, time.UTC).Format("2006-01-02"),
			Status: store.StatusPending,
		})
	}
	st.records[0].Status = store.StatusCancelled
	st.records[1].Status = store.StatusCompleted
	svc := newTestService(t, st, nil)

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 10 {
		t.Errorf("total = %d", stats.Total)
	}
	if stats.Pending != 8 || stats.Completed != 1 || stats.Cancelled != 1 {
		t.Errorf("counts = %+v", stats)
	}
	if len(stats.Chart) != 3 {
		t.Errorf("zero-valued slices must be dropped, chart = %+v", stats.Chart)
	}
	if len(stats.Recent) != 8 {
		t.Fatalf("recent = %d, want 8", len(stats.Recent))
	}
	// Oldest of the 8 most recent first.
	if stats.Recent[0].Date > stats.Recent[len(stats.Recent)-1].Date {
		t.Errorf("recent must be oldest-first: %s .. %s", stats.Recent[0].Date, stats.Recent[len(stats.Recent)-1].Date)
	}
}

func TestLoginIssuesSessionAndRejectsWrongName(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(t, st, nil)

	session, err := svc.Login(context.Background(), "Quản trị viên", "")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Error("expected token pair")
	}

	parsed, err := svc.SessionFromToken(session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if parsed.ClerkName != "Quản trị viên" {
		t.Errorf("clerk = %q", parsed.ClerkName)
	}

	if _, err := svc.Login(context.Background(), "kẻ lạ", ""); err == nil {
		t.Error("expected rejection for unknown clerk name")
	}
}

func TestLoginChecksPassword(t *testing.T) {
	st := newFakeStore()
	cfg := testConfig()
	cfg.ClerkPassword = "mật-khẩu-bí-mật"
	feed := notify.New(nil)
	t.Cleanup(feed.Close)
	svc, err := NewService(cfg, st, nil, feed, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	if _, err := svc.Login(context.Background(), cfg.ClerkName, "sai"); err == nil {
		t.Error("expected rejection for wrong password")
	}
	if _, err := svc.Login(context.Background(), cfg.ClerkName, "mật-khẩu-bí-mật"); err != nil {
		t.Errorf("Login() with correct password: %v", err)
	}
}
