package assist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func candidateResponse(text string) string {
	payload := map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{{"text": text}}}},
		},
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

func TestSummarizeReturnsModelText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key in query")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(candidateResponse("Có 3 hồ sơ, 2 đang chờ xử lý.")))
	}))
	defer srv.Close()

	client := NewWithHTTPClient(srv.URL, "test-key", "gemini-3-flash-preview", srv.Client())

	got, err := client.Summarize(context.Background(), []RecordBrief{
		{Date: "2026-08-01", CustomerName: "Nguyễn Văn A", ServiceType: "Đăng ký Khai sinh", Status: "Chờ xử lý"},
	})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "Có 3 hồ sơ, 2 đang chờ xử lý." {
		t.Errorf("unexpected summary: %q", got)
	}
}

func TestSummarizeFailsWithoutKey(t *testing.T) {
	client := New("http://localhost:0", "", "")
	if _, err := client.Summarize(context.Background(), nil); err != ErrNotConfigured {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestSummarizeFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewWithHTTPClient(srv.URL, "test-key", "", srv.Client())
	if _, err := client.Summarize(context.Background(), nil); err == nil {
		t.Fatal("expected error on 429 response")
	}
}

func TestSuggestDocumentsParsesSchemaPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["generationConfig"] == nil {
			t.Error("expected generationConfig with response schema")
		}
		w.Write([]byte(candidateResponse(`{"documents":["Tờ khai","Giấy khai sinh bản gốc",""]}`)))
	}))
	defer srv.Close()

	client := NewWithHTTPClient(srv.URL, "test-key", "", srv.Client())

	docs, err := client.SuggestDocuments(context.Background(), "Đăng ký Khai sinh")
	if err != nil {
		t.Fatalf("SuggestDocuments: %v", err)
	}
	want := []string{"Tờ khai", "Giấy khai sinh bản gốc"}
	if len(docs) != len(want) {
		t.Fatalf("docs = %v, want %v", docs, want)
	}
	for i := range want {
		if docs[i] != want[i] {
			t.Errorf("docs[%d] = %q, want %q", i, docs[i], want[i])
		}
	}
}

func TestSuggestDocumentsHandlesFencedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(candidateResponse("```json\n{\"documents\":[\"CMND\"]}\n```")))
	}))
	defer srv.Close()

	client := NewWithHTTPClient(srv.URL, "test-key", "", srv.Client())

	docs, err := client.SuggestDocuments(context.Background(), "Xác nhận Cư trú")
	if err != nil {
		t.Fatalf("SuggestDocuments: %v", err)
	}
	if len(docs) != 1 || docs[0] != "CMND" {
		t.Errorf("docs = %v, want [CMND]", docs)
	}
}

func TestSuggestDocumentsFailsOnMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(candidateResponse("đây không phải JSON")))
	}))
	defer srv.Close()

	client := NewWithHTTPClient(srv.URL, "test-key", "", srv.Client())
	if _, err := client.SuggestDocuments(context.Background(), "Thừa kế - Di chúc"); err == nil {
		t.Fatal("expected error on malformed payload")
	}
}

func TestSanitizeJSONText(t *testing.T) {
	cases := map[string]string{
		"{\"a\":1}":                    "{\"a\":1}",
		"```json\n{\"a\":1}\n```":      "{\"a\":1}",
		"```\n{\"a\":1}\n```":          "{\"a\":1}",
		"  \n```json\n{\"a\":1}\n``` ": "{\"a\":1}",
	}
	for in, want := range cases {
		if got := sanitizeJSONText(in); got != want {
			t.Errorf("sanitizeJSONText(%q) = %q, want %q", in, got, want)
		}
	}
}
