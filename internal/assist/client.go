package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// FallbackSummary is returned to clients when the model cannot be reached or
// produces unusable output. The dashboard renders it verbatim.
const FallbackSummary = "Không thể phân tích dữ liệu lúc này."

var ErrNotConfigured = errors.New("assist: no api key configured")

// Client talks to the Gemini generateContent API over plain HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// New creates a Gemini client. An empty apiKey yields a client whose calls
// fail with ErrNotConfigured, which callers translate into fallbacks.
func New(baseURL, apiKey, model string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	if model == "" {
		model = "gemini-3-flash-preview"
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		model:      model,
		httpClient: &http.Client{Transport: tr, Timeout: 60 * time.Second},
	}
}

// NewWithHTTPClient is intended for tests; it avoids network access by using
// a custom RoundTripper.
func NewWithHTTPClient(baseURL, apiKey, model string, httpClient *http.Client) *Client {
	c := New(baseURL, apiKey, model)
	if httpClient != nil {
		c.httpClient = httpClient
	}
	return c
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// RecordBrief is the compact record view embedded into summary prompts.
type RecordBrief struct {
	Date         string `json:"date"`
	CustomerName string `json:"customerName"`
	ServiceType  string `json:"serviceType"`
	ReturnDate   string `json:"returnDate,omitempty"`
	Status       string `json:"status"`
}

// Summarize asks the model for a short Vietnamese digest of the current
// workload. Callers substitute FallbackSummary on error.
func (c *Client) Summarize(ctx context.Context, records []RecordBrief) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("assist: marshal records: %w", err)
	}

	prompt := "Bạn là trợ lý của bộ phận một cửa tiếp nhận hồ sơ dịch vụ công. " +
		"Dưới đây là danh sách hồ sơ dạng JSON. Hãy tóm tắt ngắn gọn bằng tiếng Việt: " +
		"tổng số hồ sơ, số hồ sơ đang chờ hoặc đang xử lý, các hồ sơ sắp đến hạn trả, " +
		"và một đề xuất ưu tiên xử lý. Trả lời bằng văn xuôi, tối đa 5 câu.\n\n" + string(data)

	req := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	}

	var resp generateResponse
	if err := c.doJSON(ctx, req, &resp); err != nil {
		return "", err
	}

	text := resp.firstText()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("assist: empty model response")
	}
	return strings.TrimSpace(text), nil
}

// SuggestDocuments asks the model for the papers typically required for a
// named administrative service. The response is schema constrained to a JSON
// object with a "documents" string array. Failures return an error; callers
// fall back to an empty suggestion list and leave catalogs untouched.
func (c *Client) SuggestDocuments(ctx context.Context, serviceName string) ([]string, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(serviceName) == "" {
		return nil, errors.New("assist: empty service name")
	}

	prompt := "Liệt kê các loại giấy tờ mà công dân thường phải nộp khi làm thủ tục hành chính \"" +
		serviceName + "\" tại Việt Nam. Chỉ trả về JSON đúng schema."

	req := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: &generationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema: &schema{
				Type: "OBJECT",
				Properties: map[string]*schema{
					"documents": {
						Type:  "ARRAY",
						Items: &schema{Type: "STRING"},
					},
				},
				Required: []string{"documents"},
			},
		},
	}

	var resp generateResponse
	if err := c.doJSON(ctx, req, &resp); err != nil {
		return nil, err
	}

	var out struct {
		Documents []string `json:"documents"`
	}
	text := sanitizeJSONText(resp.firstText())
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("assist: decode suggestion payload: %w", err)
	}

	docs := make([]string, 0, len(out.Documents))
	for _, d := range out.Documents {
		d = strings.TrimSpace(d)
		if d != "" {
			docs = append(docs, d)
		}
	}
	return docs, nil
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
	ResponseSchema   *schema `json:"responseSchema,omitempty"`
}

type schema struct {
	Type       string             `json:"type"`
	Items      *schema            `json:"items,omitempty"`
	Properties map[string]*schema `json:"properties,omitempty"`
	Required   []string           `json:"required,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (r *generateResponse) firstText() string {
	for _, cand := range r.Candidates {
		for _, p := range cand.Content.Parts {
			if p.Text != "" {
				return p.Text
			}
		}
	}
	return ""
}

func (c *Client) doJSON(ctx context.Context, reqBody generateRequest, out *generateResponse) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("assist: marshal request: %w", err)
	}

	endpoint := c.baseURL + "/v1beta/models/" + url.PathEscape(c.model) + ":generateContent?key=" + url.QueryEscape(c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("assist: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("assist: call model: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("assist: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("assist: model returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("assist: decode response: %w", err)
	}
	return nil
}

// sanitizeJSONText strips markdown code fences that some model versions wrap
// around JSON output despite the mime type hint.
func sanitizeJSONText(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
