package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"mmassist/internal/assistant"
	"mmassist/internal/domain"
	"mmassist/internal/memory"
	"mmassist/internal/result"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubKnowledge struct {
	docs []domain.Document
}

func (s *stubKnowledge) Respond(_ context.Context, query string) string {
	return "answer to " + query
}

func (s *stubKnowledge) AddDocument(_ context.Context, doc domain.Document) result.Result[domain.AddReport] {
	s.docs = append(s.docs, doc)
	return result.Success(domain.AddReport{Document: doc.Name, Chunks: 1})
}

func (s *stubKnowledge) Stats() domain.KnowledgeStats {
	return domain.KnowledgeStats{Documents: len(s.docs), Chunks: len(s.docs)}
}

func newTestAPI(t *testing.T, allowed ...string) (*API, *stubKnowledge) {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	store, err := memory.NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	kb := &stubKnowledge{}
	a := assistant.New(assistant.Config{Knowledge: kb, Memory: store, Logger: logger})
	return NewAPI(APIConfig{Assistant: a, AllowedHosts: allowed, Version: "test", Logger: logger}), kb
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func multipartUpload(t *testing.T, url, field, name string, content []byte, form map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range form {
		w.WriteField(k, v)
	}
	part, err := w.CreateFormFile(field, name)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(content)
	w.Close()
	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestAPI_Chat(t *testing.T) {
	api, _ := newTestAPI(t)
	body := `{"session":"s1","text":"what is shipping?","language":"English","toggles":{"rag":true}}`
	rr := do(t, api.Handler(), httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Session     string `json:"session"`
		Answer      string `json:"answer"`
		Translation string `json:"translation"`
		Text        string `json:"text"`
	}
	decode(t, rr, &resp)
	if resp.Answer != "answer to what is shipping?" {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.Translation != "" {
		t.Error("translation was not requested")
	}
	if resp.Session != "api:s1" {
		t.Errorf("session = %q", resp.Session)
	}
	if !strings.Contains(resp.Text, "**RAG Response:**") {
		t.Errorf("text = %q", resp.Text)
	}
}

func TestAPI_ChatValidation(t *testing.T) {
	api, _ := newTestAPI(t)
	tests := []struct {
		name string
		body string
	}{
		{"empty text", `{"text":"   "}`},
		{"invalid json", `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, api.Handler(), httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(tt.body)))
			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rr.Code)
			}
		})
	}
}

func TestAPI_Documents(t *testing.T) {
	api, kb := newTestAPI(t)

	req := multipartUpload(t, "/api/documents", "file", "faq.txt", []byte("Returns are free within 30 days."), nil)
	rr := do(t, api.Handler(), req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	var report domain.AddReport
	decode(t, rr, &report)
	if report.Document != "faq.txt" || report.Chunks != 1 {
		t.Errorf("report = %+v", report)
	}
	if len(kb.docs) != 1 || !strings.Contains(kb.docs[0].Text, "Returns are free") {
		t.Fatalf("indexed = %+v", kb.docs)
	}

	rr = do(t, api.Handler(), httptest.NewRequest(http.MethodGet, "/api/knowledge/stats", nil))
	var stats domain.KnowledgeStats
	decode(t, rr, &stats)
	if stats.Documents != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestAPI_DocumentsRejected(t *testing.T) {
	api, kb := newTestAPI(t)

	req := multipartUpload(t, "/api/documents", "file", "blank.txt", []byte("   \n"), nil)
	rr := do(t, api.Handler(), req)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	var body map[string]string
	decode(t, rr, &body)
	if body["kind"] != string(result.KindFile) {
		t.Errorf("kind = %q", body["kind"])
	}
	if len(kb.docs) != 0 {
		t.Error("nothing should be indexed")
	}

	rr = do(t, api.Handler(), httptest.NewRequest(http.MethodPost, "/api/documents", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing file: expected 400, got %d", rr.Code)
	}
}

func TestAPI_AudioWithoutTranscriber(t *testing.T) {
	api, _ := newTestAPI(t)
	req := multipartUpload(t, "/api/audio", "file", "note.ogg", []byte("OggS"), map[string]string{"session": "s2"})
	rr := do(t, api.Handler(), req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var resp struct {
		Notices []string `json:"notices"`
	}
	decode(t, rr, &resp)
	if len(resp.Notices) != 1 || resp.Notices[0] != result.Notice(result.KindUnavailable) {
		t.Errorf("notices = %v", resp.Notices)
	}
}

func TestAPI_SessionLifecycle(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	do(t, h, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"session":"s3","text":"hello"}`)))

	rr := do(t, h, httptest.NewRequest(http.MethodGet, "/api/sessions/s3", nil))
	var got struct {
		Settings assistant.Settings      `json:"settings"`
		History  []domain.MessageRecord `json:"history"`
	}
	decode(t, rr, &got)
	if len(got.History) != 2 {
		t.Fatalf("history = %+v", got.History)
	}

	rr = do(t, h, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	var list struct {
		Sessions []domain.Conversation `json:"sessions"`
	}
	decode(t, rr, &list)
	if len(list.Sessions) != 1 || list.Sessions[0].ID != "api:s3" || list.Sessions[0].Channel != "api" {
		t.Fatalf("sessions = %+v", list.Sessions)
	}

	rr = do(t, h, httptest.NewRequest(http.MethodDelete, "/api/sessions/s3", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status %d", rr.Code)
	}
	rr = do(t, h, httptest.NewRequest(http.MethodGet, "/api/sessions/s3", nil))
	decode(t, rr, &got)
	if len(got.History) != 0 || got.Settings.Language != "Arabic" {
		t.Errorf("after clear = %+v", got)
	}
	rr = do(t, h, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	decode(t, rr, &list)
	if len(list.Sessions) != 0 {
		t.Errorf("sessions after clear = %+v", list.Sessions)
	}
}

type recordingTranslator struct {
	targets []string
}

func (r *recordingTranslator) TryTranslate(_ context.Context, text, language string) result.Result[string] {
	r.targets = append(r.targets, language)
	return result.Success("[" + language + "] " + text)
}

func (r *recordingTranslator) DetectLanguage(context.Context, string) string { return "en" }

func TestAPI_LanguageOverrideIsPerRequest(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	tr := &recordingTranslator{}
	a := assistant.New(assistant.Config{Translator: tr, Logger: logger})
	h := NewAPI(APIConfig{Assistant: a, Logger: logger}).Handler()

	tests := []struct {
		language string
		want     string
	}{
		{"french", "French"},
		{"Klingon", "Klingon"},
	}
	for _, tt := range tests {
		body := `{"session":"s4","text":"hello","language":"` + tt.language + `","toggles":{"translation":true}}`
		rr := do(t, h, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body)))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status %d: %s", tt.language, rr.Code, rr.Body.String())
		}
		if got := tr.targets[len(tr.targets)-1]; got != tt.want {
			t.Errorf("%s: translated to %q, want %q", tt.language, got, tt.want)
		}
	}

	if got := a.Sessions().Get(assistant.SessionKey("api", "s4")).Language; got != "Arabic" {
		t.Errorf("per-request language changed the session to %q", got)
	}
}

func TestAPI_ReadOnlyEndpoints(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	for _, path := range []string{"/status", "/metrics", "/api/images", "/api/analytics", "/api/languages"} {
		rr := do(t, h, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("%s: status %d", path, rr.Code)
		}
	}

	rr := do(t, h, httptest.NewRequest(http.MethodGet, "/api/languages", nil))
	var langs struct {
		Languages []struct {
			Name string `json:"name"`
			Code string `json:"code"`
		} `json:"languages"`
	}
	decode(t, rr, &langs)
	if len(langs.Languages) != 5 || langs.Languages[0].Name != "Arabic" {
		t.Errorf("languages = %+v", langs.Languages)
	}

	rr = do(t, h, httptest.NewRequest(http.MethodGet, "/api/images", nil))
	if !strings.Contains(rr.Body.String(), `"images":[]`) {
		t.Errorf("images = %s", rr.Body.String())
	}
}

func TestAPI_HostGuard(t *testing.T) {
	api, _ := newTestAPI(t, "assist.example.com")
	h := api.Handler()

	tests := []struct {
		host string
		want int
	}{
		{"assist.example.com", http.StatusOK},
		{"ASSIST.example.com:8443", http.StatusOK},
		{"localhost:8501", http.StatusOK},
		{"evil.example.com", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.Host = tt.host
		if rr := do(t, h, req); rr.Code != tt.want {
			t.Errorf("host %s: expected %d, got %d", tt.host, tt.want, rr.Code)
		}
	}
}
