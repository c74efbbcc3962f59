package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/3N-VOY/neuropdfv2/internal/chunker"
	"github.com/3N-VOY/neuropdfv2/internal/config"
	"github.com/3N-VOY/neuropdfv2/internal/extract"
	"github.com/3N-VOY/neuropdfv2/internal/handler"
	"github.com/3N-VOY/neuropdfv2/internal/middleware"
	"github.com/3N-VOY/neuropdfv2/internal/model"
	appErr "github.com/3N-VOY/neuropdfv2/internal/pkg/errors"
	"github.com/3N-VOY/neuropdfv2/internal/service"
	"github.com/3N-VOY/neuropdfv2/internal/vectorstore"
)

// memKeyStore and memDocStore keep the whole stack in memory so the
// handler tests exercise real routing, middleware, and services without a
// database.
type memKeyStore struct {
	mu   sync.Mutex
	keys map[string]*model.ApiKey
}

func newMemKeyStore() *memKeyStore {
	return &memKeyStore{keys: map[string]*model.ApiKey{}}
}

func (f *memKeyStore) Create(ctx context.Context, key *model.ApiKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.keys {
		if k.Identity == key.Identity {
			return appErr.ErrConflict
		}
	}
	clone := *key
	f.keys[key.Key] = &clone
	return nil
}

func (f *memKeyStore) GetByKey(ctx context.Context, key string) (*model.ApiKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[key]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	clone := *k
	return &clone, nil
}

func (f *memKeyStore) GetByIdentity(ctx context.Context, identity string) (*model.ApiKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.keys {
		if k.Identity == identity {
			clone := *k
			return &clone, nil
		}
	}
	return nil, appErr.ErrNotFound
}

func (f *memKeyStore) ResetIfStale(ctx context.Context, key string, windowStart int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if k, ok := f.keys[key]; ok && k.WindowStart < windowStart {
		k.Uploads = 0
		k.Questions = 0
		k.WindowStart = windowStart
	}
	return nil
}

func (f *memKeyStore) Consume(ctx context.Context, key string, op string, limit int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[key]
	if !ok {
		return false, nil
	}
	switch op {
	case model.OpUpload:
		if k.Uploads >= limit {
			return false, nil
		}
		k.Uploads++
	case model.OpQuestion:
		if k.Questions >= limit {
			return false, nil
		}
		k.Questions++
	}
	return true, nil
}

func (f *memKeyStore) Release(ctx context.Context, key string, op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[key]
	if !ok {
		return nil
	}
	switch op {
	case model.OpUpload:
		if k.Uploads > 0 {
			k.Uploads--
		}
	case model.OpQuestion:
		if k.Questions > 0 {
			k.Questions--
		}
	}
	return nil
}

func (f *memKeyStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}

type memDocStore struct {
	mu   sync.Mutex
	docs map[string]*model.Document
}

func newMemDocStore() *memDocStore {
	return &memDocStore{docs: map[string]*model.Document{}}
}

func (f *memDocStore) Create(ctx context.Context, doc *model.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.docs {
		if d.Namespace == doc.Namespace {
			return appErr.ErrConflict
		}
	}
	clone := *doc
	f.docs[doc.ID] = &clone
	return nil
}

func (f *memDocStore) MarkReady(ctx context.Context, docID string, pages int, chunks int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[docID]
	if !ok || d.State != model.DocumentStateIngesting {
		return appErr.ErrNotFound
	}
	d.State = model.DocumentStateReady
	d.Pages = pages
	d.Chunks = chunks
	return nil
}

func (f *memDocStore) GetByID(ctx context.Context, apiKey, docID string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[docID]
	if !ok || d.ApiKey != apiKey {
		return nil, appErr.ErrNotFound
	}
	clone := *d
	return &clone, nil
}

func (f *memDocStore) GetByNamespace(ctx context.Context, namespace string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.docs {
		if d.Namespace == namespace {
			clone := *d
			return &clone, nil
		}
	}
	return nil, appErr.ErrNotFound
}

func (f *memDocStore) LatestReady(ctx context.Context, apiKey string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *model.Document
	for _, d := range f.docs {
		if d.ApiKey != apiKey || d.State != model.DocumentStateReady {
			continue
		}
		if latest == nil || d.Ctime > latest.Ctime {
			latest = d
		}
	}
	if latest == nil {
		return nil, appErr.ErrNotFound
	}
	clone := *latest
	return &clone, nil
}

func (f *memDocStore) ListByKey(ctx context.Context, apiKey string) ([]*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Document
	for _, d := range f.docs {
		if d.ApiKey == apiKey {
			clone := *d
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ctime > out[j].Ctime })
	return out, nil
}

func (f *memDocStore) Delete(ctx context.Context, apiKey, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[docID]
	if !ok || d.ApiKey != apiKey {
		return appErr.ErrNotFound
	}
	delete(f.docs, docID)
	return nil
}

// fakeExtractor enforces the PDF magic header, then treats the rest of the
// upload as plain text with "|" page separators.
type fakeExtractor struct{}

func (fakeExtractor) Extract(ctx context.Context, data []byte) ([]extract.PageText, error) {
	if !extract.IsPDF(data) {
		return nil, appErr.ErrUnsupportedFormat
	}
	body := string(data)
	if idx := strings.Index(body, "\n"); idx >= 0 {
		body = body[idx+1:]
	}
	parts := strings.Split(body, "|")
	pages := make([]extract.PageText, 0, len(parts))
	for i, part := range parts {
		pages = append(pages, extract.PageText{Number: i + 1, Text: part})
	}
	return pages, nil
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	vec := make([]float32, 8)
	for i, r := range text {
		vec[i%8] += float32(r % 13)
	}
	return vec, nil
}

func (f *fakeEmbedder) ModelName() string { return "fake-embed" }

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return "generated answer", nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	router *gin.Engine
	store  vectorstore.Store
	gen    *fakeGenerator
}

func setupRouter(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := vectorstore.NewMemory()
	gen := &fakeGenerator{}
	sessions := service.NewSessionService(100, time.Minute)
	authService := service.NewAuthService(newMemKeyStore(),
		config.IdentityConfig{Secret: "test-secret", KeyTTLDays: 30},
		config.QuotaConfig{DailyUploads: 3, DailyQuestions: 5})
	docs := newMemDocStore()
	ingestService := service.NewIngestService(docs, store, &fakeEmbedder{},
		fakeExtractor{}, chunker.New(200, 40), nil, sessions,
		service.IngestOptions{MaxFileBytes: 64 * 1024})
	queryService := service.NewQueryService(docs, store, &fakeEmbedder{}, gen, sessions,
		service.QueryOptions{TopK: 3, MaxContextChars: 2000, MaxQuestionChars: 200, Timeout: time.Second})

	deps := handler.RouterDeps{
		Auth:      handler.NewAuthHandler(authService),
		Documents: handler.NewDocumentHandler(authService, ingestService, 64*1024),
		QA:        handler.NewQAHandler(authService, queryService),
		Session:   handler.NewSessionHandler(sessions, ingestService),
		Debug:     handler.NewDebugHandler(store),
		Validator: authService,
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	handler.RegisterRoutes(router.Group("/"), deps)
	return &fixture{router: router, store: store, gen: gen}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func (f *fixture) createKey(t *testing.T, fingerprint string) string {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"device_fingerprint": fingerprint})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/create-api-key", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := f.do(t, req)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var body struct {
		Data struct {
			ApiKey string `json:"api_key"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.NotEmpty(t, body.Data.ApiKey)
	return body.Data.ApiKey
}

func (f *fixture) upload(t *testing.T, apiKey, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-API-Key", apiKey)
	return f.do(t, req)
}

func (f *fixture) ask(t *testing.T, apiKey, question string) *httptest.ResponseRecorder {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"question": question})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)
	return f.do(t, req)
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body.Error.Code
}

const pdfHeader = "%PDF-1.4\n"
