package service

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/3N-VOY/neuropdfv2/internal/extract"
	"github.com/3N-VOY/neuropdfv2/internal/model"
	appErr "github.com/3N-VOY/neuropdfv2/internal/pkg/errors"
)

type fakeKeyStore struct {
	mu   sync.Mutex
	keys map[string]*model.ApiKey
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{keys: map[string]*model.ApiKey{}}
}

func (f *fakeKeyStore) Create(ctx context.Context, key *model.ApiKey) error {
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

func (f *fakeKeyStore) GetByKey(ctx context.Context, key string) (*model.ApiKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[key]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	clone := *k
	return &clone, nil
}

func (f *fakeKeyStore) GetByIdentity(ctx context.Context, identity string) (*model.ApiKey, error) {
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

func (f *fakeKeyStore) ResetIfStale(ctx context.Context, key string, windowStart int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if k, ok := f.keys[key]; ok && k.WindowStart < windowStart {
		k.Uploads = 0
		k.Questions = 0
		k.WindowStart = windowStart
	}
	return nil
}

func (f *fakeKeyStore) Consume(ctx context.Context, key string, op string, limit int64) (bool, error) {
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

func (f *fakeKeyStore) Release(ctx context.Context, key string, op string) error {
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

func (f *fakeKeyStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}

type fakeDocStore struct {
	mu   sync.Mutex
	docs map[string]*model.Document
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{docs: map[string]*model.Document{}}
}

func (f *fakeDocStore) Create(ctx context.Context, doc *model.Document) error {
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

func (f *fakeDocStore) MarkReady(ctx context.Context, docID string, pages int, chunks int) error {
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

func (f *fakeDocStore) GetByID(ctx context.Context, apiKey, docID string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[docID]
	if !ok || d.ApiKey != apiKey {
		return nil, appErr.ErrNotFound
	}
	clone := *d
	return &clone, nil
}

func (f *fakeDocStore) GetByNamespace(ctx context.Context, namespace string) (*model.Document, error) {
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

func (f *fakeDocStore) LatestReady(ctx context.Context, apiKey string) (*model.Document, error) {
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

func (f *fakeDocStore) ListByKey(ctx context.Context, apiKey string) ([]*model.Document, error) {
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

func (f *fakeDocStore) Delete(ctx context.Context, apiKey, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[docID]
	if !ok || d.ApiKey != apiKey {
		return appErr.ErrNotFound
	}
	delete(f.docs, docID)
	return nil
}

// stubExtractor splits input on "|" and returns one page per part, so
// tests control chunking without real PDF bytes.
type stubExtractor struct {
	err error
}

func (s *stubExtractor) Extract(ctx context.Context, data []byte) ([]extract.PageText, error) {
	if s.err != nil {
		return nil, s.err
	}
	parts := strings.Split(string(data), "|")
	pages := make([]extract.PageText, 0, len(parts))
	for i, part := range parts {
		pages = append(pages, extract.PageText{Number: i + 1, Text: part})
	}
	return pages, nil
}

// stubEmbedder maps text onto a small deterministic vector, biased so
// different texts land in different directions.
type stubEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
	// failAfter fails every call past the Nth when > 0.
	failAfter int
}

func (s *stubEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.failAfter > 0 && s.calls > s.failAfter {
		return nil, context.DeadlineExceeded
	}
	vec := make([]float32, 8)
	for i, r := range text {
		vec[i%8] += float32(r % 13)
	}
	return vec, nil
}

func (s *stubEmbedder) ModelName() string { return "stub-embed" }

func (s *stubEmbedder) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubGenerator struct {
	mu     sync.Mutex
	calls  int
	answer string
	err    error
	prompt string
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.prompt = prompt
	if s.err != nil {
		return "", s.err
	}
	if s.answer == "" {
		return "stub answer", nil
	}
	return s.answer, nil
}

func (s *stubGenerator) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubGenerator) lastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt
}
