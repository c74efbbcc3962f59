package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/3N-VOY/neuropdfv2/internal/chunker"
	"github.com/3N-VOY/neuropdfv2/internal/model"
	appErr "github.com/3N-VOY/neuropdfv2/internal/pkg/errors"
	"github.com/3N-VOY/neuropdfv2/internal/vectorstore"
)

func testKey() *model.ApiKey {
	return &model.ApiKey{
		Key:      "pdfk_test",
		Identity: "device:abcd1234",
	}
}

func newTestIngest(docs DocumentStore, store vectorstore.Store, emb *stubEmbedder) *IngestService {
	return NewIngestService(docs, store, emb, &stubExtractor{}, chunker.New(100, 20),
		nil, NewSessionService(100, time.Minute), IngestOptions{MaxFileBytes: 1024})
}

func TestIngestHappyPath(t *testing.T) {
	ctx := context.Background()
	docs := newFakeDocStore()
	store := vectorstore.NewMemory()
	emb := &stubEmbedder{}
	svc := newTestIngest(docs, store, emb)

	doc, err := svc.Ingest(ctx, testKey(), "report.pdf", []byte("first page text|second page text"))
	require.NoError(t, err)
	require.Equal(t, model.DocumentStateReady, doc.State)
	require.Equal(t, 2, doc.Pages)
	require.Greater(t, doc.Chunks, 0)
	require.Equal(t, "device_abcd1234_report", doc.Namespace)

	count, err := store.Count(ctx, doc.Namespace)
	require.NoError(t, err)
	require.EqualValues(t, doc.Chunks, count)

	stored, err := docs.LatestReady(ctx, "pdfk_test")
	require.NoError(t, err)
	require.Equal(t, doc.ID, stored.ID)
}

func TestIngestRejectsOversizedFile(t *testing.T) {
	svc := newTestIngest(newFakeDocStore(), vectorstore.NewMemory(), &stubEmbedder{})
	_, err := svc.Ingest(context.Background(), testKey(), "big.pdf", []byte(strings.Repeat("x", 2048)))
	require.ErrorIs(t, err, appErr.ErrFileTooLarge)
}

func TestIngestRollsBackOnEmbedFailure(t *testing.T) {
	ctx := context.Background()
	docs := newFakeDocStore()
	store := vectorstore.NewMemory()
	emb := &stubEmbedder{failAfter: 1}
	svc := newTestIngest(docs, store, emb)

	_, err := svc.Ingest(ctx, testKey(), "doc.pdf",
		[]byte(strings.Repeat("some long paragraph of text. ", 20)+"|"+strings.Repeat("more text here. ", 20)))
	require.Error(t, err)
	require.ErrorIs(t, err, appErr.ErrTimeout)

	// Nothing survives a failed ingestion: no vectors, no record.
	ns := BuildNamespace("device:abcd1234", "doc.pdf")
	count, countErr := store.Count(ctx, ns)
	require.NoError(t, countErr)
	require.Zero(t, count)
	_, getErr := docs.LatestReady(ctx, "pdfk_test")
	require.ErrorIs(t, getErr, appErr.ErrNotFound)
}

func TestIngestReplacesSameFilename(t *testing.T) {
	ctx := context.Background()
	docs := newFakeDocStore()
	store := vectorstore.NewMemory()
	svc := newTestIngest(docs, store, &stubEmbedder{})

	first, err := svc.Ingest(ctx, testKey(), "notes.pdf", []byte("original content"))
	require.NoError(t, err)
	second, err := svc.Ingest(ctx, testKey(), "notes.pdf", []byte("replacement content"))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, first.Namespace, second.Namespace)

	list, err := docs.ListByKey(ctx, "pdfk_test")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, second.ID, list[0].ID)
}

func TestIngestClearsSession(t *testing.T) {
	ctx := context.Background()
	sessions := NewSessionService(100, time.Minute)
	svc := NewIngestService(newFakeDocStore(), vectorstore.NewMemory(), &stubEmbedder{},
		&stubExtractor{}, chunker.New(100, 20), nil, sessions, IngestOptions{MaxFileBytes: 1024})

	sessions.Append("pdfk_test", model.ChatMessage{Role: model.RoleUser, Content: "old question"})
	_, err := svc.Ingest(ctx, testKey(), "new.pdf", []byte("fresh content"))
	require.NoError(t, err)
	require.Empty(t, sessions.History("pdfk_test"))
}

func TestRemoveDeletesVectorsAndRecord(t *testing.T) {
	ctx := context.Background()
	docs := newFakeDocStore()
	store := vectorstore.NewMemory()
	svc := newTestIngest(docs, store, &stubEmbedder{})

	doc, err := svc.Ingest(ctx, testKey(), "gone.pdf", []byte("content to delete"))
	require.NoError(t, err)
	require.NoError(t, svc.Remove(ctx, testKey(), doc.ID))

	count, err := store.Count(ctx, doc.Namespace)
	require.NoError(t, err)
	require.Zero(t, count)
	_, err = docs.GetByID(ctx, "pdfk_test", doc.ID)
	require.ErrorIs(t, err, appErr.ErrNotFound)

	require.ErrorIs(t, svc.Remove(ctx, testKey(), "missing"), appErr.ErrNotFound)
}

func TestBuildNamespace(t *testing.T) {
	tests := []struct {
		identity string
		filename string
		want     string
	}{
		{"device:abc", "report.pdf", "device_abc_report"},
		{"user:42", "My Report (final).pdf", "user_42_My_Report_final"},
		{"user:42", "....pdf", "user_42_document"},
		{"user:42", "/tmp/../etc/passwd.pdf", "user_42_passwd"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, BuildNamespace(tt.identity, tt.filename), "%s + %s", tt.identity, tt.filename)
	}
	long := BuildNamespace("user:42", strings.Repeat("a", 200)+".pdf")
	require.LessOrEqual(t, len(long), len("user_42_")+50)
}
