package service

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/3N-VOY/neuropdfv2/internal/ai"
	"github.com/3N-VOY/neuropdfv2/internal/chunker"
	"github.com/3N-VOY/neuropdfv2/internal/extract"
	"github.com/3N-VOY/neuropdfv2/internal/filestore"
	"github.com/3N-VOY/neuropdfv2/internal/model"
	appErr "github.com/3N-VOY/neuropdfv2/internal/pkg/errors"
	"github.com/3N-VOY/neuropdfv2/internal/vectorstore"
)

// DocumentStore is the persistence surface the ingestion and query
// services need.
type DocumentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	MarkReady(ctx context.Context, docID string, pages int, chunks int) error
	GetByID(ctx context.Context, apiKey, docID string) (*model.Document, error)
	GetByNamespace(ctx context.Context, namespace string) (*model.Document, error)
	LatestReady(ctx context.Context, apiKey string) (*model.Document, error)
	ListByKey(ctx context.Context, apiKey string) ([]*model.Document, error)
	Delete(ctx context.Context, apiKey, docID string) error
}

// IngestService runs the upload pipeline: validate, extract, chunk, embed,
// index, mark ready. A document is either fully queryable or absent; a
// failure at any step tears down everything written so far.
type IngestService struct {
	docs      DocumentStore
	store     vectorstore.Store
	embedder  ai.IEmbedder
	extractor extract.Extractor
	chunker   *chunker.Chunker
	files     filestore.Store
	sessions  *SessionService

	maxFileBytes int
	now          func() time.Time
}

type IngestOptions struct {
	MaxFileBytes int
}

func NewIngestService(docs DocumentStore, store vectorstore.Store, embedder ai.IEmbedder,
	extractor extract.Extractor, ck *chunker.Chunker, files filestore.Store,
	sessions *SessionService, opts IngestOptions) *IngestService {
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = 10 * 1024 * 1024
	}
	return &IngestService{
		docs:         docs,
		store:        store,
		embedder:     embedder,
		extractor:    extractor,
		chunker:      ck,
		files:        files,
		sessions:     sessions,
		maxFileBytes: opts.MaxFileBytes,
		now:          time.Now,
	}
}

func (s *IngestService) Ingest(ctx context.Context, key *model.ApiKey, filename string, data []byte) (*model.Document, error) {
	logger := logutil.GetLogger(ctx).With(
		zap.String("identity", key.Identity),
		zap.String("filename", filename),
		zap.Int("size", len(data)),
	)
	if len(data) > s.maxFileBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", appErr.ErrFileTooLarge, len(data), s.maxFileBytes)
	}
	pages, err := s.extractor.Extract(ctx, data)
	if err != nil {
		logger.Warn("extraction failed", zap.Error(err))
		return nil, err
	}

	namespace := BuildNamespace(key.Identity, filename)
	if err := s.replaceExisting(ctx, key, namespace); err != nil {
		return nil, err
	}

	doc := &model.Document{
		ID:        newID(),
		ApiKey:    key.Key,
		Namespace: namespace,
		Filename:  filename,
		SizeBytes: int64(len(data)),
		Pages:     len(pages),
		State:     model.DocumentStateIngesting,
		Ctime:     s.now().Unix(),
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		logger.Error("failed to create document record", zap.Error(err))
		return nil, err
	}

	chunks := s.cutChunks(pages)
	if len(chunks) == 0 {
		s.rollback(ctx, doc)
		return nil, fmt.Errorf("%w: document produced no chunks", appErr.ErrExtractionFailed)
	}

	records := make([]vectorstore.Record, 0, len(chunks))
	for _, chunk := range chunks {
		values, err := s.embedder.Embed(ctx, chunk.Text, "RETRIEVAL_DOCUMENT")
		if err != nil {
			logger.Error("failed to embed chunk", zap.Int("chunk", chunk.Index), zap.Error(err))
			s.rollback(ctx, doc)
			return nil, classifyEmbedErr(err)
		}
		records = append(records, vectorstore.Record{
			ID:         fmt.Sprintf("%s-%d", doc.ID, chunk.Index),
			Values:     values,
			DocumentID: doc.ID,
			ChunkIndex: chunk.Index,
			Page:       chunk.Page,
			Filename:   doc.Filename,
			Text:       chunk.Text,
		})
	}
	if err := s.store.Upsert(ctx, namespace, records); err != nil {
		logger.Error("failed to index embeddings", zap.Error(err))
		s.rollback(ctx, doc)
		return nil, classifyEmbedErr(err)
	}
	if err := s.docs.MarkReady(ctx, doc.ID, len(pages), len(records)); err != nil {
		logger.Error("failed to mark document ready", zap.Error(err))
		s.rollback(ctx, doc)
		return nil, err
	}
	doc.State = model.DocumentStateReady
	doc.Chunks = len(records)

	s.archiveFile(ctx, doc, data)
	if s.sessions != nil {
		// A new document starts a fresh conversation.
		s.sessions.Clear(key.Key)
	}
	logger.Info("document ingested",
		zap.String("doc_id", doc.ID),
		zap.String("namespace", namespace),
		zap.Int("pages", doc.Pages),
		zap.Int("chunks", doc.Chunks),
	)
	return doc, nil
}

// Remove deletes the document record, its vectors, and the session
// transcript tied to it.
func (s *IngestService) Remove(ctx context.Context, key *model.ApiKey, docID string) error {
	doc, err := s.docs.GetByID(ctx, key.Key, docID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteNamespace(ctx, doc.Namespace); err != nil {
		logutil.GetLogger(ctx).Error("failed to delete namespace",
			zap.String("namespace", doc.Namespace), zap.Error(err))
		return err
	}
	if err := s.docs.Delete(ctx, key.Key, docID); err != nil {
		return err
	}
	s.removeArchive(ctx, doc)
	if s.sessions != nil {
		s.sessions.Clear(key.Key)
	}
	logutil.GetLogger(ctx).Info("document removed",
		zap.String("doc_id", docID), zap.String("namespace", doc.Namespace))
	return nil
}

func (s *IngestService) List(ctx context.Context, key *model.ApiKey) ([]*model.Document, error) {
	return s.docs.ListByKey(ctx, key.Key)
}

// replaceExisting tears down a previous upload of the same file so the
// namespace never mixes two generations of chunks.
func (s *IngestService) replaceExisting(ctx context.Context, key *model.ApiKey, namespace string) error {
	existing, err := s.docs.GetByNamespace(ctx, namespace)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil
		}
		return err
	}
	if existing.ApiKey != key.Key {
		// Namespace derives from identity, so this should not happen.
		return appErr.ErrConflict
	}
	if err := s.store.DeleteNamespace(ctx, namespace); err != nil {
		return err
	}
	if err := s.docs.Delete(ctx, key.Key, existing.ID); err != nil {
		return err
	}
	s.removeArchive(ctx, existing)
	return nil
}

func (s *IngestService) cutChunks(pages []extract.PageText) []model.Chunk {
	var chunks []model.Chunk
	for _, page := range pages {
		for _, text := range s.chunker.Split(page.Text) {
			chunks = append(chunks, model.Chunk{
				Index: len(chunks),
				Page:  page.Number,
				Text:  text,
			})
		}
	}
	return chunks
}

// rollback removes every trace of a half-ingested document. Best effort:
// the ready flag is what gates visibility, so leftovers are invisible.
func (s *IngestService) rollback(ctx context.Context, doc *model.Document) {
	if err := s.store.DeleteNamespace(ctx, doc.Namespace); err != nil {
		logutil.GetLogger(ctx).Warn("rollback: failed to delete namespace",
			zap.String("namespace", doc.Namespace), zap.Error(err))
	}
	if err := s.docs.Delete(ctx, doc.ApiKey, doc.ID); err != nil && !appErr.IsNotFound(err) {
		logutil.GetLogger(ctx).Warn("rollback: failed to delete document record",
			zap.String("doc_id", doc.ID), zap.Error(err))
	}
}

func (s *IngestService) archiveFile(ctx context.Context, doc *model.Document, data []byte) {
	if s.files == nil {
		return
	}
	key := doc.ID + path.Ext(doc.Filename)
	if err := s.files.Save(ctx, key, byteFile{bytes.NewReader(data)}, int64(len(data))); err != nil {
		logutil.GetLogger(ctx).Warn("failed to archive original file",
			zap.String("doc_id", doc.ID), zap.Error(err))
	}
}

// removeArchive is best effort: the s3 backend is write-only and reports
// delete as unsupported.
func (s *IngestService) removeArchive(ctx context.Context, doc *model.Document) {
	if s.files == nil {
		return
	}
	key := doc.ID + path.Ext(doc.Filename)
	if err := s.files.Delete(ctx, key); err != nil {
		logutil.GetLogger(ctx).Warn("failed to delete archived file",
			zap.String("doc_id", doc.ID), zap.Error(err))
	}
}

// OpenFile returns the archived original bytes of one of the key's
// documents.
func (s *IngestService) OpenFile(ctx context.Context, key *model.ApiKey, docID string) (filestore.ReadSeekCloser, *model.Document, error) {
	if s.files == nil {
		return nil, nil, appErr.ErrNotFound
	}
	doc, err := s.docs.GetByID(ctx, key.Key, docID)
	if err != nil {
		return nil, nil, err
	}
	file, err := s.files.Open(ctx, doc.ID+path.Ext(doc.Filename))
	if err != nil {
		return nil, nil, appErr.ErrNotFound
	}
	return file, doc, nil
}

type byteFile struct {
	*bytes.Reader
}

func (byteFile) Close() error { return nil }

func classifyEmbedErr(err error) error {
	if err == nil {
		return nil
	}
	if isTimeout(err) {
		return fmt.Errorf("%w: %v", appErr.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", appErr.ErrEmbeddingFailed, err)
}

func isTimeout(err error) bool {
	return err != nil && (contextDeadline(err) || strings.Contains(err.Error(), "context deadline exceeded"))
}

var namespaceRe = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

const namespaceFileSegmentMax = 50

// BuildNamespace derives the per-upload namespace from the identity and
// the file name. The identity prefix is what keeps tenants apart, so it is
// never truncated.
func BuildNamespace(identity, filename string) string {
	file := strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	file = namespaceRe.ReplaceAllString(file, "_")
	file = strings.Trim(file, "_")
	if len(file) > namespaceFileSegmentMax {
		file = file[:namespaceFileSegmentMax]
	}
	if file == "" {
		file = "document"
	}
	id := namespaceRe.ReplaceAllString(identity, "_")
	return id + "_" + file
}
