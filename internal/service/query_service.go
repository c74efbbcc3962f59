package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/3N-VOY/neuropdfv2/internal/ai"
	"github.com/3N-VOY/neuropdfv2/internal/model"
	appErr "github.com/3N-VOY/neuropdfv2/internal/pkg/errors"
	"github.com/3N-VOY/neuropdfv2/internal/vectorstore"
)

// Answer is the result of one question: the generated text plus the
// retrieved sections it was grounded on.
type Answer struct {
	DocumentID string                 `json:"document_id"`
	Question   string                 `json:"question"`
	Answer     string                 `json:"answer"`
	Context    []model.ContextSection `json:"context"`
}

const noAnswerText = "I could not find anything about that in the document."

// QueryService answers questions against an ingested document: embed the
// question, retrieve the closest chunks, and generate from those chunks
// only.
type QueryService struct {
	docs      DocumentStore
	store     vectorstore.Store
	embedder  ai.IEmbedder
	generator ai.IGenerator
	sessions  *SessionService

	topK             int
	maxContextChars  int
	maxQuestionChars int
	timeout          time.Duration
	now              func() time.Time
}

type QueryOptions struct {
	TopK             int
	MaxContextChars  int
	MaxQuestionChars int
	Timeout          time.Duration
}

func NewQueryService(docs DocumentStore, store vectorstore.Store, embedder ai.IEmbedder,
	generator ai.IGenerator, sessions *SessionService, opts QueryOptions) *QueryService {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = 8000
	}
	if opts.MaxQuestionChars <= 0 {
		opts.MaxQuestionChars = 2000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &QueryService{
		docs:             docs,
		store:            store,
		embedder:         embedder,
		generator:        generator,
		sessions:         sessions,
		topK:             opts.TopK,
		maxContextChars:  opts.MaxContextChars,
		maxQuestionChars: opts.MaxQuestionChars,
		timeout:          opts.Timeout,
		now:              time.Now,
	}
}

// Ask answers one question against the key's document. When docID is empty
// the latest ready document is used; no ready document at all is the
// caller's error, not grounds for an ungrounded answer.
func (s *QueryService) Ask(ctx context.Context, key *model.ApiKey, question string, docID string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", appErr.ErrInvalidQuestion)
	}
	if len([]rune(question)) > s.maxQuestionChars {
		return nil, fmt.Errorf("%w: question exceeds %d characters", appErr.ErrInvalidQuestion, s.maxQuestionChars)
	}
	doc, err := s.resolveDocument(ctx, key, docID)
	if err != nil {
		return nil, err
	}
	logger := logutil.GetLogger(ctx).With(
		zap.String("identity", key.Identity),
		zap.String("doc_id", doc.ID),
	)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	queryEmb, err := s.embedder.Embed(ctx, question, "RETRIEVAL_QUERY")
	if err != nil {
		logger.Error("failed to embed question", zap.Error(err))
		s.recordFailure(key.Key, question)
		return nil, classifyEmbedErr(err)
	}
	matches, err := s.store.Query(ctx, doc.Namespace, queryEmb, s.topK)
	if err != nil {
		logger.Error("retrieval failed", zap.Error(err))
		s.recordFailure(key.Key, question)
		return nil, classifyEmbedErr(err)
	}

	answer := &Answer{DocumentID: doc.ID, Question: question}
	if len(matches) == 0 {
		// Nothing retrieved means nothing to ground on; do not let the
		// model improvise.
		answer.Answer = noAnswerText
		s.record(key.Key, question, answer.Answer)
		logger.Info("question answered without matches")
		return answer, nil
	}

	sections, contextText := s.assembleContext(doc, matches)
	text, err := s.generator.Generate(ctx, buildPrompt(contextText, question))
	if err != nil {
		logger.Error("generation failed", zap.Error(err))
		s.recordFailure(key.Key, question)
		if contextDeadline(err) {
			return nil, fmt.Errorf("%w: %v", appErr.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", appErr.ErrGenerationFailed, err)
	}
	answer.Answer = strings.TrimSpace(text)
	answer.Context = sections
	s.record(key.Key, question, answer.Answer)
	logger.Info("question answered",
		zap.Int("matches", len(matches)),
		zap.Int("context_sections", len(sections)),
	)
	return answer, nil
}

func (s *QueryService) resolveDocument(ctx context.Context, key *model.ApiKey, docID string) (*model.Document, error) {
	if docID != "" {
		doc, err := s.docs.GetByID(ctx, key.Key, docID)
		if err != nil {
			return nil, err
		}
		if doc.State != model.DocumentStateReady {
			return nil, fmt.Errorf("%w: document is still ingesting", appErr.ErrNoDocument)
		}
		return doc, nil
	}
	doc, err := s.docs.LatestReady(ctx, key.Key)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil, fmt.Errorf("%w: upload a document first", appErr.ErrNoDocument)
		}
		return nil, err
	}
	return doc, nil
}

// assembleContext orders matches by score and cuts off at the context
// budget. Ties break on chunk index so output stays deterministic.
func (s *QueryService) assembleContext(doc *model.Document, matches []vectorstore.Match) ([]model.ContextSection, string) {
	var sections []model.ContextSection
	var sb strings.Builder
	used := 0
	for _, m := range matches {
		textLen := len([]rune(m.Text))
		if used > 0 && used+textLen > s.maxContextChars {
			break
		}
		if textLen > s.maxContextChars {
			m.Text = string([]rune(m.Text)[:s.maxContextChars])
			textLen = s.maxContextChars
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "DOCUMENT SECTION %d [Document: %s, Page: %d]:\n%s",
			len(sections)+1, doc.Filename, m.Page, m.Text)
		used += textLen
		sections = append(sections, model.ContextSection{
			DocumentID: doc.ID,
			Filename:   doc.Filename,
			Page:       m.Page,
			ChunkIndex: m.ChunkIndex,
			Text:       m.Text,
			Score:      m.Score,
		})
	}
	return sections, sb.String()
}

func (s *QueryService) record(key, question, answer string) {
	if s.sessions == nil {
		return
	}
	now := s.now().Unix()
	s.sessions.Append(key,
		model.ChatMessage{Role: model.RoleUser, Content: question, Ctime: now},
		model.ChatMessage{Role: model.RoleAssistant, Content: answer, Ctime: now},
	)
}

// recordFailure leaves a system line in the transcript so the session
// history shows that the question was asked but not answered.
func (s *QueryService) recordFailure(key, question string) {
	if s.sessions == nil {
		return
	}
	now := s.now().Unix()
	s.sessions.Append(key,
		model.ChatMessage{Role: model.RoleUser, Content: question, Ctime: now},
		model.ChatMessage{Role: model.RoleSystem, Content: "the question could not be answered due to an internal error", Ctime: now},
	)
}

func buildPrompt(contextText, question string) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant answering questions about a document.\n")
	sb.WriteString("Answer using ONLY the context below. If the context does not contain the answer, say you could not find it in the document. Do not use outside knowledge.\n\n")
	sb.WriteString("Context:\n")
	sb.WriteString(contextText)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}

func contextDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
