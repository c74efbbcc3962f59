package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type pineconeConfig struct {
	Host           string `json:"host"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// pineconeStore talks to a single Pinecone index over its data-plane REST
// API. Namespaces map straight onto Pinecone namespaces.
type pineconeStore struct {
	host   string
	apiKey string
	client *http.Client
}

func init() {
	Register("pinecone", func(args interface{}, deps Deps) (Store, error) {
		cfg := pineconeConfig{}
		if err := decodeConfig(args, &cfg); err != nil {
			return nil, err
		}
		return NewPinecone(cfg.Host, cfg.APIKey, cfg.TimeoutSeconds)
	})
}

func NewPinecone(host string, apiKey string, timeoutSeconds int) (Store, error) {
	host = strings.TrimSuffix(strings.TrimSpace(host), "/")
	if host == "" {
		return nil, fmt.Errorf("pinecone host is required")
	}
	if !strings.HasPrefix(host, "http") {
		host = "https://" + host
	}
	if apiKey == "" {
		return nil, fmt.Errorf("pinecone api key is required")
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	return &pineconeStore{
		host:   host,
		apiKey: apiKey,
		client: &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
	}, nil
}

type pineconeVector struct {
	ID       string            `json:"id"`
	Values   []float32         `json:"values"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type pineconeUpsertRequest struct {
	Vectors   []pineconeVector `json:"vectors"`
	Namespace string           `json:"namespace"`
}

type pineconeQueryRequest struct {
	Namespace       string    `json:"namespace"`
	TopK            int       `json:"topK"`
	Vector          []float32 `json:"vector"`
	IncludeMetadata bool      `json:"includeMetadata"`
	IncludeValues   bool      `json:"includeValues"`
}

type pineconeQueryResponse struct {
	Matches []struct {
		ID       string            `json:"id"`
		Score    float32           `json:"score"`
		Metadata map[string]string `json:"metadata"`
	} `json:"matches"`
}

type pineconeDeleteRequest struct {
	DeleteAll bool   `json:"deleteAll"`
	Namespace string `json:"namespace"`
}

type pineconeStatsResponse struct {
	Namespaces map[string]struct {
		VectorCount int64 `json:"vectorCount"`
	} `json:"namespaces"`
}

const pineconeUpsertBatch = 100

func (s *pineconeStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	for start := 0; start < len(records); start += pineconeUpsertBatch {
		end := start + pineconeUpsertBatch
		if end > len(records) {
			end = len(records)
		}
		vectors := make([]pineconeVector, 0, end-start)
		for _, rec := range records[start:end] {
			vectors = append(vectors, pineconeVector{
				ID:     rec.ID,
				Values: rec.Values,
				Metadata: map[string]string{
					"document_id": rec.DocumentID,
					"chunk_index": fmt.Sprintf("%d", rec.ChunkIndex),
					"page":        fmt.Sprintf("%d", rec.Page),
					"filename":    rec.Filename,
					"text":        rec.Text,
				},
			})
		}
		req := pineconeUpsertRequest{Vectors: vectors, Namespace: namespace}
		if err := s.post(ctx, "/vectors/upsert", req, nil); err != nil {
			return fmt.Errorf("pinecone upsert: %w", err)
		}
	}
	return nil
}

func (s *pineconeStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}
	req := pineconeQueryRequest{
		Namespace:       namespace,
		TopK:            topK,
		Vector:          vector,
		IncludeMetadata: true,
	}
	res := pineconeQueryResponse{}
	if err := s.post(ctx, "/query", req, &res); err != nil {
		return nil, fmt.Errorf("pinecone query: %w", err)
	}
	matches := make([]Match, 0, len(res.Matches))
	for _, m := range res.Matches {
		rec := Record{ID: m.ID}
		if m.Metadata != nil {
			rec.DocumentID = m.Metadata["document_id"]
			rec.Filename = m.Metadata["filename"]
			rec.Text = m.Metadata["text"]
			fmt.Sscanf(m.Metadata["chunk_index"], "%d", &rec.ChunkIndex)
			fmt.Sscanf(m.Metadata["page"], "%d", &rec.Page)
		}
		matches = append(matches, Match{Record: rec, Score: m.Score})
	}
	return matches, nil
}

func (s *pineconeStore) DeleteNamespace(ctx context.Context, namespace string) error {
	req := pineconeDeleteRequest{DeleteAll: true, Namespace: namespace}
	if err := s.post(ctx, "/vectors/delete", req, nil); err != nil {
		// Deleting a namespace that never existed is not an error.
		if strings.Contains(err.Error(), "status 404") {
			return nil
		}
		return fmt.Errorf("pinecone delete namespace: %w", err)
	}
	return nil
}

func (s *pineconeStore) Count(ctx context.Context, namespace string) (int64, error) {
	stats, err := s.Namespaces(ctx)
	if err != nil {
		return 0, err
	}
	return stats[namespace], nil
}

func (s *pineconeStore) Namespaces(ctx context.Context) (map[string]int64, error) {
	res := pineconeStatsResponse{}
	if err := s.post(ctx, "/describe_index_stats", struct{}{}, &res); err != nil {
		return nil, fmt.Errorf("pinecone index stats: %w", err)
	}
	out := make(map[string]int64, len(res.Namespaces))
	for ns, st := range res.Namespaces {
		out[ns] = st.VectorCount
	}
	return out, nil
}

func (s *pineconeStore) post(ctx context.Context, path string, body interface{}, dst interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.host+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", s.apiKey)
	rsp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer rsp.Body.Close()
	data, err := io.ReadAll(rsp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if rsp.StatusCode/100 != 2 {
		return fmt.Errorf("status %d: %s", rsp.StatusCode, truncateBody(data))
	}
	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncateBody(data []byte) string {
	const limit = 256
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}
