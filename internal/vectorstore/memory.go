package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
)

// memoryStore keeps records per namespace in process memory. It backs tests
// and single-node development setups.
type memoryStore struct {
	mu   sync.RWMutex
	data map[string][]Record
}

func init() {
	Register("memory", func(args interface{}, deps Deps) (Store, error) {
		return NewMemory(), nil
	})
}

func NewMemory() Store {
	return &memoryStore{data: map[string][]Record{}}
}

func (s *memoryStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.data[namespace]
	byID := make(map[string]int, len(existing))
	for i, rec := range existing {
		byID[rec.ID] = i
	}
	for _, rec := range records {
		if i, ok := byID[rec.ID]; ok {
			existing[i] = rec
			continue
		}
		byID[rec.ID] = len(existing)
		existing = append(existing, rec)
	}
	s.data[namespace] = existing
	return nil
}

func (s *memoryStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}
	s.mu.RLock()
	records := s.data[namespace]
	matches := make([]Match, 0, len(records))
	for _, rec := range records {
		matches = append(matches, Match{Record: rec, Score: CosineSimilarity(vector, rec.Values)})
	}
	s.mu.RUnlock()
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ChunkIndex < matches[j].ChunkIndex
	})
	if topK < len(matches) {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *memoryStore) DeleteNamespace(ctx context.Context, namespace string) error {
	s.mu.Lock()
	delete(s.data, namespace)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Count(ctx context.Context, namespace string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.data[namespace])), nil
}

func (s *memoryStore) Namespaces(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.data))
	for ns, records := range s.data {
		if len(records) == 0 {
			continue
		}
		out[ns] = int64(len(records))
	}
	return out, nil
}

// CosineSimilarity returns 0 for mismatched or zero vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
