package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/3N-VOY/neuropdfv2/internal/model"
)

const maxSessionMessages = 50

// SessionService keeps per-key chat transcripts in memory. The transcript
// is a convenience mirror for the client; losing it on restart only resets
// the visible history, never the ingested document.
type SessionService struct {
	cache *expirable.LRU[string, []model.ChatMessage]
}

func NewSessionService(size int, ttl time.Duration) *SessionService {
	if size <= 0 {
		size = 10000
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &SessionService{
		cache: expirable.NewLRU[string, []model.ChatMessage](size, nil, ttl),
	}
}

func (s *SessionService) Append(key string, messages ...model.ChatMessage) {
	history, _ := s.cache.Get(key)
	history = append(history, messages...)
	if len(history) > maxSessionMessages {
		history = history[len(history)-maxSessionMessages:]
	}
	s.cache.Add(key, history)
}

func (s *SessionService) History(key string) []model.ChatMessage {
	history, ok := s.cache.Get(key)
	if !ok {
		return nil
	}
	out := make([]model.ChatMessage, len(history))
	copy(out, history)
	return out
}

func (s *SessionService) Clear(key string) {
	s.cache.Remove(key)
}
