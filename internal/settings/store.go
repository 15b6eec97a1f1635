package settings

import (
	"context"
	"strings"
	"sync"
)

// Store persists voice settings per user.
type Store interface {
	Get(ctx context.Context, userID string) (VoiceSettings, error)
	Put(ctx context.Context, userID string, s VoiceSettings) (VoiceSettings, error)
	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string, defaults VoiceSettings) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(defaults), nil
	}
	return NewPostgresStore(ctx, databaseURL, defaults)
}

// InMemoryStore keeps settings in process memory for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	defaults VoiceSettings
	byUser   map[string]VoiceSettings
}

func NewInMemoryStore(defaults VoiceSettings) *InMemoryStore {
	return &InMemoryStore{defaults: defaults, byUser: make(map[string]VoiceSettings)}
}

func (s *InMemoryStore) Get(_ context.Context, userID string) (VoiceSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.byUser[userID]; ok {
		return v, nil
	}
	return s.defaults, nil
}

func (s *InMemoryStore) Put(_ context.Context, userID string, in VoiceSettings) (VoiceSettings, error) {
	v, err := in.Normalize(s.defaults)
	if err != nil {
		return VoiceSettings{}, err
	}
	s.mu.Lock()
	s.byUser[userID] = v
	s.mu.Unlock()
	return v, nil
}

func (s *InMemoryStore) Close() error { return nil }
