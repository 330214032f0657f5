package profile

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[int64]*Profile
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[int64]*Profile)}
}

func (s *MemoryStore) GetProfile(_ context.Context, userID int64) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[userID].Clone(), nil
}

func (s *MemoryStore) ScanProfiles(_ context.Context, excludeUserID int64) ([]*Profile, error) {
	s.mu.RLock()
	out := make([]*Profile, 0, len(s.profiles))
	for id, p := range s.profiles {
		if id == excludeUserID {
			continue
		}
		out = append(out, p.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) UpsertProfile(_ context.Context, p *Profile) error {
	s.mu.Lock()
	s.profiles[p.UserID] = p.Clone()
	s.mu.Unlock()
	return nil
}
