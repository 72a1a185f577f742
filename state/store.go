package state

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Store holds the last reported state of every member entity.
// Entries older than the ttl are treated as missing; a zero ttl keeps them forever.
type Store struct {
	items *cache.Cache

	mu       sync.Mutex
	removing map[string]bool
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		return &Store{items: cache.New(cache.NoExpiration, 0), removing: map[string]bool{}}
	}
	return &Store{items: cache.New(ttl, ttl), removing: map[string]bool{}}
}

// OnExpire registers fn to run when an entry ages out. It runs on the cache
// janitor goroutine and is not called for Remove.
func (s *Store) OnExpire(fn func(entityID string)) {
	s.items.OnEvicted(func(entityID string, _ interface{}) {
		s.mu.Lock()
		explicit := s.removing[entityID]
		s.mu.Unlock()
		if !explicit {
			fn(entityID)
		}
	})
}

func (s *Store) Set(entityID, value string) {
	s.items.Set(entityID, value, cache.DefaultExpiration)
}

func (s *Store) Remove(entityID string) {
	s.mu.Lock()
	s.removing[entityID] = true
	s.mu.Unlock()
	s.items.Delete(entityID)
	s.mu.Lock()
	delete(s.removing, entityID)
	s.mu.Unlock()
}

// Get satisfies Lookup.
func (s *Store) Get(entityID string) (string, bool) {
	v, ok := s.items.Get(entityID)
	if !ok {
		return "", false
	}
	value, ok := v.(string)
	return value, ok
}

func (s *Store) Len() int {
	return s.items.ItemCount()
}

func (s *Store) Flush() {
	s.items.Flush()
}
