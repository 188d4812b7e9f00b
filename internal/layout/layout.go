// Package layout owns the current layout, ui and preferences state and
// persists it to the local store.
package layout

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/codecards/internal/logging"
	"github.com/mesh-intelligence/codecards/pkg/types"
)

// StorageKey is the local store key holding the persisted LayoutState.
const StorageKey = "layout"

// Store holds the in-memory LayoutState. Reads never fail; writes validate
// before anything is changed.
type Store struct {
	mu    sync.RWMutex
	state types.LayoutState
	kv    types.KVStore
	log   *zap.SugaredLogger
}

// Load reads the persisted layout. A missing, corrupt or out-of-range value
// falls back to DefaultLayoutState and is logged, never returned as an
// error.
func Load(kv types.KVStore, log *zap.SugaredLogger) *Store {
	log = logging.OrNop(log).Named(logging.ComponentLayout)
	s := &Store{state: types.DefaultLayoutState(), kv: kv, log: log}

	var persisted types.LayoutState
	found, err := kv.Get(StorageKey, &persisted)
	switch {
	case err != nil:
		log.Warnw("discarding unreadable layout", "error", err)
	case !found:
	default:
		if err := persisted.Validate(); err != nil {
			log.Warnw("discarding invalid layout", "error", err)
			break
		}
		s.state = persisted
	}
	return s
}

// Current returns a copy of the current state.
func (s *Store) Current() types.LayoutState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Set validates next, makes it current and persists it. On validation
// failure nothing changes. A persistence failure is returned but the
// in-memory state is still updated, so the UI reflects what the user did.
func (s *Store) Set(next types.LayoutState) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()

	if err := s.kv.Put(StorageKey, next); err != nil {
		s.log.Errorw("persisting layout", "error", err)
		return fmt.Errorf("persisting layout: %w", err)
	}
	return nil
}

// Update applies fn to a copy of the current state and stores the result
// with Set.
func (s *Store) Update(fn func(*types.LayoutState)) error {
	next := s.Current()
	fn(&next)
	return s.Set(next)
}
