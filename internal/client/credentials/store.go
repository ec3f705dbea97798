package credentials

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/tradepost/internal/logging"
)

// Store is the single owner of the current credential pair. Readers always
// observe either both tokens or neither.
type Store struct {
	mu        sync.RWMutex
	pair      Pair
	persister Persister
	logger    logging.Logger
}

// NewMemoryStore returns a store that keeps the pair in process memory only.
func NewMemoryStore() *Store {
	return &Store{logger: logging.Nop()}
}

// Open builds a store backed by p and loads whatever pair it holds. A stored
// half-pair is treated as absent and removed.
func Open(ctx context.Context, p Persister, logger logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Store{persister: p, logger: logger}
	if p == nil {
		return s, nil
	}

	pair, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	switch {
	case pair.Complete():
		s.pair = pair
	case pair.AccessToken != "" || pair.RefreshToken != "":
		logger.Warn(ctx, "discarding incomplete stored credentials")
		if err := p.Delete(ctx); err != nil {
			return nil, fmt.Errorf("discard incomplete credentials: %w", err)
		}
	}
	return s, nil
}

func (s *Store) Access() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.AccessToken, s.pair.AccessToken != ""
}

func (s *Store) Refresh() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.RefreshToken, s.pair.RefreshToken != ""
}

func (s *Store) Pair() (Pair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair, s.pair.Complete()
}

// Set replaces both tokens. The in-memory pair is updated even if persisting
// it fails; the returned error then reports the persistence failure only.
func (s *Store) Set(ctx context.Context, p Pair) error {
	if !p.Complete() {
		return ErrIncompletePair
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pair = p
	if s.persister == nil {
		return nil
	}
	if err := s.persister.Save(ctx, p); err != nil {
		return fmt.Errorf("persist credentials: %w", err)
	}
	return nil
}

// Clear drops both tokens. Clearing an empty store is a no-op.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pair = Pair{}
	if s.persister == nil {
		return nil
	}
	if err := s.persister.Delete(ctx); err != nil {
		return fmt.Errorf("delete persisted credentials: %w", err)
	}
	return nil
}
