package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/tradepost/internal/client/models"
	"github.com/dmitrijs2005/tradepost/internal/logging"
)

type FavoritesAPI interface {
	AddFavorite(ctx context.Context, listingID string) error
	RemoveFavorite(ctx context.Context, listingID string) error
	ListFavorites(ctx context.Context) ([]models.Favorite, error)
}

// Favorites keeps the local favorited flag per listing and flips it
// optimistically. A listing never seen before counts as not favorited until
// Sync has been called.
type Favorites struct {
	api    FavoritesAPI
	logger logging.Logger

	mu    sync.Mutex
	state map[string]bool
	// gen counts local writes per listing so a late rollback does not undo a
	// newer toggle of the same listing.
	gen map[string]uint64
}

func NewFavorites(favAPI FavoritesAPI, logger logging.Logger) *Favorites {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Favorites{
		api:    favAPI,
		logger: logger,
		state:  make(map[string]bool),
		gen:    make(map[string]uint64),
	}
}

func (f *Favorites) IsFavorite(listingID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state[listingID]
}

// Toggle flips the local flag immediately, then asks the server to add or
// remove the favorite. When the server call fails the flag goes back to its
// value before the toggle and the error is returned; nothing is retried.
// It returns the flag value in effect afterwards.
func (f *Favorites) Toggle(ctx context.Context, listingID string) (bool, error) {
	f.mu.Lock()
	prev := f.state[listingID]
	next := !prev
	f.state[listingID] = next
	f.gen[listingID]++
	gen := f.gen[listingID]
	f.mu.Unlock()

	var err error
	if next {
		err = f.api.AddFavorite(ctx, listingID)
	} else {
		err = f.api.RemoveFavorite(ctx, listingID)
	}
	if err == nil {
		return next, nil
	}

	f.mu.Lock()
	if f.gen[listingID] == gen {
		f.state[listingID] = prev
	}
	f.mu.Unlock()

	f.logger.Warn(ctx, "favorite toggle rolled back", "listing_id", listingID, "error", err)
	return prev, fmt.Errorf("toggle favorite %s: %w", listingID, err)
}

// Sync replaces the local flags with the server's list of favorites and
// returns that list.
func (f *Favorites) Sync(ctx context.Context) ([]models.Favorite, error) {
	favs, err := f.api.ListFavorites(ctx)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.state {
		f.gen[id]++
	}
	f.state = make(map[string]bool, len(favs))
	for _, fav := range favs {
		f.state[fav.ListingID] = true
		f.gen[fav.ListingID]++
	}
	return favs, nil
}

// Reset forgets every local flag, e.g. after logout.
func (f *Favorites) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.state {
		f.gen[id]++
	}
	f.state = make(map[string]bool)
}
