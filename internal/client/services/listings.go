package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/tradepost/internal/client/api"
	"github.com/dmitrijs2005/tradepost/internal/client/models"
	"github.com/dmitrijs2005/tradepost/internal/logging"
)

const (
	minePageSize = 100
	// maxScanPages bounds the feed walk of the owner-scan fallback.
	maxScanPages = 20
)

type ListingsAPI interface {
	Feed(ctx context.Context, q api.FeedQuery) (*models.Page[models.Listing], error)
	Search(ctx context.Context, q api.SearchQuery) (*models.Page[models.Listing], error)
	GetListing(ctx context.Context, id string) (*models.Listing, error)
}

// ErrNotSignedIn is returned by operations that need an identity.
var ErrNotSignedIn = errors.New("not signed in")

// Listings is the read side of the marketplace: feed, search, single listing
// and the signed-in user's own listings.
type Listings struct {
	api       ListingsAPI
	logger    logging.Logger
	allowScan bool
}

// NewListings builds the browse service. allowScan enables the feed-scan
// fallback for Mine when the server rejects the owner filter.
func NewListings(listingsAPI ListingsAPI, logger logging.Logger, allowScan bool) *Listings {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Listings{api: listingsAPI, logger: logger, allowScan: allowScan}
}

func (l *Listings) Feed(ctx context.Context, q api.FeedQuery) (*models.Page[models.Listing], error) {
	page, err := l.api.Feed(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("feed: %w", err)
	}
	return page, nil
}

func (l *Listings) Search(ctx context.Context, q api.SearchQuery) (*models.Page[models.Listing], error) {
	page, err := l.api.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return page, nil
}

func (l *Listings) Get(ctx context.Context, id string) (*models.Listing, error) {
	listing, err := l.api.GetListing(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get listing %s: %w", id, err)
	}
	return listing, nil
}

// Mine returns the listings of user using the server-side owner filter.
func (l *Listings) Mine(ctx context.Context, user *models.User) ([]models.Listing, error) {
	if user == nil || user.ID == "" {
		return nil, ErrNotSignedIn
	}

	var own []models.Listing
	returned := 0
	for n := 1; ; n++ {
		page, err := l.api.Search(ctx, api.SearchQuery{SellerID: user.ID, Page: n, PageSize: minePageSize})
		if err != nil {
			if n == 1 && l.allowScan && filterRejected(err) {
				return l.MineFallback(ctx, user)
			}
			return nil, fmt.Errorf("my listings page %d: %w", n, err)
		}
		returned += len(page.Items)
		own = append(own, ownedBy(page.Items, user.ID)...)
		if len(page.Items) == 0 || n >= page.Pages {
			break
		}
	}

	if len(own) != returned {
		l.logger.Warn(ctx, "server ignored the owner filter", "returned", returned, "owned", len(own))
	}
	return own, nil
}

// MineFallback walks the public feed and keeps the listings of user. It only
// sees live listings and is slow, so every use is logged.
func (l *Listings) MineFallback(ctx context.Context, user *models.User) ([]models.Listing, error) {
	if user == nil || user.ID == "" {
		return nil, ErrNotSignedIn
	}
	l.logger.Warn(ctx, "owner filter unavailable, scanning the feed", "user_id", user.ID)

	var own []models.Listing
	for n := 1; n <= maxScanPages; n++ {
		page, err := l.api.Feed(ctx, api.FeedQuery{Page: n, PageSize: minePageSize})
		if err != nil {
			return nil, fmt.Errorf("scan feed page %d: %w", n, err)
		}
		own = append(own, ownedBy(page.Items, user.ID)...)
		if len(page.Items) == 0 || n >= page.Pages {
			break
		}
	}
	return own, nil
}

func filterRejected(err error) bool {
	status, ok := api.StatusOf(err)
	if !ok {
		return false
	}
	return status == http.StatusBadRequest || status == http.StatusNotFound || status == http.StatusUnprocessableEntity
}

func ownedBy(items []models.Listing, userID string) []models.Listing {
	out := make([]models.Listing, 0, len(items))
	for _, it := range items {
		if it.SellerID == userID {
			out = append(out, it)
		}
	}
	return out
}
