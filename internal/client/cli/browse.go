package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/tradepost/internal/client/api"
	"github.com/dmitrijs2005/tradepost/internal/client/models"
)

func (a *App) Feed(ctx context.Context, args []string) error {
	q := api.FeedQuery{}
	if len(args) > 0 {
		page, err := strconv.Atoi(args[0])
		if err != nil || page < 1 {
			return usageError("feed [page]")
		}
		q.Page = page
	}

	page, err := a.listings.Feed(ctx, q)
	if err != nil {
		return err
	}
	a.renderPage(page)
	return nil
}

func (a *App) Search(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("search <query>")
	}
	page, err := a.listings.Search(ctx, api.SearchQuery{Q: strings.Join(args, " ")})
	if err != nil {
		return err
	}
	a.renderPage(page)
	return nil
}

func (a *App) renderPage(page *models.Page[models.Listing]) {
	renderListings(a.out, page.Items, a.favorites.IsFavorite)
	if page.Pages > 1 {
		a.printf("Page %d of %d (%d listings)\n", page.Page, page.Pages, page.Total)
	}
}

func (a *App) Show(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("show <listing-id>")
	}
	l, err := a.listings.Get(ctx, args[0])
	if err != nil {
		return err
	}
	renderListing(a.out, l, a.favorites.IsFavorite(l.ID))
	return nil
}

// Fav toggles the favorite mark of a listing.
func (a *App) Fav(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("fav <listing-id>")
	}
	on, err := a.favorites.Toggle(ctx, args[0])
	if err != nil {
		return err
	}
	if on {
		a.println("Added to favorites.")
	} else {
		a.println("Removed from favorites.")
	}
	return nil
}

func (a *App) Favs(ctx context.Context) error {
	favs, err := a.favorites.Sync(ctx)
	if err != nil {
		return err
	}
	sort.SliceStable(favs, func(i, j int) bool { return favs[i].CreatedAt.After(favs[j].CreatedAt) })

	items := make([]models.Listing, 0, len(favs))
	for _, f := range favs {
		if f.Listing != nil {
			items = append(items, *f.Listing)
		} else {
			items = append(items, models.Listing{ID: f.ListingID, Title: "(unavailable)"})
		}
	}
	renderListings(a.out, items, a.favorites.IsFavorite)
	return nil
}

func (a *App) Mine(ctx context.Context) error {
	items, err := a.listings.Mine(ctx, a.session.Identity())
	if err != nil {
		return err
	}
	renderListings(a.out, items, nil)
	return nil
}

// Stats prints the client's request and inbox counters.
func (a *App) Stats(ctx context.Context) error {
	families, err := a.registry.Gather()
	if err != nil {
		return err
	}
	tw := newTable(a.out)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			var value string
			switch {
			case m.GetCounter() != nil:
				value = strconv.FormatFloat(m.GetCounter().GetValue(), 'f', -1, 64)
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				value = fmt.Sprintf("count=%d sum=%.3fs", h.GetSampleCount(), h.GetSampleSum())
			default:
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", mf.GetName(), strings.Join(labels, ","), value)
		}
	}
	return tw.Flush()
}
