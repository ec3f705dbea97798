package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/tradepost/internal/client/api"
	"github.com/dmitrijs2005/tradepost/internal/client/models"
	"github.com/dmitrijs2005/tradepost/internal/client/services"
)

// Draft starts a new draft, or with an id, opens an existing listing for
// editing. Pending edits of a previous draft are dropped.
func (a *App) Draft(ctx context.Context, args []string) error {
	var h *services.DraftHandle
	switch len(args) {
	case 0:
		h = a.drafts.NewDraft()
	case 1:
		h = a.drafts.OpenDraft(args[0])
		l, err := a.drafts.Refresh(ctx, h)
		if err != nil {
			return err
		}
		renderListing(a.out, l, a.favorites.IsFavorite(l.ID))
	default:
		return usageError("draft [listing-id]")
	}

	a.mu.Lock()
	a.draft = h
	a.pending = models.ListingFields{}
	a.mu.Unlock()

	if len(args) == 0 {
		a.println("New draft. Use 'set <field> <value>' then 'save'.")
	}
	return nil
}

// Set records a field edit on the current draft. It is sent on the next save.
// "set description" without a value reads several lines.
func (a *App) Set(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("set <title|description|price|currency|category|brand|size|condition> <value>")
	}
	if _, err := a.currentDraft(); err != nil {
		return err
	}

	name := args[0]
	value := strings.Join(args[1:], " ")
	if strings.EqualFold(name, "description") && value == "" {
		text, err := GetMultiline(a.reader, "Enter description", a.out)
		if err != nil {
			return err
		}
		value = text
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending.Set(name, value)
}

// Save creates the draft on first use and updates it afterwards.
func (a *App) Save(ctx context.Context) error {
	h, err := a.currentDraft()
	if err != nil {
		return err
	}

	a.mu.Lock()
	fields := a.pending
	a.mu.Unlock()

	l, err := a.drafts.SaveDraft(ctx, h, fields)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.pending = models.ListingFields{}
	a.mu.Unlock()
	a.printf("Saved draft %s (%s).\n", l.ID, l.Status)
	return nil
}

func (a *App) Image(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("image <path>")
	}
	h, err := a.currentDraft()
	if err != nil {
		return err
	}

	file, err := services.LoadImageFile(args[0])
	if err != nil {
		return err
	}
	img, err := a.drafts.AttachImage(ctx, h, file)
	if err != nil {
		return err
	}
	a.printf("Attached %s.\n", img.URL)
	return nil
}

func (a *App) Publish(ctx context.Context) error {
	h, err := a.currentDraft()
	if err != nil {
		return err
	}
	l, err := a.drafts.Publish(ctx, h)
	if err != nil {
		return err
	}
	a.printf("Listing %s is %s.\n", l.ID, l.Status)
	return nil
}

func (a *App) Delete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("delete <listing-id>")
	}
	if err := a.drafts.Delete(ctx, args[0]); err != nil {
		return err
	}

	a.mu.Lock()
	if a.draft != nil {
		if id, ok := a.draft.ID(); ok && id == args[0] {
			a.draft = nil
			a.pending = models.ListingFields{}
		}
	}
	a.mu.Unlock()
	a.println("Deleted.")
	return nil
}

func (a *App) currentDraft() (*services.DraftHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.draft == nil {
		return nil, fmt.Errorf("%w: no draft open, use 'draft' first", api.ErrPreconditionFailed)
	}
	return a.draft, nil
}
