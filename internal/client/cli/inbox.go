package cli

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/tradepost/internal/client/api"
	"github.com/dmitrijs2005/tradepost/internal/client/inbox"
)

// Inbox opens the inbox view; conversations are then polled in the
// background and printed when they change.
func (a *App) Inbox(ctx context.Context) error {
	a.inbox.Start(a.runCtx)
	if convs := a.inbox.Conversations(); len(convs) > 0 {
		renderConversations(a.out, convs)
	} else {
		a.println("Loading conversations...")
	}
	return nil
}

func (a *App) OpenConversation(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("open <conversation-id>")
	}
	a.inbox.Start(a.runCtx)
	a.inbox.Select(args[0])
	a.printf("Opened conversation %s. Use 'send <text>' to reply, 'close' to leave.\n", args[0])
	return nil
}

func (a *App) CloseConversation(ctx context.Context) error {
	a.inbox.Deselect()
	return nil
}

func (a *App) Send(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("send <text>")
	}
	_, err := a.inbox.Send(ctx, strings.Join(args, " "))
	return err
}

// StartConversation contacts the seller of a listing and opens the
// conversation.
func (a *App) StartConversation(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("start <listing-id>")
	}
	a.inbox.Start(a.runCtx)
	conv, err := a.inbox.StartConversation(ctx, args[0])
	if err != nil {
		return err
	}
	a.printf("Opened conversation %s with %s about %q.\n", conv.ID, conv.OtherUser.Email, conv.ListingTitle)
	return nil
}

// watchInbox prints inbox changes until ctx ends.
func (a *App) watchInbox(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.inbox.Updates():
			a.renderInboxEvent(ctx, ev)
		}
	}
}

func (a *App) renderInboxEvent(ctx context.Context, ev inbox.Event) {
	switch ev.Kind {
	case inbox.EventConversations:
		convs := a.inbox.Conversations()
		unread := 0
		for _, c := range convs {
			unread += c.UnreadCount
		}

		a.mu.Lock()
		changed := len(convs) != a.shown.convs || unread != a.shown.unread
		a.shown.convs, a.shown.unread = len(convs), unread
		a.mu.Unlock()

		if changed {
			a.println()
			renderConversations(a.out, convs)
		}

	case inbox.EventMessages:
		id, ok := a.inbox.Selected()
		msgs := a.inbox.Messages()

		a.mu.Lock()
		if !ok {
			a.shown.conversationID, a.shown.count = "", 0
			a.mu.Unlock()
			return
		}
		if id != a.shown.conversationID {
			a.shown.conversationID, a.shown.count = id, 0
		}
		from := min(a.shown.count, len(msgs))
		a.shown.count = len(msgs)
		a.mu.Unlock()

		if fresh := msgs[from:]; len(fresh) > 0 {
			selfID := ""
			if u := a.session.Identity(); u != nil {
				selfID = u.ID
			}
			renderMessages(a.out, fresh, selfID)
		}

	case inbox.EventError:
		a.logger.Debug(ctx, "inbox poll error shown", "error", ev.Err)
		a.println("[inbox]", api.UserMessage(ev.Err))

	case inbox.EventSessionEnded:
		a.println("[inbox] Session ended. Type 'login' to sign in again.")
	}
}
