package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/tradepost/internal/client/models"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// renderListings prints listings as a table. isFav marks favorites with '*'.
func renderListings(w io.Writer, items []models.Listing, isFav func(string) bool) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No listings.")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "\tID\tTITLE\tPRICE\tSTATUS")
	for _, l := range items {
		mark := ""
		if isFav != nil && isFav(l.ID) {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", mark, l.ID, l.Title, formatPrice(l.Price, l.Currency), l.Status)
	}
	_ = tw.Flush()
}

func renderListing(w io.Writer, l *models.Listing, fav bool) {
	tw := newTable(w)
	fmt.Fprintf(tw, "ID:\t%s\n", l.ID)
	fmt.Fprintf(tw, "Title:\t%s\n", l.Title)
	fmt.Fprintf(tw, "Price:\t%s\n", formatPrice(l.Price, l.Currency))
	fmt.Fprintf(tw, "Status:\t%s\n", l.Status)
	if l.Category != "" {
		fmt.Fprintf(tw, "Category:\t%s\n", l.Category)
	}
	if l.Brand != nil {
		fmt.Fprintf(tw, "Brand:\t%s\n", *l.Brand)
	}
	if l.Size != nil {
		fmt.Fprintf(tw, "Size:\t%s\n", *l.Size)
	}
	if l.Condition != "" {
		fmt.Fprintf(tw, "Condition:\t%s\n", l.Condition)
	}
	if l.Seller != nil {
		fmt.Fprintf(tw, "Seller:\t%s\n", l.Seller.Email)
	}
	fmt.Fprintf(tw, "Images:\t%d\n", len(l.Images))
	if fav {
		fmt.Fprintf(tw, "Favorite:\tyes\n")
	}
	_ = tw.Flush()
	if l.Description != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, l.Description)
	}
}

func renderConversations(w io.Writer, convs []models.ConversationSummary) {
	if len(convs) == 0 {
		fmt.Fprintln(w, "No conversations.")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tLISTING\tWITH\tUNREAD\tLAST")
	for _, c := range convs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", c.ID, c.ListingTitle, c.OtherUser.Email, c.UnreadCount, truncate(deref(c.LastMessage), 40))
	}
	_ = tw.Flush()
}

func renderMessages(w io.Writer, msgs []models.Message, selfID string) {
	for _, m := range msgs {
		who := "them"
		if m.SenderID == selfID {
			who = "me"
		}
		fmt.Fprintf(w, "[%s] %s: %s\n", m.CreatedAt.Local().Format(time.Kitchen), who, m.Body)
	}
}

func formatPrice(p float64, currency string) string {
	if currency == "" {
		return fmt.Sprintf("%.2f", p)
	}
	return fmt.Sprintf("%.2f %s", p, currency)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
