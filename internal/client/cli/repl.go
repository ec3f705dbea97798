package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/tradepost/internal/client/api"
)

// execIface defines the command surface the REPL dispatches to. The real App
// satisfies it; tests provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool

	Signup(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Whoami(ctx context.Context) error

	Feed(ctx context.Context, args []string) error
	Search(ctx context.Context, args []string) error
	Show(ctx context.Context, args []string) error
	Fav(ctx context.Context, args []string) error
	Favs(ctx context.Context) error
	Mine(ctx context.Context) error

	Draft(ctx context.Context, args []string) error
	Set(ctx context.Context, args []string) error
	Save(ctx context.Context) error
	Image(ctx context.Context, args []string) error
	Publish(ctx context.Context) error
	Delete(ctx context.Context, args []string) error

	Inbox(ctx context.Context) error
	OpenConversation(ctx context.Context, args []string) error
	CloseConversation(ctx context.Context) error
	Send(ctx context.Context, args []string) error
	StartConversation(ctx context.Context, args []string) error

	Stats(ctx context.Context) error
}

const (
	helpAnonymous = "Available commands: signup, login, feed [page], search <query>, show <id>, exit"
	helpSignedIn  = "Available commands: whoami, feed [page], search <query>, show <id>, fav <id>, favs, mine,\n" +
		"  draft [id], set <field> <value>, save, image <path>, publish, delete <id>,\n" +
		"  inbox, open <conversation-id>, close, send <text>, start <listing-id>, stats, logout, exit"
)

// needsLogin lists the commands that require a session.
var needsLogin = map[string]bool{
	"whoami": true, "fav": true, "favs": true, "mine": true,
	"draft": true, "set": true, "save": true, "image": true, "publish": true, "delete": true,
	"inbox": true, "open": true, "close": true, "send": true, "start": true,
	"logout": true,
}

// runREPL reads commands from scanner and dispatches them to a until EOF,
// "exit" or "quit". Command errors are reported to out and never end the
// loop. A command that finds the session gone sends the user back to login.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner, out io.Writer) {
	for {
		if ctx.Err() != nil {
			return
		}
		fmt.Fprintf(out, "tradepost%s> ", prefixSpace(statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		if cmd == "exit" || cmd == "quit" {
			fmt.Fprintln(out, "Bye!")
			return
		}
		if needsLogin[cmd] && !a.isLoggedIn() {
			fmt.Fprintln(out, "Please log in first (signup or login).")
			continue
		}

		err := dispatch(ctx, a, cmd, args, out)
		if err == nil {
			continue
		}
		fmt.Fprintln(out, "Error:", api.UserMessage(err))
		if errors.Is(err, api.ErrSessionExpired) {
			fmt.Fprintln(out, "Type 'login' to sign in again.")
		}
	}
}

func dispatch(ctx context.Context, a execIface, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "help":
		if a.isLoggedIn() {
			fmt.Fprintln(out, helpSignedIn)
		} else {
			fmt.Fprintln(out, helpAnonymous)
		}
		return nil

	case "signup", "register":
		return a.Signup(ctx)
	case "login":
		return a.Login(ctx)
	case "logout":
		return a.Logout(ctx)
	case "whoami":
		return a.Whoami(ctx)

	case "feed":
		return a.Feed(ctx, args)
	case "search":
		return a.Search(ctx, args)
	case "show":
		return a.Show(ctx, args)
	case "fav":
		return a.Fav(ctx, args)
	case "favs":
		return a.Favs(ctx)
	case "mine":
		return a.Mine(ctx)

	case "draft":
		return a.Draft(ctx, args)
	case "set":
		return a.Set(ctx, args)
	case "save":
		return a.Save(ctx)
	case "image":
		return a.Image(ctx, args)
	case "publish":
		return a.Publish(ctx)
	case "delete":
		return a.Delete(ctx, args)

	case "inbox":
		return a.Inbox(ctx)
	case "open":
		return a.OpenConversation(ctx, args)
	case "close":
		return a.CloseConversation(ctx)
	case "send":
		return a.Send(ctx, args)
	case "start":
		return a.StartConversation(ctx, args)

	case "stats":
		return a.Stats(ctx)

	default:
		fmt.Fprintln(out, "Unknown command:", cmd)
		return nil
	}
}

// usageError is returned for malformed command arguments.
type usageError string

func (u usageError) Error() string { return "usage: " + string(u) }

func prefixSpace(s string) string {
	if s == "" {
		return ""
	}
	return " " + s
}
