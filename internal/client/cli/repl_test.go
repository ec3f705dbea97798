package cli

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/dmitrijs2005/tradepost/internal/client/api"
	"github.com/stretchr/testify/assert"
)

type fakeExec struct {
	loggedIn bool
	failWith error

	calls []string
}

func (f *fakeExec) record(name string, args ...string) error {
	f.calls = append(f.calls, strings.TrimSpace(name+" "+strings.Join(args, " ")))
	return f.failWith
}

func (f *fakeExec) isLoggedIn() bool { return f.loggedIn }

func (f *fakeExec) Signup(ctx context.Context) error {
	f.loggedIn = true
	return f.record("signup")
}
func (f *fakeExec) Login(ctx context.Context) error {
	f.loggedIn = true
	return f.record("login")
}
func (f *fakeExec) Logout(ctx context.Context) error {
	f.loggedIn = false
	return f.record("logout")
}
func (f *fakeExec) Whoami(ctx context.Context) error { return f.record("whoami") }

func (f *fakeExec) Feed(ctx context.Context, args []string) error { return f.record("feed", args...) }
func (f *fakeExec) Search(ctx context.Context, args []string) error { return f.record("search", args...) }
func (f *fakeExec) Show(ctx context.Context, args []string) error { return f.record("show", args...) }
func (f *fakeExec) Fav(ctx context.Context, args []string) error { return f.record("fav", args...) }
func (f *fakeExec) Favs(ctx context.Context) error { return f.record("favs") }
func (f *fakeExec) Mine(ctx context.Context) error { return f.record("mine") }

func (f *fakeExec) Draft(ctx context.Context, args []string) error { return f.record("draft", args...) }
func (f *fakeExec) Set(ctx context.Context, args []string) error { return f.record("set", args...) }
func (f *fakeExec) Save(ctx context.Context) error { return f.record("save") }
func (f *fakeExec) Image(ctx context.Context, args []string) error { return f.record("image", args...) }
func (f *fakeExec) Publish(ctx context.Context) error { return f.record("publish") }
func (f *fakeExec) Delete(ctx context.Context, args []string) error { return f.record("delete", args...) }

func (f *fakeExec) Inbox(ctx context.Context) error { return f.record("inbox") }
func (f *fakeExec) OpenConversation(ctx context.Context, args []string) error {
	return f.record("open", args...)
}
func (f *fakeExec) CloseConversation(ctx context.Context) error { return f.record("close") }
func (f *fakeExec) Send(ctx context.Context, args []string) error {
	return f.record("send", args...)
}
func (f *fakeExec) StartConversation(ctx context.Context, args []string) error {
	return f.record("start", args...)
}

func (f *fakeExec) Stats(ctx context.Context) error { return f.record("stats") }

func runScript(t *testing.T, exec *fakeExec, lines ...string) string {
	t.Helper()
	var out bytes.Buffer
	sc := bufio.NewScanner(strings.NewReader(strings.Join(lines, "\n")))
	runREPL(context.Background(), exec, func() string { return "(me@example.com)" }, sc, &out)
	return out.String()
}

func TestRunREPL_LoginFlowAndCommands(t *testing.T) {
	exec := &fakeExec{}
	out := runScript(t, exec,
		"help",
		"mine",
		"login",
		"help",
		"feed 2",
		"search red bike",
		"show L-1",
		"draft",
		"set title Bike",
		"save",
		"publish",
		"inbox",
		"open C-1",
		"send hi there",
		"close",
		"foobar",
		"exit",
	)

	assert.Equal(t, []string{
		"login", "feed 2", "search red bike", "show L-1",
		"draft", "set title Bike", "save", "publish",
		"inbox", "open C-1", "send hi there", "close",
	}, exec.calls)
	assert.Contains(t, out, helpAnonymous)
	assert.Contains(t, out, helpSignedIn)
	assert.Contains(t, out, "Please log in first")
	assert.Contains(t, out, "Unknown command: foobar")
	assert.Contains(t, out, "tradepost (me@example.com)> ")
	assert.Contains(t, out, "Bye!")
}

func TestRunREPL_AnonymousCommands(t *testing.T) {
	exec := &fakeExec{}
	runScript(t, exec, "feed", "show L-9", "fav L-9", "send x", "quit")
	assert.Equal(t, []string{"feed", "show L-9"}, exec.calls)
}

func TestRunREPL_RegisterAlias(t *testing.T) {
	exec := &fakeExec{}
	runScript(t, exec, "register", "whoami")
	assert.Equal(t, []string{"signup", "whoami"}, exec.calls)
}

func TestRunREPL_ErrorsKeepLoopRunning(t *testing.T) {
	exec := &fakeExec{loggedIn: true, failWith: usageError("show <listing-id>")}
	out := runScript(t, exec, "show", "favs", "exit")

	assert.Equal(t, []string{"show", "favs"}, exec.calls)
	assert.Equal(t, 2, strings.Count(out, "Error: "))
}

func TestRunREPL_SessionExpiredHint(t *testing.T) {
	exec := &fakeExec{loggedIn: true, failWith: fmt.Errorf("list favorites: %w", api.ErrSessionExpired)}
	out := runScript(t, exec, "favs")

	assert.Contains(t, out, "Type 'login' to sign in again.")
}

func TestRunREPL_StopsOnCancelledContext(t *testing.T) {
	exec := &fakeExec{loggedIn: true}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	runREPL(ctx, exec, func() string { return "" }, bufio.NewScanner(strings.NewReader("feed\n")), &out)

	assert.Empty(t, exec.calls)
	assert.Empty(t, out.String())
}

func TestUsageError(t *testing.T) {
	assert.Equal(t, "usage: open <conversation-id>", usageError("open <conversation-id>").Error())
	assert.Equal(t, "", prefixSpace(""))
	assert.Equal(t, " x", prefixSpace("x"))
}
