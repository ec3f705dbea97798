package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/dmitrijs2005/tradepost/internal/client/api"
	"github.com/dmitrijs2005/tradepost/internal/client/config"
	"github.com/dmitrijs2005/tradepost/internal/client/credentials"
	"github.com/dmitrijs2005/tradepost/internal/client/inbox"
	"github.com/dmitrijs2005/tradepost/internal/client/metrics"
	"github.com/dmitrijs2005/tradepost/internal/client/models"
	"github.com/dmitrijs2005/tradepost/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/tradepost/internal/client/services"
	"github.com/dmitrijs2005/tradepost/internal/client/storage"
	"github.com/dmitrijs2005/tradepost/internal/cryptox"
	"github.com/dmitrijs2005/tradepost/internal/filex"
	"github.com/dmitrijs2005/tradepost/internal/logging"
	"github.com/dmitrijs2005/tradepost/internal/netx"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const (
	dbFileName  = "tradepost.db"
	keyFileName = "device.key"

	metaLastEmail = "cli.last_email"
)

// App is the interactive client: the services of one session plus the
// REPL state (current draft, pending field edits, inbox view).
type App struct {
	config *config.Config
	logger logging.Logger
	out    io.Writer
	reader *bufio.Reader

	db       *sql.DB
	meta     metadata.Repository
	store    *credentials.Store
	registry *prometheus.Registry
	http     *http.Client

	client    *api.Client
	session   *services.SessionController
	favorites *services.Favorites
	drafts    *services.Drafts
	listings  *services.Listings
	inbox     *inbox.Controller

	runCtx context.Context

	mu      sync.Mutex
	draft   *services.DraftHandle
	pending models.ListingFields
	shown   shownMessages
}

// shownMessages remembers what the inbox watcher already printed.
type shownMessages struct {
	conversationID string
	count          int
	convs          int
	unread         int
}

// NewApp wires the client from cfg. Unless cfg.Ephemeral is set, credentials
// are kept sealed in a SQLite database under cfg.StateDir.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	a := &App{
		config:   cfg,
		logger:   logger,
		out:      &lockedWriter{w: os.Stdout},
		reader:   bufio.NewReader(os.Stdin),
		registry: prometheus.NewRegistry(),
		http:     &http.Client{Timeout: cfg.HTTPTimeout},
		runCtx:   ctx,
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	pipeline, err := api.NewPipeline(a.store, api.Options{
		BaseURL:          cfg.APIBaseURL,
		HTTPClient:       a.http,
		Logger:           logger.With("component", "api"),
		Metrics:          metrics.NewPipeline(a.registry),
		OnSessionExpired: func() { a.session.Expire() },
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.client = api.NewClient(pipeline)
	a.session = services.NewSessionController(a.client, a.store, logger.With("component", "session"))
	a.favorites = services.NewFavorites(a.client, logger.With("component", "favorites"))
	a.drafts = services.NewDrafts(a.client, a.upload, logger.With("component", "drafts"))
	a.listings = services.NewListings(a.client, logger.With("component", "listings"), cfg.OwnerScanFallback)
	a.inbox = inbox.NewController(a.client, inbox.Config{
		ConversationInterval: cfg.ConversationPollInterval,
		MessageInterval:      cfg.MessagePollInterval,
		Logger:               logger.With("component", "inbox"),
		Metrics:              metrics.NewInbox(a.registry),
	})
	a.session.OnChange(a.onSessionChange)
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	if a.config.Ephemeral {
		a.store = credentials.NewMemoryStore()
		return nil
	}

	dir, err := filex.EnsureDir(a.config.StateDir)
	if err != nil {
		return err
	}
	key, err := cryptox.LoadOrCreateKey(filepath.Join(dir, keyFileName))
	if err != nil {
		return fmt.Errorf("device key: %w", err)
	}
	db, err := storage.Open(ctx, filepath.Join(dir, dbFileName))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	persister, err := credentials.NewSQLitePersister(db, key)
	if err != nil {
		_ = db.Close()
		return err
	}
	store, err := credentials.Open(ctx, persister, a.logger.With("component", "credentials"))
	if err != nil {
		_ = db.Close()
		return err
	}

	a.db = db
	a.meta = metadata.NewSQLiteRepository(db)
	a.store = store
	return nil
}

// Close releases the state database.
func (a *App) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

func (a *App) upload(ctx context.Context, url string, data []byte, contentType string) error {
	return netx.PutPresigned(ctx, a.http, url, data, contentType)
}

// Run resumes any stored session and serves the REPL until the user exits or
// ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.runCtx = ctx

	a.println("Welcome to tradepost (type 'help' for commands)")
	if a.session.Start(ctx) == services.StateAuthenticated {
		a.afterSignIn(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.watchInbox(gctx)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		runREPL(gctx, a, a.status, bufio.NewScanner(a.reader), a.out)
		return nil
	})
	err := g.Wait()
	a.inbox.Stop()
	return err
}

func (a *App) isLoggedIn() bool {
	return a.session.IsAuthenticated()
}

func (a *App) status() string {
	if u := a.session.Identity(); u != nil {
		return "(" + u.Email + ")"
	}
	return ""
}

// onSessionChange runs on whichever goroutine ended the session, possibly an
// inbox loop, so it must not wait on the inbox.
func (a *App) onSessionChange(s services.State) {
	if s != services.StateAnonymous {
		return
	}
	a.favorites.Reset()
	a.mu.Lock()
	a.draft = nil
	a.pending = models.ListingFields{}
	a.shown = shownMessages{}
	a.mu.Unlock()
}

// afterSignIn seeds favorites from the server. Failure only costs the
// favorite markers, so it is logged and ignored.
func (a *App) afterSignIn(ctx context.Context) {
	if u := a.session.Identity(); u != nil {
		a.println("Signed in as", u.Email)
	}
	if _, err := a.favorites.Sync(ctx); err != nil {
		a.logger.Warn(ctx, "favorites not synced", "error", err)
	}
}

func (a *App) println(args ...any) {
	fmt.Fprintln(a.out, args...)
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// lockedWriter serializes writes from the REPL and the inbox watcher.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
