// Package apitest runs an in-process fake of the marketplace API for tests.
// It keeps its state in memory, issues real JWT access tokens with rotating
// refresh tokens and lets tests move its clock and inject failures.
package apitest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/tradepost/internal/client/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	apiPrefix = "/api/v1"

	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour

	ctxUserID = "userID"
)

type account struct {
	user     models.User
	password []byte
}

type conversation struct {
	ID            string
	ListingID     string
	BuyerID       string
	SellerID      string
	LastMessageAt *time.Time
}

type failure struct {
	status int
	detail string
}

// Server is the fake API. All handlers run under one mutex.
type Server struct {
	http *httptest.Server

	mu         sync.Mutex
	secret     []byte
	now        time.Time
	accessTTL  time.Duration
	refreshTTL time.Duration

	accounts      map[string]*account
	byEmail       map[string]string
	refresh       map[string]refreshEntry
	listings      map[string]*models.Listing
	listingOrder  []string
	favorites     map[string]map[string]time.Time
	conversations map[string]*conversation
	convOrder     []string
	messages      map[string][]*models.Message
	uploads       map[string][]byte

	calls    map[string]int
	failNext map[string][]failure
}

// New starts a fake server and stops it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		secret:        []byte("apitest-" + uuid.NewString()),
		now:           time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
		accessTTL:     DefaultAccessTTL,
		refreshTTL:    DefaultRefreshTTL,
		accounts:      map[string]*account{},
		byEmail:       map[string]string{},
		refresh:       map[string]refreshEntry{},
		listings:      map[string]*models.Listing{},
		favorites:     map[string]map[string]time.Time{},
		conversations: map[string]*conversation{},
		messages:      map[string][]*models.Message{},
		uploads:       map[string][]byte{},
		calls:         map[string]int{},
		failNext:      map[string][]failure{},
	}
	s.http = httptest.NewServer(s.router())
	t.Cleanup(s.http.Close)
	return s
}

// BaseURL is the API root to configure the client with.
func (s *Server) BaseURL() string { return s.http.URL + apiPrefix }

// HTTPClient returns a client bound to the test server.
func (s *Server) HTTPClient() *http.Client { return s.http.Client() }

// Advance moves the server clock forward.
func (s *Server) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

// ExpireAccessTokens moves the clock past the lifetime of every access token
// issued so far.
func (s *Server) ExpireAccessTokens() {
	s.Advance(s.accessTTL + time.Second)
}

// RevokeRefreshTokens forgets every outstanding refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.refresh)
}

// FailNext makes the next call to route answer status with detail. route is
// "METHOD /path" with gin parameters, e.g. "POST /listings/:id/publish".
func (s *Server) FailNext(route string, status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[route] = append(s.failNext[route], failure{status: status, detail: detail})
}

// Calls reports how many requests reached route, in FailNext notation.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// Upload returns the bytes stored under a presigned upload name.
func (s *Server) Upload(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.uploads[name]
	return b, ok
}

// SeedUser creates an account directly.
func (s *Server) SeedUser(email, password string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createAccount(email, password, nil, nil).user
}

// SeedListing creates a listing owned by sellerID with the given status.
func (s *Server) SeedListing(sellerID, title string, price float64, status models.ListingStatus) models.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.createListing(sellerID, models.ListingFields{Title: &title, Price: &price})
	l.Status = status
	return *l
}

// Messages returns a snapshot of a conversation's stored messages.
func (s *Server) Messages(conversationID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, 0, len(s.messages[conversationID]))
	for _, m := range s.messages[conversationID] {
		out = append(out, *m)
	}
	return out
}

// PostAs sends body to a conversation on behalf of userID, as another client
// would.
func (s *Server) PostAs(userID, conversationID, body string) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.appendMessage(conversationID, userID, body)
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(s.recordCall)

	v1 := r.Group(apiPrefix)

	auth := v1.Group("/auth")
	auth.POST("/signup", s.signup)
	auth.POST("/login", s.login)
	auth.POST("/refresh", s.refreshTokens)
	auth.POST("/logout", s.logout)

	v1.GET("/feed", s.optionalUser, s.feed)
	v1.GET("/search", s.optionalUser, s.search)
	v1.GET("/listings/:id", s.optionalUser, s.getListing)
	v1.PUT("/media/upload/:name", s.storeUpload)

	private := v1.Group("", s.requireUser)
	private.GET("/users/me", s.me)
	private.PATCH("/users/me", s.updateMe)

	private.POST("/listings", s.postListing)
	private.PUT("/listings/:id", s.putListing)
	private.POST("/listings/:id/publish", s.publishListing)
	private.DELETE("/listings/:id", s.deleteListing)
	private.POST("/listings/:id/images", s.addImage)
	private.POST("/media/presign", s.presign)

	private.GET("/favorites", s.listFavorites)
	private.POST("/favorites/:id", s.addFavorite)
	private.DELETE("/favorites/:id", s.removeFavorite)

	private.GET("/conversations", s.listConversations)
	private.POST("/conversations", s.startConversation)
	private.GET("/conversations/:id/messages", s.listMessages)
	private.POST("/conversations/:id/messages", s.sendMessage)
	private.POST("/conversations/:id/read", s.markRead)

	return r
}

func routeKey(c *gin.Context) string {
	return c.Request.Method + " " + strings.TrimPrefix(c.FullPath(), apiPrefix)
}

// recordCall counts the request and serves an injected failure if one is
// queued for its route.
func (s *Server) recordCall(c *gin.Context) {
	key := routeKey(c)

	s.mu.Lock()
	s.calls[key]++
	var f *failure
	if queue := s.failNext[key]; len(queue) > 0 {
		f = &queue[0]
		s.failNext[key] = queue[1:]
	}
	s.mu.Unlock()

	if f != nil {
		abort(c, f.status, f.detail)
		return
	}
	c.Next()
}

func (s *Server) requireUser(c *gin.Context) {
	userID, ok := s.bearerUser(c)
	if !ok {
		abort(c, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	c.Set(ctxUserID, userID)
	c.Next()
}

func (s *Server) optionalUser(c *gin.Context) {
	if userID, ok := s.bearerUser(c); ok {
		c.Set(ctxUserID, userID)
	}
	c.Next()
}

func (s *Server) bearerUser(c *gin.Context) (string, bool) {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	userID, err := s.userFromAccess(token)
	if err != nil {
		return "", false
	}
	if _, exists := s.accounts[userID]; !exists {
		return "", false
	}
	return userID, true
}

func currentUser(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

func abort(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

// validationError answers 422 with a list-shaped detail.
func validationError(c *gin.Context, field, msg string) {
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
		"detail": []gin.H{{"loc": []string{"body", field}, "msg": msg, "type": "value_error"}},
	})
}

// stamp returns the current server time and moves the clock by a millisecond
// so that consecutive records keep their order.
func (s *Server) stamp() time.Time {
	t := s.now
	s.now = s.now.Add(time.Millisecond)
	return t
}

func (s *Server) createAccount(email, password string, city, region *string) *account {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	a := &account{
		user: models.User{
			ID:        uuid.NewString(),
			Email:     email,
			City:      city,
			Region:    region,
			Role:      "user",
			CreatedAt: s.stamp(),
		},
		password: hash,
	}
	s.accounts[a.user.ID] = a
	s.byEmail[strings.ToLower(email)] = a.user.ID
	return a
}
