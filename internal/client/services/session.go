// Package services contains the client-side application services: the
// session controller that owns the signed-in identity, optimistic favorites,
// the listing draft lifecycle and browsing.
package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dmitrijs2005/tradepost/internal/client/api"
	"github.com/dmitrijs2005/tradepost/internal/client/credentials"
	"github.com/dmitrijs2005/tradepost/internal/client/models"
	"github.com/dmitrijs2005/tradepost/internal/logging"
)

// State is the lifecycle position of a session.
type State int

const (
	StateUninitialized State = iota
	StateResolving
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateResolving:
		return "resolving"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// AuthAPI is the part of the API client the session controller calls.
type AuthAPI interface {
	Login(ctx context.Context, req api.LoginRequest) (*models.TokenResponse, error)
	Signup(ctx context.Context, req api.SignupRequest) (*models.TokenResponse, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context) (*models.User, error)
}

// CredentialStore is the part of the credential store the controller uses.
type CredentialStore interface {
	Pair() (credentials.Pair, bool)
	Set(ctx context.Context, p credentials.Pair) error
	Clear(ctx context.Context) error
}

// ErrEmptyTokenResponse is returned when login or signup succeeded at the
// HTTP level but carried no usable token pair.
var ErrEmptyTokenResponse = errors.New("authentication response carries no tokens")

// SessionController owns the identity of the signed-in user.
//
// The identity is only ever taken from a server round trip and is dropped as
// soon as the credential store no longer holds a pair, whichever component
// cleared it.
type SessionController struct {
	api    AuthAPI
	store  CredentialStore
	logger logging.Logger

	mu        sync.Mutex
	state     State
	identity  *models.User
	listeners []func(State)
}

func NewSessionController(authAPI AuthAPI, store CredentialStore, logger logging.Logger) *SessionController {
	if logger == nil {
		logger = logging.Nop()
	}
	return &SessionController{api: authAPI, store: store, logger: logger}
}

// OnChange registers fn to be called after every state transition. fn runs
// on the goroutine that caused the transition and must not block.
func (c *SessionController) OnChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Start resolves the identity from stored credentials. With no stored pair it
// settles on Anonymous without any network call.
func (c *SessionController) Start(ctx context.Context) State {
	if _, ok := c.store.Pair(); !ok {
		c.transition(StateAnonymous, nil)
		return StateAnonymous
	}

	c.transition(StateResolving, nil)

	user, err := c.api.Me(ctx)
	if err != nil {
		c.logger.Info(ctx, "stored session could not be resumed", "error", err)
		if !errors.Is(err, api.ErrUnauthorized) && !errors.Is(err, api.ErrSessionExpired) {
			c.clearStore(ctx)
		}
		c.transition(StateAnonymous, nil)
		return StateAnonymous
	}

	c.transition(StateAuthenticated, user)
	return StateAuthenticated
}

// Login exchanges email and password for a credential pair. On failure the
// controller stays in its prior state.
func (c *SessionController) Login(ctx context.Context, req api.LoginRequest) (*models.User, error) {
	resp, err := c.api.Login(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return c.adopt(ctx, resp)
}

// Signup creates an account and signs into it.
func (c *SessionController) Signup(ctx context.Context, req api.SignupRequest) (*models.User, error) {
	resp, err := c.api.Signup(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("signup: %w", err)
	}
	return c.adopt(ctx, resp)
}

func (c *SessionController) adopt(ctx context.Context, resp *models.TokenResponse) (*models.User, error) {
	pair := credentials.Pair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
	if !pair.Complete() {
		return nil, ErrEmptyTokenResponse
	}

	if err := c.store.Set(ctx, pair); err != nil {
		c.logger.Warn(ctx, "credentials kept in memory only", "error", err)
	}

	user := resp.User
	if user == nil {
		var err error
		user, err = c.api.Me(ctx)
		if err != nil {
			c.clearStore(ctx)
			c.transition(StateAnonymous, nil)
			return nil, fmt.Errorf("fetch identity: %w", err)
		}
	}

	c.transition(StateAuthenticated, user)
	return cloneUser(user), nil
}

// Logout revokes the refresh token on the server when possible and always
// ends the local session.
func (c *SessionController) Logout(ctx context.Context) {
	if pair, ok := c.store.Pair(); ok {
		if err := c.api.Logout(ctx, pair.RefreshToken); err != nil {
			c.logger.Warn(ctx, "server-side logout failed", "error", err)
		}
	}
	c.clearStore(ctx)
	c.transition(StateAnonymous, nil)
}

// Expire ends the session after the request pipeline gave up on refreshing.
func (c *SessionController) Expire() {
	c.transition(StateAnonymous, nil)
}

func (c *SessionController) State() State {
	c.reconcile()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns a copy of the signed-in user, or nil.
func (c *SessionController) Identity() *models.User {
	c.reconcile()
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneUser(c.identity)
}

func (c *SessionController) IsAuthenticated() bool {
	return c.State() == StateAuthenticated
}

// reconcile drops the identity when the credential pair has been cleared
// behind the controller's back, e.g. by the pipeline after a second 401.
func (c *SessionController) reconcile() {
	c.mu.Lock()
	authenticated := c.state == StateAuthenticated
	c.mu.Unlock()
	if !authenticated {
		return
	}
	if _, ok := c.store.Pair(); !ok {
		c.transition(StateAnonymous, nil)
	}
}

func (c *SessionController) clearStore(ctx context.Context) {
	if err := c.store.Clear(ctx); err != nil {
		c.logger.Warn(ctx, "clearing credentials failed", "error", err)
	}
}

func (c *SessionController) transition(next State, user *models.User) {
	c.mu.Lock()
	changed := c.state != next || user != nil
	c.state = next
	c.identity = cloneUser(user)
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(next)
	}
}

func cloneUser(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}
