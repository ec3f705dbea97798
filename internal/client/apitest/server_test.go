package apitest_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/dmitrijs2005/tradepost/internal/client/api"
	"github.com/dmitrijs2005/tradepost/internal/client/apitest"
	"github.com/dmitrijs2005/tradepost/internal/client/credentials"
	"github.com/dmitrijs2005/tradepost/internal/client/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, srv *apitest.Server) (*api.Client, *credentials.Store) {
	t.Helper()
	store := credentials.NewMemoryStore()
	p, err := api.NewPipeline(store, api.Options{BaseURL: srv.BaseURL(), HTTPClient: srv.HTTPClient()})
	require.NoError(t, err)
	return api.NewClient(p), store
}

func signIn(t *testing.T, c *api.Client, store *credentials.Store, email string) *models.User {
	t.Helper()
	ctx := context.Background()
	resp, err := c.Login(ctx, api.LoginRequest{Email: email, Password: "secret1"})
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, credentials.Pair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}))
	return resp.User
}

func TestServer_RefreshTokensRotate(t *testing.T) {
	srv := apitest.New(t)
	srv.SeedUser("a@b.c", "secret1")
	c, store := newClient(t, srv)
	signIn(t, c, store, "a@b.c")
	ctx := context.Background()

	before, _ := store.Pair()
	srv.ExpireAccessTokens()

	_, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Calls("POST /auth/refresh"))

	after, _ := store.Pair()
	assert.NotEqual(t, before.RefreshToken, after.RefreshToken)
	assert.NotEqual(t, before.AccessToken, after.AccessToken)

	// The consumed refresh token is no longer accepted.
	require.NoError(t, store.Set(ctx, credentials.Pair{AccessToken: "garbage", RefreshToken: before.RefreshToken}))
	_, err = c.Me(ctx)
	require.ErrorIs(t, err, api.ErrSessionExpired)
	_, ok := store.Pair()
	assert.False(t, ok)
}

func TestServer_WrongPasswordIsUnauthorized(t *testing.T) {
	srv := apitest.New(t)
	srv.SeedUser("a@b.c", "secret1")
	c, _ := newClient(t, srv)

	_, err := c.Login(context.Background(), api.LoginRequest{Email: "a@b.c", Password: "nope"})
	require.ErrorIs(t, err, api.ErrUnauthorized)
	assert.Contains(t, err.Error(), "Incorrect email or password")
	assert.Zero(t, srv.Calls("POST /auth/refresh"))
}

func TestServer_SignupValidation(t *testing.T) {
	srv := apitest.New(t)
	c, _ := newClient(t, srv)

	_, err := c.Signup(context.Background(), api.SignupRequest{Email: "a@b.c", Password: "123"})
	var apiErr *api.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Contains(t, apiErr.Message, "at least 6 characters")
}

func TestServer_FavoritesContract(t *testing.T) {
	srv := apitest.New(t)
	seller := srv.SeedUser("s@b.c", "secret1")
	srv.SeedUser("a@b.c", "secret1")
	l := srv.SeedListing(seller.ID, "Lamp", 10, models.StatusLive)
	c, store := newClient(t, srv)
	signIn(t, c, store, "a@b.c")
	ctx := context.Background()

	require.NoError(t, c.AddFavorite(ctx, l.ID))
	err := c.AddFavorite(ctx, l.ID)
	status, _ := api.StatusOf(err)
	assert.Equal(t, http.StatusBadRequest, status)

	favs, err := c.ListFavorites(ctx)
	require.NoError(t, err)
	require.Len(t, favs, 1)
	require.NotNil(t, favs[0].Listing)
	assert.Equal(t, "Lamp", favs[0].Listing.Title)

	require.NoError(t, c.RemoveFavorite(ctx, l.ID))
	err = c.RemoveFavorite(ctx, l.ID)
	status, _ = api.StatusOf(err)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_UnreadCountsPerReader(t *testing.T) {
	srv := apitest.New(t)
	seller := srv.SeedUser("s@b.c", "secret1")
	srv.SeedUser("a@b.c", "secret1")
	l := srv.SeedListing(seller.ID, "Lamp", 10, models.StatusLive)
	c, store := newClient(t, srv)
	buyer := signIn(t, c, store, "a@b.c")
	ctx := context.Background()

	conv, err := c.StartConversation(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, seller.ID, conv.OtherUser.ID)

	_, err = c.SendMessage(ctx, conv.ID, "is it available?")
	require.NoError(t, err)
	srv.PostAs(seller.ID, conv.ID, "yes")
	srv.PostAs(seller.ID, conv.ID, "still is")

	convs, err := c.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, 2, convs[0].UnreadCount)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "still is", *convs[0].LastMessage)

	require.NoError(t, c.MarkRead(ctx, conv.ID))
	convs, err = c.ListConversations(ctx)
	require.NoError(t, err)
	assert.Zero(t, convs[0].UnreadCount)

	for _, m := range srv.Messages(conv.ID) {
		if m.SenderID == buyer.ID {
			assert.Nil(t, m.ReadAt, "own messages stay unread")
		} else {
			assert.NotNil(t, m.ReadAt)
		}
	}

	msgs, err := c.ListMessages(ctx, conv.ID, api.MessageQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "is it available?", msgs[0].Body)
}

func TestServer_FailNext(t *testing.T) {
	srv := apitest.New(t)
	srv.SeedUser("a@b.c", "secret1")
	c, store := newClient(t, srv)
	signIn(t, c, store, "a@b.c")
	srv.FailNext("GET /users/me", http.StatusServiceUnavailable, "maintenance")

	_, err := c.Me(context.Background())
	var apiErr *api.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "maintenance", apiErr.Message)

	_, err = c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, srv.Calls("GET /users/me"))
}
