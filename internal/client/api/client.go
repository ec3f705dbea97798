package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/dmitrijs2005/tradepost/internal/client/models"
)

// Client exposes one method per API endpoint. Every call goes through the
// pipeline and so shares its refresh-and-retry behaviour.
type Client struct {
	p *Pipeline
}

func NewClient(p *Pipeline) *Client {
	return &Client{p: p}
}

func (c *Client) Pipeline() *Pipeline { return c.p }

func esc(id string) string { return url.PathEscape(id) }

// optional turns an empty string into an absent parameter.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalInt(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignupRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	City     *string `json:"city,omitempty"`
	Region   *string `json:"region,omitempty"`
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (*models.TokenResponse, error) {
	var out models.TokenResponse
	if err := c.p.Do(ctx, Request{Method: http.MethodPost, Path: "/auth/login", Body: req, NoRefresh: true}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Signup(ctx context.Context, req SignupRequest) (*models.TokenResponse, error) {
	var out models.TokenResponse
	if err := c.p.Do(ctx, Request{Method: http.MethodPost, Path: "/auth/signup", Body: req, NoRefresh: true}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	body := map[string]string{"refresh_token": refreshToken}
	return c.p.Do(ctx, Request{Method: http.MethodPost, Path: "/auth/logout", Body: body}, nil)
}

func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var out models.User
	if err := c.p.Do(ctx, Request{Method: http.MethodGet, Path: "/users/me"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateMe(ctx context.Context, upd models.ProfileUpdate) (*models.User, error) {
	var out models.User
	if err := c.p.Do(ctx, Request{Method: http.MethodPatch, Path: "/users/me", Body: upd}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type FeedQuery struct {
	Category string
	Page     int
	PageSize int
}

func (q FeedQuery) params() Params {
	return Params{
		"category":  optional(q.Category),
		"page":      optionalInt(q.Page),
		"page_size": optionalInt(q.PageSize),
	}
}

type SearchQuery struct {
	Q         string
	Category  string
	Brand     string
	Condition string
	SellerID  string
	MinPrice  *float64
	MaxPrice  *float64
	Page      int
	PageSize  int
}

func (q SearchQuery) params() Params {
	return Params{
		"q":         optional(q.Q),
		"category":  optional(q.Category),
		"brand":     optional(q.Brand),
		"condition": optional(q.Condition),
		"seller_id": optional(q.SellerID),
		"min_price": q.MinPrice,
		"max_price": q.MaxPrice,
		"page":      optionalInt(q.Page),
		"page_size": optionalInt(q.PageSize),
	}
}

func (c *Client) Feed(ctx context.Context, q FeedQuery) (*models.Page[models.Listing], error) {
	var out models.Page[models.Listing]
	if err := c.p.Do(ctx, Request{Method: http.MethodGet, Path: "/feed", Query: q.params()}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Search(ctx context.Context, q SearchQuery) (*models.Page[models.Listing], error) {
	var out models.Page[models.Listing]
	if err := c.p.Do(ctx, Request{Method: http.MethodGet, Path: "/search", Query: q.params()}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	var out models.Listing
	if err := c.p.Do(ctx, Request{Method: http.MethodGet, Path: "/listings/" + esc(id)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateListing(ctx context.Context, fields models.ListingFields) (*models.Listing, error) {
	var out models.Listing
	if err := c.p.Do(ctx, Request{Method: http.MethodPost, Path: "/listings", Body: fields}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateListing(ctx context.Context, id string, fields models.ListingFields) (*models.Listing, error) {
	var out models.Listing
	if err := c.p.Do(ctx, Request{Method: http.MethodPut, Path: "/listings/" + esc(id), Body: fields}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteListing(ctx context.Context, id string) error {
	return c.p.Do(ctx, Request{Method: http.MethodDelete, Path: "/listings/" + esc(id)}, nil)
}

func (c *Client) PublishListing(ctx context.Context, id string) (*models.Listing, error) {
	var out models.Listing
	if err := c.p.Do(ctx, Request{Method: http.MethodPost, Path: "/listings/" + esc(id) + "/publish"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Presign(ctx context.Context, filename, contentType string) (*models.Presign, error) {
	body := map[string]string{"filename": filename, "content_type": contentType}
	var out models.Presign
	if err := c.p.Do(ctx, Request{Method: http.MethodPost, Path: "/media/presign", Body: body}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AddListingImage(ctx context.Context, listingID, fileURL string) (*models.ListingImage, error) {
	body := map[string]string{"url": fileURL}
	var out models.ListingImage
	if err := c.p.Do(ctx, Request{Method: http.MethodPost, Path: "/listings/" + esc(listingID) + "/images", Body: body}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListFavorites(ctx context.Context) ([]models.Favorite, error) {
	var out []models.Favorite
	if err := c.p.Do(ctx, Request{Method: http.MethodGet, Path: "/favorites"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AddFavorite(ctx context.Context, listingID string) error {
	return c.p.Do(ctx, Request{Method: http.MethodPost, Path: "/favorites/" + esc(listingID)}, nil)
}

func (c *Client) RemoveFavorite(ctx context.Context, listingID string) error {
	return c.p.Do(ctx, Request{Method: http.MethodDelete, Path: "/favorites/" + esc(listingID)}, nil)
}

func (c *Client) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var out []models.ConversationSummary
	if err := c.p.Do(ctx, Request{Method: http.MethodGet, Path: "/conversations"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) StartConversation(ctx context.Context, listingID string) (*models.ConversationSummary, error) {
	body := map[string]string{"listing_id": listingID}
	var out models.ConversationSummary
	if err := c.p.Do(ctx, Request{Method: http.MethodPost, Path: "/conversations", Body: body}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MessageQuery narrows GET /conversations/{id}/messages. Zero values are not
// sent and the server defaults apply.
type MessageQuery struct {
	Limit int
	After *time.Time
}

func (c *Client) ListMessages(ctx context.Context, conversationID string, q MessageQuery) ([]models.Message, error) {
	var out []models.Message
	req := Request{
		Method: http.MethodGet,
		Path:   "/conversations/" + esc(conversationID) + "/messages",
		Query:  Params{"limit": optionalInt(q.Limit), "after": q.After},
	}
	if err := c.p.Do(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID, body string) (*models.Message, error) {
	var out models.Message
	req := Request{
		Method: http.MethodPost,
		Path:   "/conversations/" + esc(conversationID) + "/messages",
		Body:   map[string]string{"body": body},
	}
	if err := c.p.Do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	return c.p.Do(ctx, Request{Method: http.MethodPost, Path: "/conversations/" + esc(conversationID) + "/read"}, nil)
}
