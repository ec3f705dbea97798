package models

import "time"

type ListingStatus string

const (
	StatusDraft  ListingStatus = "draft"
	StatusLive   ListingStatus = "live"
	StatusSold   ListingStatus = "sold"
	StatusHidden ListingStatus = "hidden"
)

type ListingImage struct {
	ID        string  `json:"id"`
	ListingID string  `json:"listing_id"`
	URL       string  `json:"url"`
	ThumbURL  *string `json:"thumb_url,omitempty"`
	SortOrder int     `json:"sort_order"`
}

type Listing struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Price       float64        `json:"price"`
	Currency    string         `json:"currency"`
	Category    string         `json:"category"`
	Brand       *string        `json:"brand,omitempty"`
	Size        *string        `json:"size,omitempty"`
	Condition   string         `json:"condition"`
	Status      ListingStatus  `json:"status"`
	SellerID    string         `json:"seller_id"`
	Seller      *User          `json:"seller,omitempty"`
	Images      []ListingImage `json:"images"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ListingFields is the editable part of a listing, sent on create and update.
// Nil pointers are omitted so an update only touches what was set.
type ListingFields struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Currency    *string  `json:"currency,omitempty"`
	Category    *string  `json:"category,omitempty"`
	Brand       *string  `json:"brand,omitempty"`
	Size        *string  `json:"size,omitempty"`
	Condition   *string  `json:"condition,omitempty"`
}

// Presign is the answer of POST /media/presign.
type Presign struct {
	UploadURL string `json:"upload_url"`
	FileURL   string `json:"file_url"`
}

type Favorite struct {
	UserID    string    `json:"user_id"`
	ListingID string    `json:"listing_id"`
	CreatedAt time.Time `json:"created_at"`
	Listing   *Listing  `json:"listing,omitempty"`
}

// Page is the paginated envelope of feed and search results.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Size  int `json:"size"`
	Pages int `json:"pages"`
}
