// Package credentials holds the access/refresh token pair for the current
// session and optionally persists it to the local state database.
package credentials

import (
	"context"
	"errors"
)

// ErrIncompletePair is returned when a pair missing either token is stored.
var ErrIncompletePair = errors.New("credential pair must carry both tokens")

// Pair is the access token sent with every request together with the refresh
// token used to mint a new one. Both are opaque strings.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Complete reports whether both tokens are present.
func (p Pair) Complete() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// Persister saves a pair beyond the life of the process. Load returns a zero
// Pair and nil error when nothing is stored.
type Persister interface {
	Load(ctx context.Context) (Pair, error)
	Save(ctx context.Context, p Pair) error
	Delete(ctx context.Context) error
}
