package credentials

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/tradepost/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/tradepost/internal/cryptox"
	"github.com/dmitrijs2005/tradepost/internal/dbx"
)

const (
	keyAccess  = "credentials.access"
	keyRefresh = "credentials.refresh"
)

// SQLitePersister keeps the pair in the metadata table, each token sealed
// with the device key. Both rows are written and removed in one transaction.
type SQLitePersister struct {
	db  *sql.DB
	key []byte
}

func NewSQLitePersister(db *sql.DB, key []byte) (*SQLitePersister, error) {
	if len(key) != cryptox.KeySize {
		return nil, cryptox.ErrBadKey
	}
	return &SQLitePersister{db: db, key: key}, nil
}

func (p *SQLitePersister) Load(ctx context.Context) (Pair, error) {
	repo := metadata.NewSQLiteRepository(p.db)

	rows, err := repo.List(ctx, "credentials.")
	if err != nil {
		return Pair{}, err
	}

	var pair Pair
	if sealed, ok := rows[keyAccess]; ok {
		if pair.AccessToken, err = p.open(sealed); err != nil {
			return Pair{}, fmt.Errorf("open access token: %w", err)
		}
	}
	if sealed, ok := rows[keyRefresh]; ok {
		if pair.RefreshToken, err = p.open(sealed); err != nil {
			return Pair{}, fmt.Errorf("open refresh token: %w", err)
		}
	}
	return pair, nil
}

func (p *SQLitePersister) Save(ctx context.Context, pair Pair) error {
	access, err := cryptox.Seal(p.key, []byte(pair.AccessToken))
	if err != nil {
		return err
	}
	refresh, err := cryptox.Seal(p.key, []byte(pair.RefreshToken))
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := metadata.NewSQLiteRepository(tx)
		if err := repo.Set(ctx, keyAccess, access); err != nil {
			return err
		}
		return repo.Set(ctx, keyRefresh, refresh)
	})
}

func (p *SQLitePersister) Delete(ctx context.Context) error {
	return dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return metadata.NewSQLiteRepository(tx).Delete(ctx, keyAccess, keyRefresh)
	})
}

func (p *SQLitePersister) open(sealed []byte) (string, error) {
	plain, err := cryptox.Open(p.key, sealed)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
