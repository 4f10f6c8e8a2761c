// ABOUTME: TOML account manifest loading and store synchronization
// ABOUTME: Accounts are written by the configuration collaborator; the core only reads them

package config

import (
	"context"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/praxiahq/chat-gateway/internal/store"
)

// accountManifest is the TOML file shape: a list of [[account]] tables.
type accountManifest struct {
	Accounts []manifestAccount `toml:"account"`
}

type manifestAccount struct {
	ID       string `toml:"id" validate:"required"`
	Name     string `toml:"name"`
	Endpoint string `toml:"endpoint" validate:"required,url"`
	APIKey   string `toml:"api_key" validate:"required"`
	Instance string `toml:"instance"`
	Active   bool   `toml:"active"`
}

// LoadAccounts parses the TOML account manifest.
func LoadAccounts(path string) ([]*store.Account, error) {
	var manifest accountManifest
	if _, err := toml.DecodeFile(path, &manifest); err != nil {
		return nil, fmt.Errorf("parsing account manifest: %w", err)
	}

	accounts := make([]*store.Account, 0, len(manifest.Accounts))
	for i, m := range manifest.Accounts {
		if err := validate.Struct(m); err != nil {
			return nil, fmt.Errorf("validating account %d in manifest: %w", i, err)
		}
		accounts = append(accounts, &store.Account{
			ID:        m.ID,
			Name:      m.Name,
			Endpoint:  m.Endpoint,
			APIKey:    m.APIKey,
			Instance:  m.Instance,
			Active:    m.Active,
			CreatedAt: time.Now().UTC(),
		})
	}
	return accounts, nil
}

// SyncAccounts upserts manifest accounts into the store. Existing rows keep
// their created_at; everything else reflects the manifest.
func SyncAccounts(ctx context.Context, st store.Store, accounts []*store.Account) error {
	for _, account := range accounts {
		if existing, err := st.GetAccount(ctx, account.ID); err == nil {
			account.CreatedAt = existing.CreatedAt
		}
		if err := st.UpsertAccount(ctx, account); err != nil {
			return fmt.Errorf("syncing account %s: %w", account.ID, err)
		}
	}
	return nil
}
