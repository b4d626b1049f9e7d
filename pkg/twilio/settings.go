package twilio

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Settings holds the telephony credentials used to reach the provider.
type Settings struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
	Configured  bool
}

// CredentialSource indicates where resolved credentials came from.
type CredentialSource string

const (
	SourceSettings    CredentialSource = "settings"
	SourceEnvironment CredentialSource = "environment"
	SourceNone        CredentialSource = "none"
)

// SettingsStore is the durable settings collaborator. Implementations return
// Configured=false (not an error) when no settings row exists.
type SettingsStore interface {
	GetTelephonySettings(ctx context.Context) (Settings, error)
}

// PostgresSettingsStore reads telephony settings from Postgres.
//
// Expected schema:
//
//	CREATE TABLE telephony_settings (
//	    id INT PRIMARY KEY DEFAULT 1,
//	    account_sid TEXT NOT NULL,
//	    auth_token TEXT NOT NULL,
//	    phone_number TEXT NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresSettingsStore struct {
	db *pgxpool.Pool
}

func NewPostgresSettingsStore(db *pgxpool.Pool) *PostgresSettingsStore {
	return &PostgresSettingsStore{db: db}
}

func (s *PostgresSettingsStore) GetTelephonySettings(ctx context.Context) (Settings, error) {
	var settings Settings
	err := s.db.QueryRow(ctx, `
		SELECT account_sid, auth_token, phone_number
		FROM telephony_settings
		ORDER BY updated_at DESC
		LIMIT 1
	`).Scan(&settings.AccountSID, &settings.AuthToken, &settings.PhoneNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	settings.Configured = settings.AccountSID != "" && settings.AuthToken != ""
	return settings, nil
}

// CredentialProvider resolves provider credentials, durable settings first
// with environment fallback, and caches the result. Refresh invalidates the
// cache so rotated credentials take effect without a restart; calls already
// in flight keep using whatever they resolved earlier.
type CredentialProvider struct {
	store SettingsStore

	mu       sync.RWMutex
	resolved *resolvedCredentials
}

type resolvedCredentials struct {
	settings Settings
	source   CredentialSource
}

// NewCredentialProvider creates a provider. store may be nil, in which case
// only the environment fallback is used.
func NewCredentialProvider(store SettingsStore) *CredentialProvider {
	return &CredentialProvider{store: store}
}

// Resolve returns the current credentials and their source. The first call
// after construction or Refresh performs the actual lookup.
func (p *CredentialProvider) Resolve(ctx context.Context) (Settings, CredentialSource, error) {
	p.mu.RLock()
	cached := p.resolved
	p.mu.RUnlock()
	if cached != nil {
		return cached.settings, cached.source, nil
	}

	settings, source := p.lookup(ctx)

	p.mu.Lock()
	p.resolved = &resolvedCredentials{settings: settings, source: source}
	p.mu.Unlock()

	return settings, source, nil
}

func (p *CredentialProvider) lookup(ctx context.Context) (Settings, CredentialSource) {
	if p.store != nil {
		settings, err := p.store.GetTelephonySettings(ctx)
		if err == nil && settings.Configured {
			return settings, SourceSettings
		}
	}

	env := Settings{
		AccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		AuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		PhoneNumber: os.Getenv("TWILIO_PHONE_NUMBER"),
	}
	env.Configured = env.AccountSID != "" && env.AuthToken != ""
	if env.Configured {
		return env, SourceEnvironment
	}
	return Settings{}, SourceNone
}

// Refresh drops the cached credentials. Safe to call concurrently with
// in-flight resolution.
func (p *CredentialProvider) Refresh() {
	p.mu.Lock()
	p.resolved = nil
	p.mu.Unlock()
}
