// Package auth supplies bearer tokens to the Graph client. OAuthProvider
// serves delegated user tokens obtained with the device code flow and
// persisted per account; ClientSecretProvider serves app-only tokens from an
// Entra ID service principal.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/tonimelisma/graphfs/internal/graph"
	"github.com/tonimelisma/graphfs/internal/tokenfile"
)

// DefaultClientID is the public client application used for device code login.
const DefaultClientID = "8efac532-bbe7-4bc5-919c-1443ccab860a"

var defaultScopes = []string{
	"offline_access",
	"Files.ReadWrite.All",
	"User.Read",
}

// ErrNotLoggedIn is returned when no token is stored for the account.
var ErrNotLoggedIn = errors.New("auth: not logged in")

// DeviceAuth holds the device code response fields that the CLI displays to the user.
type DeviceAuth struct {
	UserCode        string
	VerificationURI string
}

// OAuthProvider implements graph.TokenProvider with tokens stored one file
// per account under a token directory. Access tokens are refreshed silently
// when they expire and the refreshed token is written back to disk.
type OAuthProvider struct {
	cfg      *oauth2.Config
	tokenDir string
	logger   *slog.Logger

	mu     sync.Mutex
	tokens map[string]*oauth2.Token
}

// NewOAuthProvider creates a provider for the given application and tenant.
// Empty clientID and tenant select DefaultClientID and "common".
func NewOAuthProvider(clientID, tenant, tokenDir string, logger *slog.Logger) *OAuthProvider {
	if logger == nil {
		logger = slog.Default()
	}

	if clientID == "" {
		clientID = DefaultClientID
	}

	if tenant == "" {
		tenant = "common"
	}

	return &OAuthProvider{
		cfg: &oauth2.Config{
			ClientID: clientID,
			Scopes:   defaultScopes,
			Endpoint: microsoft.AzureADEndpoint(tenant),
		},
		tokenDir: tokenDir,
		logger:   logger,
		tokens:   make(map[string]*oauth2.Token),
	}
}

// Token returns a valid access token for account, refreshing it first if
// it has expired.
func (p *OAuthProvider) Token(ctx context.Context, account string) (graph.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tok, err := p.load(account)
	if err != nil {
		return graph.Credential{}, err
	}

	if tok.Valid() {
		return credential(tok), nil
	}

	p.logger.Debug("access token expired, refreshing", slog.String("account", account))

	return p.refreshLocked(ctx, account, tok)
}

// Refresh forces a new access token for account regardless of the expiry
// recorded for the current one. Used after the API rejects a token.
func (p *OAuthProvider) Refresh(ctx context.Context, account string) (graph.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tok, err := p.load(account)
	if err != nil {
		return graph.Credential{}, err
	}

	return p.refreshLocked(ctx, account, tok)
}

func (p *OAuthProvider) refreshLocked(ctx context.Context, account string, tok *oauth2.Token) (graph.Credential, error) {
	if tok.RefreshToken == "" {
		return graph.Credential{}, fmt.Errorf("auth: %s has no refresh token: %w", account, ErrNotLoggedIn)
	}

	// An empty access token makes the oauth2 token source treat it as invalid.
	stale := *tok
	stale.AccessToken = ""

	fresh, err := p.cfg.TokenSource(ctx, &stale).Token()
	if err != nil {
		p.logger.Warn("token refresh failed",
			slog.String("account", account),
			slog.String("error", err.Error()),
		)

		return graph.Credential{}, fmt.Errorf("auth: refreshing token for %s: %w", account, err)
	}

	if err := p.store(account, fresh); err != nil {
		// The fresh token is still usable for this process.
		p.logger.Warn("failed to persist refreshed token",
			slog.String("account", account),
			slog.String("error", err.Error()),
		)
	}

	p.logger.Info("token refreshed",
		slog.String("account", account),
		slog.Time("expiry", fresh.Expiry),
	)

	return credential(fresh), nil
}

// load returns the cached token for account, reading its file on first use.
func (p *OAuthProvider) load(account string) (*oauth2.Token, error) {
	if tok, ok := p.tokens[account]; ok {
		return tok, nil
	}

	tf, err := tokenfile.Load(tokenfile.PathFor(p.tokenDir, account))
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	if tf == nil {
		return nil, fmt.Errorf("auth: no token for %q: %w", account, ErrNotLoggedIn)
	}

	p.tokens[account] = tf.Token

	return tf.Token, nil
}

func (p *OAuthProvider) store(account string, tok *oauth2.Token) error {
	p.tokens[account] = tok

	return tokenfile.Save(tokenfile.PathFor(p.tokenDir, account), &tokenfile.File{
		Account: account,
		Token:   tok,
	})
}

// Login performs the device code flow for account: it requests a device
// code, passes it to display, then polls until the user authorizes or ctx
// is canceled. The token is saved to the account's token file.
func (p *OAuthProvider) Login(ctx context.Context, account string, display func(DeviceAuth)) error {
	p.logger.Info("starting device code auth flow", slog.String("account", account))

	da, err := p.cfg.DeviceAuth(ctx)
	if err != nil {
		return fmt.Errorf("auth: device auth request failed: %w", err)
	}

	display(DeviceAuth{
		UserCode:        da.UserCode,
		VerificationURI: da.VerificationURI,
	})

	tok, err := p.cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return fmt.Errorf("auth: device code authorization failed: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.store(account, tok); err != nil {
		return fmt.Errorf("auth: saving token: %w", err)
	}

	p.logger.Info("login successful",
		slog.String("account", account),
		slog.Time("expiry", tok.Expiry),
	)

	return nil
}

// Logout forgets account's token and removes its file.
// Logging out an account that is not logged in is not an error.
func (p *OAuthProvider) Logout(account string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.tokens, account)

	if err := tokenfile.Remove(tokenfile.PathFor(p.tokenDir, account)); err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	p.logger.Info("logged out", slog.String("account", account))

	return nil
}

func credential(tok *oauth2.Token) graph.Credential {
	return graph.Credential{AccessToken: tok.AccessToken, Expiry: tok.Expiry}
}
