package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/tonimelisma/graphfs/internal/graph"
)

// graphDefaultScope requests every application permission granted to the app.
const graphDefaultScope = "https://graph.microsoft.com/.default"

// expirySkew treats tokens this close to expiry as already expired.
const expirySkew = time.Minute

// tokenCredential is the subset of azcore.TokenCredential used here.
type tokenCredential interface {
	GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error)
}

// ClientSecretProvider implements graph.TokenProvider with app-only tokens
// from a service principal. The account argument is ignored: every call
// acts as the application itself.
type ClientSecretProvider struct {
	cred   tokenCredential
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cached *graph.Credential
}

// NewClientSecretProvider builds a provider from Entra ID app credentials.
func NewClientSecretProvider(tenantID, clientID, secret string, logger *slog.Logger) (*ClientSecretProvider, error) {
	cred, err := azidentity.NewClientSecretCredential(tenantID, clientID, secret, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: creating client secret credential: %w", err)
	}

	return newClientSecretProvider(cred, logger), nil
}

func newClientSecretProvider(cred tokenCredential, logger *slog.Logger) *ClientSecretProvider {
	if logger == nil {
		logger = slog.Default()
	}

	return &ClientSecretProvider{
		cred:   cred,
		logger: logger,
		now:    time.Now,
	}
}

// Token returns the cached app token while it is valid, otherwise a new one.
func (p *ClientSecretProvider) Token(ctx context.Context, _ string) (graph.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && p.now().Add(expirySkew).Before(p.cached.Expiry) {
		return *p.cached, nil
	}

	return p.fetchLocked(ctx)
}

// Refresh drops the cached token and requests a new one.
func (p *ClientSecretProvider) Refresh(ctx context.Context, _ string) (graph.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cached = nil

	return p.fetchLocked(ctx)
}

func (p *ClientSecretProvider) fetchLocked(ctx context.Context) (graph.Credential, error) {
	at, err := p.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{graphDefaultScope}})
	if err != nil {
		return graph.Credential{}, fmt.Errorf("auth: acquiring app token: %w", err)
	}

	p.cached = &graph.Credential{AccessToken: at.Token, Expiry: at.ExpiresOn}

	p.logger.Debug("app token acquired", slog.Time("expiry", at.ExpiresOn))

	return *p.cached, nil
}
