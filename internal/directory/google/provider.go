// Package google implements directory.Provider on top of the Google People API.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"golang.org/x/time/rate"

	"github.com/memohai/crmsync/internal/config"
	"github.com/memohai/crmsync/internal/directory"
)

// ProviderName is the registry key of this provider.
const ProviderName = "google"

var scopes = []string{
	"https://www.googleapis.com/auth/contacts",
	"https://www.googleapis.com/auth/userinfo.email",
}

// Provider is the Google People directory provider.
type Provider struct {
	oauth   *oauth2.Config
	baseURL string
	limiter *rate.Limiter
	http    *http.Client
	logger  *slog.Logger
}

// NewProvider builds a provider from config. The limiter is shared by every
// client the provider hands out, so it bounds the whole process.
func NewProvider(log *slog.Logger, cfg config.GoogleConfig) *Provider {
	if log == nil {
		log = slog.Default()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultGoogleTimeoutSecs) * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = config.DefaultGoogleRPS
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = config.DefaultGoogleBurst
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = config.DefaultGoogleBaseURL
	}
	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     googleoauth.Endpoint,
		},
		baseURL: baseURL,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		http:    &http.Client{Timeout: timeout},
		logger:  log.With(slog.String("provider", ProviderName)),
	}
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) AuthorizationURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (p *Provider) ExchangeCode(ctx context.Context, code string) (directory.Tokens, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return directory.Tokens{}, errors.New("authorization code is required")
	}
	tok, err := p.oauth.Exchange(p.oauthContext(ctx), code)
	if err != nil {
		return directory.Tokens{}, fmt.Errorf("exchange code: %w", classifyTokenError(err))
	}
	tokens := fromOAuthToken(tok)

	c := p.newClient(ctx, tok, nil)
	email, err := c.accountEmail(ctx)
	if err != nil {
		p.logger.Warn("resolve account email failed", slog.Any("error", err))
	} else {
		tokens.AccountEmail = email
	}
	return tokens, nil
}

func (p *Provider) Client(ctx context.Context, tokens directory.Tokens, onRefresh directory.TokenObserver) (directory.Client, error) {
	if strings.TrimSpace(tokens.AccessToken) == "" && strings.TrimSpace(tokens.RefreshToken) == "" {
		return nil, fmt.Errorf("%w: no credentials", directory.ErrAuthExpired)
	}
	tok := &oauth2.Token{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokens.TokenType,
		Expiry:       tokens.Expiry,
	}
	var notify func(*oauth2.Token)
	if onRefresh != nil {
		email := tokens.AccountEmail
		notify = func(t *oauth2.Token) {
			refreshed := fromOAuthToken(t)
			refreshed.AccountEmail = email
			onRefresh(refreshed)
		}
	}
	return p.newClient(ctx, tok, notify), nil
}

// oauthContext makes oauth2 use the provider's timeout-bound HTTP client.
func (p *Provider) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.http)
}

func (p *Provider) newClient(ctx context.Context, tok *oauth2.Token, notify func(*oauth2.Token)) *client {
	src := p.oauth.TokenSource(p.oauthContext(ctx), tok)
	if notify != nil {
		src = &notifyingSource{base: src, last: tok.AccessToken, notify: notify}
	}
	return &client{
		http:    oauth2.NewClient(p.oauthContext(ctx), src),
		baseURL: p.baseURL,
		limiter: p.limiter,
	}
}

// notifyingSource reports every token whose access token differs from the last one seen.
type notifyingSource struct {
	base   oauth2.TokenSource
	mu     sync.Mutex
	last   string
	notify func(*oauth2.Token)
}

func (s *notifyingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, classifyTokenError(err)
	}
	s.mu.Lock()
	changed := tok.AccessToken != s.last
	s.last = tok.AccessToken
	s.mu.Unlock()
	if changed {
		s.notify(tok)
	}
	return tok, nil
}

func fromOAuthToken(tok *oauth2.Token) directory.Tokens {
	return directory.Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
}

// classifyTokenError maps revoked or expired grants to directory.ErrAuthExpired.
func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" || re.ErrorCode == "unauthorized_client" ||
			(re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized) {
			return fmt.Errorf("%w: %s", directory.ErrAuthExpired, err.Error())
		}
	}
	return err
}
