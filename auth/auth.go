// Package auth implements the Polestar ID token lifecycle: OIDC discovery,
// the PKCE authorization-code login flow, and proactive refresh of the
// resulting access token.
//
// All token operations on one Auth instance are serialized through a single
// lock, so concurrent callers share the outcome of a single provider
// round-trip sequence.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Provider defaults for the Polestar ID tenant.
const (
	DefaultProviderBaseURL = "https://polestarid.eu.polestar.com"
	DefaultClientID        = "l3oopkc_10"
	DefaultRedirectURI     = "https://www.polestar.com/sign-in-callback"
	DefaultScope           = "openid profile email customer:attributes"
)

// refreshWindowCeiling caps the proactive refresh window. Short-lived
// tokens use half their lifetime instead, so a 10 minute token is
// refreshed at 5 minutes rather than at the ceiling.
const refreshWindowCeiling = 5 * time.Minute

// Provider session cookies expired from the shared jar on logout.
var sessionCookies = []string{"PF", "PF.PERSISTENT"}

// Config identifies the account and the identity provider tenant. Zero
// fields other than the credentials fall back to the Polestar defaults.
type Config struct {
	Username string
	Password string

	ProviderBaseURL string
	ClientID        string
	RedirectURI     string
	Scope           string
}

func (c *Config) applyDefaults() {
	if c.ProviderBaseURL == "" {
		c.ProviderBaseURL = DefaultProviderBaseURL
	}
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	if c.RedirectURI == "" {
		c.RedirectURI = DefaultRedirectURI
	}
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
}

// OpenIDConfiguration is the subset of the provider's discovery document
// the login flow needs.
type OpenIDConfiguration struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
}

// Auth owns the credentials, the OIDC configuration and the current token
// triple for one account.
type Auth struct {
	cfg Config

	// httpClient is the shared session: its cookie jar carries the
	// provider's login cookies across the flow's requests.
	httpClient *http.Client

	mu      sync.Mutex
	oidc    *OpenIDConfiguration
	machine *stateMachine

	accessToken   string
	idToken       string
	refreshToken  string
	tokenLifetime time.Duration
	tokenExpiry   time.Time

	pkce *pkceExchange

	latestCallCode int

	logger zerolog.Logger
	now    func() time.Time
}

// New creates an Auth for the given account over the shared HTTP client.
// Initialize must be called, and succeed, before any token operation.
func New(cfg Config, httpClient *http.Client, logger zerolog.Logger) *Auth {
	cfg.applyDefaults()
	return &Auth{
		cfg:        cfg,
		httpClient: httpClient,
		machine:    newStateMachine(logger),
		logger:     logger,
		now:        time.Now,
	}
}

// Initialize fetches the provider's OIDC discovery document.
func (a *Auth) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	endpoint := strings.TrimSuffix(a.cfg.ProviderBaseURL, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &ProviderUnavailableError{Err: err}
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &ProviderUnavailableError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProviderUnavailableError{Status: resp.StatusCode}
	}

	var oidc OpenIDConfiguration
	if err := json.NewDecoder(resp.Body).Decode(&oidc); err != nil {
		return &ProviderUnavailableError{Err: fmt.Errorf("decode discovery document: %w", err)}
	}

	a.oidc = &oidc
	a.machine.transition(eventConfigure)
	a.logger.Debug().Str("issuer", oidc.Issuer).Msg("OIDC configuration loaded")
	return nil
}

// EnsureToken guarantees a usable access token, acquiring or refreshing one
// as needed. It is the sole entry point other components call before an
// authenticated request.
//
// Unless forced, a held token outside its refresh window is returned
// without network traffic. A held refresh token is tried first; its failure
// falls back to a full authorization-code login. Login failure clears all
// token state; ErrInvalidCredentials is preserved so callers can separate
// bad credentials from transient failure.
func (a *Auth) EnsureToken(ctx context.Context, force bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.oidc == nil {
		return &Error{Message: "OIDC configuration not loaded"}
	}

	if !force && a.accessToken != "" && !a.needsRefresh() && !a.expired() {
		return nil
	}

	if a.accessToken != "" {
		a.machine.transition(eventExpire)
	}

	if a.refreshToken != "" {
		if err := a.refreshGrant(ctx); err == nil {
			a.machine.transition(eventGrant)
			return nil
		} else {
			a.logger.Warn().Err(err).Msg("token refresh failed, falling back to full login")
		}
	}

	if err := a.authorizationCodeGrant(ctx); err != nil {
		a.logout()
		if errors.Is(err, ErrInvalidCredentials) {
			return err
		}
		return &Error{Message: "authentication failed", Err: err}
	}

	a.machine.transition(eventGrant)
	return nil
}

// IsTokenValid reports whether an access token is held and, when an expiry
// is tracked, still in the future.
func (a *Auth) IsTokenValid() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken == "" {
		return false
	}
	return a.tokenExpiry.IsZero() || a.tokenExpiry.After(a.now())
}

// AccessToken returns the current bearer token, or an empty string when
// unauthenticated.
func (a *Auth) AccessToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accessToken
}

// Subject returns the account subject from the held OIDC id_token. The
// token signature is not verified; this is diagnostic only.
func (a *Auth) Subject() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.idToken == "" {
		return ""
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(a.idToken, &claims); err != nil {
		a.logger.Debug().Err(err).Msg("id_token parse failed")
		return ""
	}
	return claims.Subject
}

// State returns the current lifecycle state of the token machine.
func (a *Auth) State() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.machine.current()
}

// LatestCallCode returns the HTTP status of the most recent provider call,
// or zero if none has completed.
func (a *Auth) LatestCallCode() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latestCallCode
}

// Logout expires the provider session cookies and clears all token and
// PKCE state. Idempotent.
func (a *Auth) Logout() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logout()
}

func (a *Auth) logout() {
	a.logger.Debug().Msg("logout")

	if a.httpClient.Jar != nil {
		if u, err := url.Parse(a.cfg.ProviderBaseURL); err == nil {
			expired := make([]*http.Cookie, 0, len(sessionCookies))
			for _, name := range sessionCookies {
				expired = append(expired, &http.Cookie{
					Name:    name,
					Path:    "/",
					MaxAge:  -1,
					Expires: time.Unix(0, 0),
				})
			}
			a.httpClient.Jar.SetCookies(u, expired)
		}
	}

	a.accessToken = ""
	a.idToken = ""
	a.refreshToken = ""
	a.tokenLifetime = 0
	a.tokenExpiry = time.Time{}
	a.pkce = nil

	a.machine.transition(eventLogout)
}

// needsRefresh reports whether the remaining lifetime has entered the
// refresh window: min(lifetime/2, ceiling) before expiry. Tokens without a
// tracked expiry are never proactively refreshed.
func (a *Auth) needsRefresh() bool {
	if a.tokenExpiry.IsZero() {
		return false
	}

	window := refreshWindowCeiling
	if half := a.tokenLifetime / 2; half < window {
		window = half
	}

	remaining := a.tokenExpiry.Sub(a.now())
	if remaining < window {
		a.logger.Debug().Dur("remaining", remaining).Msg("token due for refresh")
		return true
	}
	return false
}

func (a *Auth) expired() bool {
	return !a.tokenExpiry.IsZero() && a.now().After(a.tokenExpiry)
}

func (a *Auth) refreshGrant(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {a.cfg.ClientID},
		"refresh_token": {a.refreshToken},
	}
	return a.requestToken(ctx, form)
}

func (a *Auth) exchangeCode(ctx context.Context, code string) error {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"client_id":    {a.cfg.ClientID},
		"code":         {code},
		"redirect_uri": {a.cfg.RedirectURI},
	}
	if a.pkce != nil {
		form.Set("code_verifier", a.pkce.Verifier)
	}
	return a.requestToken(ctx, form)
}

func (a *Auth) requestToken(ctx context.Context, form url.Values) error {
	a.logger.Debug().Str("grant_type", form.Get("grant_type")).Msg("calling token endpoint")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.oidc.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return &Error{Message: "error getting token", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.latestCallCode = 0
		return &Error{Message: "error getting token", Err: err}
	}
	defer resp.Body.Close()
	a.latestCallCode = resp.StatusCode

	return a.adoptTokenResponse(resp)
}

// adoptTokenResponse parses a token endpoint response and installs the new
// token triple. Shared by the refresh and authorization-code grants.
func (a *Auth) adoptTokenResponse(resp *http.Response) error {
	var payload struct {
		Error            string  `json:"error"`
		ErrorDescription string  `json:"error_description"`
		AccessToken      *string `json:"access_token"`
		IDToken          string  `json:"id_token"`
		RefreshToken     *string `json:"refresh_token"`
		ExpiresIn        int     `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return &Error{Message: "malformed token response", Status: resp.StatusCode, Err: err}
	}

	if payload.Error != "" {
		return &Error{
			Message: fmt.Sprintf("token error %q: %s", payload.Error, payload.ErrorDescription),
			Status:  resp.StatusCode,
		}
	}

	if payload.AccessToken == nil || payload.RefreshToken == nil {
		return &Error{Message: "token response missing expected keys", Status: resp.StatusCode}
	}

	a.accessToken = *payload.AccessToken
	a.idToken = payload.IDToken
	a.refreshToken = *payload.RefreshToken

	if payload.ExpiresIn > 0 {
		a.tokenLifetime = time.Duration(payload.ExpiresIn) * time.Second
		a.tokenExpiry = a.now().Add(a.tokenLifetime)
		a.logger.Debug().Time("expiry", a.tokenExpiry).Msg("access token updated")
	} else {
		a.tokenLifetime = 0
		a.tokenExpiry = time.Time{}
		a.logger.Debug().Msg("access token updated, no expiry supplied")
	}

	return nil
}
