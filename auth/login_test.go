package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// provider is a stub Polestar ID server. Handlers not set by a test fall
// back to the happy path.
type provider struct {
	t      *testing.T
	server *httptest.Server
	mux    *http.ServeMux

	// grants issued per grant_type, for assertions
	tokenGrants []string
}

func newProvider(t *testing.T) *provider {
	t.Helper()

	p := &provider{t: t, mux: http.NewServeMux()}
	p.server = httptest.NewServer(p.mux)
	t.Cleanup(p.server.Close)

	p.mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(OpenIDConfiguration{
			Issuer:                p.server.URL,
			AuthorizationEndpoint: p.server.URL + "/as/authorization.oauth2",
			TokenEndpoint:         p.server.URL + "/as/token.oauth2",
		})
	})

	return p
}

// issueTokens installs a token endpoint that records each grant_type and
// returns a fresh token triple.
func (p *provider) issueTokens() {
	p.mux.HandleFunc("POST /as/token.oauth2", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(p.t, r.ParseForm())
		grant := r.PostFormValue("grant_type")
		p.tokenGrants = append(p.tokenGrants, grant)

		if grant == "authorization_code" {
			assert.Equal(p.t, "code-1", r.PostFormValue("code"))
			assert.NotEmpty(p.t, r.PostFormValue("code_verifier"))
		}

		fmt.Fprintf(w, `{"access_token":"at-%s","id_token":"","refresh_token":"rt-1","expires_in":3600}`, grant)
	})
}

// loginFlow installs the standard authorization, credential and callback
// handlers.
func (p *provider) loginFlow() {
	p.mux.HandleFunc("GET /as/authorization.oauth2", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(p.t, "S256", r.URL.Query().Get("code_challenge_method"))
		assert.NotEmpty(p.t, r.URL.Query().Get("code_challenge"))
		http.Redirect(w, r, "/login?resumePath=resume123", http.StatusFound)
	})

	p.mux.HandleFunc("POST /as/resume123/resume/as/authorization.ping", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(p.t, r.ParseForm())
		if r.PostFormValue("pf.pass") == "hunter2" {
			http.Redirect(w, r, "/sign-in-callback?code=code-1", http.StatusFound)
			return
		}
		fmt.Fprintln(w, "<html>We didn't recognize the username and/or password</html>")
	})

	p.mux.HandleFunc("GET /sign-in-callback", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func (p *provider) newAuth(password string) *Auth {
	jar, err := cookiejar.New(nil)
	require.NoError(p.t, err)

	return New(Config{
		Username:        "driver@example.com",
		Password:        password,
		ProviderBaseURL: p.server.URL,
		RedirectURI:     p.server.URL + "/sign-in-callback",
	}, &http.Client{Jar: jar}, zerolog.Nop())
}

func TestEnsureToken_FullLogin(t *testing.T) {
	p := newProvider(t)
	p.loginFlow()
	p.issueTokens()

	a := p.newAuth("hunter2")
	require.NoError(t, a.Initialize(t.Context()))
	assert.Equal(t, StateUnauthenticated, a.State())

	require.NoError(t, a.EnsureToken(t.Context(), false))

	assert.Equal(t, "at-authorization_code", a.AccessToken())
	assert.True(t, a.IsTokenValid())
	assert.Equal(t, StateValid, a.State())
	assert.Equal(t, http.StatusOK, a.LatestCallCode())
	assert.Equal(t, []string{"authorization_code"}, p.tokenGrants)
}

func TestEnsureToken_HeldTokenShortCircuits(t *testing.T) {
	p := newProvider(t)
	p.loginFlow()
	p.issueTokens()

	a := p.newAuth("hunter2")
	require.NoError(t, a.Initialize(t.Context()))
	require.NoError(t, a.EnsureToken(t.Context(), false))

	// second call must not hit the provider again
	require.NoError(t, a.EnsureToken(t.Context(), false))
	assert.Equal(t, []string{"authorization_code"}, p.tokenGrants)
}

func TestEnsureToken_InvalidCredentials(t *testing.T) {
	p := newProvider(t)
	p.loginFlow()
	p.issueTokens()

	a := p.newAuth("wrong")
	require.NoError(t, a.Initialize(t.Context()))

	err := a.EnsureToken(t.Context(), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
	assert.Empty(t, a.AccessToken())
	assert.Empty(t, p.tokenGrants)
}

func TestEnsureToken_CredentialPostFailure(t *testing.T) {
	p := newProvider(t)
	p.mux.HandleFunc("GET /as/authorization.oauth2", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login?resumePath=resume123", http.StatusFound)
	})
	p.mux.HandleFunc("POST /as/resume123/resume/as/authorization.ping", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	a := p.newAuth("hunter2")
	require.NoError(t, a.Initialize(t.Context()))

	err := a.EnsureToken(t.Context(), false)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidCredentials))

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusInternalServerError, a.LatestCallCode())
}

func TestEnsureToken_ScrapedResumePath(t *testing.T) {
	p := newProvider(t)
	p.loginFlow()
	p.issueTokens()

	// render the login page instead of redirecting; the resume path only
	// appears inside the page script
	p.mux.HandleFunc("GET /as/authorization.oauth2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><script>var u = "%s/as/resume123/resume/as/authorization.ping";</script></html>`, p.server.URL)
	})

	a := p.newAuth("hunter2")
	require.NoError(t, a.Initialize(t.Context()))

	require.NoError(t, a.EnsureToken(t.Context(), false))
	assert.Equal(t, "at-authorization_code", a.AccessToken())
}

func TestEnsureToken_ConfirmationInterstitial(t *testing.T) {
	p := newProvider(t)
	p.issueTokens()

	p.mux.HandleFunc("GET /as/authorization.oauth2", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login?resumePath=resume123", http.StatusFound)
	})
	p.mux.HandleFunc("POST /as/resume123/resume/as/authorization.ping", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostFormValue("pf.submit") == "true" {
			assert.Equal(t, "uid-1", r.PostFormValue("subject"))
			http.Redirect(w, r, "/sign-in-callback?code=code-1", http.StatusFound)
			return
		}
		// first post lands on the confirmation page
		http.Redirect(w, r, "/sign-in-callback?uid=uid-1", http.StatusFound)
	})
	p.mux.HandleFunc("GET /sign-in-callback", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	a := p.newAuth("hunter2")
	require.NoError(t, a.Initialize(t.Context()))

	require.NoError(t, a.EnsureToken(t.Context(), false))
	assert.Equal(t, "at-authorization_code", a.AccessToken())
}

func TestEnsureToken_RefreshGrant(t *testing.T) {
	p := newProvider(t)
	p.issueTokens()

	a := p.newAuth("hunter2")
	require.NoError(t, a.Initialize(t.Context()))

	a.mu.Lock()
	a.refreshToken = "rt-0"
	a.mu.Unlock()

	require.NoError(t, a.EnsureToken(t.Context(), false))

	assert.Equal(t, "at-refresh_token", a.AccessToken())
	assert.Equal(t, []string{"refresh_token"}, p.tokenGrants)
}

func TestEnsureToken_RefreshFailureFallsBackToLogin(t *testing.T) {
	p := newProvider(t)
	p.loginFlow()

	p.mux.HandleFunc("POST /as/token.oauth2", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		grant := r.PostFormValue("grant_type")
		p.tokenGrants = append(p.tokenGrants, grant)

		if grant == "refresh_token" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintln(w, `{"error":"invalid_grant","error_description":"refresh token expired"}`)
			return
		}
		fmt.Fprintln(w, `{"access_token":"at-1","id_token":"","refresh_token":"rt-1","expires_in":3600}`)
	})

	a := p.newAuth("hunter2")
	require.NoError(t, a.Initialize(t.Context()))

	a.mu.Lock()
	a.refreshToken = "rt-expired"
	a.mu.Unlock()

	require.NoError(t, a.EnsureToken(t.Context(), false))

	assert.Equal(t, "at-1", a.AccessToken())
	assert.Equal(t, []string{"refresh_token", "authorization_code"}, p.tokenGrants)
}

func TestEnsureToken_ForceReauthenticates(t *testing.T) {
	p := newProvider(t)
	p.loginFlow()
	p.issueTokens()

	a := p.newAuth("hunter2")
	require.NoError(t, a.Initialize(t.Context()))
	require.NoError(t, a.EnsureToken(t.Context(), false))

	require.NoError(t, a.EnsureToken(t.Context(), true))

	// forced refresh uses the held refresh token
	assert.Equal(t, []string{"authorization_code", "refresh_token"}, p.tokenGrants)
	assert.Equal(t, StateValid, a.State())
}

func TestInitialize_ProviderUnavailable(t *testing.T) {
	p := newProvider(t)
	p.mux.HandleFunc("GET /unavailable/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	})

	a := New(Config{
		Username:        "driver@example.com",
		Password:        "hunter2",
		ProviderBaseURL: p.server.URL + "/unavailable",
	}, &http.Client{}, zerolog.Nop())

	err := a.Initialize(t.Context())

	var unavailable *ProviderUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, http.StatusServiceUnavailable, unavailable.Status)
}

func TestLogout_ExpiresSessionCookies(t *testing.T) {
	p := newProvider(t)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	providerURL, err := url.Parse(p.server.URL)
	require.NoError(t, err)
	jar.SetCookies(providerURL, []*http.Cookie{
		{Name: "PF", Value: "session", Path: "/", Expires: time.Now().Add(time.Hour)},
		{Name: "other", Value: "keep", Path: "/", Expires: time.Now().Add(time.Hour)},
	})

	a := New(Config{
		Username:        "driver@example.com",
		Password:        "hunter2",
		ProviderBaseURL: p.server.URL,
	}, &http.Client{Jar: jar}, zerolog.Nop())

	a.Logout()

	names := []string{}
	for _, c := range jar.Cookies(providerURL) {
		names = append(names, c.Name)
	}
	assert.NotContains(t, names, "PF")
	assert.Contains(t, names, "other")
}
