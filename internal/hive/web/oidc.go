package web

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/datasektionen/hive-sub000/internal/hive/config"
)

// rootBootstrapper is the one services call HandleCallback makes directly
// rather than through the query API: granting the root group its first
// manager on an empty deployment's first login (§4.5's bootstrap exemption).
type rootBootstrapper interface {
	BootstrapRootManagerIfEmpty(ctx context.Context, username string) error
}

const (
	stateCookieName   = "hive_oidc_state"
	stateCookieTTL    = 5 * time.Minute
	sessionCookieName = "hive_session"
	sessionMaxAge     = 24 * time.Hour
)

type callbackState struct {
	State        string `json:"state"`
	Nonce        string `json:"nonce"`
	CodeVerifier string `json:"code_verifier"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Provider drives the OIDC authorization-code-with-PKCE login flow and
// issues Hive's own sealed session cookie on success. Unlike the teacher's
// Provider, there is no UserStore to reconcile against: Hive's domain
// model has no user-account entity of its own (§3's entities are
// username-keyed memberships, not accounts), so the session simply carries
// whichever claim identifies the caller.
type Provider struct {
	cfg       config.OIDCConfig
	verifier  *gooidc.IDTokenVerifier
	oauth2    oauth2.Config
	sealer    *Sealer
	logger    *zap.Logger
	bootstrap rootBootstrapper
}

// NewProvider discovers cfg.IssuerURL and builds a Provider. secret seeds
// the session cookie sealer. bootstrap is consulted on every successful
// callback to grant the root group its first manager if it has none yet.
func NewProvider(ctx context.Context, cfg config.OIDCConfig, secret []byte, bootstrap rootBootstrapper, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	discovery, err := gooidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("web: discover oidc provider: %w", err)
	}

	return &Provider{
		cfg: cfg,
		verifier: discovery.Verifier(&gooidc.Config{
			ClientID: cfg.ClientID,
		}),
		oauth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     discovery.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
		},
		sealer:    NewSealer(secret),
		logger:    logger.Named("web.oidc"),
		bootstrap: bootstrap,
	}, nil
}

// HandleLogin starts the auth code flow with PKCE and redirects to the
// provider.
func (p *Provider) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state, err1 := randomToken()
	nonce, err2 := randomToken()
	verifier, err3 := randomToken()
	if err := firstErr(err1, err2, err3); err != nil {
		http.Error(w, "failed to start login", http.StatusInternalServerError)
		return
	}

	payload := callbackState{
		State:        state,
		Nonce:        nonce,
		CodeVerifier: verifier,
		ExpiresAt:    time.Now().Add(stateCookieTTL).Unix(),
	}
	encoded, err := encodeState(payload)
	if err != nil {
		http.Error(w, "failed to start login", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    encoded,
		Path:     "/auth",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(stateCookieTTL.Seconds()),
	})

	authURL := p.oauth2.AuthCodeURL(state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("code_challenge", pkceChallenge(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback completes the flow and sets the sealed session cookie.
func (p *Provider) HandleCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" {
		http.Error(w, "missing oidc state", http.StatusUnauthorized)
		return
	}
	stored, err := decodeState(stateCookie.Value)
	if err != nil {
		http.Error(w, "invalid oidc state", http.StatusUnauthorized)
		return
	}
	if time.Now().Unix() > stored.ExpiresAt {
		http.Error(w, "oidc state expired", http.StatusUnauthorized)
		return
	}
	if got := r.URL.Query().Get("state"); got == "" || got != stored.State {
		http.Error(w, "invalid oidc state", http.StatusUnauthorized)
		return
	}
	clearStateCookie(w)

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	tok, err := p.oauth2.Exchange(r.Context(), code, oauth2.SetAuthURLParam("code_verifier", stored.CodeVerifier))
	if err != nil {
		http.Error(w, "token exchange failed", http.StatusUnauthorized)
		return
	}

	rawIDToken, _ := tok.Extra("id_token").(string)
	if rawIDToken == "" {
		http.Error(w, "provider did not return id_token", http.StatusUnauthorized)
		return
	}
	idToken, err := p.verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		http.Error(w, "invalid id_token", http.StatusUnauthorized)
		return
	}
	if idToken.Nonce == "" || idToken.Nonce != stored.Nonce {
		http.Error(w, "invalid nonce", http.StatusUnauthorized)
		return
	}

	var claims struct {
		PreferredUsername string `json:"preferred_username"`
		Email             string `json:"email"`
		Subject           string `json:"sub"`
	}
	if err := idToken.Claims(&claims); err != nil {
		http.Error(w, "invalid claims", http.StatusUnauthorized)
		return
	}
	username := firstNonEmpty(claims.PreferredUsername, claims.Email, claims.Subject)
	if username == "" {
		http.Error(w, "missing identifying claim", http.StatusUnauthorized)
		return
	}

	if p.bootstrap != nil {
		if err := p.bootstrap.BootstrapRootManagerIfEmpty(r.Context(), username); err != nil {
			p.logger.Error("root bootstrap check failed", zap.String("username", username), zap.Error(err))
			http.Error(w, "failed to create session", http.StatusInternalServerError)
			return
		}
	}

	sealed, err := p.sealer.Seal(Session{Username: username, ExpiresAt: time.Now().Add(sessionMaxAge)})
	if err != nil {
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sealed,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionMaxAge.Seconds()),
	})
	p.logger.Info("web session issued", zap.String("username", username))
	http.Redirect(w, r, "/", http.StatusFound)
}

// HandleLogout clears the session cookie.
func (p *Provider) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

// CurrentSession extracts and validates the caller's session cookie.
func (p *Provider) CurrentSession(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil, ErrSessionInvalid
	}
	return p.sealer.Open(cookie.Value)
}

func clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/auth",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func encodeState(s callbackState) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeState(encoded string) (*callbackState, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	var out callbackState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out.State == "" || out.Nonce == "" || out.CodeVerifier == "" {
		return nil, errors.New("incomplete state payload")
	}
	return &out, nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
