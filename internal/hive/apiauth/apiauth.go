// Package apiauth implements the API consumer authentication path from
// §4.4: bearer token → token record → optional impersonation, plus the
// context-key propagation pattern the HTTP boundary uses to carry the
// resolved identity into handlers.
package apiauth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/datasektionen/hive-sub000/internal/hive/hiveerr"
	"github.com/datasektionen/hive-sub000/internal/hive/store"
)

// TokenResolver resolves a bearer secret to a token's (id, system). It is
// satisfied by *store.Store.
type TokenResolver interface {
	ResolveToken(ctx context.Context, secretHash string, now time.Time) (id, systemID string, ok bool, err error)
}

// ImpersonationChecker answers whether tokenID holds api-impersonate-system
// with a scope covering targetSystem, on the hive system.
type ImpersonationChecker interface {
	CanImpersonate(ctx context.Context, tokenID, targetSystem string) (bool, error)
}

// Consumer is the resolved identity of an authenticated API caller: the
// token that authenticated, and the system_id in effect for the rest of
// the request (substituted by impersonation when requested).
type Consumer struct {
	TokenID       string
	SystemID      string
	Impersonating bool
}

type contextKey int

const consumerContextKey contextKey = iota

// FromContext extracts the resolved Consumer, or nil if the request never
// authenticated (mirrors the teacher's FromContext/UserFromContext pattern
// in internal/controlplane/auth/middleware.go).
func FromContext(ctx context.Context) *Consumer {
	c, _ := ctx.Value(consumerContextKey).(*Consumer)
	return c
}

func withConsumer(ctx context.Context, c *Consumer) context.Context {
	return context.WithValue(ctx, consumerContextKey, c)
}

const impersonateHeader = "X-Hive-Impersonate-System"

// Middleware implements §4.4 steps 1–3 for every /api/v1/* request: parse
// the bearer token, resolve it, and apply impersonation if requested.
// /api/v0/* deliberately bypasses the ImpersonationChecker's capability
// gate beyond token resolution — see DESIGN.md's resolution of the v0
// Open Question in §9.
type Middleware struct {
	Tokens        TokenResolver
	Impersonation ImpersonationChecker
	Now           func() time.Time
}

// Authenticate performs steps 1–3 and returns the resolved Consumer, or a
// *hiveerr.Error (api.unauthorized or forbidden) on failure.
func (m *Middleware) Authenticate(r *http.Request) (*Consumer, *hiveerr.Error) {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}

	secret, ok := bearerToken(r)
	if !ok {
		return nil, hiveerr.ForKey(hiveerr.KeyAPIUnauthorized)
	}

	id, systemID, found, err := m.Tokens.ResolveToken(r.Context(), store.HashSecret(secret), now())
	if err != nil {
		return nil, hiveerr.Wrap(hiveerr.KeyDB, 500, err)
	}
	if !found {
		return nil, hiveerr.ForKey(hiveerr.KeyAPIUnauthorized)
	}

	consumer := &Consumer{TokenID: id, SystemID: systemID}

	if target := r.Header.Get(impersonateHeader); target != "" {
		if m.Impersonation == nil {
			return nil, hiveerr.ForKey(hiveerr.KeyForbidden)
		}
		allowed, err := m.Impersonation.CanImpersonate(r.Context(), id, target)
		if err != nil {
			return nil, hiveerr.Wrap(hiveerr.KeyDB, 500, err)
		}
		if !allowed {
			return nil, hiveerr.ForKey(hiveerr.KeyForbidden)
		}
		consumer.SystemID = target
		consumer.Impersonating = true
	}

	return consumer, nil
}

// Wrap authenticates the request and either calls next with the Consumer
// attached to the request context, or renders the envelope error.
func (m *Middleware) Wrap(render func(http.ResponseWriter, *http.Request, *hiveerr.Error), next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		consumer, herr := m.Authenticate(r)
		if herr != nil {
			render(w, r, herr)
			return
		}
		next.ServeHTTP(w, r.WithContext(withConsumer(r.Context(), consumer)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
