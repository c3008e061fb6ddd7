// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/cap-token/token"
	"github.com/hashicorp/go-hclog"
)

const (
	// DefaultCookieName is the default name of the session cookie.
	DefaultCookieName = "authmodel.session-token"

	// DefaultSignInPath is where unauthenticated browsers are sent by
	// default.
	DefaultSignInPath = "/myapp"

	// CallbackURLParameter is the query parameter of the sign-in redirect
	// which holds the originally requested URL.
	CallbackURLParameter = "callbackUrl"

	// ErrorSessionRequired is the error reported to API clients which sent
	// no usable session at all.
	ErrorSessionRequired = "SessionRequired"
)

// Guard is net/http middleware which materializes the session on every
// request and forces a sign-out once the session has failed.
type Guard struct {
	cb         *Callbacks
	cookieName string
	secure     bool
	signInPath string
	logger     hclog.Logger
}

// NewGuard creates a Guard.
//
// Supported options: WithCookieName, WithSecureCookie, WithSignInPath,
// WithLogger
func NewGuard(cb *Callbacks, opt ...Option) (*Guard, error) {
	const op = "session.NewGuard"
	if cb == nil {
		return nil, fmt.Errorf("%s: callbacks are nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	if !strings.HasPrefix(opts.withSignInPath, "/") {
		return nil, fmt.Errorf("%s: sign-in path %q is not absolute: %w", op, opts.withSignInPath, ErrInvalidParameter)
	}
	return &Guard{
		cb:         cb,
		cookieName: opts.withCookieName,
		secure:     opts.withSecureCookie,
		signInPath: opts.withSignInPath,
		logger:     opts.withLogger,
	}, nil
}

// Protect wraps next so it only runs with a valid Session, which it can read
// with FromContext. Requests without one get the session cookie cleared and
// are redirected to the sign-in path, or answered with 401 when the client
// asked for JSON.
func (g *Guard) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := g.materialize(r.Context(), w, r)
		if err != nil || !s.Valid() {
			g.reject(w, r, s)
			return
		}
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), s)))
	})
}

// SessionHandler serves the projected Session as JSON. It responds with an
// empty object when there is no session. A failed session is returned with
// its error so the client can sign the user out.
func (g *Guard) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := g.materialize(r.Context(), w, r)
		if err != nil {
			writeJSON(w, http.StatusOK, struct{}{})
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

// SignOutHandler clears the session cookie and redirects to the sign-in path.
func (g *Guard) SignOutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.ClearCookie(w)
		if wantsJSON(r) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Redirect(w, r, g.signInPath, http.StatusFound)
	}
}

// SignIn starts a session from ev and sets its cookie.
func (g *Guard) SignIn(w http.ResponseWriter, r *http.Request, ev *token.SignInEvent) (Session, error) {
	const op = "Guard.SignIn"
	raw, s, err := g.cb.Issue(r.Context(), ev)
	if err != nil {
		return Session{}, fmt.Errorf("%s: %w", op, err)
	}
	g.SetCookie(w, raw)
	return s, nil
}

// SetCookie writes the encoded session to the response.
func (g *Guard) SetCookie(w http.ResponseWriter, raw string) {
	http.SetCookie(w, g.cookie(raw, int(g.cb.Codec().MaxAge().Seconds())))
}

// ClearCookie removes the session cookie from the client.
func (g *Guard) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, g.cookie("", -1))
}

func (g *Guard) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     g.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   g.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// materialize reads and renews the session cookie. The cookie is rewritten
// when the session is usable and cleared otherwise. The returned error is
// only set when there was no session to materialize.
func (g *Guard) materialize(ctx context.Context, w http.ResponseWriter, r *http.Request) (Session, error) {
	const op = "Guard.materialize"
	c, err := r.Cookie(g.cookieName)
	if err != nil || c.Value == "" {
		return Session{}, fmt.Errorf("%s: no session cookie: %w", op, ErrInvalidSession)
	}
	raw, s, err := g.cb.Refresh(ctx, c.Value)
	if err != nil {
		switch {
		case errors.Is(err, ErrExpiredSession):
			g.logger.Debug("session expired", "op", op)
		default:
			g.logger.Warn("session rejected", "op", op, "error", err)
		}
		g.ClearCookie(w)
		return Session{}, fmt.Errorf("%s: %w", op, err)
	}
	if !s.Valid() {
		g.ClearCookie(w)
		return s, nil
	}
	g.SetCookie(w, raw)
	return s, nil
}

func (g *Guard) reject(w http.ResponseWriter, r *http.Request, s Session) {
	if wantsJSON(r) {
		e := s.Error
		if e == "" {
			e = ErrorSessionRequired
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": e})
		return
	}
	q := url.Values{}
	q.Set(CallbackURLParameter, r.URL.RequestURI())
	if s.Error != "" {
		q.Set("error", s.Error)
	}
	http.Redirect(w, r, g.signInPath+"?"+q.Encode(), http.StatusFound)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
