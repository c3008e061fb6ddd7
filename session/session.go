// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"

	"github.com/hashicorp/cap-token/token"
)

// Session is the client visible view of a token.Record. It never carries the
// refresh token.
type Session struct {
	User                 token.Identity `json:"user"`
	AccessToken          string         `json:"accessToken,omitempty"`
	AccessTokenExpiresAt int64          `json:"accessTokenExpiresAt,omitempty"`
	Error                string         `json:"error,omitempty"`
}

// Project builds the Session for r. A failed Record projects its error name
// and no access token.
func Project(r token.Record) Session {
	s := Session{
		User:  r.Identity,
		Error: r.Error.String(),
	}
	if !r.Failed() {
		s.AccessToken = string(r.AccessToken)
		s.AccessTokenExpiresAt = r.AccessTokenExpiresAt
	}
	return s
}

// Valid reports whether the Session may be used to call downstream APIs.
func (s Session) Valid() bool {
	return s.Error == "" && s.AccessToken != ""
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the Session stored by Guard.Protect, if any.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok
}
