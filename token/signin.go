// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package token

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// SignInEvent is the one-time payload delivered by the provider when a user
// completes authentication: the initial token set plus identity claims.
type SignInEvent struct {
	Identity     Identity
	AccessToken  AccessToken
	RefreshToken RefreshToken

	// ExpiresIn is the access token lifetime reported by the provider
	// ("expires_in"), relative to the moment of sign-in.
	ExpiresIn time.Duration
}

// record builds the Record for the event. A non-positive ExpiresIn leaves the
// expiry undefined so the next materialization renews the access token
// straight away.
func (e *SignInEvent) record(now time.Time) Record {
	r := Record{
		AccessToken:  e.AccessToken,
		RefreshToken: e.RefreshToken,
		Identity:     e.Identity,
		Error:        ErrorNone,
	}
	if e.ExpiresIn > 0 {
		r.AccessTokenExpiresAt = now.Add(e.ExpiresIn).UnixMilli()
	}
	return r
}

// SignInEventFromOAuth2 builds a SignInEvent from the token response of an
// authorization code exchange. Identity claims are read from the id_token
// when the response carries one. The now parameter is only used when the
// response has no "expires_in" and the lifetime must be derived from the
// token's absolute expiry.
func SignInEventFromOAuth2(tk *oauth2.Token, now time.Time) (*SignInEvent, error) {
	const op = "token.SignInEventFromOAuth2"
	if tk == nil {
		return nil, fmt.Errorf("%s: token is nil: %w", op, ErrNilParameter)
	}
	if tk.AccessToken == "" {
		return nil, fmt.Errorf("%s: access_token is missing: %w", op, ErrInvalidParameter)
	}
	ev := &SignInEvent{
		AccessToken:  AccessToken(tk.AccessToken),
		RefreshToken: RefreshToken(tk.RefreshToken),
	}
	if exp, err := expiresIn(tk, now); err == nil {
		ev.ExpiresIn = exp
	}
	if raw, ok := tk.Extra("id_token").(string); ok && raw != "" {
		id, err := IdentityFromIDToken(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ev.Identity = id
	}
	return ev, nil
}

// expiresIn returns the access token lifetime of a token response. The
// response's expires_in is preferred; the absolute Expiry computed by the
// oauth2 package is the fallback.
func expiresIn(tk *oauth2.Token, now time.Time) (time.Duration, error) {
	const op = "token.expiresIn"
	switch {
	case tk.ExpiresIn > 0:
		return time.Duration(tk.ExpiresIn) * time.Second, nil
	case !tk.Expiry.IsZero():
		if d := tk.Expiry.Sub(now); d > 0 {
			return d, nil
		}
		return 0, fmt.Errorf("%s: token already expired: %w", op, ErrMalformedResponse)
	default:
		return 0, fmt.Errorf("%s: expires_in is missing: %w", op, ErrMalformedResponse)
	}
}
