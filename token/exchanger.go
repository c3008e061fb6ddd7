// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package token

import (
	"context"
	"time"
)

// TokenSet is the result of a successful refresh exchange.
type TokenSet struct {
	AccessToken AccessToken

	// RefreshToken is the rotated refresh token, or empty when the provider
	// does not rotate.
	RefreshToken RefreshToken

	// ExpiresIn is the lifetime of AccessToken from the provider's
	// "expires_in".
	ExpiresIn time.Duration
}

// Exchanger trades a refresh token for a new token set at the provider's
// token endpoint. Implementations perform exactly one round trip per call and
// must be safe for concurrent use.
//
// Errors that wrap ErrInvalidGrant mean the provider rejected the refresh
// token itself. Any other error is treated as a failed refresh.
type Exchanger interface {
	Exchange(ctx context.Context, rt RefreshToken) (*TokenSet, error)
}

// ExchangerFunc adapts an ordinary function to an Exchanger.
type ExchangerFunc func(ctx context.Context, rt RefreshToken) (*TokenSet, error)

// Exchange calls f(ctx, rt).
func (f ExchangerFunc) Exchange(ctx context.Context, rt RefreshToken) (*TokenSet, error) {
	return f(ctx, rt)
}

// ensure that TokenEndpoint implements the Exchanger interface
var _ Exchanger = (*TokenEndpoint)(nil)
