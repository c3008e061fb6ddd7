// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package token

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

type idTokenClaims struct {
	jwt.RegisteredClaims
	Name              string `json:"name"`
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
}

// IdentityFromIDToken reads the identity claims of an id_token without
// verifying its signature. Only use it for an id_token received directly from
// the provider's token endpoint over TLS.
func IdentityFromIDToken(raw string) (Identity, error) {
	const op = "token.IdentityFromIDToken"
	if raw == "" {
		return Identity{}, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	var claims idTokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return Identity{}, fmt.Errorf("%s: unable to parse id_token: %w", op, ErrInvalidParameter)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%s: id_token has no sub claim: %w", op, ErrInvalidParameter)
	}
	return Identity{
		Subject:           claims.Subject,
		Name:              claims.Name,
		Email:             claims.Email,
		PreferredUsername: claims.PreferredUsername,
	}, nil
}
