// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package token

import "errors"

var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrNilParameter      = errors.New("nil parameter")
	ErrInvalidCACert     = errors.New("invalid CA certificate")
	ErrInvalidIssuer     = errors.New("invalid issuer")
	ErrInvalidGrant      = errors.New("invalid grant")
	ErrRefreshFailed     = errors.New("refresh failed")
	ErrMalformedResponse = errors.New("malformed token response")
	ErrInvalidRecord     = errors.New("invalid token record")
)
