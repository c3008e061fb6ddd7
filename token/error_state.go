// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package token

import "fmt"

// ErrorState is the sticky failure marker carried by a Record. Any value other
// than ErrorNone means the Record is unusable until a new sign-in replaces it.
type ErrorState uint8

const (
	// ErrorNone means the Record has not failed.
	ErrorNone ErrorState = iota

	// ErrorNoRefreshToken means the access token needed renewal but the
	// provider never issued a refresh token, or it was cleared earlier.
	ErrorNoRefreshToken

	// ErrorInvalidGrant means the provider rejected the refresh token
	// (revoked, expired or reused). Retrying is pointless.
	ErrorInvalidGrant

	// ErrorRefreshFailed covers every other failed renewal: provider errors
	// other than invalid_grant, transport failures, timeouts and malformed
	// responses.
	ErrorRefreshFailed
)

var errorStateNames = map[ErrorState]string{
	ErrorNone:           "",
	ErrorNoRefreshToken: "NoRefreshToken",
	ErrorInvalidGrant:   "InvalidGrant",
	ErrorRefreshFailed:  "RefreshFailed",
}

// String returns the name surfaced to session consumers. ErrorNone is the
// empty string.
func (s ErrorState) String() string {
	if n, ok := errorStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("ErrorState(%d)", uint8(s))
}

// Valid reports whether s is one of the defined states.
func (s ErrorState) Valid() bool {
	_, ok := errorStateNames[s]
	return ok
}

// MarshalText implements encoding.TextMarshaler.
func (s ErrorState) MarshalText() ([]byte, error) {
	const op = "ErrorState.MarshalText"
	if !s.Valid() {
		return nil, fmt.Errorf("%s: unknown error state %d: %w", op, uint8(s), ErrInvalidParameter)
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ErrorState) UnmarshalText(text []byte) error {
	const op = "ErrorState.UnmarshalText"
	for k, v := range errorStateNames {
		if v == string(text) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("%s: unknown error state %q: %w", op, string(text), ErrInvalidParameter)
}
