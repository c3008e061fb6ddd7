// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package token

import (
	"fmt"
	"time"
)

// Identity is the subset of the provider's profile kept with a Record. It is
// set once at sign-in and never taken from a refresh response.
type Identity struct {
	Subject           string `json:"sub,omitempty"`
	Name              string `json:"name,omitempty"`
	Email             string `json:"email,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
}

// Record is the auth state of one signed-in user. It is rebuilt on every
// request from whatever the client sent back, so it holds everything needed
// to decide what happens next.
//
// The zero value is a Record with no tokens and no error; materializing it
// without a sign-in event yields ErrorNoRefreshToken.
//
// The JSON form of a Record is for display and logs only: both tokens redact
// themselves, so it can't be decoded back into a working Record. Use
// session.Codec to carry a Record between requests.
type Record struct {
	// AccessToken is the bearer credential for downstream APIs. Empty means
	// undefined.
	AccessToken AccessToken `json:"access_token,omitempty"`

	// RefreshToken is only ever sent to the token endpoint. Empty means
	// undefined.
	RefreshToken RefreshToken `json:"refresh_token,omitempty"`

	// AccessTokenExpiresAt is the absolute expiry of AccessToken in epoch
	// milliseconds. Zero means undefined.
	AccessTokenExpiresAt int64 `json:"access_token_expires_at,omitempty"`

	Identity Identity `json:"identity"`

	Error ErrorState `json:"error,omitempty"`
}

// ExpiresAt returns AccessTokenExpiresAt as a time.Time, or the zero time when
// it is undefined.
func (r Record) ExpiresAt() time.Time {
	if r.AccessTokenExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.AccessTokenExpiresAt)
}

// Failed reports whether the record carries a sticky error.
func (r Record) Failed() bool {
	return r.Error != ErrorNone
}

// Usable reports whether the access token can be handed to a downstream
// call at the given instant.
func (r Record) Usable(now time.Time) bool {
	return !r.Failed() && r.AccessToken != "" && now.UnixMilli() < r.AccessTokenExpiresAt
}

// Validate checks the invariants that hold for any Record produced by a
// Manager, independent of the current time. It is meant for records that
// come back from an untrusted store or codec.
//
// A Record without an error and with AccessTokenExpiresAt 0 is valid: a
// sign-in which reported no lifetime leaves the expiry undefined, and the
// next materialization renews the access token straight away.
func (r Record) Validate() error {
	const op = "Record.Validate"
	switch {
	case !r.Error.Valid():
		return fmt.Errorf("%s: unknown error state %d: %w", op, uint8(r.Error), ErrInvalidRecord)
	case r.AccessTokenExpiresAt < 0:
		return fmt.Errorf("%s: negative access token expiry: %w", op, ErrInvalidRecord)
	case r.Failed() && r.AccessToken != "":
		return fmt.Errorf("%s: failed record (%s) still holds an access token: %w", op, r.Error, ErrInvalidRecord)
	case r.Failed() && r.RefreshToken != "":
		return fmt.Errorf("%s: failed record (%s) still holds a refresh token: %w", op, r.Error, ErrInvalidRecord)
	case r.Failed() && r.AccessTokenExpiresAt != 0:
		return fmt.Errorf("%s: failed record (%s) still has an access token expiry: %w", op, r.Error, ErrInvalidRecord)
	}
	return nil
}

// failed returns a copy of r in the given error state with every credential
// cleared. Identity is kept so the failure can still be attributed.
func (r Record) failed(s ErrorState) Record {
	return Record{
		Identity: r.Identity,
		Error:    s,
	}
}
