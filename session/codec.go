// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/cap-token/token"
	"github.com/hashicorp/go-uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/hkdf"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

const (
	// MinSecretLength is the minimum length of the secret the session
	// encryption key is derived from.
	MinSecretLength = 32

	// DefaultMaxAge is the default lifetime of an issued session.
	DefaultMaxAge = 30 * 24 * time.Hour

	keyInfo = "cap-token session encryption key"
)

// recordClaims is the wire form of a token.Record. The token types redact
// themselves when marshaled, so plain strings are used here.
type recordClaims struct {
	AccessToken          string           `json:"at,omitempty"`
	RefreshToken         string           `json:"rt,omitempty"`
	AccessTokenExpiresAt int64            `json:"ate,omitempty"`
	Identity             token.Identity   `json:"idn"`
	Error                token.ErrorState `json:"err,omitempty"`
}

func toClaims(r token.Record) recordClaims {
	return recordClaims{
		AccessToken:          string(r.AccessToken),
		RefreshToken:         string(r.RefreshToken),
		AccessTokenExpiresAt: r.AccessTokenExpiresAt,
		Identity:             r.Identity,
		Error:                r.Error,
	}
}

func (c recordClaims) record() token.Record {
	return token.Record{
		AccessToken:          token.AccessToken(c.AccessToken),
		RefreshToken:         token.RefreshToken(c.RefreshToken),
		AccessTokenExpiresAt: c.AccessTokenExpiresAt,
		Identity:             c.Identity,
		Error:                c.Error,
	}
}

// Codec encrypts a token.Record into a compact JWE (dir, A256GCM) and back.
// It is safe for concurrent use.
type Codec struct {
	key    []byte
	maxAge time.Duration
	clock  clockwork.Clock
}

// NewCodec creates a Codec whose key is derived from secret with HKDF-SHA256.
//
// Supported options: WithMaxAge, WithClock
func NewCodec(secret []byte, opt ...Option) (*Codec, error) {
	const op = "session.NewCodec"
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%s: secret must be at least %d bytes: %w", op, MinSecretLength, ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	if opts.withMaxAge <= 0 {
		return nil, fmt.Errorf("%s: max age %s is not positive: %w", op, opts.withMaxAge, ErrInvalidParameter)
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("%s: unable to derive encryption key: %w", op, err)
	}
	return &Codec{
		key:    key,
		maxAge: opts.withMaxAge,
		clock:  opts.withClock,
	}, nil
}

// MaxAge returns the lifetime given to every encoded session.
func (c *Codec) MaxAge() time.Duration { return c.maxAge }

// Encode encrypts the record. The result expires MaxAge from now.
func (c *Codec) Encode(r token.Record) (string, error) {
	const op = "Codec.Encode"
	if err := r.Validate(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	enc, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.DIRECT, Key: c.key},
		(&jose.EncrypterOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("%s: unable to create encrypter: %w", op, err)
	}
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate session id: %w", op, err)
	}
	now := c.clock.Now()
	std := jwt.Claims{
		ID:       id,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(c.maxAge)),
	}
	raw, err := jwt.Encrypted(enc).Claims(std).Claims(toClaims(r)).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("%s: unable to serialize session: %w", op, err)
	}
	return raw, nil
}

// Decode decrypts and checks a value produced by Encode. It returns an error
// wrapping ErrExpiredSession once the session's lifetime has passed, and
// ErrInvalidSession for anything that can't be decrypted or doesn't hold a
// valid token.Record.
func (c *Codec) Decode(raw string) (token.Record, error) {
	const op = "Codec.Decode"
	if raw == "" {
		return token.Record{}, fmt.Errorf("%s: session is empty: %w", op, ErrInvalidSession)
	}
	tok, err := jwt.ParseEncrypted(raw)
	if err != nil {
		return token.Record{}, fmt.Errorf("%s: unable to parse session: %w", op, ErrInvalidSession)
	}
	var std jwt.Claims
	var rc recordClaims
	if err := tok.Claims(c.key, &std, &rc); err != nil {
		return token.Record{}, fmt.Errorf("%s: unable to decrypt session: %w", op, ErrInvalidSession)
	}
	if err := std.ValidateWithLeeway(jwt.Expected{Time: c.clock.Now()}, 0); err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return token.Record{}, fmt.Errorf("%s: %w", op, ErrExpiredSession)
		}
		return token.Record{}, fmt.Errorf("%s: %s: %w", op, err, ErrInvalidSession)
	}
	r := rc.record()
	if err := r.Validate(); err != nil {
		return token.Record{}, fmt.Errorf("%s: %s: %w", op, err, ErrInvalidSession)
	}
	return r, nil
}
