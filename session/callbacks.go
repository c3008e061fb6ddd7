// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"fmt"

	"github.com/hashicorp/cap-token/token"
	"github.com/hashicorp/go-hclog"
)

// Materializer is the part of token.Manager the callbacks depend on.
type Materializer interface {
	Materialize(ctx context.Context, previous token.Record, ev *token.SignInEvent) token.Record
}

var _ Materializer = (*token.Manager)(nil)

// Callbacks ties a Materializer to the encrypted session value: it is run
// once at sign-in and on every later request that reads the session.
type Callbacks struct {
	m      Materializer
	codec  *Codec
	logger hclog.Logger
}

// NewCallbacks creates Callbacks.
//
// Supported options: WithLogger
func NewCallbacks(m Materializer, codec *Codec, opt ...Option) (*Callbacks, error) {
	const op = "session.NewCallbacks"
	switch {
	case m == nil:
		return nil, fmt.Errorf("%s: materializer is nil: %w", op, ErrNilParameter)
	case codec == nil:
		return nil, fmt.Errorf("%s: codec is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	return &Callbacks{
		m:      m,
		codec:  codec,
		logger: opts.withLogger,
	}, nil
}

// Codec returns the codec the callbacks encode sessions with.
func (c *Callbacks) Codec() *Codec { return c.codec }

// Issue starts a session from a sign-in event and returns the encoded value
// to store in the session cookie.
func (c *Callbacks) Issue(ctx context.Context, ev *token.SignInEvent) (string, Session, error) {
	const op = "Callbacks.Issue"
	if ev == nil {
		return "", Session{}, fmt.Errorf("%s: sign-in event is nil: %w", op, ErrNilParameter)
	}
	rec := c.m.Materialize(ctx, token.Record{}, ev)
	raw, err := c.codec.Encode(rec)
	if err != nil {
		return "", Session{}, fmt.Errorf("%s: %w", op, err)
	}
	c.logger.Debug("session issued", "op", op, "sub", rec.Identity.Subject)
	return raw, Project(rec), nil
}

// Refresh decodes an existing session, materializes its Record and returns
// the re-encoded value together with the projected Session. A Record that
// ends up in an error state is still encoded and returned; callers check
// Session.Valid and sign the user out.
func (c *Callbacks) Refresh(ctx context.Context, raw string) (string, Session, error) {
	const op = "Callbacks.Refresh"
	prev, err := c.codec.Decode(raw)
	if err != nil {
		return "", Session{}, fmt.Errorf("%s: %w", op, err)
	}
	rec := c.m.Materialize(ctx, prev, nil)
	next, err := c.codec.Encode(rec)
	if err != nil {
		return "", Session{}, fmt.Errorf("%s: %w", op, err)
	}
	if rec.Failed() {
		c.logger.Info("session failed", "op", op, "sub", rec.Identity.Subject, "error", rec.Error)
	}
	return next, Project(rec), nil
}
