// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

// DefaultRefreshBuffer is how long before the access token's expiry a
// renewal is started.
const DefaultRefreshBuffer = 60 * time.Second

// Manager decides, for every materialization of a session, whether a Record
// is usable as is, needs its access token renewed, or has failed for good.
//
// A Manager holds no per-user state. Concurrent calls are independent, even
// for copies of the same Record; each may run its own refresh exchange.
type Manager struct {
	exchanger Exchanger
	buffer    time.Duration
	now       func() time.Time
	logger    hclog.Logger
	metrics   *Metrics
}

// NewManager creates a Manager which renews access tokens with ex.
//
// Supported options: WithRefreshBuffer, WithClock, WithNow, WithLogger,
// WithMetrics
func NewManager(ex Exchanger, opt ...Option) (*Manager, error) {
	const op = "token.NewManager"
	if ex == nil {
		return nil, fmt.Errorf("%s: exchanger is nil: %w", op, ErrNilParameter)
	}
	opts := getManagerOpts(opt...)
	if opts.withRefreshBuffer < 0 {
		return nil, fmt.Errorf("%s: refresh buffer %s is negative: %w", op, opts.withRefreshBuffer, ErrInvalidParameter)
	}
	now := opts.withClock.Now
	if opts.withNowFunc != nil {
		now = opts.withNowFunc
	}
	return &Manager{
		exchanger: ex,
		buffer:    opts.withRefreshBuffer,
		now:       now,
		logger:    opts.withLogger,
		metrics:   opts.withMetrics,
	}, nil
}

// Materialize returns the Record to use for the current request. The rules
// are applied in order:
//
//  1. A sign-in event always wins: previous is discarded and a fresh Record
//     is built from the event.
//  2. A previous Record with an error is returned unchanged.
//  3. A previous Record whose access token is valid beyond the refresh buffer
//     is returned unchanged.
//  4. A previous Record without a refresh token fails with
//     ErrorNoRefreshToken.
//  5. Otherwise one refresh exchange is made and its outcome recorded.
//
// Materialize never returns an error; failures are recorded in Record.Error.
// Only step 5 has a side effect.
func (m *Manager) Materialize(ctx context.Context, previous Record, ev *SignInEvent) Record {
	const op = "Manager.Materialize"
	now := m.now()
	switch {
	case ev != nil:
		m.metrics.observe(outcomeSignIn)
		next := ev.record(now)
		m.logger.Debug("signed in", "op", op, "sub", next.Identity.Subject, "expires_at", next.ExpiresAt(), "has_refresh_token", next.RefreshToken != "")
		return next

	case previous.Failed():
		m.metrics.observe(outcomeSticky)
		return previous

	case previous.AccessTokenExpiresAt != 0 && now.UnixMilli() < previous.AccessTokenExpiresAt-m.buffer.Milliseconds():
		m.metrics.observe(outcomeFresh)
		return previous

	case previous.RefreshToken == "":
		m.metrics.observe(outcomeNoRefreshToken)
		m.logger.Warn("access token needs renewal but there is no refresh token", "op", op, "sub", previous.Identity.Subject)
		return previous.failed(ErrorNoRefreshToken)
	}
	return m.refresh(ctx, previous, now)
}

func (m *Manager) refresh(ctx context.Context, previous Record, now time.Time) Record {
	const op = "Manager.refresh"
	ts, err := m.exchanger.Exchange(ctx, previous.RefreshToken)
	elapsed := m.now().Sub(now)
	if err == nil && (ts == nil || ts.AccessToken == "" || ts.ExpiresIn <= 0) {
		err = fmt.Errorf("%s: reply without access token or lifetime: %w", op, ErrMalformedResponse)
	}
	m.metrics.observeRefresh(err, elapsed)
	switch {
	case errors.Is(err, ErrInvalidGrant):
		m.metrics.observe(outcomeInvalidGrant)
		m.logger.Warn("refresh token rejected by provider", "op", op, "sub", previous.Identity.Subject, "error", err)
		return previous.failed(ErrorInvalidGrant)
	case err != nil:
		m.metrics.observe(outcomeRefreshFailed)
		m.logger.Warn("unable to renew access token", "op", op, "sub", previous.Identity.Subject, "error", err)
		return previous.failed(ErrorRefreshFailed)
	}

	next := previous
	next.AccessToken = ts.AccessToken
	next.AccessTokenExpiresAt = now.Add(ts.ExpiresIn).UnixMilli()
	if ts.RefreshToken != "" {
		next.RefreshToken = ts.RefreshToken
	}
	next.Error = ErrorNone
	m.metrics.observe(outcomeRefreshed)
	m.logger.Debug("access token renewed", "op", op, "sub", next.Identity.Subject, "expires_at", next.ExpiresAt(), "rotated", ts.RefreshToken != "")
	return next
}

// managerOptions is the set of available options for Manager
type managerOptions struct {
	withRefreshBuffer time.Duration
	withClock         clockwork.Clock
	withNowFunc       func() time.Time
	withLogger        hclog.Logger
	withMetrics       *Metrics
}

func managerDefaults() managerOptions {
	return managerOptions{
		withRefreshBuffer: DefaultRefreshBuffer,
		withClock:         clockwork.NewRealClock(),
		withLogger:        hclog.NewNullLogger(),
	}
}

func getManagerOpts(opt ...Option) managerOptions {
	opts := managerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithRefreshBuffer provides an optional refresh buffer for the Manager. An
// access token is renewed once less than d remains before its expiry.
func WithRefreshBuffer(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withRefreshBuffer = d
		}
	}
}

// WithMetrics provides optional metrics for the Manager.
func WithMetrics(mt *Metrics) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withMetrics = mt
		}
	}
}
