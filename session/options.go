// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// getOpts gets the defaults and applies the opt overrides passed in
func getOpts(opt ...Option) options {
	opts := getDefaultOptions()
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// options = how options are represented
type options struct {
	withCookieName   string
	withSecureCookie bool
	withSignInPath   string
	withMaxAge       time.Duration
	withClock        clockwork.Clock
	withLogger       hclog.Logger
}

func getDefaultOptions() options {
	return options{
		withCookieName:   DefaultCookieName,
		withSecureCookie: true,
		withSignInPath:   DefaultSignInPath,
		withMaxAge:       DefaultMaxAge,
		withClock:        clockwork.NewRealClock(),
		withLogger:       hclog.NewNullLogger(),
	}
}

// WithCookieName provides an optional session cookie name.
func WithCookieName(n string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && n != "" {
			o.withCookieName = n
		}
	}
}

// WithSecureCookie sets the Secure attribute of the session cookie. It
// defaults to true; only disable it for plain http development setups.
func WithSecureCookie(secure bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withSecureCookie = secure
		}
	}
}

// WithSignInPath provides an optional path unauthenticated browsers are
// redirected to.
func WithSignInPath(p string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && p != "" {
			o.withSignInPath = p
		}
	}
}

// WithMaxAge provides an optional lifetime for an issued session. Every
// request which materializes the session extends it by the same amount.
func WithMaxAge(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withMaxAge = d
		}
	}
}

// WithClock provides an optional clock.
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && c != nil {
			o.withClock = c
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}
