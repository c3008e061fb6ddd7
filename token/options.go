// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package token

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithNow provides an optional func for determining what the current time it
// is for: Manager and TokenEndpoint. It takes precedence over WithClock.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *managerOptions:
			v.withNowFunc = now
		case *endpointOptions:
			v.withNowFunc = now
		}
	}
}

// WithClock provides an optional clock for: Manager and TokenEndpoint.
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		if c == nil {
			return
		}
		switch v := o.(type) {
		case *managerOptions:
			v.withClock = c
		case *endpointOptions:
			v.withClock = c
		}
	}
}

// WithLogger provides an optional logger for: Manager and TokenEndpoint.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		switch v := o.(type) {
		case *managerOptions:
			v.withLogger = l
		case *endpointOptions:
			v.withLogger = l
		}
	}
}
