// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
)

// DefaultExchangeTimeout bounds a single refresh exchange when no
// WithTimeout option is given.
const DefaultExchangeTimeout = 10 * time.Second

// TokenEndpoint is an Exchanger which performs the refresh_token grant
// against the provider's token endpoint. It is safe for concurrent use.
type TokenEndpoint struct {
	oauth2Config oauth2.Config
	client       *http.Client
	timeout      time.Duration
	now          func() time.Time
	logger       hclog.Logger
}

// NewTokenEndpoint creates a TokenEndpoint for the config. The token URL is
// c.Endpoint(); no request is made to the provider.
//
// Supported options: WithTimeout, WithHTTPClient, WithClock, WithNow,
// WithLogger
func NewTokenEndpoint(c *Config, opt ...Option) (*TokenEndpoint, error) {
	const op = "token.NewTokenEndpoint"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	return newTokenEndpoint(op, c, c.Endpoint(), opt...)
}

// NewTokenEndpointFromDiscovery creates a TokenEndpoint whose token URL is
// taken from the provider's discovery document. It makes an http request to
// the issuer.
//
// Supported options: WithTimeout, WithHTTPClient, WithClock, WithNow,
// WithLogger
func NewTokenEndpointFromDiscovery(ctx context.Context, c *Config, opt ...Option) (*TokenEndpoint, error) {
	const op = "token.NewTokenEndpointFromDiscovery"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	opts := getEndpointOpts(opt...)
	client := opts.withHTTPClient
	if client == nil {
		var err error
		if client, err = c.HTTPClient(); err != nil {
			return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
		}
	}
	p, err := oidc.NewProvider(oidc.ClientContext(ctx, client), c.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to discover provider: %w", op, err)
	}
	tokenURL := p.Endpoint().TokenURL
	if tokenURL == "" {
		return nil, fmt.Errorf("%s: discovery document has no token_endpoint: %w", op, ErrInvalidIssuer)
	}
	return newTokenEndpoint(op, c, tokenURL, append(opt, WithHTTPClient(client))...)
}

func newTokenEndpoint(op string, c *Config, tokenURL string, opt ...Option) (*TokenEndpoint, error) {
	opts := getEndpointOpts(opt...)
	if opts.withTimeout < 0 {
		return nil, fmt.Errorf("%s: timeout %s is negative: %w", op, opts.withTimeout, ErrInvalidParameter)
	}
	client := opts.withHTTPClient
	if client == nil {
		var err error
		if client, err = c.HTTPClient(); err != nil {
			return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
		}
	}
	e := &TokenEndpoint{
		oauth2Config: oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: string(c.ClientSecret),
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client:  client,
		timeout: opts.withTimeout,
		now:     opts.now(),
		logger:  opts.withLogger,
	}
	return e, nil
}

// TokenURL returns the token endpoint the exchanges are sent to.
func (e *TokenEndpoint) TokenURL() string {
	return e.oauth2Config.Endpoint.TokenURL
}

// Exchange performs one refresh_token grant. The request is a form-encoded
// POST carrying client_id, client_secret, grant_type and refresh_token.
//
// A provider response with error "invalid_grant" returns an error wrapping
// ErrInvalidGrant. Every other failure, including transport errors and
// timeouts, returns an error wrapping ErrRefreshFailed.
func (e *TokenEndpoint) Exchange(ctx context.Context, rt RefreshToken) (*TokenSet, error) {
	const op = "TokenEndpoint.Exchange"
	if rt == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	now := e.now()

	// A token with only a refresh token is never valid, so the token source
	// goes straight to the endpoint.
	src := e.oauth2Config.TokenSource(oidc.ClientContext(ctx, e.client), &oauth2.Token{RefreshToken: string(rt)})
	tk, err := src.Token()
	if err != nil {
		return nil, classifyExchangeError(op, err)
	}
	exp, err := expiresIn(tk, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrRefreshFailed, err)
	}
	ts := &TokenSet{
		AccessToken: AccessToken(tk.AccessToken),
		ExpiresIn:   exp,
	}
	// the oauth2 package copies the request's refresh token into the response
	// when the provider doesn't rotate; only report a rotated one.
	if tk.RefreshToken != "" && tk.RefreshToken != string(rt) {
		ts.RefreshToken = RefreshToken(tk.RefreshToken)
	}
	e.logger.Trace("refresh exchange succeeded", "op", op, "token_url", e.TokenURL(), "expires_in", exp, "rotated", ts.RefreshToken != "")
	return ts, nil
}

func classifyExchangeError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		if re.ErrorCode == "invalid_grant" {
			return fmt.Errorf("%s: provider rejected refresh token (status %d): %w", op, status, ErrInvalidGrant)
		}
		return fmt.Errorf("%s: provider error %q (status %d): %w", op, re.ErrorCode, status, ErrRefreshFailed)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrRefreshFailed, err)
}

// endpointOptions is the set of available options for TokenEndpoint
type endpointOptions struct {
	withTimeout    time.Duration
	withHTTPClient *http.Client
	withClock      clockwork.Clock
	withNowFunc    func() time.Time
	withLogger     hclog.Logger
}

func endpointDefaults() endpointOptions {
	return endpointOptions{
		withTimeout: DefaultExchangeTimeout,
		withClock:   clockwork.NewRealClock(),
		withLogger:  hclog.NewNullLogger(),
	}
}

func getEndpointOpts(opt ...Option) endpointOptions {
	opts := endpointDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

func (o endpointOptions) now() func() time.Time {
	if o.withNowFunc != nil {
		return o.withNowFunc
	}
	return o.withClock.Now
}

// WithTimeout provides an optional per-exchange timeout for the
// TokenEndpoint. Zero disables it, leaving only the context's deadline.
func WithTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*endpointOptions); ok {
			o.withTimeout = d
		}
	}
}

// WithHTTPClient provides an optional http client for the TokenEndpoint,
// replacing the one built from the config's ProviderCA.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*endpointOptions); ok && c != nil {
			o.withHTTPClient = c
		}
	}
}
