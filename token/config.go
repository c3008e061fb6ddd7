// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/cap-token/internal/httpclient"
	"github.com/hashicorp/go-multierror"
)

// ClientSecret is an oauth client secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret.
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// KeycloakTokenPath is the token endpoint path, relative to the issuer, used
// when no token URL is configured.
const KeycloakTokenPath = "/protocol/openid-connect/token"

// Config represents the relying party's registration with the provider. It
// is read once at start-up and never changed afterwards.
type Config struct {
	// ClientID is the relying party id.
	ClientID string

	// ClientSecret is the relying party secret.
	ClientSecret ClientSecret

	// Issuer is the provider's issuer URL. Only the http and https schemes
	// are accepted.
	Issuer string

	// TokenURL is an optional token endpoint URL. When empty the endpoint is
	// Issuer + KeycloakTokenPath.
	TokenURL string

	// ProviderCA is an optional CA cert (PEM) to use when sending requests to
	// the provider.
	ProviderCA string
}

// NewConfig composes a new config for a provider.
//
// Supported options: WithTokenURL, WithProviderCA
func NewConfig(issuer string, clientID string, clientSecret ClientSecret, opt ...Option) (*Config, error) {
	const op = "token.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:       issuer,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     opts.withTokenURL,
		ProviderCA:   opts.withProviderCA,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration. Every problem found is reported, not
// just the first one. It doesn't verify the issuer is reachable.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	if c.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("client id is empty: %w", ErrInvalidParameter))
	}
	if c.ClientSecret == "" {
		result = multierror.Append(result, fmt.Errorf("client secret is empty: %w", ErrInvalidParameter))
	}
	if c.Issuer == "" {
		result = multierror.Append(result, fmt.Errorf("issuer is empty: %w", ErrInvalidIssuer))
	} else if err := validateURL(c.Issuer); err != nil {
		result = multierror.Append(result, fmt.Errorf("issuer %q: %w", c.Issuer, err))
	}
	if c.TokenURL != "" {
		if err := validateURL(c.TokenURL); err != nil {
			result = multierror.Append(result, fmt.Errorf("token URL %q: %w", c.TokenURL, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func validateURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("unable to parse: %w", ErrInvalidIssuer)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q is not http or https: %w", u.Scheme, ErrInvalidIssuer)
	}
	if u.Host == "" {
		return fmt.Errorf("host is missing: %w", ErrInvalidIssuer)
	}
	return nil
}

// Endpoint returns the token endpoint URL to use for refresh exchanges.
func (c *Config) Endpoint() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	return strings.TrimSuffix(c.Issuer, "/") + KeycloakTokenPath
}

// HTTPClient is a helper function that creates a new http client for the
// provider configured.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	client, err := httpclient.New(c.ProviderCA)
	if err != nil {
		if errors.Is(err, httpclient.ErrInvalidCertificatePEM) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

// configOptions is the set of available options for NewConfig
type configOptions struct {
	withTokenURL   string
	withProviderCA string
}

func configDefaults() configOptions {
	return configOptions{}
}

func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithTokenURL provides an optional token endpoint URL for the provider's
// config.
func WithTokenURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withTokenURL = u
		}
	}
}

// WithProviderCA provides an optional CA cert for the provider's config.
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}
