// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package token

import (
	"bytes"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/cap-token/internal/httpclient"
	"github.com/stretchr/testify/require"
)

// TestProvider is a local TLS server which implements the parts of a
// Keycloak realm a relying party needs for token renewal: the discovery
// document and the refresh_token grant on the token endpoint. Its replies
// can be scripted so tests can drive success, rotation, invalid_grant, other
// provider errors, malformed bodies and slow responses.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	mu                sync.Mutex
	clientID          string
	clientSecret      string
	expectedRefresh   string
	replyExpiresIn    int64
	rotateTo          string
	errStatus         int
	errCode           string
	malformedReply    bool
	omitAccessToken   bool
	delay             time.Duration
	refreshCalls      int
	lastRefreshToken  string
	issuedAccessToken string

	t *testing.T
}

// StartTestProvider creates and starts a disposable TestProvider. It is
// stopped automatically when the test completes. The default client
// credentials are "test-client-id" / "test-client-secret" and access tokens
// are issued with an expires_in of 300 seconds.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		clientID:       "test-client-id",
		clientSecret:   "test-client-secret",
		replyExpiresIn: 300,
		t:              t,
	}
	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.Stop)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the base URL of the running provider. It is also the issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// TokenURL returns the provider's token endpoint.
func (p *TestProvider) TokenURL() string { return p.Addr() + KeycloakTokenPath }

// CACert returns the pem-encoded CA certificate used by the provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HTTPClient returns an http client which trusts the provider's CA.
func (p *TestProvider) HTTPClient() *http.Client {
	p.t.Helper()
	c, err := httpclient.New(p.caCert)
	require.NoError(p.t, err)
	return c
}

// Config returns a valid Config for the provider using its current client
// credentials and CA.
func (p *TestProvider) Config() *Config {
	p.t.Helper()
	p.mu.Lock()
	id, secret := p.clientID, p.clientSecret
	p.mu.Unlock()
	c, err := NewConfig(p.Addr(), id, ClientSecret(secret), WithProviderCA(p.caCert))
	require.NoError(p.t, err)
	return c
}

// SetClientCreds configures the client credentials the token endpoint
// accepts.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedRefreshToken makes the token endpoint reply invalid_grant for
// any other refresh token. Empty accepts every refresh token.
func (p *TestProvider) SetExpectedRefreshToken(rt string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedRefresh = rt
}

// SetExpiresIn configures the expires_in of issued access tokens.
func (p *TestProvider) SetExpiresIn(secs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyExpiresIn = secs
}

// SetRotateRefreshToken makes successful replies carry rt as a new refresh
// token. Empty disables rotation.
func (p *TestProvider) SetRotateRefreshToken(rt string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotateTo = rt
}

// SetTokenError makes the token endpoint fail every request with the status
// and oauth error code. A zero status clears it.
func (p *TestProvider) SetTokenError(status int, code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errStatus = status
	p.errCode = code
}

// SetMalformedReply makes the token endpoint reply 200 with a body which is
// not JSON.
func (p *TestProvider) SetMalformedReply(malformed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.malformedReply = malformed
}

// SetOmitAccessToken makes the token endpoint reply 200 without an
// access_token.
func (p *TestProvider) SetOmitAccessToken(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitAccessToken = omit
}

// SetTokenDelay delays every token endpoint reply by d, or until the request
// is cancelled.
func (p *TestProvider) SetTokenDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

// RefreshCalls returns how many requests reached the token endpoint.
func (p *TestProvider) RefreshCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCalls
}

// LastRefreshToken returns the refresh token of the latest token endpoint
// request.
func (p *TestProvider) LastRefreshToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRefreshToken
}

// LastAccessToken returns the access token issued by the latest successful
// reply.
func (p *TestProvider) LastAccessToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.issuedAccessToken
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, status int, out interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeTokenError(w http.ResponseWriter, status int, code, desc string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: code,
		Desc: desc,
	}
	p.writeJSON(w, status, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := struct {
			Issuer        string   `json:"issuer"`
			AuthEndpoint  string   `json:"authorization_endpoint"`
			TokenEndpoint string   `json:"token_endpoint"`
			JWKSURI       string   `json:"jwks_uri"`
			GrantTypes    []string `json:"grant_types_supported"`
		}{
			Issuer:        p.Addr(),
			AuthEndpoint:  p.Addr() + "/protocol/openid-connect/auth",
			TokenEndpoint: p.TokenURL(),
			JWKSURI:       p.Addr() + "/protocol/openid-connect/certs",
			GrantTypes:    []string{"authorization_code", "refresh_token"},
		}
		p.writeJSON(w, http.StatusOK, &reply)

	case KeycloakTokenPath:
		p.serveToken(w, req)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) serveToken(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := req.ParseForm(); err != nil {
		p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "unable to parse form")
		return
	}

	p.mu.Lock()
	p.refreshCalls++
	n := p.refreshCalls
	p.lastRefreshToken = req.PostForm.Get("refresh_token")
	clientID, clientSecret := p.clientID, p.clientSecret
	expected, expiresIn, rotateTo := p.expectedRefresh, p.replyExpiresIn, p.rotateTo
	errStatus, errCode := p.errStatus, p.errCode
	malformed, omitAccess, delay := p.malformedReply, p.omitAccessToken, p.delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-req.Context().Done():
			return
		}
	}

	switch {
	case req.PostForm.Get("client_id") != clientID || req.PostForm.Get("client_secret") != clientSecret:
		p.writeTokenError(w, http.StatusUnauthorized, "invalid_client", "invalid client credentials")
		return
	case req.PostForm.Get("grant_type") != "refresh_token":
		p.writeTokenError(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
		return
	case req.PostForm.Get("refresh_token") == "":
		p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "missing refresh_token")
		return
	case expected != "" && req.PostForm.Get("refresh_token") != expected:
		p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "Invalid refresh token")
		return
	case errStatus != 0:
		p.writeTokenError(w, errStatus, errCode, "scripted failure")
		return
	case malformed:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("It's not a token response!"))
		return
	}

	reply := struct {
		AccessToken  string `json:"access_token,omitempty"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
		RefreshToken string `json:"refresh_token,omitempty"`
	}{
		AccessToken:  fmt.Sprintf("access-token-%d", n),
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: rotateTo,
	}
	if omitAccess {
		reply.AccessToken = ""
	}
	p.mu.Lock()
	p.issuedAccessToken = reply.AccessToken
	p.mu.Unlock()
	p.writeJSON(w, http.StatusOK, &reply)
}
