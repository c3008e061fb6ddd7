// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
Package token manages the lifecycle of an access token and refresh token pair
issued by an OIDC provider for a stateless relying party.

The unit of state is a Record. It is created at sign-in, carried by the client
between requests (see the session package) and handed back to a Manager on
every request. Manager.Materialize decides whether the Record can be used as
is, needs its access token renewed, or is broken for good, and returns the
next Record:

	ep, err := token.NewTokenEndpoint(cfg)
	if err != nil {
		// handle error
	}
	m, err := token.NewManager(ep, token.WithLogger(logger))
	if err != nil {
		// handle error
	}

	// at sign-in
	rec := m.Materialize(ctx, token.Record{}, signInEvent)

	// on every following request
	rec = m.Materialize(ctx, rec, nil)
	if rec.Failed() {
		// force the user to sign in again
	}

Renewal failures never surface as Go errors. They are recorded in
Record.Error and are sticky: once a Record carries an error it is returned
unchanged until a new sign-in replaces it.
*/
package token
