// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
Package session carries a token.Record between requests without any server
side storage, and turns it into the session a client is allowed to see.

The Record travels inside an encrypted cookie (a compact JWE, see Codec), so
the refresh token is never readable by the client. On every request the Guard
decrypts the cookie, lets the token.Manager materialize the Record, writes the
possibly renewed Record back and exposes the projected Session through the
request context:

	cb, err := session.NewCallbacks(manager, codec)
	if err != nil {
		// handle error
	}
	g, err := session.NewGuard(cb, session.WithSignInPath("/myapp"))
	if err != nil {
		// handle error
	}
	mux.Handle("/protected/", g.Protect(protectedHandler))

	func protectedHandler(w http.ResponseWriter, r *http.Request) {
		s, _ := session.FromContext(r.Context())
		callAPI(s.AccessToken)
	}

A Record in an error state is never passed on: the Guard clears the cookie
and sends the client back to sign in.
*/
package session
