// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// captoken (cap token lifecycle) keeps the access token of a signed in user
// fresh for a relying party which holds no server side session state.
//
// The token package holds the lifecycle state machine and the client for the
// provider's token endpoint. The session package carries the token record in
// an encrypted cookie and forces a sign-out once renewal has failed for good.
// The config package loads both from the environment.
package captoken
