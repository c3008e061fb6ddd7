// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hashicorp/cap-token/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProject(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		rec       token.Record
		want      Session
		wantValid bool
	}{
		{
			name: "usable",
			rec:  testRecord(),
			want: Session{
				User:                 testIdentity,
				AccessToken:          "at-1",
				AccessTokenExpiresAt: testRecord().AccessTokenExpiresAt,
			},
			wantValid: true,
		},
		{
			name: "invalid-grant",
			rec:  token.Record{Identity: testIdentity, Error: token.ErrorInvalidGrant},
			want: Session{User: testIdentity, Error: "InvalidGrant"},
		},
		{
			name: "no-refresh-token",
			rec:  token.Record{Identity: testIdentity, Error: token.ErrorNoRefreshToken},
			want: Session{User: testIdentity, Error: "NoRefreshToken"},
		},
		{
			name: "refresh-failed",
			rec:  token.Record{Identity: testIdentity, Error: token.ErrorRefreshFailed},
			want: Session{User: testIdentity, Error: "RefreshFailed"},
		},
		{
			name: "no-access-token",
			rec:  token.Record{Identity: testIdentity},
			want: Session{User: testIdentity},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got := Project(tt.rec)
			assert.Equal(tt.want, got)
			assert.Equal(tt.wantValid, got.Valid())

			b, err := json.Marshal(got)
			require.NoError(err)
			assert.NotContains(string(b), "rt-1")
			assert.NotContains(string(b), "refresh")
		})
	}
}

func TestSession_JSON(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	b, err := json.Marshal(Project(testRecord()))
	require.NoError(err)
	var got map[string]interface{}
	require.NoError(json.Unmarshal(b, &got))
	assert.Equal("at-1", got["accessToken"])
	assert.Contains(got, "accessTokenExpiresAt")
	assert.NotContains(got, "error")
	user, ok := got["user"].(map[string]interface{})
	require.True(ok)
	assert.Equal("alice", user["preferred_username"])
}

func TestFromContext(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	_, ok := FromContext(context.Background())
	assert.False(ok)

	s := Project(testRecord())
	got, ok := FromContext(NewContext(context.Background(), s))
	assert.True(ok)
	assert.Equal(s, got)
}
