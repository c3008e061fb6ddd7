// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testExchanger is a scripted Exchanger which records how it was called.
type testExchanger struct {
	mu     sync.Mutex
	calls  int
	lastRT RefreshToken
	reply  *TokenSet
	err    error
}

func (e *testExchanger) Exchange(_ context.Context, rt RefreshToken) (*TokenSet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.lastRT = rt
	if e.err != nil {
		return nil, e.err
	}
	if e.reply == nil {
		return nil, nil
	}
	ts := *e.reply
	return &ts, nil
}

func (e *testExchanger) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

var testIdentity = Identity{
	Subject:           "b1a5c2d6-0000-4c0e-9f3e-alice",
	Name:              "Alice Doe",
	Email:             "alice@example.com",
	PreferredUsername: "alice",
}

// testNow is an arbitrary fixed instant on a whole millisecond.
var testNow = time.UnixMilli(1_700_000_000_000)

func testManager(t *testing.T, ex Exchanger, opt ...Option) (*Manager, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testNow)
	m, err := NewManager(ex, append([]Option{WithClock(clock)}, opt...)...)
	require.NoError(t, err)
	return m, clock
}

func testRecord(expiresIn time.Duration) Record {
	return Record{
		AccessToken:          "access-0",
		RefreshToken:         "refresh-0",
		AccessTokenExpiresAt: testNow.Add(expiresIn).UnixMilli(),
		Identity:             testIdentity,
	}
}

func TestNewManager(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		ex        Exchanger
		opt       []Option
		wantErr   bool
		wantIsErr error
	}{
		{name: "valid", ex: &testExchanger{}},
		{name: "zero-buffer", ex: &testExchanger{}, opt: []Option{WithRefreshBuffer(0)}},
		{name: "nil-exchanger", ex: nil, wantErr: true, wantIsErr: ErrNilParameter},
		{name: "negative-buffer", ex: &testExchanger{}, opt: []Option{WithRefreshBuffer(-time.Second)}, wantErr: true, wantIsErr: ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewManager(tt.ex, tt.opt...)
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				assert.Nil(got)
				return
			}
			require.NoError(err)
			assert.NotNil(got)
		})
	}
}

func TestManager_Materialize_freshIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for _, exp := range []time.Duration{61 * time.Second, 5 * time.Minute, 24 * time.Hour} {
		t.Run(exp.String(), func(t *testing.T) {
			assert := assert.New(t)
			ex := &testExchanger{err: errors.New("must not be called")}
			m, _ := testManager(t, ex)
			rec := testRecord(exp)
			got := m.Materialize(ctx, rec, nil)
			assert.Equal(rec, got)
			assert.Equal(rec, m.Materialize(ctx, got, nil))
			assert.Equal(0, ex.Calls())
		})
	}
}

func TestManager_Materialize_signInAlwaysWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ev := &SignInEvent{
		Identity:     Identity{Subject: "bob", Name: "Bob"},
		AccessToken:  "signin-access",
		RefreshToken: "signin-refresh",
		ExpiresIn:    3600 * time.Second,
	}
	want := Record{
		AccessToken:          "signin-access",
		RefreshToken:         "signin-refresh",
		AccessTokenExpiresAt: testNow.UnixMilli() + 3_600_000,
		Identity:             Identity{Subject: "bob", Name: "Bob"},
		Error:                ErrorNone,
	}
	previous := map[string]Record{
		"empty":         {},
		"fresh":         testRecord(time.Hour),
		"expired":       testRecord(-time.Hour),
		"invalid-grant": testRecord(time.Hour).failed(ErrorInvalidGrant),
		"refresh-failed": {
			Identity: testIdentity,
			Error:    ErrorRefreshFailed,
		},
		"no-refresh-token": {Error: ErrorNoRefreshToken},
	}
	for name, prev := range previous {
		prev := prev
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			ex := &testExchanger{err: errors.New("must not be called")}
			m, _ := testManager(t, ex)
			assert.Equal(want, m.Materialize(ctx, prev, ev))
			assert.Equal(0, ex.Calls())
		})
	}
	t.Run("no-expires-in", func(t *testing.T) {
		assert := assert.New(t)
		ex := &testExchanger{reply: &TokenSet{AccessToken: "renewed", ExpiresIn: time.Minute * 5}}
		m, _ := testManager(t, ex)
		got := m.Materialize(ctx, Record{}, &SignInEvent{Identity: testIdentity, AccessToken: "a", RefreshToken: "r"})
		assert.Equal(int64(0), got.AccessTokenExpiresAt)
		assert.Equal(ErrorNone, got.Error)
		assert.NoError(got.Validate())

		// with no expiry the next materialization renews straight away
		got = m.Materialize(ctx, got, nil)
		assert.Equal(1, ex.Calls())
		assert.Equal(AccessToken("renewed"), got.AccessToken)
	})
}

func TestManager_Materialize_stickyError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for _, s := range []ErrorState{ErrorNoRefreshToken, ErrorInvalidGrant, ErrorRefreshFailed} {
		t.Run(s.String(), func(t *testing.T) {
			assert := assert.New(t)
			ex := &testExchanger{reply: &TokenSet{AccessToken: "new", ExpiresIn: time.Hour}}
			m, clock := testManager(t, ex)
			rec := testRecord(-time.Hour).failed(s)
			for i := 0; i < 3; i++ {
				assert.Equal(rec, m.Materialize(ctx, rec, nil))
				clock.Advance(time.Hour)
			}
			assert.Equal(0, ex.Calls())
		})
	}
}

func TestManager_Materialize_bufferBoundary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tests := []struct {
		name        string
		expiresIn   time.Duration
		buffer      time.Duration
		wantRefresh bool
	}{
		{name: "61s-fresh", expiresIn: 61 * time.Second, buffer: DefaultRefreshBuffer},
		{name: "60s001ms-fresh", expiresIn: 60*time.Second + time.Millisecond, buffer: DefaultRefreshBuffer},
		{name: "60s-renews", expiresIn: 60 * time.Second, buffer: DefaultRefreshBuffer, wantRefresh: true},
		{name: "59s-renews", expiresIn: 59 * time.Second, buffer: DefaultRefreshBuffer, wantRefresh: true},
		{name: "expired-renews", expiresIn: -time.Minute, buffer: DefaultRefreshBuffer, wantRefresh: true},
		{name: "custom-buffer-fresh", expiresIn: 6 * time.Minute, buffer: 5 * time.Minute},
		{name: "custom-buffer-renews", expiresIn: 4 * time.Minute, buffer: 5 * time.Minute, wantRefresh: true},
		{name: "zero-buffer-fresh", expiresIn: time.Millisecond, buffer: 0},
		{name: "zero-buffer-renews-at-expiry", expiresIn: 0, buffer: 0, wantRefresh: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			ex := &testExchanger{reply: &TokenSet{AccessToken: "renewed", ExpiresIn: time.Hour}}
			m, _ := testManager(t, ex, WithRefreshBuffer(tt.buffer))
			rec := testRecord(tt.expiresIn)
			got := m.Materialize(ctx, rec, nil)
			if !tt.wantRefresh {
				assert.Equal(0, ex.Calls())
				assert.Equal(rec, got)
				return
			}
			assert.Equal(1, ex.Calls())
			assert.Equal(AccessToken("renewed"), got.AccessToken)
			assert.Equal(testNow.Add(time.Hour).UnixMilli(), got.AccessTokenExpiresAt)
		})
	}
}

func TestManager_Materialize_refreshOutcomes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tests := []struct {
		name     string
		previous Record
		reply    *TokenSet
		err      error
		want     Record
	}{
		{
			name:     "success-keeps-refresh-token",
			previous: testRecord(-time.Minute),
			reply:    &TokenSet{AccessToken: "access-1", ExpiresIn: 300 * time.Second},
			want: Record{
				AccessToken:          "access-1",
				RefreshToken:         "refresh-0",
				AccessTokenExpiresAt: testNow.UnixMilli() + 300_000,
				Identity:             testIdentity,
			},
		},
		{
			name:     "success-rotates-refresh-token",
			previous: testRecord(30 * time.Second),
			reply:    &TokenSet{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresIn: 300 * time.Second},
			want: Record{
				AccessToken:          "access-1",
				RefreshToken:         "refresh-1",
				AccessTokenExpiresAt: testNow.UnixMilli() + 300_000,
				Identity:             testIdentity,
			},
		},
		{
			name:     "invalid-grant",
			previous: testRecord(-time.Minute),
			err:      fmt.Errorf("test: %w", ErrInvalidGrant),
			want:     Record{Identity: testIdentity, Error: ErrorInvalidGrant},
		},
		{
			name:     "invalid-grant-without-expiry",
			previous: Record{AccessToken: "stale", RefreshToken: "refresh-0", Identity: testIdentity},
			err:      fmt.Errorf("test: %w", ErrInvalidGrant),
			want:     Record{Identity: testIdentity, Error: ErrorInvalidGrant},
		},
		{
			name:     "provider-error",
			previous: testRecord(-time.Minute),
			err:      fmt.Errorf("test: provider error \"server_error\": %w", ErrRefreshFailed),
			want:     Record{Identity: testIdentity, Error: ErrorRefreshFailed},
		},
		{
			name:     "transport-error",
			previous: testRecord(-time.Minute),
			err:      errors.New("dial tcp: connection refused"),
			want:     Record{Identity: testIdentity, Error: ErrorRefreshFailed},
		},
		{
			name:     "timeout",
			previous: testRecord(-time.Minute),
			err:      context.DeadlineExceeded,
			want:     Record{Identity: testIdentity, Error: ErrorRefreshFailed},
		},
		{
			name:     "nil-token-set",
			previous: testRecord(-time.Minute),
			want:     Record{Identity: testIdentity, Error: ErrorRefreshFailed},
		},
		{
			name:     "missing-access-token",
			previous: testRecord(-time.Minute),
			reply:    &TokenSet{ExpiresIn: time.Hour},
			want:     Record{Identity: testIdentity, Error: ErrorRefreshFailed},
		},
		{
			name:     "missing-expires-in",
			previous: testRecord(-time.Minute),
			reply:    &TokenSet{AccessToken: "access-1"},
			want:     Record{Identity: testIdentity, Error: ErrorRefreshFailed},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			ex := &testExchanger{reply: tt.reply, err: tt.err}
			m, _ := testManager(t, ex)
			got := m.Materialize(ctx, tt.previous, nil)
			assert.Equal(tt.want, got)
			assert.Equal(1, ex.Calls())
			assert.Equal(tt.previous.RefreshToken, ex.lastRT)
			require.NoError(got.Validate())
		})
	}
}

func TestManager_Materialize_noRefreshToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tests := []struct {
		name     string
		previous Record
	}{
		{name: "expired", previous: Record{AccessToken: "a", AccessTokenExpiresAt: testNow.Add(-time.Minute).UnixMilli(), Identity: testIdentity}},
		{name: "inside-buffer", previous: Record{AccessToken: "a", AccessTokenExpiresAt: testNow.Add(30 * time.Second).UnixMilli(), Identity: testIdentity}},
		{name: "no-expiry", previous: Record{AccessToken: "a", Identity: testIdentity}},
		{name: "zero-value", previous: Record{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			ex := &testExchanger{err: errors.New("must not be called")}
			m, _ := testManager(t, ex)
			got := m.Materialize(ctx, tt.previous, nil)
			assert.Equal(0, ex.Calls())
			assert.Equal(ErrorNoRefreshToken, got.Error)
			assert.Empty(got.AccessToken)
			assert.Empty(got.RefreshToken)
			assert.Equal(int64(0), got.AccessTokenExpiresAt)
			assert.Equal(tt.previous.Identity, got.Identity)
		})
	}
}

func TestManager_Materialize_endToEnd(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	ctx := context.Background()
	ex := &testExchanger{reply: &TokenSet{AccessToken: "access-1", ExpiresIn: 1800 * time.Second}}
	m, clock := testManager(t, ex)
	T := testNow.UnixMilli()

	rec := m.Materialize(ctx, Record{}, &SignInEvent{
		Identity:     testIdentity,
		AccessToken:  "access-0",
		RefreshToken: "refresh-0",
		ExpiresIn:    3600 * time.Second,
	})
	assert.Equal(T+3_600_000, rec.AccessTokenExpiresAt)

	// well before expiry nothing changes
	clock.Advance(30 * time.Minute)
	assert.Equal(rec, m.Materialize(ctx, rec, nil))
	assert.Equal(0, ex.Calls())

	// 30s left, inside the buffer
	clock.Advance(30*time.Minute - 30*time.Second)
	refreshedAt := clock.Now().UnixMilli()
	assert.Equal(T+3_600_000-30_000, refreshedAt)
	rec = m.Materialize(ctx, rec, nil)
	assert.Equal(1, ex.Calls())
	assert.Equal(refreshedAt+1_800_000, rec.AccessTokenExpiresAt)
	assert.Equal(RefreshToken("refresh-0"), rec.RefreshToken)
	assert.Equal(AccessToken("access-1"), rec.AccessToken)
	assert.Equal(ErrorNone, rec.Error)
	assert.Equal(testIdentity, rec.Identity)

	// the provider revokes the session
	ex.mu.Lock()
	ex.reply, ex.err = nil, fmt.Errorf("test: %w", ErrInvalidGrant)
	ex.mu.Unlock()
	clock.Advance(30 * time.Minute)
	rec = m.Materialize(ctx, rec, nil)
	assert.Equal(ErrorInvalidGrant, rec.Error)
	assert.Equal(2, ex.Calls())

	// and it stays broken until a new sign-in
	clock.Advance(time.Hour)
	assert.Equal(rec, m.Materialize(ctx, rec, nil))
	assert.Equal(2, ex.Calls())
	rec = m.Materialize(ctx, rec, &SignInEvent{Identity: testIdentity, AccessToken: "again", RefreshToken: "r", ExpiresIn: time.Hour})
	assert.True(rec.Usable(clock.Now()))
}

func TestManager_Materialize_concurrent(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	ctx := context.Background()
	ex := &testExchanger{reply: &TokenSet{AccessToken: "access-1", ExpiresIn: time.Hour}}
	m, _ := testManager(t, ex)
	stale := testRecord(10 * time.Second)

	const n = 16
	results := make([]Record, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.Materialize(ctx, stale, nil)
		}(i)
	}
	wg.Wait()

	// every request holding the stale record refreshes independently
	assert.Equal(n, ex.Calls())
	for _, r := range results {
		assert.Equal(AccessToken("access-1"), r.AccessToken)
		assert.Equal(ErrorNone, r.Error)
	}
	assert.Equal(testRecord(10*time.Second), stale)
}

func TestManager_WithNow(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	at := testNow.Add(time.Hour)
	clock := clockwork.NewFakeClockAt(testNow)
	m, err := NewManager(&testExchanger{}, WithClock(clock), WithNow(func() time.Time { return at }))
	require.NoError(err)
	got := m.Materialize(context.Background(), Record{}, &SignInEvent{AccessToken: "a", ExpiresIn: time.Second})
	assert.Equal(at.Add(time.Second).UnixMilli(), got.AccessTokenExpiresAt)
}
