/*
Copyright 2025 Codebench, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/errcode"
	"github.com/codebench/codebench/lib/services"
	"github.com/codebench/codebench/lib/utils"
)

type sessionPack struct {
	store    *Store
	identity *services.Memory
	redis    *miniredis.Miniredis
	clock    *clockwork.FakeClock
	user     *types.User
}

func newSessionPack(t *testing.T) *sessionPack {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := clockwork.NewFakeClock()
	identity := services.NewMemory(clock)
	store, err := NewStore(Config{
		Redis:           client,
		Identity:        identity,
		AccessTokenTTL:  30 * time.Minute,
		RefreshTokenTTL: 14 * 24 * time.Hour,
		Clock:           clock,
	})
	require.NoError(t, err)

	user, err := identity.CreateUser(context.Background(), &types.User{
		Username: "alice",
	})
	require.NoError(t, err)

	return &sessionPack{store: store, identity: identity, redis: mr, clock: clock, user: user}
}

func TestStartAndResolve(t *testing.T) {
	p := newSessionPack(t)
	ctx := context.Background()

	tokens, err := p.store.StartSession(ctx, p.user, Metadata{DeviceLabel: "laptop"})
	require.NoError(t, err)
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	require.NotEqual(t, tokens.AccessToken, tokens.RefreshToken)

	active, err := p.store.Resolve(ctx, tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, p.user.ID, active.UserID)
	require.Equal(t, tokens.Session.ID, active.SessionID)

	_, err = p.store.Resolve(ctx, "not-a-token")
	code, ok := errcode.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errcode.AuthTokenExpired, code)
}

func TestResolveAfterAccessExpiry(t *testing.T) {
	p := newSessionPack(t)
	ctx := context.Background()

	tokens, err := p.store.StartSession(ctx, p.user, Metadata{})
	require.NoError(t, err)

	p.redis.FastForward(31 * time.Minute)

	_, err = p.store.Resolve(ctx, tokens.AccessToken)
	code, ok := errcode.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errcode.AuthTokenExpired, code)
}

func TestRefreshReplacesAccessOnly(t *testing.T) {
	p := newSessionPack(t)
	ctx := context.Background()

	tokens, err := p.store.StartSession(ctx, p.user, Metadata{})
	require.NoError(t, err)

	p.clock.Advance(20 * time.Minute)

	refreshed, err := p.store.Refresh(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, tokens.AccessToken, refreshed.AccessToken)
	require.Equal(t, tokens.RefreshToken, refreshed.RefreshToken)

	active, err := p.store.Resolve(ctx, refreshed.AccessToken)
	require.NoError(t, err)
	require.Equal(t, p.user.ID, active.UserID)

	// the superseded access token is dropped eagerly
	_, err = p.store.Resolve(ctx, tokens.AccessToken)
	require.Error(t, err)
}

func TestRefreshRejectedPastSessionExpiry(t *testing.T) {
	p := newSessionPack(t)
	ctx := context.Background()

	tokens, err := p.store.StartSession(ctx, p.user, Metadata{})
	require.NoError(t, err)

	p.clock.Advance(15 * 24 * time.Hour)

	_, err = p.store.Refresh(ctx, tokens.RefreshToken)
	code, ok := errcode.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errcode.AuthRefreshExpired, code)
}

func TestRefreshUnknownToken(t *testing.T) {
	p := newSessionPack(t)
	_, err := p.store.Refresh(context.Background(), "bogus")
	code, ok := errcode.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errcode.AuthUnknownToken, code)
}

func TestEndSession(t *testing.T) {
	p := newSessionPack(t)
	ctx := context.Background()

	tokens, err := p.store.StartSession(ctx, p.user, Metadata{})
	require.NoError(t, err)
	require.NoError(t, p.store.EndSession(ctx, tokens.AccessToken))

	_, err = p.store.Resolve(ctx, tokens.AccessToken)
	require.Error(t, err)

	// the refresh token dies with the session
	_, err = p.store.Refresh(ctx, tokens.RefreshToken)
	code, ok := errcode.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errcode.AuthUnknownToken, code)

	sessions, err := p.identity.ListSessions(ctx, p.user.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].EndedAt)
}

func TestRevokeUserSessions(t *testing.T) {
	p := newSessionPack(t)
	ctx := context.Background()

	first, err := p.store.StartSession(ctx, p.user, Metadata{DeviceLabel: "laptop"})
	require.NoError(t, err)
	second, err := p.store.StartSession(ctx, p.user, Metadata{DeviceLabel: "phone"})
	require.NoError(t, err)

	revoked, err := p.store.RevokeUserSessions(ctx, p.user.ID)
	require.NoError(t, err)
	require.Equal(t, 2, revoked)

	for _, tok := range []string{first.AccessToken, second.AccessToken} {
		_, err := p.store.Resolve(ctx, tok)
		require.Error(t, err)
	}

	// a second pass finds nothing alive
	revoked, err = p.store.RevokeUserSessions(ctx, p.user.ID)
	require.NoError(t, err)
	require.Zero(t, revoked)
}

// Dropping the refresh key alone must cut refreshes off, even while
// the Postgres session row still looks alive.
func TestRefreshRequiresLiveRedisKey(t *testing.T) {
	p := newSessionPack(t)
	ctx := context.Background()

	tokens, err := p.store.StartSession(ctx, p.user, Metadata{})
	require.NoError(t, err)

	p.redis.Del(refreshKeyPrefix + utils.SHA256Hex(tokens.RefreshToken))

	_, err = p.store.Refresh(ctx, tokens.RefreshToken)
	code, ok := errcode.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errcode.AuthUnknownToken, code)

	sessions, err := p.identity.ListSessions(ctx, p.user.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Nil(t, sessions[0].EndedAt)
}

func TestDisabledUserCannotLogIn(t *testing.T) {
	p := newSessionPack(t)
	p.user.Disabled = true
	_, err := p.store.StartSession(context.Background(), p.user, Metadata{})
	code, ok := errcode.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errcode.AuthUserDisabled, code)
}
