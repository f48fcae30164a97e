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

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/errcode"
	"github.com/codebench/codebench/lib/services"
	"github.com/codebench/codebench/lib/session"
)

var jwtSecret = []byte("test-provider-secret")

type authPack struct {
	auth     *Authenticator
	sessions *session.Store
	store    *services.Memory
	clock    *clockwork.FakeClock
	user     *types.User
	course   *types.Course
}

func newAuthPack(t *testing.T) *authPack {
	t.Helper()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := clockwork.NewFakeClock()
	store := services.NewMemory(clock)
	sessions, err := session.NewStore(session.Config{
		Redis:    client,
		Identity: store,
		Clock:    clock,
	})
	require.NoError(t, err)

	authn, err := NewAuthenticator(Config{
		Identity:          store,
		Courses:           store,
		Sessions:          sessions,
		ProviderJWTSecret: jwtSecret,
		CacheTTL:          10 * time.Second,
		Clock:             clock,
	})
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	user, err := store.CreateUser(ctx, &types.User{Username: "alice", PasswordHash: hash})
	require.NoError(t, err)
	require.NoError(t, store.AddUserRole(ctx, user.ID, types.RoleUser))
	require.NoError(t, store.SetRoleClaims(ctx, types.RoleUser, []types.RoleClaim{
		{Resource: types.KindStudentProfile, Action: types.ActionGet},
	}))

	org, err := store.CreateOrganization(ctx, &types.Organization{Title: "Uni", Path: "uni"})
	require.NoError(t, err)
	family, err := store.CreateCourseFamily(ctx, &types.CourseFamily{
		OrganizationID: org.ID, Title: "Prog", Path: "uni.prog",
	})
	require.NoError(t, err)
	course, err := store.CreateCourse(ctx, &types.Course{
		CourseFamilyID: family.ID, Title: "Prog WS25", Path: "uni.prog.ws25",
	})
	require.NoError(t, err)
	_, err = store.CreateCourseMember(ctx, &types.CourseMember{
		CourseID: course.ID, UserID: user.ID, CourseRole: types.CourseRoleTutor,
	})
	require.NoError(t, err)

	return &authPack{auth: authn, sessions: sessions, store: store, clock: clock, user: user, course: course}
}

func TestPasswordLogin(t *testing.T) {
	p := newAuthPack(t)
	ctx := context.Background()

	user, err := p.auth.AuthenticatePassword(ctx, "alice", "correct horse")
	require.NoError(t, err)
	require.Equal(t, p.user.ID, user.ID)

	_, err = p.auth.AuthenticatePassword(ctx, "alice", "wrong")
	code, ok := errcode.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errcode.AuthInvalidCredentials, code)

	// unknown users produce the same error as wrong passwords
	_, err = p.auth.AuthenticatePassword(ctx, "mallory", "whatever")
	code, ok = errcode.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errcode.AuthInvalidCredentials, code)
}

func TestDisabledUserRejected(t *testing.T) {
	p := newAuthPack(t)
	ctx := context.Background()

	p.user.Disabled = true
	require.NoError(t, p.store.UpdateUser(ctx, p.user))

	_, err := p.auth.AuthenticatePassword(ctx, "alice", "correct horse")
	code, ok := errcode.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errcode.AuthUserDisabled, code)
}

func TestBearerSessionToken(t *testing.T) {
	p := newAuthPack(t)
	ctx := context.Background()

	tokens, err := p.sessions.StartSession(ctx, p.user, session.Metadata{})
	require.NoError(t, err)

	principal, err := p.auth.AuthenticateBearer(ctx, tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, p.user.ID, principal.UserID)
	require.False(t, principal.IsAdmin)
	require.True(t, principal.HasGeneral(types.KindStudentProfile, types.ActionGet))
	require.False(t, principal.HasGeneral(types.KindCourse, types.ActionDelete))
	require.True(t, principal.HasCourseRole(p.course.ID, types.CourseRoleTutor))
	require.False(t, principal.HasCourseRole(p.course.ID, types.CourseRoleLecturer))

	// the membership projects onto the enclosing containers
	require.NotEmpty(t, principal.InstancesAtLeast(types.KindCourseFamily, types.CourseRoleTutor))
	require.NotEmpty(t, principal.InstancesAtLeast(types.KindOrganization, types.CourseRoleTutor))

	_, err = p.auth.AuthenticateBearer(ctx, "garbage")
	require.Error(t, err)
}

func TestBearerApiToken(t *testing.T) {
	p := newAuthPack(t)
	ctx := context.Background()

	minted, err := p.auth.CreateApiToken(ctx, p.user.ID, "ci", nil, time.Hour)
	require.NoError(t, err)
	require.Len(t, minted.Token.TokenPrefix, 8)

	principal, err := p.auth.AuthenticateBearer(ctx, minted.Value)
	require.NoError(t, err)
	require.Equal(t, p.user.ID, principal.UserID)

	// revocation evicts the cached principal immediately
	require.NoError(t, p.auth.RevokeApiToken(ctx, p.user.ID, minted.Token.ID))
	_, err = p.auth.AuthenticateBearer(ctx, minted.Value)
	code, ok := errcode.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errcode.AuthTokenRevoked, code)
}

func TestExpiredApiToken(t *testing.T) {
	p := newAuthPack(t)
	ctx := context.Background()

	minted, err := p.auth.CreateApiToken(ctx, p.user.ID, "short", nil, time.Minute)
	require.NoError(t, err)

	p.clock.Advance(2 * time.Minute)

	_, err = p.auth.AuthenticateBearer(ctx, minted.Value)
	code, ok := errcode.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errcode.AuthTokenExpired, code)
}

func TestPrincipalCache(t *testing.T) {
	p := newAuthPack(t)
	ctx := context.Background()

	tokens, err := p.sessions.StartSession(ctx, p.user, session.Metadata{})
	require.NoError(t, err)

	first, err := p.auth.AuthenticateBearer(ctx, tokens.AccessToken)
	require.NoError(t, err)

	// a role granted after caching is invisible until eviction
	require.NoError(t, p.store.AddUserRole(ctx, p.user.ID, types.RoleAdmin))
	cached, err := p.auth.AuthenticateBearer(ctx, tokens.AccessToken)
	require.NoError(t, err)
	require.Same(t, first, cached)
	require.False(t, cached.IsAdmin)

	p.auth.EvictUser(p.user.ID)
	rebuilt, err := p.auth.AuthenticateBearer(ctx, tokens.AccessToken)
	require.NoError(t, err)
	require.True(t, rebuilt.IsAdmin)
}

// An admin-resource claim in a role's claim table grants admin even
// when the global admin role itself was never assigned.
func TestAdminViaRoleClaim(t *testing.T) {
	p := newAuthPack(t)
	ctx := context.Background()

	user, err := p.store.CreateUser(ctx, &types.User{Username: "ops"})
	require.NoError(t, err)
	require.NoError(t, p.store.AddUserRole(ctx, user.ID, types.RoleUserManager))
	require.NoError(t, p.store.SetRoleClaims(ctx, types.RoleUserManager, []types.RoleClaim{
		{Resource: string(types.RoleAdmin), Action: types.Wildcard},
	}))

	tokens, err := p.sessions.StartSession(ctx, user, session.Metadata{})
	require.NoError(t, err)

	principal, err := p.auth.AuthenticateBearer(ctx, tokens.AccessToken)
	require.NoError(t, err)
	require.True(t, principal.IsAdmin)
	require.False(t, principal.Roles.Include(types.RoleAdmin))
}

func TestProviderToken(t *testing.T) {
	p := newAuthPack(t)
	ctx := context.Background()

	_, err := p.store.CreateAccount(ctx, &types.Account{
		UserID:            p.user.ID,
		Provider:          "gitlab",
		ProviderURL:       "https://gitlab.example.com",
		ProviderAccountID: "4711",
	})
	require.NoError(t, err)

	mint := func(secret []byte, sub string) string {
		claims := providerClaims{
			Provider:    "gitlab",
			ProviderURL: "https://gitlab.example.com",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   sub,
				ExpiresAt: jwt.NewNumericDate(p.clock.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		require.NoError(t, err)
		return token
	}

	user, err := p.auth.AuthenticateProviderToken(ctx, mint(jwtSecret, "4711"))
	require.NoError(t, err)
	require.Equal(t, p.user.ID, user.ID)

	_, err = p.auth.AuthenticateProviderToken(ctx, mint([]byte("wrong secret"), "4711"))
	code, ok := errcode.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errcode.AuthInvalidCredentials, code)

	_, err = p.auth.AuthenticateProviderToken(ctx, mint(jwtSecret, "unbound"))
	code, ok = errcode.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errcode.AuthUnknownToken, code)
}

func TestBootstrap(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := services.NewMemory(clock)
	ctx := context.Background()

	require.NoError(t, Bootstrap(ctx, store, "admin", "changeme"))
	admin, err := store.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	roles, err := store.GetUserRoles(ctx, admin.ID)
	require.NoError(t, err)
	require.True(t, roles.Include(types.RoleAdmin))

	claims, err := store.GetRoleClaims(ctx, types.RoleUser)
	require.NoError(t, err)
	require.NotEmpty(t, claims)

	// a second run changes nothing
	require.NoError(t, Bootstrap(ctx, store, "admin", "changeme"))
	again, err := store.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	require.Equal(t, admin.ID, again.ID)
}
