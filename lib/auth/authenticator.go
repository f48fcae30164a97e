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

// Package auth resolves credentials into principals. Four credential
// shapes are accepted: username/password, session access tokens, API
// tokens, and provider-signed JWTs. Resolved principals are cached for
// a few seconds keyed by the credential hash, so permission changes
// propagate within the cache TTL while the hot path stays off the
// database.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gravitational/trace"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/singleflight"

	"github.com/codebench/codebench"
	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/authz"
	"github.com/codebench/codebench/lib/defaults"
	"github.com/codebench/codebench/lib/errcode"
	"github.com/codebench/codebench/lib/services"
	"github.com/codebench/codebench/lib/session"
	"github.com/codebench/codebench/lib/utils"
)

// Config configures the authenticator.
type Config struct {
	// Identity resolves users, roles, accounts and API tokens.
	Identity services.Identity
	// Courses resolves memberships and their containers.
	Courses services.Courses
	// Sessions resolves access tokens.
	Sessions *session.Store
	// ProviderJWTSecret verifies provider-signed login tokens; provider
	// login is disabled when empty.
	ProviderJWTSecret []byte
	// CacheTTL bounds cached principals.
	CacheTTL time.Duration
	// CacheSize caps the principal cache.
	CacheSize int
	// Clock overrides time in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Identity == nil {
		return trace.BadParameter("missing parameter Identity")
	}
	if c.Courses == nil {
		return trace.BadParameter("missing parameter Courses")
	}
	if c.Sessions == nil {
		return trace.BadParameter("missing parameter Sessions")
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = defaults.AuthCacheTTL
	}
	if c.CacheSize == 0 {
		c.CacheSize = defaults.AuthCacheSize
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Authenticator turns credentials into principals.
type Authenticator struct {
	cfg   Config
	cache *expirable.LRU[string, *authz.Principal]
	group singleflight.Group
	log   logrus.FieldLogger

	// mu guards userKeys, the reverse index from user id to cached
	// credential hashes, used for eager eviction on revocation.
	mu       sync.Mutex
	userKeys map[string]map[string]struct{}
}

// NewAuthenticator returns an authenticator.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Authenticator{
		cfg:      cfg,
		cache:    expirable.NewLRU[string, *authz.Principal](cfg.CacheSize, nil, cfg.CacheTTL),
		log:      logrus.WithFields(logrus.Fields{codebench.Component: codebench.ComponentAuth}),
		userKeys: make(map[string]map[string]struct{}),
	}, nil
}

// AuthenticatePassword checks a local password login and returns the
// user. Missing users and wrong passwords produce the same error.
func (a *Authenticator) AuthenticatePassword(ctx context.Context, username, password string) (*types.User, error) {
	user, err := a.cfg.Identity.GetUserByUsername(ctx, username)
	if err != nil {
		if trace.IsNotFound(err) {
			// burn comparable time so missing users are not
			// distinguishable by latency
			bcrypt.CompareHashAndPassword(fakeHash, []byte(password))
			return nil, errcode.New(errcode.AuthInvalidCredentials)
		}
		return nil, trace.Wrap(err)
	}
	if user.Disabled {
		return nil, errcode.New(errcode.AuthUserDisabled)
	}
	if len(user.PasswordHash) == 0 {
		return nil, errcode.New(errcode.AuthInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return nil, errcode.New(errcode.AuthInvalidCredentials)
	}
	return user, nil
}

// fakeHash is a valid bcrypt hash of a random value, compared against
// when the user does not exist.
var fakeHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// providerClaims is the payload of a provider-signed login token.
type providerClaims struct {
	Provider    string `json:"provider"`
	ProviderURL string `json:"provider_url"`
	jwt.RegisteredClaims
}

// AuthenticateProviderToken resolves a provider-signed JWT to the
// bound local user. The subject claim carries the provider account id.
func (a *Authenticator) AuthenticateProviderToken(ctx context.Context, rawToken string) (*types.User, error) {
	if len(a.cfg.ProviderJWTSecret) == 0 {
		return nil, errcode.New(errcode.AuthInvalidCredentials)
	}
	var claims providerClaims
	_, err := jwt.ParseWithClaims(rawToken, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, trace.BadParameter("unexpected signing method %v", t.Header["alg"])
		}
		return a.cfg.ProviderJWTSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(a.cfg.Clock.Now))
	if err != nil {
		return nil, errcode.New(errcode.AuthInvalidCredentials)
	}
	if claims.Provider == "" || claims.Subject == "" {
		return nil, errcode.New(errcode.AuthInvalidCredentials)
	}
	account, err := a.cfg.Identity.GetAccount(ctx, claims.Provider, claims.ProviderURL, claims.Subject)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, errcode.New(errcode.AuthUnknownToken)
		}
		return nil, trace.Wrap(err)
	}
	user, err := a.cfg.Identity.GetUser(ctx, account.UserID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if user.Disabled {
		return nil, errcode.New(errcode.AuthUserDisabled)
	}
	return user, nil
}

// AuthenticateBearer resolves a bearer credential, either a session
// access token or a long-lived API token, into a cached principal.
func (a *Authenticator) AuthenticateBearer(ctx context.Context, token string) (*authz.Principal, error) {
	key := utils.SHA256Hex(token)
	if principal, ok := a.cache.Get(key); ok {
		return principal, nil
	}
	out, err, _ := a.group.Do(key, func() (any, error) {
		userID, err := a.resolveBearer(ctx, token, key)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		principal, err := a.buildPrincipal(ctx, userID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		a.cachePrincipal(key, principal)
		return principal, nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return out.(*authz.Principal), nil
}

func (a *Authenticator) resolveBearer(ctx context.Context, token, tokenHash string) (string, error) {
	active, err := a.cfg.Sessions.Resolve(ctx, token)
	if err == nil {
		return active.UserID, nil
	}
	if code, ok := errcode.CodeOf(err); !ok || code != errcode.AuthTokenExpired {
		return "", trace.Wrap(err)
	}
	// not a session token, try the API token table
	apiToken, err := a.cfg.Identity.GetApiTokenByHash(ctx, tokenHash)
	if err != nil {
		if trace.IsNotFound(err) {
			return "", errcode.New(errcode.AuthUnknownToken)
		}
		return "", trace.Wrap(err)
	}
	now := a.cfg.Clock.Now()
	if apiToken.RevokedAt != nil {
		return "", errcode.New(errcode.AuthTokenRevoked)
	}
	if !apiToken.Valid(now) {
		return "", errcode.New(errcode.AuthTokenExpired)
	}
	return apiToken.UserID, nil
}

func (a *Authenticator) cachePrincipal(key string, principal *authz.Principal) {
	a.cache.Add(key, principal)
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := a.userKeys[principal.UserID]
	if keys == nil {
		keys = make(map[string]struct{})
		a.userKeys[principal.UserID] = keys
	}
	keys[key] = struct{}{}
}

// EvictUser drops every cached principal of a user, called on role
// changes, membership changes, disable, and token revocation so the
// next request rebuilds from storage.
func (a *Authenticator) EvictUser(userID string) {
	a.mu.Lock()
	keys := a.userKeys[userID]
	delete(a.userKeys, userID)
	a.mu.Unlock()
	for key := range keys {
		a.cache.Remove(key)
	}
	if len(keys) > 0 {
		a.log.WithField("user_id", userID).Debug("Evicted cached principals.")
	}
}

// BuildPrincipal expands a user into a principal without caching, used
// after password and provider logins where no bearer token exists yet.
func (a *Authenticator) BuildPrincipal(ctx context.Context, userID string) (*authz.Principal, error) {
	principal, err := a.buildPrincipal(ctx, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return principal, nil
}
