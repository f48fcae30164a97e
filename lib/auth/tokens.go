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
	"time"

	"github.com/gravitational/trace"

	"github.com/codebench/codebench/api/types"
	"github.com/codebench/codebench/lib/defaults"
	"github.com/codebench/codebench/lib/utils"
)

// MintedToken carries the one-time view of a freshly created API
// token. The Value field is never reconstructible afterwards.
type MintedToken struct {
	// Token is the persisted row.
	Token *types.ApiToken
	// Value is the raw token, shown exactly once.
	Value string
}

// CreateApiToken mints a long-lived token for a user. Only the prefix
// and the hash are stored.
func (a *Authenticator) CreateApiToken(ctx context.Context, userID, name string, scopes []string, ttl time.Duration) (*MintedToken, error) {
	value, err := utils.CryptoRandomHex(defaults.TokenLenBytes)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	row := &types.ApiToken{
		UserID:      userID,
		Name:        name,
		TokenPrefix: value[:defaults.ApiTokenPrefixLen],
		TokenHash:   utils.SHA256Hex(value),
		Scopes:      scopes,
	}
	if ttl > 0 {
		row.ExpiresAt = a.cfg.Clock.Now().UTC().Add(ttl)
	}
	created, err := a.cfg.Identity.CreateApiToken(ctx, row)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	a.log.WithField("user_id", userID).WithField("token", created.Name).Info("Minted API token.")
	return &MintedToken{Token: created, Value: value}, nil
}

// RevokeApiToken revokes a token and evicts the owner's cached
// principals so the revocation is effective immediately, not after the
// cache TTL.
func (a *Authenticator) RevokeApiToken(ctx context.Context, userID, tokenID string) error {
	if err := a.cfg.Identity.RevokeApiToken(ctx, tokenID); err != nil {
		return trace.Wrap(err)
	}
	a.EvictUser(userID)
	return nil
}
