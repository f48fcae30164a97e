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

package types

import (
	"time"

	"github.com/gravitational/trace"
)

// User is a platform account. Password login is optional; users
// provisioned from an identity provider carry Accounts instead.
type User struct {
	// ID is the unique identifier of the user.
	ID string `json:"id"`
	// Username is the unique login name.
	Username string `json:"username"`
	// Email is the contact address, unique when set.
	Email string `json:"email,omitempty"`
	// GivenName is the user's first name.
	GivenName string `json:"given_name,omitempty"`
	// FamilyName is the user's last name.
	FamilyName string `json:"family_name,omitempty"`
	// PasswordHash holds the bcrypt hash of the local password,
	// empty for provider-only users. Never serialized.
	PasswordHash []byte `json:"-"`
	// Disabled blocks all authentication for the user when set.
	Disabled bool `json:"disabled,omitempty"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the last modification timestamp.
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckAndSetDefaults validates the user row.
func (u *User) CheckAndSetDefaults() error {
	if u.Username == "" {
		return trace.BadParameter("missing parameter Username")
	}
	return nil
}

// UserRole binds a global role to a user.
type UserRole struct {
	// UserID is the user holding the role.
	UserID string `json:"user_id"`
	// Role is the global role.
	Role Role `json:"role"`
}

// Account binds a user to an external identity provider account.
type Account struct {
	// ID is the unique identifier of the binding.
	ID string `json:"id"`
	// UserID is the local user the account resolves to.
	UserID string `json:"user_id"`
	// Provider is the type of the identity provider, e.g. "gitlab".
	Provider string `json:"provider"`
	// ProviderURL is the base URL of the provider instance.
	ProviderURL string `json:"provider_url"`
	// ProviderAccountID is the stable account id at the provider.
	ProviderAccountID string `json:"provider_account_id"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// CheckAndSetDefaults validates the account binding.
func (a *Account) CheckAndSetDefaults() error {
	if a.UserID == "" {
		return trace.BadParameter("missing parameter UserID")
	}
	if a.Provider == "" {
		return trace.BadParameter("missing parameter Provider")
	}
	if a.ProviderAccountID == "" {
		return trace.BadParameter("missing parameter ProviderAccountID")
	}
	return nil
}

// StudentProfile is the public profile attached to a user.
type StudentProfile struct {
	// ID is the unique identifier of the profile.
	ID string `json:"id"`
	// UserID is the owning user.
	UserID string `json:"user_id"`
	// Nickname is the display name shown to other course members.
	Nickname string `json:"nickname,omitempty"`
	// MatriculationNumber is the institutional student id.
	MatriculationNumber string `json:"matriculation_number,omitempty"`
	// University is the institution the student belongs to.
	University string `json:"university,omitempty"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the last modification timestamp.
	UpdatedAt time.Time `json:"updated_at"`
}
