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

package errcode

// The catalog. Grouped by prefix; HTTP status follows the category.
const (
	// AUTH_* cover credential resolution and session lifecycle.
	AuthInvalidCredentials Code = "AUTH_001"
	AuthTokenExpired       Code = "AUTH_002"
	AuthTokenRevoked       Code = "AUTH_003"
	AuthUnknownToken       Code = "AUTH_004"
	AuthRefreshExpired     Code = "AUTH_005"
	AuthUserDisabled       Code = "AUTH_006"

	// PERM_* cover authorization denials.
	PermDenied            Code = "PERM_001"
	PermNotCourseMember   Code = "PERM_002"
	PermInsufficientRole  Code = "PERM_003"
	PermNotGroupMember    Code = "PERM_004"
	PermAuthorOnly        Code = "PERM_005"
	PermSubscriptionDenied Code = "PERM_006"

	// VAL_* cover request validation.
	ValInvalidRequest Code = "VAL_001"
	ValInvalidSemver  Code = "VAL_002"
	ValNotSubmittable Code = "VAL_003"
	ValNoBackend      Code = "VAL_004"

	// SUB_* cover submission uploads.
	SubNotZip         Code = "SUB_001"
	SubEmptyArchive   Code = "SUB_002"
	SubTooLarge       Code = "SUB_003"
	SubQuotaReached   Code = "SUB_004"
	SubGroupFull      Code = "SUB_005"
	SubInvalidJoinCode Code = "SUB_006"

	// TEST_* cover the test scheduler.
	TestNotReleased     Code = "TEST_001"
	TestAlreadyRunning  Code = "TEST_002"
	TestAlreadyFinished Code = "TEST_003"
	TestQuotaReached    Code = "TEST_004"
	TestSubmitFailed    Code = "TEST_005"

	// DEPLOY_* cover the deployment engine.
	DeployIdentityMismatch Code = "DEPLOY_001"
	DeployInProgress       Code = "DEPLOY_002"
	DeployVersionNotFound  Code = "DEPLOY_003"

	// MSG_* cover messaging.
	MsgTargetNotAllowed   Code = "MSG_001"
	MsgTargetNotSupported Code = "MSG_002"

	// NF_* cover generic lookups.
	NotFoundResource Code = "NF_001"

	// CONF_* cover uniqueness conflicts.
	ConflictDuplicate Code = "CONF_001"

	// RATE_* cover throttling.
	RateLimited Code = "RATE_001"

	// DB_* cover translated database failures.
	DBIntegrity   Code = "DB_001"
	DBForeignKey  Code = "DB_002"
	DBUnavailable Code = "DB_003"

	// GITLAB_* and EXT_* cover external collaborators.
	GitlabUnreachable Code = "GITLAB_003"
	ExtWorkflowEngine Code = "EXT_001"
	ExtBlobStorage    Code = "EXT_002"

	// INT_* and NI_* are the catch-alls.
	Internal       Code = "INT_001"
	NotImplemented Code = "NI_001"
)

var catalog = map[Code]Descriptor{
	AuthInvalidCredentials: {
		Category: CategoryAuthentication, Severity: SeverityWarning,
		Message:  "invalid username or password",
		Markdown: "Invalid username or password.",
	},
	AuthTokenExpired: {
		Category: CategoryAuthentication, Severity: SeverityInfo,
		Message:  "the session token has expired",
		Markdown: "Your session has **expired**, please sign in again.",
	},
	AuthTokenRevoked: {
		Category: CategoryAuthentication, Severity: SeverityWarning,
		Message:  "the token has been revoked",
		Markdown: "This token has been **revoked**.",
	},
	AuthUnknownToken: {
		Category: CategoryAuthentication, Severity: SeverityWarning,
		Message:  "unknown bearer token",
		Markdown: "The supplied token is not recognized.",
	},
	AuthRefreshExpired: {
		Category: CategoryAuthentication, Severity: SeverityInfo,
		Message:  "the refresh token has expired, sign in again",
		Markdown: "Your session can no longer be refreshed, please sign in again.",
	},
	AuthUserDisabled: {
		Category: CategoryAuthentication, Severity: SeverityWarning,
		Message:  "the user account is disabled",
		Markdown: "This account is **disabled**. Contact your course staff.",
	},

	PermDenied: {
		Category: CategoryAuthorization, Severity: SeverityWarning,
		Message:  "permission denied for %s on %s",
		Markdown: "You are not allowed to `%s` this `%s`.",
	},
	PermNotCourseMember: {
		Category: CategoryAuthorization, Severity: SeverityWarning,
		Message:  "not a member of course %s",
		Markdown: "You are not a member of this course.",
	},
	PermInsufficientRole: {
		Category: CategoryAuthorization, Severity: SeverityWarning,
		Message:  "requires course role %s or above",
		Markdown: "This action requires the course role `%s` or above.",
	},
	PermNotGroupMember: {
		Category: CategoryAuthorization, Severity: SeverityWarning,
		Message:  "not a member of submission group %s",
		Markdown: "You are not a member of this submission group.",
	},
	PermAuthorOnly: {
		Category: CategoryAuthorization, Severity: SeverityWarning,
		Message:  "only the author may modify this message",
		Markdown: "Only the **author** may modify this message.",
	},
	PermSubscriptionDenied: {
		Category: CategoryAuthorization, Severity: SeverityInfo,
		Message:  "subscription to channel %s denied",
		Markdown: "You cannot subscribe to `%s`.",
	},

	ValInvalidRequest: {
		Category: CategoryValidation, Severity: SeverityInfo,
		Message:  "invalid request: %s",
		Markdown: "Invalid request: %s",
	},
	ValInvalidSemver: {
		Category: CategoryValidation, Severity: SeverityInfo,
		Message:  "version tag %q is not valid semver",
		Markdown: "The version tag `%s` is not a valid semantic version.",
	},
	ValNotSubmittable: {
		Category: CategoryValidation, Severity: SeverityInfo,
		Message:  "course content %s does not accept submissions",
		Markdown: "This content item does not accept submissions.",
	},
	ValNoBackend: {
		Category: CategoryValidation, Severity: SeverityWarning,
		Message:  "course content %s has no execution backend configured",
		Markdown: "No execution backend is configured for this assignment.",
	},

	SubNotZip: {
		Category: CategoryValidation, Severity: SeverityInfo,
		Message:  "uploaded file must be a .zip archive",
		Markdown: "The uploaded file must be a **.zip** archive.",
	},
	SubEmptyArchive: {
		Category: CategoryValidation, Severity: SeverityInfo,
		Message:  "the archive contains no non-empty files",
		Markdown: "The archive contains no files.",
	},
	SubTooLarge: {
		Category: CategoryValidation, Severity: SeverityInfo,
		Message:  "archive exceeds the maximum uncompressed size of %d bytes",
		Markdown: "The archive is too large (limit %d bytes).",
	},
	SubQuotaReached: {
		Category: CategoryValidation, Severity: SeverityInfo,
		Message:  "the submission limit of %d for this group is reached",
		Markdown: "Your group has used all **%d** submissions.",
	},
	SubGroupFull: {
		Category: CategoryValidation, Severity: SeverityInfo,
		Message:  "the submission group is full (max %d members)",
		Markdown: "This group is **full** (max %d members).",
	},
	SubInvalidJoinCode: {
		Category: CategoryValidation, Severity: SeverityInfo,
		Message:  "invalid join code",
		Markdown: "The join code is not valid.",
	},

	TestNotReleased: {
		Category: CategoryValidation, Severity: SeverityInfo,
		Message:  "assignment not released: no deployed example version",
		Markdown: "This assignment has **not been released** yet.",
	},
	TestAlreadyRunning: {
		Category: CategoryValidation, Severity: SeverityInfo,
		Message:  "already testing/running: result %s is still active",
		Markdown: "A test for this version is **already running**.",
	},
	TestAlreadyFinished: {
		Category: CategoryValidation, Severity: SeverityInfo,
		Message:  "version already tested; only crashed or cancelled runs may be retried",
		Markdown: "This version was already tested. Only crashed or cancelled runs may be retried.",
	},
	TestQuotaReached: {
		Category: CategoryValidation, Severity: SeverityInfo,
		Message:  "the test run limit of %d for this group is reached",
		Markdown: "Your group has used all **%d** test runs.",
	},
	TestSubmitFailed: {
		Category: CategoryExternal, Severity: SeverityError,
		Message:    "failed to submit the test workflow: %v",
		Markdown:   "The test could not be scheduled. Please retry shortly.",
		RetryAfter: 30,
	},

	DeployIdentityMismatch: {
		Category: CategoryValidation, Severity: SeverityWarning,
		Message:  "deployed content may only move to another version of example %s, not %s",
		Markdown: "A deployed assignment may only be updated to another version of the **same** example.",
	},
	DeployInProgress: {
		Category: CategoryConflict, Severity: SeverityWarning,
		Message:  "deployment is %s and cannot be unassigned",
		Markdown: "The deployment is currently `%s`; wait for it to finish.",
	},
	DeployVersionNotFound: {
		Category: CategoryNotFound, Severity: SeverityInfo,
		Message:  "example version %s not found",
		Markdown: "The requested example version does not exist.",
	},

	MsgTargetNotAllowed: {
		Category: CategoryValidation, Severity: SeverityInfo,
		Message:  "messages cannot be created for target %s",
		Markdown: "Messages cannot be posted to this target.",
	},
	MsgTargetNotSupported: {
		Category: CategoryNotImplemented, Severity: SeverityInfo,
		Message:  "creating messages for target %s is not implemented",
		Markdown: "Posting to this target is not implemented.",
	},

	NotFoundResource: {
		Category: CategoryNotFound, Severity: SeverityInfo,
		Message:  "%s %s not found",
		Markdown: "The requested %s does not exist.",
	},

	ConflictDuplicate: {
		Category: CategoryConflict, Severity: SeverityInfo,
		Message:  "%s already exists",
		Markdown: "This %s already exists.",
	},

	RateLimited: {
		Category: CategoryRateLimit, Severity: SeverityInfo,
		Message:    "rate limit exceeded, retry later",
		Markdown:   "Rate limit exceeded, please retry later.",
		RetryAfter: 60,
	},

	DBIntegrity: {
		Category: CategoryDatabase, Severity: SeverityWarning,
		Message:  "the change violates a data constraint: %s",
		Markdown: "The change conflicts with existing data.",
	},
	DBForeignKey: {
		Category: CategoryDatabase, Severity: SeverityWarning,
		Message:  "referenced %s does not exist",
		Markdown: "The referenced `%s` does not exist.",
	},
	DBUnavailable: {
		Category: CategoryExternal, Severity: SeverityCritical,
		Message:    "database unavailable",
		Markdown:   "The service is temporarily unavailable.",
		RetryAfter: 15,
	},

	GitlabUnreachable: {
		Category: CategoryExternal, Severity: SeverityError,
		Message:    "the source control provider is unreachable",
		Markdown:   "The source control provider is unreachable.",
		RetryAfter: 60,
	},
	ExtWorkflowEngine: {
		Category: CategoryExternal, Severity: SeverityError,
		Message:    "the workflow engine is unavailable: %v",
		Markdown:   "The test system is temporarily unavailable.",
		RetryAfter: 30,
	},
	ExtBlobStorage: {
		Category: CategoryExternal, Severity: SeverityError,
		Message:    "blob storage request failed: %v",
		Markdown:   "File storage is temporarily unavailable.",
		RetryAfter: 30,
	},

	Internal: {
		Category: CategoryInternal, Severity: SeverityCritical,
		Message:  "internal error",
		Markdown: "An internal error occurred. The incident has been logged.",
	},
	NotImplemented: {
		Category: CategoryNotImplemented, Severity: SeverityInfo,
		Message:  "%s is not implemented",
		Markdown: "`%s` is not implemented.",
	},
}

func init() {
	// backfill the code field so callers can range over Catalog()
	for code, desc := range catalog {
		desc.Code = code
		catalog[code] = desc
	}
}

// Lookup returns the descriptor of a code, falling back to the
// internal-error descriptor for unknown codes.
func Lookup(code Code) Descriptor {
	if desc, ok := catalog[code]; ok {
		return desc
	}
	desc := catalog[Internal]
	desc.Code = code
	return desc
}

// Catalog returns a copy of the full registry, used to generate the
// client-side error tables.
func Catalog() []Descriptor {
	out := make([]Descriptor, 0, len(catalog))
	for _, desc := range catalog {
		out = append(out, desc)
	}
	return out
}
