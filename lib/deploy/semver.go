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

package deploy

import (
	"strings"

	"github.com/coreos/go-semver/semver"

	"github.com/codebench/codebench/lib/errcode"
)

// NormalizeVersionTag pads a partial version to the dotted-tri form
// ("1.2" becomes "1.2.0") and validates it as semver. An optional
// leading "v" is stripped.
func NormalizeVersionTag(tag string) (string, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(tag), "v")
	if trimmed == "" {
		return "", errcode.New(errcode.ValInvalidSemver, tag)
	}
	// pre-release and build suffixes stay attached to the last part
	core := trimmed
	suffix := ""
	if i := strings.IndexAny(trimmed, "-+"); i >= 0 {
		core, suffix = trimmed[:i], trimmed[i:]
	}
	parts := strings.Split(core, ".")
	if len(parts) > 3 {
		return "", errcode.New(errcode.ValInvalidSemver, tag)
	}
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	normalized := strings.Join(parts, ".") + suffix
	if _, err := semver.NewVersion(normalized); err != nil {
		return "", errcode.New(errcode.ValInvalidSemver, tag)
	}
	return normalized, nil
}
