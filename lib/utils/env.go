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

package utils

import (
	"os"
	"strconv"
	"time"

	"github.com/gravitational/trace"
)

// GetEnv returns the environment variable or the fallback when unset
// or empty.
func GetEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// GetEnvInt parses an integer environment variable.
func GetEnvInt(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, trace.BadParameter("%s: expected integer, got %q", name, v)
	}
	return n, nil
}

// GetEnvBool parses a boolean environment variable, accepting the
// strconv forms plus "yes"/"no".
func GetEnvBool(name string, fallback bool) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "yes", "Yes", "YES":
		return true, nil
	case "no", "No", "NO":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, trace.BadParameter("%s: expected boolean, got %q", name, v)
	}
	return b, nil
}

// GetEnvDuration parses a duration environment variable. Plain
// integers are read as seconds to match the deployment contract.
func GetEnvDuration(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, trace.BadParameter("%s: expected duration or seconds, got %q", name, v)
	}
	return d, nil
}
