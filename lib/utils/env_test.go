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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("CODEBENCH_TEST_STR", "value")
	require.Equal(t, "value", GetEnv("CODEBENCH_TEST_STR", "fallback"))
	require.Equal(t, "fallback", GetEnv("CODEBENCH_TEST_UNSET", "fallback"))
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("CODEBENCH_TEST_INT", "42")
	n, err := GetEnvInt("CODEBENCH_TEST_INT", 7)
	require.NoError(t, err)
	require.Equal(t, 42, n)

	n, err = GetEnvInt("CODEBENCH_TEST_UNSET", 7)
	require.NoError(t, err)
	require.Equal(t, 7, n)

	t.Setenv("CODEBENCH_TEST_INT", "nope")
	_, err = GetEnvInt("CODEBENCH_TEST_INT", 7)
	require.Error(t, err)
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("CODEBENCH_TEST_BOOL", "yes")
	b, err := GetEnvBool("CODEBENCH_TEST_BOOL", false)
	require.NoError(t, err)
	require.True(t, b)

	t.Setenv("CODEBENCH_TEST_BOOL", "0")
	b, err = GetEnvBool("CODEBENCH_TEST_BOOL", true)
	require.NoError(t, err)
	require.False(t, b)
}

func TestGetEnvDuration(t *testing.T) {
	// plain integers are seconds
	t.Setenv("CODEBENCH_TEST_DUR", "90")
	d, err := GetEnvDuration("CODEBENCH_TEST_DUR", time.Second)
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, d)

	t.Setenv("CODEBENCH_TEST_DUR", "1h30m")
	d, err = GetEnvDuration("CODEBENCH_TEST_DUR", time.Second)
	require.NoError(t, err)
	require.Equal(t, 90*time.Minute, d)

	d, err = GetEnvDuration("CODEBENCH_TEST_UNSET", 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, d)
}

func TestSHA256Hex(t *testing.T) {
	// well-known vector
	require.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		SHA256Hex(""))
	require.Len(t, SHA256Bytes("token"), 32)
}

func TestCryptoRandomHex(t *testing.T) {
	a, err := CryptoRandomHex(32)
	require.NoError(t, err)
	require.Len(t, a, 64)

	b, err := CryptoRandomHex(32)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
