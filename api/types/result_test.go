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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultStatusTerminal(t *testing.T) {
	terminal := []ResultStatus{ResultFinished, ResultFailed, ResultCancelled, ResultCrashed}
	active := []ResultStatus{ResultScheduled, ResultPending, ResultRunning, ResultPaused}

	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%v", s)
	}
	for _, s := range active {
		assert.False(t, s.IsTerminal(), "%v", s)
	}
}

func TestResultStatusTransitions(t *testing.T) {
	all := []ResultStatus{
		ResultFinished, ResultFailed, ResultCancelled, ResultScheduled,
		ResultPending, ResultRunning, ResultCrashed, ResultPaused,
	}

	// terminal states are absorbing
	for _, s := range all {
		if !s.IsTerminal() {
			continue
		}
		for _, next := range all {
			assert.False(t, s.CanTransition(next), "%v -> %v", s, next)
		}
	}

	// non-terminal states move only to reconciled workflow outcomes
	for _, s := range all {
		if s.IsTerminal() {
			continue
		}
		for _, next := range all {
			allowed := next != ResultPending && next != ResultPaused
			assert.Equal(t, allowed, s.CanTransition(next), "%v -> %v", s, next)
		}
	}
}

func TestResultStatusRoundTrip(t *testing.T) {
	for _, s := range []ResultStatus{
		ResultFinished, ResultFailed, ResultCancelled, ResultScheduled,
		ResultPending, ResultRunning, ResultCrashed, ResultPaused,
	} {
		parsed, err := ParseResultStatus(s.String())
		require.NoError(t, err)
		require.Equal(t, s, parsed)
	}
	_, err := ParseResultStatus("exploded")
	require.Error(t, err)
}

func TestResultStatusJSON(t *testing.T) {
	out, err := json.Marshal(ResultRunning)
	require.NoError(t, err)
	require.Equal(t, "5", string(out))

	var s ResultStatus
	require.NoError(t, json.Unmarshal([]byte(`5`), &s))
	require.Equal(t, ResultRunning, s)

	require.NoError(t, json.Unmarshal([]byte(`"crashed"`), &s))
	require.Equal(t, ResultCrashed, s)

	require.Error(t, json.Unmarshal([]byte(`42`), &s))
	require.Error(t, json.Unmarshal([]byte(`"nope"`), &s))
}

func TestResultCheckAndSetDefaults(t *testing.T) {
	grade := 0.5
	result := Result{
		SubmissionArtifactID: "artifact-1",
		CourseMemberID:       "member-1",
		CourseContentID:      "content-1",
		TestSystemID:         "student-testing-1",
		Status:               ResultScheduled,
		Grade:                &grade,
	}
	require.NoError(t, result.CheckAndSetDefaults())

	bad := result
	badGrade := 1.5
	bad.Grade = &badGrade
	require.Error(t, bad.CheckAndSetDefaults())

	bad = result
	bad.TestSystemID = ""
	require.Error(t, bad.CheckAndSetDefaults())
}
