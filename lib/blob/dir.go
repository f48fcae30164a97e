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

package blob

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"

	"github.com/gravitational/trace"
)

// DirStore implements Store on a local directory, one subdirectory per
// bucket. Object keys are base64-encoded into a single file name, so
// keys may contain slashes without creating nested paths.
type DirStore struct {
	root string
}

// NewDirStore creates the root directory if needed.
func NewDirStore(root string) (*DirStore, error) {
	if root == "" {
		return nil, trace.BadParameter("missing parameter root")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return &DirStore{root: root}, nil
}

func (s *DirStore) bucketDir(bucket string) string {
	return filepath.Join(s.root, encodePart(bucket))
}

func (s *DirStore) objectPath(bucket, key string) string {
	return filepath.Join(s.bucketDir(bucket), encodePart(key))
}

func encodePart(part string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(part))
}

// EnsureBucket creates the bucket directory.
func (s *DirStore) EnsureBucket(_ context.Context, bucket string) error {
	return trace.ConvertSystemError(os.MkdirAll(s.bucketDir(bucket), 0o700))
}

// Put stores an object. The content type is not persisted; callers
// keep it on the artifact row.
func (s *DirStore) Put(_ context.Context, bucket, key string, data []byte, _ string) error {
	if err := os.MkdirAll(s.bucketDir(bucket), 0o700); err != nil {
		return trace.ConvertSystemError(err)
	}
	return trace.ConvertSystemError(os.WriteFile(s.objectPath(bucket, key), data, 0o600))
}

// Get reads an object in full.
func (s *DirStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	data, err := os.ReadFile(s.objectPath(bucket, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, trace.NotFound("object %s/%s not found", bucket, key)
		}
		return nil, trace.ConvertSystemError(err)
	}
	return data, nil
}

// Delete removes an object.
func (s *DirStore) Delete(_ context.Context, bucket, key string) error {
	err := os.Remove(s.objectPath(bucket, key))
	if err != nil && !os.IsNotExist(err) {
		return trace.ConvertSystemError(err)
	}
	return nil
}

var _ Store = (*DirStore)(nil)
