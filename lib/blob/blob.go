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

// Package blob stores submission archives and test artifacts in
// S3-compatible object storage. Buckets are created on demand: one per
// submission group plus the shared results and examples buckets.
package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/codebench/codebench"
)

// Store is the object storage surface the core depends on.
type Store interface {
	// EnsureBucket creates the bucket if it does not exist.
	EnsureBucket(ctx context.Context, bucket string) error
	// Put stores an object.
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	// Get reads an object in full.
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// Delete removes an object.
	Delete(ctx context.Context, bucket, key string) error
}

// S3Config configures the S3 store.
type S3Config struct {
	// Endpoint is the storage URL, e.g. "http://minio:9000".
	Endpoint string
	// AccessKey authenticates the client.
	AccessKey string
	// SecretKey authenticates the client.
	SecretKey string
}

// S3Store implements Store on any S3-compatible endpoint, with
// path-style addressing for MinIO.
type S3Store struct {
	client *s3.Client
	log    logrus.FieldLogger
}

// NewS3Store builds the client.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Endpoint == "" {
		return nil, trace.BadParameter("missing parameter Endpoint")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})
	return &S3Store{
		client: client,
		log:    logrus.WithFields(logrus.Fields{codebench.Component: codebench.ComponentBlob}),
	}, nil
}

// EnsureBucket creates the bucket, tolerating prior existence.
func (s *S3Store) EnsureBucket(ctx context.Context, bucket string) error {
	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		var owned *s3types.BucketAlreadyOwnedByYou
		var exists *s3types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return trace.ConnectionProblem(err, "creating bucket %s", bucket)
	}
	s.log.WithField("bucket", bucket).Debug("Created bucket.")
	return nil
}

// Put stores an object.
func (s *S3Store) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return trace.ConnectionProblem(err, "storing %s/%s", bucket, key)
	}
	return nil
}

// Get reads an object in full.
func (s *S3Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, trace.NotFound("object %s/%s not found", bucket, key)
		}
		return nil, trace.ConnectionProblem(err, "reading %s/%s", bucket, key)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return data, nil
}

// Delete removes an object.
func (s *S3Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return trace.ConnectionProblem(err, "deleting %s/%s", bucket, key)
	}
	return nil
}

var _ Store = (*S3Store)(nil)

// MemoryStore implements Store on process maps, used by tests and
// development without object storage.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]map[string][]byte)}
}

// EnsureBucket creates the bucket map.
func (s *MemoryStore) EnsureBucket(ctx context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[bucket]; !ok {
		s.buckets[bucket] = make(map[string][]byte)
	}
	return nil
}

// Put stores an object, creating the bucket implicitly.
func (s *MemoryStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[bucket]
	if !ok {
		b = make(map[string][]byte)
		s.buckets[bucket] = b
	}
	b[key] = append([]byte{}, data...)
	return nil
}

// Get reads an object.
func (s *MemoryStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.buckets[bucket][key]
	if !ok {
		return nil, trace.NotFound("object %s/%s not found", bucket, key)
	}
	return append([]byte{}, data...), nil
}

// Delete removes an object.
func (s *MemoryStore) Delete(ctx context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets[bucket], key)
	return nil
}

var _ Store = (*MemoryStore)(nil)
