// Copyright 2026 The Weather Tile Pipeline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package objectstore wraps the remote bucket the pipeline publishes to:
// uploads, prefix listings, and deletes, used by the Upload stage, the
// Retention Enforcer, and the Manifest Emitter.
package objectstore

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// API is the subset of the S3 client the store depends on, so tests can
// substitute a fake without touching the network.
type API interface {
	manager.UploadAPIClient
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Client publishes to and queries a single bucket.
type Client struct {
	api      API
	bucket   string
	uploader *manager.Uploader
}

// New builds a Client over an existing S3 API implementation.
func New(api API, bucket string) *Client {
	return &Client{api: api, bucket: bucket, uploader: manager.NewUploader(api)}
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string { return c.bucket }

// UploadFile streams the local file at path to key with the given content
// type and an optional Cache-Control header (empty means unset).
func (c *Client) UploadFile(ctx context.Context, key, path, contentType, cacheControl string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("objectstore: open %q: %w", path, err)
	}
	defer f.Close()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	}
	if cacheControl != "" {
		input.CacheControl = aws.String(cacheControl)
	}
	if _, err := c.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("objectstore: upload %q: %w", key, err)
	}
	return nil
}

// UploadBytes uploads an in-memory document, used for the freshness
// manifest.
func (c *Client) UploadBytes(ctx context.Context, key string, data []byte, contentType, cacheControl string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(string(data)),
		ContentType: aws.String(contentType),
	}
	if cacheControl != "" {
		input.CacheControl = aws.String(cacheControl)
	}
	if _, err := c.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("objectstore: upload %q: %w", key, err)
	}
	return nil
}

// ListKeys returns every object key under prefix, paginating as needed.
func (c *Client) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := c.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("objectstore: list %q: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			return keys, nil
		}
		token = out.NextContinuationToken
	}
}

// ListCommonPrefixes returns the one-level child "directory" prefixes
// directly under prefix (which must end in "/"), using S3's delimiter
// semantics — the mechanism the Retention Enforcer uses to enumerate
// per-date and per-timestamp groups without listing every object beneath
// them.
func (c *Client) ListCommonPrefixes(ctx context.Context, prefix string) ([]string, error) {
	var children []string
	var token *string
	for {
		out, err := c.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("objectstore: list prefixes under %q: %w", prefix, err)
		}
		for _, cp := range out.CommonPrefixes {
			children = append(children, aws.ToString(cp.Prefix))
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			return children, nil
		}
		token = out.NextContinuationToken
	}
}

// Delete removes a single object. Callers that need best-effort semantics
// (Retention) should not treat an error here as fatal to the run.
func (c *Client) Delete(ctx context.Context, key string) error {
	if _, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("objectstore: delete %q: %w", key, err)
	}
	return nil
}
