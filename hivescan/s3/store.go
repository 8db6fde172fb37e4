// Package s3 provides an S3-compatible storage adapter for hivescan.
//
// It supports AWS S3, MinIO, LocalStack, and other S3-compatible object
// stores. Random access reads use HTTP Range requests, so Parquet footers
// and selected row groups are fetched without downloading whole objects.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/justapithecus/hivescan/hivescan"
)

// API defines the subset of the S3 client interface used by the store.
// This enables testing with mock implementations.
type API interface {
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
}

// Config holds configuration for the S3 store.
type Config struct {
	// Bucket is the S3 bucket name. Required.
	Bucket string

	// Prefix is an optional key prefix for all operations.
	// If set, all keys are prefixed with this value (with a trailing slash
	// added if missing).
	Prefix string
}

// Store implements hivescan.Store over an S3-compatible backend.
type Store struct {
	client API
	bucket string
	prefix string
}

// New creates a new S3 store with the given client and configuration.
//
// The client must be pre-configured with credentials, region, and endpoint.
// Use github.com/aws/aws-sdk-go-v2/config to load configuration, or
// NewClient for S3-compatible endpoints.
func New(client API, cfg Config) (*Store, error) {
	if client == nil {
		return nil, errors.New("s3: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

// List returns all object keys under the given prefix, relative to the
// store's own prefix. Pagination is handled automatically. A prefix with no
// objects yields an empty slice, not an error.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var continuationToken *string

	for {
		out, err := s.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix + prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("s3: list objects: %w", err)
		}

		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			// Strip the store prefix to return relative keys.
			keys = append(keys, strings.TrimPrefix(*obj.Key, s.prefix))
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		continuationToken = out.NextContinuationToken
	}

	return keys, nil
}

// Stat returns object metadata.
// Returns hivescan.ErrNotFound if the key does not exist.
func (s *Store) Stat(ctx context.Context, path string) (hivescan.ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + path),
	})
	if err != nil {
		if isNotFound(err) {
			return hivescan.ObjectInfo{}, hivescan.ErrNotFound
		}
		return hivescan.ObjectInfo{}, fmt.Errorf("s3: head object: %w", err)
	}

	return hivescan.ObjectInfo{
		Path:      path,
		SizeBytes: aws.ToInt64(out.ContentLength),
	}, nil
}

// Open retrieves the entire object.
// Returns hivescan.ErrNotFound if the key does not exist.
func (s *Store) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, hivescan.ErrNotFound
		}
		return nil, fmt.Errorf("s3: get object: %w", err)
	}

	return out.Body, nil
}

// ReaderAt returns a random-access reader backed by S3 range reads. The
// object's size is resolved once with HeadObject; each ReadAt issues an
// independent ranged GetObject, so concurrent reads at different offsets are
// safe.
// Returns hivescan.ErrNotFound if the key does not exist.
func (s *Store) ReaderAt(ctx context.Context, path string) (hivescan.SizedReaderAt, error) {
	info, err := s.Stat(ctx, path)
	if err != nil {
		return nil, err
	}

	return &readerAt{
		store: s,
		key:   s.prefix + path,
		size:  info.SizeBytes,
		ctx:   ctx,
	}, nil
}

// readerAt implements hivescan.SizedReaderAt using S3 range reads.
// It is safe for concurrent use.
type readerAt struct {
	store *Store
	key   string
	size  int64

	// ctx is the context the reader was opened under. io.ReaderAt has no
	// context parameter, so range reads inherit it.
	ctx context.Context
}

func (r *readerAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("s3: negative offset")
	}
	if off >= r.size || len(p) == 0 {
		if len(p) == 0 && off <= r.size {
			return 0, nil
		}
		return 0, io.EOF
	}

	// S3 Range header is inclusive on both ends.
	end := off + int64(len(p)) - 1
	if end >= r.size {
		end = r.size - 1
	}
	rangeHeader := fmt.Sprintf("bytes=%d-%d", off, end)

	out, err := r.store.client.GetObject(r.ctx, &awss3.GetObjectInput{
		Bucket: aws.String(r.store.bucket),
		Key:    aws.String(r.key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, hivescan.ErrNotFound
		}
		return 0, fmt.Errorf("s3: range read: %w", err)
	}
	defer func() { _ = out.Body.Close() }()

	n, err := io.ReadFull(out.Body, p[:end-off+1])
	if err != nil {
		return n, fmt.Errorf("s3: reading range body: %w", err)
	}
	if int64(n) < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

func (r *readerAt) Size() int64 { return r.size }

func (r *readerAt) Close() error { return nil }

// isNotFound checks whether an S3 error indicates a missing key or bucket.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey" || code == "404"
	}
	return false
}

// Ensure Store implements hivescan.Store.
var _ hivescan.Store = (*Store)(nil)

// -----------------------------------------------------------------------------
// Mock S3 Client for Testing
// -----------------------------------------------------------------------------

// MockS3Client is a test double for API.
type MockS3Client struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// PageSize forces ListObjectsV2 pagination when positive.
	PageSize int
}

// NewMockS3Client creates a new mock S3 client for testing.
func NewMockS3Client() *MockS3Client {
	return &MockS3Client{
		objects: make(map[string][]byte),
	}
}

// PutObject seeds the mock with an object.
func (m *MockS3Client) PutObject(key string, data []byte) {
	m.mu.Lock()
	m.objects[key] = append([]byte(nil), data...)
	m.mu.Unlock()
}

// GetObject implements API.GetObject for testing.
func (m *MockS3Client) GetObject(_ context.Context, params *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	key := aws.ToString(params.Key)

	m.mu.RLock()
	data, exists := m.objects[key]
	m.mu.RUnlock()

	if !exists {
		return nil, &types.NoSuchKey{}
	}

	if params.Range != nil {
		var start, end int64
		_, _ = fmt.Sscanf(aws.ToString(params.Range), "bytes=%d-%d", &start, &end)
		if start >= int64(len(data)) {
			return nil, &smithyAPIError{code: "InvalidRange"}
		}
		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
		data = data[start : end+1]
	}

	return &awss3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader(string(data))),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

// HeadObject implements API.HeadObject for testing.
func (m *MockS3Client) HeadObject(_ context.Context, params *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	key := aws.ToString(params.Key)

	m.mu.RLock()
	data, exists := m.objects[key]
	m.mu.RUnlock()

	if !exists {
		return nil, &types.NoSuchKey{}
	}

	return &awss3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

// ListObjectsV2 implements API.ListObjectsV2 for testing, with optional
// pagination via PageSize.
func (m *MockS3Client) ListObjectsV2(_ context.Context, params *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	prefix := aws.ToString(params.Prefix)

	m.mu.RLock()
	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	m.mu.RUnlock()
	sort.Strings(keys)

	start := 0
	if params.ContinuationToken != nil {
		for i, key := range keys {
			if key == aws.ToString(params.ContinuationToken) {
				start = i
				break
			}
		}
	}

	end := len(keys)
	truncated := false
	if m.PageSize > 0 && start+m.PageSize < len(keys) {
		end = start + m.PageSize
		truncated = true
	}

	var contents []types.Object
	for _, key := range keys[start:end] {
		k := key
		contents = append(contents, types.Object{Key: &k})
	}

	out := &awss3.ListObjectsV2Output{
		Contents:    contents,
		IsTruncated: aws.Bool(truncated),
	}
	if truncated {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

// smithyAPIError implements smithy.APIError for testing.
type smithyAPIError struct {
	code    string
	message string
}

func (e *smithyAPIError) Error() string { return e.message }

func (e *smithyAPIError) ErrorCode() string { return e.code }

func (e *smithyAPIError) ErrorMessage() string { return e.message }

func (e *smithyAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

// Ensure MockS3Client implements API.
var _ API = (*MockS3Client)(nil)
