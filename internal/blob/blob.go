// Package blob stores uploaded letter files. Content is opaque here; only the
// key and resulting URL matter to the rest of the system.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"lettertrack/internal/config"
)

// Object describes a stored file.
type Object struct {
	Key  string `json:"key"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

type Store interface {
	Put(ctx context.Context, key, contentType string, body []byte) (Object, error)
	// Delete removes the object Put returned as key. Missing objects are not an error.
	Delete(ctx context.Context, key string) error
}

// New builds the store selected by cfg.Driver.
func New(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(cfg.PublicBaseURL), nil
	case "s3":
		return NewS3(ctx, cfg)
	}
	return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
}

func publicURL(base, scheme, bucket, key string) string {
	if base != "" {
		return strings.TrimRight(base, "/") + "/" + key
	}
	if bucket == "" {
		return scheme + "://" + key
	}
	return scheme + "://" + bucket + "/" + key
}

// Memory keeps objects in process. Used by tests and the default config.
type Memory struct {
	baseURL string
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemory(publicBaseURL string) *Memory {
	return &Memory{baseURL: publicBaseURL, objects: map[string][]byte{}}
}

func (m *Memory) Put(_ context.Context, key, _ string, body []byte) (Object, error) {
	if key == "" {
		return Object{}, fmt.Errorf("blob key required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), body...)
	return Object{Key: key, URL: publicURL(m.baseURL, "memory", "", key), Size: int64(len(body))}, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Keys lists stored keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns a stored object's bytes.
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}

type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 writes objects to a bucket under an optional key prefix.
type S3 struct {
	client  objectAPI
	bucket  string
	prefix  string
	baseURL string
}

func NewS3(ctx context.Context, cfg config.BlobConfig) (*S3, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, baseURL: cfg.PublicBaseURL}, nil
}

func (s *S3) Put(ctx context.Context, key, contentType string, body []byte) (Object, error) {
	if key == "" {
		return Object{}, fmt.Errorf("blob key required")
	}
	full := key
	if s.prefix != "" {
		full = path.Join(s.prefix, key)
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(full),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return Object{}, fmt.Errorf("failed to upload %s to S3: %w", full, err)
	}
	return Object{Key: full, URL: publicURL(s.baseURL, "s3", s.bucket, full), Size: int64(len(body))}, nil
}

// Delete takes the full key, prefix included, as returned in Object.Key.
func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s from S3: %w", key, err)
	}
	return nil
}

// ReadAll drains r up to limit bytes, failing when the body is larger.
func ReadAll(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("upload exceeds %d bytes", limit)
	}
	return b, nil
}
