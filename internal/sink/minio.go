package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/dataguard/internal/platform/objectstore"
	"github.com/minio/minio-go/v7"
)

// ObjectSink exports log streams to an S3-compatible bucket. Each write
// uploads the full buffer, replacing the object at prefix+name.
type ObjectSink struct {
	put    func(ctx context.Context, bucket, key string, body []byte) error
	bucket string
	prefix string
}

func NewObjectSink(client *minio.Client, cfg objectstore.Config) (*ObjectSink, error) {
	if client == nil {
		return nil, errors.New("minio client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	put := func(ctx context.Context, bucket, key string, body []byte) error {
		_, err := client.PutObject(ctx, bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
			ContentType: "text/plain; charset=utf-8",
		})
		return err
	}
	return &ObjectSink{put: put, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *ObjectSink) key(name string) string {
	prefix := strings.TrimSpace(s.prefix)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + name
}

func (s *ObjectSink) WriteOrAppend(ctx context.Context, name string, content []byte) error {
	if s == nil || s.put == nil {
		return errors.New("object sink not initialized")
	}
	if err := checkName(name); err != nil {
		return err
	}
	if err := s.put(ctx, s.bucket, s.key(name), content); err != nil {
		return fmt.Errorf("put object %s: %w", s.key(name), err)
	}
	return nil
}
