package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"castdeploy/internal/contentsync"
	"castdeploy/internal/destination"
)

// sidecarMetaKey is the user-metadata key carrying a sidecar's digest, so a
// HEAD request answers the skip check without downloading the body.
const sidecarMetaKey = "md5"

// ObjectStorageAdapter writes to an S3-compatible bucket.
type ObjectStorageAdapter struct {
	opts Options
}

// NewObjectStorageAdapter constructs the object storage adapter.
func NewObjectStorageAdapter(opts Options) *ObjectStorageAdapter {
	return &ObjectStorageAdapter{opts: opts}
}

func (a *ObjectStorageAdapter) Mode() destination.Mode { return destination.ModeObjectStorage }

func (a *ObjectStorageAdapter) Open(ctx context.Context, target Target) (Session, error) {
	cfg, ok := target.Config.(*destination.ObjectStorageConfig)
	if !ok {
		return nil, fmt.Errorf("object storage adapter given %T", target.Config)
	}

	lookup := minio.BucketLookupAuto
	if cfg.PathStyle {
		lookup = minio.BucketLookupPath
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       !cfg.Insecure,
		Region:       cfg.Region,
		BucketLookup: lookup,
		Transport:    newHTTPTransport(a.opts),
	})
	if err != nil {
		return nil, fmt.Errorf("object storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", cfg.Bucket)
	}
	return &objectSession{client: client, bucket: cfg.Bucket}, nil
}

type objectSession struct {
	client *minio.Client
	bucket string
}

func (s *objectSession) Get(ctx context.Context, key string) ([]byte, error) {
	if strings.HasSuffix(key, contentsync.SidecarSuffix) {
		info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
		if err != nil {
			return nil, objectError(key, err)
		}
		if digest, ok := lookupMeta(info.UserMetadata, sidecarMetaKey); ok {
			return []byte(digest), nil
		}
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, objectError(key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, objectError(key, err)
	}
	return data, nil
}

func (s *objectSession) Put(ctx context.Context, key string, data []byte) error {
	opts := minio.PutObjectOptions{ContentType: contentType(key)}
	if strings.HasSuffix(key, contentsync.SidecarSuffix) {
		opts.UserMetadata = map[string]string{sidecarMetaKey: strings.TrimSpace(string(data))}
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), opts)
	return err
}

// MkdirAll is a no-op; prefixes exist implicitly.
func (s *objectSession) MkdirAll(context.Context, string) error { return nil }

func (s *objectSession) Close() error { return nil }

func objectError(key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
		return fmt.Errorf("%s: %w", key, fs.ErrNotExist)
	}
	return err
}

// lookupMeta finds a user-metadata value regardless of how the server
// canonicalized the header name.
func lookupMeta(meta map[string]string, key string) (string, bool) {
	for k, v := range meta {
		name := strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-")
		if name == key && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

var contentTypes = map[string]string{
	".xml":  "application/rss+xml",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".srt":  "application/x-subrip",
	".md5":  "text/plain; charset=utf-8",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

func contentType(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
