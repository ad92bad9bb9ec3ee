// Package miniostore implements the object store contract with minio-go.
// It serves MinIO and other S3-compatible endpoints, including Google Cloud
// Storage through its XML interoperability API with HMAC keys.
package miniostore

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/objstore"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/validation"
)

// maxCopyObjectSize is the largest object a single CopyObject may move.
// Larger objects are composed server-side from ranged part copies.
const maxCopyObjectSize int64 = 5 * 1024 * 1024 * 1024

// API is the subset of *minio.Client the store calls.
type API interface {
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
	ComposeObject(ctx context.Context, dst minio.CopyDestOptions, srcs ...minio.CopySrcOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

var _ API = (*minio.Client)(nil)

// Config describes a minio-go client.
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Secure    bool
	PathStyle bool
}

// NewClient builds a minio-go client.
func NewClient(cfg Config) (*minio.Client, error) {
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, arkerrors.NewError("client initialization", err)
	}
	return client, nil
}

// Store is an objstore.Store backed by minio-go.
type Store struct {
	client API
}

// New creates a Store over a minio-go client.
func New(client API) *Store {
	return &Store{client: client}
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}

func convertError(op string, u objstore.URI, err error) *arkerrors.Error {
	if isNotFound(err) {
		return arkerrors.NewObjectError(op, u.String(), arkerrors.ErrObjectNotFound)
	}
	return arkerrors.NewObjectError(op, u.String(), err)
}

func validate(op string, u objstore.URI) error {
	if err := validation.ValidateContainerName(u.Container); err != nil {
		return arkerrors.NewObjectError(op, u.String(), err)
	}
	if err := validation.ValidateObjectPath(u.Path); err != nil {
		return arkerrors.NewObjectError(op, u.String(), err)
	}
	return nil
}

// Exists implements objstore.Store.
func (s *Store) Exists(ctx context.Context, u objstore.URI) (bool, error) {
	_, err := s.Size(ctx, u)
	if arkerrors.IsObjectNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// Size implements objstore.Store.
func (s *Store) Size(ctx context.Context, u objstore.URI) (int64, error) {
	if err := validate("size", u); err != nil {
		return 0, err
	}
	info, err := s.client.StatObject(ctx, u.Container, u.Path, minio.StatObjectOptions{})
	if err != nil {
		return 0, convertError("size", u, err)
	}
	return info.Size, nil
}

// Copy implements objstore.Store. The service completes the copy in one
// call, so no continuation token is ever returned; objects above the
// CopyObject limit are composed from ranged part copies.
func (s *Store) Copy(ctx context.Context, src, dst objstore.URI, _ string) (string, error) {
	if err := validate("copy", dst); err != nil {
		return "", err
	}
	size, err := s.Size(ctx, src)
	if err != nil {
		return "", err
	}

	dstOpts := minio.CopyDestOptions{Bucket: dst.Container, Object: dst.Path}
	srcOpts := minio.CopySrcOptions{Bucket: src.Container, Object: src.Path}

	if size > maxCopyObjectSize {
		_, err = s.client.ComposeObject(ctx, dstOpts, srcOpts)
	} else {
		_, err = s.client.CopyObject(ctx, dstOpts, srcOpts)
	}
	if err != nil {
		return "", convertError("copy", dst, err).WithMessage("failed to copy from " + src.String())
	}
	return "", nil
}

// Delete implements objstore.Store.
func (s *Store) Delete(ctx context.Context, u objstore.URI) error {
	if err := validate("delete", u); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, u.Container, u.Path, minio.RemoveObjectOptions{}); err != nil {
		return convertError("delete", u, err)
	}
	return nil
}

// Upload implements objstore.Store.
func (s *Store) Upload(ctx context.Context, u objstore.URI, data []byte, contentType string) error {
	if err := validate("upload", u); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, u.Container, u.Path, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return convertError("upload", u, err)
	}
	return nil
}

// List implements objstore.Store.
func (s *Store) List(ctx context.Context, prefix objstore.URI) ([]objstore.ObjectInfo, error) {
	if err := validation.ValidateContainerName(prefix.Container); err != nil {
		return nil, arkerrors.NewObjectError("list", prefix.String(), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var out []objstore.ObjectInfo
	for obj := range s.client.ListObjects(ctx, prefix.Container, minio.ListObjectsOptions{
		Prefix:    prefix.Path,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, convertError("list", prefix, obj.Err)
		}
		out = append(out, objstore.ObjectInfo{
			URI:  objstore.URI{Scheme: prefix.Scheme, Container: prefix.Container, Path: obj.Key},
			Size: obj.Size,
		})
	}
	return out, nil
}
