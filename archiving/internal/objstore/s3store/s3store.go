// Package s3store implements the object store contract on Amazon S3 and
// S3-compatible services through the AWS SDK v2.
//
// Copies of objects above the multipart threshold run as a multipart upload
// whose parts are filled with UploadPartCopy. Each Copy call copies a bounded
// number of parts and returns a continuation token describing the upload, so
// a single request never has to move an arbitrarily large object.
package s3store

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstypes "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/objstore"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/s3api"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/validation"
)

const (
	// DefaultPartSize is the byte range copied by one UploadPartCopy.
	DefaultPartSize int64 = 64 * 1024 * 1024

	// DefaultMultipartThreshold is the size above which copies go multipart.
	DefaultMultipartThreshold int64 = 100 * 1024 * 1024

	// DefaultPartsPerStep bounds the parts copied by one Copy call.
	DefaultPartsPerStep = 16

	// maxSimpleCopySize is the S3 limit for CopyObject.
	maxSimpleCopySize int64 = 5 * 1024 * 1024 * 1024

	// minPartSize is the S3 minimum for every part but the last.
	minPartSize int64 = 5 * 1024 * 1024
)

// Store is an objstore.Store backed by S3.
type Store struct {
	client       s3api.S3API
	partSize     int64
	threshold    int64
	partsPerStep int
}

// Option configures a Store.
type Option func(*Store)

// WithPartSize sets the multipart copy part size. Values below the S3
// minimum of 5MB are ignored.
func WithPartSize(n int64) Option {
	return func(s *Store) {
		if n >= minPartSize {
			s.partSize = n
		}
	}
}

// WithMultipartThreshold sets the object size above which copies go multipart.
// It never exceeds the 5GB CopyObject limit.
func WithMultipartThreshold(n int64) Option {
	return func(s *Store) {
		if n > 0 && n <= maxSimpleCopySize {
			s.threshold = n
		}
	}
}

// WithPartsPerStep sets how many parts one Copy call copies before it returns
// a continuation token.
func WithPartsPerStep(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.partsPerStep = n
		}
	}
}

// New creates a Store over an S3 client.
func New(client s3api.S3API, opts ...Option) *Store {
	s := &Store{
		client:       client,
		partSize:     DefaultPartSize,
		threshold:    DefaultMultipartThreshold,
		partsPerStep: DefaultPartsPerStep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// copyState is the content of a continuation token.
type copyState struct {
	UploadID string   `json:"upload_id"`
	Size     int64    `json:"size"`
	PartSize int64    `json:"part_size"`
	NextPart int32    `json:"next_part"`
	ETags    []string `json:"etags"`
}

func encodeToken(st *copyState) (string, error) {
	b, err := json.Marshal(st)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func decodeToken(token string) (*copyState, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed continuation token", arkerrors.ErrInvalidInput)
	}
	var st copyState
	if err := json.Unmarshal(b, &st); err != nil || st.UploadID == "" || st.PartSize <= 0 {
		return nil, fmt.Errorf("%w: malformed continuation token", arkerrors.ErrInvalidInput)
	}
	return &st, nil
}

// isNotFound checks the service error code of a failed call.
func isNotFound(err error) bool {
	var nf *awstypes.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *awstypes.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return false
}

func convertError(op string, u objstore.URI, err error) *arkerrors.Error {
	if isNotFound(err) {
		return arkerrors.NewObjectError(op, u.String(), arkerrors.ErrObjectNotFound)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return arkerrors.NewObjectError(op, u.String(),
			fmt.Errorf("%s: %s: %w", apiErr.ErrorCode(), apiErr.ErrorMessage(), err))
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

func (s *Store) head(ctx context.Context, op string, u objstore.URI) (*s3.HeadObjectOutput, error) {
	if err := validate(op, u); err != nil {
		return nil, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(u.Container),
		Key:    aws.String(u.Path),
	})
	if err != nil {
		return nil, convertError(op, u, err)
	}
	return out, nil
}

// Exists implements objstore.Store.
func (s *Store) Exists(ctx context.Context, u objstore.URI) (bool, error) {
	_, err := s.head(ctx, "exists", u)
	if arkerrors.IsObjectNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Size implements objstore.Store.
func (s *Store) Size(ctx context.Context, u objstore.URI) (int64, error) {
	out, err := s.head(ctx, "size", u)
	if err != nil {
		return 0, err
	}
	return aws.ToInt64(out.ContentLength), nil
}

// Copy implements objstore.Store.
func (s *Store) Copy(ctx context.Context, src, dst objstore.URI, token string) (string, error) {
	if err := validate("copy", dst); err != nil {
		return "", err
	}

	var st *copyState
	if token == "" {
		size, err := s.Size(ctx, src)
		if err != nil {
			return "", err
		}
		if size <= s.threshold {
			return "", s.simpleCopy(ctx, src, dst)
		}
		uploadID, err := s.createMultipartUpload(ctx, dst)
		if err != nil {
			return "", err
		}
		st = &copyState{UploadID: uploadID, Size: size, PartSize: s.partSize, NextPart: 1}
	} else {
		var err error
		if st, err = decodeToken(token); err != nil {
			return "", arkerrors.NewObjectError("copy", dst.String(), err)
		}
	}

	numParts := calculateParts(st.Size, st.PartSize)
	for i := 0; i < s.partsPerStep && int(st.NextPart) <= numParts; i++ {
		etag, err := s.copyPart(ctx, src, dst, st)
		if err != nil {
			s.abortMultipartUpload(ctx, dst, st.UploadID)
			return "", err
		}
		st.ETags = append(st.ETags, etag)
		st.NextPart++
	}

	if int(st.NextPart) <= numParts {
		next, err := encodeToken(st)
		if err != nil {
			s.abortMultipartUpload(ctx, dst, st.UploadID)
			return "", arkerrors.NewObjectError("copy", dst.String(), err)
		}
		return next, nil
	}

	return "", s.completeMultipartUpload(ctx, dst, st)
}

// simpleCopy performs a single CopyObject
func (s *Store) simpleCopy(ctx context.Context, src, dst objstore.URI) error {
	copySource := src.Container + "/" + src.Path
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dst.Container),
		Key:        aws.String(dst.Path),
		CopySource: aws.String(copySource),
	})
	if err != nil {
		return convertError("copy", dst, err).WithMessage("failed to copy from " + copySource)
	}
	return nil
}

func calculateParts(size, partSize int64) int {
	if size == 0 {
		return 1
	}
	return int((size + partSize - 1) / partSize)
}

func (s *Store) createMultipartUpload(ctx context.Context, dst objstore.URI) (string, error) {
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(dst.Container),
		Key:    aws.String(dst.Path),
	})
	if err != nil {
		return "", convertError("createMultipartUpload", dst, err)
	}
	return aws.ToString(out.UploadId), nil
}

func (s *Store) copyPart(ctx context.Context, src, dst objstore.URI, st *copyState) (string, error) {
	offset := int64(st.NextPart-1) * st.PartSize
	size := st.PartSize
	if offset+size > st.Size {
		size = st.Size - offset
	}

	out, err := s.client.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
		Bucket:          aws.String(dst.Container),
		Key:             aws.String(dst.Path),
		CopySource:      aws.String(src.Container + "/" + src.Path),
		CopySourceRange: aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+size-1)),
		UploadId:        aws.String(st.UploadID),
		PartNumber:      aws.Int32(st.NextPart),
	})
	if err != nil {
		return "", convertError("copyPart", dst, err).
			WithMessage(fmt.Sprintf("failed to copy part %d", st.NextPart))
	}
	if out.CopyPartResult == nil {
		return "", arkerrors.NewObjectError("copyPart", dst.String(),
			fmt.Errorf("part %d returned no result", st.NextPart))
	}
	return aws.ToString(out.CopyPartResult.ETag), nil
}

func (s *Store) completeMultipartUpload(ctx context.Context, dst objstore.URI, st *copyState) error {
	parts := make([]awstypes.CompletedPart, len(st.ETags))
	for i, etag := range st.ETags {
		parts[i] = awstypes.CompletedPart{
			ETag:       aws.String(etag),
			PartNumber: aws.Int32(int32(i + 1)), //nolint:gosec // bounded by part count
		}
	}

	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(dst.Container),
		Key:             aws.String(dst.Path),
		UploadId:        aws.String(st.UploadID),
		MultipartUpload: &awstypes.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		s.abortMultipartUpload(ctx, dst, st.UploadID)
		return convertError("completeMultipartUpload", dst, err)
	}
	return nil
}

// abortMultipartUpload cleans up a failed multipart copy
func (s *Store) abortMultipartUpload(ctx context.Context, dst objstore.URI, uploadID string) {
	// Ignore errors during cleanup
	_, _ = s.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(dst.Container),
		Key:      aws.String(dst.Path),
		UploadId: aws.String(uploadID),
	})
}

// Delete implements objstore.Store.
func (s *Store) Delete(ctx context.Context, u objstore.URI) error {
	if err := validate("delete", u); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.Container),
		Key:    aws.String(u.Path),
	})
	if err != nil {
		return convertError("delete", u, err)
	}
	return nil
}

// Upload implements objstore.Store.
func (s *Store) Upload(ctx context.Context, u objstore.URI, data []byte, contentType string) error {
	if err := validate("upload", u); err != nil {
		return err
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(u.Container),
		Key:           aws.String(u.Path),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return convertError("upload", u, err)
	}
	return nil
}

// List implements objstore.Store.
func (s *Store) List(ctx context.Context, prefix objstore.URI) ([]objstore.ObjectInfo, error) {
	if err := validation.ValidateContainerName(prefix.Container); err != nil {
		return nil, arkerrors.NewObjectError("list", prefix.String(), err)
	}

	var out []objstore.ObjectInfo
	input := &s3.ListObjectsV2Input{Bucket: aws.String(prefix.Container)}
	if prefix.Path != "" {
		input.Prefix = aws.String(prefix.Path)
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, convertError("list", prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, objstore.ObjectInfo{
				URI:  objstore.URI{Scheme: prefix.Scheme, Container: prefix.Container, Path: aws.ToString(obj.Key)},
				Size: aws.ToInt64(obj.Size),
			})
		}
	}
	return out, nil
}
