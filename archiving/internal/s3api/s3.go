// Package s3api names the subset of the S3 client the object store calls,
// so tests can substitute a mock.
package s3api

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type opts = func(*s3.Options)

// Objects covers single-object reads and writes plus listing.
type Objects interface {
	HeadObject(context.Context, *s3.HeadObjectInput, ...opts) (*s3.HeadObjectOutput, error)
	PutObject(context.Context, *s3.PutObjectInput, ...opts) (*s3.PutObjectOutput, error)
	DeleteObject(context.Context, *s3.DeleteObjectInput, ...opts) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(context.Context, *s3.ListObjectsV2Input, ...opts) (*s3.ListObjectsV2Output, error)
}

// Copier covers server-side copies. Objects above the multipart threshold
// are copied part by part with UploadPartCopy so a copy can resume.
type Copier interface {
	CopyObject(context.Context, *s3.CopyObjectInput, ...opts) (*s3.CopyObjectOutput, error)
	CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...opts) (*s3.CreateMultipartUploadOutput, error)
	UploadPartCopy(context.Context, *s3.UploadPartCopyInput, ...opts) (*s3.UploadPartCopyOutput, error)
	CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...opts) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...opts) (*s3.AbortMultipartUploadOutput, error)
}

// S3API is everything the object store needs from an S3 client.
type S3API interface {
	Objects
	Copier
}

var _ S3API = (*s3.Client)(nil)
