package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Object metadata keys. S3 returns user metadata keys lower-cased.
const (
	metaFileName  = "file-name"
	metaPatientID = "patient-id"
	metaCategory  = "category"
	metaCreatedBy = "created-by"
	metaHash      = "sha256"
	metaCreatedAt = "created-at"
)

// S3Store keeps blobs as objects under prefix in a single bucket. Blob
// metadata travels as object user metadata so no side table is needed.
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Client builds an S3 client from the default AWS credential chain.
// A non-empty endpoint selects an S3-compatible service with path-style
// addressing.
func NewS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func NewS3Store(client S3API, bucket, prefix string) *S3Store {
	if prefix == "" {
		prefix = "documents/"
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(id string) string {
	return s.prefix + id
}

func (s *S3Store) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	if err := validate(&meta); err != nil {
		return nil, err
	}
	data, err := readContent(&meta, content)
	if err != nil {
		return nil, err
	}
	meta.ID = uuid.New().String()
	meta.CreatedAt = time.Now().UTC()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(meta.ID)),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(meta.ContentType),
		ContentLength: aws.Int64(meta.Size),
		Metadata: map[string]string{
			metaFileName:  meta.FileName,
			metaPatientID: meta.PatientID,
			metaCategory:  meta.Category,
			metaCreatedBy: meta.CreatedBy,
			metaHash:      meta.Hash,
			metaCreatedAt: meta.CreatedAt.Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("s3 put %s: %w", meta.ID, err)
	}
	out := meta
	return &out, nil
}

func (s *S3Store) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return nil, nil, translateS3Error(id, err)
	}
	meta := metadataFromObject(id, out.Metadata, out.ContentType, out.ContentLength)
	return out.Body, meta, nil
}

func (s *S3Store) GetMetadata(ctx context.Context, id string) (*BlobMetadata, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return nil, translateS3Error(id, err)
	}
	return metadataFromObject(id, out.Metadata, out.ContentType, out.ContentLength), nil
}

// Delete removes the object. S3 deletes are idempotent, so existence is
// checked first to report ErrBlobNotFound consistently with the memory store.
func (s *S3Store) Delete(ctx context.Context, id string) error {
	if _, err := s.GetMetadata(ctx, id); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", id, err)
	}
	return nil
}

func translateS3Error(id string, err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return ErrBlobNotFound
	}
	return fmt.Errorf("s3 get %s: %w", id, err)
}

func metadataFromObject(id string, m map[string]string, contentType *string, length *int64) *BlobMetadata {
	meta := &BlobMetadata{
		ID:          id,
		FileName:    m[metaFileName],
		ContentType: aws.ToString(contentType),
		Size:        aws.ToInt64(length),
		PatientID:   m[metaPatientID],
		Category:    m[metaCategory],
		CreatedBy:   m[metaCreatedBy],
		Hash:        m[metaHash],
	}
	if ts, err := time.Parse(time.RFC3339Nano, m[metaCreatedAt]); err == nil {
		meta.CreatedAt = ts
	}
	return meta
}
