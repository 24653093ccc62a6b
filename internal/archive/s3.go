package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

const s3ObjectSuffix = ".msgpack"

// S3Client is the subset of the S3 API used by S3Store. *s3.Client satisfies it.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store is a Store on an S3 compatible bucket.
//
// Objects are named <prefix>/<record id>.msgpack.
type S3Store struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3 creates an S3 backed archive.
func NewS3(client S3Client, bucket, prefix string) (*S3Store, error) {
	if client == nil {
		return nil, fmt.Errorf("new s3 archive: nil client")
	}
	if bucket == "" {
		return nil, fmt.Errorf("new s3 archive: bucket is required")
	}

	return &S3Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (s *S3Store) key(id string) string {
	if s.prefix == "" {
		return id + s3ObjectSuffix
	}
	return s.prefix + "/" + id + s3ObjectSuffix
}

func (s *S3Store) listPrefix() string {
	if s.prefix == "" {
		return ""
	}
	return s.prefix + "/"
}

// Put uploads blob under a fresh record id.
func (s *S3Store) Put(ctx context.Context, blob []byte) (Record, error) {
	id, err := newRecordID()
	if err != nil {
		return Record{}, fmt.Errorf("s3 put: %w", err)
	}
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(id)),
		Body:          bytes.NewReader(blob),
		ContentLength: aws.Int64(int64(len(blob))),
		ContentType:   aws.String("application/msgpack"),
	}); err != nil {
		return Record{}, fmt.Errorf("s3 put %s: %w", id, err)
	}

	createdAt, _ := recordTime(id)
	return Record{ID: id, CreatedAt: createdAt, Size: int64(len(blob))}, nil
}

// Get downloads one blob.
func (s *S3Store) Get(ctx context.Context, id string) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("s3 get %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("s3 get %s: %w", id, err)
	}
	defer out.Body.Close()

	blob, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 get %s read body: %w", id, err)
	}

	return blob, nil
}

// Latest lists the bucket prefix and downloads the newest record.
func (s *S3Store) Latest(ctx context.Context) (Record, []byte, error) {
	records, err := s.List(ctx)
	if err != nil {
		return Record{}, nil, fmt.Errorf("s3 latest: %w", err)
	}
	if len(records) == 0 {
		return Record{}, nil, fmt.Errorf("s3 latest: %w", ErrNotFound)
	}
	blob, err := s.Get(ctx, records[0].ID)
	if err != nil {
		return Record{}, nil, fmt.Errorf("s3 latest: %w", err)
	}

	return records[0], blob, nil
}

// List pages through every object under the prefix, newest first.
func (s *S3Store) List(ctx context.Context) ([]Record, error) {
	var (
		records []Record
		token   *string
	)
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.listPrefix()),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 list: %w", err)
		}
		for _, object := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(object.Key), s.listPrefix())
			id, ok := strings.CutSuffix(name, s3ObjectSuffix)
			if !ok || strings.Contains(id, "/") {
				continue
			}
			createdAt, err := recordTime(id)
			if err != nil {
				continue
			}
			records = append(records, Record{ID: id, CreatedAt: createdAt, Size: aws.ToInt64(object.Size)})
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	sortNewestFirst(records)

	return records, nil
}

// Close is a no-op; the S3 client holds no per-store resources.
func (s *S3Store) Close() error {
	return nil
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
