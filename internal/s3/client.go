package s3

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3Types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"dataferry/internal/storage"
)

// Options selects the bucket and how to reach it.
type Options struct {
	Region       string
	Bucket       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	SessionToken string
}

// Client implements storage.ObjectStore on top of the AWS SDK.
type Client struct {
	api    API
	bucket string
}

func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("no bucket configured")
	}

	loaders := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, opts.SessionToken)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(endpointURL(opts.Endpoint))
			o.UsePathStyle = true
		}
	})

	return NewClientWithAPI(s3Client, opts.Bucket), nil
}

// NewClientWithAPI wraps an existing API implementation.
func NewClientWithAPI(api API, bucket string) *Client {
	return &Client{api: api, bucket: bucket}
}

// Factory returns a storage.Factory that opens a new client per call.
func Factory(opts Options) storage.Factory {
	return func(ctx context.Context) (storage.ObjectStore, error) {
		return NewClient(ctx, opts)
	}
}

func (c *Client) PutObject(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) (*storage.ObjectInfo, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	out, err := c.api.PutObject(ctx, input)
	if err != nil {
		return nil, classify("put_object", key, err)
	}

	return &storage.ObjectInfo{
		Key:         key,
		Size:        size,
		ETag:        trimETag(out.ETag),
		ContentType: contentType,
	}, nil
}

func (c *Client) HeadObject(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify("head_object", key, err)
	}

	return &storage.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ETag:         trimETag(out.ETag),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

func (c *Client) ListObjects(ctx context.Context, prefix string, maxKeys int32) ([]storage.ObjectInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}
	if maxKeys > 0 {
		input.MaxKeys = aws.Int32(maxKeys)
	}

	out, err := c.api.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, classify("list_objects", prefix, err)
	}

	objects := make([]storage.ObjectInfo, 0, len(out.Contents))
	for _, o := range out.Contents {
		objects = append(objects, storage.ObjectInfo{
			Key:          aws.ToString(o.Key),
			Size:         aws.ToInt64(o.Size),
			ETag:         trimETag(o.ETag),
			LastModified: aws.ToTime(o.LastModified),
		})
	}
	return objects, nil
}

// GetObject streams the object body; the caller closes it.
func (c *Client) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify("get_object", key, err)
	}
	return out.Body, nil
}

// CreateMultipartUpload opens a session whose parts carry CRC32 checksums.
func (c *Client) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket:            aws.String(c.bucket),
		Key:               aws.String(key),
		ChecksumAlgorithm: s3Types.ChecksumAlgorithmCrc32,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	out, err := c.api.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", classify("create_multipart_upload", key, err)
	}

	return aws.ToString(out.UploadId), nil
}

// ListMultipartUploads returns the open sessions for exactly key.
func (c *Client) ListMultipartUploads(ctx context.Context, key string) ([]storage.MultipartUpload, error) {
	input := &s3.ListMultipartUploadsInput{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(key),
	}

	var uploads []storage.MultipartUpload
	for {
		out, err := c.api.ListMultipartUploads(ctx, input)
		if err != nil {
			return nil, classify("list_multipart_uploads", key, err)
		}

		for _, u := range out.Uploads {
			if aws.ToString(u.Key) != key {
				continue
			}
			uploads = append(uploads, storage.MultipartUpload{
				Key:       key,
				UploadID:  aws.ToString(u.UploadId),
				Initiated: aws.ToTime(u.Initiated),
			})
		}

		if !aws.ToBool(out.IsTruncated) {
			return uploads, nil
		}
		input.KeyMarker = out.NextKeyMarker
		input.UploadIdMarker = out.NextUploadIdMarker
	}
}

func (c *Client) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.ReadSeeker, size int64) (*storage.Part, error) {
	out, err := c.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:            aws.String(c.bucket),
		Key:               aws.String(key),
		UploadId:          aws.String(uploadID),
		PartNumber:        aws.Int32(partNumber),
		Body:              body,
		ContentLength:     aws.Int64(size),
		ChecksumAlgorithm: s3Types.ChecksumAlgorithmCrc32,
	})
	if err != nil {
		return nil, classify("upload_part", key, err)
	}

	return &storage.Part{
		Number:   partNumber,
		Size:     size,
		ETag:     trimETag(out.ETag),
		Checksum: aws.ToString(out.ChecksumCRC32),
	}, nil
}

// ListParts returns every part the store has confirmed for the session.
func (c *Client) ListParts(ctx context.Context, key, uploadID string) ([]storage.Part, error) {
	input := &s3.ListPartsInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	}

	var parts []storage.Part
	for {
		out, err := c.api.ListParts(ctx, input)
		if err != nil {
			return nil, classify("list_parts", key, err)
		}

		for _, p := range out.Parts {
			parts = append(parts, storage.Part{
				Number:   aws.ToInt32(p.PartNumber),
				Size:     aws.ToInt64(p.Size),
				ETag:     trimETag(p.ETag),
				Checksum: aws.ToString(p.ChecksumCRC32),
			})
		}

		if !aws.ToBool(out.IsTruncated) {
			return parts, nil
		}
		input.PartNumberMarker = out.NextPartNumberMarker
	}
}

func (c *Client) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []storage.Part) (*storage.ObjectInfo, error) {
	completedParts := make([]s3Types.CompletedPart, len(parts))
	for i, part := range parts {
		completedParts[i] = s3Types.CompletedPart{
			ETag:       aws.String(quoteETag(part.ETag)),
			PartNumber: aws.Int32(part.Number),
		}
		if part.Checksum != "" {
			completedParts[i].ChecksumCRC32 = aws.String(part.Checksum)
		}
	}

	out, err := c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &s3Types.CompletedMultipartUpload{
			Parts: completedParts,
		},
	})
	if err != nil {
		return nil, classify("complete_multipart_upload", key, err)
	}

	var size int64
	for _, p := range parts {
		size += p.Size
	}
	return &storage.ObjectInfo{Key: key, Size: size, ETag: trimETag(out.ETag)}, nil
}

func (c *Client) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	_, err := c.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	return classify("abort_multipart_upload", key, err)
}

func trimETag(etag *string) string {
	return strings.Trim(aws.ToString(etag), `"`)
}

func quoteETag(etag string) string {
	if etag == "" || strings.HasPrefix(etag, `"`) {
		return etag
	}
	return `"` + etag + `"`
}

// endpointURL adds a scheme to bare host endpoints.
func endpointURL(endpoint string) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	return "https://" + endpoint
}
