package blobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Identifier is the backend_type tag for S3-compatible storage.
const S3Identifier = "s3"

type s3Locator struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// S3Options configures access to an S3-compatible endpoint such as
// garage or MinIO.
type S3Options struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// s3Uploader is the slice of manager.Uploader the backend needs. Tests
// substitute a fake so no network is involved.
type s3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type s3ObjectAPI interface {
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 stores blobs as objects in a single bucket. Uploads are streamed:
// request bytes go through a pipe into a multipart upload, so blobs of
// any size pass through without buffering on disk.
type S3 struct {
	client   s3ObjectAPI
	uploader s3Uploader
	bucket   string
	logger   *slog.Logger
}

// NewS3 builds the backend from static credentials, the usual setup for
// self-hosted S3-compatible stores.
func NewS3(ctx context.Context, opts S3Options, logger *slog.Logger) (*S3, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKeyID, opts.SecretAccessKey, "")))
	if err != nil {
		return nil, fmt.Errorf("cannot load S3 credentials: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		// garage and MinIO route buckets by path, not by subdomain.
		o.UsePathStyle = true
	})
	return &S3{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		logger:   logger,
	}, nil
}

func (b *S3) Identifier() string {
	return S3Identifier
}

func (b *S3) BeginWrite(ctx context.Context, init UploadInit) (WriteHandle, string, error) {
	key := init.FileName
	if key == "" {
		key = blobName(init)
	}
	locator, err := json.Marshal(s3Locator{Bucket: b.bucket, Key: key})
	if err != nil {
		return nil, "", fmt.Errorf("cannot encode locator: %w", err)
	}

	pr, pw := io.Pipe()
	h := &s3WriteHandle{pw: pw, done: make(chan struct{})}

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   pr,
	}
	if init.MimeType != "" {
		input.ContentType = aws.String(init.MimeType)
	}
	go func() {
		_, err := b.uploader.Upload(ctx, input)
		h.uploadErr = err
		// Unblock a writer still pushing bytes into a failed upload.
		pr.CloseWithError(err)
		close(h.done)
	}()

	return h, string(locator), nil
}

func (b *S3) OpenRead(ctx context.Context, locator string) (io.ReadCloser, error) {
	loc, err := decodeS3Locator(locator)
	if err != nil {
		return nil, err
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("cannot get object %s/%s: %w", loc.Bucket, loc.Key, err)
	}
	return out.Body, nil
}

func (b *S3) Delete(ctx context.Context, locator string) error {
	loc, err := decodeS3Locator(locator)
	if err != nil {
		return err
	}
	// DeleteObject succeeds for absent keys, which is exactly the
	// idempotency the sweeper needs.
	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	}); err != nil {
		return fmt.Errorf("cannot delete object %s/%s: %w", loc.Bucket, loc.Key, err)
	}
	return nil
}

func decodeS3Locator(locator string) (s3Locator, error) {
	var loc s3Locator
	if err := json.Unmarshal([]byte(locator), &loc); err != nil {
		return loc, fmt.Errorf("cannot decode S3 locator: %w", err)
	}
	return loc, nil
}

type s3WriteHandle struct {
	pw        *io.PipeWriter
	done      chan struct{}
	uploadErr error

	abortOnce sync.Once
}

func (h *s3WriteHandle) Write(p []byte) (int, error) {
	// Fail fast once the upload goroutine has ended, instead of feeding
	// the rest of a large request into a dead pipe.
	select {
	case <-h.done:
		if h.uploadErr != nil {
			return 0, fmt.Errorf("upload already failed: %w", h.uploadErr)
		}
		return 0, io.ErrClosedPipe
	default:
	}
	return h.pw.Write(p)
}

func (h *s3WriteHandle) Finish(ctx context.Context) (string, error) {
	if err := h.pw.Close(); err != nil {
		return "", fmt.Errorf("cannot close upload pipe: %w", err)
	}
	select {
	case <-h.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if h.uploadErr != nil {
		return "", fmt.Errorf("upload failed: %w", h.uploadErr)
	}
	return "", nil
}

func (h *s3WriteHandle) Abort() {
	h.abortOnce.Do(func() {
		h.pw.CloseWithError(context.Canceled)
		<-h.done
	})
}
