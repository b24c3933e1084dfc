package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/oszuidwest/zwfm-screenrec/internal/media"
	"github.com/oszuidwest/zwfm-screenrec/internal/types"
)

// DefaultUploadTimeout bounds a single upload.
const DefaultUploadTimeout = 5 * time.Minute

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint        string `json:"endpoint,omitempty" toml:"endpoint"`                   // Custom S3 endpoint (empty for AWS)
	Region          string `json:"region,omitempty" toml:"region"`                       // Region (default "auto")
	Bucket          string `json:"bucket,omitempty" toml:"bucket"`                       // S3 bucket name
	Prefix          string `json:"prefix,omitempty" toml:"prefix"`                       // Key prefix (default "recordings")
	AccessKeyID     string `json:"access_key_id,omitempty" toml:"access_key_id"`         // Access key ID
	SecretAccessKey string `json:"secret_access_key,omitempty" toml:"secret_access_key"` // Secret access key
}

// IsConfigured returns true if S3 settings are configured.
func (c *S3Config) IsConfigured() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// putObjectAPI is the part of the S3 client used for uploads.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader uploads recordings to an S3-compatible bucket.
type S3Uploader struct {
	client  putObjectAPI
	bucket  string
	prefix  string
	timeout time.Duration
}

// NewS3Uploader creates an uploader for cfg.
func NewS3Uploader(cfg *S3Config) (*S3Uploader, error) {
	if !cfg.IsConfigured() {
		return nil, fmt.Errorf("S3 is not configured")
	}
	client, err := createS3Client(cfg)
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "recordings"
	}
	return &S3Uploader{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  prefix,
		timeout: DefaultUploadTimeout,
	}, nil
}

// createS3Client creates an S3 client with the given configuration.
func createS3Client(cfg *S3Config) (*s3.Client, error) {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = region
		},
	}

	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...), nil
}

// ObjectKey returns the key a recording is stored under.
func (u *S3Uploader) ObjectKey(userID, filename string) string {
	return path.Join(u.prefix, sanitizeFilename(userID), filename)
}

// Upload puts blob into the bucket, reporting progress as bytes are read.
func (u *S3Uploader) Upload(ctx context.Context, userID string, blob media.Blob, filename string, onProgress func(Progress)) error {
	ctx, cancel := context.WithTimeoutCause(ctx, u.timeout, errors.New("s3 upload timeout"))
	defer cancel()

	key := u.ObjectKey(userID, filename)
	body := newProgressReader(blob.Data, onProgress)

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(blob.Size()),
		ContentType:   aws.String(blob.MIMEType),
	})
	if err != nil {
		slog.Error("upload failed", "s3_key", key, "error", err)
		return uploadError(ctx, err)
	}

	body.finish()
	slog.Info("upload completed", "s3_key", key, "bytes", blob.Size())
	return nil
}

// uploadError classifies an S3 failure, keeping the provider code.
func uploadError(ctx context.Context, err error) error {
	re := &types.RecordingError{Class: types.ClassUpload, Err: err, Message: err.Error()}
	var apiErr smithy.APIError
	switch {
	case errors.As(err, &apiErr):
		re.Code = apiErr.ErrorCode()
		re.Message = apiErr.ErrorMessage()
	case ctx.Err() != nil:
		re.Code = "Timeout"
		re.Message = context.Cause(ctx).Error()
	default:
		re.Code = "NetworkError"
	}
	return re
}

// progressReader reports read progress over an in-memory body. Seeking back
// to the start (the SDK does so when it retries or signs the payload)
// restarts the count.
type progressReader struct {
	mu         sync.Mutex
	r          *bytes.Reader
	total      int64
	onProgress func(Progress)
	lastPct    int
	done       bool
}

func newProgressReader(data []byte, onProgress func(Progress)) *progressReader {
	return &progressReader{
		r:          bytes.NewReader(data),
		total:      int64(len(data)),
		onProgress: onProgress,
		lastPct:    -1,
	}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.report()
	}
	return n, err
}

func (p *progressReader) Seek(offset int64, whence int) (int64, error) {
	return p.r.Seek(offset, whence)
}

func (p *progressReader) report() {
	p.mu.Lock()
	sent := p.total - int64(p.r.Len())
	pct := 100
	if p.total > 0 {
		pct = int(sent * 100 / p.total)
	}
	// Hold 100% back until the request succeeds.
	if pct >= 100 || pct == p.lastPct || p.onProgress == nil {
		p.mu.Unlock()
		return
	}
	p.lastPct = pct
	fn := p.onProgress
	total := p.total
	p.mu.Unlock()

	fn(Progress{Percent: float64(pct), Sent: sent, Total: total})
}

// finish reports completion once.
func (p *progressReader) finish() {
	p.mu.Lock()
	if p.done || p.onProgress == nil {
		p.mu.Unlock()
		return
	}
	p.done = true
	fn := p.onProgress
	total := p.total
	p.mu.Unlock()

	fn(Progress{Percent: 100, Sent: total, Total: total})
}

var _ io.ReadSeeker = (*progressReader)(nil)

// sanitizeFilename removes or replaces characters that are invalid in filenames.
func sanitizeFilename(name string) string {
	result := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.' || c == '@' {
			result = append(result, c)
		} else if c == ' ' {
			result = append(result, '-')
		}
	}
	if len(result) == 0 || string(result) == "." || string(result) == ".." {
		return "user"
	}
	return string(result)
}
