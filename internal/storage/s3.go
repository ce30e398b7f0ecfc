package storage

import (
	"bytes"
	"context"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-materializer/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/xerrors"
)

// S3PutAPI is the part of the S3 client the store uses.
type S3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Options struct {
	Bucket string

	// PutsPerSecond paces PutObject calls. 0 means unlimited.
	PutsPerSecond float64
	Burst         int

	// CacheControl is set on every object when non-empty.
	CacheControl string
}

// S3 writes each file as an object keyed by its slash path. S3 has no
// directories, so EnsureDir only checks the context.
type S3 struct {
	client  S3PutAPI
	opts    S3Options
	limiter *rate.Limiter
}

func NewS3(client S3PutAPI, opts S3Options) (*S3, error) {
	if client == nil {
		return nil, xerrors.New("s3 client is required")
	}
	if opts.Bucket == "" {
		return nil, xerrors.New("s3 bucket is required")
	}
	limit := rate.Inf
	if opts.PutsPerSecond > 0 {
		limit = rate.Limit(opts.PutsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &S3{client: client, opts: opts, limiter: rate.NewLimiter(limit, burst)}, nil
}

func (s *S3) EnsureDir(ctx context.Context, dir string) error {
	return ctx.Err()
}

func (s *S3) WriteFile(ctx context.Context, name string, data []byte) error {
	key := objectKey(name)
	if key == "" {
		return xerrors.Newf("s3: empty object key for %q", name)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return xerrors.Wrapf(err, "s3 put %s: rate limit wait", key)
	}

	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.opts.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType(key)),
		Metadata:      map[string]string{"sha256": cryptoutil.SHA256Hex(data)},
	}
	if s.opts.CacheControl != "" {
		in.CacheControl = aws.String(s.opts.CacheControl)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return xerrors.Wrapf(err, "s3 put s3://%s/%s", s.opts.Bucket, key)
	}
	return nil
}

func objectKey(name string) string {
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

func contentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".md", ".markdown":
		return "text/markdown; charset=utf-8"
	}
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "text/plain; charset=utf-8"
}
