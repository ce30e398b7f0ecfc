package bundle

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-materializer/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/log"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/manifest"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/xerrors"
)

var (
	ErrChecksumMismatch = errors.New("bundle checksum mismatch")
	ErrSignature        = errors.New("bundle signature invalid")
	ErrTooLarge         = errors.New("bundle exceeds max size")
)

// SSMAPI is the part of the SSM client the loader uses.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// S3GetAPI is the part of the S3 client the loader uses.
type S3GetAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Verifier checks a detached signature over the bundle bytes.
// Implemented by cryptoutil.KMSVerifier.
type Verifier interface {
	VerifySignature(ctx context.Context, message, signature []byte) error
}

type LoaderOptions struct {
	Logger log.Logger

	// SSM parameter holding the current bundle SHA-256
	SSMParam string

	// bundles live at s3://{S3Bucket}/{S3Prefix}/{hash}.tar.gz
	S3Bucket string
	S3Prefix string

	SSMClient SSMAPI
	S3Client  S3GetAPI

	// Verifier, when set, requires {hash}.tar.gz.sig next to every bundle.
	Verifier Verifier

	// MaxBundleSize bounds the compressed download. Zero uses DefaultMaxBundleSize.
	MaxBundleSize int64
}

type Loader struct {
	opts   LoaderOptions
	logger log.Logger
}

func NewLoader(opts LoaderOptions) (*Loader, error) {
	var errs []error
	if opts.SSMParam == "" {
		errs = append(errs, xerrors.New("SSMParam is required"))
	}
	if opts.S3Bucket == "" {
		errs = append(errs, xerrors.New("S3Bucket is required"))
	}
	if opts.SSMClient == nil {
		errs = append(errs, xerrors.New("SSMClient is required"))
	}
	if opts.S3Client == nil {
		errs = append(errs, xerrors.New("S3Client is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.MaxBundleSize <= 0 {
		opts.MaxBundleSize = DefaultMaxBundleSize
	}
	opts.S3Prefix = strings.Trim(opts.S3Prefix, "/")
	return &Loader{opts: opts, logger: opts.Logger}, nil
}

// FetchCurrentHash reads the release pointer from SSM.
func (l *Loader) FetchCurrentHash(ctx context.Context) (string, error) {
	out, err := l.opts.SSMClient.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(l.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", l.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", l.opts.SSMParam)
	}

	hash := strings.ToLower(strings.TrimSpace(*out.Parameter.Value))
	if hash == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", l.opts.SSMParam)
	}
	if !cryptoutil.IsSHA256Hex(hash) {
		return "", xerrors.Newf("SSM parameter %s is not a sha256 hex digest", l.opts.SSMParam)
	}
	return hash, nil
}

func (l *Loader) s3Key(hash string) string {
	if l.opts.S3Prefix != "" {
		return l.opts.S3Prefix + "/" + hash + ".tar.gz"
	}
	return hash + ".tar.gz"
}

// Load fetches the current release pointer and loads that bundle.
func (l *Loader) Load(ctx context.Context) (*manifest.Manifest, error) {
	hash, err := l.FetchCurrentHash(ctx)
	if err != nil {
		return nil, err
	}
	return l.LoadHash(ctx, hash)
}

// LoadHash downloads, verifies and unpacks the bundle with the given hash.
func (l *Loader) LoadHash(ctx context.Context, hash string) (*manifest.Manifest, error) {
	if !cryptoutil.IsSHA256Hex(hash) {
		return nil, xerrors.Newf("invalid bundle hash %q", hash)
	}
	key := l.s3Key(hash)
	location := "s3://" + l.opts.S3Bucket + "/" + key

	l.logger.Info(ctx, "downloading manifest bundle", "location", location)

	data, actual, err := l.get(ctx, key, l.opts.MaxBundleSize)
	if err != nil {
		return nil, err
	}
	// always compare through HashEqual even for non-secret values
	if !cryptoutil.HashEqual(actual, hash) {
		return nil, xerrors.Newf("%w: expected %s, got %s", ErrChecksumMismatch, hash, actual)
	}

	if l.opts.Verifier != nil {
		sig, _, err := l.get(ctx, key+".sig", maxSignatureSize)
		if err != nil {
			return nil, xerrors.Wrap(err, "fetch bundle signature")
		}
		if err := l.opts.Verifier.VerifySignature(ctx, data, sig); err != nil {
			return nil, xerrors.Newf("%w: %w", ErrSignature, err)
		}
		l.logger.Info(ctx, "bundle signature verified", "hash", hash)
	}

	fsys, err := extractTarGz(data)
	if err != nil {
		return nil, xerrors.Wrap(err, "extract bundle")
	}
	m, err := manifest.ReadFS(fsys)
	if err != nil {
		return nil, xerrors.Wrapf(err, "bundle %s", hash)
	}
	m.Meta.Source = manifest.SourceBundle
	m.Meta.Location = location
	m.Meta.SHA256 = hash
	m.Meta.LoadedAt = time.Now().UTC()

	l.logger.Info(ctx, "loaded manifest bundle",
		"hash", hash,
		"bytes", len(data),
		"entries", m.Len(),
	)
	return m, nil
}

func (l *Loader) get(ctx context.Context, key string, limit int64) ([]byte, string, error) {
	out, err := l.opts.S3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.opts.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", xerrors.Wrapf(err, "get S3 object s3://%s/%s", l.opts.S3Bucket, key)
	}
	defer out.Body.Close()

	if n := aws.ToInt64(out.ContentLength); n > limit {
		return nil, "", xerrors.Newf("%w: s3://%s/%s is %d bytes (limit %d)", ErrTooLarge, l.opts.S3Bucket, key, n, limit)
	}
	data, sum, err := readWithHash(out.Body, limit)
	if err != nil {
		return nil, "", xerrors.Wrapf(err, "download s3://%s/%s", l.opts.S3Bucket, key)
	}
	return data, sum, nil
}
