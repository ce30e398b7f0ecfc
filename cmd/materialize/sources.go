package main

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-materializer/internal/bundle"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/log"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/manifest"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/materialize"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/seed"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/storage"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/xerrors"
)

// newStore picks the output: memory for dry runs, S3 when a bucket is set,
// the local disk otherwise.
func newStore(conf cfg.App, awsCfg *aws.Config) (materialize.Store, error) {
	switch {
	case conf.DryRun:
		return storage.NewMem(), nil
	case conf.OutputS3Bucket != "":
		if awsCfg == nil {
			return nil, xerrors.New("S3 output requires AWS config")
		}
		return storage.NewS3(s3.NewFromConfig(*awsCfg), storage.S3Options{
			Bucket:        conf.OutputS3Bucket,
			PutsPerSecond: conf.S3PutRate,
			Burst:         conf.Concurrency,
		})
	default:
		return storage.NewDisk(), nil
	}
}

func newBundleLoader(conf cfg.App, awsCfg aws.Config, L log.Logger) (*bundle.Loader, error) {
	opts := bundle.LoaderOptions{
		Logger:    L,
		SSMParam:  conf.ManifestSSMParam,
		S3Bucket:  conf.ManifestS3Bucket,
		S3Prefix:  conf.ManifestS3Prefix,
		SSMClient: ssm.NewFromConfig(awsCfg),
		S3Client:  s3.NewFromConfig(awsCfg),
	}
	if conf.ManifestSigningKeyARN != "" {
		v := cryptoutil.NewKMSVerifier(kms.NewFromConfig(awsCfg), conf.ManifestSigningKeyARN)
		L.Info(context.Background(), "bundle signature verification enabled", "key_arn", v.KeyARN())
		opts.Verifier = v
	}
	return bundle.NewLoader(opts)
}

// loadManifest resolves the manifest source in order: bundle, path, seed.
func loadManifest(ctx context.Context, conf cfg.App, loader *bundle.Loader) (*manifest.Manifest, error) {
	switch {
	case conf.UsesBundle():
		if loader == nil {
			return nil, xerrors.New("bundle source configured without a loader")
		}
		return loader.Load(ctx)
	case conf.Manifest != "":
		return manifest.LoadPath(conf.Manifest)
	default:
		return seed.Manifest()
	}
}
