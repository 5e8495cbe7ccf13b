package main

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/checks"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/healthhttp"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/log"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

// loadedChecks is the startup result of reading the checks source.
type loadedChecks struct {
	set      *checks.Set
	source   checks.Source
	verified bool
}

// loadChecks reads and validates the configured checks. AWS clients are
// only built for remote sources or when a signing key is configured, so a
// local file never needs credentials.
func loadChecks(ctx context.Context, L log.Logger, conf cfg.App) (loadedChecks, error) {
	src, err := checks.ParseSource(conf.Checks)
	if err != nil {
		return loadedChecks{}, err
	}

	opts := checks.SourceOptions{Logger: L}
	if src.Remote() || conf.ChecksSigningKeyARN != "" {
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return loadedChecks{}, xerrors.Wrap(err, "failed to load AWS config")
		}
		switch src.Kind {
		case checks.SourceS3:
			opts.S3 = s3.NewFromConfig(awsCfg)
		case checks.SourceSSM:
			opts.SSM = ssm.NewFromConfig(awsCfg)
		}
		if conf.ChecksSigningKeyARN != "" {
			opts.Verifier = cryptoutil.NewKMSVerifier(kms.NewFromConfig(awsCfg), conf.ChecksSigningKeyARN)
		}
	}

	return loadChecksWith(ctx, src, conf.HealthChecksPath, opts)
}

func loadChecksWith(ctx context.Context, src checks.Source, route string, opts checks.SourceOptions) (loadedChecks, error) {
	set, err := checks.Load(ctx, src.String(), opts)
	if err != nil {
		return loadedChecks{}, err
	}
	if err := healthhttp.CheckNoSelfReference(set, route); err != nil {
		return loadedChecks{}, err
	}
	return loadedChecks{
		set:      set,
		source:   src,
		verified: src.Kind == checks.SourceS3 && opts.Verifier != nil,
	}, nil
}
