package checks

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/log"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

// DefaultMaxSourceBytes caps how much of a remote checks file is read.
const DefaultMaxSourceBytes = 1 << 20

// SignatureSuffix is appended to an S3 key to find its detached signature.
const SignatureSuffix = ".sig"

// SourceKind identifies where a checks file is read from.
type SourceKind string

const (
	SourceFile SourceKind = "file"
	SourceS3   SourceKind = "s3"
	SourceSSM  SourceKind = "ssm"
)

// ObjectGetter is the subset of the S3 API used to fetch checks files.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ParameterGetter is the subset of the SSM API used to fetch checks stored in a parameter.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SignatureVerifier checks a detached signature over the raw checks bytes.
type SignatureVerifier interface {
	VerifySignature(ctx context.Context, message, signature []byte) error
}

type SourceOptions struct {
	Logger   log.Logger
	S3       ObjectGetter
	SSM      ParameterGetter
	Verifier SignatureVerifier
	MaxBytes int64
}

// Source is a parsed checks location.
type Source struct {
	Kind   SourceKind
	Bucket string // s3 only
	Key    string // s3 key, ssm parameter name, or file path
}

func (s Source) String() string {
	switch s.Kind {
	case SourceS3:
		return "s3://" + s.Bucket + "/" + s.Key
	case SourceSSM:
		return "ssm:" + s.Key
	default:
		return s.Key
	}
}

// ParseSource understands /local/path, file:///path, s3://bucket/key and ssm:/name.
func ParseSource(raw string) (Source, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return Source{}, &ConfigError{Reason: "checks source is required"}
	case strings.HasPrefix(raw, "s3://"):
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || strings.Trim(u.Path, "/") == "" {
			return Source{}, &ConfigError{Source: raw, Reason: "s3 source must be s3://bucket/key"}
		}
		return Source{Kind: SourceS3, Bucket: u.Host, Key: strings.TrimPrefix(u.Path, "/")}, nil
	case strings.HasPrefix(raw, "ssm:"):
		name := strings.TrimPrefix(raw, "ssm:")
		if strings.Trim(name, "/") == "" {
			return Source{}, &ConfigError{Source: raw, Reason: "ssm source must name a parameter"}
		}
		return Source{Kind: SourceSSM, Key: name}, nil
	case strings.HasPrefix(raw, "file://"):
		u, err := url.Parse(raw)
		if err != nil || u.Path == "" {
			return Source{}, &ConfigError{Source: raw, Reason: "file source must be file:///path"}
		}
		return Source{Kind: SourceFile, Key: u.Path}, nil
	default:
		return Source{Kind: SourceFile, Key: raw}, nil
	}
}

// Remote reports whether loading needs AWS clients.
func (s Source) Remote() bool { return s.Kind == SourceS3 || s.Kind == SourceSSM }

// Load reads and parses the checks file named by raw.
func Load(ctx context.Context, raw string, opts SourceOptions) (*Set, error) {
	src, err := ParseSource(raw)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxSourceBytes
	}

	var data []byte
	switch src.Kind {
	case SourceFile:
		if opts.Verifier != nil {
			opts.Logger.Warn(ctx, "file checks source has no detached signature, loading unverified", "source", src.String())
		}
		return ParseFile(src.Key)
	case SourceS3:
		data, err = loadS3(ctx, src, opts)
	case SourceSSM:
		if opts.Verifier != nil {
			opts.Logger.Warn(ctx, "ssm checks source has no detached signature, loading unverified", "source", src.String())
		}
		data, err = loadSSM(ctx, src, opts)
	}
	if err != nil {
		return nil, &ConfigError{Source: src.String(), Reason: err.Error(), Err: err}
	}

	set, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, withSource(err, src.String())
	}
	opts.Logger.Info(ctx, "loaded checks", "source", src.String(), "checks", set.Len(), "bytes", len(data))
	return set, nil
}

func loadS3(ctx context.Context, src Source, opts SourceOptions) ([]byte, error) {
	if opts.S3 == nil {
		return nil, xerrors.New("s3 client is not configured")
	}
	data, err := getObject(ctx, opts.S3, src.Bucket, src.Key, opts.MaxBytes)
	if err != nil {
		return nil, err
	}
	if opts.Verifier == nil {
		return data, nil
	}

	sigKey := src.Key + SignatureSuffix
	sig, err := getObject(ctx, opts.S3, src.Bucket, sigKey, 64*1024)
	if err != nil {
		return nil, xerrors.Wrap(err, "fetch checks signature")
	}
	if err := opts.Verifier.VerifySignature(ctx, data, decodeSignature(sig)); err != nil {
		return nil, xerrors.Wrapf(err, "verify signature s3://%s/%s", src.Bucket, sigKey)
	}
	opts.Logger.Info(ctx, "verified checks signature", "source", src.String())
	return data, nil
}

func getObject(ctx context.Context, c ObjectGetter, bucket, key string, max int64) ([]byte, error) {
	out, err := c.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get S3 object s3://%s/%s", bucket, key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, max+1))
	if err != nil {
		return nil, xerrors.Wrapf(err, "read S3 object s3://%s/%s", bucket, key)
	}
	if int64(len(data)) > max {
		return nil, xerrors.Newf("S3 object s3://%s/%s exceeds %d bytes", bucket, key, max)
	}
	return data, nil
}

func loadSSM(ctx context.Context, src Source, opts SourceOptions) ([]byte, error) {
	if opts.SSM == nil {
		return nil, xerrors.New("ssm client is not configured")
	}
	out, err := opts.SSM.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(src.Key),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get SSM parameter %s", src.Key)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, xerrors.Newf("SSM parameter %s has no value", src.Key)
	}
	v := *out.Parameter.Value
	if int64(len(v)) > opts.MaxBytes {
		return nil, xerrors.Newf("SSM parameter %s exceeds %d bytes", src.Key, opts.MaxBytes)
	}
	return []byte(v), nil
}

// signatures are stored either raw (DER/ASN.1) or base64 text
func decodeSignature(b []byte) []byte {
	trimmed := bytes.TrimSpace(b)
	if dec, err := base64.StdEncoding.DecodeString(string(trimmed)); err == nil && len(dec) > 0 {
		return dec
	}
	return b
}
