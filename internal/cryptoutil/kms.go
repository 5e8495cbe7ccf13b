package cryptoutil

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

// KeyFetcher is the part of the KMS API the verifier needs. *kms.Client satisfies it.
type KeyFetcher interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

// KMSVerifier checks signatures made by one KMS asymmetric signing key.
type KMSVerifier struct {
	client KeyFetcher
	keyARN string

	// AllowPKCS1v15 accepts RSA PKCS1v15 signatures when PSS fails.
	AllowPKCS1v15 bool

	mu     sync.RWMutex
	pubKey crypto.PublicKey
}

func NewKMSVerifier(client KeyFetcher, keyARN string) *KMSVerifier {
	return &KMSVerifier{client: client, keyARN: keyARN}
}

// KeyARN is the key this verifier trusts.
func (v *KMSVerifier) KeyARN() string { return v.keyARN }

// PublicKey returns the key, fetching it from KMS on first use.
func (v *KMSVerifier) PublicKey(ctx context.Context) (crypto.PublicKey, error) {
	v.mu.RLock()
	pub := v.pubKey
	v.mu.RUnlock()
	if pub != nil {
		return pub, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pubKey != nil {
		return v.pubKey, nil
	}
	if v.client == nil {
		return nil, xerrors.New("kms client is not configured")
	}

	out, err := v.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(v.keyARN)})
	if err != nil {
		return nil, xerrors.Wrapf(err, "kms get public key %s", v.keyARN)
	}
	if out.KeyUsage != kmstypes.KeyUsageTypeSignVerify {
		return nil, xerrors.Newf("kms key %s has KeyUsage=%s, expected SIGN_VERIFY", v.keyARN, out.KeyUsage)
	}
	key, err := x509.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		return nil, xerrors.Wrap(err, "parse kms public key DER")
	}
	v.pubKey = key
	return key, nil
}

// VerifySignature checks signature over message. signature may be raw bytes
// or a cosign blob bundle.
func (v *KMSVerifier) VerifySignature(ctx context.Context, message, signature []byte) error {
	if trimmed := bytes.TrimSpace(signature); len(trimmed) > 0 && trimmed[0] == '{' {
		return v.verifyBundle(ctx, message, trimmed)
	}
	return v.verifyRaw(ctx, message, signature)
}

func (v *KMSVerifier) verifyRaw(ctx context.Context, message, signature []byte) error {
	pub, err := v.PublicKey(ctx)
	if err != nil {
		return err
	}
	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		return verifyECDSA(key, message, signature)
	case *rsa.PublicKey:
		return verifyRSA(key, message, signature, v.AllowPKCS1v15)
	default:
		return xerrors.Newf("unsupported public key type %T", pub)
	}
}

func verifyECDSA(key *ecdsa.PublicKey, message, signature []byte) error {
	var digest []byte
	switch key.Curve {
	case elliptic.P256():
		d := sha256.Sum256(message)
		digest = d[:]
	case elliptic.P384():
		d := sha512.Sum384(message)
		digest = d[:]
	default:
		return xerrors.Newf("unsupported ECDSA curve %s", key.Curve.Params().Name)
	}
	if !ecdsa.VerifyASN1(key, digest, signature) {
		return xerrors.Newf("ECDSA %s signature does not verify", key.Curve.Params().Name)
	}
	return nil
}

func verifyRSA(key *rsa.PublicKey, message, signature []byte, allowPKCS1v15 bool) error {
	digest := sha256.Sum256(message)
	err := rsa.VerifyPSS(key, crypto.SHA256, digest[:], signature, nil)
	if err == nil {
		return nil
	}
	if !allowPKCS1v15 {
		return xerrors.Wrap(err, "RSA-PSS signature does not verify")
	}
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signature); err != nil {
		return xerrors.Wrap(err, "RSA signature does not verify as PSS or PKCS1v15")
	}
	return nil
}
