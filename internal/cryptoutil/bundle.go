package cryptoutil

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

// Bundle is the subset of a cosign sign-blob bundle used here.
type Bundle struct {
	MediaType            string `json:"mediaType"`
	VerificationMaterial struct {
		PublicKey struct {
			Hint string `json:"hint"`
		} `json:"publicKey"`
	} `json:"verificationMaterial"`
	MessageSignature *MessageSignature `json:"messageSignature,omitempty"`
}

type MessageSignature struct {
	MessageDigest struct {
		Algorithm string `json:"algorithm"`
		Digest    string `json:"digest"` // base64 of the raw hash
	} `json:"messageDigest"`
	Signature string `json:"signature"` // base64
}

func ParseBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, xerrors.Wrap(err, "parse signature bundle")
	}
	if b.MessageSignature == nil {
		return nil, xerrors.New("signature bundle has no messageSignature")
	}
	return &b, nil
}

// verifyBundle checks the bundle signature over message and that the digest
// recorded in the bundle matches message.
func (v *KMSVerifier) verifyBundle(ctx context.Context, message, bundleJSON []byte) error {
	b, err := ParseBundle(bundleJSON)
	if err != nil {
		return err
	}
	ms := b.MessageSignature

	sig, err := base64.StdEncoding.DecodeString(ms.Signature)
	if err != nil {
		return xerrors.Wrap(err, "decode bundle signature")
	}
	if err := v.verifyRaw(ctx, message, sig); err != nil {
		return err
	}

	if ms.MessageDigest.Digest == "" {
		return xerrors.New("signature bundle has an empty messageDigest")
	}
	want, err := base64.StdEncoding.DecodeString(ms.MessageDigest.Digest)
	if err != nil {
		return xerrors.Wrap(err, "decode bundle digest")
	}
	got, err := digest(ms.MessageDigest.Algorithm, message)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(want, got) != 1 {
		return xerrors.New("signature bundle digest does not match checks file")
	}
	return nil
}

func digest(algorithm string, data []byte) ([]byte, error) {
	switch algorithm {
	case "SHA2_256", "SHA_256", "sha256":
		d := sha256.Sum256(data)
		return d[:], nil
	case "SHA2_384", "SHA_384", "sha384":
		d := sha512.Sum384(data)
		return d[:], nil
	default:
		return nil, xerrors.Newf("unsupported bundle digest algorithm %q", algorithm)
	}
}
