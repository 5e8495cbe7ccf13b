// Package cryptoutil verifies detached signatures over checks files with a
// public key held in AWS KMS.
//
// The key is fetched once with GetPublicKey and verification happens
// locally. A signature file is either the raw signature bytes (DER for
// ECDSA) or a cosign sign-blob bundle carrying a messageSignature.
//
// Supported keys:
//   - ECDSA P-256 (SHA-256) and P-384 (SHA-384)
//   - RSA with PSS over SHA-256, PKCS1v15 only when AllowPKCS1v15 is set
package cryptoutil
