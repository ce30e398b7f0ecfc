// Package cryptoutil verifies manifest bundles: SHA-256 digests compared in
// constant time, and detached signatures checked against a KMS public key
// (ECDSA P-256/P-384, RSA-PSS with optional PKCS1v15 fallback).
package cryptoutil
