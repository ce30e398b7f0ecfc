// Package bundle fetches manifests published as content-addressed tar.gz
// bundles in S3.
//
// An SSM parameter holds the SHA-256 of the current release. The bundle
// lives at s3://{bucket}/{prefix}/{hash}.tar.gz and may carry a detached
// signature at the same key plus ".sig", verified against a KMS public key.
// Bundles are extracted to memory and turned into a manifest.Manifest; the
// Watcher re-applies the manifest whenever the pointer moves.
package bundle
