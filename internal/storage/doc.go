// Package storage provides the stores the materializer writes through.
// Names are slash-separated; each store maps them onto its own medium.
//
//   - [Disk]: local filesystem, atomic replace via renameio
//   - [Mem]: in-memory, for dry runs and tests
//   - [S3]: objects in a bucket, paced by a token bucket
package storage
