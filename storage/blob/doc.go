// Package blob implements storage.BlobStore on the local filesystem and on
// S3-compatible object stores through minio-go.
//
// Keys are a fresh UUID plus the original file extension. Callers treat them as
// opaque strings.
package blob
