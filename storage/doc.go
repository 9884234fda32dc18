// Package storage defines the ObjectStore and MetadataStore contracts used
// by the image cache refresher and the HTTP gateway.
//
// Implementations:
//   - objectstore.Store: S3-compatible object storage through minio-go
//   - metadata.Store: GORM on SQLite
//
// The backing stores of the image cache itself live in cachestore.
package storage
