// Package imagecache serves the cached image list to the rest of the
// application.
//
// Manager puts a short-lived memory layer in front of a cachestore.Store
// and never fails a read: it falls back from memory to the store, then to
// the last values it saw, then to an empty default. Writes go to the store
// first and always invalidate the memory layer.
//
// Refresher keeps the cache in line with the object store and metadata
// database. It runs on a ticker, collapses concurrent triggers and shares
// one upstream call between readers that find the cache cold.
package imagecache
