// Package testutil provides test doubles shared by photoshow package tests:
// a call-counting cache store, a store that always fails, in-memory object
// and metadata stores, and sample records.
package testutil
