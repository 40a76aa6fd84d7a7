// Package metastore holds the in-memory metadata and address book of one
// wallet account and persists them through the reconciliation engine.
//
// Mutations only change memory. Callers persist with Store. A store guards
// its cache with a mutex, but Load and Store for one account must not be
// interleaved from several goroutines.
package metastore
