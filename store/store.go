// Package store provides the persistent key-value store the core relies
// on for string blobs that must survive a process restart: the cached
// moderation term list and the rolling duplicate-fingerprint history.
// The Store interface is the contract; the badger-backed implementation
// is the default, and Memory backs tests and host shells without disk.
package store

// Store holds string blobs by key. Get returns *ErrKeyNotFound for
// absent keys; Delete of an absent key is not an error.
type Store interface {
	Get(key string) (string, error)
	Set(key string, value string) error
	Delete(key string) error

	Close() error
}
