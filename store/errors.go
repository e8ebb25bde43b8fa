package store

import (
	"errors"
	"fmt"
)

// ErrKeyNotFound is returned when a key is not present in the store.
type ErrKeyNotFound struct {
	Key string
}

func (e *ErrKeyNotFound) Error() string {
	return fmt.Sprintf("key not found: %s", e.Key)
}

// ErrInternal wraps a storage-engine failure.
type ErrInternal struct {
	Err error
}

func (e *ErrInternal) Error() string {
	return fmt.Sprintf("internal error: %v", e.Err)
}

func (e *ErrInternal) Unwrap() error {
	return e.Err
}

// IsErrKeyNotFound reports whether err is an ErrKeyNotFound.
func IsErrKeyNotFound(err error) bool {
	var nf *ErrKeyNotFound
	return errors.As(err, &nf)
}
