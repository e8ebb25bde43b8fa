package store

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"
)

type Config struct {
	Logger    *slog.Logger
	Directory string

	// BadgerLogLevel maps onto badger's internal logger. Defaults to
	// warnings only so badger's chatty INFO output stays out of logs.
	BadgerLogLevel slog.Level
}

type badgerStore struct {
	logger *slog.Logger
	db     *badger.DB
}

var _ Store = &badgerStore{}

// New opens (or creates) a badger-backed store under
// config.Directory/blobs.
func New(config Config) (Store, error) {
	blobsDir := filepath.Join(config.Directory, "blobs")
	if err := os.MkdirAll(blobsDir, 0755); err != nil {
		return nil, &ErrInternal{Err: err}
	}

	badgerLogLevel := badger.WARNING
	switch config.BadgerLogLevel {
	case slog.LevelDebug:
		badgerLogLevel = badger.DEBUG
	case slog.LevelInfo:
		badgerLogLevel = badger.INFO
	case slog.LevelWarn:
		badgerLogLevel = badger.WARNING
	case slog.LevelError:
		badgerLogLevel = badger.ERROR
	}

	logger := config.Logger.WithGroup("store")

	dbOpts := badger.DefaultOptions(blobsDir).
		WithLogger(newBadgerLogger(logger)).
		WithLoggingLevel(badgerLogLevel).
		WithMemTableSize(16 << 20) // 16MB MemTableSize

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, &ErrInternal{Err: err}
	}

	return &badgerStore{
		logger: logger,
		db:     db,
	}, nil
}

func (s *badgerStore) Get(key string) (string, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &ErrKeyNotFound{Key: key}
			}
			return &ErrInternal{Err: err}
		}
		value, err = item.ValueCopy(nil)
		if err != nil {
			return &ErrInternal{Err: err}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return string(value), nil
}

func (s *badgerStore) Set(key string, value string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(key), []byte(value)); err != nil {
			return &ErrInternal{Err: err}
		}
		return nil
	})
}

func (s *badgerStore) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(key)); err != nil {
			return &ErrInternal{Err: err}
		}
		return nil
	})
}

func (s *badgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		s.logger.Error("error closing store db", "error", err)
		return &ErrInternal{Err: err}
	}
	return nil
}
