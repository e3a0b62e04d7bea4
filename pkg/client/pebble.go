package client

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleStorage persists credentials in an embedded pebble database
type PebbleStorage struct {
	db *pebble.DB
}

// OpenPebbleStorage opens or creates the database in dir. opts may be nil.
func OpenPebbleStorage(dir string, opts *pebble.Options) (*PebbleStorage, error) {
	if dir == "" {
		return nil, errors.New("pebble storage: dir is required")
	}
	if opts == nil {
		opts = &pebble.Options{}
	}

	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	return &PebbleStorage{db: db}, nil
}

func (s *PebbleStorage) Get(key string) (string, bool, error) {
	value, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	defer closer.Close()

	// value is only valid until closer.Close
	return string(value), true, nil
}

func (s *PebbleStorage) Set(key, value string) error {
	if err := s.db.Set([]byte(key), []byte(value), pebble.Sync); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete removes every key in one atomic batch
func (s *PebbleStorage) Delete(keys ...string) error {
	b := s.db.NewBatch()
	defer b.Close()

	for _, k := range keys {
		if err := b.Delete([]byte(k), nil); err != nil {
			return fmt.Errorf("failed to delete %s: %w", k, err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

func (s *PebbleStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
