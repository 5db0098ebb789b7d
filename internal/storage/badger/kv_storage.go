package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/menulens/internal/interfaces"
)

// ErrEmptyKey is returned when a key is blank after normalization
var ErrEmptyKey = errors.New("key is required")

// KVStorage keeps small session entries, such as the marker of the job being observed.
// Keys are case-insensitive and surrounding whitespace is ignored.
type KVStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewKVStorage creates a KVStorage on db
func NewKVStorage(db *BadgerDB, logger arbor.ILogger) interfaces.KeyValueStorage {
	return &KVStorage{
		db:     db,
		logger: logger,
	}
}

func normalizeKey(key string) (string, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return "", ErrEmptyKey
	}
	return k, nil
}

// Get returns the value stored under key, or interfaces.ErrKeyNotFound
func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	k, err := normalizeKey(key)
	if err != nil {
		return "", err
	}

	var pair interfaces.KeyValuePair
	switch err := s.db.Store().Get(k, &pair); {
	case errors.Is(err, badgerhold.ErrNotFound):
		return "", interfaces.ErrKeyNotFound
	case err != nil:
		return "", fmt.Errorf("failed to get %s: %w", k, err)
	}
	return pair.Value, nil
}

// Set stores value under key. The read of the previous entry and the write share one
// transaction, so CreatedAt survives concurrent writers.
func (s *KVStorage) Set(ctx context.Context, key string, value string, description string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}

	store := s.db.Store()
	err = store.Badger().Update(func(tx *badgerdb.Txn) error {
		now := time.Now()
		pair := interfaces.KeyValuePair{
			Key:         k,
			Value:       value,
			Description: description,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		var existing interfaces.KeyValuePair
		switch err := store.TxGet(tx, k, &existing); {
		case err == nil:
			pair.CreatedAt = existing.CreatedAt
		case !errors.Is(err, badgerhold.ErrNotFound):
			return err
		}
		return store.TxUpsert(tx, k, &pair)
	})
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", k, err)
	}

	s.logger.Debug().Str("key", k).Msg("Key stored")
	return nil
}

// Delete removes key, or returns interfaces.ErrKeyNotFound
func (s *KVStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}

	switch err := s.db.Store().Delete(k, &interfaces.KeyValuePair{}); {
	case errors.Is(err, badgerhold.ErrNotFound):
		return interfaces.ErrKeyNotFound
	case err != nil:
		return fmt.Errorf("failed to delete %s: %w", k, err)
	}
	return nil
}

// List returns every entry, most recently updated first
func (s *KVStorage) List(ctx context.Context) ([]interfaces.KeyValuePair, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var pairs []interfaces.KeyValuePair
	query := badgerhold.Where("Key").Ne("").SortBy("UpdatedAt").Reverse()
	if err := s.db.Store().Find(&pairs, query); err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return pairs, nil
}
