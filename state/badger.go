package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps migration-state records in a local BadgerDB, for
// development and offline use. The revision check and write happen inside
// one transaction, which gives the same conditional-write guarantee as the
// DynamoDB store.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = &BadgerStore{}

// BadgerStoreOptions configures the BadgerDB store.
type BadgerStoreOptions struct {
	// Path to the database directory. If empty, uses in-memory mode.
	Path string
	// InMemory forces in-memory mode even if Path is set.
	InMemory bool
	// Logger for BadgerDB. If nil, logging is disabled.
	Logger badger.Logger
}

func NewBadgerStore(opts BadgerStoreOptions) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.Path)
	if opts.Path == "" || opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func badgerKey(table string) []byte {
	return []byte("migration#" + table)
}

func (s *BadgerStore) Get(ctx context.Context, table string) (Record, bool, error) {
	var rec Record
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(table))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("get migration state: %w", err)
	}
	return rec, found, nil
}

func (s *BadgerStore) Put(ctx context.Context, rec Record, expectedRevision int64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		var stored int64
		item, err := txn.Get(badgerKey(rec.Table))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			var existing Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); err != nil {
				return err
			}
			stored = existing.Revision
		}
		if stored != expectedRevision {
			return ErrRevisionMismatch
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(badgerKey(rec.Table), data)
	})
	if errors.Is(err, ErrRevisionMismatch) {
		return ErrRevisionMismatch
	}
	if err != nil {
		return fmt.Errorf("put migration state: %w", err)
	}
	return nil
}

func (s *BadgerStore) Delete(ctx context.Context, table string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(table))
	})
	if err != nil {
		return fmt.Errorf("delete migration state: %w", err)
	}
	return nil
}
