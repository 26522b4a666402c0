package cachestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/lazypower/foresight/internal/models"
)

// Badger is a fast tier backed by an embedded BadgerDB.
type Badger struct {
	db     *badger.DB
	prefix string
	owned  bool
}

// OpenBadger opens a Badger cache at dir. An empty dir keeps it in memory.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	return &Badger{db: db, prefix: DefaultKeyPrefix, owned: true}, nil
}

// NewBadger wraps an already-open database. Close leaves it open.
func NewBadger(db *badger.DB, prefix string) *Badger {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Badger{db: db, prefix: prefix}
}

func (b *Badger) key(id string) []byte {
	return []byte(b.prefix + id)
}

// Get returns the cached item, or nil if absent or expired.
func (b *Badger) Get(ctx context.Context, id string) (*models.Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var c *models.Content
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var derr error
			c, derr = decode(val)
			return derr
		})
	})
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", id, err)
	}
	return c, nil
}

// SetWithTTL writes c, replacing any existing entry and its expiry.
func (b *Badger) SetWithTTL(ctx context.Context, c *models.Content, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(c)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(b.key(c.ID), data)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// Delete removes id. Deleting a missing key is not an error.
func (b *Badger) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(b.key(id))
	})
}

// Close closes the database if OpenBadger created it.
func (b *Badger) Close() error {
	if !b.owned {
		return nil
	}
	return b.db.Close()
}
