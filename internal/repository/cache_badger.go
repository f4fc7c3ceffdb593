// internal/repository/cache_badger.go
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/unclebandit/voicereach-engine/internal/model"
)

const analyticsPrefix = "analytics:"

// BadgerCache is the embedded alternative to CacheRepository. Entries carry a
// Badger TTL equal to their own so stale rows are collected on their own.
type BadgerCache struct {
	DB *badger.DB
}

func (c *BadgerCache) Get(ctx context.Context, key string) (*model.AnalyticsCacheEntry, error) {
	var e *model.AnalyticsCacheEntry
	err := c.DB.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(analyticsPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			e = &model.AnalyticsCacheEntry{}
			return json.Unmarshal(val, e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("analytics cache get %s: %w", key, err)
	}
	return e, nil
}

func (c *BadgerCache) Set(ctx context.Context, e model.AnalyticsCacheEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.DB.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(analyticsPrefix+e.Key), data)
		if e.TTL > 0 {
			// Badger drops the row at 2x TTL; Fresh decides before that.
			entry = entry.WithTTL(e.TTL * 2)
		}
		return txn.SetEntry(entry)
	})
}

func (c *BadgerCache) Clear(ctx context.Context) error {
	return c.DB.DropPrefix([]byte(analyticsPrefix))
}

var _ AnalyticsCache = (*BadgerCache)(nil)
