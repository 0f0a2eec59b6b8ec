// Package engagement implements the per-identity engagement database:
// a record of which external items (posts, messages, threads) the
// identity has already engaged with, so connectors can avoid
// double-replying across restarts. Backed by bbolt like the audit log.
package engagement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/overblick/agentcore/pkg/contracts"
	"github.com/overblick/agentcore/pkg/models"
	bolt "go.etcd.io/bbolt"
)

var (
	engagementsBucket = []byte("engagements")
	itemIndexBucket   = []byte("item_index")
)

// DB is the concrete implementation of contracts.EngagementStore.
type DB struct {
	db       *bolt.DB
	identity string
}

var _ contracts.EngagementStore = (*DB)(nil)

// Open creates or opens the bbolt-backed engagement database at path.
func Open(path, identity string) (*DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening engagement db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(engagementsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(itemIndexBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing engagement db: %w", err)
	}
	return &DB{db: db, identity: identity}, nil
}

// Record stores one engagement, stamping its timestamp and ID, and
// indexes it by (platform, item) for HasEngaged lookups. Recording the
// same item twice is not an error; the index keeps the newest record.
func (d *DB) Record(_ context.Context, e models.Engagement) (string, error) {
	e.Identity = d.identity
	e.Timestamp = time.Now().UTC()
	e.ID = uuid.NewString()

	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshaling engagement: %w", err)
	}

	err = d.db.Update(func(tx *bolt.Tx) error {
		key := []byte(fmt.Sprintf("%020d_%s", e.Timestamp.UnixNano(), e.ID))
		if err := tx.Bucket(engagementsBucket).Put(key, data); err != nil {
			return err
		}
		return tx.Bucket(itemIndexBucket).Put(itemKey(e.Platform, e.ItemID), key)
	})
	if err != nil {
		return "", fmt.Errorf("writing engagement: %w", err)
	}
	return e.ID, nil
}

// HasEngaged reports whether an engagement for (platform, itemID) was
// ever recorded.
func (d *DB) HasEngaged(_ context.Context, platform, itemID string) (bool, error) {
	var found bool
	err := d.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(itemIndexBucket).Get(itemKey(platform, itemID)) != nil
		return nil
	})
	return found, err
}

// Recent returns up to limit engagements, newest first.
func (d *DB) Recent(_ context.Context, limit int) ([]models.Engagement, error) {
	if limit <= 0 {
		return nil, nil
	}
	var out []models.Engagement
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(engagementsBucket).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var e models.Engagement
			if err := json.Unmarshal(v, &e); err != nil {
				continue // skip malformed records rather than fail the read
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// Count returns the total number of recorded engagements.
func (d *DB) Count(_ context.Context) (int, error) {
	var n int
	err := d.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(engagementsBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// Close flushes and releases the underlying database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

func itemKey(platform, itemID string) []byte {
	return []byte(platform + "\x00" + itemID)
}
