// Package audit implements the append-only audit log backing one
// identity's lifecycle, security, and I/O event trail. Entries are
// persisted in a bbolt database so writes survive abrupt process
// termination up to the last fsync, and close() flushes and releases the
// underlying file handle.
package audit

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

var entriesBucket = []byte("entries")

// Log is the concrete implementation of contracts.AuditLog.
type Log struct {
	db       *bolt.DB
	identity string
}

var _ contracts.AuditLog = (*Log)(nil)

// Open creates or opens the bbolt-backed audit database at path.
func Open(path, identity string) (*Log, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening audit db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing audit db: %w", err)
	}
	return &Log{db: db, identity: identity}, nil
}

// Log appends entry, stamping its timestamp and ID at enqueue, and
// returns the generated ID.
func (l *Log) Log(_ context.Context, entry models.AuditEntry) (string, error) {
	entry.Identity = l.identity
	entry.Timestamp = time.Now().UTC()
	entry.ID = uuid.NewString()

	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshaling audit entry: %w", err)
	}

	err = l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		key := []byte(fmt.Sprintf("%020d_%s", entry.Timestamp.UnixNano(), entry.ID))
		return b.Put(key, data)
	})
	if err != nil {
		return "", fmt.Errorf("writing audit entry: %w", err)
	}
	return entry.ID, nil
}

// Query returns every entry within [from, to] whose Category matches (an
// empty category matches all). Intended for out-of-process inspection
// tools, not the hot write path.
func (l *Log) Query(from, to time.Time, category string) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		return b.ForEach(func(_, v []byte) error {
			var entry models.AuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return nil // skip malformed entries rather than fail the whole query
			}
			if entry.Timestamp.Before(from) || entry.Timestamp.After(to) {
				return nil
			}
			if category != "" && entry.Category != category {
				return nil
			}
			out = append(out, entry)
			return nil
		})
	})
	return out, err
}

// Close flushes and releases the underlying database handle.
func (l *Log) Close() error {
	return l.db.Close()
}
