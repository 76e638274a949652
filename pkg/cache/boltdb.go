package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/proxyworld/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// DBFileName is the cache database file inside the data directory
const DBFileName = "cache.db"

var (
	// Bucket names
	bucketProxies = []byte("proxies")
	bucketRules   = []byte("rules")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the cache database in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, DBFileName)

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketProxies, bucketRules} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) put(bucket []byte, id uuid.UUID, v any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(id.String()), data)
	})
}

func (s *BoltStore) get(bucket []byte, id uuid.UUID, v any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(id.String()))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) delete(bucket []byte, id uuid.UUID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(id.String()))
	})
}

// Node subscription operations
func (s *BoltStore) PutProxies(id uuid.UUID, entry *ProxyEntry) error {
	return s.put(bucketProxies, id, entry)
}

func (s *BoltStore) GetProxies(id uuid.UUID) (*ProxyEntry, error) {
	var entry ProxyEntry
	if err := s.get(bucketProxies, id, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *BoltStore) DeleteProxies(id uuid.UUID) error {
	return s.delete(bucketProxies, id)
}

// Rule subscription operations
func (s *BoltStore) PutRules(id uuid.UUID, entry *RuleEntry) error {
	return s.put(bucketRules, id, entry)
}

func (s *BoltStore) GetRules(id uuid.UUID) (*RuleEntry, error) {
	var entry RuleEntry
	if err := s.get(bucketRules, id, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *BoltStore) DeleteRules(id uuid.UUID) error {
	return s.delete(bucketRules, id)
}

// Snapshot loads every entry. Entries that fail to decode are skipped so one
// corrupt value never hides the rest of the cache.
func (s *BoltStore) Snapshot() (types.ProxyCache, types.RuleCache, error) {
	proxies := types.ProxyCache{}
	rules := types.RuleCache{}
	err := s.db.View(func(tx *bolt.Tx) error {
		err := tx.Bucket(bucketProxies).ForEach(func(k, v []byte) error {
			id, err := uuid.ParseBytes(k)
			if err != nil {
				return nil
			}
			var entry ProxyEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return nil
			}
			proxies[id] = entry.Nodes
			return nil
		})
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRules).ForEach(func(k, v []byte) error {
			id, err := uuid.ParseBytes(k)
			if err != nil {
				return nil
			}
			var entry RuleEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return nil
			}
			rules[id] = entry.Provider
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return proxies, rules, nil
}

// Prune deletes entries of subscriptions no longer in the spec
func (s *BoltStore) Prune(keep map[uuid.UUID]bool) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketProxies, bucketRules} {
			b := tx.Bucket(name)
			var stale [][]byte
			err := b.ForEach(func(k, _ []byte) error {
				id, err := uuid.ParseBytes(k)
				if err != nil || !keep[id] {
					stale = append(stale, append([]byte(nil), k...))
				}
				return nil
			})
			if err != nil {
				return err
			}
			for _, k := range stale {
				if err := b.Delete(k); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	return removed, err
}
