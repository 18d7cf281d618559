package kv

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const boltFile = "timedline.db"

var docsBucket = []byte("documents")

// Bolt implements Store on a single bbolt bucket.
type Bolt struct {
	db    *bolt.DB
	quota int64
}

// OpenBolt opens or creates the database file inside dir.
func OpenBolt(dir string, quota int64) (*Bolt, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("kv: mkdir: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dir, boltFile), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("kv: open bolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(docsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kv: create bucket: %w", err)
	}
	return &Bolt{db: db, quota: quota}, nil
}

// Get returns a copy of the stored value or nil when absent.
func (b *Bolt) Get(key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(docsBucket).Get([]byte(key))
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kv: get %s: %w", key, err)
	}
	return out, nil
}

// Set stores value under key in one transaction.
func (b *Bolt) Set(key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("kv: empty key")
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(docsBucket)
		if b.quota > 0 {
			var used int64
			_ = bk.ForEach(func(_, v []byte) error {
				used += int64(len(v))
				return nil
			})
			if err := quotaCheck(b.quota, used, len(bk.Get([]byte(key))), len(value)); err != nil {
				return err
			}
		}
		if err := bk.Put([]byte(key), value); err != nil {
			return fmt.Errorf("kv: put %s: %w", key, err)
		}
		return nil
	})
}

// Delete removes key.
func (b *Bolt) Delete(key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(docsBucket).Delete([]byte(key))
	})
}

// Close closes the database.
func (b *Bolt) Close() error {
	return b.db.Close()
}
