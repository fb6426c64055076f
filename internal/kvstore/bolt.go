package kvstore

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const slotsBucket = "slots"

// BoltBackend implements the Backend interface using BoltDB
type BoltBackend struct {
	db *bbolt.DB
}

// NewBoltBackend opens (or creates) a BoltDB file at path
func NewBoltBackend(path string) (*BoltBackend, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(slotsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltBackend{db: db}, nil
}

// Load retrieves the value stored under key
func (b *BoltBackend) Load(key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(slotsBucket)).Get([]byte(key))
		if data != nil {
			// bolt memory is only valid inside the transaction
			value = append([]byte(nil), data...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, value != nil, nil
}

// Save stores value under key
func (b *BoltBackend) Save(key string, value []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(slotsBucket)).Put([]byte(key), value)
	})
}

// SaveAll stores every value in a single transaction
func (b *BoltBackend) SaveAll(values map[string][]byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(slotsBucket))
		for key, value := range values {
			if err := bucket.Put([]byte(key), value); err != nil {
				return fmt.Errorf("putting %s: %w", key, err)
			}
		}
		return nil
	})
}

// Close closes the database
func (b *BoltBackend) Close() error {
	return b.db.Close()
}
