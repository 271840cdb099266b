package kvstore

import (
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

var kvBucket = []byte("kv")

// Compile-time interface guard.
var _ Store = (*BoltStore)(nil)

// BoltStore persists scalars in a bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database file at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(kvBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create kv bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(kvBucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (s *BoltStore) put(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Put([]byte(key), value)
	})
}

// GetString returns the string stored at key.
func (s *BoltStore) GetString(key string) (string, error) {
	v, err := s.get(key)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// SetString stores a string at key.
func (s *BoltStore) SetString(key, value string) error {
	return s.put(key, []byte(value))
}

// GetBool returns the boolean stored at key.
func (s *BoltStore) GetBool(key string) (bool, error) {
	v, err := s.get(key)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(string(v))
	if err != nil {
		return false, fmt.Errorf("value at %s is not a bool: %w", key, err)
	}
	return b, nil
}

// SetBool stores a boolean at key.
func (s *BoltStore) SetBool(key string, value bool) error {
	return s.put(key, []byte(strconv.FormatBool(value)))
}

// GetInt returns the integer stored at key.
func (s *BoltStore) GetInt(key string) (int, error) {
	v, err := s.get(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(v))
	if err != nil {
		return 0, fmt.Errorf("value at %s is not an int: %w", key, err)
	}
	return n, nil
}

// SetInt stores an integer at key.
func (s *BoltStore) SetInt(key string, value int) error {
	return s.put(key, []byte(strconv.Itoa(value)))
}

// AddInt adjusts the integer at key by delta, clamped to [min, max],
// inside a single write transaction.
func (s *BoltStore) AddInt(key string, delta, min, max int) (int, error) {
	var out int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(kvBucket)
		cur := 0
		if v := b.Get([]byte(key)); v != nil {
			n, err := strconv.Atoi(string(v))
			if err != nil {
				return fmt.Errorf("value at %s is not an int: %w", key, err)
			}
			cur = n
		}
		cur += delta
		if cur < min {
			cur = min
		}
		if cur > max {
			cur = max
		}
		out = cur
		return b.Put([]byte(key), []byte(strconv.Itoa(cur)))
	})
	return out, err
}

// Exists reports whether key has been written.
func (s *BoltStore) Exists(key string) (bool, error) {
	_, err := s.get(key)
	if err == nil {
		return true, nil
	}
	if err == ErrNotFound {
		return false, nil
	}
	return false, err
}

// Delete removes key. Deleting a missing key is a no-op.
func (s *BoltStore) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Delete([]byte(key))
	})
}
