package identity

import (
	bolt "go.etcd.io/bbolt"
)

var identityBucket = []byte("identity")

// BoltStorage persists identity blobs in a bbolt database file, so a peer
// keeps the same id across restarts.
type BoltStorage struct {
	db *bolt.DB
}

func OpenBoltStorage(path string) (*BoltStorage, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(identityBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStorage{db: db}, nil
}

func (s *BoltStorage) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(identityBucket).Get([]byte(key)); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, value != nil, nil
}

func (s *BoltStorage) Set(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(identityBucket).Put([]byte(key), value)
	})
}

func (s *BoltStorage) Clear(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(identityBucket).Delete([]byte(key))
	})
}

func (s *BoltStorage) Close() error {
	return s.db.Close()
}
