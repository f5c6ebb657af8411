package store

import (
	"context"
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var imagesBucket = []byte("images")

// ImageCache fronts a Store's image bytes with a local bbolt database:
// a single bucket keyed by the same ImageHash the backing store uses,
// consulted before falling through to Postgres.
type ImageCache struct {
	db      *bolt.DB
	backing Store
}

// NewImageCache opens (or creates) the bbolt file at path and wraps
// backing with a read-through cache.
func NewImageCache(path string, backing Store) (*ImageCache, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open image cache: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(imagesBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init image cache bucket: %w", err)
	}
	return &ImageCache{db: db, backing: backing}, nil
}

// FetchImage returns data for hash from the local cache if present,
// otherwise fetches from the backing store and populates the cache.
func (c *ImageCache) FetchImage(ctx context.Context, hash int64) ([]byte, error) {
	key := hashKey(hash)

	var cached []byte
	if err := c.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(imagesBucket).Get(key); v != nil {
			cached = append([]byte{}, v...)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("store: image cache read: %w", err)
	}
	if cached != nil {
		return cached, nil
	}

	data, err := c.backing.FetchImage(ctx, hash)
	if err != nil {
		return nil, err
	}

	if err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(imagesBucket).Put(key, data)
	}); err != nil {
		return nil, fmt.Errorf("store: image cache write: %w", err)
	}
	return data, nil
}

// Put inserts data directly into the local cache, used right after
// InsertImageMessage writes the same bytes to the backing store so a
// freshly-sent image doesn't round-trip through Postgres on first read.
func (c *ImageCache) Put(hash int64, data []byte) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(imagesBucket).Put(hashKey(hash), data)
	})
}

// Close releases the bbolt file.
func (c *ImageCache) Close() error {
	return c.db.Close()
}

func hashKey(hash int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(hash))
	return b[:]
}
