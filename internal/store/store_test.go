package store

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
)

func TestImageHashDeterministicAndDistinct(t *testing.T) {
	a := ImageHash([]byte("picture one"))
	b := ImageHash([]byte("picture one"))
	c := ImageHash([]byte("picture two"))

	if a != b {
		t.Errorf("ImageHash not deterministic: %d != %d", a, b)
	}
	if a == c {
		t.Errorf("distinct images hashed to the same key: %d", a)
	}
}

func TestClampCount(t *testing.T) {
	cases := []struct {
		in, want int64
	}{
		{-5, 0},
		{0, 0},
		{20, 20},
		{64, 64},
		{65, 64},
		{1000, 64},
	}
	for _, tc := range cases {
		if got := ClampCount(tc.in); got != tc.want {
			t.Errorf("ClampCount(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

// fakeStore is a minimal in-memory Store used only to exercise
// ImageCache's read-through behavior without a Postgres instance.
type fakeStore struct {
	images  map[int64][]byte
	fetches int
}

func newFakeStore() *fakeStore { return &fakeStore{images: map[int64][]byte{}} }

func (f *fakeStore) GetUser(context.Context, string) (Account, error) { return Account{}, ErrNotFound }
func (f *fakeStore) InsertUser(context.Context, string, [32]byte, [64]byte) (Account, error) {
	return Account{}, nil
}
func (f *fakeStore) InsertMessage(context.Context, Message) error { return nil }
func (f *fakeStore) InsertImageMessage(context.Context, Message, []byte) error { return nil }
func (f *fakeStore) FetchMessages(context.Context, int64, int64) ([]Message, error) { return nil, nil }
func (f *fakeStore) FetchImage(ctx context.Context, hash int64) ([]byte, error) {
	f.fetches++
	data, ok := f.images[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}
func (f *fakeStore) SetBanned(context.Context, string, bool) error      { return nil }
func (f *fakeStore) SetWhitelisted(context.Context, string, bool) error { return nil }
func (f *fakeStore) Close() error                                      { return nil }

func TestImageCacheReadThrough(t *testing.T) {
	ctx := context.Background()
	backing := newFakeStore()
	data := []byte{1, 2, 3, 4}
	hash := ImageHash(data)
	backing.images[hash] = data

	cache, err := NewImageCache(filepath.Join(t.TempDir(), "images.db"), backing)
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	got, err := cache.FetchImage(ctx, hash)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("got %v, want %v", got, data)
	}
	if backing.fetches != 1 {
		t.Fatalf("expected 1 backing fetch, got %d", backing.fetches)
	}

	// Second fetch must be served from the cache, not the backing store.
	got2, err := cache.FetchImage(ctx, hash)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got2, data) {
		t.Fatalf("got %v, want %v", got2, data)
	}
	if backing.fetches != 1 {
		t.Fatalf("expected cache hit to avoid a second backing fetch, got %d fetches", backing.fetches)
	}
}

func TestImageCachePutPopulatesWithoutBackingFetch(t *testing.T) {
	ctx := context.Background()
	backing := newFakeStore()
	data := []byte{9, 9, 9}
	hash := ImageHash(data)

	cache, err := NewImageCache(filepath.Join(t.TempDir(), "images.db"), backing)
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	if err := cache.Put(hash, data); err != nil {
		t.Fatal(err)
	}

	got, err := cache.FetchImage(ctx, hash)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("got %v, want %v", got, data)
	}
	if backing.fetches != 0 {
		t.Fatalf("expected no backing fetch after Put, got %d", backing.fetches)
	}
}
