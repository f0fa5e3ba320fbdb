package cache

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pbaille/pagesync/internal/domain"
	"go.etcd.io/bbolt"
)

// Bolt is a file-backed Backend. Each namespace is a bucket and a pair
// write is a single transaction.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt opens (or creates) the cache database at path
func OpenBolt(path string) (*Bolt, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cache path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{ContentNamespace, UpdatedAtNamespace} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Bolt{db: db}, nil
}

func (b *Bolt) Load(slug string) (domain.CacheEntry, bool, error) {
	var (
		entry domain.CacheEntry
		ok    bool
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		content, stamps, err := buckets(tx)
		if err != nil {
			return err
		}
		raw := content.Get([]byte(slug))
		if raw == nil {
			return nil
		}
		ok = true
		// bbolt values are only valid inside the transaction.
		entry = domain.CacheEntry{
			Slug:         slug,
			Content:      string(raw),
			VersionStamp: domain.VersionStamp(string(stamps.Get([]byte(slug)))),
		}
		return nil
	})
	if err != nil {
		return domain.CacheEntry{}, false, err
	}
	return entry, ok, nil
}

func (b *Bolt) Save(entry domain.CacheEntry) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		content, stamps, err := buckets(tx)
		if err != nil {
			return err
		}
		key := []byte(entry.Slug)
		if err := content.Put(key, []byte(entry.Content)); err != nil {
			return fmt.Errorf("put content: %w", err)
		}
		if entry.VersionStamp == "" {
			return stamps.Delete(key)
		}
		if err := stamps.Put(key, []byte(entry.VersionStamp)); err != nil {
			return fmt.Errorf("put stamp: %w", err)
		}
		return nil
	})
}

func (b *Bolt) SaveStamp(slug string, stamp domain.VersionStamp) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		content, stamps, err := buckets(tx)
		if err != nil {
			return err
		}
		key := []byte(slug)
		if content.Get(key) == nil {
			return nil
		}
		return stamps.Put(key, []byte(stamp))
	})
}

func (b *Bolt) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func buckets(tx *bbolt.Tx) (content, stamps *bbolt.Bucket, err error) {
	content = tx.Bucket([]byte(ContentNamespace))
	stamps = tx.Bucket([]byte(UpdatedAtNamespace))
	if content == nil || stamps == nil {
		return nil, nil, fmt.Errorf("cache buckets are missing")
	}
	return content, stamps, nil
}
